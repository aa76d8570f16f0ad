package pagination

import (
	"context"
	"encoding/base64"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/vietddude/collector/internal/core/domain"
	"github.com/vietddude/collector/internal/infra/storage"
	"github.com/vietddude/collector/internal/infra/storage/memory"
)

// Property: Parse(Encode(ts, id)) == (ts, id)
func TestCursorRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("cursor round-trips exactly", prop.ForAll(
		func(sec, nsec, id int64) bool {
			ts := time.Unix(sec, nsec)
			pos, ok := Parse(Encode(ts, id))
			return ok && pos.Timestamp.Equal(ts) && pos.ID == id
		},
		gen.Int64Range(0, 4102444800),
		gen.Int64Range(0, 999999999),
		gen.Int64Range(0, math.MaxInt64),
	))

	properties.Property("arbitrary strings never panic", prop.ForAll(
		func(s string) bool {
			_, _ = Parse(s)
			_, _ = Parse(base64.StdEncoding.EncodeToString([]byte(s)))
			return true
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}

func TestParseMalformed(t *testing.T) {
	enc := func(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }
	tests := []struct {
		name   string
		cursor string
	}{
		{"empty", ""},
		{"not base64", "%%%"},
		{"no separator", enc("2025-08-04T10:30:00Z")},
		{"no id", enc("2025-08-04T10:30:00Z:")},
		{"bad id", enc("2025-08-04T10:30:00Z:abc")},
		{"negative id", enc("2025-08-04T10:30:00Z:-4")},
		{"bad time", enc("yesterday:12")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := Parse(tt.cursor); ok {
				t.Errorf("expected %q to be rejected", tt.cursor)
			}
		})
	}
}

func TestClampSize(t *testing.T) {
	if ClampSize(0) != DefaultPageSize {
		t.Errorf("expected default size")
	}
	if ClampSize(500) != MaxPageSize {
		t.Errorf("expected max size")
	}
	if ClampSize(7) != 7 {
		t.Errorf("expected 7")
	}
}

func TestFetch(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewExceptionRepo(memory.NewMemoryStorage())
	base := time.Date(2025, 8, 4, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		ex := &domain.InterfaceException{
			TransactionID: fmt.Sprintf("TX-%d", i),
			EventID:       fmt.Sprintf("evt-%d", i),
			InterfaceType: domain.InterfaceTypeOrder,
			Status:        domain.StatusNew,
			Timestamp:     base.Add(time.Duration(i) * time.Minute),
		}
		if _, err := repo.Capture(ctx, ex); err != nil {
			t.Fatalf("Capture failed: %v", err)
		}
	}

	first, err := Fetch(ctx, repo, storage.Filter{}, 2, "")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if first.TotalCount != 5 || len(first.Edges) != 2 {
		t.Fatalf("expected 2 of 5, got %d of %d", len(first.Edges), first.TotalCount)
	}
	if first.Edges[0].Node.TransactionID != "TX-4" {
		t.Errorf("expected newest first, got %s", first.Edges[0].Node.TransactionID)
	}
	if !first.PageInfo.HasNextPage || first.PageInfo.HasPreviousPage {
		t.Errorf("unexpected page info %+v", first.PageInfo)
	}

	var seen []string
	after := ""
	for {
		page, err := Fetch(ctx, repo, storage.Filter{}, 2, after)
		if err != nil {
			t.Fatalf("Fetch failed: %v", err)
		}
		for _, e := range page.Edges {
			seen = append(seen, e.Node.TransactionID)
		}
		if !page.PageInfo.HasNextPage {
			break
		}
		after = page.PageInfo.EndCursor
	}
	want := []string{"TX-4", "TX-3", "TX-2", "TX-1", "TX-0"}
	if fmt.Sprint(seen) != fmt.Sprint(want) {
		t.Errorf("expected %v, got %v", want, seen)
	}

	// A corrupt cursor restarts from the top.
	restart, err := Fetch(ctx, repo, storage.Filter{}, 2, "garbage!")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if restart.Edges[0].Node.TransactionID != "TX-4" {
		t.Errorf("expected restart at TX-4, got %s", restart.Edges[0].Node.TransactionID)
	}
}
