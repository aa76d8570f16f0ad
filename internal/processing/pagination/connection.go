package pagination

import (
	"context"
	"fmt"

	"github.com/vietddude/collector/internal/core/domain"
	"github.com/vietddude/collector/internal/infra/storage"
)

// Edge is one record with the cursor that points at it.
type Edge struct {
	Cursor string
	Node   *domain.InterfaceException
}

// PageInfo describes the position of a page in the full listing.
type PageInfo struct {
	HasNextPage     bool
	HasPreviousPage bool
	StartCursor     string
	EndCursor       string
}

// Connection is a cursor-paginated page.
type Connection struct {
	Edges      []Edge
	PageInfo   PageInfo
	TotalCount int
}

// Lister is the slice of the exception store a connection needs.
type Lister interface {
	ListAfter(ctx context.Context, f storage.Filter, pos *storage.Position, limit int) ([]*domain.InterfaceException, error)
	Count(ctx context.Context, f storage.Filter) (int, error)
}

// Fetch returns up to first records after the cursor. An invalid cursor
// starts from the top.
func Fetch(ctx context.Context, l Lister, f storage.Filter, first int, after string) (*Connection, error) {
	first = ClampSize(first)

	var pos *storage.Position
	if p, ok := Parse(after); ok {
		pos = &p
	}

	// One extra row tells us whether another page exists.
	rows, err := l.ListAfter(ctx, f, pos, first+1)
	if err != nil {
		return nil, fmt.Errorf("failed to list exceptions: %w", err)
	}
	total, err := l.Count(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("failed to count exceptions: %w", err)
	}

	conn := &Connection{TotalCount: total}
	if len(rows) > first {
		rows = rows[:first]
		conn.PageInfo.HasNextPage = true
	}
	conn.PageInfo.HasPreviousPage = pos != nil

	conn.Edges = make([]Edge, 0, len(rows))
	for _, ex := range rows {
		conn.Edges = append(conn.Edges, Edge{Cursor: Create(ex), Node: ex})
	}
	if n := len(conn.Edges); n > 0 {
		conn.PageInfo.StartCursor = conn.Edges[0].Cursor
		conn.PageInfo.EndCursor = conn.Edges[n-1].Cursor
	}
	return conn, nil
}
