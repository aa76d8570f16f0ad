// Package pagination implements opaque keyset cursors over the
// (timestamp DESC, id DESC) exception ordering.
package pagination

import (
	"encoding/base64"
	"strconv"
	"strings"
	"time"

	"github.com/vietddude/collector/internal/core/domain"
	"github.com/vietddude/collector/internal/infra/storage"
)

const (
	// DefaultPageSize is used when the caller asks for no size.
	DefaultPageSize = 20

	// MaxPageSize caps a single page.
	MaxPageSize = 100
)

// Encode builds the cursor for a timestamp and id.
func Encode(ts time.Time, id int64) string {
	raw := ts.UTC().Format(time.RFC3339Nano) + ":" + strconv.FormatInt(id, 10)
	return base64.StdEncoding.EncodeToString([]byte(raw))
}

// Create returns the cursor pointing at ex.
func Create(ex *domain.InterfaceException) string {
	return Encode(ex.Timestamp, ex.ID)
}

// Parse decodes a cursor. Malformed input reports ok=false and callers
// start from the beginning of the list.
func Parse(cursor string) (pos storage.Position, ok bool) {
	if cursor == "" {
		return storage.Position{}, false
	}
	raw, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return storage.Position{}, false
	}

	// The timestamp itself contains colons, so split at the last one.
	s := string(raw)
	i := strings.LastIndexByte(s, ':')
	if i <= 0 || i == len(s)-1 {
		return storage.Position{}, false
	}

	ts, err := time.Parse(time.RFC3339Nano, s[:i])
	if err != nil {
		return storage.Position{}, false
	}
	id, err := strconv.ParseInt(s[i+1:], 10, 64)
	if err != nil || id < 0 {
		return storage.Position{}, false
	}
	return storage.Position{Timestamp: ts, ID: id}, true
}

// ClampSize normalises a requested page size.
func ClampSize(n int) int {
	if n <= 0 {
		return DefaultPageSize
	}
	return min(n, MaxPageSize)
}
