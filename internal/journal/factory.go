package journal

import (
	"context"
	"strings"
)

// NewStore creates a postgres-backed journal when configured, otherwise an
// in-memory ring bounded by retention.
func NewStore(ctx context.Context, databaseURL string, retention int) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewInMemoryStore(retention), nil
	}
	return NewPostgresStore(ctx, databaseURL)
}
