package store

import (
	"context"
	"strings"
)

// Open returns a Postgres-backed store for dsn, or an in-memory store when
// dsn is empty.
func Open(ctx context.Context, dsn string) (JobStore, func() error, error) {
	if strings.TrimSpace(dsn) == "" {
		return NewMemoryJobStore(), func() error { return nil }, nil
	}
	pg, err := NewPostgresJobStore(ctx, dsn)
	if err != nil {
		return nil, nil, err
	}
	return pg, pg.Close, nil
}
