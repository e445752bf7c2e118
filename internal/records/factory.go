package records

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// NewStore picks a backend from the database URL: empty is in-memory,
// postgres:// uses pgx, sqlite:// or a *.db path uses SQLite.
func NewStore(ctx context.Context, databaseURL string, memoryTTL time.Duration) (Store, error) {
	u := strings.TrimSpace(databaseURL)
	switch {
	case u == "":
		return NewMemoryStore(memoryTTL), nil
	case strings.HasPrefix(u, "postgres://"), strings.HasPrefix(u, "postgresql://"):
		return NewPostgresStore(ctx, u)
	case strings.HasPrefix(u, "sqlite://"):
		return NewSQLiteStore(ctx, strings.TrimPrefix(u, "sqlite://"))
	case strings.HasSuffix(u, ".db"), strings.HasSuffix(u, ".sqlite"):
		return NewSQLiteStore(ctx, u)
	default:
		return nil, fmt.Errorf("unsupported database url %q", u)
	}
}
