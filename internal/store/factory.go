package store

import (
	"context"
	"strings"
	"time"

	"github.com/ent0n29/hrdesk/internal/logging"
)

// NewStore picks a backend from the database URL: postgres:// and
// postgresql:// use pgx, sqlite:<path> and file:<path> use SQLite, and an
// empty URL keeps everything in memory.
func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	url := strings.TrimSpace(databaseURL)
	switch {
	case url == "":
		return NewMemoryStore(), nil
	case strings.HasPrefix(url, "sqlite://"):
		return NewSQLiteStore(ctx, strings.TrimPrefix(url, "sqlite://"))
	case strings.HasPrefix(url, "sqlite:"):
		return NewSQLiteStore(ctx, strings.TrimPrefix(url, "sqlite:"))
	case strings.HasPrefix(url, "file:"):
		return NewSQLiteStore(ctx, url)
	default:
		return NewPostgresStore(ctx, url)
	}
}

// StartJanitor expires sessions idle for longer than retention until ctx
// is done.
func StartJanitor(ctx context.Context, s Store, retention, interval time.Duration, log logging.Logger) {
	if retention <= 0 {
		return
	}
	if interval <= 0 {
		interval = time.Minute
	}
	log = logging.OrNop(log)
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := s.ExpireIdle(ctx, time.Now().UTC().Add(-retention))
				if err != nil {
					log.Warn("session expiry failed", "error", err)
					continue
				}
				if n > 0 {
					log.Info("expired idle sessions", "count", n)
				}
			}
		}
	}()
}
