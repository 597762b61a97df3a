package instrument

import (
	"context"
	"fmt"
	"log"
	"time"

	"enricher/internal/store"
)

// CleanupOldEvents deletes events older than retentionDays from the _events table.
func CleanupOldEvents(ctx context.Context, s *store.Store, retentionDays int) {
	pb := s.Dialect.NewParamBuilder()
	whereExpr := s.Dialect.IntervalDeleteExpr("created_at", pb, fmt.Sprintf("%d", retentionDays))
	n, err := store.Exec(ctx, s.DB, fmt.Sprintf("DELETE FROM _events WHERE %s", whereExpr), pb.Params()...)
	if err != nil {
		log.Printf("ERROR: event cleanup: %v", err)
		return
	}
	if n > 0 {
		log.Printf("Event cleanup: deleted %d old events", n)
	}
}

// StartCleanup runs CleanupOldEvents immediately and then every interval
// until the returned stop function is called.
func StartCleanup(s *store.Store, retentionDays int, interval time.Duration) (stop func()) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		CleanupOldEvents(ctx, s, retentionDays)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				CleanupOldEvents(ctx, s, retentionDays)
			}
		}
	}()
	return cancel
}
