// Package delivery moves persisted sessions to the outside world: the
// external record store, the notification webhook and the retry queue that
// re-sends anything the record store has not acknowledged yet.
package delivery

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/strrl/worktrack/pkg/models"
)

// UnsyncedStore is the part of the session store the retry queue needs
type UnsyncedStore interface {
	Unsynced(ctx context.Context) ([]models.Session, error)
	MarkSynced(ctx context.Context, id, externalID string) error
}

// RecordSyncer delivers one session and returns its external reference
type RecordSyncer interface {
	Sync(ctx context.Context, session models.Session) (string, error)
}

// Result counts what one retry run did
type Result struct {
	Attempted int
	Synced    int
	Failed    int
}

// RetryQueue re-sends unsynced sessions, one at a time, oldest first
type RetryQueue struct {
	store  UnsyncedStore
	remote RecordSyncer
	logger *slog.Logger
}

func NewRetryQueue(store UnsyncedStore, remote RecordSyncer, logger *slog.Logger) *RetryQueue {
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryQueue{store: store, remote: remote, logger: logger}
}

// RetryFailedSyncs attempts every unsynced session once. A failed item is
// logged and skipped; the error is only returned when the unsynced list
// cannot be loaded. Cancelling ctx stops the run between items.
func (q *RetryQueue) RetryFailedSyncs(ctx context.Context) (Result, error) {
	var res Result

	pending, err := q.store.Unsynced(ctx)
	if err != nil {
		return res, fmt.Errorf("failed to load unsynced sessions: %w", err)
	}
	if len(pending) == 0 {
		q.logger.Debug("no unsynced sessions")
		return res, nil
	}

	for _, session := range pending {
		if err := ctx.Err(); err != nil {
			q.logger.Info("sync retry interrupted", "remaining", len(pending)-res.Attempted)
			return res, nil
		}

		res.Attempted++
		ref, err := q.remote.Sync(ctx, session)
		if err != nil {
			res.Failed++
			q.logger.Warn("failed to sync session", "session", session.ID, "error", err)
			continue
		}

		if err := q.store.MarkSynced(ctx, session.ID, ref); err != nil {
			res.Failed++
			q.logger.Warn("failed to mark session synced", "session", session.ID, "error", err)
			continue
		}
		res.Synced++
	}

	q.logger.Info("sync retry finished", "attempted", res.Attempted, "synced", res.Synced, "failed", res.Failed)
	return res, nil
}
