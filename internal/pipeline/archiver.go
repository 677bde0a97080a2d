package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/oraclebot/internal/domain"
)

// archiveLockKey serializes archive runs across processes sharing a store.
const archiveLockKey = "archive:audit"

// Archiver moves aged audit entries from the database to cold storage.
type Archiver struct {
	blobArchiver domain.Archiver
	retention    time.Duration
	locks        domain.LockManager
	logger       *slog.Logger
	now          func() time.Time
}

// NewArchiver creates an Archiver. locks may be nil.
func NewArchiver(blobArchiver domain.Archiver, retention time.Duration, locks domain.LockManager, logger *slog.Logger) *Archiver {
	return &Archiver{
		blobArchiver: blobArchiver,
		retention:    retention,
		locks:        locks,
		logger:       logger.With(slog.String("component", "archiver")),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// RunCycle archives audit entries older than the retention period. It is a
// Cycle for Loop.
func (a *Archiver) RunCycle(ctx context.Context) error {
	if a.locks != nil {
		unlock, err := a.locks.Acquire(ctx, archiveLockKey, time.Hour)
		if errors.Is(err, domain.ErrLockHeld) {
			a.logger.DebugContext(ctx, "archive run held elsewhere")
			return nil
		}
		if err != nil {
			return fmt.Errorf("pipeline: archive lock: %w", err)
		}
		defer unlock()
	}

	cutoff := a.now().Add(-a.retention)
	a.logger.InfoContext(ctx, "starting archive run",
		slog.Time("cutoff", cutoff),
		slog.Duration("retention", a.retention),
	)

	n, err := a.blobArchiver.ArchiveAudit(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("pipeline: archive audit before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	a.logger.InfoContext(ctx, "archive run complete", slog.Int64("audit_archived", n))
	return nil
}
