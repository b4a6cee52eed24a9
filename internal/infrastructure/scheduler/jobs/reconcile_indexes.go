package jobs

import (
	"context"
	"fmt"
	"sync/atomic"

	persistence "github.com/subvoyager/subvoyager/internal/infrastructure/persistence/redis"
	"github.com/subvoyager/subvoyager/pkg/logger"
)

// IndexReconciler repairs the expedition status, city and tag indexes.
type IndexReconciler interface {
	ReconcileIndexes(ctx context.Context) (persistence.ReconcileReport, error)
}

// ReconcileIndexesJob runs ReconcileIndexes on a schedule. Expedition writes
// touch several keys without a transaction, so an interrupted write can leave
// an index pointing at the wrong record or missing one.
type ReconcileIndexesJob struct {
	reconciler IndexReconciler
	logger     *logger.Logger

	last atomic.Pointer[persistence.ReconcileReport]
}

// NewReconcileIndexesJob creates a new ReconcileIndexesJob.
func NewReconcileIndexesJob(reconciler IndexReconciler, log *logger.Logger) *ReconcileIndexesJob {
	if log == nil {
		log = logger.Default()
	}
	return &ReconcileIndexesJob{
		reconciler: reconciler,
		logger:     log.With(logger.String("job", "reconcile_indexes")),
	}
}

// Name returns the job name.
func (j *ReconcileIndexesJob) Name() string {
	return "reconcile_indexes"
}

// Description returns a human-readable description.
func (j *ReconcileIndexesJob) Description() string {
	return "Removes stale expedition index entries and re-adds missing ones"
}

// Run executes the job.
func (j *ReconcileIndexesJob) Run(ctx context.Context) error {
	report, err := j.reconciler.ReconcileIndexes(ctx)
	if err != nil {
		return fmt.Errorf("reconcile_indexes: %w", err)
	}
	j.last.Store(&report)

	fields := []logger.Field{
		logger.Int("indexes", report.IndexesScanned),
		logger.Int("records", report.RecordsScanned),
		logger.Int("removed", report.Removed),
		logger.Int("added", report.Added),
	}
	if report.Removed > 0 || report.Added > 0 {
		j.logger.Warn("expedition indexes repaired", fields...)
	} else {
		j.logger.Info("expedition indexes consistent", fields...)
	}
	return nil
}

// LastReport returns the report of the most recent successful run, or nil.
func (j *ReconcileIndexesJob) LastReport() *persistence.ReconcileReport {
	return j.last.Load()
}
