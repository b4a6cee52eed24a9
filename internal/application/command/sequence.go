// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"strings"

	"github.com/subvoyager/subvoyager/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// BEST-EFFORT SEQUENCE
// Multi-repository writes are not atomic as a unit. Steps run in order and stop
// at the first failure; nothing is rolled back. A failure after at least one
// completed step is logged as a partial failure so the maintenance jobs (or an
// operator) can repair it.
// ══════════════════════════════════════════════════════════════════════════════

// step is one write in a sequence.
type step struct {
	name string
	run  func(ctx context.Context) error
}

// sequence runs steps for one command.
type sequence struct {
	op      string
	log     *logger.Logger
	metrics *Metrics
}

func newSequence(op string, log *logger.Logger, metrics *Metrics) *sequence {
	return &sequence{op: op, log: log, metrics: metrics}
}

// run executes steps in order. The returned error is the failing step's error
// unchanged, so callers can still match domain error kinds.
func (s *sequence) run(ctx context.Context, steps ...step) error {
	completed := make([]string, 0, len(steps))

	for _, st := range steps {
		if err := st.run(ctx); err != nil {
			if len(completed) > 0 {
				s.metrics.partialFailure(s.op, st.name)
				s.log.Error("partial failure",
					logger.Operation(s.op),
					logger.String("failed_step", st.name),
					logger.String("completed_steps", strings.Join(completed, ",")),
					logger.Err(err),
				)
			}
			return err
		}
		completed = append(completed, st.name)
	}
	return nil
}
