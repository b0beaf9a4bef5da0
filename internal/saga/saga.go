// Package saga runs an ordered list of steps, each paired with an optional
// compensation. When a step fails, the compensations of every step that had
// already completed run in reverse order.
package saga

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

type Step struct {
	Name       string
	Action     func(ctx context.Context) error
	Compensate func(ctx context.Context) error
}

type Saga struct {
	name  string
	steps []Step
	log   *logrus.Entry
}

func New(name string, log *logrus.Entry) *Saga {
	return &Saga{name: name, log: log.WithField("saga", name)}
}

func (s *Saga) Step(name string, action, compensate func(ctx context.Context) error) *Saga {
	s.steps = append(s.steps, Step{Name: name, Action: action, Compensate: compensate})
	return s
}

// Error reports the step that failed. Unwrap yields the step's own error so
// callers can still match domain errors; compensation failures are kept
// separately.
type Error struct {
	Saga         string
	Step         string
	Err          error
	Compensation error
}

func (e *Error) Error() string {
	if e.Compensation != nil {
		return fmt.Sprintf("%s: step %s: %v (compensation: %v)", e.Saga, e.Step, e.Err, e.Compensation)
	}
	return fmt.Sprintf("%s: step %s: %v", e.Saga, e.Step, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (s *Saga) Run(ctx context.Context) error {
	for i, step := range s.steps {
		if err := step.Action(ctx); err != nil {
			s.log.WithFields(logrus.Fields{"step": step.Name, "error": err}).Warn("saga step failed, compensating")
			return &Error{
				Saga:         s.name,
				Step:         step.Name,
				Err:          err,
				Compensation: s.compensate(ctx, s.steps[:i]),
			}
		}
	}
	return nil
}

// compensate ignores request cancellation: a compensation that is abandoned
// halfway strands remote state.
func (s *Saga) compensate(ctx context.Context, done []Step) error {
	ctx = context.WithoutCancel(ctx)

	var errs []error
	for i := len(done) - 1; i >= 0; i-- {
		step := done[i]
		if step.Compensate == nil {
			continue
		}
		if err := step.Compensate(ctx); err != nil {
			s.log.WithFields(logrus.Fields{"step": step.Name, "error": err}).Error("saga compensation failed")
			errs = append(errs, fmt.Errorf("%s: %w", step.Name, err))
		}
	}
	return errors.Join(errs...)
}
