package engine

import (
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/isb2026/bomrel/internal/ir"
	"github.com/isb2026/bomrel/internal/metrics"
)

// State is a request's position in the engine state machine.
type State string

const (
	StateReceived   State = "received"
	StateValidating State = "validating"
	StateRejected   State = "rejected"
	StateCommitting State = "committing"
	StateCommitted  State = "committed"
	StateAborted    State = "aborted"
)

// Terminal reports whether no further transition can follow s.
func (s State) Terminal() bool {
	return s == StateRejected || s == StateCommitted || s == StateAborted
}

// transitions lists the legal successors of each state.
var transitions = map[State][]State{
	StateReceived:   {StateValidating},
	StateValidating: {StateRejected, StateCommitting},
	// Committing -> Rejected covers constraints only storage can see, such
	// as another writer taking the same instance first.
	StateCommitting: {StateCommitted, StateAborted, StateRejected},
}

func canTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// request tracks one engine call through the state machine. It is owned by
// a single goroutine.
type request struct {
	seq        int64
	op         string
	structural bool
	rootID     ir.NodeID
	state      State
	started    time.Time
	log        zerolog.Logger
	metrics    *metrics.Metrics
}

func (e *Engine) begin(op string, structural bool, fields func(zerolog.Context) zerolog.Context) *request {
	seq := e.clock.Next()
	lc := e.log.With().Int64("seq", seq).Str("op", op)
	if fields != nil {
		lc = fields(lc)
	}
	r := &request{
		seq:        seq,
		op:         op,
		structural: structural,
		state:      StateReceived,
		started:    time.Now(),
		log:        lc.Logger(),
		metrics:    e.metrics,
	}
	r.log.Debug().Str("state", string(r.state)).Msg("request received")
	return r
}

// to moves the request to next. Illegal transitions are programming errors
// and panic.
func (r *request) to(next State) {
	if !canTransition(r.state, next) {
		panic("engine: illegal transition " + string(r.state) + " -> " + string(next))
	}
	r.log.Debug().Str("from", string(r.state)).Str("state", string(next)).Msg("request transition")
	r.state = next
}

// finish settles a request that reached Validating or Committing. err is
// what the storage transaction returned: nil commits, a typed rule error
// rejects, anything else aborts and is wrapped as STORAGE_ABORTED.
func (r *request) finish(err error) error {
	if err == nil {
		if r.state == StateValidating {
			r.to(StateCommitting)
		}
		r.to(StateCommitted)
		r.record(metrics.OutcomeCommitted)
		r.metrics.CommitDuration.WithLabelValues(r.op).Observe(time.Since(r.started).Seconds())
		return nil
	}

	if code, ok := ruleCode(err); ok {
		r.to(StateRejected)
		r.record(metrics.OutcomeRejected)
		r.metrics.RejectionsTotal.WithLabelValues(code).Inc()
		r.log.Info().Str("code", code).Err(err).Msg("request rejected")
		return err
	}

	if r.state == StateValidating {
		r.to(StateCommitting)
	}
	r.to(StateAborted)
	r.record(metrics.OutcomeAborted)
	wrapped := r.aborted(err)
	r.metrics.RejectionsTotal.WithLabelValues(string(ir.ErrCodeStorageAborted)).Inc()
	r.log.Warn().Err(err).Msg("request aborted")
	return wrapped
}

func (r *request) record(outcome string) {
	if r.structural {
		r.metrics.MutationsTotal.WithLabelValues(r.op, outcome).Inc()
		return
	}
	r.metrics.AssignmentsTotal.WithLabelValues(r.op, outcome).Inc()
}

func (r *request) aborted(err error) error {
	if r.structural {
		var re *ir.RelationError
		if errors.As(err, &re) {
			return re
		}
		return ir.NewStorageAborted(r.rootID, err)
	}
	var ae *ir.AssignmentError
	if errors.As(err, &ae) {
		return ae
	}
	return &ir.AssignmentError{
		Code:    ir.ErrCodeAssignmentAborted,
		Message: "commit aborted, no changes were applied",
		RootID:  r.rootID,
		Err:     err,
	}
}

// ruleCode returns the code of a rule rejection. Storage aborts and
// untyped errors report false.
func ruleCode(err error) (string, bool) {
	var re *ir.RelationError
	if errors.As(err, &re) && re.Code != ir.ErrCodeStorageAborted {
		return string(re.Code), true
	}
	var ae *ir.AssignmentError
	if errors.As(err, &ae) && ae.Code != ir.ErrCodeAssignmentAborted {
		return string(ae.Code), true
	}
	return "", false
}
