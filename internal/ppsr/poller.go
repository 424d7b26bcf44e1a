package ppsr

import (
	"context"

	"github.com/looplab/fsm"

	"github.com/carverify/carverify/internal/metrics"
	"github.com/carverify/carverify/pkg/log"
)

// Poller states.
const (
	StateRequesting = "requesting"
	StateNotReady   = "not_ready"
	StateReady      = "ready"
	StateFailed     = "failed"
)

const (
	eventDefer   = "defer"
	eventRetry   = "retry"
	eventSucceed = "succeed"
	eventFail    = "fail"
)

// attemptFunc runs one poll attempt. nil means ready, a notReadyError means
// try again, anything else is final.
type attemptFunc func(ctx context.Context) error

// pollRun is the state of one poll, shared by the machine callbacks.
type pollRun struct {
	ctx    context.Context
	op     string
	ref    string
	policy RetryPolicy
	wait   WaitFunc
	log    log.Logger

	attempts int
	reason   error
	err      error
}

func wrapEvent(fn func(ctx context.Context, e *fsm.Event) error) fsm.Callback {
	return func(ctx context.Context, e *fsm.Event) {
		if err := fn(ctx, e); err != nil {
			e.Err = err
		}
	}
}

func newPollMachine(r *pollRun) *fsm.FSM {
	return fsm.NewFSM(
		StateRequesting,
		fsm.Events{
			{Name: eventSucceed, Src: []string{StateRequesting}, Dst: StateReady},
			{Name: eventDefer, Src: []string{StateRequesting}, Dst: StateNotReady},
			{Name: eventRetry, Src: []string{StateNotReady}, Dst: StateRequesting},
			{Name: eventFail, Src: []string{StateRequesting, StateNotReady}, Dst: StateFailed},
		},
		fsm.Callbacks{
			"before_" + eventRetry:   wrapEvent(r.guardRetry),
			"enter_" + StateNotReady: wrapEvent(r.enterNotReady),
			"enter_" + StateReady:    wrapEvent(r.enterReady),
			"enter_" + StateFailed:   wrapEvent(r.enterFailed),
		},
	)
}

// enterNotReady ends the poll once attempts are used up, otherwise it
// waits out the delay before the next attempt.
func (r *pollRun) enterNotReady(_ context.Context, _ *fsm.Event) error {
	metrics.GatewayRequests.WithLabelValues(r.op, "not_ready").Inc()
	if r.attempts >= r.policy.MaxRetries {
		r.log.Warn("poll exhausted", "attempts", r.attempts)
		r.err = &CertificateNotReadyError{Ref: r.ref, Attempts: r.attempts}
		return nil
	}
	r.log.Debug("not ready, waiting", "attempt", r.attempts, "delay", r.policy.Delay, "reason", r.reason.Error())
	if err := r.wait(r.ctx, r.policy.Delay); err != nil {
		r.err = err
	}
	return nil
}

// guardRetry cancels the retry when the poll has already been settled.
func (r *pollRun) guardRetry(_ context.Context, e *fsm.Event) error {
	if r.err != nil {
		e.Cancel(r.err)
	}
	return nil
}

func (r *pollRun) enterReady(_ context.Context, _ *fsm.Event) error {
	metrics.GatewayRequests.WithLabelValues(r.op, "ok").Inc()
	metrics.PollAttempts.WithLabelValues(r.op, StateReady).Observe(float64(r.attempts))
	r.log.Debug("poll ready", "attempts", r.attempts)
	return nil
}

func (r *pollRun) enterFailed(_ context.Context, e *fsm.Event) error {
	if len(e.Args) > 0 {
		if err, ok := e.Args[0].(error); ok {
			r.err = err
		}
	}
	if e.Src == StateRequesting {
		metrics.GatewayRequests.WithLabelValues(r.op, "error").Inc()
		r.log.Warn("poll failed", "attempts", r.attempts, "err", r.err)
	}
	metrics.PollAttempts.WithLabelValues(r.op, StateFailed).Observe(float64(r.attempts))
	return nil
}

// poll drives attempt through the requesting -> not_ready -> requesting
// cycle until the machine settles in ready or failed.
func (c *Client) poll(ctx context.Context, op, ref string, policy RetryPolicy, attempt attemptFunc) error {
	r := &pollRun{
		ctx:    ctx,
		op:     op,
		ref:    ref,
		policy: policy.withDefaults(),
		wait:   c.wait,
		log:    c.log.WithValues("op", op, "ref", ref),
	}
	machine := newPollMachine(r)
	// Transitions must still happen after ctx is done so the poll can settle
	// in failed.
	evctx := context.WithoutCancel(ctx)

	for {
		switch machine.Current() {
		case StateRequesting:
			r.attempts++
			err := attempt(ctx)
			var ferr error
			switch {
			case err == nil:
				ferr = machine.Event(evctx, eventSucceed)
			case isNotReady(err):
				r.reason = err
				ferr = machine.Event(evctx, eventDefer)
			default:
				ferr = machine.Event(evctx, eventFail, err)
			}
			if ferr != nil {
				return ferr
			}
		case StateNotReady:
			if err := machine.Event(evctx, eventRetry); err != nil {
				if r.err == nil {
					return err
				}
				if ferr := machine.Event(evctx, eventFail); ferr != nil {
					return ferr
				}
			}
		case StateReady:
			return nil
		default:
			return r.err
		}
	}
}
