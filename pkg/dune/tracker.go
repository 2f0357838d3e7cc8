package dune

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/coder/quartz"
	"github.com/grafana/dskit/backoff"
	"golang.org/x/sync/errgroup"
)

// Default tracking policy.
const (
	DefaultMinPollInterval = 1 * time.Second
	DefaultMaxPollInterval = 5 * time.Second
	DefaultTrackTimeout    = 5 * time.Minute

	cancelOnTimeoutBudget = 10 * time.Second
)

// Action is what the caller of Decide should do next.
type Action int

// Tracker actions.
const (
	ActionWait Action = iota + 1
	ActionSucceed
	ActionFail
)

func (a Action) String() string {
	switch a {
	case ActionWait:
		return "wait"
	case ActionSucceed:
		return "succeed"
	case ActionFail:
		return "fail"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

// Decision is the result of applying the latest observed status to a handle.
// Err is set only when Action is ActionFail.
type Decision struct {
	Action Action
	Status *ExecutionStatus
	Err    error
}

// Decide maps the latest service-reported status onto the next action. It
// never infers a state: with no status it decides on the handle's state.
// Queue position is ignored.
func Decide(h Handle, latest *ExecutionStatus) Decision {
	state, id := h.State, h.ExecutionID
	if latest != nil {
		state = latest.State
		if latest.ExecutionID != "" {
			id = latest.ExecutionID
		}
	}

	switch state {
	case StatePending, StateExecuting:
		return Decision{Action: ActionWait, Status: latest}
	case StateCompleted:
		return Decision{Action: ActionSucceed, Status: latest}
	case StateFailed:
		failed := &ExecutionFailedError{ExecutionID: id}
		if latest != nil && latest.Error != nil {
			failed.Type = latest.Error.Type
			failed.Message = latest.Error.Message
		}
		return Decision{Action: ActionFail, Status: latest, Err: failed}
	case StateCancelled:
		return Decision{Action: ActionFail, Status: latest, Err: ErrCancelled}
	default:
		return Decision{Action: ActionFail, Status: latest,
			Err: &ParseError{Err: fmt.Errorf("execution %s has invalid state %d", id, int(state))}}
	}
}

// StatusSource answers status and cancel requests for executions. *Client
// implements it.
type StatusSource interface {
	Status(ctx context.Context, executionID string) (*ExecutionStatus, error)
	Cancel(ctx context.Context, executionID string) (bool, error)
}

// TrackerConfig is the polling policy of a Tracker.
type TrackerConfig struct {
	// Interval is the wait policy between polls. MinBackoff is the floor and
	// MaxBackoff the ceiling; equal values give a fixed interval. MaxRetries
	// is ignored, the deadline bounds tracking.
	Interval backoff.Config

	// Timeout is the client-side deadline measured from the start of Wait.
	// Zero disables it.
	Timeout time.Duration

	// CancelOnTimeout sends a best-effort remote cancel when Timeout fires.
	CancelOnTimeout bool

	// Progress, if set, is called with every polled status.
	Progress func(*ExecutionStatus)

	Logger  *slog.Logger
	Metrics *Metrics
}

// DefaultTrackerConfig polls between 1s and 5s for at most 5 minutes.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		Interval: backoff.Config{
			MinBackoff: DefaultMinPollInterval,
			MaxBackoff: DefaultMaxPollInterval,
		},
		Timeout: DefaultTrackTimeout,
	}
}

// Tracker drives executions to a terminal state. It holds no per-execution
// state and is safe for concurrent use.
type Tracker struct {
	source StatusSource
	cfg    TrackerConfig
	logger *slog.Logger
	clock  quartz.Clock
}

// NewTracker creates a Tracker polling source. A non-positive MinBackoff is
// replaced by the default so the tracker never busy-loops.
func NewTracker(source StatusSource, cfg TrackerConfig) *Tracker {
	if cfg.Interval.MinBackoff <= 0 {
		cfg.Interval.MinBackoff = DefaultMinPollInterval
	}
	if cfg.Interval.MaxBackoff < cfg.Interval.MinBackoff {
		cfg.Interval.MaxBackoff = cfg.Interval.MinBackoff
	}
	cfg.Interval.MaxRetries = 0
	if cfg.Timeout < 0 {
		cfg.Timeout = 0
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Tracker{
		source: source,
		cfg:    cfg,
		logger: logger,
		clock:  quartz.NewReal(),
	}
}

// Config returns the effective configuration.
func (t *Tracker) Config() TrackerConfig {
	return t.cfg
}

// Track starts a tracking session for h.
func (t *Tracker) Track(h Handle) *Session {
	return &Session{tracker: t, handle: h}
}

// Wait tracks h until it reaches a terminal state. See Session.Wait.
func (t *Tracker) Wait(ctx context.Context, h Handle) (*ExecutionStatus, error) {
	return t.Track(h).Wait(ctx)
}

// WaitAll tracks every handle concurrently and returns the final statuses in
// input order. The first error cancels the remaining sessions locally.
func (t *Tracker) WaitAll(ctx context.Context, handles []Handle) ([]*ExecutionStatus, error) {
	statuses := make([]*ExecutionStatus, len(handles))
	g, gctx := errgroup.WithContext(ctx)
	for i, h := range handles {
		g.Go(func() error {
			st, err := t.Wait(gctx, h)
			if err != nil {
				return fmt.Errorf("execution %s: %w", h.ExecutionID, err)
			}
			statuses[i] = st
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return statuses, err
	}
	return statuses, nil
}

// Session tracks a single execution. It belongs to one caller and is not
// safe for concurrent use.
type Session struct {
	tracker *Tracker
	handle  Handle
	polls   int
	final   *Decision
}

// Handle returns the last known handle.
func (s *Session) Handle() Handle {
	return s.handle
}

// Polls returns the number of remote status queries issued.
func (s *Session) Polls() int {
	return s.polls
}

// Poll issues one status query and decides on it. Once a terminal decision
// has been reached it is returned again without a remote call. The error is
// a request, api, parse or invalid-key failure and is never retried.
func (s *Session) Poll(ctx context.Context) (Decision, error) {
	if s.final != nil {
		return *s.final, nil
	}

	t := s.tracker
	s.polls++
	st, err := t.source.Status(ctx, s.handle.ExecutionID)
	if err != nil {
		t.logger.Debug("status poll failed", "execution_id", s.handle.ExecutionID, "poll", s.polls, "error", err)
		return Decision{}, err
	}
	if st.ExecutionID == "" {
		st.ExecutionID = s.handle.ExecutionID
	}

	t.cfg.Metrics.observePoll(st.State)
	t.logger.Debug("status polled",
		"execution_id", st.ExecutionID, "state", st.State.String(), "poll", s.polls)
	if t.cfg.Progress != nil {
		t.cfg.Progress(st)
	}

	d := Decide(s.handle, st)
	s.handle = st.Handle()
	if d.Action != ActionWait {
		s.final = &d
	}
	return d, nil
}

// Cancel asks the service to cancel the execution. The acknowledgment does
// not change the session: the execution counts as cancelled only once a
// later poll reports it.
func (s *Session) Cancel(ctx context.Context) (bool, error) {
	ok, err := s.tracker.source.Cancel(ctx, s.handle.ExecutionID)
	if err != nil {
		return false, err
	}
	s.tracker.logger.Info("cancel requested", "execution_id", s.handle.ExecutionID, "accepted", ok)
	return ok, nil
}

// Wait polls until the execution is terminal. It returns the final status on
// completion, *ExecutionFailedError or ErrCancelled on the other terminal
// states, and *TimeoutError when the deadline passes first. If ctx is done it
// returns ctx.Err() and leaves the remote execution alone.
func (s *Session) Wait(ctx context.Context) (*ExecutionStatus, error) {
	t := s.tracker
	start := t.clock.Now()
	var deadline time.Time
	if t.cfg.Timeout > 0 {
		deadline = start.Add(t.cfg.Timeout)
	}
	b := backoff.New(ctx, t.cfg.Interval)

	for {
		if err := ctx.Err(); err != nil {
			return nil, s.abandon(start, err)
		}

		d, err := s.Poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, s.abandon(start, ctx.Err())
			}
			t.cfg.Metrics.observeOutcome(outcomeError, t.clock.Since(start))
			return nil, err
		}
		switch d.Action {
		case ActionSucceed:
			s.finish(outcomeCompleted, start, nil)
			return d.Status, nil
		case ActionFail:
			s.finish(outcomeFor(d.Err), start, d.Err)
			return d.Status, d.Err
		}

		delay := b.NextDelay()
		if !deadline.IsZero() {
			remaining := t.clock.Until(deadline)
			if remaining <= 0 {
				return nil, s.timeout(ctx, start)
			}
			delay = min(delay, remaining)
		}

		timer := t.clock.NewTimer(delay, "Session", "Wait")
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, s.abandon(start, ctx.Err())
		case <-timer.C:
		}

		if !deadline.IsZero() && !t.clock.Now().Before(deadline) {
			return nil, s.timeout(ctx, start)
		}
	}
}

func (s *Session) timeout(ctx context.Context, start time.Time) error {
	t := s.tracker
	elapsed := t.clock.Since(start)
	err := &TimeoutError{ExecutionID: s.handle.ExecutionID, Seconds: uint64(elapsed / time.Second)}
	s.finish(outcomeTimeout, start, err)

	if t.cfg.CancelOnTimeout {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cancelOnTimeoutBudget)
		defer cancel()
		if _, cerr := t.source.Cancel(cctx, s.handle.ExecutionID); cerr != nil {
			t.logger.Warn("cancel after timeout failed", "execution_id", s.handle.ExecutionID, "error", cerr)
		}
	}
	return err
}

func (s *Session) abandon(start time.Time, err error) error {
	t := s.tracker
	t.cfg.Metrics.observeOutcome(outcomeAbandoned, t.clock.Since(start))
	t.logger.Debug("tracking abandoned", "execution_id", s.handle.ExecutionID, "polls", s.polls, "error", err)
	return err
}

func (s *Session) finish(outcome string, start time.Time, err error) {
	t := s.tracker
	elapsed := t.clock.Since(start)
	t.cfg.Metrics.observeOutcome(outcome, elapsed)
	attrs := []any{"execution_id", s.handle.ExecutionID, "outcome", outcome, "polls", s.polls, "elapsed", elapsed}
	if err != nil {
		attrs = append(attrs, "error", err)
	}
	t.logger.Info("tracking finished", attrs...)
}

func outcomeFor(err error) string {
	switch KindOf(err) {
	case KindExecutionFailed:
		return outcomeFailed
	case KindCancelled:
		return outcomeCancelled
	default:
		return outcomeError
	}
}
