package emulator

import (
	"time"

	"dune-client/pkg/dune"
)

// resultsTTL is how long results stay available after an execution ends.
const resultsTTL = 90 * 24 * time.Hour

// execution is the emulator's record of one run. All access is under
// Server.mu.
type execution struct {
	id      string
	queryID *int64
	fixture Fixture

	state     dune.ExecutionState
	polls     int
	cancelAt  int // poll number at which cancellation becomes visible, 0 if none
	submitted time.Time
	started   *time.Time
	ended     *time.Time
	cancelled *time.Time
}

// newExecution starts a run. A fresh submission is never terminal, so a
// script that starts terminal is reported pending until the first poll.
func newExecution(id string, queryID *int64, f Fixture, now time.Time) *execution {
	initial := f.States[0]
	if initial.IsTerminal() {
		initial = dune.StatePending
	}
	e := &execution{
		id:        id,
		queryID:   queryID,
		fixture:   f,
		submitted: now,
	}
	e.transition(initial, now)
	return e
}

// advance moves the execution to the state reported on the next status poll.
func (e *execution) advance(now time.Time) {
	if e.state.IsTerminal() {
		return
	}
	e.polls++

	next := e.fixture.States[min(e.polls, len(e.fixture.States))-1]
	if e.cancelAt > 0 && e.polls >= e.cancelAt && !next.IsTerminal() {
		next = dune.StateCancelled
	}
	e.transition(next, now)
}

func (e *execution) transition(next dune.ExecutionState, now time.Time) {
	if next != dune.StatePending && e.started == nil {
		t := now
		e.started = &t
	}
	if next.IsTerminal() {
		t := now
		e.ended = &t
		if next == dune.StateCancelled {
			e.cancelled = &t
		}
	}
	e.state = next
}

// requestCancel records a cancel request. It reports false when the
// execution is already terminal. The cancellation shows on the poll after
// lag further polls.
func (e *execution) requestCancel(lag int) bool {
	if e.state.IsTerminal() {
		return false
	}
	if e.cancelAt == 0 {
		e.cancelAt = e.polls + lag + 1
	}
	return true
}

func (e *execution) status() dune.ExecutionStatus {
	st := dune.ExecutionStatus{
		ExecutionID:        e.id,
		QueryID:            e.queryID,
		State:              e.state,
		SubmittedAt:        timePtr(e.submitted),
		ExecutionStartedAt: e.started,
		ExecutionEndedAt:   e.ended,
		CancelledAt:        e.cancelled,
	}
	if e.ended != nil && e.state.IsSuccess() {
		st.ExpiresAt = timePtr(e.ended.Add(resultsTTL))
	}
	if e.state == dune.StatePending {
		pos := 1
		st.QueuePosition = &pos
	}
	if e.state == dune.StateFailed {
		errType := e.fixture.ErrorType
		if errType == "" {
			errType = "FAILED_TYPE_EXECUTION_FAILED"
		}
		st.Error = &dune.ExecutionError{Type: errType, Message: e.fixture.ErrorMessage}
	}
	return st
}

// metadata describes the full result set before pagination.
func (e *execution) metadata() dune.ResultMetadata {
	md := dune.ResultMetadata{
		ColumnNames:   append([]string(nil), e.fixture.Columns...),
		ColumnTypes:   append([]string(nil), e.fixture.Types...),
		TotalRowCount: int64(len(e.fixture.Rows)),
	}
	if e.started != nil {
		pending := e.started.Sub(e.submitted).Milliseconds()
		md.PendingTimeMillis = &pending
		if e.ended != nil {
			exec := e.ended.Sub(*e.started).Milliseconds()
			md.ExecutionTimeMillis = &exec
		}
	}
	return md
}

func timePtr(t time.Time) *time.Time {
	return &t
}
