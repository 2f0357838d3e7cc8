package dune

import (
	"fmt"
	"time"
)

// ExecutionState is the lifecycle state of an execution as reported by the
// service. The zero value is not a valid state.
type ExecutionState int

// Execution lifecycle states.
const (
	StatePending ExecutionState = iota + 1
	StateExecuting
	StateCompleted
	StateFailed
	StateCancelled
)

// Wire tags for ExecutionState.
const (
	wirePending   = "QUERY_STATE_PENDING"
	wireExecuting = "QUERY_STATE_EXECUTING"
	wireCompleted = "QUERY_STATE_COMPLETED"
	wireFailed    = "QUERY_STATE_FAILED"
	wireCancelled = "QUERY_STATE_CANCELLED"
)

// IsTerminal reports whether no further transition can happen.
func (s ExecutionState) IsTerminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	case StatePending, StateExecuting:
		return false
	default:
		return false
	}
}

// IsSuccess reports whether the execution completed and results are available.
func (s ExecutionState) IsSuccess() bool {
	switch s {
	case StateCompleted:
		return true
	case StatePending, StateExecuting, StateFailed, StateCancelled:
		return false
	default:
		return false
	}
}

// String returns the wire tag, or a placeholder for invalid values.
func (s ExecutionState) String() string {
	switch s {
	case StatePending:
		return wirePending
	case StateExecuting:
		return wireExecuting
	case StateCompleted:
		return wireCompleted
	case StateFailed:
		return wireFailed
	case StateCancelled:
		return wireCancelled
	default:
		return fmt.Sprintf("ExecutionState(%d)", int(s))
	}
}

// ParseExecutionState maps a wire tag to its state.
func ParseExecutionState(tag string) (ExecutionState, error) {
	switch tag {
	case wirePending:
		return StatePending, nil
	case wireExecuting:
		return StateExecuting, nil
	case wireCompleted:
		return StateCompleted, nil
	case wireFailed:
		return StateFailed, nil
	case wireCancelled:
		return StateCancelled, nil
	default:
		return 0, fmt.Errorf("unknown execution state %q", tag)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s ExecutionState) MarshalText() ([]byte, error) {
	switch s {
	case StatePending, StateExecuting, StateCompleted, StateFailed, StateCancelled:
		return []byte(s.String()), nil
	default:
		return nil, fmt.Errorf("invalid execution state %d", int(s))
	}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *ExecutionState) UnmarshalText(text []byte) error {
	v, err := ParseExecutionState(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Handle identifies a submitted execution together with its last known state.
type Handle struct {
	ExecutionID string         `json:"execution_id"`
	State       ExecutionState `json:"state"`
}

// PipelineHandle identifies a submitted query pipeline execution.
type PipelineHandle struct {
	PipelineExecutionID string         `json:"pipeline_execution_id"`
	State               ExecutionState `json:"state"`
}

// ErrorMetadata locates a failure inside the submitted SQL.
type ErrorMetadata struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// ExecutionError is the failure detail the service attaches to a failed execution.
type ExecutionError struct {
	Type     string         `json:"type"`
	Message  string         `json:"message"`
	Metadata *ErrorMetadata `json:"metadata,omitempty"`
}

// ExecutionStatus is the service's view of one execution. Nil fields are
// unknown, not zero.
type ExecutionStatus struct {
	ExecutionID        string          `json:"execution_id"`
	QueryID            *int64          `json:"query_id,omitempty"`
	State              ExecutionState  `json:"state"`
	SubmittedAt        *time.Time      `json:"submitted_at,omitempty"`
	ExecutionStartedAt *time.Time      `json:"execution_started_at,omitempty"`
	ExecutionEndedAt   *time.Time      `json:"execution_ended_at,omitempty"`
	ExpiresAt          *time.Time      `json:"expires_at,omitempty"`
	CancelledAt        *time.Time      `json:"cancelled_at,omitempty"`
	QueuePosition      *int            `json:"queue_position,omitempty"`
	Error              *ExecutionError `json:"error,omitempty"`
}

// Handle projects the status onto a Handle.
func (s *ExecutionStatus) Handle() Handle {
	return Handle{ExecutionID: s.ExecutionID, State: s.State}
}

// ResultMetadata describes a result set. ColumnTypes may be shorter than
// ColumnNames or absent.
type ResultMetadata struct {
	ColumnNames         []string `json:"column_names"`
	ColumnTypes         []string `json:"column_types,omitempty"`
	TotalRowCount       int64    `json:"total_row_count"`
	DatapointCount      int64    `json:"datapoint_count"`
	ResultSetBytes      *int64   `json:"result_set_bytes,omitempty"`
	PendingTimeMillis   *int64   `json:"pending_time_millis,omitempty"`
	ExecutionTimeMillis *int64   `json:"execution_time_millis,omitempty"`
}

// Row is one result row keyed by column name. Numbers are json.Number.
type Row map[string]any

// ResultData is a page of rows and its metadata.
type ResultData struct {
	Metadata ResultMetadata `json:"metadata"`
	Rows     []Row          `json:"rows"`
}

// ExecutionResults is the results endpoint response. Result is present only
// when the execution completed.
type ExecutionResults struct {
	ExecutionStatus
	Result     *ResultData `json:"result,omitempty"`
	NextOffset *int64      `json:"next_offset,omitempty"`
	NextURI    string      `json:"next_uri,omitempty"`
}

// PageInfo is pagination metadata derived from a results response.
type PageInfo struct {
	Offset     int64  // offset the page was requested at
	Returned   int64  // rows in this page, never above Total
	Total      int64  // rows available server-side
	NextOffset *int64 // nil when this is the last page
}

// Page derives pagination metadata for a response fetched with opts.
func (r *ExecutionResults) Page(opts ResultOptions) PageInfo {
	var p PageInfo
	if opts.Offset != nil {
		p.Offset = int64(*opts.Offset)
	}
	if r.Result == nil {
		return p
	}

	md := r.Result.Metadata
	p.Total = md.TotalRowCount
	p.Returned = min(md.DatapointCount, md.TotalRowCount)
	if p.Returned < 0 {
		p.Returned = 0
	}

	switch {
	case r.NextOffset != nil:
		next := *r.NextOffset
		p.NextOffset = &next
	case p.Returned > 0 && p.Offset+p.Returned < p.Total:
		next := p.Offset + p.Returned
		p.NextOffset = &next
	}
	return p
}

// ParameterType is the type tag of a query parameter.
type ParameterType string

// Supported parameter types.
const (
	ParamText   ParameterType = "text"
	ParamNumber ParameterType = "number"
	ParamDate   ParameterType = "date"
	ParamEnum   ParameterType = "enum"
)

// QueryParameter is substituted into a query at execution time.
type QueryParameter struct {
	Key   string        `json:"key"`
	Type  ParameterType `json:"type"`
	Value string        `json:"value"`
}

// Performance selects the execution engine tier.
type Performance string

// Documented performance tiers. Other values are passed through and rejected
// by the service.
const (
	PerformanceMedium Performance = "medium"
	PerformanceLarge  Performance = "large"
)

// ExecuteSQLRequest submits raw SQL text.
type ExecuteSQLRequest struct {
	SQL         string           `json:"sql"`
	Parameters  []QueryParameter `json:"query_parameters,omitempty"`
	Performance Performance      `json:"performance,omitempty"`
}

// ExecuteQueryRequest runs a saved query with optional parameter overrides.
type ExecuteQueryRequest struct {
	Parameters  []QueryParameter `json:"query_parameters,omitempty"`
	Performance Performance      `json:"performance,omitempty"`
}

// ExecutePipelineRequest runs a saved query together with its dependencies.
type ExecutePipelineRequest struct {
	Performance Performance `json:"performance,omitempty"`
}

type cancelResponse struct {
	Success bool `json:"success"`
}
