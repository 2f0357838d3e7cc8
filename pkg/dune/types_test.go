package dune

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutionState_Predicates(t *testing.T) {
	tests := []struct {
		state    ExecutionState
		terminal bool
		success  bool
	}{
		{StatePending, false, false},
		{StateExecuting, false, false},
		{StateCompleted, true, true},
		{StateFailed, true, false},
		{StateCancelled, true, false},
		{ExecutionState(0), false, false},
	}
	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.state.IsTerminal())
			assert.Equal(t, tt.success, tt.state.IsSuccess())
		})
	}
}

func TestExecutionState_WireTagsRoundTrip(t *testing.T) {
	tags := map[ExecutionState]string{
		StatePending:   "QUERY_STATE_PENDING",
		StateExecuting: "QUERY_STATE_EXECUTING",
		StateCompleted: "QUERY_STATE_COMPLETED",
		StateFailed:    "QUERY_STATE_FAILED",
		StateCancelled: "QUERY_STATE_CANCELLED",
	}
	for state, tag := range tags {
		text, err := state.MarshalText()
		require.NoError(t, err)
		assert.Equal(t, tag, string(text))

		var got ExecutionState
		require.NoError(t, got.UnmarshalText([]byte(tag)))
		assert.Equal(t, state, got)

		parsed, err := ParseExecutionState(tag)
		require.NoError(t, err)
		assert.Equal(t, state, parsed)
	}
}

func TestExecutionState_RejectsUnknown(t *testing.T) {
	var s ExecutionState
	err := json.Unmarshal([]byte(`"QUERY_STATE_PAUSED"`), &s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "QUERY_STATE_PAUSED")

	_, err = ExecutionState(0).MarshalText()
	assert.Error(t, err)
}

func TestExecutionStatus_DecodeOptionalFields(t *testing.T) {
	t.Run("absent fields stay nil", func(t *testing.T) {
		var st ExecutionStatus
		require.NoError(t, json.Unmarshal([]byte(`{"execution_id":"01H","state":"QUERY_STATE_PENDING"}`), &st))
		assert.Equal(t, "01H", st.ExecutionID)
		assert.Equal(t, StatePending, st.State)
		assert.Nil(t, st.QueryID)
		assert.Nil(t, st.SubmittedAt)
		assert.Nil(t, st.ExecutionStartedAt)
		assert.Nil(t, st.ExecutionEndedAt)
		assert.Nil(t, st.ExpiresAt)
		assert.Nil(t, st.QueuePosition)
		assert.Nil(t, st.Error)
	})

	t.Run("zero is distinguishable from absent", func(t *testing.T) {
		var st ExecutionStatus
		payload := `{
			"execution_id": "01H",
			"query_id": 1234,
			"state": "QUERY_STATE_PENDING",
			"submitted_at": "2024-12-20T11:04:18.724658237Z",
			"queue_position": 0
		}`
		require.NoError(t, json.Unmarshal([]byte(payload), &st))
		require.NotNil(t, st.QueuePosition)
		assert.Equal(t, 0, *st.QueuePosition)
		require.NotNil(t, st.QueryID)
		assert.Equal(t, int64(1234), *st.QueryID)
		require.NotNil(t, st.SubmittedAt)
		assert.Equal(t, 2024, st.SubmittedAt.Year())
		assert.Equal(t, time.December, st.SubmittedAt.Month())
	})

	t.Run("failure detail", func(t *testing.T) {
		var st ExecutionStatus
		payload := `{
			"execution_id": "01H",
			"state": "QUERY_STATE_FAILED",
			"error": {"type": "FAILED_TYPE_EXECUTION_FAILED", "message": "line 1:8: Column 'x' cannot be resolved", "metadata": {"line": 1, "column": 8}}
		}`
		require.NoError(t, json.Unmarshal([]byte(payload), &st))
		require.NotNil(t, st.Error)
		assert.Equal(t, "FAILED_TYPE_EXECUTION_FAILED", st.Error.Type)
		assert.Equal(t, "line 1:8: Column 'x' cannot be resolved", st.Error.Message)
		require.NotNil(t, st.Error.Metadata)
		assert.Equal(t, 8, st.Error.Metadata.Column)
		assert.Equal(t, Handle{ExecutionID: "01H", State: StateFailed}, st.Handle())
	})
}

func TestExecuteSQLRequest_Encoding(t *testing.T) {
	req := ExecuteSQLRequest{SQL: "SELECT 1"}
	data, err := json.Marshal(req)
	require.NoError(t, err)
	assert.JSONEq(t, `{"sql":"SELECT 1"}`, string(data))

	req.Parameters = []QueryParameter{{Key: "chain", Type: ParamText, Value: "ethereum"}}
	req.Performance = PerformanceLarge
	data, err = json.Marshal(req)
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"sql":"SELECT 1","query_parameters":[{"key":"chain","type":"text","value":"ethereum"}],"performance":"large"}`,
		string(data))
}

func TestExecutionResults_Page(t *testing.T) {
	results := func(total, datapoints int64, next *int64) *ExecutionResults {
		return &ExecutionResults{
			ExecutionStatus: ExecutionStatus{ExecutionID: "01H", State: StateCompleted},
			Result: &ResultData{Metadata: ResultMetadata{
				TotalRowCount:  total,
				DatapointCount: datapoints,
			}},
			NextOffset: next,
		}
	}
	ptr := func(v int64) *int64 { return &v }

	tests := []struct {
		name     string
		res      *ExecutionResults
		opts     ResultOptions
		returned int64
		next     *int64
	}{
		{name: "first page", res: results(100, 10, nil), opts: ResultOptions{}.WithLimit(10), returned: 10, next: ptr(10)},
		{name: "middle page", res: results(100, 10, nil), opts: ResultOptions{}.WithLimit(10).WithOffset(40), returned: 10, next: ptr(50)},
		{name: "last page", res: results(100, 10, nil), opts: ResultOptions{}.WithOffset(90), returned: 10, next: nil},
		{name: "server next offset wins", res: results(100, 10, ptr(25)), opts: ResultOptions{}, returned: 10, next: ptr(25)},
		{name: "datapoints clamped to total", res: results(5, 9, nil), opts: ResultOptions{}, returned: 5, next: nil},
		{name: "empty", res: results(0, 0, nil), opts: ResultOptions{}, returned: 0, next: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := tt.res.Page(tt.opts)
			assert.Equal(t, tt.returned, p.Returned)
			assert.LessOrEqual(t, p.Returned, p.Total)
			assert.Equal(t, tt.next, p.NextOffset)
		})
	}
}

func TestExecutionResults_PageWithoutResult(t *testing.T) {
	res := &ExecutionResults{ExecutionStatus: ExecutionStatus{State: StateExecuting}}
	p := res.Page(ResultOptions{}.WithOffset(3))
	assert.Equal(t, PageInfo{Offset: 3}, p)
}

func TestExecutionResults_DecodeRoundTrip(t *testing.T) {
	payload := `{
		"execution_id": "01H",
		"query_id": 42,
		"state": "QUERY_STATE_COMPLETED",
		"result": {
			"rows": [{"block": 18446744073709551615, "hash": "0xabc"}],
			"metadata": {
				"column_names": ["block", "hash"],
				"column_types": ["uint256"],
				"total_row_count": 100,
				"datapoint_count": 10,
				"execution_time_millis": 85
			}
		}
	}`
	var res ExecutionResults
	require.NoError(t, decodeJSON([]byte(payload), &res))
	require.NotNil(t, res.Result)

	md := res.Result.Metadata
	assert.Equal(t, []string{"block", "hash"}, md.ColumnNames)
	assert.Equal(t, []string{"uint256"}, md.ColumnTypes)
	assert.Nil(t, md.ResultSetBytes)
	require.NotNil(t, md.ExecutionTimeMillis)
	assert.Equal(t, int64(85), *md.ExecutionTimeMillis)
	assert.Equal(t, json.Number("18446744073709551615"), res.Result.Rows[0]["block"])

	p := res.Page(ResultOptions{})
	assert.LessOrEqual(t, p.Returned, p.Total)
	assert.Equal(t, int64(10), p.Returned)
	assert.Equal(t, int64(100), p.Total)
}
