package dune_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/grafana/dskit/backoff"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dune-client/internal/emulator"
	"dune-client/internal/middleware"
	"dune-client/pkg/dune"
)

func startEmulator(t *testing.T, opts emulator.Options) *dune.Client {
	t.Helper()
	opts.APIKey = "e2e-key"
	api, err := emulator.New(opts)
	require.NoError(t, err)
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	return dune.NewClient("e2e-key", dune.WithBaseURL(srv.URL+"/api"))
}

func quickTracking() dune.TrackerConfig {
	return dune.TrackerConfig{
		Interval: backoff.Config{MinBackoff: 2 * time.Millisecond, MaxBackoff: 10 * time.Millisecond},
		Timeout:  10 * time.Second,
	}
}

func TestEmulator_RunSQL(t *testing.T) {
	c := startEmulator(t, emulator.Options{})

	res, err := c.RunSQL(context.Background(), dune.ExecuteSQLRequest{SQL: "SELECT 42 AS answer"}, quickTracking(), dune.ResultOptions{})
	require.NoError(t, err)

	assert.Equal(t, dune.StateCompleted, res.State)
	require.NotNil(t, res.Result)
	assert.Equal(t, []string{"answer"}, res.Result.Metadata.ColumnNames)
	assert.Equal(t, json.Number("42"), res.Result.Rows[0]["answer"])
	assert.NotNil(t, res.ExecutionEndedAt)
	assert.NotNil(t, res.ExpiresAt)
}

func TestEmulator_FailedExecution(t *testing.T) {
	c := startEmulator(t, emulator.Options{Fixtures: &emulator.FixtureSet{SQL: map[string]emulator.Fixture{
		"SELEC 1": {
			States:       []dune.ExecutionState{dune.StatePending, dune.StateFailed},
			ErrorMessage: "line 1:1: mismatched input 'SELEC'",
		},
	}}})

	_, err := c.RunSQL(context.Background(), dune.ExecuteSQLRequest{SQL: "SELEC 1"}, quickTracking(), dune.ResultOptions{})
	var failed *dune.ExecutionFailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, "line 1:1: mismatched input 'SELEC'", failed.Message)
}

func TestEmulator_CancelFlow(t *testing.T) {
	running := emulator.Fixture{States: []dune.ExecutionState{dune.StateExecuting}}
	c := startEmulator(t, emulator.Options{CancelLag: 2, Fixtures: &emulator.FixtureSet{Default: &running}})
	ctx := context.Background()

	h, err := c.ExecuteSQL(ctx, dune.ExecuteSQLRequest{SQL: "SELECT pg_sleep(600)"})
	require.NoError(t, err)

	s := c.Tracker(quickTracking()).Track(*h)
	ok, err := s.Cancel(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = s.Wait(ctx)
	assert.ErrorIs(t, err, dune.ErrCancelled)
	assert.Equal(t, 3, s.Polls(), "cancellation becomes visible only on the third poll")
}

func TestEmulator_PaginatedResults(t *testing.T) {
	rows := make([][]any, 25)
	for i := range rows {
		rows[i] = []any{i}
	}
	fixture := emulator.Fixture{
		States:  []dune.ExecutionState{dune.StateExecuting, dune.StateCompleted},
		Columns: []string{"n"},
		Rows:    rows,
	}
	c := startEmulator(t, emulator.Options{Fixtures: &emulator.FixtureSet{Queries: map[int64]emulator.Fixture{77: fixture}}})
	ctx := context.Background()

	h, err := c.ExecuteQuery(ctx, 77, dune.ExecuteQueryRequest{})
	require.NoError(t, err)
	_, err = c.Tracker(quickTracking()).Wait(ctx, *h)
	require.NoError(t, err)

	opts := dune.ResultOptions{}.WithLimit(10).WithOffset(10)
	page, err := c.Results(ctx, h.ExecutionID, opts)
	require.NoError(t, err)
	info := page.Page(opts)
	assert.Equal(t, int64(10), info.Returned)
	assert.Equal(t, int64(25), info.Total)
	require.NotNil(t, info.NextOffset)
	assert.Equal(t, int64(20), *info.NextOffset)

	all, err := c.AllResults(ctx, h.ExecutionID, dune.ResultOptions{}, 7)
	require.NoError(t, err)
	assert.Len(t, all.Result.Rows, 25)
	assert.Equal(t, json.Number("24"), all.Result.Rows[24]["n"])

	sorted, err := c.AllResults(ctx, h.ExecutionID, dune.ResultOptions{}.WithSort("n", dune.SortDesc).WithOffset(20), 2)
	require.NoError(t, err)
	require.Len(t, sorted.Result.Rows, 5)
	assert.Equal(t, json.Number("4"), sorted.Result.Rows[0]["n"])
	assert.Equal(t, json.Number("0"), sorted.Result.Rows[4]["n"])

	latest, err := c.LatestResults(ctx, 77, dune.ResultOptions{}.WithLimit(1))
	require.NoError(t, err)
	assert.Equal(t, h.ExecutionID, latest.ExecutionID)

	csv, err := c.ResultsCSV(ctx, h.ExecutionID, dune.ResultOptions{}.WithLimit(2).WithSort("n", dune.SortDesc))
	require.NoError(t, err)
	assert.Equal(t, "n\n24\n23\n", string(csv))
}

func TestEmulator_ErrorKinds(t *testing.T) {
	c := startEmulator(t, emulator.Options{})
	ctx := context.Background()

	_, err := dune.NewClient("wrong", dune.WithBaseURL(c.BaseURL())).Status(ctx, "x")
	assert.Equal(t, dune.KindInvalidAPIKey, dune.KindOf(err))

	_, err = c.Status(ctx, "missing")
	assert.Equal(t, dune.KindAPI, dune.KindOf(err))

	_, err = c.ExecuteSQL(ctx, dune.ExecuteSQLRequest{SQL: "SELECT 1", Performance: "huge"})
	var apiErr *dune.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 400, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "performance")

	h, err := c.ExecuteSQL(ctx, dune.ExecuteSQLRequest{SQL: "SELECT 1"})
	require.NoError(t, err)
	_, err = c.Tracker(quickTracking()).Wait(ctx, *h)
	require.NoError(t, err)
	_, err = c.Results(ctx, h.ExecutionID, dune.ResultOptions{}.WithFilters("answer > 1"))
	assert.Equal(t, dune.KindAPI, dune.KindOf(err))
}

func TestEmulator_RateLimitedIsAPIError(t *testing.T) {
	api, err := emulator.New(emulator.Options{APIKey: "k"})
	require.NoError(t, err)
	limited := middleware.RateLimiter(middleware.RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1})(api)
	srv := httptest.NewServer(limited)
	t.Cleanup(srv.Close)
	c := dune.NewClient("k", dune.WithBaseURL(srv.URL+"/api"))

	_, err = c.ExecuteSQL(context.Background(), dune.ExecuteSQLRequest{SQL: "SELECT 1"})
	require.NoError(t, err)

	_, err = c.ExecuteSQL(context.Background(), dune.ExecuteSQLRequest{SQL: "SELECT 1"})
	var apiErr *dune.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 429, apiErr.StatusCode)
	assert.Equal(t, "rate limit exceeded", apiErr.Message)
}

func TestEmulator_WaitAll(t *testing.T) {
	c := startEmulator(t, emulator.Options{})
	ctx := context.Background()

	var handles []dune.Handle
	for range 4 {
		h, err := c.ExecuteSQL(ctx, dune.ExecuteSQLRequest{SQL: "SELECT 42"})
		require.NoError(t, err)
		handles = append(handles, *h)
	}
	statuses, err := c.Tracker(quickTracking()).WaitAll(ctx, handles)
	require.NoError(t, err)
	for i, st := range statuses {
		assert.Equal(t, handles[i].ExecutionID, st.ExecutionID)
		assert.True(t, st.State.IsSuccess())
	}
}
