/*
Package dune is a client for the Dune Analytics query execution API.

A query runs asynchronously on the service. Submitting SQL text or a saved
query returns a Handle whose state is pending or executing. A Tracker polls
the execution status until the service reports a terminal state and then
either authorizes result retrieval (completed) or returns a typed error
(failed, cancelled, client-side timeout).

	client := dune.NewClient(os.Getenv("DUNE_API_KEY"))

	h, err := client.ExecuteSQL(ctx, dune.ExecuteSQLRequest{SQL: "SELECT 1"})
	if err != nil {
		return err
	}
	status, err := client.Tracker(dune.DefaultTrackerConfig()).Wait(ctx, *h)
	if err != nil {
		return err // *ExecutionFailedError, ErrCancelled, *TimeoutError, ...
	}
	res, err := client.Results(ctx, status.ExecutionID, dune.ResultOptions{}.WithLimit(100))

The service is the only authority on execution state. The tracker never
infers a transition locally; a cancel acknowledgment only means the request
was accepted, and tracking continues until the service itself reports
QUERY_STATE_CANCELLED.

Every error returned by this package is one of seven mutually exclusive
kinds, classified by KindOf.
*/
package dune
