package metrics

// Metric names
const (
	MetricNameSyncRunsTotal        = "pocketsync_sync_runs_total"
	MetricNameSyncDuration         = "pocketsync_sync_duration_seconds"
	MetricNameItemsFetchedTotal    = "pocketsync_items_fetched_total"
	MetricNameSyncCursor           = "pocketsync_sync_cursor_timestamp_seconds"
	MetricNameReconcileRunsTotal   = "pocketsync_reconcile_runs_total"
	MetricNameReconcileActions     = "pocketsync_reconcile_actions_total"
	MetricNameIndexEventsTotal     = "pocketsync_index_events_total"
	MetricNameIndexEntries         = "pocketsync_index_entries"
	MetricNameNotesCreatedTotal    = "pocketsync_notes_created_total"
	MetricNameHTTPRequestsTotal    = "pocketsync_http_requests_total"
	MetricNameHTTPRequestDuration  = "pocketsync_http_request_duration_seconds"
	MetricNameHTTPRequestsInFlight = "pocketsync_http_requests_in_flight"
)

// Help text
const (
	HelpTextSyncRunsTotal        = "Sync passes by outcome"
	HelpTextSyncDuration         = "Duration of successful sync passes in seconds"
	HelpTextItemsFetchedTotal    = "Items received from the remote API"
	HelpTextSyncCursor           = "Server timestamp of the last successful sync"
	HelpTextReconcileRunsTotal   = "Tag reconciliation runs by outcome"
	HelpTextReconcileActions     = "Tag mutation actions by kind and result"
	HelpTextIndexEventsTotal     = "URL index maintenance events by type"
	HelpTextIndexEntries         = "Number of URL index entries after the last rebuild"
	HelpTextNotesCreatedTotal    = "Notes created for items"
	HelpTextHTTPRequestsTotal    = "Dashboard HTTP requests"
	HelpTextHTTPRequestDuration  = "Dashboard HTTP request latency in seconds"
	HelpTextHTTPRequestsInFlight = "Dashboard HTTP requests being served"
)

// Labels
const (
	LabelOutcome = "outcome"
	LabelKind    = "kind"
	LabelResult  = "result"
	LabelType    = "type"
	LabelMethod  = "method"
	LabelPath    = "path"
	LabelStatus  = "status"
)

// Outcome label values
const (
	OutcomeSuccess    = "success"
	OutcomeFailure    = "failure"
	OutcomeInProgress = "already_in_progress"
	OutcomeNoop       = "nothing_to_do"
	OutcomeSkipped    = "not_configured"
)
