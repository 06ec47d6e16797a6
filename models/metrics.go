package models

type MetricName string

// Counts
const (
	MetricName_SubmitEnqueued        MetricName = "submit_enqueued"
	MetricName_SubmitDelivered       MetricName = "submit_delivered"
	MetricName_SubmitConflict        MetricName = "submit_conflict"
	MetricName_SubmitTerminal        MetricName = "submit_terminal"
	MetricName_SubmitRetryExhausted  MetricName = "submit_retry_exhausted"
	MetricName_FeedEventReceived     MetricName = "feed_event_received"
	MetricName_FeedEventUnregistered MetricName = "feed_event_unregistered"
	MetricName_FeedResubscribed      MetricName = "feed_resubscribed"
	MetricName_BatchFlushed          MetricName = "batch_flushed"
	MetricName_ResolveFallback       MetricName = "resolve_fallback"
	MetricName_ProfileCacheMiss      MetricName = "profile_cache_miss"
)

// Distributions
const (
	MetricName_DrainPassSize MetricName = "drain_pass_size"
	MetricName_BatchSize     MetricName = "batch_size"
)

// Gauges
const (
	MetricName_QueueLength MetricName = "queue_length"
)

const MetricsCallerName = "presenced"
