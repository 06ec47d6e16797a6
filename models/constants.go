package models

import "time"

const DefaultRetryBaseDelay = 500 * time.Millisecond
const DefaultRetryMaxDelay = 30 * time.Second
const DefaultRetryMaxAttempts = 4

const DefaultBatchWindow = 100 * time.Millisecond
const DefaultActivityLogLimit = 50
const DefaultProfileCacheTtl = 5 * time.Minute

const DefaultResolveRateLimit = 16
const DefaultResolveQueueDepth = 256

const DefaultProbeInterval = 15 * time.Second

const (
	Env_RetryBaseDelay   = "RETRY_BASE_DELAY"
	Env_RetryMaxDelay    = "RETRY_MAX_DELAY"
	Env_RetryMaxAttempts = "RETRY_MAX_ATTEMPTS"
	Env_BatchWindow      = "BATCH_WINDOW"
	Env_ActivityLogLimit = "ACTIVITY_LOG_LIMIT"
	Env_ProfileCacheTtl  = "PROFILE_CACHE_TTL"
	Env_ProbeInterval    = "PROBE_INTERVAL"
)
