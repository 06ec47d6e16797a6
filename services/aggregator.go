package services

import (
	"context"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/abevier/tsk/futures"
	"github.com/abevier/tsk/ratelimiter"

	"github.com/Mayor78/mtbm-attendance-sub000/common/cache"
	"github.com/Mayor78/mtbm-attendance-sub000/common/retry"
	"github.com/Mayor78/mtbm-attendance-sub000/models"
)

const placeholderStudentName = "Unknown student"

// AggregationService coalesces bursts of feed events into consistent
// per-session aggregates. Events accumulate in a batch while a short debounce
// window keeps restarting on each arrival; once the feed goes quiet the whole
// batch is resolved together, which turns one metadata lookup per event into
// a handful of grouped lookups.
type AggregationService struct {
	profiles      models.ProfileRepository
	profileCache  *cache.Cache[string, *models.ProfileSummary]
	rateLimiter   *ratelimiter.RateLimiter[string, *models.ProfileSummary]
	metricService models.MetricService
	logger        models.Logger
	window        time.Duration
	logLimit      int
	retryOpts     retry.Opts

	// Cancelled in Close so in-flight retry backoff sleeps abort
	lifeCtx    context.Context
	lifeCancel context.CancelFunc

	mu            sync.Mutex
	aggregates    map[string]*models.SessionAggregate
	seenRecords   map[string]map[string]struct{}
	activity      []models.ActivityLogEntry
	activityCbs   []func([]models.ActivityLogEntry)
	pending       []*models.FeedEvent
	pendingFuture *futures.Future[*models.FlushedBatch]
	timer         *time.Timer
	closed        bool
}

func NewAggregationService(profiles models.ProfileRepository, metricService models.MetricService, logger models.Logger) *AggregationService {
	batchWindow := models.DefaultBatchWindow
	if configBatchWindow, found := os.LookupEnv(models.Env_BatchWindow); found {
		if parsedBatchWindow, err := time.ParseDuration(configBatchWindow); err == nil {
			batchWindow = parsedBatchWindow
		}
	}
	logLimit := models.DefaultActivityLogLimit
	if configLogLimit, found := os.LookupEnv(models.Env_ActivityLogLimit); found {
		if parsedLogLimit, err := strconv.Atoi(configLogLimit); err == nil {
			logLimit = parsedLogLimit
		}
	}
	cacheTtl := models.DefaultProfileCacheTtl
	if configCacheTtl, found := os.LookupEnv(models.Env_ProfileCacheTtl); found {
		if parsedCacheTtl, err := time.ParseDuration(configCacheTtl); err == nil {
			cacheTtl = parsedCacheTtl
		}
	}
	lifeCtx, lifeCancel := context.WithCancel(context.Background())
	aggregationService := AggregationService{
		profiles:      profiles,
		lifeCtx:       lifeCtx,
		lifeCancel:    lifeCancel,
		profileCache:  cache.New[string, *models.ProfileSummary](cacheTtl),
		metricService: metricService,
		logger:        logger,
		window:        batchWindow,
		logLimit:      logLimit,
		retryOpts:     retry.DefaultOpts(),
		aggregates:    make(map[string]*models.SessionAggregate),
		seenRecords:   make(map[string]map[string]struct{}),
	}
	rlOpts := ratelimiter.Opts{
		Limit:             models.DefaultResolveRateLimit,
		Burst:             models.DefaultResolveRateLimit,
		MaxQueueDepth:     models.DefaultResolveQueueDepth,
		FullQueueStrategy: ratelimiter.BlockWhenFull,
	}
	aggregationService.rateLimiter = ratelimiter.New(rlOpts, func(ctx context.Context, studentId string) (*models.ProfileSummary, error) {
		return profiles.GetProfile(ctx, studentId)
	})
	return &aggregationService
}

// RegisterSession creates the empty aggregate for a session entering the
// interest set.
func (a *AggregationService) RegisterSession(sessionId string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, found := a.aggregates[sessionId]; !found {
		a.aggregates[sessionId] = &models.SessionAggregate{
			SessionId:         sessionId,
			PresentStudentIds: make(map[string]struct{}),
		}
		a.seenRecords[sessionId] = make(map[string]struct{})
	}
}

// DropSession discards the aggregate for a session leaving the interest set.
func (a *AggregationService) DropSession(sessionId string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.aggregates, sessionId)
	delete(a.seenRecords, sessionId)
}

// AddToBatch appends an event to the in-flight batch and restarts the
// debounce window. The returned future completes when the batch the event
// ended up in has been flushed. Safe to call at any time, including while a
// previous flush is still running.
func (a *AggregationService) AddToBatch(ctx context.Context, event *models.FeedEvent) *futures.Future[*models.FlushedBatch] {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		future := futures.New[*models.FlushedBatch]()
		future.Fail(models.NewTerminalError("aggregator closed", nil))
		return future
	}
	a.pending = append(a.pending, event)
	if a.pendingFuture == nil {
		a.pendingFuture = futures.New[*models.FlushedBatch]()
	}
	future := a.pendingFuture
	if a.timer != nil {
		a.timer.Stop()
	}
	a.timer = time.AfterFunc(a.window, a.flush)
	a.mu.Unlock()

	a.metricService.Count(ctx, models.MetricName_FeedEventReceived, 1)
	return future
}

func (a *AggregationService) flush() {
	a.mu.Lock()
	// A timer that fires after Close must not touch discarded state
	if a.closed {
		a.mu.Unlock()
		return
	}
	batch := a.pending
	future := a.pendingFuture
	a.pending = nil
	a.pendingFuture = nil
	a.timer = nil
	a.mu.Unlock()

	if len(batch) == 0 {
		if future != nil {
			future.Complete(&models.FlushedBatch{Flushed: time.Now()})
		}
		return
	}

	ctx := context.Background()
	profilesById := a.resolveBatch(a.lifeCtx, batch)
	entries, merged, err := a.merge(batch, profilesById)
	if err != nil {
		future.Fail(err)
		return
	}

	a.metricService.Count(ctx, models.MetricName_BatchFlushed, 1)
	a.metricService.Distribution(ctx, models.MetricName_BatchSize, len(batch))
	a.logger.Debugf("aggregate: flushed batch of %d, merged %d", len(batch), merged)

	future.Complete(&models.FlushedBatch{
		Size:    len(batch),
		Merged:  merged,
		Entries: entries,
		Flushed: time.Now(),
	})
}

// resolveBatch resolves the metadata for every distinct student in the batch.
// A lookup that fails even after retries yields placeholder identity instead
// of dropping the event: the record itself still counts, only the display
// name degrades.
func (a *AggregationService) resolveBatch(ctx context.Context, batch []*models.FeedEvent) map[string]*models.ProfileSummary {
	profilesById := make(map[string]*models.ProfileSummary)
	for _, event := range batch {
		if _, found := profilesById[event.StudentId]; found {
			continue
		}
		studentId := event.StudentId
		profile, err := a.profileCache.Get(ctx, studentId, func(ctx context.Context) (*models.ProfileSummary, error) {
			a.metricService.Count(ctx, models.MetricName_ProfileCacheMiss, 1)
			return retry.Do(ctx, a.retryOpts, models.ClassifyError, func(ctx context.Context) (*models.ProfileSummary, error) {
				return a.rateLimiter.Submit(ctx, studentId)
			})
		})
		if err != nil {
			a.metricService.Count(ctx, models.MetricName_ResolveFallback, 1)
			a.logger.Warnf("aggregate: falling back to placeholder identity for %s: %v", studentId, err)
			profile = nil
		}
		profilesById[studentId] = profile
	}
	return profilesById
}

func (a *AggregationService) merge(batch []*models.FeedEvent, profilesById map[string]*models.ProfileSummary) ([]models.ActivityLogEntry, int, error) {
	now := time.Now()
	entries := make([]models.ActivityLogEntry, 0, len(batch))

	a.mu.Lock()
	// Close may have arrived while the batch was resolving
	if a.closed {
		a.mu.Unlock()
		return nil, 0, models.NewTerminalError("aggregator closed", nil)
	}
	for _, event := range batch {
		aggregate, found := a.aggregates[event.SessionId]
		if !found {
			// Sessions are registered before subscribing, so an unknown
			// session means the feed outlived the interest set
			a.logger.Debugf("aggregate: ignoring event for unobserved session %s", event.SessionId)
			continue
		}
		// Set union: at-least-once delivery makes re-adding a no-op
		aggregate.PresentStudentIds[event.StudentId] = struct{}{}
		if _, seen := a.seenRecords[event.SessionId][event.RecordId]; seen {
			aggregate.LastUpdated = now
			continue
		}
		a.seenRecords[event.SessionId][event.RecordId] = struct{}{}
		aggregate.Records = append(aggregate.Records, models.PresenceRecord{
			RecordId:   event.RecordId,
			StudentId:  event.StudentId,
			ReceivedAt: event.ReceivedAt,
		})
		aggregate.LastUpdated = now

		entry := models.ActivityLogEntry{
			SessionId:  event.SessionId,
			RecordId:   event.RecordId,
			StudentId:  event.StudentId,
			ReceivedAt: event.ReceivedAt,
		}
		if profile := profilesById[event.StudentId]; profile != nil {
			entry.StudentName = profile.Name
			entry.CourseCode = profile.CourseCode
		} else {
			entry.StudentName = placeholderStudentName
			entry.Placeholder = true
		}
		entries = append(entries, entry)
	}

	// Prepend the new entries in batch order, then truncate to the cap
	if len(entries) > 0 {
		a.activity = append(append([]models.ActivityLogEntry{}, entries...), a.activity...)
		if len(a.activity) > a.logLimit {
			a.activity = a.activity[:a.logLimit]
		}
	}
	snapshot := make([]models.ActivityLogEntry, len(a.activity))
	copy(snapshot, a.activity)
	callbacks := make([]func([]models.ActivityLogEntry), len(a.activityCbs))
	copy(callbacks, a.activityCbs)
	a.mu.Unlock()

	if len(entries) > 0 {
		for _, callback := range callbacks {
			callback(snapshot)
		}
	}
	return entries, len(entries), nil
}

// GetAggregate returns a copy of the current merged view for a session, or
// nil if the session is not being observed.
func (a *AggregationService) GetAggregate(sessionId string) *models.SessionAggregate {
	a.mu.Lock()
	defer a.mu.Unlock()
	aggregate, found := a.aggregates[sessionId]
	if !found {
		return nil
	}
	presentStudentIds := make(map[string]struct{}, len(aggregate.PresentStudentIds))
	for studentId := range aggregate.PresentStudentIds {
		presentStudentIds[studentId] = struct{}{}
	}
	records := make([]models.PresenceRecord, len(aggregate.Records))
	copy(records, aggregate.Records)
	return &models.SessionAggregate{
		SessionId:         aggregate.SessionId,
		PresentStudentIds: presentStudentIds,
		Records:           records,
		LastUpdated:       aggregate.LastUpdated,
	}
}

// OnActivity registers a dashboard callback invoked with a snapshot of the
// activity log after every flush that merged something.
func (a *AggregationService) OnActivity(callback func([]models.ActivityLogEntry)) {
	a.mu.Lock()
	a.activityCbs = append(a.activityCbs, callback)
	a.mu.Unlock()
}

func (a *AggregationService) ActivityLog() []models.ActivityLogEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	snapshot := make([]models.ActivityLogEntry, len(a.activity))
	copy(snapshot, a.activity)
	return snapshot
}

// InvalidateProfile drops one cached profile after a write that changed it.
func (a *AggregationService) InvalidateProfile(studentId string) {
	a.profileCache.Invalidate(studentId)
}

// InvalidateProfiles clears the whole profile cache, used on identity change.
func (a *AggregationService) InvalidateProfiles() {
	a.profileCache.InvalidateAll()
}

// Close stops the pending batch window. A batch still buffered is failed, not
// silently flushed: its events will be replayed by the feed on resubscribe.
func (a *AggregationService) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.closed = true
	a.lifeCancel()
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	if a.pendingFuture != nil {
		a.pendingFuture.Fail(models.NewTerminalError("aggregator closed", nil))
		a.pendingFuture = nil
	}
	a.pending = nil
}
