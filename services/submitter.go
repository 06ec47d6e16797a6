package services

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/go-playground/validator"
	"github.com/google/uuid"

	"github.com/Mayor78/mtbm-attendance-sub000/common/retry"
	"github.com/Mayor78/mtbm-attendance-sub000/models"
)

// SubmissionService owns the durable presence submission queue: enqueue never
// blocks on the network, drain delivers queued items oldest first, and every
// queue mutation is written through to the store before the in-memory state
// changes, so a crash can lose an in-memory view but never a submission.
type SubmissionService struct {
	store         models.QueueStore
	client        models.SubmissionClient
	connectivity  models.ConnectivityMonitor
	metricService models.MetricService
	notifier      models.Notifier
	logger        models.Logger
	retryOpts     retry.Opts
	validator     *validator.Validate

	mu          sync.Mutex
	items       []*models.QueueItem
	draining    bool
	drainAgain  bool
	deliveredCb func(*models.QueueItem, models.SubmitOutcome)
	failedCb    func(*models.QueueItem, error)
}

func NewSubmissionService(
	store models.QueueStore,
	client models.SubmissionClient,
	connectivity models.ConnectivityMonitor,
	notifier models.Notifier,
	metricService models.MetricService,
	logger models.Logger,
) *SubmissionService {
	retryOpts := retry.DefaultOpts()
	if configBaseDelay, found := os.LookupEnv(models.Env_RetryBaseDelay); found {
		if parsedBaseDelay, err := time.ParseDuration(configBaseDelay); err == nil {
			retryOpts.BaseDelay = parsedBaseDelay
		}
	}
	if configMaxDelay, found := os.LookupEnv(models.Env_RetryMaxDelay); found {
		if parsedMaxDelay, err := time.ParseDuration(configMaxDelay); err == nil {
			retryOpts.MaxDelay = parsedMaxDelay
		}
	}
	if configMaxAttempts, found := os.LookupEnv(models.Env_RetryMaxAttempts); found {
		if parsedMaxAttempts, err := strconv.Atoi(configMaxAttempts); err == nil {
			retryOpts.MaxAttempts = parsedMaxAttempts
		}
	}
	return &SubmissionService{
		store:         store,
		client:        client,
		connectivity:  connectivity,
		metricService: metricService,
		notifier:      notifier,
		logger:        logger,
		retryOpts:     retryOpts,
		validator:     validator.New(),
	}
}

// Start reloads the persisted queue. Items enqueued before a crash come back
// with their attempt counts intact.
func (s *SubmissionService) Start(ctx context.Context) error {
	items, err := s.store.Load(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.items = items
	s.mu.Unlock()
	s.logger.Infof("submit: loaded %d pending items", len(items))
	return nil
}

// Run drains the queue on every offline->online transition until ctx is done.
func (s *SubmissionService) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.logger.Infoln("submit: stopped")
			return
		case online := <-s.connectivity.Transitions():
			if online {
				s.Drain(ctx)
			}
		}
	}
}

// OnDelivered registers the local "delivered" notification. A conflict
// outcome is reported here as SubmitOutcome_AlreadyRecorded: the event
// landed, just not through this attempt.
func (s *SubmissionService) OnDelivered(cb func(*models.QueueItem, models.SubmitOutcome)) {
	s.mu.Lock()
	s.deliveredCb = cb
	s.mu.Unlock()
}

// OnTerminalFailure registers the notification for items dropped without
// delivery, with the user-actionable error.
func (s *SubmissionService) OnTerminalFailure(cb func(*models.QueueItem, error)) {
	s.mu.Lock()
	s.failedCb = cb
	s.mu.Unlock()
}

// Enqueue appends a new submission to the persisted queue and returns it
// immediately. If the client believes it is online, a drain pass is kicked
// off in the background.
func (s *SubmissionService) Enqueue(ctx context.Context, payload models.PresencePayload) (*models.QueueItem, error) {
	if err := s.validator.Struct(payload); err != nil {
		return nil, models.NewTerminalError("invalid submission payload", err)
	}
	item := &models.QueueItem{
		Id:        uuid.New(),
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	// Persist before the item becomes visible in memory
	if err := s.store.Put(ctx, item); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.items = append(s.items, item)
	s.mu.Unlock()
	s.metricService.Count(ctx, models.MetricName_SubmitEnqueued, 1)
	s.logger.Debugw("submit: enqueued", "id", item.Id, "session", payload.SessionId)

	if s.connectivity.IsOnline() {
		go s.Drain(ctx)
	}
	return item, nil
}

func (s *SubmissionService) QueueLength() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *SubmissionService) IsProcessing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draining
}

// GetValue makes the service its own queue length monitor for gauge metrics.
func (s *SubmissionService) GetValue(ctx context.Context) (int, error) {
	return s.QueueLength(), nil
}

// Drain attempts delivery of every queued item, oldest first, sequentially.
// Sequential delivery is a deliberate throttle: a backlog accumulated offline
// must not hammer the server the moment connectivity returns. A Drain while
// another is in progress is coalesced into one more pass after the current
// one finishes, never run concurrently.
func (s *SubmissionService) Drain(ctx context.Context) {
	s.mu.Lock()
	if s.draining {
		s.drainAgain = true
		s.mu.Unlock()
		return
	}
	s.draining = true
	s.mu.Unlock()

	for {
		s.drainPass(ctx)

		s.mu.Lock()
		if s.drainAgain && ctx.Err() == nil {
			s.drainAgain = false
			s.mu.Unlock()
			continue
		}
		s.draining = false
		s.mu.Unlock()
		return
	}
}

func (s *SubmissionService) drainPass(ctx context.Context) {
	s.mu.Lock()
	batch := make([]*models.QueueItem, len(s.items))
	copy(batch, s.items)
	s.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	s.metricService.Distribution(ctx, models.MetricName_DrainPassSize, len(batch))
	s.logger.Infof("submit: draining %d items", len(batch))

	for _, item := range batch {
		if ctx.Err() != nil {
			return
		}
		if !s.drainItem(ctx, item) {
			// The server is unreachable even after retries. Leave the rest
			// of the backlog for the next transition instead of burning
			// retry cycles on every item.
			return
		}
	}
}

// drainItem returns false when the item failed transiently and the pass
// should stop.
func (s *SubmissionService) drainItem(ctx context.Context, item *models.QueueItem) bool {
	_, err := retry.Do(ctx, s.retryOpts, models.ClassifyError, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.client.Submit(ctx, item)
	})
	if err == nil {
		return s.settle(ctx, item, models.SubmitOutcome_Delivered, nil)
	}
	// Shutdown mid-submit is not a verdict on the item: leave it queued for
	// the next run instead of settling it as terminal.
	if ctx.Err() != nil {
		return false
	}
	switch models.ClassifyError(err) {
	case models.ErrorClass_Conflict:
		s.metricService.Count(ctx, models.MetricName_SubmitConflict, 1)
		return s.settle(ctx, item, models.SubmitOutcome_AlreadyRecorded, nil)
	case models.ErrorClass_Terminal:
		s.metricService.Count(ctx, models.MetricName_SubmitTerminal, 1)
		return s.settle(ctx, item, models.SubmitOutcome_Rejected, err)
	default:
		s.metricService.Count(ctx, models.MetricName_SubmitRetryExhausted, 1)
		s.recordAttempt(ctx, item)
		return false
	}
}

// settle removes a finished item, store first. If the store write fails the
// item stays queued and will be retried: the server is idempotent on the item
// id, so redelivery is a conflict, not a duplicate.
func (s *SubmissionService) settle(ctx context.Context, item *models.QueueItem, outcome models.SubmitOutcome, termErr error) bool {
	if err := s.store.Remove(ctx, item.Id); err != nil {
		s.logger.Errorf("submit: error removing %s from store: %v", item.Id, err)
		return false
	}
	s.mu.Lock()
	for idx, queued := range s.items {
		if queued.Id == item.Id {
			s.items = append(s.items[:idx], s.items[idx+1:]...)
			break
		}
	}
	deliveredCb := s.deliveredCb
	failedCb := s.failedCb
	s.mu.Unlock()

	if termErr != nil {
		s.logger.Warnf("submit: dropped %s: %v", item.Id, termErr)
		if s.notifier != nil {
			// Advisory only
			_ = s.notifier.SendAlert(
				models.AlertTitle,
				fmt.Sprintf(models.AlertMessageFmt_TerminalSubmission, item.Id, item.Payload.SessionId, termErr),
			)
		}
		if failedCb != nil {
			failedCb(item, termErr)
		}
		return true
	}
	if outcome == models.SubmitOutcome_Delivered {
		s.metricService.Count(ctx, models.MetricName_SubmitDelivered, 1)
	}
	s.logger.Infof("submit: %s %s", item.Id, outcome)
	if deliveredCb != nil {
		deliveredCb(item, outcome)
	}
	return true
}

func (s *SubmissionService) recordAttempt(ctx context.Context, item *models.QueueItem) {
	next := *item
	next.Attempts++
	// Write through before the in-memory counter moves
	if err := s.store.Put(ctx, &next); err != nil {
		s.logger.Errorf("submit: error persisting attempt count for %s: %v", item.Id, err)
		return
	}
	s.mu.Lock()
	item.Attempts = next.Attempts
	s.mu.Unlock()
}
