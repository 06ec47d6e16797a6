package services

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/Mayor78/mtbm-attendance-sub000/models"
)

// SubscriptionService holds exactly one logical feed subscription for the
// current interest set. Changing the set tears the subscription down and
// re-establishes it instead of layering subscriptions, which keeps
// per-session delivery ordering simple and bounds feed resources.
type SubscriptionService struct {
	source        models.FeedSource
	aggregator    *AggregationService
	metricService models.MetricService
	logger        models.Logger

	mu          sync.Mutex
	unsubscribe models.UnsubscribeFunc
	interest    map[string]struct{}
	closed      bool
}

func NewSubscriptionService(source models.FeedSource, aggregator *AggregationService, metricService models.MetricService, logger models.Logger) *SubscriptionService {
	return &SubscriptionService{
		source:        source,
		aggregator:    aggregator,
		metricService: metricService,
		logger:        logger,
		interest:      make(map[string]struct{}),
	}
}

// SetInterestSet replaces the observed sessions. Sessions entering the set
// get a fresh aggregate before the subscription exists, so no event can
// arrive for an unregistered session; sessions leaving the set have their
// aggregates discarded.
func (s *SubscriptionService) SetInterestSet(ctx context.Context, sessionIds []string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return models.NewTerminalError("subscription service closed", nil)
	}
	teardown := s.unsubscribe
	s.unsubscribe = nil

	next := make(map[string]struct{}, len(sessionIds))
	for _, sessionId := range sessionIds {
		next[sessionId] = struct{}{}
	}
	for sessionId := range s.interest {
		if _, kept := next[sessionId]; !kept {
			s.aggregator.DropSession(sessionId)
		}
	}
	for sessionId := range next {
		s.aggregator.RegisterSession(sessionId)
	}
	s.interest = next
	s.mu.Unlock()

	if teardown != nil {
		teardown()
		s.metricService.Count(ctx, models.MetricName_FeedResubscribed, 1)
	}
	if len(sessionIds) == 0 {
		return nil
	}

	// The guard outlives the subscription: a feed event delivered after
	// teardown is dropped here instead of mutating discarded state
	var active atomic.Bool
	active.Store(true)
	deliver := func(event *models.FeedEvent) {
		if !active.Load() {
			return
		}
		s.mu.Lock()
		_, observed := s.interest[event.SessionId]
		s.mu.Unlock()
		if !observed {
			s.metricService.Count(context.Background(), models.MetricName_FeedEventUnregistered, 1)
			s.logger.Debugf("feed: dropping event for session %s outside the interest set", event.SessionId)
			return
		}
		s.aggregator.AddToBatch(context.Background(), event)
	}

	sourceUnsubscribe, err := s.source.SubscribeInserts(ctx, sessionIds, deliver)
	if err != nil {
		active.Store(false)
		return err
	}
	s.mu.Lock()
	s.unsubscribe = func() {
		active.Store(false)
		sourceUnsubscribe()
	}
	s.mu.Unlock()
	s.logger.Infof("feed: subscribed to %d sessions", len(sessionIds))
	return nil
}

// Close tears down the active subscription. Safe to call more than once.
func (s *SubscriptionService) Close() {
	s.mu.Lock()
	teardown := s.unsubscribe
	s.unsubscribe = nil
	s.closed = true
	s.mu.Unlock()
	if teardown != nil {
		teardown()
		s.logger.Infoln("feed: unsubscribed")
	}
}

// InterestSet returns the currently observed session ids.
func (s *SubscriptionService) InterestSet() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	sessionIds := make([]string, 0, len(s.interest))
	for sessionId := range s.interest {
		sessionIds = append(sessionIds, sessionId)
	}
	return sessionIds
}
