package feed

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	pubnub "github.com/pubnub/go/v7"

	"github.com/Mayor78/mtbm-attendance-sub000/models"
)

const channelPrefix = "presence-inserts-"

// PubNubSource delivers presence insert notifications pushed by the server
// over one PubNub channel per session. One listener loop serves the whole
// subscription; changing the interest set is a teardown plus resubscribe,
// owned by the subscription service.
type PubNubSource struct {
	pn     *pubnub.PubNub
	logger models.Logger
}

type PubNubOpts struct {
	SubscribeKey string
	UserId       string
}

func NewPubNubSource(opts PubNubOpts, logger models.Logger) *PubNubSource {
	pnCfg := pubnub.NewConfigWithUserId(pubnub.UserId(opts.UserId))
	pnCfg.SubscribeKey = opts.SubscribeKey
	return &PubNubSource{
		pn:     pubnub.NewPubNub(pnCfg),
		logger: logger,
	}
}

func (s *PubNubSource) SubscribeInserts(ctx context.Context, sessionIds []string, deliver func(*models.FeedEvent)) (models.UnsubscribeFunc, error) {
	channels := make([]string, len(sessionIds))
	for idx, sessionId := range sessionIds {
		channels[idx] = channelPrefix + sessionId
	}

	listener := pubnub.NewListener()
	done := make(chan struct{})
	go s.listen(ctx, listener, deliver, done)

	s.pn.AddListener(listener)
	s.pn.Subscribe().Channels(channels).Execute()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			s.pn.Unsubscribe().Channels(channels).Execute()
			s.pn.RemoveListener(listener)
			close(done)
		})
	}
	return unsubscribe, nil
}

func (s *PubNubSource) listen(ctx context.Context, listener *pubnub.Listener, deliver func(*models.FeedEvent), done chan struct{}) {
	for {
		select {
		case status := <-listener.Status:
			switch status.Category {
			case pubnub.PNConnectedCategory:
				s.logger.Infoln("feed: connected to pubnub")
			case pubnub.PNReconnectedCategory:
				s.logger.Infoln("feed: reconnected to pubnub")
			case pubnub.PNDisconnectedCategory:
				s.logger.Warnf("feed: disconnected from pubnub")
			case pubnub.PNReconnectionAttemptsExhausted:
				s.logger.Errorf("feed: pubnub reconnection attempts exhausted")
			default:
				s.logger.Debugf("feed: pubnub status %v", status.Category)
			}
		case message := <-listener.Message:
			if event, err := decodeEvent(message.Message); err != nil {
				s.logger.Errorf("feed: error decoding message on %s: %v", message.Channel, err)
			} else {
				deliver(event)
			}
		case <-done:
			return
		case <-ctx.Done():
			s.logger.Infoln("feed: closing subscription")
			return
		}
	}
}

func decodeEvent(message interface{}) (*models.FeedEvent, error) {
	var raw []byte
	var err error
	if str, ok := message.(string); ok {
		raw = []byte(str)
	} else if raw, err = json.Marshal(message); err != nil {
		return nil, err
	}
	event := new(models.FeedEvent)
	if err = json.Unmarshal(raw, event); err != nil {
		return nil, err
	}
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now()
	}
	return event, nil
}
