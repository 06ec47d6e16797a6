package models

import (
	"context"

	"github.com/google/uuid"
)

// QueueStore is the persistence layer behind the submission queue. Writes
// must be durable before they return: persistence is authoritative over the
// in-memory queue.
type QueueStore interface {
	Load(ctx context.Context) ([]*QueueItem, error)
	Put(ctx context.Context, item *QueueItem) error
	Remove(ctx context.Context, id uuid.UUID) error
}

// SubmissionClient is the server-side RPC that records a presence event. It
// must be idempotent on QueueItem.Id and must return a RequestError with
// ErrorClass_Conflict when that id was already recorded.
type SubmissionClient interface {
	Submit(ctx context.Context, item *QueueItem) error
}

// ProfileRepository resolves display metadata for a student.
type ProfileRepository interface {
	GetProfile(ctx context.Context, studentId string) (*ProfileSummary, error)
}

type UnsubscribeFunc func()

// FeedSource establishes one push subscription for inserts on the given
// sessions. The returned UnsubscribeFunc tears the subscription down and must
// be safe to call more than once.
type FeedSource interface {
	SubscribeInserts(ctx context.Context, sessionIds []string, deliver func(*FeedEvent)) (UnsubscribeFunc, error)
}

// ConnectivityMonitor reports whether the server is believed reachable.
// Transitions delivers true when connectivity goes offline->online and false
// for the reverse.
type ConnectivityMonitor interface {
	IsOnline() bool
	Transitions() <-chan bool
}

type ResourceMonitor interface {
	GetValue(ctx context.Context) (int, error)
}

type Notifier interface {
	SendAlert(title, desc string) error
}

type MetricService interface {
	Count(ctx context.Context, name MetricName, val int) error
	Gauge(ctx context.Context, name MetricName, monitor ResourceMonitor) error
	Distribution(ctx context.Context, name MetricName, val int) error
	Shutdown(ctx context.Context)
}

type Logger interface {
	Debugf(template string, args ...interface{})
	Debugw(msg string, args ...interface{})
	Errorf(template string, args ...interface{})
	Fatalf(template string, args ...interface{})
	Infof(template string, args ...interface{})
	Infoln(args ...interface{})
	Warnf(template string, args ...interface{})
	Sync() error
}
