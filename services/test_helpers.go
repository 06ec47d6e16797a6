package services

import (
	"context"
	"reflect"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/Mayor78/mtbm-attendance-sub000/models"
)

func Assert(t *testing.T, expected any, received any, message string) {
	t.Helper()
	if !reflect.DeepEqual(expected, received) {
		t.Errorf("%s: expected %v, received %v", message, expected, received)
	}
}

type FakeQueueStore struct {
	mu      sync.Mutex
	entries map[uuid.UUID]models.QueueItem
	failOn  int
	puts    int
}

func NewFakeQueueStore() *FakeQueueStore {
	return &FakeQueueStore{entries: make(map[uuid.UUID]models.QueueItem)}
}

func (f *FakeQueueStore) Load(ctx context.Context) ([]*models.QueueItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]*models.QueueItem, 0, len(f.entries))
	for _, entry := range f.entries {
		item := entry
		items = append(items, &item)
	}
	// Oldest first, mirroring the real stores
	for i := 0; i < len(items); i++ {
		for j := i + 1; j < len(items); j++ {
			if items[j].CreatedAt.Before(items[i].CreatedAt) {
				items[i], items[j] = items[j], items[i]
			}
		}
	}
	return items, nil
}

func (f *FakeQueueStore) Put(ctx context.Context, item *models.QueueItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts++
	if f.failOn != 0 && f.puts == f.failOn {
		return models.NewTransientError("store write failed", nil)
	}
	// Stored by value: later in-memory mutation must not leak into the store
	f.entries[item.Id] = *item
	return nil
}

func (f *FakeQueueStore) Remove(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, id)
	return nil
}

func (f *FakeQueueStore) size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

func (f *FakeQueueStore) get(id uuid.UUID) (models.QueueItem, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, found := f.entries[id]
	return entry, found
}

// FakeSubmissionClient behaves like the idempotent server: a submission id it
// has already recorded comes back as a conflict. Scripted errors, if any, are
// consumed first.
type FakeSubmissionClient struct {
	mu        sync.Mutex
	recorded  map[uuid.UUID]bool
	errorsFor map[uuid.UUID][]error
	calls     int
	gate      chan struct{}
	entered   chan struct{}
}

func NewFakeSubmissionClient() *FakeSubmissionClient {
	return &FakeSubmissionClient{
		recorded:  make(map[uuid.UUID]bool),
		errorsFor: make(map[uuid.UUID][]error),
	}
}

func (f *FakeSubmissionClient) Submit(ctx context.Context, item *models.QueueItem) error {
	f.mu.Lock()
	f.calls++
	gate := f.gate
	entered := f.entered
	f.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if errs := f.errorsFor[item.Id]; len(errs) > 0 {
		err := errs[0]
		f.errorsFor[item.Id] = errs[1:]
		return err
	}
	if f.recorded[item.Id] {
		return models.NewConflictError("already recorded")
	}
	f.recorded[item.Id] = true
	return nil
}

func (f *FakeSubmissionClient) numCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *FakeSubmissionClient) numRecorded() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.recorded)
}

type FakeConnectivityMonitor struct {
	mu          sync.Mutex
	online      bool
	transitions chan bool
}

func NewFakeConnectivityMonitor(online bool) *FakeConnectivityMonitor {
	return &FakeConnectivityMonitor{online: online, transitions: make(chan bool, 8)}
}

func (f *FakeConnectivityMonitor) IsOnline() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online
}

func (f *FakeConnectivityMonitor) Transitions() <-chan bool {
	return f.transitions
}

func (f *FakeConnectivityMonitor) setOnline(online bool) {
	f.mu.Lock()
	f.online = online
	f.mu.Unlock()
	f.transitions <- online
}

type MockMetricService struct {
	mu            sync.Mutex
	counts        map[models.MetricName]int
	distributions map[models.MetricName][]int
}

func NewMockMetricService() *MockMetricService {
	return &MockMetricService{
		counts:        make(map[models.MetricName]int),
		distributions: make(map[models.MetricName][]int),
	}
}

func (m *MockMetricService) Count(ctx context.Context, name models.MetricName, val int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[name] += val
	return nil
}

func (m *MockMetricService) Distribution(ctx context.Context, name models.MetricName, val int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.distributions[name] = append(m.distributions[name], val)
	return nil
}

func (m *MockMetricService) Gauge(ctx context.Context, name models.MetricName, monitor models.ResourceMonitor) error {
	return nil
}

func (m *MockMetricService) Shutdown(ctx context.Context) {}

func (m *MockMetricService) count(name models.MetricName) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[name]
}

type MockNotifier struct {
	mu     sync.Mutex
	alerts []string
}

func (m *MockNotifier) SendAlert(title, desc string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, title+": "+desc)
	return nil
}

func (m *MockNotifier) numAlerts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.alerts)
}

// FakeProfileRepository serves scripted profiles; transientFailures[id]
// failures are returned before the profile, and terminal ids always fail.
type FakeProfileRepository struct {
	mu                sync.Mutex
	profiles          map[string]*models.ProfileSummary
	transientFailures map[string]int
	calls             map[string]int
	gate              chan struct{}
	entered           chan struct{}
}

func NewFakeProfileRepository() *FakeProfileRepository {
	return &FakeProfileRepository{
		profiles:          make(map[string]*models.ProfileSummary),
		transientFailures: make(map[string]int),
		calls:             make(map[string]int),
	}
}

func (f *FakeProfileRepository) GetProfile(ctx context.Context, studentId string) (*models.ProfileSummary, error) {
	f.mu.Lock()
	gate := f.gate
	entered := f.entered
	f.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[studentId]++
	if f.transientFailures[studentId] > 0 {
		f.transientFailures[studentId]--
		return nil, models.NewTransientError("profile db unreachable", nil)
	}
	profile, found := f.profiles[studentId]
	if !found {
		return nil, models.NewTerminalError("unknown student "+studentId, nil)
	}
	return profile, nil
}

func (f *FakeProfileRepository) numCalls(studentId string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[studentId]
}

type FakeFeedSource struct {
	mu             sync.Mutex
	deliver        func(*models.FeedEvent)
	sessionIds     []string
	subscribeCalls int
	unsubscribes   int
}

func (f *FakeFeedSource) SubscribeInserts(ctx context.Context, sessionIds []string, deliver func(*models.FeedEvent)) (models.UnsubscribeFunc, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribeCalls++
	f.sessionIds = sessionIds
	f.deliver = deliver
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.unsubscribes++
	}, nil
}

// emit pushes an event through the most recent subscription's callback, even
// if that subscription has since been torn down, which is exactly what a
// late feed delivery looks like.
func (f *FakeFeedSource) emit(event *models.FeedEvent) {
	f.mu.Lock()
	deliver := f.deliver
	f.mu.Unlock()
	if deliver != nil {
		deliver(event)
	}
}

func (f *FakeFeedSource) numUnsubscribes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unsubscribes
}
