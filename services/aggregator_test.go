package services

import (
	"context"
	"testing"
	"time"

	"github.com/abevier/tsk/futures"

	"github.com/Mayor78/mtbm-attendance-sub000/common/loggers"
	"github.com/Mayor78/mtbm-attendance-sub000/models"
)

func testEvent(sessionId, recordId, studentId string) *models.FeedEvent {
	return &models.FeedEvent{
		SessionId:  sessionId,
		RecordId:   recordId,
		StudentId:  studentId,
		ReceivedAt: time.Now(),
	}
}

func newTestAggregationService(profiles *FakeProfileRepository) (*AggregationService, *MockMetricService) {
	metricService := NewMockMetricService()
	service := NewAggregationService(profiles, metricService, loggers.NewTestLogger())
	return service, metricService
}

func TestAddToBatchDebounces(t *testing.T) {
	t.Setenv(models.Env_BatchWindow, "100ms")

	profiles := NewFakeProfileRepository()
	profiles.profiles["student-1"] = &models.ProfileSummary{StudentId: "student-1", Name: "Ada", CourseCode: "CS101"}
	service, _ := newTestAggregationService(profiles)
	defer service.Close()
	service.RegisterSession("session-1")

	// Three arrivals inside one another's windows must land in one batch
	start := time.Now()
	service.AddToBatch(context.Background(), testEvent("session-1", "record-1", "student-1"))
	time.Sleep(50 * time.Millisecond)
	service.AddToBatch(context.Background(), testEvent("session-1", "record-2", "student-1"))
	time.Sleep(40 * time.Millisecond)
	future := service.AddToBatch(context.Background(), testEvent("session-1", "record-3", "student-1"))

	flushed, err := future.Get(context.Background())
	if err != nil {
		t.Fatalf("Failed to flush batch: %v", err)
	}
	elapsed := time.Since(start)
	Assert(t, 3, flushed.Size, "All three events should share one batch")
	if elapsed < 180*time.Millisecond {
		t.Errorf("Window should restart on each arrival, flushed after %s", elapsed)
	}
	Assert(t, 1, profiles.numCalls("student-1"), "One lookup should cover the whole batch")
}

func TestMergeDeduplicates(t *testing.T) {
	t.Setenv(models.Env_BatchWindow, "10ms")

	tests := map[string]struct {
		events           []*models.FeedEvent
		expectedRecords  int
		expectedPresent  int
		expectedActivity int
	}{
		"Can merge distinct records": {
			events: []*models.FeedEvent{
				testEvent("session-1", "record-1", "student-1"),
				testEvent("session-1", "record-2", "student-2"),
			},
			expectedRecords:  2,
			expectedPresent:  2,
			expectedActivity: 2,
		},
		"Should collapse redelivered records": {
			events: []*models.FeedEvent{
				testEvent("session-1", "record-1", "student-1"),
				testEvent("session-1", "record-1", "student-1"),
				testEvent("session-1", "record-1", "student-1"),
			},
			expectedRecords:  1,
			expectedPresent:  1,
			expectedActivity: 1,
		},
		"Should count a student once across records": {
			events: []*models.FeedEvent{
				testEvent("session-1", "record-1", "student-1"),
				testEvent("session-1", "record-2", "student-1"),
			},
			expectedRecords:  2,
			expectedPresent:  1,
			expectedActivity: 2,
		},
		"Should ignore events for unobserved sessions": {
			events: []*models.FeedEvent{
				testEvent("session-1", "record-1", "student-1"),
				testEvent("session-9", "record-2", "student-2"),
			},
			expectedRecords:  1,
			expectedPresent:  1,
			expectedActivity: 1,
		},
	}
	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			profiles := NewFakeProfileRepository()
			profiles.profiles["student-1"] = &models.ProfileSummary{StudentId: "student-1", Name: "Ada", CourseCode: "CS101"}
			profiles.profiles["student-2"] = &models.ProfileSummary{StudentId: "student-2", Name: "Grace", CourseCode: "CS101"}
			service, _ := newTestAggregationService(profiles)
			defer service.Close()
			service.RegisterSession("session-1")

			var future *futures.Future[*models.FlushedBatch]
			for _, event := range test.events {
				future = service.AddToBatch(context.Background(), event)
			}
			if _, err := future.Get(context.Background()); err != nil {
				t.Fatalf("Failed to flush batch: %v", err)
			}

			aggregate := service.GetAggregate("session-1")
			if aggregate == nil {
				t.Fatalf("Observed session should have an aggregate")
			}
			Assert(t, test.expectedRecords, len(aggregate.Records), "Unexpected record count")
			Assert(t, test.expectedPresent, len(aggregate.PresentStudentIds), "Unexpected present set size")
			Assert(t, test.expectedActivity, len(service.ActivityLog()), "Unexpected activity log length")
		})
	}
}

func TestRedeliveryAcrossBatches(t *testing.T) {
	t.Setenv(models.Env_BatchWindow, "10ms")

	profiles := NewFakeProfileRepository()
	profiles.profiles["student-1"] = &models.ProfileSummary{StudentId: "student-1", Name: "Ada", CourseCode: "CS101"}
	service, _ := newTestAggregationService(profiles)
	defer service.Close()
	service.RegisterSession("session-1")

	future := service.AddToBatch(context.Background(), testEvent("session-1", "record-1", "student-1"))
	if _, err := future.Get(context.Background()); err != nil {
		t.Fatalf("Failed to flush first batch: %v", err)
	}
	// Resubscribe replay delivers the same record again in a later batch
	future = service.AddToBatch(context.Background(), testEvent("session-1", "record-1", "student-1"))
	flushed, err := future.Get(context.Background())
	if err != nil {
		t.Fatalf("Failed to flush second batch: %v", err)
	}

	Assert(t, 0, flushed.Merged, "Replayed record must not merge twice")
	aggregate := service.GetAggregate("session-1")
	Assert(t, 1, len(aggregate.Records), "Replayed record must not duplicate")
	Assert(t, 1, len(service.ActivityLog()), "Replayed record must not reappear in the log")
}

func TestResolveFallsBackToPlaceholder(t *testing.T) {
	t.Setenv(models.Env_BatchWindow, "10ms")

	profiles := NewFakeProfileRepository()
	service, metricService := newTestAggregationService(profiles)
	defer service.Close()
	service.RegisterSession("session-1")

	future := service.AddToBatch(context.Background(), testEvent("session-1", "record-1", "student-unknown"))
	flushed, err := future.Get(context.Background())
	if err != nil {
		t.Fatalf("Failed to flush batch: %v", err)
	}

	Assert(t, 1, flushed.Merged, "Failed enrichment must not drop the record")
	Assert(t, 1, len(flushed.Entries), "Entry should still be logged")
	Assert(t, true, flushed.Entries[0].Placeholder, "Entry should carry placeholder identity")
	Assert(t, placeholderStudentName, flushed.Entries[0].StudentName, "Unexpected placeholder name")
	Assert(t, 1, metricService.count(models.MetricName_ResolveFallback), "Fallback metric not counted")

	aggregate := service.GetAggregate("session-1")
	Assert(t, 1, len(aggregate.Records), "Record should be merged despite the failed lookup")
}

func TestResolveRetriesTransientFailures(t *testing.T) {
	t.Setenv(models.Env_BatchWindow, "10ms")

	profiles := NewFakeProfileRepository()
	profiles.profiles["student-1"] = &models.ProfileSummary{StudentId: "student-1", Name: "Ada", CourseCode: "CS101"}
	profiles.transientFailures["student-1"] = 1
	service, _ := newTestAggregationService(profiles)
	defer service.Close()
	service.RegisterSession("session-1")

	future := service.AddToBatch(context.Background(), testEvent("session-1", "record-1", "student-1"))
	flushed, err := future.Get(context.Background())
	if err != nil {
		t.Fatalf("Failed to flush batch: %v", err)
	}

	Assert(t, false, flushed.Entries[0].Placeholder, "Lookup should recover within retries")
	Assert(t, "Ada", flushed.Entries[0].StudentName, "Unexpected student name")
	Assert(t, 2, profiles.numCalls("student-1"), "Expected one failure and one retry")
}

func TestProfileCache(t *testing.T) {
	t.Setenv(models.Env_BatchWindow, "10ms")

	profiles := NewFakeProfileRepository()
	profiles.profiles["student-1"] = &models.ProfileSummary{StudentId: "student-1", Name: "Ada", CourseCode: "CS101"}
	service, _ := newTestAggregationService(profiles)
	defer service.Close()
	service.RegisterSession("session-1")

	future := service.AddToBatch(context.Background(), testEvent("session-1", "record-1", "student-1"))
	if _, err := future.Get(context.Background()); err != nil {
		t.Fatalf("Failed to flush first batch: %v", err)
	}
	future = service.AddToBatch(context.Background(), testEvent("session-1", "record-2", "student-1"))
	if _, err := future.Get(context.Background()); err != nil {
		t.Fatalf("Failed to flush second batch: %v", err)
	}
	Assert(t, 1, profiles.numCalls("student-1"), "Second batch should hit the cache")

	service.InvalidateProfile("student-1")
	future = service.AddToBatch(context.Background(), testEvent("session-1", "record-3", "student-1"))
	if _, err := future.Get(context.Background()); err != nil {
		t.Fatalf("Failed to flush third batch: %v", err)
	}
	Assert(t, 2, profiles.numCalls("student-1"), "Invalidation should force a fresh lookup")
}

func TestActivityLogBounded(t *testing.T) {
	t.Setenv(models.Env_BatchWindow, "10ms")
	t.Setenv(models.Env_ActivityLogLimit, "3")

	profiles := NewFakeProfileRepository()
	profiles.profiles["student-1"] = &models.ProfileSummary{StudentId: "student-1", Name: "Ada", CourseCode: "CS101"}
	service, _ := newTestAggregationService(profiles)
	defer service.Close()
	service.RegisterSession("session-1")

	recordIds := []string{"record-1", "record-2", "record-3", "record-4", "record-5"}
	for _, recordId := range recordIds {
		future := service.AddToBatch(context.Background(), testEvent("session-1", recordId, "student-1"))
		if _, err := future.Get(context.Background()); err != nil {
			t.Fatalf("Failed to flush batch: %v", err)
		}
	}

	activity := service.ActivityLog()
	Assert(t, 3, len(activity), "Log should be truncated to its cap")
	// Newest first
	Assert(t, "record-5", activity[0].RecordId, "Newest entry should lead the log")
	Assert(t, "record-3", activity[2].RecordId, "Oldest surviving entry mismatch")
}

func TestOnActivity(t *testing.T) {
	t.Setenv(models.Env_BatchWindow, "10ms")

	profiles := NewFakeProfileRepository()
	profiles.profiles["student-1"] = &models.ProfileSummary{StudentId: "student-1", Name: "Ada", CourseCode: "CS101"}
	service, _ := newTestAggregationService(profiles)
	defer service.Close()
	service.RegisterSession("session-1")

	snapshots := make(chan []models.ActivityLogEntry, 1)
	service.OnActivity(func(entries []models.ActivityLogEntry) {
		snapshots <- entries
	})

	future := service.AddToBatch(context.Background(), testEvent("session-1", "record-1", "student-1"))
	if _, err := future.Get(context.Background()); err != nil {
		t.Fatalf("Failed to flush batch: %v", err)
	}

	select {
	case snapshot := <-snapshots:
		Assert(t, 1, len(snapshot), "Callback should see the merged entry")
		Assert(t, "Ada", snapshot[0].StudentName, "Callback entry should be enriched")
	case <-time.After(5 * time.Second):
		t.Fatalf("Timed out waiting for activity callback")
	}
}

func TestClose(t *testing.T) {
	t.Setenv(models.Env_BatchWindow, "50ms")

	profiles := NewFakeProfileRepository()
	service, _ := newTestAggregationService(profiles)
	service.RegisterSession("session-1")

	future := service.AddToBatch(context.Background(), testEvent("session-1", "record-1", "student-1"))
	service.Close()

	if _, err := future.Get(context.Background()); err == nil {
		t.Fatalf("Buffered batch should fail on close, not flush")
	}
	// A timer that was already scheduled must not resurrect the batch
	time.Sleep(100 * time.Millisecond)
	aggregate := service.GetAggregate("session-1")
	Assert(t, 0, len(aggregate.Records), "Closed aggregator must not merge")

	// Close is idempotent and later events fail fast
	service.Close()
	future = service.AddToBatch(context.Background(), testEvent("session-1", "record-2", "student-1"))
	if _, err := future.Get(context.Background()); err == nil {
		t.Fatalf("AddToBatch after close should fail")
	}
}

func TestCloseDuringFlush(t *testing.T) {
	t.Setenv(models.Env_BatchWindow, "10ms")

	profiles := NewFakeProfileRepository()
	profiles.profiles["student-1"] = &models.ProfileSummary{StudentId: "student-1", Name: "Ada", CourseCode: "CS101"}
	profiles.gate = make(chan struct{})
	profiles.entered = make(chan struct{}, 1)
	service, _ := newTestAggregationService(profiles)
	service.RegisterSession("session-1")

	snapshots := make(chan []models.ActivityLogEntry, 1)
	service.OnActivity(func(entries []models.ActivityLogEntry) {
		snapshots <- entries
	})

	future := service.AddToBatch(context.Background(), testEvent("session-1", "record-1", "student-1"))
	// The window fired and the flush is blocked resolving metadata
	<-profiles.entered
	service.Close()
	close(profiles.gate)

	if _, err := future.Get(context.Background()); err == nil {
		t.Fatalf("A flush overtaken by close should fail, not merge")
	}
	aggregate := service.GetAggregate("session-1")
	Assert(t, 0, len(aggregate.Records), "Closed aggregator must not merge")
	Assert(t, 0, len(service.ActivityLog()), "Closed aggregator must not log activity")
	select {
	case <-snapshots:
		t.Fatalf("Closed aggregator must not fire activity callbacks")
	default:
	}
}
