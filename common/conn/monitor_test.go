package conn

import (
	"context"
	"errors"
	"testing"

	"github.com/Mayor78/mtbm-attendance-sub000/common/loggers"
)

func TestMonitorTransitions(t *testing.T) {
	probeErr := errors.New("connection refused")
	results := make(chan error, 8)
	monitor := NewMonitor(func(ctx context.Context) error {
		return <-results
	}, loggers.NewTestLogger())

	if monitor.IsOnline() {
		t.Fatalf("Monitor should start offline")
	}

	// First successful probe is the initial online transition
	results <- nil
	monitor.check(context.Background())
	if !monitor.IsOnline() {
		t.Fatalf("Monitor should be online after a successful probe")
	}
	if online := <-monitor.Transitions(); !online {
		t.Fatalf("Expected an online transition")
	}

	// A repeat result must not publish a second transition
	results <- nil
	monitor.check(context.Background())
	select {
	case online := <-monitor.Transitions():
		t.Fatalf("Unexpected transition %v without a state change", online)
	default:
	}

	results <- probeErr
	monitor.check(context.Background())
	if monitor.IsOnline() {
		t.Fatalf("Monitor should be offline after a failed probe")
	}
	if online := <-monitor.Transitions(); online {
		t.Fatalf("Expected an offline transition")
	}
}

func TestMonitorCoalescesUndeliveredTransitions(t *testing.T) {
	probeErr := errors.New("connection refused")
	results := make(chan error, 8)
	monitor := NewMonitor(func(ctx context.Context) error {
		return <-results
	}, loggers.NewTestLogger())

	// Nobody is reading: flapping must leave only the latest state queued
	results <- nil
	monitor.check(context.Background())
	results <- probeErr
	monitor.check(context.Background())

	if online := <-monitor.Transitions(); online {
		t.Fatalf("Superseded transition should be dropped")
	}
	select {
	case online := <-monitor.Transitions():
		t.Fatalf("Unexpected queued transition %v", online)
	default:
	}
}
