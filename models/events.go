package models

import "time"

// FeedEvent is a raw insert notification pushed by the change feed. It is
// transient: if one is lost before being merged, the server-side row remains
// the record of truth.
type FeedEvent struct {
	SessionId  string    `json:"sid"`
	RecordId   string    `json:"rid"`
	StudentId  string    `json:"stu"`
	ReceivedAt time.Time `json:"ts"`
}

type PresenceRecord struct {
	RecordId   string    `json:"rid"`
	StudentId  string    `json:"stu"`
	ReceivedAt time.Time `json:"ts"`
}

// SessionAggregate is the merged view of one observed session.
// PresentStudentIds is a set: re-delivery of the same student is a no-op,
// which is what makes at-least-once feed delivery safe.
type SessionAggregate struct {
	SessionId         string
	PresentStudentIds map[string]struct{}
	Records           []PresenceRecord
	LastUpdated       time.Time
}

// ProfileSummary is the denormalized display metadata for one student.
type ProfileSummary struct {
	StudentId  string `json:"stu"`
	Name       string `json:"name"`
	CourseCode string `json:"course"`
}

// ActivityLogEntry is one line of the bounded "who just checked in" log.
// Advisory only, never authoritative. Placeholder is set when metadata
// enrichment failed after retries and the entry carries fallback identity.
type ActivityLogEntry struct {
	SessionId   string
	RecordId    string
	StudentId   string
	StudentName string
	CourseCode  string
	ReceivedAt  time.Time
	Placeholder bool
}

// FlushedBatch summarizes one debounce window's worth of merged events.
type FlushedBatch struct {
	Size    int
	Merged  int
	Entries []ActivityLogEntry
	Flushed time.Time
}
