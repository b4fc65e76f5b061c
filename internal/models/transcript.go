// Package models defines the event payloads published by the service.
package models

// Event types carried in the eventType field.
const (
	EventTranscriptPartial = "dictation.transcript.partial"
	EventTranscriptFinal   = "dictation.transcript.final"
	EventAudit             = "clinic.audit"
)

// TranscriptPartial is an interim result that replaces the previous one.
type TranscriptPartial struct {
	EventType string `json:"eventType"`
	SessionID string `json:"sessionId"`
	ActorID   string `json:"actorId"`
	Timestamp int64  `json:"timestamp"`
	SegmentID string `json:"segmentId"`
	Text      string `json:"text"`
}

// TranscriptFinal is a confirmed result appended to the live transcript.
type TranscriptFinal struct {
	EventType  string  `json:"eventType"`
	SessionID  string  `json:"sessionId"`
	ActorID    string  `json:"actorId"`
	Timestamp  int64   `json:"timestamp"`
	SegmentID  string  `json:"segmentId"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	// OffsetMs is the time since the recording started.
	OffsetMs int64 `json:"offsetMs"`
}
