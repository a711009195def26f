// Package audit is the tamper-evident record of security-relevant activity.
// Rows are hash-chained: each row's hash covers its content plus the
// previous row's hash, so deleting or editing any historical row breaks the
// chain. Entries written inside the vote transaction are discarded with it
// on rollback; rejection events are appended in their own transaction so
// forensic detail survives even when the caller only sees a generic error.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// EventType classifies audit entries.
type EventType string

const (
	EventVoteAccepted        EventType = "vote_accepted"
	EventReplayRejected      EventType = "replay_rejected"
	EventDoubleVoteRejected  EventType = "double_vote_rejected"
	EventEligibilityRejected EventType = "eligibility_rejected"
	EventAttestationRejected EventType = "attestation_rejected"
	EventDeviceRateLimited   EventType = "device_rate_limited"
	EventResultsSuppressed   EventType = "results_suppressed"
	EventRootAnchored        EventType = "root_anchored"
	EventAnchorFailed        EventType = "anchor_failed"
)

// Event is one chained audit row. Payload is a JSON document that must never
// contain raw identity; callers hash or bucket anything sensitive first.
type Event struct {
	ID        uuid.UUID
	Type      EventType
	PollID    string
	Payload   string
	PrevHash  string
	RowHash   string
	Timestamp time.Time
}

// ComputeRowHash derives the chain hash for a row:
// H(eventType|payload|prevRowHash|timestamp).
func ComputeRowHash(eventType EventType, payload, prevHash string, ts time.Time) string {
	material := fmt.Sprintf("%s|%s|%s|%s",
		eventType, payload, prevHash, ts.UTC().Format(time.RFC3339Nano))
	sum := sha256.Sum256([]byte(material))
	return hex.EncodeToString(sum[:])
}

// Store persists chained audit rows. Append computes PrevHash and RowHash
// under whatever serialization the backend provides; two appends must never
// chain off the same predecessor.
type Store interface {
	Append(ctx context.Context, e *Event) error
	// List returns rows in chain order (oldest first).
	List(ctx context.Context, limit int) ([]Event, error)
	// ListUnpublished returns rows not yet pushed to the outbox sink.
	ListUnpublished(ctx context.Context, limit int) ([]Event, error)
	MarkPublished(ctx context.Context, ids []uuid.UUID) error
}

// VerifyChain walks rows in order and reports the first break.
func VerifyChain(events []Event) error {
	prev := ""
	for i, e := range events {
		if e.PrevHash != prev {
			return fmt.Errorf("audit: row %d prev-hash mismatch", i)
		}
		if ComputeRowHash(e.Type, e.Payload, e.PrevHash, e.Timestamp) != e.RowHash {
			return fmt.Errorf("audit: row %d hash mismatch", i)
		}
		prev = e.RowHash
	}
	return nil
}

// Service is the façade domain code emits through.
type Service struct {
	store  Store
	logger *slog.Logger
}

func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// Emit appends an event. detail is marshaled into the payload; it must
// already be privacy-safe.
func (s *Service) Emit(ctx context.Context, eventType EventType, pollID string, detail map[string]any) error {
	payload := "{}"
	if len(detail) > 0 {
		raw, err := json.Marshal(detail)
		if err != nil {
			return fmt.Errorf("audit: marshal payload: %w", err)
		}
		payload = string(raw)
	}
	e := &Event{
		ID:        uuid.New(),
		Type:      eventType,
		PollID:    pollID,
		Payload:   payload,
		Timestamp: time.Now(),
	}
	if err := s.store.Append(ctx, e); err != nil {
		return fmt.Errorf("audit: append: %w", err)
	}
	return nil
}

// TryEmit is Emit for call sites where audit failure must not mask the
// primary outcome; the error is logged and swallowed.
func (s *Service) TryEmit(ctx context.Context, eventType EventType, pollID string, detail map[string]any) {
	if err := s.Emit(ctx, eventType, pollID, detail); err != nil {
		s.logger.ErrorContext(ctx, "audit emit failed",
			"event_type", string(eventType),
			"error", err,
		)
	}
}
