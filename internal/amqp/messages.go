package amqp

import (
	"encoding/json"
	"fmt"
	"time"
)

// BaselineSignedMessage announces a signed baseline that is ready for
// materialization. It carries identifiers only; the worker loads the full
// baseline from storage so stale queue contents never overwrite fresh data.
type BaselineSignedMessage struct {
	ProjectID     string    `json:"project_id"`
	BaselineID    string    `json:"baseline_id"`
	SignatureHash string    `json:"signature_hash"`
	Actor         string    `json:"actor,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// NewBaselineSignedMessage creates a message for a just-signed baseline.
func NewBaselineSignedMessage(projectID, baselineID, signatureHash string) *BaselineSignedMessage {
	return &BaselineSignedMessage{
		ProjectID:     projectID,
		BaselineID:    baselineID,
		SignatureHash: signatureHash,
		Timestamp:     time.Now(),
	}
}

// ToJSON converts the message to JSON bytes.
func (m *BaselineSignedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// AuditEventMessage mirrors a stored audit entry for downstream consumers
// (notifications, reporting). Best-effort: losing one never blocks the run.
type AuditEventMessage struct {
	ProjectID     string    `json:"project_id"`
	BaselineID    string    `json:"baseline_id,omitempty"`
	Event         string    `json:"event"`
	Actor         string    `json:"actor,omitempty"`
	SignatureHash string    `json:"signature_hash,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// ToJSON converts the message to JSON bytes.
func (m *AuditEventMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// BaselineSignedMessageFromJSON parses a message from JSON bytes and rejects
// payloads missing the identifiers the worker needs.
func BaselineSignedMessageFromJSON(data []byte) (*BaselineSignedMessage, error) {
	var msg BaselineSignedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.ProjectID == "" || msg.BaselineID == "" {
		return nil, fmt.Errorf("baseline signed message missing identifiers: %s", data)
	}
	return &msg, nil
}
