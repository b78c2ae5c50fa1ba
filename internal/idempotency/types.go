package idempotency

import (
	"encoding/json"
	"time"
)

// Record states. A key moves IN_PROGRESS -> DONE when the order-placed
// message is queued, or IN_PROGRESS -> FAILED when queueing fails.
const (
	StatusInProgress = "IN_PROGRESS"
	StatusDone       = "DONE"
	StatusFailed     = "FAILED"
)

// IdempotencyRecord is the item stored per Idempotency-Key.
type IdempotencyRecord struct {
	IdempotencyKey string `dynamodbav:"idempotency_key"`
	Status         string `dynamodbav:"status"`
	OrderID        string `dynamodbav:"order_id,omitempty"`
	// ResponseBody is the JSON replayed to duplicate requests. The trigger
	// rewrites it once the workflow instance is known.
	ResponseBody   string    `dynamodbav:"response_body,omitempty"`
	ResponseStatus int       `dynamodbav:"response_status,omitempty"`
	CreatedAt      time.Time `dynamodbav:"created_at"`
	UpdatedAt      time.Time `dynamodbav:"updated_at"`
	ExpiresAt      int64     `dynamodbav:"expires_at"` // TTL epoch seconds
	Note           string    `dynamodbav:"note,omitempty"`
}

// Replay returns the stored response of a DONE record. ok is false when
// nothing replayable was stored.
func (r *IdempotencyRecord) Replay() (status int, body []byte, ok bool) {
	if r == nil || r.Status != StatusDone || r.ResponseBody == "" || !json.Valid([]byte(r.ResponseBody)) {
		return 0, nil, false
	}
	status = r.ResponseStatus
	if status == 0 {
		status = 200
	}
	return status, []byte(r.ResponseBody), true
}
