/**
 * @description
 * Payloads carried on the durable work queues and the notification queue.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// SessionJob asks a worker to score or settle a session.
type SessionJob struct {
	SessionID  uuid.UUID `json:"session_id"`
	UserID     uuid.UUID `json:"user_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// WithdrawalJob asks a worker to pay out a pending withdrawal.
type WithdrawalJob struct {
	WithdrawalID uuid.UUID `json:"withdrawal_id"`
	UserID       uuid.UUID `json:"user_id"`
	EnqueuedAt   time.Time `json:"enqueued_at"`
}

// Notification is a user-facing message handed to the delivery pipeline.
type Notification struct {
	UserID    uuid.UUID              `json:"user_id"`
	Title     string                 `json:"title"`
	Body      string                 `json:"body"`
	Data      map[string]interface{} `json:"data,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}
