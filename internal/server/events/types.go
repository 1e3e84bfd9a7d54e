// Package events fans out sync activity to live subscribers such as
// Server-Sent Events streams and WebSocket connections. Every event belongs
// to one Jobber account and is only delivered to that account's subscribers.
package events

import "time"

// Type identifies what happened.
type Type string

// Event types.
const (
	// StreamConnected is sent to a subscriber when its stream opens.
	StreamConnected Type = "stream.connected"

	// SyncFinished carries the result of a completed sync run.
	SyncFinished Type = "sync.finished"
	// PreviewFinished carries the result of a completed preview run.
	PreviewFinished Type = "preview.finished"

	// AccountConnected follows a successful OAuth callback.
	AccountConnected Type = "account.connected"
	// AccountDisconnected follows a local disconnect or an APP_DISCONNECT webhook.
	AccountDisconnected Type = "account.disconnected"
)

// Event is one published occurrence.
type Event struct {
	ID        uint64    `json:"id"`
	Type      Type      `json:"type"`
	AccountID string    `json:"account_id"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}
