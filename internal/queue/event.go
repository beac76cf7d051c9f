// Package queue defines message payloads exchanged over the message broker.
package queue

// MessageAcceptedEvent is published when a send request passes credential
// validation.  A downstream dispatcher owns delivery; this service only
// hands the message off.  It never carries the caller's auth token.
type MessageAcceptedEvent struct {
	MessageID  string `json:"message_id"`
	SecretID   string `json:"secret_id"`
	To         string `json:"to"`
	Message    string `json:"message"`
	RequestID  string `json:"request_id,omitempty"`
	AcceptedAt string `json:"accepted_at"`
}
