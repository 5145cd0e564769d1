package websocket

import "github.com/inkgrade/inkgrade-backend/internal/model"

// The progress stream is push-only: the server emits typed frames, the
// client only ever answers control pings.

// Event labels a server → client frame.
type Event string

const (
	EventProgress Event = "progress"
	EventError    Event = "error"
)

// ProgressFrame carries one grading-progress snapshot.
type ProgressFrame struct {
	Event    Event                  `json:"event"`
	Progress *model.GradingProgress `json:"progress"`
}

// ErrorFrame reports a stream-level failure. The server closes the
// connection after sending one.
type ErrorFrame struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}
