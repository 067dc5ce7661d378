package gateway

import (
	"encoding/json"

	"github.com/martinemde/codeloop/agentloop"
)

// FrameType identifies a WebSocket frame.
type FrameType string

const (
	// Server to client.
	FrameSubscribed      FrameType = "subscribed"
	FrameEvent           FrameType = "event"
	FrameApprovalRequest FrameType = "approval_request"
	FrameError           FrameType = "error"

	// Client to server.
	FrameApproval FrameType = "approval"
)

// Frame is the WebSocket envelope for both directions.
type Frame struct {
	Type     FrameType            `json:"type"`
	TaskID   string               `json:"task_id,omitempty"`
	Event    *agentloop.TaskEvent `json:"event,omitempty"`
	Approval *PendingApproval     `json:"approval,omitempty"`

	// Set by clients answering an approval request.
	ID       string `json:"id,omitempty"`
	Approved *bool  `json:"approved,omitempty"`

	Error string `json:"error,omitempty"`
}

// MarshalFrame serializes a Frame to JSON bytes.
func MarshalFrame(f Frame) ([]byte, error) {
	return json.Marshal(f)
}

// UnmarshalFrame deserializes JSON bytes into a Frame.
func UnmarshalFrame(data []byte) (Frame, error) {
	var f Frame
	err := json.Unmarshal(data, &f)
	return f, err
}
