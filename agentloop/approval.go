package agentloop

import (
	"context"
	"encoding/json"
)

// ApprovalKind distinguishes what the host is asked to approve.
type ApprovalKind string

const (
	ApprovalTool         ApprovalKind = "tool"
	ApprovalMistakeLimit ApprovalKind = "mistake_limit_reached"
)

// ApprovalRequest describes an action waiting on the host.
type ApprovalRequest struct {
	Kind   ApprovalKind    `json:"kind"`
	TaskID string          `json:"task_id"`
	Tool   string          `json:"tool,omitempty"`
	Args   json.RawMessage `json:"args,omitempty"`
	Path   string          `json:"path,omitempty"`

	// Preview is a unified diff for file edits, or a short description.
	Preview string `json:"preview,omitempty"`
	Message string `json:"message,omitempty"`
}

// Approver decides whether a side-effecting action may proceed. A
// cancelled ctx or a returned error counts as a decline.
type Approver interface {
	Approve(ctx context.Context, req ApprovalRequest) (bool, error)
}

// ApproverFunc adapts a function to the Approver interface.
type ApproverFunc func(ctx context.Context, req ApprovalRequest) (bool, error)

func (f ApproverFunc) Approve(ctx context.Context, req ApprovalRequest) (bool, error) {
	return f(ctx, req)
}

// AutoApprove approves every request.
var AutoApprove Approver = ApproverFunc(func(context.Context, ApprovalRequest) (bool, error) {
	return true, nil
})

// DenyAll declines every request.
var DenyAll Approver = ApproverFunc(func(context.Context, ApprovalRequest) (bool, error) {
	return false, nil
})
