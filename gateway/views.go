package gateway

import (
	"github.com/martinemde/codeloop/agentloop"
	"github.com/martinemde/codeloop/modes"
	"github.com/martinemde/codeloop/unifiedllm"
)

// taskView is the in-memory view of a live task.
type taskView struct {
	ID          string           `json:"id"`
	ParentID    string           `json:"parent_id,omitempty"`
	Workspace   string           `json:"workspace"`
	Mode        string           `json:"mode"`
	State       string           `json:"state"`
	Running     bool             `json:"running"`
	Temperature *float64         `json:"temperature,omitempty"`
	Mistakes    int              `json:"consecutive_mistakes"`
	Usage       unifiedllm.Usage `json:"usage"`
	Cost        float64          `json:"total_cost"`
	Result      string           `json:"result,omitempty"`
	Error       string           `json:"error,omitempty"`
}

func newTaskView(t *agentloop.Task) taskView {
	usage, cost := t.Usage()
	return taskView{
		ID:          t.ID(),
		ParentID:    t.ParentID(),
		Workspace:   t.Workspace(),
		Mode:        t.Mode(),
		State:       string(t.State()),
		Running:     t.Running(),
		Temperature: t.Temperature(),
		Mistakes:    t.ConsecutiveMistakes(),
		Usage:       usage,
		Cost:        cost,
		Result:      t.Result(),
		Error:       t.Err(),
	}
}

type modeView struct {
	modes.Mode
	Tools []string `json:"tools"`
}

func newModeView(m modes.Mode) modeView {
	return modeView{Mode: m, Tools: m.Tools()}
}
