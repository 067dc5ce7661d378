package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/martinemde/codeloop/agentloop"
)

// ErrApprovalNotFound is returned when resolving an unknown or expired
// approval request.
var ErrApprovalNotFound = errors.New("approval request not found")

// PendingApproval is an approval request waiting for a remote answer.
type PendingApproval struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	agentloop.ApprovalRequest
}

type parked struct {
	info  PendingApproval
	reply chan bool
}

// ApprovalBroker implements agentloop.Approver for remote clients. Each
// request is parked under a fresh id until Resolve is called for it or
// the asking task's context ends.
type ApprovalBroker struct {
	mu      sync.Mutex
	pending map[string]*parked
	notify  []func(PendingApproval)
	logger  *slog.Logger
}

// NewApprovalBroker creates an empty broker.
func NewApprovalBroker(logger *slog.Logger) *ApprovalBroker {
	if logger == nil {
		logger = slog.Default()
	}
	return &ApprovalBroker{
		pending: make(map[string]*parked),
		logger:  logger,
	}
}

// OnRequest registers fn to be called for every new request.
func (b *ApprovalBroker) OnRequest(fn func(PendingApproval)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notify = append(b.notify, fn)
}

// Approve parks req and blocks until it is resolved or ctx is done.
func (b *ApprovalBroker) Approve(ctx context.Context, req agentloop.ApprovalRequest) (bool, error) {
	p := &parked{
		info: PendingApproval{
			ID:              uuid.NewString(),
			CreatedAt:       time.Now(),
			ApprovalRequest: req,
		},
		reply: make(chan bool, 1),
	}

	b.mu.Lock()
	b.pending[p.info.ID] = p
	notify := append([]func(PendingApproval){}, b.notify...)
	b.mu.Unlock()

	b.logger.Info("approval requested", "id", p.info.ID, "task", req.TaskID, "kind", req.Kind, "tool", req.Tool)
	for _, fn := range notify {
		fn(p.info)
	}

	select {
	case ok := <-p.reply:
		return ok, nil
	case <-ctx.Done():
		b.drop(p.info.ID)
		return false, ctx.Err()
	}
}

// Resolve answers a parked request.
func (b *ApprovalBroker) Resolve(id string, approved bool) error {
	b.mu.Lock()
	p, ok := b.pending[id]
	delete(b.pending, id)
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrApprovalNotFound, id)
	}
	p.reply <- approved
	b.logger.Info("approval resolved", "id", id, "task", p.info.TaskID, "approved", approved)
	return nil
}

// Pending lists parked requests, oldest first. An empty taskID lists all.
func (b *ApprovalBroker) Pending(taskID string) []PendingApproval {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]PendingApproval, 0, len(b.pending))
	for _, p := range b.pending {
		if taskID == "" || p.info.TaskID == taskID {
			out = append(out, p.info)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (b *ApprovalBroker) drop(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.pending, id)
}
