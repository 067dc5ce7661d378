package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/martinemde/codeloop/agentloop"
)

// allTasks is the subscription key for clients that follow every task.
const allTasks = "*"

// client is one WebSocket connection following a task.
type client struct {
	conn   *websocket.Conn
	send   chan []byte
	taskID string
	hub    *Hub
}

// Hub fans task events and approval requests out to WebSocket clients.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*client]struct{}
	broker  *ApprovalBroker
	logger  *slog.Logger
}

// NewHub creates a hub that forwards the broker's approval requests to
// clients of the asking task.
func NewHub(broker *ApprovalBroker, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		clients: make(map[string]map[*client]struct{}),
		broker:  broker,
		logger:  logger,
	}
	if broker != nil {
		broker.OnRequest(func(p PendingApproval) {
			h.publish(p.TaskID, Frame{Type: FrameApprovalRequest, TaskID: p.TaskID, Approval: &p})
		})
	}
	return h
}

// Run forwards events until the channel closes or ctx is done.
func (h *Hub) Run(ctx context.Context, events <-chan agentloop.TaskEvent) {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			h.publish(ev.TaskID, Frame{Type: FrameEvent, TaskID: ev.TaskID, Event: &ev})
		case <-ctx.Done():
			return
		}
	}
}

// publish delivers f to the clients of taskID and to clients following
// every task. Slow clients miss frames.
func (h *Hub) publish(taskID string, f Frame) {
	data, err := MarshalFrame(f)
	if err != nil {
		h.logger.Error("marshal frame", "type", f.Type, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, key := range []string{taskID, allTasks} {
		for c := range h.clients[key] {
			select {
			case c.send <- data:
			default:
				h.logger.Debug("ws client too slow, frame dropped", "task", c.taskID, "type", f.Type)
			}
		}
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.taskID]
	if !ok {
		set = make(map[*client]struct{})
		h.clients[c.taskID] = set
	}
	set[c] = struct{}{}
	h.logger.Info("ws client connected", "task", c.taskID, "clients", len(set))
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.clients[c.taskID]
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.taskID)
	}
	close(c.send)
	h.logger.Info("ws client disconnected", "task", c.taskID, "clients", len(set))
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.clients {
		n += len(set)
	}
	return n
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	var conns []*websocket.Conn
	for key, set := range h.clients {
		for c := range set {
			conns = append(conns, c.conn)
			close(c.send)
		}
		delete(h.clients, key)
	}
	h.mu.Unlock()

	for _, conn := range conns {
		conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
}

// ServeWS upgrades the request and streams frames for taskID, or for
// every task when taskID is empty. The first frame confirms the
// subscription; approval requests already pending follow it.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, taskID string) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.logger.Error("ws accept", "error", err)
		return
	}
	if taskID == "" {
		taskID = allTasks
	}

	c := &client{
		conn:   conn,
		send:   make(chan []byte, 256),
		taskID: taskID,
		hub:    h,
	}
	h.register(c)
	c.queue(Frame{Type: FrameSubscribed, TaskID: taskID})
	if h.broker != nil {
		filter := taskID
		if filter == allTasks {
			filter = ""
		}
		for _, p := range h.broker.Pending(filter) {
			c.queue(Frame{Type: FrameApprovalRequest, TaskID: p.TaskID, Approval: &p})
		}
	}

	ctx := r.Context()
	go c.writePump(ctx)
	c.readPump(ctx)
}

// queue sends f to this client only. It is safe while c is registered.
func (c *client) queue(f Frame) {
	data, err := MarshalFrame(f)
	if err != nil {
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, ok := c.hub.clients[c.taskID][c]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *client) readPump(ctx context.Context) {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				c.hub.logger.Debug("ws read closed", "status", websocket.CloseStatus(err))
			} else {
				c.hub.logger.Debug("ws read error", "error", err)
			}
			return
		}

		frame, err := UnmarshalFrame(data)
		if err != nil {
			c.queue(Frame{Type: FrameError, Error: "malformed frame: " + err.Error()})
			continue
		}
		c.handleFrame(frame)
	}
}

func (c *client) handleFrame(f Frame) {
	switch f.Type {
	case FrameApproval:
		if f.ID == "" || f.Approved == nil {
			c.queue(Frame{Type: FrameError, Error: "approval frames need id and approved"})
			return
		}
		if c.hub.broker == nil {
			c.queue(Frame{Type: FrameError, ID: f.ID, Error: "approvals are not handled by this server"})
			return
		}
		if err := c.hub.broker.Resolve(f.ID, *f.Approved); err != nil {
			c.queue(Frame{Type: FrameError, ID: f.ID, Error: err.Error()})
		}
	default:
		c.queue(Frame{Type: FrameError, Error: "unknown frame type " + string(f.Type)})
	}
}

func (c *client) writePump(ctx context.Context) {
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
				if !errors.Is(err, context.Canceled) {
					c.hub.logger.Debug("ws write error", "error", err)
				}
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
