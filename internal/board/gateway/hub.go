package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/coder/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/steveyegge/launchboard/internal/board/metrics"
	"github.com/steveyegge/launchboard/internal/board/schema"
)

// DefaultQueueSize is the number of outbound deliveries the hub buffers.
const DefaultQueueSize = 256

// session is one connected live channel.
type session struct {
	id        string
	conn      *websocket.Conn
	connected time.Time
}

// delivery is a queued envelope. An empty target means every session.
type delivery struct {
	target string
	env    schema.Envelope
}

// Hub fans server events out to live sessions. Deliveries are written by a
// single loop, so every session observes events in the order they were
// queued. Delivery is best effort: a full queue drops the event and a failed
// write drops the session.
type Hub struct {
	sessions   map[string]*session
	sessionsMu sync.RWMutex

	queue        chan delivery
	writeTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	log *log.Entry
}

// NewHub creates a hub and starts its delivery loop. Close stops it.
func NewHub(logger *log.Entry) *Hub {
	return newHub(logger, DefaultQueueSize)
}

func newHub(logger *log.Entry, queueSize int) *Hub {
	if logger == nil {
		logger = log.WithField("component", "hub")
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		sessions:     make(map[string]*session),
		queue:        make(chan delivery, queueSize),
		writeTimeout: 5 * time.Second,
		ctx:          ctx,
		cancel:       cancel,
		log:          logger,
	}
	h.wg.Add(1)
	go h.deliveryLoop()
	return h
}

// Broadcast queues env for every connected session.
func (h *Hub) Broadcast(env schema.Envelope) {
	h.enqueue(delivery{env: env})
}

// SendTo queues env for a single session. It returns false when the session
// is unknown or the queue is full.
func (h *Hub) SendTo(sessionID string, env schema.Envelope) bool {
	h.sessionsMu.RLock()
	_, ok := h.sessions[sessionID]
	h.sessionsMu.RUnlock()
	if !ok {
		return false
	}
	return h.enqueue(delivery{target: sessionID, env: env})
}

func (h *Hub) enqueue(d delivery) bool {
	select {
	case <-h.ctx.Done():
		return false
	default:
	}
	select {
	case h.queue <- d:
		return true
	default:
		metrics.DroppedFramesTotal.Inc()
		h.log.WithFields(log.Fields{"event": d.env.Type, "target": d.target}).
			Warn("delivery queue full, dropping event")
		return false
	}
}

// Count returns the number of connected sessions.
func (h *Hub) Count() int {
	h.sessionsMu.RLock()
	defer h.sessionsMu.RUnlock()
	return len(h.sessions)
}

// Close drops every session with StatusGoingAway and stops the delivery loop.
func (h *Hub) Close() {
	h.cancel()
	h.wg.Wait()

	h.sessionsMu.Lock()
	for id, s := range h.sessions {
		_ = s.conn.Close(websocket.StatusGoingAway, "Server shutting down")
		delete(h.sessions, id)
		metrics.Sessions.Dec()
	}
	h.sessionsMu.Unlock()
}

func (h *Hub) add(s *session) {
	h.sessionsMu.Lock()
	h.sessions[s.id] = s
	count := len(h.sessions)
	h.sessionsMu.Unlock()

	metrics.Sessions.Inc()
	h.log.WithFields(log.Fields{"session": s.id, "sessions": count}).Info("session connected")
}

// remove drops a session and closes its connection. It is safe to call more
// than once.
func (h *Hub) remove(id string, code websocket.StatusCode, reason string) {
	h.sessionsMu.Lock()
	s, ok := h.sessions[id]
	if !ok {
		h.sessionsMu.Unlock()
		return
	}
	delete(h.sessions, id)
	count := len(h.sessions)
	h.sessionsMu.Unlock()

	metrics.Sessions.Dec()
	_ = s.conn.Close(code, reason)
	h.log.WithFields(log.Fields{
		"session":  id,
		"sessions": count,
		"duration": time.Since(s.connected).Round(time.Millisecond),
	}).Info("session disconnected")
}

// deliveryLoop writes queued envelopes to their sessions.
func (h *Hub) deliveryLoop() {
	defer h.wg.Done()

	for {
		select {
		case <-h.ctx.Done():
			return

		case d := <-h.queue:
			if d.env.Timestamp.IsZero() {
				d.env.Timestamp = time.Now().UTC()
			}
			data, err := json.Marshal(d.env)
			if err != nil {
				h.log.WithField("event", d.env.Type).WithError(err).Error("failed to marshal event")
				continue
			}

			for _, s := range h.targets(d.target) {
				ctx, cancel := context.WithTimeout(h.ctx, h.writeTimeout)
				err := s.conn.Write(ctx, websocket.MessageText, data)
				cancel()

				if err != nil {
					metrics.DroppedFramesTotal.Inc()
					h.log.WithFields(log.Fields{"session": s.id, "event": d.env.Type}).
						WithError(err).Warn("failed to deliver event")
					h.remove(s.id, websocket.StatusInternalError, "write failed")
				}
			}
		}
	}
}

// targets snapshots the recipients so writes happen outside the lock.
func (h *Hub) targets(target string) []*session {
	h.sessionsMu.RLock()
	defer h.sessionsMu.RUnlock()

	if target != "" {
		if s, ok := h.sessions[target]; ok {
			return []*session{s}
		}
		return nil
	}
	out := make([]*session, 0, len(h.sessions))
	for _, s := range h.sessions {
		out = append(out, s)
	}
	return out
}
