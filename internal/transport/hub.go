// Package transport manages the live WebSocket session of each device and
// demuxes its inbound frames. Liveness here is the hard gate for command
// dispatch: a device with no session cannot be sent anything, regardless of
// what its heartbeat record says.
package transport

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/gorilla/websocket"
	"neoproctl/internal/types"
)

// Conn is the slice of *websocket.Conn the hub uses, kept narrow so tests can
// substitute a fake.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Handlers receive demuxed inbound frames and session lifecycle events, all
// called from the session's read goroutine. Closed fires only when the
// device's current session ends, not when a reconnect replaces an old one.
type Handlers struct {
	Heartbeat func(deviceID, softwareVersion string)
	Result    func(commandID string, success bool, result json.RawMessage, errorMessage string)
	Closed    func(deviceID string)
}

type session struct {
	conn    Conn
	writeMu sync.Mutex
}

// Hub tracks one session per device. A reconnect replaces the previous
// session so a device never receives a command twice over a stale socket.
type Hub struct {
	mu       sync.Mutex
	sessions map[string]*session
	handlers Handlers
}

// NewHub creates an empty session hub.
func NewHub(handlers Handlers) *Hub {
	return &Hub{
		sessions: make(map[string]*session),
		handlers: handlers,
	}
}

// Attach registers (or replaces) the session for a device and starts its read
// loop.
func (h *Hub) Attach(deviceID string, conn Conn) {
	h.mu.Lock()
	if existing, ok := h.sessions[deviceID]; ok {
		log.Printf("[INFO] Replacing session for device %s", deviceID)
		existing.conn.Close()
	}
	s := &session{conn: conn}
	h.sessions[deviceID] = s
	total := len(h.sessions)
	h.mu.Unlock()

	log.Printf("[INFO] Device %s connected (sessions: %d)", deviceID, total)
	go h.readLoop(deviceID, s)
}

// detach removes the session only if it is still the current one, so a
// replaced session's dying read loop cannot evict its successor.
func (h *Hub) detach(deviceID string, s *session) {
	h.mu.Lock()
	current, ok := h.sessions[deviceID]
	removed := ok && current == s
	if removed {
		s.conn.Close()
		delete(h.sessions, deviceID)
		log.Printf("[INFO] Device %s disconnected (sessions: %d)", deviceID, len(h.sessions))
	}
	h.mu.Unlock()

	if removed && h.handlers.Closed != nil {
		h.handlers.Closed(deviceID)
	}
}

func (h *Hub) readLoop(deviceID string, s *session) {
	defer h.detach(deviceID, s)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			log.Printf("[DEBUG] Read loop for device %s ended: %v", deviceID, err)
			return
		}

		var frame types.AgentFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			log.Printf("[WARN] Malformed frame from device %s: %v", deviceID, err)
			continue
		}

		switch frame.Kind {
		case types.FrameHeartbeat:
			if h.handlers.Heartbeat != nil {
				h.handlers.Heartbeat(deviceID, frame.SoftwareVersion)
			}
		case types.FrameResult:
			if frame.CommandID == "" {
				log.Printf("[WARN] Result frame without command id from device %s", deviceID)
				continue
			}
			if h.handlers.Result != nil {
				h.handlers.Result(frame.CommandID, frame.Success, frame.Result, frame.Error)
			}
		default:
			log.Printf("[WARN] Unknown frame kind %q from device %s", frame.Kind, deviceID)
		}
	}
}

// IsConnected reports whether the device has a live session.
func (h *Hub) IsConnected(deviceID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.sessions[deviceID]
	return ok
}

// Send delivers a command envelope over the device's live session. The write
// is serialized per session; the WebSocket protocol allows one writer at a
// time.
func (h *Hub) Send(deviceID string, envelope types.CommandEnvelope) error {
	h.mu.Lock()
	s, ok := h.sessions[deviceID]
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("device %s: %w", deviceID, types.ErrDeviceUnreachable)
	}

	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope for %s: %w", deviceID, err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("send to device %s: %v: %w", deviceID, err, types.ErrDeliveryFailed)
	}
	return nil
}

// SessionCount returns the number of live device sessions.
func (h *Hub) SessionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}
