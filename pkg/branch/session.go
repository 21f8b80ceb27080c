package branch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/grovechat/grove/pkg/api"
	"github.com/grovechat/grove/pkg/events"
	"github.com/grovechat/grove/pkg/logger"
)

// State is a stream session's position in its lifecycle.
type State int

const (
	StateIdle State = iota
	StateSending
	StateStreaming
	StateCompleted
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state removes the session.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Session is the live state machine consuming one streamed reply. Its key
// starts provisional and migrates to the confirmed-assistant key on
// completion.
type Session struct {
	ID                 string
	TreeID             string
	PendingUserID      string
	PendingAssistantID string

	mu                  sync.Mutex
	key                 Key
	state               State
	resolvedUserID      string
	resolvedAssistantID string
	accumulated         strings.Builder
	cancel              context.CancelFunc
}

// NewSession creates a session in the sending state under its provisional
// key.
func NewSession(key Key, treeID, pendingUserID, pendingAssistantID string, cancel context.CancelFunc) *Session {
	return &Session{
		ID:                 uuid.NewString(),
		TreeID:             treeID,
		PendingUserID:      pendingUserID,
		PendingAssistantID: pendingAssistantID,
		key:                key,
		state:              StateSending,
		cancel:             cancel,
	}
}

// Key returns the session's current key.
func (s *Session) Key() Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.key
}

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Content returns the accumulated assistant content so far.
func (s *Session) Content() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accumulated.String()
}

// ResolvedUserID returns the server-assigned user node id, if the start
// frame arrived.
func (s *Session) ResolvedUserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolvedUserID
}

// Cancel aborts the underlying transport; the next read resolves into a
// cancellation signal regardless of how much was already buffered.
func (s *Session) Cancel() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Session) accumulate(delta string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accumulated.WriteString(delta)
	return s.accumulated.String()
}

// Outcome is a session's terminal result.
type Outcome struct {
	State       State
	Key         Key
	UserID      string
	AssistantID string
	Content     string
	Err         error
}

// Manager owns the addressable session registry: at most one live session
// per synchronization key, one live network stream per key. Frames for a
// session are processed strictly in arrival order on a single goroutine.
type Manager struct {
	mu        sync.Mutex
	sessions  map[Key]*Session
	cache     *Cache
	bus       *events.Bus
	activeKey func() Key
	log       *logger.Logger
}

// NewManager creates an empty session manager over the given cache.
func NewManager(cache *Cache, bus *events.Bus) *Manager {
	return &Manager{
		sessions:  make(map[Key]*Session),
		cache:     cache,
		bus:       bus,
		activeKey: func() Key { return Key{} },
		log:       logger.WithComponent("stream_sessions"),
	}
}

// SetActiveKeyFunc wires the provider of the currently displayed key. It is
// consulted on every incoming frame, never cached, because the user may
// navigate mid-stream.
func (m *Manager) SetActiveKeyFunc(f func() Key) {
	if f != nil {
		m.activeKey = f
	}
}

// Active reports whether a key has a live session.
func (m *Manager) Active(key Key) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[key]
	return ok
}

// Begin registers a session under its provisional key.
func (m *Manager) Begin(sess *Session) error {
	key := sess.Key()

	m.mu.Lock()
	if _, ok := m.sessions[key]; ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionActive, key)
	}
	m.sessions[key] = sess
	m.mu.Unlock()

	m.bus.PublishSync(events.EventStreamStarted, key.String(), sess.ID, "stream_sessions")
	return nil
}

// Cancel aborts the live session for a key, if any.
func (m *Manager) Cancel(key Key) bool {
	m.mu.Lock()
	sess, ok := m.sessions[key]
	m.mu.Unlock()
	if !ok {
		return false
	}
	sess.Cancel()
	return true
}

// Run consumes a session's frames until a terminal state and returns the
// outcome. Mutations are scoped to the session's own key, so logically
// concurrent sessions never race on shared state.
func (m *Manager) Run(sess *Session, frames <-chan api.Frame) Outcome {
	defer m.remove(sess)

	for frame := range frames {
		if frame.Err != nil {
			if errors.Is(frame.Err, context.Canceled) || errors.Is(frame.Err, context.DeadlineExceeded) {
				return m.cancelled(sess)
			}
			return m.failed(sess, frame.Err)
		}

		if sess.State() == StateSending {
			sess.setState(StateStreaming)
		}

		switch frame.Type {
		case api.FrameStart:
			sess.mu.Lock()
			sess.resolvedUserID = frame.UserID
			sess.mu.Unlock()

		case api.FrameToken:
			m.applyDelta(sess, frame.Delta)

		case api.FrameEnd:
			return m.completed(sess, frame)

		case api.FrameError:
			return m.failed(sess, fmt.Errorf("server stream error: %s", frame.Message))

		default:
			return m.failed(sess, &api.ProtocolError{
				Line: frame.Type,
				Err:  fmt.Errorf("unknown frame type"),
			})
		}
	}

	if sess.State() == StateCancelled {
		return m.outcome(sess, nil)
	}
	return m.failed(sess, ErrStreamTruncated)
}

// applyDelta folds a token into the session and updates the pending
// assistant entry in place; this is the only path that mutates content
// while pending.
func (m *Manager) applyDelta(sess *Session, delta string) {
	content := sess.accumulate(delta)
	key := sess.Key()

	m.cache.Mutate(key, func(path []Message) []Message {
		return replacePendingAssistant(path, content)
	})

	// Re-evaluated per frame: the user may have navigated away and back.
	visible := m.activeKey() == key
	m.bus.PublishSync(events.EventStreamFrame, key.String(), visible, "stream_sessions")
}

// completed finalizes the path, confirms both pending entries, and migrates
// the cache entry and session from the provisional key to the key built
// from the confirmed assistant id.
func (m *Manager) completed(sess *Session, frame api.Frame) Outcome {
	oldKey := sess.Key()
	newKey := NewKey(sess.TreeID, frame.AssistantID)

	m.cache.Mutate(oldKey, func(path []Message) []Message {
		out := replacePendingAssistant(path, frame.Content)
		for i := range out {
			out[i].Pending = false
		}
		return out
	})
	m.cache.MigrateKey(oldKey, newKey)

	m.mu.Lock()
	delete(m.sessions, oldKey)
	m.sessions[newKey] = sess
	m.mu.Unlock()

	sess.mu.Lock()
	sess.key = newKey
	sess.resolvedAssistantID = frame.AssistantID
	sess.accumulated.Reset()
	sess.accumulated.WriteString(frame.Content)
	sess.state = StateCompleted
	sess.mu.Unlock()

	m.bus.PublishSync(events.EventStreamCompleted, newKey.String(), sess.ID, "stream_sessions")
	m.log.Debug("session completed id=%s key=%s", sess.ID, newKey)
	return m.outcome(sess, nil)
}

func (m *Manager) failed(sess *Session, err error) Outcome {
	sess.setState(StateFailed)
	m.bus.PublishSync(events.EventStreamFailed, sess.Key().String(), err, "stream_sessions")
	m.log.Warn("session failed id=%s key=%s err=%v", sess.ID, sess.Key(), err)
	return m.outcome(sess, err)
}

func (m *Manager) cancelled(sess *Session) Outcome {
	sess.setState(StateCancelled)
	m.bus.PublishSync(events.EventStreamCancelled, sess.Key().String(), sess.ID, "stream_sessions")
	m.log.Debug("session cancelled id=%s key=%s", sess.ID, sess.Key())
	return m.outcome(sess, nil)
}

func (m *Manager) outcome(sess *Session, err error) Outcome {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return Outcome{
		State:       sess.state,
		Key:         sess.key,
		UserID:      sess.resolvedUserID,
		AssistantID: sess.resolvedAssistantID,
		Content:     sess.accumulated.String(),
		Err:         err,
	}
}

func (m *Manager) remove(sess *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := sess.Key()
	if m.sessions[key] == sess {
		delete(m.sessions, key)
	}
}

// replacePendingAssistant swaps in new content on the trailing pending
// assistant entry, leaving confirmed entries untouched.
func replacePendingAssistant(path []Message, content string) []Message {
	out := append([]Message(nil), path...)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i].Role == RoleAssistant && out[i].Pending {
			out[i].Content = content
			break
		}
	}
	return out
}

// dropPendingAssistant removes the trailing pending assistant entry.
func dropPendingAssistant(path []Message) []Message {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i].Role == RoleAssistant && path[i].Pending {
			return append(append([]Message(nil), path[:i]...), path[i+1:]...)
		}
	}
	return path
}
