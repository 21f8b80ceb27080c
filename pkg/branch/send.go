package branch

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/grovechat/grove/pkg/api"
	"github.com/grovechat/grove/pkg/events"
	"github.com/grovechat/grove/pkg/logger"
	"github.com/grovechat/grove/pkg/tree"
)

// Streamer is the slice of the collaborator API the orchestrator consumes.
type Streamer interface {
	StreamMessage(ctx context.Context, req api.MessageRequest) (<-chan api.Frame, error)
	PostMessage(ctx context.Context, req api.MessageRequest) (string, error)
}

// SendRequest describes one send: the text, the branch to attach to, and
// the target tree. An empty TreeID creates a tree lazily; an empty ParentID
// attaches to the tree's seeded root.
type SendRequest struct {
	TreeID   string
	ParentID string
	Text     string
}

// Send is a handle on one in-flight send.
type Send struct {
	// ProvisionalKey addresses the optimistic path until ids are confirmed.
	ProvisionalKey Key

	session *Session
	done    chan Outcome
}

// Cancel aborts the send's transport. The pending assistant placeholder is
// rolled back; the user message is kept since the server already stored it.
func (s *Send) Cancel() {
	s.session.Cancel()
}

// Done delivers the terminal outcome exactly once.
func (s *Send) Done() <-chan Outcome {
	return s.done
}

// Orchestrator validates input, inserts the optimistic pair, starts a
// stream session, and applies the terminal outcome to the Tree Store, Path
// Cache, and Unread Tracker.
type Orchestrator struct {
	svc      Streamer
	store    *tree.Store
	cache    *Cache
	sessions *Manager
	unread   *tree.Unread
	bus      *events.Bus
	log      *logger.Logger

	mu     sync.Mutex
	active Key
}

// NewOrchestrator wires the send pipeline together. The session manager's
// active-key provider is bound to this orchestrator's displayed key.
func NewOrchestrator(svc Streamer, store *tree.Store, cache *Cache, sessions *Manager, unread *tree.Unread, bus *events.Bus) *Orchestrator {
	o := &Orchestrator{
		svc:      svc,
		store:    store,
		cache:    cache,
		sessions: sessions,
		unread:   unread,
		bus:      bus,
		log:      logger.WithComponent("send_orchestrator"),
	}
	sessions.SetActiveKeyFunc(o.Active)
	return o
}

// SetActive records the currently displayed key. Cross-key reads compare
// against this on every frame.
func (o *Orchestrator) SetActive(key Key) {
	o.mu.Lock()
	o.active = key
	o.mu.Unlock()
}

// Active returns the currently displayed key.
func (o *Orchestrator) Active() Key {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active
}

// Send validates and dispatches one streamed exchange. Validation errors
// are returned before any optimistic mutation. The returned handle reports
// the terminal outcome on Done.
func (o *Orchestrator) Send(ctx context.Context, req SendRequest) (*Send, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, ErrEmptyMessage
	}

	treeID, parentID, err := o.resolveTarget(ctx, req)
	if err != nil {
		return nil, err
	}

	sendKey := NewKey(treeID, parentID)
	if o.sessions.Active(sendKey) {
		return nil, fmt.Errorf("%w: %s", ErrSessionActive, sendKey)
	}

	// High-resolution timestamp plus random suffix keeps same-millisecond
	// sends unique.
	tempUserID := provisionalPrefix + "user-" + ulid.Make().String()
	tempAssistantID := provisionalPrefix + "assistant-" + ulid.Make().String()

	snapshot, err := o.cache.Ensure(ctx, sendKey)
	if err != nil {
		return nil, err
	}

	provisional := ProvisionalKey(treeID, tempUserID)
	optimistic := append(append([]Message(nil), snapshot...),
		NewUserMessage(text),
		NewAssistantPlaceholder(),
	)
	o.cache.SetOptimistic(provisional, optimistic)

	userParent := parentID
	o.store.AddPending(treeID, tree.Node{
		ID:       tempUserID,
		Role:     RoleUser,
		Label:    text,
		ParentID: optionalID(userParent),
	})
	o.store.AddPending(treeID, tree.Node{
		ID:       tempAssistantID,
		Role:     RoleAssistant,
		ParentID: &tempUserID,
	})

	streamCtx, cancel := context.WithCancel(ctx)
	sess := NewSession(provisional, treeID, tempUserID, tempAssistantID, cancel)
	if err := o.sessions.Begin(sess); err != nil {
		cancel()
		o.rollbackAll(provisional, treeID, tempUserID, text, err)
		return nil, err
	}

	wireParent := optionalID(parentID)
	frames, err := o.svc.StreamMessage(streamCtx, api.MessageRequest{
		TreeID:   treeID,
		ParentID: wireParent,
		Content:  text,
	})
	if err != nil {
		cancel()
		o.sessions.remove(sess)
		o.rollbackAll(provisional, treeID, tempUserID, text, err)
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}

	o.bus.PublishSync(events.EventSendStarted, provisional.String(), sess.ID, "send_orchestrator")

	send := &Send{
		ProvisionalKey: provisional,
		session:        sess,
		done:           make(chan Outcome, 1),
	}

	go func() {
		outcome := o.sessions.Run(sess, frames)
		outcome = o.finalize(sess, outcome, text)
		send.done <- outcome
	}()

	return send, nil
}

// SendBlocking is the non-streaming fallback: post, wait for the stored
// assistant reply, refresh.
func (o *Orchestrator) SendBlocking(ctx context.Context, req SendRequest) (Key, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return Key{}, ErrEmptyMessage
	}

	treeID, parentID, err := o.resolveTarget(ctx, req)
	if err != nil {
		return Key{}, err
	}

	assistantID, err := o.svc.PostMessage(ctx, api.MessageRequest{
		TreeID:   treeID,
		ParentID: optionalID(parentID),
		Content:  text,
	})
	if err != nil {
		return Key{}, fmt.Errorf("failed to post message: %w", err)
	}

	if valid, err := o.store.Refresh(ctx, treeID); err == nil {
		o.unread.Prune(treeID, valid)
	}

	return NewKey(treeID, assistantID), nil
}

// DeleteNode removes a branch node; the server cascade takes its descendants
// with it. Local projections are reconciled afterwards: unread ids and cached
// paths pointing at vanished nodes are dropped, and a displayed key whose
// node was deleted falls back to the tree root.
func (o *Orchestrator) DeleteNode(ctx context.Context, key Key) error {
	valid, err := o.store.DeleteNode(ctx, key.TreeID, key.NodeID)
	if err != nil {
		return err
	}

	o.unread.Prune(key.TreeID, valid)
	o.cache.InvalidateStale(key.TreeID, valid)

	active := o.Active()
	if active.TreeID != key.TreeID || active.Provisional() {
		return nil
	}
	if _, ok := valid[active.NodeID]; !ok {
		if root, ok := o.store.RootID(key.TreeID); ok {
			o.SetActive(NewKey(key.TreeID, root))
		}
	}
	return nil
}

// resolveTarget picks the tree (created lazily when absent) and the parent
// node (the seeded root when no branch was selected).
func (o *Orchestrator) resolveTarget(ctx context.Context, req SendRequest) (treeID, parentID string, err error) {
	treeID = req.TreeID
	if treeID == "" || treeID == NoTree {
		created, err := o.store.CreateTree(ctx, nil)
		if err != nil {
			return "", "", fmt.Errorf("%w: %v", ErrNoTree, err)
		}
		treeID = created.ID
		if valid, err := o.store.Refresh(ctx, treeID); err == nil {
			o.unread.Prune(treeID, valid)
		}
	}

	parentID = req.ParentID
	if parentID == "" || parentID == RootNode {
		if root, ok := o.store.RootID(treeID); ok {
			parentID = root
		} else {
			// The server defaults a nil parent to the seeded root.
			parentID = ""
		}
	}
	return treeID, parentID, nil
}

// finalize applies a terminal outcome per the rollback rules: success keeps
// everything and refreshes, failure reverses both optimistic nodes and
// restores the typed text, cancellation reverses only the assistant
// placeholder.
func (o *Orchestrator) finalize(sess *Session, outcome Outcome, originalText string) Outcome {
	ctx := context.Background()

	switch outcome.State {
	case StateCompleted:
		o.store.ClearPending(sess.TreeID, sess.PendingUserID, sess.PendingAssistantID)
		if valid, err := o.store.Refresh(ctx, sess.TreeID); err == nil {
			o.unread.Prune(sess.TreeID, valid)
		} else {
			o.log.Warn("post-completion refresh failed tree=%s err=%v", sess.TreeID, err)
		}

		if o.Active().TreeID == sess.TreeID {
			// Select the newly confirmed assistant node as active.
			o.SetActive(outcome.Key)
		} else {
			o.unread.MarkUnread(sess.TreeID, outcome.AssistantID)
		}

	case StateFailed:
		o.rollbackAll(sess.Key(), sess.TreeID, sess.PendingUserID, originalText, outcome.Err)

	case StateCancelled:
		o.store.RemovePending(sess.TreeID, sess.PendingAssistantID)
		o.cache.Mutate(sess.Key(), dropPendingAssistant)
		if resolved := sess.ResolvedUserID(); resolved != "" {
			// The user node is durable and identified; confirm it and move
			// the entry to its real key.
			o.store.ClearPending(sess.TreeID, sess.PendingUserID)
			o.cache.Mutate(sess.Key(), func(path []Message) []Message {
				out := append([]Message(nil), path...)
				for i := range out {
					out[i].Pending = false
				}
				return out
			})
			confirmed := NewKey(sess.TreeID, resolved)
			o.cache.MigrateKey(sess.Key(), confirmed)
			outcome.Key = confirmed
		}
		if valid, err := o.store.Refresh(ctx, sess.TreeID); err == nil {
			o.unread.Prune(sess.TreeID, valid)
		}
	}

	return outcome
}

// rollbackAll fully reverses the optimistic phase: no phantom node survives
// a non-completed outcome, and the typed text goes back to the input.
func (o *Orchestrator) rollbackAll(provisional Key, treeID, tempUserID, originalText string, cause error) {
	o.store.RemovePending(treeID, tempUserID)
	o.cache.Invalidate(provisional)
	o.bus.PublishSync(events.EventSendFailed, provisional.String(), events.SendFailedPayload{
		Err:           cause,
		RestoredInput: originalText,
	}, "send_orchestrator")
	o.bus.PublishSync(events.EventInputRestore, provisional.String(), originalText, "send_orchestrator")
}

func optionalID(id string) *string {
	if id == "" || id == RootNode {
		return nil
	}
	return &id
}
