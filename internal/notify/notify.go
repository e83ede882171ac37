// Package notify delivers session events to collaborators. Delivery is
// best effort and never blocks the edit path.
package notify

import (
	"context"
	defError "errors"
	"log"
	"time"

	"collaborative-draft-editor/internal/domain"
	"collaborative-draft-editor/internal/worker"
)

// Event types
const (
	EventInvite   = "invite"
	EventEdit     = "edit"
	EventPublish  = "publish"
	EventConflict = "conflict"
)

// Event is the payload every dispatcher sends
type Event struct {
	Type       string    `json:"type"`
	SessionID  string    `json:"session_id"`
	Recipients []string  `json:"recipients"`
	ActorID    string    `json:"actor_id,omitempty"`
	Role       string    `json:"role,omitempty"`
	Summary    string    `json:"summary,omitempty"`
	VersionID  int64     `json:"version_id,omitempty"`
	PostID     string    `json:"post_id,omitempty"`
	ConflictID string    `json:"conflict_id,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

type Dispatcher interface {
	NotifyInvite(ctx context.Context, sessionID, userID string, role domain.Role, inviterID string) error
	NotifyEdit(ctx context.Context, sessionID string, recipients []string, summary string, versionID int64) error
	NotifyPublish(ctx context.Context, sessionID string, recipients []string, postID string) error
	NotifyConflict(ctx context.Context, sessionID string, authors []string, record domain.ConflictRecord) error
}

// Sender sends a single event. Dispatchers built on it share the event shapes.
type Sender interface {
	Send(ctx context.Context, event Event) error
}

// EventDispatcher turns Dispatcher calls into events for a Sender
type EventDispatcher struct {
	sender Sender
	now    func() time.Time
}

func NewEventDispatcher(sender Sender) *EventDispatcher {
	return &EventDispatcher{sender: sender, now: time.Now}
}

func (d *EventDispatcher) NotifyInvite(ctx context.Context, sessionID, userID string, role domain.Role, inviterID string) error {
	return d.sender.Send(ctx, Event{
		Type: EventInvite, SessionID: sessionID, Recipients: []string{userID},
		ActorID: inviterID, Role: role.String(), Timestamp: d.now(),
	})
}

func (d *EventDispatcher) NotifyEdit(ctx context.Context, sessionID string, recipients []string, summary string, versionID int64) error {
	return d.sender.Send(ctx, Event{
		Type: EventEdit, SessionID: sessionID, Recipients: recipients,
		Summary: summary, VersionID: versionID, Timestamp: d.now(),
	})
}

func (d *EventDispatcher) NotifyPublish(ctx context.Context, sessionID string, recipients []string, postID string) error {
	return d.sender.Send(ctx, Event{
		Type: EventPublish, SessionID: sessionID, Recipients: recipients,
		PostID: postID, Timestamp: d.now(),
	})
}

func (d *EventDispatcher) NotifyConflict(ctx context.Context, sessionID string, authors []string, record domain.ConflictRecord) error {
	return d.sender.Send(ctx, Event{
		Type: EventConflict, SessionID: sessionID, Recipients: authors,
		Summary: record.Resolution, ConflictID: record.ID, Timestamp: d.now(),
	})
}

// Nop drops every notification
type Nop struct{}

func (Nop) NotifyInvite(context.Context, string, string, domain.Role, string) error {
	return nil
}

func (Nop) NotifyEdit(context.Context, string, []string, string, int64) error {
	return nil
}

func (Nop) NotifyPublish(context.Context, string, []string, string) error {
	return nil
}

func (Nop) NotifyConflict(context.Context, string, []string, domain.ConflictRecord) error {
	return nil
}

// Multi fans every notification out to all dispatchers
type Multi []Dispatcher

func (m Multi) each(fn func(Dispatcher) error) error {
	var errs []error
	for _, d := range m {
		if err := fn(d); err != nil {
			errs = append(errs, err)
		}
	}
	return defError.Join(errs...)
}

func (m Multi) NotifyInvite(ctx context.Context, sessionID, userID string, role domain.Role, inviterID string) error {
	return m.each(func(d Dispatcher) error { return d.NotifyInvite(ctx, sessionID, userID, role, inviterID) })
}

func (m Multi) NotifyEdit(ctx context.Context, sessionID string, recipients []string, summary string, versionID int64) error {
	return m.each(func(d Dispatcher) error { return d.NotifyEdit(ctx, sessionID, recipients, summary, versionID) })
}

func (m Multi) NotifyPublish(ctx context.Context, sessionID string, recipients []string, postID string) error {
	return m.each(func(d Dispatcher) error { return d.NotifyPublish(ctx, sessionID, recipients, postID) })
}

func (m Multi) NotifyConflict(ctx context.Context, sessionID string, authors []string, record domain.ConflictRecord) error {
	return m.each(func(d Dispatcher) error { return d.NotifyConflict(ctx, sessionID, authors, record) })
}

// Async hands every notification to a worker pool and returns at once.
// Failures are logged by the pool.
type Async struct {
	inner Dispatcher
	pool  *worker.WorkerPool
}

func NewAsync(inner Dispatcher, pool *worker.WorkerPool) *Async {
	return &Async{inner: inner, pool: pool}
}

func (a *Async) submit(kind, sessionID string, task worker.Task) {
	if !a.pool.Submit(task) {
		log.Printf("[NOTIFY] %s notification for session %s dropped", kind, sessionID)
	}
}

func (a *Async) NotifyInvite(_ context.Context, sessionID, userID string, role domain.Role, inviterID string) error {
	a.submit(EventInvite, sessionID, func(ctx context.Context) error {
		return a.inner.NotifyInvite(ctx, sessionID, userID, role, inviterID)
	})
	return nil
}

func (a *Async) NotifyEdit(_ context.Context, sessionID string, recipients []string, summary string, versionID int64) error {
	a.submit(EventEdit, sessionID, func(ctx context.Context) error {
		return a.inner.NotifyEdit(ctx, sessionID, recipients, summary, versionID)
	})
	return nil
}

func (a *Async) NotifyPublish(_ context.Context, sessionID string, recipients []string, postID string) error {
	a.submit(EventPublish, sessionID, func(ctx context.Context) error {
		return a.inner.NotifyPublish(ctx, sessionID, recipients, postID)
	})
	return nil
}

func (a *Async) NotifyConflict(_ context.Context, sessionID string, authors []string, record domain.ConflictRecord) error {
	a.submit(EventConflict, sessionID, func(ctx context.Context) error {
		return a.inner.NotifyConflict(ctx, sessionID, authors, record)
	})
	return nil
}
