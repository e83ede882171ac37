// Package session coordinates collaborative editing sessions: roster,
// lifecycle, edits, history and recovery. Every mutation of a session runs
// on that session's own serial queue.
package session

import (
	"context"
	defError "errors"
	"fmt"
	"log"
	"slices"
	"sync"
	"time"

	"collaborative-draft-editor/internal/conflict"
	"collaborative-draft-editor/internal/domain"
	"collaborative-draft-editor/internal/errors"
	"collaborative-draft-editor/internal/metrics"
	"collaborative-draft-editor/internal/notify"
	"collaborative-draft-editor/internal/permission"
	"collaborative-draft-editor/internal/publish"
	"collaborative-draft-editor/internal/recovery"
	"collaborative-draft-editor/internal/store"
	"collaborative-draft-editor/internal/transform"
	"collaborative-draft-editor/internal/version"
	"collaborative-draft-editor/internal/worker"

	"github.com/google/uuid"
)

type Service interface {
	CreateSession(ctx context.Context, initiatorID string, collaboratorIDs []string, initialContent string) (*domain.Session, error)
	GetSession(ctx context.Context, sessionID, callerID string) (*domain.Session, error)
	InviteCollaborator(ctx context.Context, sessionID, callerID, userID string, role domain.Role) (*domain.Collaborator, error)
	UpdatePermissions(ctx context.Context, sessionID, callerID, userID string, perms domain.PermissionSet) (*domain.Collaborator, error)
	RemoveCollaborator(ctx context.Context, sessionID, callerID, userID string) error
	ApplyEdit(ctx context.Context, sessionID, callerID string, edit domain.ContentEdit) (*domain.ContentVersion, error)
	GetVersionHistory(ctx context.Context, sessionID, callerID string) ([]domain.ContentVersion, error)
	GetVersion(ctx context.Context, sessionID, callerID string, versionID int64) (*domain.ContentVersion, error)
	RevertToVersion(ctx context.Context, sessionID, callerID string, versionID int64) (*domain.ContentVersion, error)
	Publish(ctx context.Context, sessionID, callerID string) (string, error)
	GetSessionHealth(ctx context.Context, sessionID, callerID string) (domain.Health, error)
	ListConflicts(ctx context.Context, sessionID, callerID string) ([]domain.ConflictRecord, error)
	Reactivate(ctx context.Context, sessionID, callerID string) (*domain.Session, error)
	Archive(ctx context.Context, sessionID, callerID string) (*domain.Session, error)
	Recover(ctx context.Context, sessionID string) (domain.Health, error)
}

// Deps are the collaborators of a Manager
type Deps struct {
	Store     store.DurableStore
	Versions  *version.Store
	Engine    *transform.Engine
	Arbiter   transform.Arbiter
	Recovery  *recovery.Manager
	Notifier  notify.Dispatcher
	Publisher publish.Pipeline
	// Now and NewID default to time.Now and uuid strings
	Now   func() time.Time
	NewID func() string
}

// actor owns the in-memory state of one session. Fields other than serial
// are only touched from the serial goroutine.
type actor struct {
	serial   *worker.Serial
	loaded   bool
	session  *domain.Session
	doc      *transform.Document
	versions []domain.ContentVersion
}

type Manager struct {
	Deps

	mu     sync.Mutex
	actors map[string]*actor
}

var _ Service = (*Manager)(nil)

func NewManager(deps Deps) *Manager {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Nop{}
	}
	if deps.Arbiter == nil {
		deps.Arbiter = conflict.NewResolver()
	}
	return &Manager{Deps: deps, actors: make(map[string]*actor)}
}

func (m *Manager) actorFor(sessionID string) *actor {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.actors[sessionID]
	if !ok {
		a = &actor{serial: worker.NewSerial(64)}
		m.actors[sessionID] = a
	}
	return a
}

func (m *Manager) drop(sessionID string, a *actor) {
	m.mu.Lock()
	if m.actors[sessionID] == a {
		delete(m.actors, sessionID)
	}
	m.mu.Unlock()
	a.serial.Stop()
}

// run executes fn on the session's queue with its state loaded. Once
// queued, fn runs to completion even if ctx is cancelled.
func (m *Manager) run(ctx context.Context, sessionID string, fn func(ctx context.Context, a *actor) error) error {
	for {
		a := m.actorFor(sessionID)
		var (
			err     error
			unknown bool
		)
		qerr := a.serial.Do(ctx, func() {
			opCtx := context.WithoutCancel(ctx)
			if err = m.load(opCtx, sessionID, a); err == nil {
				err = fn(opCtx, a)
			}
			unknown = !a.loaded && defError.Is(err, errors.ErrSessionNotFound)
		})
		if defError.Is(qerr, worker.ErrStopped) {
			continue
		}
		if qerr != nil {
			return qerr
		}
		if unknown {
			m.drop(sessionID, a)
		}
		return err
	}
}

func notFound(sessionID string, err error) error {
	return errors.SessionNotFound(fmt.Sprintf("session %s not found", sessionID), err)
}

func storageFailure(msg string, err error) error {
	var apiErr *errors.APIError
	if defError.As(err, &apiErr) {
		return err
	}
	return errors.StorageFailure(msg, err)
}

// load brings the actor state in line with the durable store, recovering
// the session when its history is inconsistent
func (m *Manager) load(ctx context.Context, sessionID string, a *actor) error {
	if a.loaded {
		return nil
	}
	session, err := m.Store.Get(ctx, sessionID)
	if defError.Is(err, store.ErrNotFound) {
		return notFound(sessionID, err)
	}
	if err != nil {
		return storageFailure("load session failed", err)
	}
	versions, err := m.Versions.History(ctx, sessionID)
	if err != nil {
		return err
	}

	var doc *transform.Document
	if err = recovery.Inspect(session, versions); err == nil {
		doc, err = m.Engine.Replay(versions, m.Arbiter)
	}
	if err != nil {
		log.Printf("[SESSION] session %s is inconsistent, recovering: %v", sessionID, err)
		session, versions, err = m.Recovery.RecoverFromCrash(ctx, sessionID)
		if err != nil {
			return err
		}
		if doc, err = m.Engine.Replay(versions, m.Arbiter); err != nil {
			return errors.StorageFailure("recovered history does not replay", err)
		}
	}

	a.session, a.doc, a.versions, a.loaded = session, doc, versions, true
	return nil
}

// persist writes next as the new session state
func (m *Manager) persist(ctx context.Context, a *actor, next *domain.Session) error {
	next.UpdatedAt = m.Now()
	if err := m.Store.UpdateSession(ctx, next); err != nil {
		m.Recovery.MarkDegraded(next.ID, true)
		return storageFailure("save session failed", err)
	}
	next.CurrentVersionID = a.session.CurrentVersionID
	a.session = next
	return nil
}

// member resolves the caller against the roster and checks one action
func member(s *domain.Session, callerID string, action domain.Permission) (*domain.Collaborator, error) {
	c := s.Collaborator(callerID)
	if !permission.Check(c, action) {
		return nil, errors.PermissionDenied(fmt.Sprintf("%s may not %s in session %s", callerID, action, s.ID), nil)
	}
	return c, nil
}

func editable(s *domain.Session) error {
	if !s.Status.Editable() {
		return errors.SessionInactive(fmt.Sprintf("session %s is %s", s.ID, s.Status), nil)
	}
	return nil
}

// loadForRead reads a session from the durable store without the queue
func (m *Manager) loadForRead(ctx context.Context, sessionID, callerID string) (*domain.Session, error) {
	session, err := m.Store.Get(ctx, sessionID)
	if defError.Is(err, store.ErrNotFound) {
		return nil, notFound(sessionID, err)
	}
	if err != nil {
		return nil, storageFailure("load session failed", err)
	}
	if _, err := member(session, callerID, domain.PermView); err != nil {
		return nil, err
	}
	return session, nil
}

func (m *Manager) CreateSession(ctx context.Context, initiatorID string, collaboratorIDs []string, initialContent string) (*domain.Session, error) {
	if initiatorID == "" {
		return nil, errors.InvalidArgument("initiator is required", nil)
	}
	now := m.Now()
	session := &domain.Session{
		ID:             m.NewID(),
		OwnerID:        initiatorID,
		Status:         domain.StatusDraft,
		Collaborators:  []domain.Collaborator{permission.NewCollaborator(initiatorID, domain.RoleOwner, now)},
		CreatedAt:      now,
		UpdatedAt:      now,
		LastActivityAt: now,
	}
	for _, id := range collaboratorIDs {
		if id == "" || session.Collaborator(id) != nil {
			continue
		}
		session.Collaborators = append(session.Collaborators, permission.NewCollaborator(id, domain.RoleEditor, now))
	}
	if len(session.Collaborators) > 1 {
		session.Status = domain.StatusActive
	}

	seed := domain.ContentVersion{
		ID:           0,
		Content:      initialContent,
		MediaRefs:    domain.MediaRefs(initialContent),
		EditorID:     initiatorID,
		AppliedEdits: []domain.ContentEdit{},
		Timestamp:    now,
	}
	if err := m.Store.Create(ctx, session); err != nil {
		return nil, storageFailure("create session failed", err)
	}
	if err := m.Versions.Append(ctx, session.ID, seed); err != nil {
		m.Recovery.MarkDegraded(session.ID, true)
		return nil, err
	}

	a := m.actorFor(session.ID)
	err := a.serial.Do(ctx, func() {
		if !a.loaded {
			a.session = session.Clone()
			a.doc = transform.NewDocument(initialContent)
			a.versions = []domain.ContentVersion{seed}
			a.loaded = true
		}
	})
	if err != nil {
		return nil, err
	}

	for _, c := range session.Collaborators[1:] {
		m.Notifier.NotifyInvite(ctx, session.ID, c.UserID, c.Role, initiatorID)
	}
	log.Printf("[SESSION] %s created by %s with %d collaborators", session.ID, initiatorID, len(session.Collaborators)-1)
	return session.Clone(), nil
}

func (m *Manager) GetSession(ctx context.Context, sessionID, callerID string) (*domain.Session, error) {
	return m.loadForRead(ctx, sessionID, callerID)
}

func (m *Manager) InviteCollaborator(ctx context.Context, sessionID, callerID, userID string, role domain.Role) (*domain.Collaborator, error) {
	var invited domain.Collaborator
	err := m.run(ctx, sessionID, func(ctx context.Context, a *actor) error {
		if _, err := member(a.session, callerID, domain.PermInviteCollaborators); err != nil {
			return err
		}
		if err := editable(a.session); err != nil {
			return err
		}
		if userID == "" {
			return errors.InvalidArgument("user id is required", nil)
		}
		if role == domain.RoleOwner || permission.Maximum(role) == 0 {
			return errors.InvalidArgument(fmt.Sprintf("role %s cannot be granted", role), nil)
		}

		now := m.Now()
		next := a.session.Clone()
		if existing := next.Collaborator(userID); existing != nil {
			if existing.IsActive {
				return errors.AlreadyMember(fmt.Sprintf("%s is already a collaborator", userID), nil)
			}
			*existing = permission.NewCollaborator(userID, role, now)
		} else {
			next.Collaborators = append(next.Collaborators, permission.NewCollaborator(userID, role, now))
		}
		if next.Status == domain.StatusDraft {
			next.Status = domain.StatusActive
		}
		next.LastActivityAt = now
		if err := m.persist(ctx, a, next); err != nil {
			return err
		}
		invited = *a.session.Collaborator(userID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.Notifier.NotifyInvite(ctx, sessionID, userID, role, callerID)
	return &invited, nil
}

func (m *Manager) UpdatePermissions(ctx context.Context, sessionID, callerID, userID string, perms domain.PermissionSet) (*domain.Collaborator, error) {
	var updated domain.Collaborator
	err := m.run(ctx, sessionID, func(ctx context.Context, a *actor) error {
		caller, err := member(a.session, callerID, domain.PermUpdatePermissions)
		if err != nil {
			return err
		}
		if caller.Role != domain.RoleOwner {
			return errors.PermissionDenied("only the owner may change permissions", nil)
		}
		if err := editable(a.session); err != nil {
			return err
		}

		next := a.session.Clone()
		target := next.Collaborator(userID)
		switch {
		case target == nil || !target.IsActive:
			return errors.InvalidArgument(fmt.Sprintf("%s is not an active collaborator", userID), nil)
		case target.Role == domain.RoleOwner:
			return errors.InvalidArgument("the owner's permissions cannot be changed", nil)
		case !permission.Allowed(target.Role, perms):
			return errors.InvalidArgument(fmt.Sprintf("permissions %s exceed role %s", perms, target.Role), nil)
		}
		target.Permissions = perms
		if err := m.persist(ctx, a, next); err != nil {
			return err
		}
		updated = *a.session.Collaborator(userID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (m *Manager) RemoveCollaborator(ctx context.Context, sessionID, callerID, userID string) error {
	return m.run(ctx, sessionID, func(ctx context.Context, a *actor) error {
		if _, err := member(a.session, callerID, domain.PermRemoveCollaborator); err != nil {
			return err
		}
		if err := editable(a.session); err != nil {
			return err
		}

		next := a.session.Clone()
		target := next.Collaborator(userID)
		switch {
		case target == nil || !target.IsActive:
			return errors.InvalidArgument(fmt.Sprintf("%s is not an active collaborator", userID), nil)
		case target.Role == domain.RoleOwner:
			return errors.InvalidArgument("the owner cannot be removed", nil)
		}
		target.IsActive = false
		return m.persist(ctx, a, next)
	})
}

func (m *Manager) ApplyEdit(ctx context.Context, sessionID, callerID string, edit domain.ContentEdit) (*domain.ContentVersion, error) {
	start := time.Now()
	var applied domain.ContentVersion
	err := m.run(ctx, sessionID, func(ctx context.Context, a *actor) error {
		if _, err := member(a.session, callerID, permission.ForEdit(edit.Type)); err != nil {
			return err
		}
		if err := editable(a.session); err != nil {
			return err
		}

		edit.AuthorID = callerID
		if edit.ID == "" {
			edit.ID = m.NewID()
		}
		if edit.Timestamp.IsZero() {
			edit.Timestamp = m.Now()
		}
		if prior, ok := a.retried(edit); ok {
			applied = prior
			return nil
		}
		plan, err := m.Engine.Rebase(a.doc, edit, m.Arbiter)
		if err != nil {
			return err
		}
		v, err := m.commit(ctx, a, plan, callerID)
		if err != nil {
			return err
		}
		applied = v
		return nil
	})
	metrics.ApplyDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	metrics.EditsApplied.WithLabelValues(string(edit.Type)).Inc()
	return &applied, nil
}

// retried returns the version an identical edit with the same id already
// produced. A different edit reusing the id is left to the engine, which
// rejects it.
func (a *actor) retried(edit domain.ContentEdit) (domain.ContentVersion, bool) {
	id, ok := a.doc.Applied(edit.ID)
	if !ok {
		return domain.ContentVersion{}, false
	}
	i := slices.IndexFunc(a.versions, func(v domain.ContentVersion) bool { return v.ID == id })
	if i < 0 || a.versions[i].SourceEdit == nil {
		return domain.ContentVersion{}, false
	}
	normalized, err := transform.Normalize(edit)
	if err != nil || !sameEdit(*a.versions[i].SourceEdit, normalized) {
		return domain.ContentVersion{}, false
	}
	return a.versions[i], true
}

func sameEdit(a, b domain.ContentEdit) bool {
	return a.Type == b.Type && a.Position == b.Position && a.OldText == b.OldText &&
		a.NewText == b.NewText && a.MediaRef == b.MediaRef &&
		a.AuthorID == b.AuthorID && a.BaseVersionID == b.BaseVersionID
}

// commit appends the planned version and then applies it in memory. A
// failed append leaves the session untouched and forces a reload.
func (m *Manager) commit(ctx context.Context, a *actor, plan *transform.Plan, editorID string) (domain.ContentVersion, error) {
	now := m.Now()
	v := domain.ContentVersion{
		ID:           plan.Version,
		Content:      plan.Content,
		MediaRefs:    domain.MediaRefs(plan.Content),
		EditorID:     editorID,
		AppliedEdits: plan.Applied,
		Timestamp:    now,
	}
	if plan.Edit.ID != "" {
		source := plan.Edit
		v.SourceEdit = &source
	}

	if err := m.Versions.Append(ctx, a.session.ID, v); err != nil {
		m.Recovery.MarkDegraded(a.session.ID, true)
		a.loaded = false
		log.Printf("[SESSION] %s: append of version %d failed: %v", a.session.ID, v.ID, err)
		return v, err
	}
	if err := a.doc.Commit(plan); err != nil {
		a.loaded = false
		return v, errors.Internal(err)
	}
	m.Recovery.MarkDegraded(a.session.ID, false)
	a.versions = append(a.versions, v)
	a.session.CurrentVersionID = v.ID

	next := a.session.Clone()
	next.LastActivityAt = now
	if next.Status == domain.StatusDraft {
		next.Status = domain.StatusActive
	}
	if err := m.persist(ctx, a, next); err != nil {
		// the version is durable, only the activity metadata lags
		log.Printf("[SESSION] %s: session update after version %d failed: %v", a.session.ID, v.ID, err)
	}

	if plan.Conflict != nil {
		m.recordConflict(ctx, a.session.ID, plan.Conflict, now)
	}
	if m.Recovery.Record(a.session.ID) {
		m.snapshot(ctx, a)
	}

	recipients := slices.DeleteFunc(a.session.ActiveCollaboratorIDs(), func(id string) bool { return id == editorID })
	summary := fmt.Sprintf("%s %s", editorID, plan.Edit.Summary())
	if plan.Edit.ID == "" {
		summary = fmt.Sprintf("%s reverted without changes", editorID)
	}
	m.Notifier.NotifyEdit(ctx, a.session.ID, recipients, summary, v.ID)
	return v, nil
}

func (m *Manager) recordConflict(ctx context.Context, sessionID string, c *transform.Conflict, now time.Time) {
	record := conflict.Record(sessionID, c.Incoming, c.Rivals, c.Winner, now)
	metrics.Conflicts.Inc()
	if err := m.Store.SaveConflict(ctx, record); err != nil {
		log.Printf("[SESSION] %s: saving conflict %s failed: %v", sessionID, record.ID, err)
	}
	m.Notifier.NotifyConflict(ctx, sessionID, conflict.Authors(c.Incoming, c.Rivals), record)
}

func (m *Manager) snapshot(ctx context.Context, a *actor) {
	if err := m.Recovery.Snapshot(ctx, a.session, a.versions); err != nil {
		log.Printf("[SESSION] %s: snapshot failed: %v", a.session.ID, err)
	}
}

func (m *Manager) GetVersionHistory(ctx context.Context, sessionID, callerID string) ([]domain.ContentVersion, error) {
	if _, err := m.loadForRead(ctx, sessionID, callerID); err != nil {
		return nil, err
	}
	return m.Versions.History(ctx, sessionID)
}

func (m *Manager) GetVersion(ctx context.Context, sessionID, callerID string, versionID int64) (*domain.ContentVersion, error) {
	if _, err := m.loadForRead(ctx, sessionID, callerID); err != nil {
		return nil, err
	}
	return m.Versions.Get(ctx, sessionID, versionID)
}

// RevertToVersion appends a version whose content equals versionID. The
// change is computed as a single edit against the head, so history only
// grows; reverting to content equal to the head still appends a version.
func (m *Manager) RevertToVersion(ctx context.Context, sessionID, callerID string, versionID int64) (*domain.ContentVersion, error) {
	var reverted domain.ContentVersion
	err := m.run(ctx, sessionID, func(ctx context.Context, a *actor) error {
		if _, err := member(a.session, callerID, domain.PermEditContent); err != nil {
			return err
		}
		if err := editable(a.session); err != nil {
			return err
		}
		idx := slices.IndexFunc(a.versions, func(v domain.ContentVersion) bool { return v.ID == versionID })
		if idx < 0 {
			return errors.VersionNotFound(fmt.Sprintf("version %d of session %s not found", versionID, sessionID), nil)
		}

		var plan *transform.Plan
		pos, oldText, newText := transform.Diff(a.doc.Content(), a.versions[idx].Content)
		if oldText == "" && newText == "" {
			plan = a.doc.EmptyPlan()
		} else {
			edit := domain.ContentEdit{
				ID:            m.NewID(),
				Type:          domain.EditReplace,
				Position:      pos,
				OldText:       oldText,
				NewText:       newText,
				AuthorID:      callerID,
				BaseVersionID: a.doc.Head(),
				Timestamp:     m.Now(),
			}
			switch {
			case oldText == "":
				edit.Type = domain.EditInsert
			case newText == "":
				edit.Type = domain.EditDelete
			}
			var err error
			if plan, err = m.Engine.Rebase(a.doc, edit, m.Arbiter); err != nil {
				return err
			}
		}
		v, err := m.commit(ctx, a, plan, callerID)
		if err != nil {
			return err
		}
		reverted = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &reverted, nil
}

func (m *Manager) Publish(ctx context.Context, sessionID, callerID string) (string, error) {
	var postID string
	var recipients []string
	err := m.run(ctx, sessionID, func(ctx context.Context, a *actor) error {
		if _, err := member(a.session, callerID, domain.PermPublish); err != nil {
			return err
		}
		if a.session.Status != domain.StatusActive {
			return errors.SessionInactive(fmt.Sprintf("session %s is %s, only active sessions publish", sessionID, a.session.Status), nil)
		}

		if m.Publisher == nil {
			return errors.UpstreamFailure("no publishing pipeline configured", nil)
		}
		content := a.doc.Content()
		id, err := m.Publisher.Publish(ctx, content, domain.MediaRefs(content), a.session.OwnerID)
		if err != nil {
			return errors.UpstreamFailure("publishing pipeline failed", err)
		}

		next := a.session.Clone()
		next.Status = domain.StatusPublished
		next.ExternalPostID = id
		next.LastActivityAt = m.Now()
		if err := m.persist(ctx, a, next); err != nil {
			log.Printf("[SESSION] %s: published as %s but the session update failed: %v", sessionID, id, err)
			return err
		}
		m.snapshot(ctx, a)
		postID = id
		recipients = a.session.ActiveCollaboratorIDs()
		return nil
	})
	if err != nil {
		return "", err
	}
	m.Notifier.NotifyPublish(ctx, sessionID, recipients, postID)
	log.Printf("[SESSION] %s published as %s", sessionID, postID)
	return postID, nil
}

func (m *Manager) GetSessionHealth(ctx context.Context, sessionID, callerID string) (domain.Health, error) {
	if _, err := m.loadForRead(ctx, sessionID, callerID); err != nil {
		return domain.Health{}, err
	}
	h, err := m.Recovery.HealthCheck(ctx, sessionID)
	if err != nil {
		return h, err
	}
	if h.Reason == domain.ReasonAbandoned && h.Status == domain.StatusActive {
		go m.abandon(context.Background(), sessionID)
	}
	return h, nil
}

// abandon moves a session that is still inactive to Abandoned
func (m *Manager) abandon(ctx context.Context, sessionID string) {
	err := m.run(ctx, sessionID, func(ctx context.Context, a *actor) error {
		if !a.session.Status.CanTransition(domain.StatusAbandoned) || !m.Recovery.Abandoned(a.session, m.Now()) {
			return nil
		}
		next := a.session.Clone()
		next.Status = domain.StatusAbandoned
		if err := m.persist(ctx, a, next); err != nil {
			return err
		}
		log.Printf("[SESSION] %s abandoned after inactivity since %s", sessionID, a.session.LastActivityAt.Format(time.RFC3339))
		return nil
	})
	if err != nil {
		log.Printf("[SESSION] %s: abandon failed: %v", sessionID, err)
	}
}

func (m *Manager) ListConflicts(ctx context.Context, sessionID, callerID string) ([]domain.ConflictRecord, error) {
	if _, err := m.loadForRead(ctx, sessionID, callerID); err != nil {
		return nil, err
	}
	records, err := m.Store.ListConflicts(ctx, sessionID)
	if err != nil {
		return nil, storageFailure("list conflicts failed", err)
	}
	return records, nil
}

func (m *Manager) owner(s *domain.Session, callerID string) error {
	c := s.Collaborator(callerID)
	if c == nil || !c.IsActive || c.Role != domain.RoleOwner {
		return errors.PermissionDenied("only the owner may change the session lifecycle", nil)
	}
	return nil
}

// Reactivate returns an abandoned session to Active
func (m *Manager) Reactivate(ctx context.Context, sessionID, callerID string) (*domain.Session, error) {
	var out *domain.Session
	err := m.run(ctx, sessionID, func(ctx context.Context, a *actor) error {
		if err := m.owner(a.session, callerID); err != nil {
			return err
		}
		if a.session.Status != domain.StatusAbandoned {
			return errors.InvalidArgument(fmt.Sprintf("session %s is %s, not abandoned", sessionID, a.session.Status), nil)
		}
		next := a.session.Clone()
		next.Status = domain.StatusActive
		next.LastActivityAt = m.Now()
		if err := m.persist(ctx, a, next); err != nil {
			return err
		}
		out = a.session.Clone()
		return nil
	})
	return out, err
}

// Archive closes a session for good
func (m *Manager) Archive(ctx context.Context, sessionID, callerID string) (*domain.Session, error) {
	var out *domain.Session
	err := m.run(ctx, sessionID, func(ctx context.Context, a *actor) error {
		if err := m.owner(a.session, callerID); err != nil {
			return err
		}
		if !a.session.Status.CanTransition(domain.StatusArchived) {
			return errors.SessionInactive(fmt.Sprintf("session %s is already %s", sessionID, a.session.Status), nil)
		}
		next := a.session.Clone()
		next.Status = domain.StatusArchived
		if err := m.persist(ctx, a, next); err != nil {
			return err
		}
		m.snapshot(ctx, a)
		out = a.session.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	// archived sessions take no more writes, their queue can go
	m.mu.Lock()
	a := m.actors[sessionID]
	m.mu.Unlock()
	if a != nil {
		m.drop(sessionID, a)
	}
	m.Recovery.Forget(sessionID)
	return out, nil
}

// Recover rebuilds a session from its latest snapshot and reloads it
func (m *Manager) Recover(ctx context.Context, sessionID string) (domain.Health, error) {
	err := m.run(ctx, sessionID, func(ctx context.Context, a *actor) error {
		session, versions, err := m.Recovery.RecoverFromCrash(ctx, sessionID)
		if err != nil {
			return err
		}
		doc, err := m.Engine.Replay(versions, m.Arbiter)
		if err != nil {
			a.loaded = false
			return errors.StorageFailure("recovered history does not replay", err)
		}
		a.session, a.doc, a.versions = session, doc, versions
		return nil
	})
	if err != nil {
		return domain.Health{}, err
	}
	return m.Recovery.HealthCheck(ctx, sessionID)
}

// SnapshotDue snapshots every loaded session past its snapshot interval
// and returns how many were written
func (m *Manager) SnapshotDue(ctx context.Context) int {
	written := 0
	for _, id := range m.loadedIDs() {
		if !m.Recovery.Due(id) {
			continue
		}
		err := m.run(ctx, id, func(ctx context.Context, a *actor) error {
			if m.Recovery.Due(id) {
				m.snapshot(ctx, a)
				written++
			}
			return nil
		})
		if err != nil {
			log.Printf("[SESSION] %s: scheduled snapshot failed: %v", id, err)
		}
	}
	return written
}

// Sweep runs the periodic snapshot and inactivity checks. Sessions that
// are not loaded are only queued when they look abandoned.
func (m *Manager) Sweep(ctx context.Context) {
	m.SnapshotDue(ctx)

	ids, err := m.Store.ListSessions(ctx)
	if err != nil {
		log.Printf("[SESSION] listing sessions for sweep failed: %v", err)
		ids = m.loadedIDs()
	}
	now := m.Now()
	for _, id := range ids {
		session, err := m.Store.Get(ctx, id)
		if err != nil || !m.Recovery.Abandoned(session, now) || session.Status != domain.StatusActive {
			continue
		}
		m.abandon(ctx, id)
	}
}

func (m *Manager) loadedIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.actors))
	for id := range m.actors {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Shutdown drains and stops every session queue
func (m *Manager) Shutdown() {
	m.mu.Lock()
	actors := m.actors
	m.actors = make(map[string]*actor)
	m.mu.Unlock()
	for _, a := range actors {
		a.serial.Stop()
	}
}
