package session

import (
	"context"
	defError "errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"collaborative-draft-editor/internal/conflict"
	"collaborative-draft-editor/internal/domain"
	"collaborative-draft-editor/internal/errors"
	"collaborative-draft-editor/internal/publish"
	"collaborative-draft-editor/internal/recovery"
	"collaborative-draft-editor/internal/store"
	"collaborative-draft-editor/internal/store/memory"
	"collaborative-draft-editor/internal/transform"
	"collaborative-draft-editor/internal/version"
	"collaborative-draft-editor/redis"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type sent struct {
	kind       string
	sessionID  string
	recipients []string
	record     domain.ConflictRecord
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []sent
}

func (n *recordingNotifier) add(e sent) error {
	n.mu.Lock()
	n.events = append(n.events, e)
	n.mu.Unlock()
	return nil
}

func (n *recordingNotifier) NotifyInvite(_ context.Context, sessionID, userID string, _ domain.Role, _ string) error {
	return n.add(sent{kind: "invite", sessionID: sessionID, recipients: []string{userID}})
}

func (n *recordingNotifier) NotifyEdit(_ context.Context, sessionID string, recipients []string, _ string, _ int64) error {
	return n.add(sent{kind: "edit", sessionID: sessionID, recipients: recipients})
}

func (n *recordingNotifier) NotifyPublish(_ context.Context, sessionID string, recipients []string, _ string) error {
	return n.add(sent{kind: "publish", sessionID: sessionID, recipients: recipients})
}

func (n *recordingNotifier) NotifyConflict(_ context.Context, sessionID string, authors []string, record domain.ConflictRecord) error {
	return n.add(sent{kind: "conflict", sessionID: sessionID, recipients: authors, record: record})
}

func (n *recordingNotifier) of(kind string) []sent {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []sent
	for _, e := range n.events {
		if e.kind == kind {
			out = append(out, e)
		}
	}
	return out
}

type fakePublisher struct {
	postID string
	err    error
	calls  int
}

func (p *fakePublisher) Publish(context.Context, string, []string, string) (string, error) {
	p.calls++
	return p.postID, p.err
}

// flakyStore fails the next n version appends
type flakyStore struct {
	*memory.Store
	mu    sync.Mutex
	fails int
}

func (s *flakyStore) AppendVersion(ctx context.Context, sessionID string, v domain.ContentVersion, expectedPrior int64) error {
	s.mu.Lock()
	if s.fails > 0 {
		s.fails--
		s.mu.Unlock()
		return fmt.Errorf("%w: disk unplugged", store.ErrUnavailable)
	}
	s.mu.Unlock()
	return s.Store.AppendVersion(ctx, sessionID, v, expectedPrior)
}

type fixture struct {
	durable   store.DurableStore
	manager   *Manager
	recovery  *recovery.Manager
	notifier  *recordingNotifier
	publisher *fakePublisher
	clock     *clock
}

func newManager(durable store.DurableStore, clk *clock, policy recovery.Policy, notifier *recordingNotifier, publisher *fakePublisher) (*Manager, *recovery.Manager) {
	versions := version.NewStore(durable, redis.NewCache(nil))
	engine := transform.NewEngine(0)
	arbiter := conflict.NewResolver()
	rec := recovery.NewManager(durable, versions, engine, arbiter, policy).WithClock(clk.now)
	var pipeline publish.Pipeline
	if publisher != nil {
		pipeline = publisher
	}
	ids := 0
	var idMu sync.Mutex
	m := NewManager(Deps{
		Store:     durable,
		Versions:  versions,
		Engine:    engine,
		Arbiter:   arbiter,
		Recovery:  rec,
		Notifier:  notifier,
		Publisher: pipeline,
		Now:       clk.now,
		NewID: func() string {
			idMu.Lock()
			defer idMu.Unlock()
			ids++
			return fmt.Sprintf("id-%03d", ids)
		},
	})
	return m, rec
}

func newFixture(t *testing.T, durable store.DurableStore, policy recovery.Policy) *fixture {
	t.Helper()
	if durable == nil {
		durable = memory.New()
	}
	f := &fixture{
		durable:   durable,
		notifier:  &recordingNotifier{},
		publisher: &fakePublisher{postID: "post-1"},
		clock:     &clock{t: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)},
	}
	f.manager, f.recovery = newManager(durable, f.clock, policy, f.notifier, f.publisher)
	t.Cleanup(f.manager.Shutdown)
	return f
}

func quiet() recovery.Policy {
	return recovery.Policy{InactivityTimeout: time.Hour}
}

func insert(pos int, text string, base int64) domain.ContentEdit {
	return domain.ContentEdit{Type: domain.EditInsert, Position: pos, NewText: text, BaseVersionID: base}
}

func (f *fixture) create(t *testing.T, content string, collaborators ...string) *domain.Session {
	t.Helper()
	s, err := f.manager.CreateSession(context.Background(), "alice", collaborators, content)
	require.NoError(t, err)
	return s
}

func TestCreateSession(t *testing.T) {
	f := newFixture(t, nil, quiet())
	ctx := context.Background()

	s := f.create(t, "draft", "bob", "bob", "carol")

	assert.Equal(t, domain.StatusActive, s.Status)
	assert.Len(t, s.Collaborators, 3)
	assert.Equal(t, domain.RoleOwner, s.Collaborator("alice").Role)
	assert.Equal(t, domain.RoleEditor, s.Collaborator("bob").Role)
	assert.Len(t, f.notifier.of("invite"), 2)

	history, err := f.manager.GetVersionHistory(ctx, s.ID, "bob")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "draft", history[0].Content)

	solo := f.create(t, "")
	assert.Equal(t, domain.StatusDraft, solo.Status)

	_, err = f.manager.CreateSession(ctx, "", nil, "")
	assert.ErrorIs(t, err, errors.ErrInvalidArgument)
}

func TestApplyEdit_ConcurrentInsertsOrderedByAuthor(t *testing.T) {
	for _, first := range []string{"alice", "bob"} {
		t.Run(first+" first", func(t *testing.T) {
			f := newFixture(t, nil, quiet())
			ctx := context.Background()
			s := f.create(t, "", "bob")

			texts := map[string]string{"alice": "Hello", "bob": "World"}
			second := "bob"
			if first == "bob" {
				second = "alice"
			}
			_, err := f.manager.ApplyEdit(ctx, s.ID, first, insert(0, texts[first], 0))
			require.NoError(t, err)
			v, err := f.manager.ApplyEdit(ctx, s.ID, second, insert(0, texts[second], 0))
			require.NoError(t, err)

			assert.Equal(t, int64(2), v.ID)
			assert.Equal(t, "HelloWorld", v.Content)
			assert.Equal(t, second, v.EditorID)
		})
	}
}

func TestApplyEdit_RevokedEditorIsDenied(t *testing.T) {
	f := newFixture(t, nil, quiet())
	ctx := context.Background()
	s := f.create(t, "shared", "carol")

	_, err := f.manager.ApplyEdit(ctx, s.ID, "carol", insert(6, "!", 0))
	require.NoError(t, err)

	_, err = f.manager.UpdatePermissions(ctx, s.ID, "alice", "carol", domain.NewPermissionSet(domain.PermView))
	require.NoError(t, err)

	_, err = f.manager.ApplyEdit(ctx, s.ID, "carol", insert(0, "x", 1))
	assert.ErrorIs(t, err, errors.ErrPermissionDenied)

	history, err := f.manager.GetVersionHistory(ctx, s.ID, "carol")
	require.NoError(t, err)
	assert.Len(t, history, 2)
	assert.Equal(t, "shared!", history[1].Content)
}

func TestApplyEdit_OverlappingReplacesLastWriteWins(t *testing.T) {
	f := newFixture(t, nil, quiet())
	ctx := context.Background()
	s := f.create(t, "the cat sat", "bob")
	t0 := f.clock.now()

	_, err := f.manager.ApplyEdit(ctx, s.ID, "alice", domain.ContentEdit{
		ID: "edit-alice", Type: domain.EditReplace, Position: 4, OldText: "cat", NewText: "dog",
		BaseVersionID: 0, Timestamp: t0.Add(time.Second),
	})
	require.NoError(t, err)
	v, err := f.manager.ApplyEdit(ctx, s.ID, "bob", domain.ContentEdit{
		ID: "edit-bob", Type: domain.EditReplace, Position: 4, OldText: "cat", NewText: "owl",
		BaseVersionID: 0, Timestamp: t0.Add(2 * time.Second),
	})
	require.NoError(t, err)
	assert.Equal(t, "the owl sat", v.Content)

	records, err := f.manager.ListConflicts(ctx, s.ID, "alice")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "edit-bob", records[0].WinnerEditID)
	assert.ElementsMatch(t, []string{"edit-alice", "edit-bob"}, records[0].EditIDs)

	notified := f.notifier.of("conflict")
	require.Len(t, notified, 1)
	assert.ElementsMatch(t, []string{"alice", "bob"}, notified[0].recipients)
	assert.ElementsMatch(t, []string{"edit-alice", "edit-bob"}, notified[0].record.EditIDs)
}

func TestApplyEdit_Validation(t *testing.T) {
	f := newFixture(t, nil, quiet())
	ctx := context.Background()
	s := f.create(t, "abc", "bob")

	_, err := f.manager.ApplyEdit(ctx, s.ID, "bob", insert(9, "x", 0))
	assert.ErrorIs(t, err, errors.ErrInvalidEdit)
	_, err = f.manager.ApplyEdit(ctx, s.ID, "bob", insert(0, "x", 4))
	assert.ErrorIs(t, err, errors.ErrVersionNotFound)
	_, err = f.manager.ApplyEdit(ctx, s.ID, "mallory", insert(0, "x", 0))
	assert.ErrorIs(t, err, errors.ErrPermissionDenied)
	_, err = f.manager.ApplyEdit(ctx, "nope", "bob", insert(0, "x", 0))
	assert.ErrorIs(t, err, errors.ErrSessionNotFound)

	history, err := f.manager.GetVersionHistory(ctx, s.ID, "bob")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestApplyEdit_RetriedEditIsIdempotent(t *testing.T) {
	f := newFixture(t, nil, quiet())
	ctx := context.Background()
	s := f.create(t, "abc", "bob")

	edit := insert(3, "d", 0)
	edit.ID = "edit-1"
	first, err := f.manager.ApplyEdit(ctx, s.ID, "bob", edit)
	require.NoError(t, err)
	again, err := f.manager.ApplyEdit(ctx, s.ID, "bob", edit)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, "abcd", again.Content)

	reused := insert(0, "x", 1)
	reused.ID = "edit-1"
	_, err = f.manager.ApplyEdit(ctx, s.ID, "bob", reused)
	assert.ErrorIs(t, err, errors.ErrInvalidEdit)
	_, err = f.manager.ApplyEdit(ctx, s.ID, "alice", edit)
	assert.ErrorIs(t, err, errors.ErrInvalidEdit)

	history, err := f.manager.GetVersionHistory(ctx, s.ID, "bob")
	require.NoError(t, err)
	assert.Len(t, history, 2)
	assert.Len(t, f.notifier.of("edit"), 1)
}

func TestApplyEdit_UnknownSessionFromManyCallers(t *testing.T) {
	f := newFixture(t, nil, quiet())
	ctx := context.Background()

	var g errgroup.Group
	for i := 0; i < 20; i++ {
		g.Go(func() error {
			_, err := f.manager.ApplyEdit(ctx, "missing", "bob", insert(0, "x", 0))
			if !defError.Is(err, errors.ErrSessionNotFound) {
				return fmt.Errorf("unexpected error: %v", err)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
}

func TestApplyEdit_NotifiesOtherCollaborators(t *testing.T) {
	f := newFixture(t, nil, quiet())
	s := f.create(t, "", "bob", "carol")

	_, err := f.manager.ApplyEdit(context.Background(), s.ID, "bob", insert(0, "hi", 0))
	require.NoError(t, err)

	edits := f.notifier.of("edit")
	require.Len(t, edits, 1)
	assert.ElementsMatch(t, []string{"alice", "carol"}, edits[0].recipients)
}

func TestApplyEdit_ConcurrentCallersGetContiguousVersions(t *testing.T) {
	f := newFixture(t, nil, quiet())
	ctx := context.Background()
	authors := []string{"bob", "carol", "dave", "erin"}
	s := f.create(t, "", authors...)

	var g errgroup.Group
	for _, author := range authors {
		for i := 0; i < 10; i++ {
			g.Go(func() error {
				_, err := f.manager.ApplyEdit(ctx, s.ID, author, insert(0, author[:1], 0))
				return err
			})
		}
	}
	require.NoError(t, g.Wait())

	history, err := f.manager.GetVersionHistory(ctx, s.ID, "alice")
	require.NoError(t, err)
	require.Len(t, history, 41)
	for i, v := range history {
		assert.Equal(t, int64(i), v.ID)
	}
	assert.Equal(t, "bbbbbbbbbbccccccccccddddddddddeeeeeeeeee", history[40].Content)
}

func TestApplyEdit_StorageFailureDegradesSession(t *testing.T) {
	flaky := &flakyStore{Store: memory.New()}
	f := newFixture(t, flaky, quiet())
	ctx := context.Background()
	s := f.create(t, "a", "bob")

	flaky.fails = 1
	_, err := f.manager.ApplyEdit(ctx, s.ID, "bob", insert(1, "b", 0))
	assert.ErrorIs(t, err, errors.ErrStorageFailure)

	h, err := f.manager.GetSessionHealth(ctx, s.ID, "alice")
	require.NoError(t, err)
	assert.False(t, h.Healthy)
	assert.Equal(t, domain.ReasonDegraded, h.Reason)
	assert.Equal(t, 1, h.VersionCount)

	v, err := f.manager.ApplyEdit(ctx, s.ID, "bob", insert(1, "b", 0))
	require.NoError(t, err)
	assert.Equal(t, int64(1), v.ID)
	assert.Equal(t, "ab", v.Content)

	h, err = f.manager.GetSessionHealth(ctx, s.ID, "alice")
	require.NoError(t, err)
	assert.True(t, h.Healthy)
}

func TestInviteCollaborator(t *testing.T) {
	f := newFixture(t, nil, quiet())
	ctx := context.Background()
	s := f.create(t, "")
	assert.Equal(t, domain.StatusDraft, s.Status)

	c, err := f.manager.InviteCollaborator(ctx, s.ID, "alice", "bob", domain.RoleReviewer)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleReviewer, c.Role)
	assert.True(t, c.Permissions.Has(domain.PermComment))

	got, err := f.manager.GetSession(ctx, s.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, got.Status)

	_, err = f.manager.InviteCollaborator(ctx, s.ID, "alice", "bob", domain.RoleEditor)
	assert.ErrorIs(t, err, errors.ErrAlreadyMember)
	_, err = f.manager.InviteCollaborator(ctx, s.ID, "bob", "carol", domain.RoleViewer)
	assert.ErrorIs(t, err, errors.ErrPermissionDenied)
	_, err = f.manager.InviteCollaborator(ctx, s.ID, "alice", "carol", domain.RoleOwner)
	assert.ErrorIs(t, err, errors.ErrInvalidArgument)

	require.NoError(t, f.manager.RemoveCollaborator(ctx, s.ID, "alice", "bob"))
	_, err = f.manager.GetSession(ctx, s.ID, "bob")
	assert.ErrorIs(t, err, errors.ErrPermissionDenied)

	c, err = f.manager.InviteCollaborator(ctx, s.ID, "alice", "bob", domain.RoleEditor)
	require.NoError(t, err)
	assert.True(t, c.IsActive)
	assert.Equal(t, domain.RoleEditor, c.Role)
	assert.Len(t, f.notifier.of("invite"), 2)
}

func TestUpdatePermissions(t *testing.T) {
	f := newFixture(t, nil, quiet())
	ctx := context.Background()
	s := f.create(t, "", "bob")

	_, err := f.manager.UpdatePermissions(ctx, s.ID, "alice", "bob", domain.NewPermissionSet(domain.PermView, domain.PermPublish))
	assert.ErrorIs(t, err, errors.ErrInvalidArgument)
	_, err = f.manager.UpdatePermissions(ctx, s.ID, "alice", "alice", domain.NewPermissionSet(domain.PermView))
	assert.ErrorIs(t, err, errors.ErrInvalidArgument)
	_, err = f.manager.UpdatePermissions(ctx, s.ID, "alice", "zed", domain.NewPermissionSet(domain.PermView))
	assert.ErrorIs(t, err, errors.ErrInvalidArgument)
	_, err = f.manager.UpdatePermissions(ctx, s.ID, "bob", "bob", domain.NewPermissionSet(domain.PermView))
	assert.ErrorIs(t, err, errors.ErrPermissionDenied)

	c, err := f.manager.UpdatePermissions(ctx, s.ID, "alice", "bob", domain.NewPermissionSet(domain.PermView, domain.PermAddMedia))
	require.NoError(t, err)
	assert.False(t, c.Permissions.Has(domain.PermEditContent))

	_, err = f.manager.ApplyEdit(ctx, s.ID, "bob", domain.ContentEdit{Type: domain.EditMediaAdd, MediaRef: "img-1", BaseVersionID: 0})
	require.NoError(t, err)
	_, err = f.manager.ApplyEdit(ctx, s.ID, "bob", insert(0, "x", 1))
	assert.ErrorIs(t, err, errors.ErrPermissionDenied)
}

func TestRemoveCollaborator_OwnerStays(t *testing.T) {
	f := newFixture(t, nil, quiet())
	s := f.create(t, "", "bob")

	err := f.manager.RemoveCollaborator(context.Background(), s.ID, "alice", "alice")
	assert.ErrorIs(t, err, errors.ErrInvalidArgument)
	err = f.manager.RemoveCollaborator(context.Background(), s.ID, "bob", "alice")
	assert.ErrorIs(t, err, errors.ErrPermissionDenied)
}

func TestRevertToVersion(t *testing.T) {
	f := newFixture(t, nil, quiet())
	ctx := context.Background()
	s := f.create(t, "one", "bob")

	_, err := f.manager.ApplyEdit(ctx, s.ID, "bob", insert(3, " two", 0))
	require.NoError(t, err)
	_, err = f.manager.ApplyEdit(ctx, s.ID, "bob", insert(7, " three", 1))
	require.NoError(t, err)

	v, err := f.manager.RevertToVersion(ctx, s.ID, "alice", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), v.ID)
	assert.Equal(t, "one", v.Content)

	again, err := f.manager.RevertToVersion(ctx, s.ID, "alice", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(4), again.ID)
	assert.Equal(t, "one", again.Content)
	assert.Nil(t, again.SourceEdit)

	_, err = f.manager.RevertToVersion(ctx, s.ID, "alice", 42)
	assert.ErrorIs(t, err, errors.ErrVersionNotFound)

	history, err := f.manager.GetVersionHistory(ctx, s.ID, "alice")
	require.NoError(t, err)
	assert.Len(t, history, 5)
	assert.Equal(t, "one two three", history[2].Content)

	v2, err := f.manager.GetVersion(ctx, s.ID, "bob", 2)
	require.NoError(t, err)
	assert.Equal(t, "one two three", v2.Content)

	// a fresh manager replays the history including the empty revert
	fresh, _ := newManager(f.durable, f.clock, quiet(), &recordingNotifier{}, nil)
	defer fresh.Shutdown()
	next, err := fresh.ApplyEdit(ctx, s.ID, "bob", insert(3, "!", 4))
	require.NoError(t, err)
	assert.Equal(t, int64(5), next.ID)
	assert.Equal(t, "one!", next.Content)
}

func TestPublish(t *testing.T) {
	f := newFixture(t, nil, quiet())
	ctx := context.Background()
	s := f.create(t, "final", "bob")

	_, err := f.manager.Publish(ctx, s.ID, "bob")
	assert.ErrorIs(t, err, errors.ErrPermissionDenied)

	postID, err := f.manager.Publish(ctx, s.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, "post-1", postID)

	got, err := f.manager.GetSession(ctx, s.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPublished, got.Status)
	assert.Equal(t, "post-1", got.ExternalPostID)
	assert.Len(t, f.notifier.of("publish"), 1)

	_, err = f.manager.ApplyEdit(ctx, s.ID, "bob", insert(0, "x", 0))
	assert.ErrorIs(t, err, errors.ErrSessionInactive)
	_, err = f.manager.Publish(ctx, s.ID, "alice")
	assert.ErrorIs(t, err, errors.ErrSessionInactive)
	assert.Equal(t, 1, f.publisher.calls)
}

func TestPublish_RequiresActiveSession(t *testing.T) {
	f := newFixture(t, nil, quiet())
	s := f.create(t, "solo")

	_, err := f.manager.Publish(context.Background(), s.ID, "alice")
	assert.ErrorIs(t, err, errors.ErrSessionInactive)
	assert.Zero(t, f.publisher.calls)
}

func TestPublish_PipelineFailureKeepsSessionActive(t *testing.T) {
	f := newFixture(t, nil, quiet())
	ctx := context.Background()
	s := f.create(t, "final", "bob")
	f.publisher.err = defError.New("pipeline down")

	_, err := f.manager.Publish(ctx, s.ID, "alice")
	assert.ErrorIs(t, err, errors.ErrUpstreamFailure)

	got, err := f.manager.GetSession(ctx, s.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, got.Status)
}

func TestSessionHealth_Abandoned(t *testing.T) {
	f := newFixture(t, nil, quiet())
	ctx := context.Background()
	s := f.create(t, "idle", "bob")

	h, err := f.manager.GetSessionHealth(ctx, s.ID, "bob")
	require.NoError(t, err)
	assert.True(t, h.Healthy)

	f.clock.advance(2 * time.Hour)
	h, err = f.manager.GetSessionHealth(ctx, s.ID, "bob")
	require.NoError(t, err)
	assert.False(t, h.Healthy)
	assert.Equal(t, domain.ReasonAbandoned, h.Reason)

	assert.Eventually(t, func() bool {
		got, err := f.manager.GetSession(ctx, s.ID, "bob")
		return err == nil && got.Status == domain.StatusAbandoned
	}, time.Second, 10*time.Millisecond)

	_, err = f.manager.ApplyEdit(ctx, s.ID, "bob", insert(0, "x", 0))
	assert.ErrorIs(t, err, errors.ErrSessionInactive)

	_, err = f.manager.Reactivate(ctx, s.ID, "bob")
	assert.ErrorIs(t, err, errors.ErrPermissionDenied)
	got, err := f.manager.Reactivate(ctx, s.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, got.Status)

	_, err = f.manager.ApplyEdit(ctx, s.ID, "bob", insert(0, "x", 0))
	require.NoError(t, err)
}

func TestSweep_SnapshotsAndAbandons(t *testing.T) {
	f := newFixture(t, nil, recovery.Policy{Interval: time.Minute, InactivityTimeout: time.Hour})
	ctx := context.Background()
	s := f.create(t, "", "bob")

	_, err := f.manager.ApplyEdit(ctx, s.ID, "bob", insert(0, "a", 0))
	require.NoError(t, err)

	f.clock.advance(2 * time.Minute)
	assert.Equal(t, 1, f.manager.SnapshotDue(ctx))
	snap, err := f.durable.LatestSnapshot(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.VersionID)

	f.clock.advance(2 * time.Hour)
	f.manager.Sweep(ctx)
	got, err := f.manager.GetSession(ctx, s.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAbandoned, got.Status)
}

func TestSweep_AbandonsUnloadedSessions(t *testing.T) {
	f := newFixture(t, nil, quiet())
	ctx := context.Background()
	s := f.create(t, "", "bob")

	fresh, _ := newManager(f.durable, f.clock, quiet(), &recordingNotifier{}, nil)
	defer fresh.Shutdown()
	f.clock.advance(2 * time.Hour)
	fresh.Sweep(ctx)

	got, err := f.durable.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAbandoned, got.Status)
}

func TestArchive(t *testing.T) {
	f := newFixture(t, nil, quiet())
	ctx := context.Background()
	s := f.create(t, "done", "bob")

	_, err := f.manager.Archive(ctx, s.ID, "bob")
	assert.ErrorIs(t, err, errors.ErrPermissionDenied)

	got, err := f.manager.Archive(ctx, s.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusArchived, got.Status)

	_, err = f.durable.LatestSnapshot(ctx, s.ID)
	require.NoError(t, err)

	_, err = f.manager.Archive(ctx, s.ID, "alice")
	assert.ErrorIs(t, err, errors.ErrSessionInactive)
	_, err = f.manager.InviteCollaborator(ctx, s.ID, "alice", "carol", domain.RoleViewer)
	assert.ErrorIs(t, err, errors.ErrSessionInactive)
}

func TestRecover_RestoresLatestSnapshot(t *testing.T) {
	f := newFixture(t, nil, recovery.Policy{EveryEdits: 2, InactivityTimeout: time.Hour})
	ctx := context.Background()
	s := f.create(t, "", "bob")

	for i, r := range "abc" {
		_, err := f.manager.ApplyEdit(ctx, s.ID, "bob", insert(i, string(r), int64(i)))
		require.NoError(t, err)
	}

	h, err := f.manager.Recover(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, h.Healthy)
	assert.Equal(t, 3, h.VersionCount)

	v, err := f.manager.ApplyEdit(ctx, s.ID, "bob", insert(2, "!", 2))
	require.NoError(t, err)
	assert.Equal(t, int64(3), v.ID)
	assert.Equal(t, "ab!", v.Content)
}

func TestRecover_KeepsRevokedPermission(t *testing.T) {
	f := newFixture(t, nil, recovery.Policy{EveryEdits: 1, InactivityTimeout: time.Hour})
	ctx := context.Background()
	s := f.create(t, "shared", "carol")

	_, err := f.manager.ApplyEdit(ctx, s.ID, "carol", insert(6, "!", 0))
	require.NoError(t, err)
	_, err = f.manager.UpdatePermissions(ctx, s.ID, "alice", "carol", domain.NewPermissionSet(domain.PermView))
	require.NoError(t, err)

	_, err = f.manager.Recover(ctx, s.ID)
	require.NoError(t, err)

	_, err = f.manager.ApplyEdit(ctx, s.ID, "carol", insert(0, "x", 1))
	assert.ErrorIs(t, err, errors.ErrPermissionDenied)
	got, err := f.manager.GetSession(ctx, s.ID, "carol")
	require.NoError(t, err)
	assert.False(t, got.Collaborator("carol").Permissions.Has(domain.PermEditContent))
}

func TestLoad_RecoversInconsistentHistory(t *testing.T) {
	mem := memory.New()
	f := newFixture(t, mem, quiet())
	ctx := context.Background()
	s := f.create(t, "", "bob")

	for i, r := range "abc" {
		_, err := f.manager.ApplyEdit(ctx, s.ID, "bob", insert(i, string(r), int64(i)))
		require.NoError(t, err)
	}
	history, err := f.manager.GetVersionHistory(ctx, s.ID, "bob")
	require.NoError(t, err)

	// version 2 goes missing while the session still points at 3
	mem.Corrupt(s.ID, []domain.ContentVersion{history[0], history[1], history[3]}, 3)

	fresh, _ := newManager(mem, f.clock, quiet(), &recordingNotifier{}, nil)
	defer fresh.Shutdown()
	v, err := fresh.ApplyEdit(ctx, s.ID, "bob", insert(1, "z", 1))
	require.NoError(t, err)
	assert.Equal(t, int64(2), v.ID)
	assert.Equal(t, "az", v.Content)
}

func TestReadsRequireView(t *testing.T) {
	f := newFixture(t, nil, quiet())
	ctx := context.Background()
	s := f.create(t, "private", "bob")

	_, err := f.manager.GetSession(ctx, s.ID, "mallory")
	assert.ErrorIs(t, err, errors.ErrPermissionDenied)
	_, err = f.manager.GetVersionHistory(ctx, s.ID, "mallory")
	assert.ErrorIs(t, err, errors.ErrPermissionDenied)
	_, err = f.manager.ListConflicts(ctx, s.ID, "mallory")
	assert.ErrorIs(t, err, errors.ErrPermissionDenied)
	_, err = f.manager.GetSessionHealth(ctx, "missing", "alice")
	assert.ErrorIs(t, err, errors.ErrSessionNotFound)
}
