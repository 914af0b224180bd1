// Package session is the entry point used by the dashboard: it owns the
// open session's artifact collection and its camera streams.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/user/ambuwatch/internal/artifacts"
	"github.com/user/ambuwatch/internal/dispatch"
	"github.com/user/ambuwatch/internal/stream"
	"github.com/user/ambuwatch/internal/types"
)

var (
	ErrNoSession      = errors.New("no session is open")
	ErrPending        = errors.New("artifact is still being saved")
	ErrNotFound       = errors.New("artifact not found")
	ErrUnknownKind    = errors.New("unknown artifact kind")
	ErrInvalidContent = errors.New("artifact content is incomplete")
	// ErrSuperseded means the device was cleared or switched away while
	// its stream was being resolved.
	ErrSuperseded = errors.New("stream resolution superseded")
)

// Resolver produces playback URLs.
type Resolver interface {
	Resolve(ctx context.Context, ref types.DeviceRef, cameraIndex int) (*stream.Playback, error)
}

// RemediationFunc is told when a device's stored credentials were rejected.
type RemediationFunc func(ref types.DeviceRef, err error)

// Config wires a Facade to its collaborators. Push may be nil, in which
// case the facade runs in fetch-on-demand mode.
type Config struct {
	Backend  types.Backend
	Push     types.PushChannel
	Resolver Resolver
	Cache    *stream.Cache
	// Operator is recorded as the author of local writes.
	Operator            string
	MaxLanes            int64
	OnCredentialProblem RemediationFunc
}

type active struct {
	id     types.SessionID
	rec    *artifacts.Reconciler
	sub    types.Subscription
	ctx    context.Context
	cancel context.CancelFunc
}

// Facade coordinates one open session at a time.
type Facade struct {
	backend   types.Backend
	push      types.PushChannel
	resolver  Resolver
	cache     *stream.Cache
	operator  string
	remediate RemediationFunc
	lanes     *dispatch.Queue
	now       func() time.Time

	// openMu serializes session switches.
	openMu sync.Mutex

	mu      sync.Mutex
	current *active
	devices map[types.DeviceID]*deviceScope
	noticed map[types.DeviceID]bool
}

// New creates a Facade and starts its event lanes.
func New(cfg Config) *Facade {
	f := &Facade{
		backend:   cfg.Backend,
		push:      cfg.Push,
		resolver:  cfg.Resolver,
		cache:     cfg.Cache,
		operator:  cfg.Operator,
		remediate: cfg.OnCredentialProblem,
		now:       time.Now,
		devices:   make(map[types.DeviceID]*deviceScope),
		noticed:   make(map[types.DeviceID]bool),
	}
	if f.cache == nil {
		f.cache = stream.NewCache()
	}
	maxLanes := cfg.MaxLanes
	if maxLanes <= 0 {
		maxLanes = 4
	}
	f.lanes = dispatch.NewQueue(maxLanes, f.apply)
	f.lanes.Start(context.Background())
	return f
}

// Shutdown closes the open session and stops event processing.
func (f *Facade) Shutdown() {
	if id, ok := f.Current(); ok {
		f.Close(id)
	}
	f.lanes.Stop()
}

// Open makes sessionID the active session: any previous session is closed,
// the push channel is attached and the initial artifact list is loaded.
// Opening the already active session is a no-op.
func (f *Facade) Open(ctx context.Context, sessionID types.SessionID) error {
	if strings.TrimSpace(string(sessionID)) == "" {
		return fmt.Errorf("open session: empty session id")
	}
	f.openMu.Lock()
	defer f.openMu.Unlock()

	if id, ok := f.Current(); ok {
		if id == sessionID {
			return nil
		}
		f.closeSession(id)
	}

	sctx, cancel := context.WithCancel(context.Background())
	a := &active{
		id:     sessionID,
		rec:    artifacts.NewReconciler(artifacts.NewStore()),
		ctx:    sctx,
		cancel: cancel,
	}
	f.mu.Lock()
	f.current = a
	f.mu.Unlock()

	// Subscribe before the initial fetch so nothing added in between is lost.
	live := false
	if f.push != nil {
		sub, err := f.push.Subscribe(sctx, sessionID, func(ev *types.PushEvent) {
			if err := f.lanes.Enqueue(ev); err != nil {
				slog.Warn("dropping push event", "session_id", string(ev.SessionID), "error", err)
			}
		})
		if err != nil {
			slog.Warn("push subscription failed, using periodic refresh", "session_id", string(sessionID), "error", err)
		} else {
			f.mu.Lock()
			a.sub = sub
			f.mu.Unlock()
			live = true
		}
	}

	list, err := f.backend.FetchArtifacts(ctx, sessionID)
	if err != nil {
		f.closeSession(sessionID)
		return fmt.Errorf("loading session %s: %w", sessionID, err)
	}
	n := a.rec.Seed(list)
	slog.Info("session opened", "session_id", string(sessionID), "artifacts", n, "live", live)
	return nil
}

// Close disposes the session's subscription, collection and camera state.
// Closing a session that is not active is a no-op.
func (f *Facade) Close(sessionID types.SessionID) {
	f.openMu.Lock()
	defer f.openMu.Unlock()
	f.closeSession(sessionID)
}

// closeSession requires openMu.
func (f *Facade) closeSession(sessionID types.SessionID) {
	f.mu.Lock()
	a := f.current
	if a == nil || a.id != sessionID {
		f.mu.Unlock()
		return
	}
	f.current = nil
	for id, d := range f.devices {
		d.cancel()
		delete(f.devices, id)
	}
	f.noticed = make(map[types.DeviceID]bool)
	sub := a.sub
	f.mu.Unlock()

	a.cancel()
	if sub != nil {
		if err := sub.Close(); err != nil {
			slog.Warn("closing push subscription", "session_id", string(sessionID), "error", err)
		}
	}
	f.lanes.Drop(sessionID)
	f.cache.ClearAllSessions()
	slog.Info("session closed", "session_id", string(sessionID))
}

// Current returns the active session id.
func (f *Facade) Current() (types.SessionID, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current == nil {
		return "", false
	}
	return f.current.id, true
}

// Live reports whether the active session receives push-events.
func (f *Facade) Live() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current != nil && f.current.sub != nil
}

func (f *Facade) session() (*active, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current == nil {
		return nil, ErrNoSession
	}
	return f.current, nil
}

// apply runs on the session's dispatch lane.
func (f *Facade) apply(_ context.Context, ev *types.PushEvent) {
	a, err := f.session()
	if err != nil || a.id != ev.SessionID {
		return
	}
	if a.rec.ApplyPushEvent(ev) {
		slog.Debug("push event applied", "session_id", string(ev.SessionID), "event", string(ev.Kind), "artifact_id", string(ev.ArtifactID))
	}
}

// Snapshot returns a copy of the active session's collection.
func (f *Facade) Snapshot() (types.SessionID, artifacts.Snapshot, error) {
	a, err := f.session()
	if err != nil {
		return "", artifacts.Snapshot{}, err
	}
	return a.id, a.rec.Store().Snapshot(), nil
}

// Counts returns the per-kind artifact counts of the active session.
func (f *Facade) Counts() (map[types.Kind]int, error) {
	a, err := f.session()
	if err != nil {
		return nil, err
	}
	return a.rec.Store().Counts(), nil
}

// Refresh reconciles the active session against a full server listing.
func (f *Facade) Refresh(ctx context.Context) error {
	a, err := f.session()
	if err != nil {
		return err
	}
	list, err := f.backend.FetchArtifacts(ctx, a.id)
	if err != nil {
		return fmt.Errorf("refreshing session %s: %w", a.id, err)
	}
	if changed := a.rec.Sync(list); changed > 0 {
		slog.Debug("session refreshed", "session_id", string(a.id), "changed", changed)
	}
	return nil
}

// AddArtifact writes optimistically, creates the artifact on the backend
// and confirms or rolls back the local entry. body is required for files.
func (f *Facade) AddArtifact(ctx context.Context, kind types.Kind, content types.Content, body io.Reader) (*types.Artifact, error) {
	k, ok := types.ParseKind(string(kind))
	if !ok {
		return nil, ErrUnknownKind
	}
	if err := validate(k, content, body); err != nil {
		return nil, err
	}
	a, err := f.session()
	if err != nil {
		return nil, err
	}

	tempID := a.rec.ApplyOptimisticWrite(k, content, f.operator)

	var created *types.Artifact
	switch k {
	case types.KindNote:
		created, err = f.backend.AddNote(ctx, a.id, content)
	case types.KindMedication:
		created, err = f.backend.AddMedication(ctx, a.id, content)
	case types.KindFile:
		created, err = f.backend.UploadFile(ctx, a.id, content, body)
	}
	if err != nil {
		a.rec.Rollback(k, tempID)
		return nil, fmt.Errorf("saving %s: %w", k, err)
	}
	if created.AddedBy == "" {
		created.AddedBy = f.operator
	}
	if created.AddedAt.IsZero() {
		created.AddedAt = f.now()
	}
	a.rec.ApplyServerConfirmation(k, tempID, created)
	return created, nil
}

func validate(kind types.Kind, c types.Content, body io.Reader) error {
	switch kind {
	case types.KindNote:
		if strings.TrimSpace(c.Text) == "" {
			return fmt.Errorf("%w: note text is empty", ErrInvalidContent)
		}
	case types.KindMedication:
		if strings.TrimSpace(c.Name) == "" {
			return fmt.Errorf("%w: medication name is empty", ErrInvalidContent)
		}
	case types.KindFile:
		if body == nil || strings.TrimSpace(c.FileName) == "" {
			return fmt.Errorf("%w: file name and body are required", ErrInvalidContent)
		}
	}
	return nil
}

// DeleteArtifact deletes a confirmed artifact on the backend and removes
// it locally. Artifacts that are still pending cannot be deleted.
func (f *Facade) DeleteArtifact(ctx context.Context, id types.ArtifactID) error {
	a, err := f.session()
	if err != nil {
		return err
	}
	if id.IsTemporary() {
		return ErrPending
	}
	art, ok := a.rec.Store().Find(id)
	if !ok {
		return ErrNotFound
	}
	if art.Pending() {
		return ErrPending
	}
	if err := f.backend.DeleteArtifact(ctx, a.id, art.ID); err != nil {
		return fmt.Errorf("deleting %s %s: %w", art.Kind, art.ID, err)
	}
	a.rec.ApplyDeleted(art.ID)
	return nil
}
