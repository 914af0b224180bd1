package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/user/ambuwatch/internal/stream"
	"github.com/user/ambuwatch/internal/types"
)

// deviceScope cancels every resolution in flight for one device.
type deviceScope struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func (f *Facade) scope(a *active, id types.DeviceID) context.Context {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.devices[id]
	if !ok || d.ctx.Err() != nil {
		ctx, cancel := context.WithCancel(a.ctx)
		d = &deviceScope{ctx: ctx, cancel: cancel}
		f.devices[id] = d
	}
	return d.ctx
}

// CameraPlaybackURL returns a playback URL for the device's camera, from
// the cache when possible. A cached token is reused for any camera index.
func (f *Facade) CameraPlaybackURL(ctx context.Context, ref types.DeviceRef, cameraIndex int) (string, error) {
	a, err := f.session()
	if err != nil {
		return "", err
	}
	if e, ok := f.cache.Get(ref.ID); ok {
		if e.CameraIndex == cameraIndex {
			return e.URL, nil
		}
		gen := f.cache.Generation(ref.ID)
		e.URL = stream.WithCamera(e.URL, cameraIndex)
		e.CameraIndex = cameraIndex
		f.cache.PutIfCurrent(ref.ID, gen, e)
		return e.URL, nil
	}
	return f.resolve(ctx, a, ref, cameraIndex)
}

// RefreshCamera re-resolves the device even if a URL is cached. A transport
// failure keeps the cached URL; rejected credentials clear it.
func (f *Facade) RefreshCamera(ctx context.Context, ref types.DeviceRef, cameraIndex int) (string, error) {
	a, err := f.session()
	if err != nil {
		return "", err
	}
	return f.resolve(ctx, a, ref, cameraIndex)
}

// SwitchDevice abandons any resolution in flight for from, forgets its URL
// and returns a playback URL for to.
func (f *Facade) SwitchDevice(ctx context.Context, from, to types.DeviceRef, cameraIndex int) (string, error) {
	if from.ID != "" && from.ID != to.ID {
		f.mu.Lock()
		if d, ok := f.devices[from.ID]; ok {
			d.cancel()
			delete(f.devices, from.ID)
		}
		f.mu.Unlock()
		f.cache.ClearSession(from.ID)
	}
	return f.CameraPlaybackURL(ctx, to, cameraIndex)
}

func (f *Facade) resolve(ctx context.Context, a *active, ref types.DeviceRef, cameraIndex int) (string, error) {
	gen := f.cache.Generation(ref.ID)

	rctx, cancel := context.WithCancel(f.scope(a, ref.ID))
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	p, err := f.resolver.Resolve(rctx, ref, cameraIndex)
	if err != nil {
		if stream.NeedsCredentialFix(err) {
			f.cache.ClearSession(ref.ID)
			f.credentialProblem(ref, err)
		}
		slog.Warn("camera stream resolution failed", "device_id", string(ref.ID), "kind", string(stream.KindOf(err)), "error", err)
		return "", err
	}

	if !f.cache.PutIfCurrent(ref.ID, gen, p.Entry(f.now())) {
		slog.Debug("discarding stale stream resolution", "device_id", string(ref.ID))
		return "", fmt.Errorf("resolving stream for %s: %w", ref.ID, ErrSuperseded)
	}
	f.mu.Lock()
	delete(f.noticed, ref.ID)
	f.mu.Unlock()
	return p.URL, nil
}

// credentialProblem raises one remediation notice per device until the
// device resolves successfully again.
func (f *Facade) credentialProblem(ref types.DeviceRef, err error) {
	f.mu.Lock()
	already := f.noticed[ref.ID]
	f.noticed[ref.ID] = true
	f.mu.Unlock()
	if already || f.remediate == nil {
		return
	}
	f.remediate(ref, err)
}
