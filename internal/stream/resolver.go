// Package stream resolves authenticated playback URLs for remote camera
// devices and caches them per device.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/user/ambuwatch/internal/types"
	"github.com/user/ambuwatch/internal/vendor"
)

// DefaultVendorTimeout bounds the vendor login exchange.
const DefaultVendorTimeout = 10 * time.Second

// VendorClient exchanges device credentials for a vendor session.
type VendorClient interface {
	Login(ctx context.Context, loginURL, account, password string) (*vendor.LoginResponse, error)
}

// Playback is a ready-to-render stream URL.
type Playback struct {
	DeviceID    types.DeviceID
	URL         string
	Token       string
	CameraIndex int
}

// Entry converts p into a cache entry.
func (p *Playback) Entry(at time.Time) Entry {
	return Entry{URL: p.URL, Token: p.Token, CameraIndex: p.CameraIndex, ResolvedAt: at}
}

// Resolver obtains device credentials from the backend and trades them for
// a vendor session token. It never writes to a Cache.
type Resolver struct {
	creds         types.CredentialSource
	vendor        VendorClient
	retry         *RetryPolicy
	vendorTimeout time.Duration
	group         singleflight.Group
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithVendorTimeout bounds each vendor login call.
func WithVendorTimeout(d time.Duration) ResolverOption {
	return func(r *Resolver) {
		if d > 0 {
			r.vendorTimeout = d
		}
	}
}

// WithRetryPolicy sets the policy used for the backend credential fetch.
func WithRetryPolicy(p *RetryPolicy) ResolverOption {
	return func(r *Resolver) {
		if p != nil {
			r.retry = p
		}
	}
}

// NewResolver creates a Resolver.
func NewResolver(creds types.CredentialSource, vc VendorClient, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		creds:         creds,
		vendor:        vc,
		retry:         DefaultRetryPolicy(),
		vendorTimeout: DefaultVendorTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns a playback URL for the device and camera. Concurrent
// calls for the same device and camera share one resolution. The shared
// work is detached from any single caller; each caller stops waiting when
// its own ctx ends, and the work itself is bounded by the retry policy and
// the vendor timeout.
func (r *Resolver) Resolve(ctx context.Context, ref types.DeviceRef, cameraIndex int) (*Playback, error) {
	if strings.TrimSpace(string(ref.ID)) == "" {
		return nil, newError(KindInvalidInput, "device reference has no device id", nil)
	}

	key := fmt.Sprintf("%s#%d", ref.ID, cameraIndex)
	shared := context.WithoutCancel(ctx)
	ch := r.group.DoChan(key, func() (any, error) {
		return r.resolve(shared, ref, cameraIndex)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		p := *res.Val.(*Playback)
		return &p, nil
	case <-ctx.Done():
		return nil, newError(KindTransport, "stream resolution cancelled", ctx.Err())
	}
}

func (r *Resolver) resolve(ctx context.Context, ref types.DeviceRef, cameraIndex int) (*Playback, error) {
	cred, err := r.fetchCredentials(ctx, ref.ID)
	if err != nil {
		return nil, err
	}

	token, err := r.login(ctx, cred)
	if err != nil {
		return nil, err
	}

	return &Playback{
		DeviceID:    ref.ID,
		URL:         BuildPlaybackURL(cred.APIBase, cred.DeviceExternalID, token, cameraIndex),
		Token:       token,
		CameraIndex: cameraIndex,
	}, nil
}

func (r *Resolver) fetchCredentials(ctx context.Context, id types.DeviceID) (*types.StreamCredential, error) {
	var cred *types.StreamCredential
	err := r.retry.Execute(ctx, func(ctx context.Context) error {
		c, err := r.creds.DeviceCredentials(ctx, id)
		if err != nil {
			slog.Debug("device credential fetch failed", "device_id", string(id), "error", err)
			return newError(KindCredentialFetch, "could not load device stream credentials", err)
		}
		cred = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	if cred == nil || cred.LoginURL == "" || cred.APIBase == "" {
		return nil, newError(KindCredentialFetch, "backend returned incomplete stream credentials", nil)
	}
	return cred, nil
}

func (r *Resolver) login(ctx context.Context, cred *types.StreamCredential) (string, error) {
	lctx, cancel := context.WithTimeout(ctx, r.vendorTimeout)
	defer cancel()

	resp, err := r.vendor.Login(lctx, cred.LoginURL, cred.Username, cred.Password)
	if err != nil {
		var se *vendor.StatusError
		if errors.As(err, &se) {
			kind := classifyVendorRejection(se.StatusCode, se.Body)
			if kind == KindVendorLogin && se.StatusCode != http.StatusForbidden {
				kind = KindTransport
			}
			e := newError(kind, fmt.Sprintf("vendor login returned status %d", se.StatusCode), err)
			e.Status = se.StatusCode
			return "", e
		}
		if isTimeout(err) || errors.Is(lctx.Err(), context.DeadlineExceeded) {
			return "", newError(KindTransport, "vendor login timed out", err)
		}
		return "", newError(KindTransport, "could not reach the camera platform", err)
	}

	if !resp.OK() {
		msg := resp.Message
		if msg == "" {
			msg = fmt.Sprintf("vendor login failed with result %d", resp.Code())
		}
		return "", newError(classifyVendorRejection(0, resp.Message), msg, nil)
	}

	token, ok := resp.Token()
	if !ok {
		return "", newError(KindMissingToken, "vendor login succeeded without a session token", nil)
	}
	return token, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
