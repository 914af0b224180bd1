// Package notify tells operators about problems they must fix by hand, such
// as camera credentials the vendor no longer accepts.
package notify

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/user/ambuwatch/internal/stream"
	"github.com/user/ambuwatch/internal/types"
)

// Notice is one operator-facing alert.
type Notice struct {
	Device  types.DeviceRef
	Kind    stream.Kind
	Message string
	At      time.Time
}

// Text renders n for chat-style channels.
func (n Notice) Text() string {
	name := n.Device.Name
	if name == "" {
		name = string(n.Device.ID)
	}
	return fmt.Sprintf("Camera %s: %s", name, n.Message)
}

// Handler delivers a notice to target.
type Handler func(target string, n Notice) error

// Registry routes notices to a handler based on the target prefix
// (e.g. "telegram:", "log:").
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates a registry with the "log:" handler registered.
func NewRegistry() *Registry {
	r := &Registry{handlers: make(map[string]Handler)}
	r.Register("log:", logHandler)
	return r
}

// Register adds a handler for targets starting with prefix.
func (r *Registry) Register(prefix string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[prefix] = handler
}

// Deliver sends n to the handler with the longest matching prefix.
func (r *Registry) Deliver(target string, n Notice) error {
	r.mu.RLock()
	prefixes := make([]string, 0, len(r.handlers))
	for p := range r.handlers {
		prefixes = append(prefixes, p)
	}
	sort.Slice(prefixes, func(i, j int) bool { return len(prefixes[i]) > len(prefixes[j]) })
	var handler Handler
	for _, p := range prefixes {
		if strings.HasPrefix(target, p) {
			handler = r.handlers[p]
			break
		}
	}
	r.mu.RUnlock()

	if handler == nil {
		return fmt.Errorf("no notify handler for target: %s", target)
	}
	return handler(target, n)
}

func logHandler(target string, n Notice) error {
	slog.Warn("operator action required", "device_id", string(n.Device.ID), "kind", string(n.Kind), "message", n.Message)
	return nil
}

// Notifier fans credential problems out to the configured targets.
type Notifier struct {
	registry *Registry
	targets  []string
	now      func() time.Time
}

// NewNotifier creates a Notifier. With no targets, notices are logged.
func NewNotifier(registry *Registry, targets []string) *Notifier {
	if len(targets) == 0 {
		targets = []string{"log:"}
	}
	return &Notifier{registry: registry, targets: targets, now: time.Now}
}

// Notify delivers n to every target.
func (nt *Notifier) Notify(n Notice) error {
	if n.At.IsZero() {
		n.At = nt.now()
	}
	var errs []error
	for _, target := range nt.targets {
		if err := nt.registry.Deliver(target, n); err != nil {
			errs = append(errs, fmt.Errorf("notify %s: %w", target, err))
		}
	}
	return errors.Join(errs...)
}

// CredentialProblem reports a device whose stored credentials were rejected.
// Delivery failures are logged.
func (nt *Notifier) CredentialProblem(ref types.DeviceRef, err error) {
	n := Notice{
		Device:  ref,
		Kind:    stream.KindOf(err),
		Message: stream.UserMessage(err),
	}
	if derr := nt.Notify(n); derr != nil {
		slog.Error("delivering credential notice", "device_id", string(ref.ID), "error", derr)
	}
}
