package stream

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestClassifyVendorRejection(t *testing.T) {
	cases := []struct {
		status int
		msg    string
		want   Kind
	}{
		{0, "Username or password incorrect", KindCredentialsInvalid},
		{0, "Incorrect username or password.", KindCredentialsInvalid},
		{0, "user does not exist", KindVendorLogin},
		{http.StatusUnauthorized, "", KindCredentialsInvalid},
	}
	for _, c := range cases {
		if got := classifyVendorRejection(c.status, c.msg); got != c.want {
			t.Errorf("classify(%d, %q) = %s, want %s", c.status, c.msg, got, c.want)
		}
	}
}

func TestKindOfWrapped(t *testing.T) {
	base := newError(KindMissingToken, "no token", nil)
	wrapped := fmt.Errorf("open camera: %w", base)
	if KindOf(wrapped) != KindMissingToken {
		t.Errorf("expected kind to survive wrapping, got %s", KindOf(wrapped))
	}
	if KindOf(errors.New("plain")) != KindUnknown {
		t.Error("expected unknown kind for plain error")
	}
}

func TestUserMessage(t *testing.T) {
	creds := newError(KindCredentialsInvalid, "Username or password incorrect", nil)
	if !strings.Contains(UserMessage(creds), "Update the device") {
		t.Errorf("expected remediation message, got %q", UserMessage(creds))
	}
	transport := newError(KindTransport, "timed out", nil)
	if !strings.Contains(UserMessage(transport), "retry") {
		t.Errorf("expected retry message, got %q", UserMessage(transport))
	}
	if !strings.Contains(UserMessage(errors.New("x")), "retry") {
		t.Error("expected generic message for unclassified error")
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := newError(KindTransport, "could not reach", cause)
	if !errors.Is(err, cause) {
		t.Error("expected cause to be reachable through Unwrap")
	}
	if !strings.Contains(err.Error(), "transport_error") {
		t.Errorf("expected kind in message, got %s", err.Error())
	}
}
