package types

import (
	"context"
	"io"
)

// Backend is the REST surface used to load and mutate session artifacts.
type Backend interface {
	FetchArtifacts(ctx context.Context, sessionID SessionID) ([]*Artifact, error)
	AddNote(ctx context.Context, sessionID SessionID, content Content) (*Artifact, error)
	AddMedication(ctx context.Context, sessionID SessionID, content Content) (*Artifact, error)
	UploadFile(ctx context.Context, sessionID SessionID, content Content, body io.Reader) (*Artifact, error)
	DeleteArtifact(ctx context.Context, sessionID SessionID, id ArtifactID) error
}

// CredentialSource returns the vendor credentials stored for a device.
type CredentialSource interface {
	DeviceCredentials(ctx context.Context, id DeviceID) (*StreamCredential, error)
}

// Subscription is a disposable handle on a push-event subscription.
type Subscription interface {
	Close() error
}

// PushChannel delivers server push-events for a session.
type PushChannel interface {
	Subscribe(ctx context.Context, sessionID SessionID, handler func(*PushEvent)) (Subscription, error)
}
