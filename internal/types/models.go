package types

import (
	"strconv"
	"strings"
	"time"
)

// Kind partitions a session's artifacts.
type Kind string

const (
	KindNote       Kind = "note"
	KindMedication Kind = "medication"
	KindFile       Kind = "file"
)

// Kinds lists every artifact kind in display order.
var Kinds = []Kind{KindNote, KindMedication, KindFile}

// ParseKind accepts the singular and plural spellings used on the wire.
func ParseKind(s string) (Kind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "note", "notes":
		return KindNote, true
	case "medication", "medications":
		return KindMedication, true
	case "file", "files":
		return KindFile, true
	}
	return "", false
}

// IdentityState tags whether an artifact id is client-minted or server-issued.
type IdentityState int

const (
	Pending IdentityState = iota
	Confirmed
)

func (s IdentityState) String() string {
	if s == Pending {
		return "pending"
	}
	return "confirmed"
}

// Content is the kind-specific payload of an artifact. Only the fields
// relevant to the artifact's kind are populated.
type Content struct {
	Text     string `json:"text,omitempty"`
	Name     string `json:"name,omitempty"`
	Dosage   string `json:"dosage,omitempty"`
	Route    string `json:"route,omitempty"`
	FileName string `json:"file_name,omitempty"`
	FileSize int64  `json:"file_size,omitempty"`
	FileRef  string `json:"file_ref,omitempty"`
}

// Fingerprint returns a comparable rendering of the fields that identify
// the same logical artifact of the given kind.
func (c Content) Fingerprint(kind Kind) string {
	switch kind {
	case KindNote:
		return "note|" + strings.TrimSpace(c.Text)
	case KindMedication:
		return "medication|" + strings.TrimSpace(c.Name) + "|" + strings.TrimSpace(c.Dosage) + "|" + strings.TrimSpace(c.Route)
	case KindFile:
		return "file|" + c.FileName + "|" + strconv.FormatInt(c.FileSize, 10)
	}
	return ""
}

// Artifact is one note, medication record or file attached to a session.
type Artifact struct {
	ID      ArtifactID    `json:"id"`
	State   IdentityState `json:"-"`
	Kind    Kind          `json:"kind"`
	Content Content       `json:"content"`
	AddedBy string        `json:"added_by,omitempty"`
	AddedAt time.Time     `json:"added_at"`
}

// Pending reports whether the artifact still carries a temporary id.
func (a *Artifact) Pending() bool {
	return a.State == Pending
}

// DeviceRef identifies a camera device by its backend-assigned id.
type DeviceRef struct {
	ID   DeviceID `json:"id"`
	Name string   `json:"name,omitempty"`
}

// StreamCredential is what the backend hands out for one device. It lives
// only for the duration of a single resolution.
type StreamCredential struct {
	DeviceExternalID string `json:"deviceId"`
	Username         string `json:"username"`
	Password         string `json:"password"`
	APIBase          string `json:"apiBase"`
	LoginURL         string `json:"loginUrl"`
}

// EventKind names a push-event.
type EventKind string

const (
	EventArtifactAdded   EventKind = "session_data_added"
	EventArtifactDeleted EventKind = "session_data_deleted"
)

// PushEvent is a normalized server-originated change notification.
type PushEvent struct {
	Kind      EventKind
	SessionID SessionID
	Artifact  *Artifact
	// ArtifactID is set for deletions, whose payload may omit the kind.
	ArtifactID ArtifactID
}
