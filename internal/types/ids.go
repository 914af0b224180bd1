package types

import (
	"strings"
)

type SessionID string
type DeviceID string
type ArtifactID string

// String implements fmt.Stringer so typed ids canonicalize like plain strings.
func (id SessionID) String() string  { return string(id) }
func (id DeviceID) String() string   { return string(id) }
func (id ArtifactID) String() string { return string(id) }

// TemporaryPrefix marks client-generated artifact ids awaiting confirmation.
const TemporaryPrefix = "tmp-"

// IsTemporary reports whether id was minted client-side.
func (id ArtifactID) IsTemporary() bool {
	return strings.HasPrefix(string(id), TemporaryPrefix)
}
