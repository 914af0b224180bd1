// Package identity normalizes heterogeneous artifact identifiers so numeric,
// textual and temporary ids can be compared.
package identity

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/user/ambuwatch/internal/types"
)

// Canonical coerces v to its canonical string form. ok is false for absent
// identities (nil, empty strings, NaN).
func Canonical(v any) (string, bool) {
	var s string
	switch id := v.(type) {
	case nil:
		return "", false
	case string:
		s = id
	case types.ArtifactID:
		s = string(id)
	case json.Number:
		s = id.String()
		if n, err := id.Int64(); err == nil {
			return strconv.FormatInt(n, 10), true
		}
		if n, err := strconv.ParseUint(s, 10, 64); err == nil {
			return strconv.FormatUint(n, 10), true
		}
		if f, err := id.Float64(); err == nil {
			return formatFloat(f)
		}
	case int:
		s = strconv.FormatInt(int64(id), 10)
	case int8:
		s = strconv.FormatInt(int64(id), 10)
	case int16:
		s = strconv.FormatInt(int64(id), 10)
	case int32:
		s = strconv.FormatInt(int64(id), 10)
	case int64:
		s = strconv.FormatInt(id, 10)
	case uint:
		s = strconv.FormatUint(uint64(id), 10)
	case uint8:
		s = strconv.FormatUint(uint64(id), 10)
	case uint16:
		s = strconv.FormatUint(uint64(id), 10)
	case uint32:
		s = strconv.FormatUint(uint64(id), 10)
	case uint64:
		s = strconv.FormatUint(id, 10)
	case float32:
		return formatFloat(float64(id))
	case float64:
		return formatFloat(id)
	case fmt.Stringer:
		s = id.String()
	default:
		return "", false
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	return s, true
}

func formatFloat(f float64) (string, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", false
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10), true
	}
	return strconv.FormatFloat(f, 'f', -1, 64), true
}

// Same reports whether a and b denote the same identity. Absent identities
// never compare equal, not even to each other.
func Same(a, b any) bool {
	ca, ok := Canonical(a)
	if !ok {
		return false
	}
	cb, ok := Canonical(b)
	if !ok {
		return false
	}
	return ca == cb
}

// ArtifactID converts a raw wire identity into an ArtifactID, returning ""
// for absent values.
func ArtifactID(v any) types.ArtifactID {
	s, ok := Canonical(v)
	if !ok {
		return ""
	}
	return types.ArtifactID(s)
}

// NewTemporary mints a client-side id for an optimistic write.
func NewTemporary() types.ArtifactID {
	return types.ArtifactID(types.TemporaryPrefix + uuid.New().String())
}
