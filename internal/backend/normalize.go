package backend

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"github.com/user/ambuwatch/internal/identity"
	"github.com/user/ambuwatch/internal/types"
)

// The backend wraps artifacts inconsistently: sometimes bare, sometimes
// under "data", sometimes under "data.<kind>". Everything is mapped to
// types.Artifact here so the rest of the client never branches on shape.

var htmlTag = regexp.MustCompile(`</?[a-zA-Z][^>]*>`)

// decodeJSON decodes raw keeping numbers as json.Number.
func decodeJSON(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// NormalizeArtifact maps one artifact object to a types.Artifact. kind is a
// hint used when the payload does not name its own type.
func NormalizeArtifact(kind types.Kind, v any) (*types.Artifact, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	m = unwrap(kind, m)

	if k, ok := types.ParseKind(str(m, "dataType", "type", "kind")); ok {
		kind = k
	}
	if kind == "" {
		return nil, false
	}
	id := identity.ArtifactID(first(m, "id", "_id", "dataId"))
	if id == "" {
		return nil, false
	}

	a := &types.Artifact{
		ID:      id,
		State:   types.Confirmed,
		Kind:    kind,
		AddedBy: attribution(m),
		AddedAt: timestamp(m),
	}
	switch kind {
	case types.KindNote:
		a.Content.Text = noteText(str(m, "content", "text", "note", "notes"))
	case types.KindMedication:
		a.Content.Name = str(m, "name", "medicationName", "medication")
		a.Content.Dosage = str(m, "dosage", "dose")
		a.Content.Route = str(m, "route", "administrationRoute")
	case types.KindFile:
		a.Content.FileName = str(m, "fileName", "filename", "originalName", "name")
		a.Content.FileSize = integer(m, "fileSize", "size")
		a.Content.FileRef = str(m, "fileUrl", "url", "path", "reference", "key")
	default:
		return nil, false
	}
	return a, true
}

// unwrap descends through "data" and "<kind>" envelopes until it reaches an
// object that carries an id.
func unwrap(kind types.Kind, m map[string]any) map[string]any {
	for i := 0; i < 4; i++ {
		if first(m, "id", "_id", "dataId") != nil {
			return m
		}
		next, ok := m["data"].(map[string]any)
		if !ok && kind != "" {
			next, ok = m[string(kind)].(map[string]any)
		}
		if !ok {
			for _, k := range types.Kinds {
				if next, ok = m[string(k)].(map[string]any); ok {
					break
				}
			}
		}
		if !ok {
			return m
		}
		m = next
	}
	return m
}

// NormalizeArtifacts maps a listing response to artifacts. Accepted shapes
// are a bare array, {"data": [...]}, and objects keyed by kind (at the top
// level or under "data"). Entries that cannot be mapped are skipped.
func NormalizeArtifacts(raw []byte) ([]*types.Artifact, error) {
	v, err := decodeJSON(raw)
	if err != nil {
		return nil, err
	}
	return collect("", v), nil
}

func collect(kind types.Kind, v any) []*types.Artifact {
	var out []*types.Artifact
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			if a, ok := NormalizeArtifact(kind, item); ok {
				out = append(out, a)
			}
		}
	case map[string]any:
		if data, ok := t["data"]; ok {
			return collect(kind, data)
		}
		for key, val := range t {
			if k, ok := types.ParseKind(key); ok {
				out = append(out, collect(k, val)...)
			}
		}
	}
	return out
}

func first(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func str(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case json.Number:
			return v.String()
		}
	}
	return ""
}

func integer(m map[string]any, keys ...string) int64 {
	for _, k := range keys {
		switch v := m[k].(type) {
		case json.Number:
			if n, err := v.Int64(); err == nil {
				return n
			}
			if f, err := v.Float64(); err == nil {
				return int64(f)
			}
		case float64:
			return int64(v)
		case string:
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				return n
			}
		}
	}
	return 0
}

func attribution(m map[string]any) string {
	for _, k := range []string{"addedBy", "createdBy", "author", "user"} {
		switch v := m[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case map[string]any:
			if name := str(v, "name", "fullName", "username"); name != "" {
				return name
			}
		}
	}
	return ""
}

func timestamp(m map[string]any) time.Time {
	for _, k := range []string{"addedAt", "createdAt", "timestamp", "uploadedAt"} {
		switch v := m[k].(type) {
		case string:
			if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
				return t
			}
		case json.Number:
			if ms, err := v.Int64(); err == nil {
				return time.UnixMilli(ms)
			}
		}
	}
	return time.Time{}
}

// noteText converts rich-text note bodies to markdown.
func noteText(s string) string {
	if !htmlTag.MatchString(s) {
		return s
	}
	md, err := htmltomarkdown.ConvertString(s)
	if err != nil {
		return s
	}
	return strings.TrimSpace(md)
}

// NormalizePushEvent maps a push-event name and payload to a
// types.PushEvent. Unknown event names and payloads without a session or
// artifact id are rejected.
func NormalizePushEvent(name string, payload []byte) (*types.PushEvent, bool) {
	kind := types.EventKind(name)
	if kind != types.EventArtifactAdded && kind != types.EventArtifactDeleted {
		return nil, false
	}
	v, err := decodeJSON(payload)
	if err != nil {
		return nil, false
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	sid, ok := identity.Canonical(first(m, "sessionId", "session_id", "sessionID"))
	if !ok {
		return nil, false
	}
	ev := &types.PushEvent{Kind: kind, SessionID: types.SessionID(sid)}

	data, _ := m["data"].(map[string]any)
	if kind == types.EventArtifactDeleted {
		var raw any
		if data != nil {
			raw = first(data, "id", "_id", "dataId")
		}
		if raw == nil {
			raw = first(m, "dataId", "id")
		}
		ev.ArtifactID = identity.ArtifactID(raw)
		if ev.ArtifactID == "" {
			return nil, false
		}
		if data != nil {
			if a, ok := NormalizeArtifact("", data); ok {
				ev.Artifact = a
			}
		}
		return ev, true
	}

	if data == nil {
		return nil, false
	}
	a, ok := NormalizeArtifact("", data)
	if !ok {
		return nil, false
	}
	ev.Artifact = a
	ev.ArtifactID = a.ID
	return ev, true
}
