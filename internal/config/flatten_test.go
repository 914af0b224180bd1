package config

import (
	"testing"
)

func TestFlatten_Nested(t *testing.T) {
	m := map[string]any{
		"backend": map[string]any{
			"base_url": "https://api.example",
			"token":    "tok-123",
		},
		"log_level": "info",
	}
	got := Flatten(m)
	if got["backend.base_url"] != "https://api.example" {
		t.Errorf("expected backend.base_url, got %v", got["backend.base_url"])
	}
	if got["backend.token"] != "tok-123" {
		t.Errorf("expected backend.token=tok-123, got %v", got["backend.token"])
	}
	if got["log_level"] != "info" {
		t.Errorf("expected log_level=info, got %v", got["log_level"])
	}
	if len(got) != 3 {
		t.Errorf("expected 3 keys, got %d", len(got))
	}
}

func TestFlatten_EmptyNestedMap(t *testing.T) {
	got := Flatten(map[string]any{"resync": map[string]any{}})
	if len(got) != 0 {
		t.Errorf("expected 0 keys (empty nested map produces nothing), got %d", len(got))
	}
}

func TestFlatten_MixedTypes(t *testing.T) {
	m := map[string]any{
		"max_lanes": 4.0,
		"resync":    map[string]any{"enabled": true},
		"notify":    map[string]any{"targets": []any{"log:", "telegram:1"}},
	}
	got := Flatten(m)
	if got["max_lanes"] != 4.0 || got["resync.enabled"] != true {
		t.Errorf("unexpected flatten %v", got)
	}
	if targets, ok := got["notify.targets"].([]any); !ok || len(targets) != 2 {
		t.Errorf("expected slices to stay leaves, got %v", got["notify.targets"])
	}
}

func TestRoundTrip_FlattenUnflatten(t *testing.T) {
	original := map[string]any{
		"push":     map[string]any{"url": "wss://push", "ping_interval_seconds": 30.0},
		"telegram": map[string]any{"token": "bot"},
		"operator": "dispatch",
	}
	restored := Unflatten(Flatten(original))

	push, ok := restored["push"].(map[string]any)
	if !ok {
		t.Fatalf("expected push to be map, got %T", restored["push"])
	}
	if push["url"] != "wss://push" || push["ping_interval_seconds"] != 30.0 {
		t.Errorf("push mismatch: %v", push)
	}
	if restored["telegram"].(map[string]any)["token"] != "bot" {
		t.Errorf("telegram.token mismatch: %v", restored["telegram"])
	}
	if restored["operator"] != "dispatch" {
		t.Errorf("operator mismatch: %v", restored["operator"])
	}
}

func TestMaskSecrets(t *testing.T) {
	flat := map[string]any{
		"backend.base_url": "https://api.example",
		"backend.token":    "tok-abcdef1234",
		"telegram.token":   "ab",
		"push.url":         "",
	}
	got := MaskSecrets(flat)
	if got["backend.base_url"] != "https://api.example" {
		t.Errorf("non-secret should be unchanged, got %v", got["backend.base_url"])
	}
	if got["backend.token"] != "***1234" {
		t.Errorf("expected backend.token=***1234, got %v", got["backend.token"])
	}
	if got["telegram.token"] != "***ab" {
		t.Errorf("expected ***ab for short secret, got %v", got["telegram.token"])
	}
	if got["push.url"] != "" {
		t.Errorf("expected empty value to remain empty, got %v", got["push.url"])
	}
}

func TestMaskSecrets_EmptySecret(t *testing.T) {
	got := MaskSecrets(map[string]any{"backend.token": ""})
	if got["backend.token"] != "" {
		t.Errorf("expected empty string to remain empty, got %v", got["backend.token"])
	}
	if !IsSecretKey("backend.token") || IsSecretKey("backend.base_url") {
		t.Error("unexpected secret classification")
	}
}
