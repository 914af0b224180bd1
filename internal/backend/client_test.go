package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/user/ambuwatch/internal/types"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return New(Config{BaseURL: server.URL + "/", Token: "test-token"})
}

func TestDeviceCredentials(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ambulances/devices/AMB-1/stream" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-token" {
			t.Error("missing or invalid auth header")
		}
		w.Write([]byte(`{"success":true,"data":{"deviceId":"EXT-9","username":"u","password":"p","apiBase":"https://cms","loginUrl":"https://cms/login"}}`))
	})

	cred, err := client.DeviceCredentials(context.Background(), "AMB-1")
	if err != nil {
		t.Fatal(err)
	}
	if cred.DeviceExternalID != "EXT-9" || cred.LoginURL != "https://cms/login" || cred.APIBase != "https://cms" {
		t.Errorf("unexpected credential: %+v", cred)
	}
}

func TestDeviceCredentialsUnsuccessful(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":false,"message":"device has no camera"}`))
	})

	_, err := client.DeviceCredentials(context.Background(), "AMB-1")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Message != "device has no camera" {
		t.Errorf("unexpected message %q", apiErr.Message)
	}
}

func TestDeviceCredentialsHTTPError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"success":false,"message":"token expired"}`))
	})

	_, err := client.DeviceCredentials(context.Background(), "AMB-1")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 APIError, got %v", err)
	}
	if !strings.Contains(err.Error(), "token expired") {
		t.Errorf("expected backend message in error, got %q", err.Error())
	}
}

func TestFetchArtifactsGroupedByKind(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sessions/S1/data" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Write([]byte(`{"success":true,"data":{
			"notes":[{"id":1,"content":"BP stable","addedBy":{"name":"Dr. Ray"},"createdAt":"2024-03-01T10:00:00Z"}],
			"medications":[{"_id":"m-2","name":"Aspirin","dosage":"300mg","route":"oral"}],
			"files":[{"id":"f-3","fileName":"ecg.pdf","fileSize":2048,"fileUrl":"/files/f-3"}]
		}}`))
	})

	list, err := client.FetchArtifacts(context.Background(), "S1")
	if err != nil {
		t.Fatal(err)
	}
	byID := map[types.ArtifactID]*types.Artifact{}
	for _, a := range list {
		byID[a.ID] = a
	}
	if len(byID) != 3 {
		t.Fatalf("expected 3 artifacts, got %d", len(list))
	}
	if n := byID["1"]; n == nil || n.Kind != types.KindNote || n.Content.Text != "BP stable" || n.AddedBy != "Dr. Ray" {
		t.Errorf("unexpected note: %+v", n)
	}
	if n := byID["1"]; n != nil && n.AddedAt.IsZero() {
		t.Error("expected note timestamp to be parsed")
	}
	if m := byID["m-2"]; m == nil || m.Kind != types.KindMedication || m.Content.Dosage != "300mg" {
		t.Errorf("unexpected medication: %+v", m)
	}
	if f := byID["f-3"]; f == nil || f.Kind != types.KindFile || f.Content.FileSize != 2048 {
		t.Errorf("unexpected file: %+v", f)
	}
	for _, a := range list {
		if a.Pending() {
			t.Errorf("fetched artifact %s should be confirmed", a.ID)
		}
	}
}

func TestFetchArtifactsFlatList(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id":5,"dataType":"notes","text":"a"},{"id":6,"dataType":"unknown"},{"dataType":"note","text":"no id"}]`))
	})

	list, err := client.FetchArtifacts(context.Background(), "S1")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ID != "5" {
		t.Fatalf("expected only the well-formed note, got %+v", list)
	}
}

func TestAddNote(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/sessions/S1/notes" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected content type %q", r.Header.Get("Content-Type"))
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["content"] != "BP stable" {
			t.Errorf("unexpected body %v", body)
		}
		w.Write([]byte(`{"success":true,"data":{"note":{"id":77}}}`))
	})

	a, err := client.AddNote(context.Background(), "S1", types.Content{Text: "BP stable"})
	if err != nil {
		t.Fatal(err)
	}
	if a.ID != "77" || a.Kind != types.KindNote || a.Content.Text != "BP stable" {
		t.Errorf("unexpected artifact: %+v", a)
	}
}

func TestAddMedicationWithoutID(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true,"data":{}}`))
	})

	_, err := client.AddMedication(context.Background(), "S1", types.Content{Name: "Aspirin"})
	if err == nil {
		t.Fatal("expected error for response without id")
	}
}

func TestUploadFile(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		f, header, err := r.FormFile("file")
		if err != nil {
			t.Error(err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		if header.Filename != "ecg.pdf" || string(data) != "%PDF-1.4" {
			t.Errorf("unexpected upload %q %q", header.Filename, data)
		}
		w.Write([]byte(`{"success":true,"data":{"id":"f-1","url":"/files/f-1"}}`))
	})

	a, err := client.UploadFile(context.Background(), "S1", types.Content{FileName: "ecg.pdf"}, strings.NewReader("%PDF-1.4"))
	if err != nil {
		t.Fatal(err)
	}
	if a.ID != "f-1" || a.Content.FileName != "ecg.pdf" || a.Content.FileSize != 8 || a.Content.FileRef != "/files/f-1" {
		t.Errorf("unexpected artifact: %+v", a)
	}
}

func TestDeleteArtifact(t *testing.T) {
	var gotPath string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("expected DELETE, got %s", r.Method)
		}
		gotPath = r.URL.Path
		w.Write([]byte(`{"success":true}`))
	})

	if err := client.DeleteArtifact(context.Background(), "S1", "77"); err != nil {
		t.Fatal(err)
	}
	if gotPath != "/sessions/S1/data/77" {
		t.Errorf("unexpected path %q", gotPath)
	}
}

func TestDownloadFile(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sessions/S1/files/f-1/download" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte("contents"))
	})

	rc, err := client.DownloadFile(context.Background(), "S1", "f-1")
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "contents" {
		t.Errorf("unexpected body %q", data)
	}

	if _, err := client.DownloadFile(context.Background(), "S1", "missing"); err == nil {
		t.Error("expected error for missing file")
	}
}
