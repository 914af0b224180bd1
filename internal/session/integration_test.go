package session_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/user/ambuwatch/internal/backend"
	"github.com/user/ambuwatch/internal/push"
	"github.com/user/ambuwatch/internal/session"
	"github.com/user/ambuwatch/internal/stream"
	"github.com/user/ambuwatch/internal/types"
	"github.com/user/ambuwatch/internal/vendor"
)

// world is a fake backend, push server and camera platform.
type world struct {
	t       *testing.T
	backend *httptest.Server
	push    *httptest.Server
	vendor  *httptest.Server

	frames     chan []byte
	connected  chan struct{}
	rejectAuth atomic.Bool
	logins     atomic.Int32
}

func newWorld(t *testing.T) *world {
	w := &world{t: t, frames: make(chan []byte, 8), connected: make(chan struct{}, 1)}

	w.vendor = httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		n := w.logins.Add(1)
		if w.rejectAuth.Load() {
			rw.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprintf(rw, `{"result":0,"jsession":"u%d"}`, n)
	}))
	t.Cleanup(w.vendor.Close)

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	w.push = httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var join push.Frame
		if err := conn.ReadJSON(&join); err != nil {
			return
		}
		select {
		case w.connected <- struct{}{}:
		default:
		}

		gone := make(chan struct{})
		go func() {
			defer close(gone)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
		for {
			select {
			case f := <-w.frames:
				conn.WriteMessage(websocket.TextMessage, f)
			case <-gone:
				return
			}
		}
	}))
	t.Cleanup(w.push.Close)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ambulances/devices/{id}/stream", func(rw http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(rw, `{"success":true,"data":{"deviceId":"EXT-%s","username":"cam","password":"pw","apiBase":"https://cms.example","loginUrl":%q}}`,
			r.PathValue("id"), w.vendor.URL+"/login")
	})
	mux.HandleFunc("GET /sessions/{id}/data", func(rw http.ResponseWriter, r *http.Request) {
		fmt.Fprint(rw, `{"success":true,"data":{"notes":[],"medications":[],"files":[]}}`)
	})
	mux.HandleFunc("POST /sessions/{id}/notes", func(rw http.ResponseWriter, r *http.Request) {
		var body struct {
			Content string `json:"content"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		// The push event races the HTTP reply.
		w.send("session_data_added", fmt.Sprintf(`{"sessionId":"S1","data":{"id":77,"dataType":"note","content":%q}}`, body.Content))
		time.Sleep(50 * time.Millisecond)
		fmt.Fprintf(rw, `{"success":true,"data":{"id":77,"dataType":"note","content":%q}}`, body.Content)
	})
	mux.HandleFunc("DELETE /sessions/{id}/data/{aid}", func(rw http.ResponseWriter, r *http.Request) {
		fmt.Fprint(rw, `{"success":true}`)
	})
	w.backend = httptest.NewServer(mux)
	t.Cleanup(w.backend.Close)
	return w
}

func (w *world) send(event, payload string) {
	data, _ := json.Marshal(push.Frame{Event: event, Payload: json.RawMessage(payload)})
	w.frames <- data
}

func (w *world) facade(onProblem session.RemediationFunc) *session.Facade {
	be := backend.New(backend.Config{BaseURL: w.backend.URL, Token: "tok"})
	f := session.New(session.Config{
		Backend:             be,
		Push:                push.New(push.Config{URL: w.push.URL, Token: "tok"}),
		Resolver:            stream.NewResolver(be, vendor.New(), stream.WithVendorTimeout(time.Second)),
		Operator:            "dispatch",
		OnCredentialProblem: onProblem,
	})
	w.t.Cleanup(f.Shutdown)
	return f
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestEndToEndNoteLifecycle(t *testing.T) {
	w := newWorld(t)
	f := w.facade(nil)
	ctx := context.Background()

	if err := f.Open(ctx, "S1"); err != nil {
		t.Fatal(err)
	}
	select {
	case <-w.connected:
	case <-time.After(2 * time.Second):
		t.Fatal("push channel never joined")
	}
	if !f.Live() {
		t.Error("expected a live subscription")
	}

	created, err := f.AddArtifact(ctx, types.KindNote, types.Content{Text: "BP stable"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if created.ID != "77" {
		t.Fatalf("expected server id 77, got %q", created.ID)
	}

	eventually(t, "single confirmed note", func() bool {
		_, snap, _ := f.Snapshot()
		return len(snap.Notes) == 1 && snap.Notes[0].ID == "77" && !snap.Notes[0].Pending()
	})
	// Let any late duplicate land before checking again.
	time.Sleep(50 * time.Millisecond)
	if counts, _ := f.Counts(); counts[types.KindNote] != 1 {
		t.Fatalf("expected exactly one note, got %v", counts)
	}

	w.send("session_data_deleted", `{"sessionId":"S1","data":{"id":"77","dataType":"notes"}}`)
	eventually(t, "note deletion", func() bool {
		counts, _ := f.Counts()
		return counts[types.KindNote] == 0
	})
}

func TestEndToEndCameraCredentialRejection(t *testing.T) {
	w := newWorld(t)
	var mu sync.Mutex
	var notices []types.DeviceID
	f := w.facade(func(ref types.DeviceRef, err error) {
		mu.Lock()
		notices = append(notices, ref.ID)
		mu.Unlock()
	})
	ctx := context.Background()
	if err := f.Open(ctx, "S1"); err != nil {
		t.Fatal(err)
	}
	ref := types.DeviceRef{ID: "D1"}

	url, err := f.CameraPlaybackURL(ctx, ref, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(url, "jsession=u1") || !strings.Contains(url, "devIdno=EXT-D1") || !strings.HasSuffix(url, "chns=1") {
		t.Fatalf("unexpected url %s", url)
	}
	again, err := f.CameraPlaybackURL(ctx, ref, 2)
	if err != nil || !strings.Contains(again, "jsession=u1") || !strings.HasSuffix(again, "chns=2") {
		t.Fatalf("expected cached token for camera switch, got %s %v", again, err)
	}
	if n := w.logins.Load(); n != 1 {
		t.Fatalf("expected one vendor login, got %d", n)
	}

	w.rejectAuth.Store(true)
	_, err = f.RefreshCamera(ctx, ref, 1)
	if stream.KindOf(err) != stream.KindCredentialsInvalid {
		t.Fatalf("expected credentials_invalid, got %v", err)
	}
	// The rejected entry is gone, so the next read goes back to the vendor.
	if _, err := f.CameraPlaybackURL(ctx, ref, 1); stream.KindOf(err) != stream.KindCredentialsInvalid {
		t.Fatalf("expected re-resolution to fail, got %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(notices) != 1 || notices[0] != "D1" {
		t.Errorf("expected one remediation notice for D1, got %v", notices)
	}
}
