package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rvillela/artbooth/internal/gallery"
	"github.com/rvillela/artbooth/internal/imagegen"
	"github.com/rvillela/artbooth/internal/observability"
	"github.com/rvillela/artbooth/internal/realtime"
	"github.com/rvillela/artbooth/internal/session"
)

// Prometheus instruments register globally, so the package shares one set.
var testMetrics = observability.NewMetrics("httpapi_test")

type testEnv struct {
	srv      *httptest.Server
	store    *gallery.InMemoryStore
	provider *imagegen.MockProvider
}

func newTestEnv(t *testing.T, requirePhoto bool, realtimeURL string) *testEnv {
	t.Helper()

	store := gallery.NewInMemoryStore("http://relay")
	provider := imagegen.NewMockProvider()
	gateway := imagegen.NewGateway(provider, store, testMetrics, imagegen.GatewayConfig{
		StyleSuffix:  " in flat vector style",
		SafePrompt:   "a calm coastal landscape",
		RequirePhoto: requirePhoto,
	})
	relay := realtime.NewRelay(realtime.RelayConfig{
		APIKey:       "test-key",
		BaseURL:      realtimeURL,
		Model:        "test-model",
		Voice:        "ash",
		Instructions: "You are the booth artist.",
	})

	api := New(Deps{
		Relay:    relay,
		Gateway:  gateway,
		Sessions: session.NewInMemoryStore(),
		Gallery:  store,
		Metrics:  testMetrics,
	})

	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, store: store, provider: provider}
}

func (e *testEnv) getJSON(t *testing.T, path string, out any) int {
	t.Helper()
	res, err := http.Get(e.srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer res.Body.Close()
	if out != nil {
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return res.StatusCode
}

func (e *testEnv) postJSON(t *testing.T, path string, body, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	res, err := http.Post(e.srv.URL+path, "application/json", &buf)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer res.Body.Close()
	if out != nil {
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return res.StatusCode
}

func (e *testEnv) postPhoto(t *testing.T, prompt string, out any) int {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("image", "photo.jpg")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	_, _ = part.Write([]byte("jpeg-bytes"))
	_ = mw.WriteField("prompt", prompt)
	_ = mw.Close()

	res, err := http.Post(e.srv.URL+"/edit-image", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("POST /edit-image: %v", err)
	}
	defer res.Body.Close()
	if out != nil {
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			t.Fatalf("decode edit-image: %v", err)
		}
	}
	return res.StatusCode
}

func TestSessionLifecycle(t *testing.T) {
	env := newTestEnv(t, true, "http://invalid")

	// An untouched booth reads idle with no session id.
	res, err := http.Get(env.srv.URL + "/api/session-state")
	if err != nil {
		t.Fatalf("GET session-state: %v", err)
	}
	raw, _ := io.ReadAll(res.Body)
	res.Body.Close()
	if !strings.Contains(string(raw), `"status":"idle"`) {
		t.Fatalf("idle body = %s", raw)
	}
	if strings.Contains(string(raw), "session_id") {
		t.Fatalf("idle body leaks a session id: %s", raw)
	}

	var started session.Record
	if code := env.postJSON(t, "/api/start-session", nil, &started); code != http.StatusOK {
		t.Fatalf("start status = %d", code)
	}
	if started.Status != session.StatusActive || started.SessionID == "" {
		t.Fatalf("started = %+v", started)
	}

	var current session.Record
	env.getJSON(t, "/api/session-state", &current)
	if current.SessionID != started.SessionID {
		t.Fatalf("current id = %q, want %q", current.SessionID, started.SessionID)
	}

	var ended session.Record
	if code := env.postJSON(t, "/api/end-session", nil, &ended); code != http.StatusOK {
		t.Fatalf("end status = %d", code)
	}
	if ended.Status != session.StatusCompleted || ended.SessionID != started.SessionID {
		t.Fatalf("ended = %+v", ended)
	}
}

func TestEditImageAndGalleryFlow(t *testing.T) {
	env := newTestEnv(t, true, "http://invalid")

	var generated struct {
		Success    bool   `json:"success"`
		Output     string `json:"output"`
		ArtifactID string `json:"artifact_id"`
	}
	if code := env.postPhoto(t, "me as an astronaut", &generated); code != http.StatusOK {
		t.Fatalf("edit-image status = %d", code)
	}
	if !generated.Success || generated.ArtifactID == "" || generated.Output == "" {
		t.Fatalf("generated = %+v", generated)
	}

	// The gallery lists only the finished poster, not the source photo.
	var list struct {
		Success bool               `json:"success"`
		Total   int                `json:"total"`
		Images  []gallery.Artifact `json:"images"`
	}
	env.getJSON(t, "/api/gallery", &list)
	if !list.Success || list.Total != 1 {
		t.Fatalf("gallery = %+v", list)
	}
	if got := list.Images[0].Metadata[gallery.MetaPrompt]; got != "me as an astronaut" {
		t.Fatalf("gallery prompt = %q", got)
	}

	res, err := http.Get(env.srv.URL + "/images/" + generated.ArtifactID)
	if err != nil {
		t.Fatalf("GET image: %v", err)
	}
	io.Copy(io.Discard, res.Body)
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("image status = %d", res.StatusCode)
	}
	if ct := res.Header.Get("Content-Type"); ct != "image/png" {
		t.Fatalf("content type = %q", ct)
	}

	req, _ := http.NewRequest(http.MethodDelete, env.srv.URL+"/api/delete-image/"+generated.ArtifactID, nil)
	res, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE image: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d", res.StatusCode)
	}

	res, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE image again: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("second delete status = %d, want 404", res.StatusCode)
	}
}

func TestGenerateImageRequiresPhotoInKioskMode(t *testing.T) {
	env := newTestEnv(t, true, "http://invalid")
	code := env.postJSON(t, "/generate-image", map[string]string{"prompt": "a fox"}, nil)
	if code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", code)
	}
}

func TestGenerateImageTextOnly(t *testing.T) {
	env := newTestEnv(t, false, "http://invalid")

	var generated struct {
		Success bool   `json:"success"`
		Output  string `json:"output"`
	}
	code := env.postJSON(t, "/generate-image", map[string]any{"prompt": "a fox", "width": 1024, "height": 1024}, &generated)
	if code != http.StatusOK || !generated.Success || generated.Output == "" {
		t.Fatalf("status = %d, generated = %+v", code, generated)
	}

	if code := env.postJSON(t, "/generate-image", map[string]string{"prompt": "  "}, nil); code != http.StatusBadRequest {
		t.Fatalf("blank prompt status = %d, want 400", code)
	}
}

func TestRegenerateImage(t *testing.T) {
	env := newTestEnv(t, true, "http://invalid")

	var generated struct {
		ArtifactID string `json:"artifact_id"`
	}
	env.postPhoto(t, "me as an astronaut", &generated)

	var regenerated struct {
		Success    bool   `json:"success"`
		Output     string `json:"output"`
		ArtifactID string `json:"artifact_id"`
	}
	code := env.postJSON(t, "/api/regenerate-image/"+generated.ArtifactID, nil, &regenerated)
	if code != http.StatusOK || !regenerated.Success {
		t.Fatalf("status = %d, regenerated = %+v", code, regenerated)
	}
	if regenerated.Output == "" {
		t.Fatal("regenerate response missing output url")
	}
	if regenerated.ArtifactID == generated.ArtifactID {
		t.Fatal("regenerate reused the artifact id")
	}

	if code := env.postJSON(t, "/api/regenerate-image/missing", nil, nil); code != http.StatusNotFound {
		t.Fatalf("missing artifact status = %d, want 404", code)
	}
}

func TestRTCConnectPassThrough(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/sdp" {
			t.Errorf("content type = %q", ct)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("authorization = %q", auth)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != "v=0 offer" {
			t.Errorf("offer = %q", body)
		}
		fmt.Fprint(w, "v=0 answer")
	}))
	defer upstream.Close()

	env := newTestEnv(t, true, upstream.URL)

	res, err := http.Post(env.srv.URL+"/rtc-connect", "application/sdp", strings.NewReader("v=0 offer"))
	if err != nil {
		t.Fatalf("POST rtc-connect: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}
	if ct := res.Header.Get("Content-Type"); ct != "application/sdp" {
		t.Fatalf("content type = %q", ct)
	}
	answer, _ := io.ReadAll(res.Body)
	if string(answer) != "v=0 answer" {
		t.Fatalf("answer = %q", answer)
	}
}

func TestRTCConnectRejectsEmptyOffer(t *testing.T) {
	env := newTestEnv(t, true, "http://invalid")
	res, err := http.Post(env.srv.URL+"/rtc-connect", "application/sdp", strings.NewReader("  "))
	if err != nil {
		t.Fatalf("POST rtc-connect: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", res.StatusCode)
	}
}

func TestInstructions(t *testing.T) {
	env := newTestEnv(t, true, "http://invalid")
	var body struct {
		Instructions string `json:"instructions"`
	}
	env.getJSON(t, "/instructions", &body)
	if body.Instructions != "You are the booth artist." {
		t.Fatalf("instructions = %q", body.Instructions)
	}
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t, true, "http://invalid")
	if code := env.getJSON(t, "/healthz", nil); code != http.StatusOK {
		t.Fatalf("healthz = %d", code)
	}
	if code := env.getJSON(t, "/readyz", nil); code != http.StatusOK {
		t.Fatalf("readyz = %d", code)
	}
}
