package imagegen

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func b64Response(img []byte) string {
	body, _ := json.Marshal(map[string]any{
		"data": []map[string]string{{"b64_json": base64.StdEncoding.EncodeToString(img)}},
	})
	return string(body)
}

func TestOpenAIGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/images/generations" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk-test" {
			t.Errorf("authorization = %q", auth)
		}
		var req struct {
			Model  string `json:"model"`
			Prompt string `json:"prompt"`
			N      int    `json:"n"`
			Size   string `json:"size"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "gpt-image-1" || req.N != 1 || req.Size != "1024x1536" {
			t.Errorf("request = %+v", req)
		}
		fmt.Fprint(w, b64Response([]byte("png-bytes")))
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewOpenAIProvider: %v", err)
	}

	img, ct, err := p.Generate(context.Background(), Request{Prompt: "a fox", Size: "1024x1536"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if string(img) != "png-bytes" || ct != "image/png" {
		t.Fatalf("img = %q, ct = %q", img, ct)
	}
}

func TestOpenAIEditSendsMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/images/edits" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if got := r.FormValue("prompt"); got != "me as an astronaut" {
			t.Errorf("prompt = %q", got)
		}
		if got := r.FormValue("model"); got != "gpt-image-1" {
			t.Errorf("model = %q", got)
		}
		file, _, err := r.FormFile("image")
		if err != nil {
			t.Errorf("image field: %v", err)
		} else {
			data, _ := io.ReadAll(file)
			file.Close()
			if string(data) != "jpeg-bytes" {
				t.Errorf("photo = %q", data)
			}
		}
		fmt.Fprint(w, b64Response([]byte("edited-bytes")))
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewOpenAIProvider: %v", err)
	}

	img, _, err := p.Edit(context.Background(), Request{Prompt: "me as an astronaut", Photo: []byte("jpeg-bytes")})
	if err != nil {
		t.Fatalf("Edit: %v", err)
	}
	if string(img) != "edited-bytes" {
		t.Fatalf("img = %q", img)
	}
}

func TestOpenAIFetchesURLResult(t *testing.T) {
	var srvURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/images/generations":
			body, _ := json.Marshal(map[string]any{
				"data": []map[string]string{{"url": srvURL + "/result.jpg"}},
			})
			w.Write(body)
		case "/result.jpg":
			w.Header().Set("Content-Type", "image/jpeg")
			fmt.Fprint(w, "jpeg-result")
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	srvURL = srv.URL

	p, _ := NewOpenAIProvider(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL})
	img, ct, err := p.Generate(context.Background(), Request{Prompt: "a fox"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if string(img) != "jpeg-result" || ct != "image/jpeg" {
		t.Fatalf("img = %q, ct = %q", img, ct)
	}
}

func TestOpenAIRetriesTransientStatus(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, `{"error":{"message":"overloaded","code":"server_error"}}`)
			return
		}
		fmt.Fprint(w, b64Response([]byte("png-bytes")))
	}))
	defer srv.Close()

	p, _ := NewOpenAIProvider(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL})
	p.retryWait = time.Millisecond

	img, _, err := p.Generate(context.Background(), Request{Prompt: "a fox"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if string(img) != "png-bytes" {
		t.Fatalf("img = %q", img)
	}
	if got := attempts.Load(); got != 3 {
		t.Fatalf("attempts = %d, want 3", got)
	}
}

func TestOpenAIDoesNotRetryClientError(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"bad size","code":"invalid_request"}}`)
	}))
	defer srv.Close()

	p, _ := NewOpenAIProvider(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL})
	p.retryWait = time.Millisecond

	if _, _, err := p.Generate(context.Background(), Request{Prompt: "a fox"}); err == nil {
		t.Fatal("expected error on 400")
	}
	if got := attempts.Load(); got != 1 {
		t.Fatalf("attempts = %d, a client error must not be retried", got)
	}
}

func TestOpenAISurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"prompt violates policy","code":"moderation_blocked"}}`)
	}))
	defer srv.Close()

	p, _ := NewOpenAIProvider(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL})
	_, _, err := p.Generate(context.Background(), Request{Prompt: "a fox"})
	if err == nil {
		t.Fatal("expected API error")
	}
	for _, want := range []string{"moderation_blocked", "prompt violates policy"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("err %q missing %q", err, want)
		}
	}
}

func TestOpenAIValidation(t *testing.T) {
	if _, err := NewOpenAIProvider(OpenAIConfig{}); !errors.Is(err, ErrAPIKeyRequired) {
		t.Fatalf("err = %v, want ErrAPIKeyRequired", err)
	}

	p, _ := NewOpenAIProvider(OpenAIConfig{APIKey: "sk-test"})
	if _, _, err := p.Generate(context.Background(), Request{}); !errors.Is(err, ErrPromptRequired) {
		t.Fatalf("err = %v, want ErrPromptRequired", err)
	}
	if _, _, err := p.Edit(context.Background(), Request{Prompt: "a fox"}); !errors.Is(err, ErrPhotoRequired) {
		t.Fatalf("err = %v, want ErrPhotoRequired", err)
	}
}
