package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rvillela/artbooth/internal/gallery"
	"github.com/rvillela/artbooth/internal/imagegen"
	"github.com/rvillela/artbooth/internal/observability"
	"github.com/rvillela/artbooth/internal/realtime"
	"github.com/rvillela/artbooth/internal/session"
)

const maxUploadBytes = 20 << 20

// Server is the edge relay's HTTP surface: voice negotiation, image
// generation, the shared session record, and the gallery.
type Server struct {
	relay    *realtime.Relay
	gateway  *imagegen.Gateway
	sessions session.Store
	gallery  gallery.Store
	metrics  *observability.Metrics

	router chi.Router
}

type Deps struct {
	Relay    *realtime.Relay
	Gateway  *imagegen.Gateway
	Sessions session.Store
	Gallery  gallery.Store
	Metrics  *observability.Metrics
}

func New(deps Deps) *Server {
	s := &Server{
		relay:    deps.Relay,
		gateway:  deps.Gateway,
		sessions: deps.Sessions,
		gallery:  deps.Gallery,
		metrics:  deps.Metrics,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Minute))

	r.Post("/rtc-connect", s.handleRTCConnect)
	r.Get("/instructions", s.handleInstructions)
	r.Post("/generate-image", s.handleGenerateImage)
	r.Post("/edit-image", s.handleEditImage)

	r.Route("/api", func(r chi.Router) {
		r.Get("/session-state", s.handleSessionState)
		r.Post("/start-session", s.handleStartSession)
		r.Post("/end-session", s.handleEndSession)
		r.Get("/gallery", s.handleGallery)
		r.Delete("/delete-image/{id}", s.handleDeleteImage)
		r.Post("/regenerate-image/{id}", s.handleRegenerateImage)
	})

	r.Get("/images/{id}", s.handleServeImage)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Handle("/metrics", observability.MetricsHandler())
	r.Handle("/ui/*", staticHandler())
	r.Get("/ui", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ui/", http.StatusMovedPermanently)
	})

	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// handleRTCConnect forwards the browser's SDP offer to the voice provider
// and streams its answer back. The offer and answer are opaque here.
func (s *Server) handleRTCConnect(w http.ResponseWriter, r *http.Request) {
	offer, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		respondError(w, http.StatusBadRequest, "unable to read offer")
		return
	}
	if len(strings.TrimSpace(string(offer))) == 0 {
		respondError(w, http.StatusBadRequest, "empty SDP offer")
		return
	}

	answer, err := s.relay.Negotiate(r.Context(), string(offer))
	if err != nil {
		log.Printf("httpapi: rtc negotiate failed: %v", err)
		respondError(w, http.StatusBadGateway, "voice provider unavailable")
		return
	}

	w.Header().Set("Content-Type", "application/sdp")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, answer)
}

func (s *Server) handleInstructions(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"instructions": s.relay.Instructions(),
	})
}

type generateRequest struct {
	Prompt string `json:"prompt"`
	// Width and height are accepted for compatibility with older kiosk
	// clients; the relay renders at its configured size.
	Width  int `json:"width,omitempty"`
	Height int `json:"height,omitempty"`
}

type imageResponse struct {
	Success      bool   `json:"success"`
	Output       string `json:"output"`
	ArtifactID   string `json:"artifact_id,omitempty"`
	UsedFallback bool   `json:"used_fallback,omitempty"`
	Embedded     bool   `json:"embedded,omitempty"`
}

func (s *Server) handleGenerateImage(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.generate(w, r, req.Prompt, nil)
}

func (s *Server) handleEditImage(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		respondError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, _, err := r.FormFile("image")
	if err != nil {
		respondError(w, http.StatusBadRequest, "image file is required")
		return
	}
	defer file.Close()

	photo, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, "unable to read image")
		return
	}

	s.generate(w, r, r.FormValue("prompt"), photo)
}

func (s *Server) generate(w http.ResponseWriter, r *http.Request, prompt string, photo []byte) {
	res, err := s.gateway.Generate(r.Context(), prompt, photo)
	switch {
	case errors.Is(err, imagegen.ErrPromptRequired):
		respondError(w, http.StatusBadRequest, "prompt is required")
		return
	case errors.Is(err, imagegen.ErrPhotoRequired):
		respondError(w, http.StatusBadRequest, "a visitor photo is required")
		return
	case err != nil:
		log.Printf("httpapi: image generation failed: %v", err)
		respondError(w, http.StatusBadGateway, "image generation failed")
		return
	}

	respondJSON(w, http.StatusOK, imageResponse{
		Success:      true,
		Output:       res.URL,
		ArtifactID:   res.ArtifactID,
		UsedFallback: res.UsedFallback,
		Embedded:     res.Embedded,
	})
}

// handleSessionState never fails: a broken session store reads as an idle
// booth so kiosk polling keeps working.
func (s *Server) handleSessionState(w http.ResponseWriter, r *http.Request) {
	rec, err := s.sessions.Current(r.Context())
	if err != nil {
		log.Printf("httpapi: session read failed, reporting idle: %v", err)
		rec = session.DefaultIdle()
	}
	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	rec, err := s.sessions.Start(r.Context())
	if err != nil {
		log.Printf("httpapi: session start failed: %v", err)
		respondError(w, http.StatusInternalServerError, "unable to start session")
		return
	}
	s.metrics.SessionEvents.WithLabelValues("start").Inc()
	respondJSON(w, http.StatusOK, sessionResponse{Success: true, Record: rec})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	rec, err := s.sessions.End(r.Context())
	if err != nil {
		log.Printf("httpapi: session end failed: %v", err)
		respondError(w, http.StatusInternalServerError, "unable to end session")
		return
	}
	s.metrics.SessionEvents.WithLabelValues("end").Inc()
	respondJSON(w, http.StatusOK, sessionResponse{Success: true, Record: rec})
}

type sessionResponse struct {
	Success bool `json:"success"`
	session.Record
}

type galleryResponse struct {
	Success bool               `json:"success"`
	Total   int                `json:"total"`
	Images  []gallery.Artifact `json:"images"`
}

func (s *Server) handleGallery(w http.ResponseWriter, r *http.Request) {
	arts, err := s.gallery.List(r.Context())
	if err != nil {
		log.Printf("httpapi: gallery list failed: %v", err)
		respondError(w, http.StatusInternalServerError, "unable to list gallery")
		return
	}

	images := make([]gallery.Artifact, 0, len(arts))
	for _, a := range arts {
		// Source photos and bookkeeping artifacts stay out of the public
		// gallery.
		if kind := a.Metadata[gallery.MetaKind]; kind != "" && kind != gallery.KindArtifact {
			continue
		}
		images = append(images, a)
	}
	respondJSON(w, http.StatusOK, galleryResponse{Success: true, Total: len(images), Images: images})
}

func (s *Server) handleDeleteImage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.gallery.Delete(r.Context(), id); err != nil {
		if errors.Is(err, gallery.ErrNotFound) {
			respondError(w, http.StatusNotFound, "image not found")
			return
		}
		log.Printf("httpapi: delete image %s failed: %v", id, err)
		respondError(w, http.StatusInternalServerError, "unable to delete image")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "id": id})
}

func (s *Server) handleRegenerateImage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, err := s.gateway.Regenerate(r.Context(), id)
	if err != nil {
		if errors.Is(err, gallery.ErrNotFound) {
			respondError(w, http.StatusNotFound, "image not found")
			return
		}
		log.Printf("httpapi: regenerate %s failed: %v", id, err)
		respondError(w, http.StatusBadGateway, "unable to regenerate image")
		return
	}
	respondJSON(w, http.StatusOK, imageResponse{
		Success:      true,
		Output:       res.URL,
		ArtifactID:   res.ArtifactID,
		UsedFallback: res.UsedFallback,
		Embedded:     res.Embedded,
	})
}

func (s *Server) handleServeImage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	art, data, err := s.gallery.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, gallery.ErrNotFound) {
			respondError(w, http.StatusNotFound, "image not found")
			return
		}
		log.Printf("httpapi: fetch image %s failed: %v", id, err)
		respondError(w, http.StatusInternalServerError, "unable to fetch image")
		return
	}

	ct := gallery.ContentType(art)
	if ct == "" {
		ct = "image/png"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if _, err := s.sessions.Current(ctx); err != nil {
		respondError(w, http.StatusServiceUnavailable, "session store unavailable")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("httpapi: encode response: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}
