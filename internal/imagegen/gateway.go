package imagegen

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/rvillela/artbooth/internal/gallery"
	"github.com/rvillela/artbooth/internal/observability"
)

// Strategy names the retry policy used after a failed primary attempt.
type Strategy string

const (
	// StrategySequential retries exactly once with the safe prompt.
	StrategySequential Strategy = "sequential"
	// StrategyStaggered races up to three attempts with staggered starts;
	// the last one uses the safe prompt. First success wins.
	StrategyStaggered Strategy = "staggered"
)

type GatewayConfig struct {
	StyleSuffix  string
	SafePrompt   string
	Size         string
	RequirePhoto bool
	Strategy     Strategy
	StaggerDelay time.Duration
}

// Gateway runs the generation pipeline: validate, render with the retry
// policy, persist to the gallery, and hand back a shareable URL.
type Gateway struct {
	provider Provider
	gallery  gallery.Store
	metrics  *observability.Metrics
	cfg      GatewayConfig
}

// Result is the outcome of a successful pipeline run.
type Result struct {
	URL        string
	ArtifactID string
	// UsedFallback reports that the artifact came from the safe prompt.
	UsedFallback bool
	// Embedded reports that the gallery upload failed and URL carries the
	// image inline as a data URL.
	Embedded bool
}

func NewGateway(provider Provider, store gallery.Store, metrics *observability.Metrics, cfg GatewayConfig) *Gateway {
	if cfg.Strategy == "" {
		cfg.Strategy = StrategySequential
	}
	if cfg.StaggerDelay <= 0 {
		cfg.StaggerDelay = 15 * time.Second
	}
	if cfg.Size == "" {
		cfg.Size = "1024x1536"
	}
	return &Gateway{provider: provider, gallery: store, metrics: metrics, cfg: cfg}
}

// Generate produces one artifact for the given prompt and optional photo.
// Validation failures are returned as-is and never retried.
func (g *Gateway) Generate(ctx context.Context, prompt string, photo []byte) (Result, error) {
	start := time.Now()

	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return Result{}, ErrPromptRequired
	}
	if g.cfg.RequirePhoto && len(photo) == 0 {
		return Result{}, ErrPhotoRequired
	}

	var (
		img          []byte
		contentType  string
		usedFallback bool
		err          error
	)
	switch g.cfg.Strategy {
	case StrategyStaggered:
		img, contentType, usedFallback, err = g.renderStaggered(ctx, prompt, photo)
	default:
		img, contentType, usedFallback, err = g.renderSequential(ctx, prompt, photo)
	}
	if err != nil {
		return Result{}, err
	}

	res := g.persist(ctx, img, contentType, prompt, photo)
	res.UsedFallback = usedFallback
	g.metrics.ObserveGenerationLatency(time.Since(start))
	return res, nil
}

// Regenerate replays a stored artifact's metadata: same original prompt, same
// source photo, new artifact. The original is left untouched.
func (g *Gateway) Regenerate(ctx context.Context, artifactID string) (Result, error) {
	art, _, err := g.gallery.Get(ctx, artifactID)
	if err != nil {
		return Result{}, fmt.Errorf("load artifact: %w", err)
	}
	if art.Metadata[gallery.MetaKind] != gallery.KindArtifact {
		return Result{}, fmt.Errorf("artifact %s is not regeneratable", artifactID)
	}
	prompt := art.Metadata[gallery.MetaPrompt]
	if strings.TrimSpace(prompt) == "" {
		return Result{}, fmt.Errorf("artifact %s has no stored prompt", artifactID)
	}

	var photo []byte
	if srcID := art.Metadata[gallery.MetaSourceImage]; srcID != "" {
		_, photo, err = g.gallery.Get(ctx, srcID)
		if err != nil {
			return Result{}, fmt.Errorf("load source photo: %w", err)
		}
	}
	return g.Generate(ctx, prompt, photo)
}

func (g *Gateway) renderSequential(ctx context.Context, prompt string, photo []byte) ([]byte, string, bool, error) {
	img, ct, err := g.renderOnce(ctx, prompt+g.cfg.StyleSuffix, photo)
	if err == nil {
		g.metrics.GenerationAttempts.WithLabelValues("primary", "success").Inc()
		return img, ct, false, nil
	}
	g.metrics.GenerationAttempts.WithLabelValues("primary", "failure").Inc()
	g.metrics.ProviderErrors.WithLabelValues(g.provider.Name(), "generate").Inc()
	log.Printf("imagegen: primary attempt failed, retrying with safe prompt: %v", err)

	img, ct, err2 := g.renderOnce(ctx, g.cfg.SafePrompt, photo)
	if err2 != nil {
		g.metrics.GenerationAttempts.WithLabelValues("fallback", "failure").Inc()
		return nil, "", false, fmt.Errorf("fallback generation failed: %w (primary attempt: %v)", err2, err)
	}
	g.metrics.GenerationAttempts.WithLabelValues("fallback", "success").Inc()
	return img, ct, true, nil
}

type staggeredResult struct {
	idx int
	img []byte
	ct  string
	err error
}

func (g *Gateway) renderStaggered(ctx context.Context, prompt string, photo []byte) ([]byte, string, bool, error) {
	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// The safe prompt runs last so it is used at most once and only after
	// the styled attempts had a head start.
	prompts := []string{prompt + g.cfg.StyleSuffix, prompt + g.cfg.StyleSuffix, g.cfg.SafePrompt}
	results := make(chan staggeredResult, len(prompts))

	for i, p := range prompts {
		go func(idx int, finalPrompt string) {
			delay := time.Duration(idx) * g.cfg.StaggerDelay
			if delay > 0 {
				timer := time.NewTimer(delay)
				defer timer.Stop()
				select {
				case <-attemptCtx.Done():
					results <- staggeredResult{idx: idx, err: attemptCtx.Err()}
					return
				case <-timer.C:
				}
			}
			img, ct, err := g.renderOnce(attemptCtx, finalPrompt, photo)
			results <- staggeredResult{idx: idx, img: img, ct: ct, err: err}
		}(i, p)
	}

	var firstErr error
	for range prompts {
		res := <-results
		if res.err == nil {
			cancel()
			kind := "primary"
			if res.idx == len(prompts)-1 {
				kind = "fallback"
			}
			g.metrics.GenerationAttempts.WithLabelValues(kind, "success").Inc()
			return res.img, res.ct, res.idx == len(prompts)-1, nil
		}
		if firstErr == nil && res.idx == 0 {
			firstErr = res.err
		}
		g.metrics.GenerationAttempts.WithLabelValues("primary", "failure").Inc()
		g.metrics.ProviderErrors.WithLabelValues(g.provider.Name(), "generate").Inc()
	}
	if firstErr == nil {
		firstErr = fmt.Errorf("all attempts cancelled")
	}
	return nil, "", false, fmt.Errorf("all generation attempts failed (primary attempt: %v)", firstErr)
}

func (g *Gateway) renderOnce(ctx context.Context, finalPrompt string, photo []byte) ([]byte, string, error) {
	req := Request{Prompt: finalPrompt, Photo: photo, Size: g.cfg.Size}
	if len(photo) > 0 {
		return g.provider.Edit(ctx, req)
	}
	return g.provider.Generate(ctx, req)
}

// persist uploads the result (and the source photo) to the gallery. Upload is
// an optimization for shareability: on failure the image is returned inline
// as a data URL instead of failing the request.
func (g *Gateway) persist(ctx context.Context, img []byte, contentType, prompt string, photo []byte) Result {
	sourceID := ""
	if len(photo) > 0 {
		src, err := g.gallery.Upload(ctx, photo, "image/jpeg", gallery.Metadata{
			gallery.MetaKind: gallery.KindSource,
		})
		if err != nil {
			log.Printf("imagegen: source photo upload failed: %v", err)
		} else {
			sourceID = src.ID
		}
	}

	// The metadata records the visitor's real prompt, never the safe
	// fallback text, so a later regenerate replays their intent.
	meta := gallery.Metadata{
		gallery.MetaKind:   gallery.KindArtifact,
		gallery.MetaPrompt: prompt,
	}
	if sourceID != "" {
		meta[gallery.MetaSourceImage] = sourceID
	}

	art, err := g.gallery.Upload(ctx, img, contentType, meta)
	if err != nil {
		g.metrics.UploadFailures.Inc()
		log.Printf("imagegen: artifact upload failed, returning embedded image: %v", err)
		return Result{URL: dataURL(contentType, img), Embedded: true}
	}
	return Result{URL: art.URL, ArtifactID: art.ID}
}

func dataURL(contentType string, img []byte) string {
	if contentType == "" {
		contentType = "image/png"
	}
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(img)
}
