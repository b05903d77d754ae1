package imagegen

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"sync"
)

// MockProvider renders a flat-color placeholder. Used in tests and when no
// image API key is configured.
type MockProvider struct {
	mu sync.Mutex
	// FailNext makes the next n calls fail with the given error.
	failNext int
	failErr  error
	calls    []Request
}

func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

func (p *MockProvider) Name() string { return "mock" }

// FailNext arranges for the next n calls to return err.
func (p *MockProvider) FailNext(n int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failNext = n
	p.failErr = err
}

// Calls returns the requests seen so far.
func (p *MockProvider) Calls() []Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Request, len(p.calls))
	copy(out, p.calls)
	return out
}

func (p *MockProvider) Generate(_ context.Context, req Request) ([]byte, string, error) {
	return p.render(req)
}

func (p *MockProvider) Edit(_ context.Context, req Request) ([]byte, string, error) {
	if len(req.Photo) == 0 {
		return nil, "", ErrPhotoRequired
	}
	return p.render(req)
}

func (p *MockProvider) render(req Request) ([]byte, string, error) {
	p.mu.Lock()
	p.calls = append(p.calls, req)
	if p.failNext > 0 {
		p.failNext--
		err := p.failErr
		p.mu.Unlock()
		return nil, "", err
	}
	p.mu.Unlock()

	img := image.NewRGBA(image.Rect(0, 0, 4, 6))
	shade := uint8(len(req.Prompt) % 256)
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	img.Set(0, 0, color.RGBA{R: shade, G: 128, B: 200, A: 255})

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), "image/png", nil
}
