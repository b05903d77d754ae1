package kiosk

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"sync"
)

var ErrCameraClosed = errors.New("camera closed")

// Camera is the booth's camera feed. Implementations own the underlying
// device handle; Close must release it so a reset can reacquire the device.
type Camera interface {
	Frame(ctx context.Context) (image.Image, error)
	Close() error
}

// Photo capture parameters. The crop keeps the middle of the frame, biased
// toward the upper half, so a standing visitor's face lands inside it
// without positioning guidance.
const (
	cropFraction    = 0.65
	cropTopFraction = 0.10
	jpegQuality     = 80
)

// cropRegion returns the capture window inside the full frame bounds.
func cropRegion(b image.Rectangle) image.Rectangle {
	w := b.Dx()
	h := b.Dy()
	cw := int(float64(w) * cropFraction)
	ch := int(float64(h) * cropFraction)
	x0 := b.Min.X + (w-cw)/2
	y0 := b.Min.Y + int(float64(h)*cropTopFraction)
	return image.Rect(x0, y0, x0+cw, y0+ch)
}

// CapturePhoto grabs one frame, crops the central region, and encodes it as
// JPEG at the fixed kiosk quality.
func CapturePhoto(ctx context.Context, cam Camera) ([]byte, error) {
	if cam == nil {
		return nil, fmt.Errorf("no camera available")
	}
	frame, err := cam.Frame(ctx)
	if err != nil {
		return nil, fmt.Errorf("grab frame: %w", err)
	}

	region := cropRegion(frame.Bounds())
	cropped := image.NewRGBA(image.Rect(0, 0, region.Dx(), region.Dy()))
	draw.Draw(cropped, cropped.Bounds(), frame, region.Min, draw.Src)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, cropped, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encode photo: %w", err)
	}
	return buf.Bytes(), nil
}

// FakeCamera produces synthetic gradient frames. Used by tests and the booth
// simulator.
type FakeCamera struct {
	mu     sync.Mutex
	closed bool
	frames int
}

func NewFakeCamera() *FakeCamera {
	return &FakeCamera{}
}

func (c *FakeCamera) Frame(_ context.Context) (image.Image, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrCameraClosed
	}
	c.frames++

	img := image.NewRGBA(image.Rect(0, 0, 128, 96))
	for y := 0; y < 96; y++ {
		for x := 0; x < 128; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 2), G: uint8(y * 2), B: uint8(c.frames), A: 255})
		}
	}
	return img, nil
}

func (c *FakeCamera) Frames() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames
}

func (c *FakeCamera) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *FakeCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}
