package camera

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"

	"github.com/cjeanneret/deepimage/internal/debug"
)

const (
	mockWidth  = 64
	mockHeight = 48
)

// Mock writes small synthetic JPEG frames. Used for development on PC.
type Mock struct {
	frames int
}

func NewMock() *Mock {
	debug.Info("Using MOCK camera (development mode)")
	return &Mock{}
}

func (m *Mock) StartPreview() error {
	debug.Trace("Camera: mock preview started")
	return nil
}

// Capture encodes a gradient that shifts with every frame.
func (m *Mock) Capture(path string) error {
	m.frames++
	img := image.NewRGBA(image.Rect(0, 0, mockWidth, mockHeight))
	for y := 0; y < mockHeight; y++ {
		for x := 0; x < mockWidth; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8(x * 4),
				G: uint8(y * 5),
				B: uint8(m.frames * 16),
				A: 0xff,
			})
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: 80}); err != nil {
		f.Close()
		return fmt.Errorf("encode frame: %w", err)
	}
	return f.Close()
}

func (m *Mock) StopPreview() error {
	debug.Trace("Camera: mock preview stopped")
	return nil
}

func (m *Mock) Close() error {
	debug.Trace("Camera: mock closed")
	return nil
}
