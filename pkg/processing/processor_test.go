package processing

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/menta2k/gui-annotator/pkg/coords"
)

// createTestImage creates a simple gradient test image
func createTestImage(width, height int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r := uint8((x * 255) / width)
			g := uint8((y * 255) / height)
			img.Set(x, y, color.RGBA{r, g, 128, 255})
		}
	}
	return img
}

func writePNG(t *testing.T, dir, name string, img image.Image) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode %s: %v", path, err)
	}
	return path
}

func TestDefaultOptions(t *testing.T) {
	p := NewProcessor()
	opts := p.Options()
	if opts.ModelWidth != 960 || opts.ModelHeight != 960 {
		t.Errorf("Expected 960x960 frame, got %dx%d", opts.ModelWidth, opts.ModelHeight)
	}
	if opts.JPEGQuality != 90 {
		t.Errorf("Expected JPEG quality 90, got %d", opts.JPEGQuality)
	}
}

func TestNewProcessorWithOptionsFillsDefaults(t *testing.T) {
	p := NewProcessorWithOptions(Options{ModelWidth: 512, JPEGQuality: 500})
	opts := p.Options()
	if opts.ModelWidth != 512 {
		t.Errorf("Expected width 512, got %d", opts.ModelWidth)
	}
	if opts.ModelHeight != 960 {
		t.Errorf("Expected default height 960, got %d", opts.ModelHeight)
	}
	if opts.JPEGQuality != 90 {
		t.Errorf("Expected quality reset to 90, got %d", opts.JPEGQuality)
	}
}

func TestDimensions(t *testing.T) {
	dir := t.TempDir()
	path := writePNG(t, dir, "screen.png", createTestImage(108, 240))

	w, h, err := NewProcessor().Dimensions(path)
	if err != nil {
		t.Fatalf("Dimensions failed: %v", err)
	}
	if w != 108 || h != 240 {
		t.Errorf("Expected 108x240, got %dx%d", w, h)
	}
}

func TestDimensionsNotFound(t *testing.T) {
	dir := t.TempDir()
	p := NewProcessor()

	if _, _, err := p.Dimensions(filepath.Join(dir, "missing.png")); err == nil {
		t.Error("Expected error for missing file")
	}

	garbage := filepath.Join(dir, "garbage.png")
	if err := os.WriteFile(garbage, []byte("not an image"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, _, err := p.Dimensions(garbage)
	if err == nil {
		t.Fatal("Expected error for undecodable file")
	}
}

func TestPrepareImageForModelStretchesToFrame(t *testing.T) {
	dir := t.TempDir()
	path := writePNG(t, dir, "wide.png", createTestImage(300, 100))

	b64, err := NewProcessor().PrepareImageForModel(path)
	if err != nil {
		t.Fatalf("PrepareImageForModel failed: %v", err)
	}

	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		t.Fatalf("output is not base64: %v", err)
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("output is not jpeg: %v", err)
	}
	if cfg.Width != 960 || cfg.Height != 960 {
		t.Errorf("Expected 960x960, got %dx%d", cfg.Width, cfg.Height)
	}
}

func TestPrepareImageForModelRejectsUndecodable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.jpg")
	if err := os.WriteFile(path, []byte{0xff, 0xd8, 0x00}, 0o644); err != nil {
		t.Fatal(err)
	}
	b64, err := NewProcessor().PrepareImageForModel(path)
	if err == nil {
		t.Fatal("Expected error for undecodable image")
	}
	if b64 != "" {
		t.Error("No payload should be produced for an undecodable image")
	}
}

func TestCreateDebugOverlay(t *testing.T) {
	p := NewProcessor()
	img := image.NewRGBA(image.Rect(0, 0, 100, 100))

	out := p.CreateDebugOverlay(img, []coords.Tuple{{10, 10, 50, 50}, {80, 80}})
	nrgba, ok := out.(*image.NRGBA)
	if !ok {
		t.Fatalf("Expected *image.NRGBA, got %T", out)
	}

	if c := nrgba.NRGBAAt(10, 30); c.G != 255 || c.R != 0 {
		t.Errorf("Expected green box edge at (10,30), got %v", c)
	}
	if c := nrgba.NRGBAAt(80, 80); c.R != 255 {
		t.Errorf("Expected red crosshair at (80,80), got %v", c)
	}
	if c := nrgba.NRGBAAt(30, 30); c.A != 0 {
		t.Errorf("Box interior should stay untouched, got %v", c)
	}
}

func TestSaveImage(t *testing.T) {
	dir := t.TempDir()
	p := NewProcessor()
	img := createTestImage(20, 10)

	for _, format := range []string{"png", "jpg"} {
		path := filepath.Join(dir, "out."+format)
		if err := p.SaveImage(img, path, format, 85); err != nil {
			t.Fatalf("SaveImage %s failed: %v", format, err)
		}
		w, h, err := p.Dimensions(path)
		if err != nil {
			t.Fatalf("Dimensions %s failed: %v", format, err)
		}
		if w != 20 || h != 10 {
			t.Errorf("%s: expected 20x10, got %dx%d", format, w, h)
		}
	}
}

func BenchmarkEncodeForModel(b *testing.B) {
	p := NewProcessor()
	img := createTestImage(1080, 2400)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		p.EncodeForModel(img)
	}
}
