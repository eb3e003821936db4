package processing

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"math"
	"os"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"github.com/menta2k/gui-annotator/pkg/coords"
)

// ErrDimensionsNotFound is returned by the probe when an image's size cannot be read
var ErrDimensionsNotFound = errors.New("processing: image dimensions not found")

// Options controls how images are prepared for the model
type Options struct {
	ModelWidth  int
	ModelHeight int
	JPEGQuality int
}

// DefaultOptions matches the 960x960 frame the prompts describe
func DefaultOptions() Options {
	return Options{
		ModelWidth:  coords.ModelWidth,
		ModelHeight: coords.ModelHeight,
		JPEGQuality: 90,
	}
}

// Processor handles image loading, probing and encoding
type Processor struct {
	opts Options
}

// NewProcessor creates a new image processor with default options
func NewProcessor() *Processor {
	return &Processor{opts: DefaultOptions()}
}

// NewProcessorWithOptions creates a processor with custom options
func NewProcessorWithOptions(opts Options) *Processor {
	def := DefaultOptions()
	if opts.ModelWidth <= 0 {
		opts.ModelWidth = def.ModelWidth
	}
	if opts.ModelHeight <= 0 {
		opts.ModelHeight = def.ModelHeight
	}
	if opts.JPEGQuality < 1 || opts.JPEGQuality > 100 {
		opts.JPEGQuality = def.JPEGQuality
	}
	return &Processor{opts: opts}
}

// Options returns the processor's effective options
func (p *Processor) Options() Options {
	return p.opts
}

// LoadImage loads an image from a file path with WebP support
func (p *Processor) LoadImage(path string) (image.Image, error) {
	// Try imaging.Open (registered decoders)
	if img, err := imaging.Open(path); err == nil {
		return img, nil
	}

	// Fallback: explicit WebP decode
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if strings.Contains(strings.ToLower(path), ".webp") {
		if img, err := webp.Decode(f); err == nil {
			return img, nil
		}
	}
	if _, err := f.Seek(0, 0); err == nil {
		if img, _, err := image.Decode(f); err == nil {
			return img, nil
		}
	}
	return nil, fmt.Errorf("image: unknown format for %s", path)
}

// Dimensions returns the native pixel size of the image at path. Only the
// header is read when a registered decoder understands the format.
func (p *Processor) Dimensions(path string) (int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrDimensionsNotFound, err)
	}
	cfg, _, err := image.DecodeConfig(f)
	f.Close()
	if err == nil && cfg.Width > 0 && cfg.Height > 0 {
		return cfg.Width, cfg.Height, nil
	}

	img, err := p.LoadImage(path)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrDimensionsNotFound, err)
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return 0, 0, fmt.Errorf("%w: empty image %s", ErrDimensionsNotFound, path)
	}
	return b.Dx(), b.Dy(), nil
}

// PrepareImageForModel loads the image at path, stretches it to exactly the
// model frame and returns base64-encoded JPEG. A load or encode failure is
// returned as an error and no payload is produced.
func (p *Processor) PrepareImageForModel(path string) (string, error) {
	img, err := p.LoadImage(path)
	if err != nil {
		return "", fmt.Errorf("failed to load %s: %w", path, err)
	}
	return p.EncodeForModel(img)
}

// EncodeForModel resizes an in-memory image to the model frame and encodes it
func (p *Processor) EncodeForModel(img image.Image) (string, error) {
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return "", fmt.Errorf("cannot resize empty image")
	}

	resized := imaging.Resize(img, p.opts.ModelWidth, p.opts.ModelHeight, imaging.Lanczos)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: p.opts.JPEGQuality}); err != nil {
		return "", fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// SaveImage saves an image to a file with the specified format and quality
func (p *Processor) SaveImage(img image.Image, path, format string, quality int) error {
	switch strings.ToLower(format) {
	case "webp":
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		return webp.Encode(f, img, &webp.Options{Quality: float32(quality)})
	case "png":
		return imaging.Save(img, path)
	default: // jpg/jpeg
		return imaging.Save(img, path, imaging.JPEGQuality(quality))
	}
}

// CreateDebugOverlay draws native-space tuples onto a copy of the image.
// Boxes get an outline, points get a crosshair.
func (p *Processor) CreateDebugOverlay(img image.Image, tuples []coords.Tuple) image.Image {
	nrgba := imaging.Clone(img)
	w := nrgba.Bounds().Dx()
	h := nrgba.Bounds().Dy()

	green := color.NRGBA{0, 255, 0, 255} // boxes
	red := color.NRGBA{255, 0, 0, 255}   // points
	stroke := int(math.Max(2, 0.004*float64(minInt(w, h))))
	cross := int(math.Max(4, 0.01*float64(minInt(w, h))))

	for _, t := range tuples {
		switch len(t) {
		case 4:
			drawBox(nrgba, t[0], t[1], t[2], t[3], green, stroke)
		case 2:
			drawHLine(nrgba, t[1], t[0]-cross, t[0]+cross, red)
			drawVLine(nrgba, t[0], t[1]-cross, t[1]+cross, red)
		}
	}
	return nrgba
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func drawBox(img *image.NRGBA, x0, y0, x1, y1 int, c color.NRGBA, stroke int) {
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	if y0 > y1 {
		y0, y1 = y1, y0
	}
	if x1 <= x0 {
		x1 = x0 + 1
	}
	if y1 <= y0 {
		y1 = y0 + 1
	}
	for s := 0; s < stroke; s++ {
		drawHLine(img, y0+s, x0, x1, c)
		drawHLine(img, y1-1-s, x0, x1, c)
		drawVLine(img, x0+s, y0, y1, c)
		drawVLine(img, x1-1-s, y0, y1, c)
	}
}

func drawHLine(img *image.NRGBA, y, x0, x1 int, c color.NRGBA) {
	if y < 0 || y >= img.Bounds().Dy() {
		return
	}
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	if x1 <= 0 || x0 >= img.Bounds().Dx() {
		return
	}
	if x0 < 0 {
		x0 = 0
	}
	if x1 > img.Bounds().Dx() {
		x1 = img.Bounds().Dx()
	}
	i := y*img.Stride + x0*4
	for x := x0; x < x1; x++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += 4
	}
}

func drawVLine(img *image.NRGBA, x, y0, y1 int, c color.NRGBA) {
	if x < 0 || x >= img.Bounds().Dx() {
		return
	}
	if y0 > y1 {
		y0, y1 = y1, y0
	}
	if y1 <= 0 || y0 >= img.Bounds().Dy() {
		return
	}
	if y0 < 0 {
		y0 = 0
	}
	if y1 > img.Bounds().Dy() {
		y1 = img.Bounds().Dy()
	}
	i := y0*img.Stride + x*4
	for y := y0; y < y1; y++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += img.Stride
	}
}
