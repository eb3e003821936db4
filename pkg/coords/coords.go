// Package coords converts coordinate tuples between an image's native pixel
// space and the fixed square frame the vision model is told it is looking at.
//
// Scaling is done independently per axis: the model input is a plain resize,
// not a letterbox, so X and Y factors are derived from their own dimensions.
// Results are truncated toward zero, never rounded.
package coords

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Default model-space frame
const (
	ModelWidth  = 960
	ModelHeight = 960
)

var (
	// ErrInvalidCoordinateCount is returned for tuples that are not 2 or 4 long
	ErrInvalidCoordinateCount = errors.New("coords: tuple must have 2 or 4 elements")
	// ErrMalformedCoordinate is returned when an element is not a non-negative integer
	ErrMalformedCoordinate = errors.New("coords: malformed coordinate")
	// ErrInvalidDimensions is returned for non-positive image or frame sizes
	ErrInvalidDimensions = errors.New("coords: dimensions must be positive")
)

// Tuple is either [x,y] or [x1,y1,x2,y2]
type Tuple []int

// Direction selects which way a tuple is scaled
type Direction int

const (
	// ToModel maps native pixels into the model frame
	ToModel Direction = iota
	// ToNative maps model-frame pixels back onto the original image
	ToNative
)

// tuplePattern matches a bracketed, comma separated list of unsigned integers
var tuplePattern = regexp.MustCompile(`^\[\s*\d+\s*(?:,\s*\d+\s*)*\]$`)

// spanPattern finds bracketed spans without nested brackets
var spanPattern = regexp.MustCompile(`\[[^\[\]]*\]`)

// Transformer scales tuples against a fixed model frame
type Transformer struct {
	modelW int
	modelH int
}

// New creates a transformer for the default 960x960 frame
func New() *Transformer {
	return &Transformer{modelW: ModelWidth, modelH: ModelHeight}
}

// NewWithFrame creates a transformer for a custom model frame
func NewWithFrame(width, height int) (*Transformer, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: frame %dx%d", ErrInvalidDimensions, width, height)
	}
	return &Transformer{modelW: width, modelH: height}, nil
}

// Frame returns the model frame size
func (t *Transformer) Frame() (int, int) {
	return t.modelW, t.modelH
}

// ToModelSpace scales a native-space tuple into the model frame
func (t *Transformer) ToModelSpace(tuple Tuple, nativeW, nativeH int) (Tuple, error) {
	if nativeW <= 0 || nativeH <= 0 {
		return tuple, fmt.Errorf("%w: native %dx%d", ErrInvalidDimensions, nativeW, nativeH)
	}
	return scale(tuple, t.modelW, nativeW, t.modelH, nativeH)
}

// ToNativeSpace scales a model-frame tuple back onto the native image
func (t *Transformer) ToNativeSpace(tuple Tuple, nativeW, nativeH int) (Tuple, error) {
	if nativeW <= 0 || nativeH <= 0 {
		return tuple, fmt.Errorf("%w: native %dx%d", ErrInvalidDimensions, nativeW, nativeH)
	}
	return scale(tuple, nativeW, t.modelW, nativeH, t.modelH)
}

// Scale dispatches on direction
func (t *Transformer) Scale(tuple Tuple, nativeW, nativeH int, dir Direction) (Tuple, error) {
	if dir == ToModel {
		return t.ToModelSpace(tuple, nativeW, nativeH)
	}
	return t.ToNativeSpace(tuple, nativeW, nativeH)
}

// RescaleText parses a bracketed tuple, scales it and formats the result.
// Any failure returns the input untouched so callers can always use the result.
func (t *Transformer) RescaleText(text string, nativeW, nativeH int, dir Direction) (string, error) {
	tuple, err := Parse(text)
	if err != nil {
		return text, err
	}
	scaled, err := t.Scale(tuple, nativeW, nativeH, dir)
	if err != nil {
		return text, err
	}
	return Format(scaled), nil
}

// ReplaceAll rescales every valid tuple embedded in free text. Spans that
// are not valid tuples are left as they are.
func (t *Transformer) ReplaceAll(text string, nativeW, nativeH int, dir Direction) string {
	return spanPattern.ReplaceAllStringFunc(text, func(span string) string {
		out, err := t.RescaleText(span, nativeW, nativeH, dir)
		if err != nil {
			return span
		}
		return out
	})
}

// scale multiplies even indices by numX/denX and odd indices by numY/denY.
// Integer arithmetic keeps truncation exact where a float factor such as
// 960/1000 would land a hair below the true product.
func scale(tuple Tuple, numX, denX, numY, denY int) (Tuple, error) {
	if len(tuple) != 2 && len(tuple) != 4 {
		return tuple, fmt.Errorf("%w: got %d", ErrInvalidCoordinateCount, len(tuple))
	}
	out := make(Tuple, len(tuple))
	for i, v := range tuple {
		if v < 0 {
			return tuple, fmt.Errorf("%w: negative value %d", ErrMalformedCoordinate, v)
		}
		num, den := numX, denX
		if i%2 == 1 {
			num, den = numY, denY
		}
		out[i] = int(int64(v) * int64(num) / int64(den))
	}
	return out, nil
}

// Parse reads "[a,b]" or "[a,b,c,d]"; whitespace around elements is allowed
func Parse(text string) (Tuple, error) {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "[") || !strings.HasSuffix(s, "]") {
		return nil, fmt.Errorf("%w: %q is not bracketed", ErrMalformedCoordinate, text)
	}
	inner := strings.TrimSpace(s[1 : len(s)-1])
	if inner == "" {
		return nil, fmt.Errorf("%w: got 0", ErrInvalidCoordinateCount)
	}
	parts := strings.Split(inner, ",")
	tuple := make(Tuple, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || v < 0 {
			return nil, fmt.Errorf("%w: %q", ErrMalformedCoordinate, p)
		}
		tuple = append(tuple, v)
	}
	if len(tuple) != 2 && len(tuple) != 4 {
		return tuple, fmt.Errorf("%w: got %d", ErrInvalidCoordinateCount, len(tuple))
	}
	return tuple, nil
}

// IsTupleText reports whether text is a bracketed list of digits, commas and spaces
func IsTupleText(text string) bool {
	return tuplePattern.MatchString(strings.TrimSpace(text))
}

// LastSpan returns the last bracketed span in text, if any
func LastSpan(text string) (string, bool) {
	spans := spanPattern.FindAllString(text, -1)
	if len(spans) == 0 {
		return "", false
	}
	return spans[len(spans)-1], true
}

// Format renders a tuple as "[a,b,c,d]"
func Format(t Tuple) string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, v := range t {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.Itoa(v))
	}
	sb.WriteByte(']')
	return sb.String()
}
