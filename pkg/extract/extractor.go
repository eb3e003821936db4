// Package extract recovers answers from semi-structured model replies.
//
// Replies are walked as JSON in document order: the first "content" field at
// any depth is located and, inside it, the first string field named "text"
// (a bare string content counts too). Grounding answers additionally fall
// back to scanning the whole raw reply for the last bracketed tuple.
package extract

import (
	"bytes"
	"errors"
	"strings"

	"github.com/buger/jsonparser"
	"go.uber.org/zap"

	"github.com/menta2k/gui-annotator/pkg/coords"
)

// DimensionProbe reports the native size of an image file
type DimensionProbe interface {
	Dimensions(path string) (int, int, error)
}

// Extractor turns raw replies into answers for each task kind
type Extractor struct {
	probe       DimensionProbe
	transformer *coords.Transformer
	logger      *zap.Logger

	// RescaleVQA maps tuples embedded in VQA answers back to native space
	RescaleVQA bool
}

// New creates an extractor. VQA rescaling is on by default.
func New(probe DimensionProbe, transformer *coords.Transformer, logger *zap.Logger) *Extractor {
	if transformer == nil {
		transformer = coords.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{
		probe:       probe,
		transformer: transformer,
		logger:      logger,
		RescaleVQA:  true,
	}
}

// ExtractGrounding returns a native-space tuple, or "" when the reply holds none
func (e *Extractor) ExtractGrounding(raw, imagePath string) string {
	if text, ok := NestedText(raw); ok {
		candidate := strings.TrimSpace(stripFences(text))
		if coords.IsTupleText(candidate) {
			return e.toNative(candidate, imagePath)
		}
	}

	if span, ok := coords.LastSpan(raw); ok && coords.IsTupleText(span) {
		e.logger.Debug("grounding answer recovered by fallback scan", zap.String("span", span))
		return e.toNative(span, imagePath)
	}

	e.logger.Debug("no coordinates found in grounding reply", zap.String("image", imagePath))
	return ""
}

// ExtractReferring returns the nested reply text, or the raw reply verbatim
func (e *Extractor) ExtractReferring(raw string) string {
	if text, ok := NestedText(raw); ok {
		return strings.TrimSpace(stripFences(text))
	}
	return raw
}

// ExtractVQA returns the nested reply text, or the raw reply verbatim. With
// RescaleVQA set, embedded tuples are mapped back to native space.
func (e *Extractor) ExtractVQA(raw, imagePath string) string {
	answer := raw
	if text, ok := NestedText(raw); ok {
		answer = strings.TrimSpace(stripFences(text))
	}
	if !e.RescaleVQA {
		return answer
	}
	w, h, ok := e.dimensions(imagePath)
	if !ok {
		return answer
	}
	return e.transformer.ReplaceAll(answer, w, h, coords.ToNative)
}

func (e *Extractor) toNative(tuple, imagePath string) string {
	w, h, ok := e.dimensions(imagePath)
	if !ok {
		return tuple
	}
	out, err := e.transformer.RescaleText(tuple, w, h, coords.ToNative)
	if err != nil {
		e.logger.Warn("coordinate rescale failed, keeping model-space value",
			zap.String("tuple", tuple), zap.Error(err))
	}
	return out
}

func (e *Extractor) dimensions(imagePath string) (int, int, bool) {
	if e.probe == nil || imagePath == "" {
		return 0, 0, false
	}
	w, h, err := e.probe.Dimensions(imagePath)
	if err != nil {
		e.logger.Warn("image dimensions unavailable, skipping rescale",
			zap.String("image", imagePath), zap.Error(err))
		return 0, 0, false
	}
	return w, h, true
}

var errFound = errors.New("found")

// NestedText finds the first "content" field in document order and returns
// the first textual value under it
func NestedText(raw string) (string, bool) {
	data := bytes.TrimSpace([]byte(raw))
	t := rootType(data)
	if t == jsonparser.NotExist {
		return "", false
	}

	content, ct, ok := findKey(data, t, "content")
	if !ok {
		return "", false
	}
	if ct == jsonparser.String {
		s, err := jsonparser.ParseString(content)
		return s, err == nil
	}

	text, tt, ok := findKey(content, ct, "text")
	if !ok || tt != jsonparser.String {
		return "", false
	}
	s, err := jsonparser.ParseString(text)
	return s, err == nil
}

func rootType(data []byte) jsonparser.ValueType {
	if len(data) == 0 {
		return jsonparser.NotExist
	}
	switch data[0] {
	case '{':
		return jsonparser.Object
	case '[':
		return jsonparser.Array
	}
	return jsonparser.NotExist
}

// findKey walks objects and arrays depth-first in document order and returns
// the value of the first field named key
func findKey(data []byte, t jsonparser.ValueType, key string) ([]byte, jsonparser.ValueType, bool) {
	var (
		found     []byte
		foundType jsonparser.ValueType
		ok        bool
	)

	switch t {
	case jsonparser.Object:
		jsonparser.ObjectEach(data, func(k, v []byte, vt jsonparser.ValueType, _ int) error {
			if string(k) == key {
				found, foundType, ok = v, vt, true
				return errFound
			}
			if vt == jsonparser.Object || vt == jsonparser.Array {
				if fv, ft, hit := findKey(v, vt, key); hit {
					found, foundType, ok = fv, ft, true
					return errFound
				}
			}
			return nil
		})
	case jsonparser.Array:
		jsonparser.ArrayEach(data, func(v []byte, vt jsonparser.ValueType, _ int, _ error) {
			if ok {
				return
			}
			if vt == jsonparser.Object || vt == jsonparser.Array {
				found, foundType, ok = findKey(v, vt, key)
			}
		})
	}
	return found, foundType, ok
}

// stripFences removes a surrounding markdown code fence
func stripFences(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = strings.TrimSpace(raw)
	return strings.Trim(raw, "`")
}
