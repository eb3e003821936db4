// Package store reads task datasets stored as newline-delimited JSON and
// writes answers back into them.
//
// Saving patches the source file line by line: only the "answer" value of a
// matched record is replaced, every other byte is copied through, including
// line terminators and a leading byte order mark.
package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/buger/jsonparser"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/menta2k/gui-annotator/internal/utils"
	"github.com/menta2k/gui-annotator/pkg/types"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Store loads and saves task datasets
type Store struct {
	logger *zap.Logger
}

// New creates a store; a nil logger discards output
func New(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{logger: logger.Named("store")}
}

// Load parses every record in path. Blank lines are skipped and malformed
// lines are logged and skipped; only a read failure is an error.
func (s *Store) Load(path string) ([]types.Record, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset %s: %w", path, err)
	}

	data, _, err := transform.Bytes(unicode.BOMOverride(unicode.UTF8.NewDecoder()), raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode dataset %s: %w", path, err)
	}

	var records []types.Record
	for i, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var rec types.Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			s.logger.Warn("skipping malformed line",
				zap.String("path", path),
				zap.Int("line", i+1),
				zap.Error(err))
			continue
		}
		rec.Line = i + 1
		records = append(records, rec)
	}

	s.logger.Debug("dataset loaded", zap.String("path", path), zap.Int("records", len(records)))
	return records, nil
}

// Save re-reads sourcePath and writes it to outputPath with the answers
// spliced into the records whose top-level question_id is a key of answers.
func (s *Store) Save(outputPath, sourcePath string, answers map[string]string) error {
	src, err := os.ReadFile(sourcePath)
	if err != nil {
		return fmt.Errorf("failed to read source %s: %w", sourcePath, err)
	}

	out, patched := Patch(src, answers)
	if err := utils.WriteFileAtomic(outputPath, out, 0644); err != nil {
		return err
	}

	s.logger.Info("dataset saved",
		zap.String("output", outputPath),
		zap.Int("patched", patched),
		zap.Int("answers", len(answers)))
	return nil
}

// Patch applies answers to a dataset held in memory and reports how many
// lines changed.
func Patch(src []byte, answers map[string]string) ([]byte, int) {
	var out bytes.Buffer
	out.Grow(len(src) + len(src)/8)

	if bytes.HasPrefix(src, utf8BOM) {
		out.Write(utf8BOM)
		src = src[len(utf8BOM):]
	}

	patched := 0
	for len(src) > 0 {
		var line, term []byte
		if i := bytes.IndexByte(src, '\n'); i >= 0 {
			line, term, src = src[:i], src[i:i+1], src[i+1:]
			if n := len(line); n > 0 && line[n-1] == '\r' {
				line, term = line[:n-1], []byte("\r\n")
			}
		} else {
			line, src = src, nil
		}

		if updated, ok := patchLine(line, answers); ok {
			out.Write(updated)
			patched++
		} else {
			out.Write(line)
		}
		out.Write(term)
	}
	return out.Bytes(), patched
}

func patchLine(line []byte, answers map[string]string) ([]byte, bool) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 || trimmed[0] != '{' || !json.Valid(trimmed) {
		return nil, false
	}

	id, ok := questionID(line)
	if !ok {
		return nil, false
	}
	answer, ok := answers[id]
	if !ok {
		return nil, false
	}

	value, err := encodeString(answer)
	if err != nil {
		return nil, false
	}

	// Set may write into the backing array of its input
	buf := make([]byte, len(line))
	copy(buf, line)
	updated, err := jsonparser.Set(buf, value, "answer")
	if err != nil {
		return nil, false
	}
	return updated, true
}

// questionID reads the top-level question_id as text, string or number
func questionID(line []byte) (string, bool) {
	value, typ, _, err := jsonparser.Get(line, "question_id")
	if err != nil {
		return "", false
	}
	switch typ {
	case jsonparser.String:
		s, err := jsonparser.ParseString(value)
		if err != nil {
			return "", false
		}
		return s, true
	case jsonparser.Number:
		return string(value), true
	}
	return "", false
}

// encodeString renders s as a JSON string without HTML escaping
func encodeString(s string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

type freshRecord struct {
	Image      string `json:"image"`
	QuestionID string `json:"question_id"`
	Type       string `json:"type"`
	Question   string `json:"question"`
	Answer     string `json:"answer"`
}

// SaveRecords writes records as fresh objects restricted to the dataset
// fields. It is used when there is no source file to patch.
func (s *Store) SaveRecords(outputPath string, records []types.Record) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for _, r := range records {
		if err := enc.Encode(freshRecord{
			Image:      r.Image,
			QuestionID: r.Key(),
			Type:       r.Type,
			Question:   r.Question,
			Answer:     r.Answer,
		}); err != nil {
			return fmt.Errorf("failed to encode record %s: %w", r.Key(), err)
		}
	}

	if err := utils.WriteFileAtomic(outputPath, buf.Bytes(), 0644); err != nil {
		return err
	}
	s.logger.Info("dataset written from records", zap.String("output", outputPath), zap.Int("records", len(records)))
	return nil
}

// IsNotExist reports whether err came from a missing dataset file
func IsNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}
