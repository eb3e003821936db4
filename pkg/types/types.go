package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Kind identifies which GUI-understanding task a record belongs to
type Kind int

const (
	// Grounding asks for the coordinates of a described UI element
	Grounding Kind = iota
	// Referring asks for a description of the element at given coordinates
	Referring
	// VQA asks a free-form question about the screen
	VQA
)

// Tag returns the dataset "type" value used for the kind
func (k Kind) Tag() string {
	switch k {
	case Grounding:
		return "gui_grounding"
	case Referring:
		return "gui_referring"
	case VQA:
		return "advanced_vqa"
	}
	return "unknown"
}

func (k Kind) String() string {
	switch k {
	case Grounding:
		return "grounding"
	case Referring:
		return "referring"
	case VQA:
		return "vqa"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Kinds lists every supported task kind in processing order
func Kinds() []Kind {
	return []Kind{Grounding, Referring, VQA}
}

// ParseKind accepts either the dataset tag or the short name
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "gui_grounding", "grounding":
		return Grounding, nil
	case "gui_referring", "referring":
		return Referring, nil
	case "advanced_vqa", "gui_vqa", "vqa":
		return VQA, nil
	}
	return 0, fmt.Errorf("unknown task kind %q", s)
}

// MarshalText implements encoding.TextMarshaler so kinds round-trip through config files
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.Tag()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// QuestionID is the stable record key. Datasets carry it either as a
// JSON string or a JSON number; both decode to the textual form.
type QuestionID string

// UnmarshalJSON implements json.Unmarshaler
func (q *QuestionID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*q = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*q = QuestionID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("question_id must be a string or number: %w", err)
	}
	*q = QuestionID(n.String())
	return nil
}

// Record is one line of a task dataset
type Record struct {
	Image      string     `json:"image"`
	Question   string     `json:"question"`
	QuestionID QuestionID `json:"question_id"`
	Type       string     `json:"type"`
	Answer     string     `json:"answer"`

	// Line is the 1-based line number in the source file
	Line int `json:"-"`
}

// Key returns the record's question id as a plain string
func (r Record) Key() string {
	return string(r.QuestionID)
}
