// Package prompts holds the instruction templates sent alongside each
// screenshot. There is exactly one template per task kind.
package prompts

import (
	"fmt"
	"strings"

	"github.com/menta2k/gui-annotator/pkg/types"
)

// GroundingPrompt asks the model to locate a described UI component
const GroundingPrompt = `You are an expert in GUI understanding. ` +
	`The screenshot has been resized to %dx%d pixels; all coordinates refer to that frame. ` +
	`Please identify the coordinates of the UI component mentioned in the question. ` +
	`The question is: "%s". ` +
	`Return only the coordinates in the format [x1,y1,x2,y2] or [x,y], nothing else.`

// ReferringPrompt asks the model to describe the component at given coordinates
const ReferringPrompt = `You are an expert in GUI understanding. ` +
	`The screenshot has been resized to %dx%d pixels; all coordinates refer to that frame. ` +
	`Please describe the function or content of the UI component within the specified coordinates. ` +
	`The question is: "%s". ` +
	`Return only the description in text, nothing else.`

// VQAPrompt asks a free-form question about the screen
const VQAPrompt = `You are an expert in mobile app GUI understanding. ` +
	`The screenshot has been resized to %dx%d pixels; all coordinates refer to that frame. ` +
	`Please answer the question according to the screen information. ` +
	`The question is: "%s". ` +
	`Return the answer in the format "text [x1, y1, x2, y2]" where the coordinates indicate relevant UI components.`

// SimpleTestPrompt checks whether a backend can see images at all
const SimpleTestPrompt = `What do you see in this image? Describe it briefly.`

// Input is everything a template needs
type Input struct {
	Question    string
	FrameWidth  int
	FrameHeight int
}

// Template renders a prompt for one task kind
type Template struct {
	Kind   types.Kind
	format string
}

var templates = map[types.Kind]Template{
	types.Grounding: {Kind: types.Grounding, format: GroundingPrompt},
	types.Referring: {Kind: types.Referring, format: ReferringPrompt},
	types.VQA:       {Kind: types.VQA, format: VQAPrompt},
}

// For returns the template for kind
func For(kind types.Kind) (Template, error) {
	t, ok := templates[kind]
	if !ok {
		return Template{}, fmt.Errorf("no prompt template for %s", kind)
	}
	return t, nil
}

// Render fills the template. Double quotes in the question are softened to
// single quotes so the quoted question cannot be closed early.
func (t Template) Render(in Input) string {
	q := strings.ReplaceAll(strings.TrimSpace(in.Question), `"`, `'`)
	return fmt.Sprintf(t.format, in.FrameWidth, in.FrameHeight, q)
}

// Build is a shortcut for For(kind) followed by Render
func Build(kind types.Kind, in Input) (string, error) {
	t, err := For(kind)
	if err != nil {
		return "", err
	}
	return t.Render(in), nil
}
