package prompts

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/gui-annotator/pkg/types"
)

func TestEveryKindHasTemplate(t *testing.T) {
	for _, k := range types.Kinds() {
		tpl, err := For(k)
		require.NoError(t, err, k.String())
		assert.Equal(t, k, tpl.Kind)
	}

	_, err := For(types.Kind(42))
	assert.Error(t, err)
}

func TestRenderGrounding(t *testing.T) {
	p, err := Build(types.Grounding, Input{Question: " the search icon ", FrameWidth: 960, FrameHeight: 960})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(p, "You are an expert in GUI understanding. "))
	assert.Contains(t, p, "960x960")
	assert.Contains(t, p, `The question is: "the search icon". `)
	assert.True(t, strings.HasSuffix(p, "[x1,y1,x2,y2] or [x,y], nothing else."))
}

func TestRenderQuotesInQuestion(t *testing.T) {
	p, err := Build(types.Referring, Input{Question: `what is "[10,20,30,40]"?`, FrameWidth: 960, FrameHeight: 960})
	require.NoError(t, err)
	assert.Contains(t, p, `The question is: "what is '[10,20,30,40]'?". `)
}

func TestRenderVQA(t *testing.T) {
	p, err := Build(types.VQA, Input{Question: "How do I enable Wi-Fi?\nQuickly.", FrameWidth: 720, FrameHeight: 1280})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(p, "You are an expert in mobile app GUI understanding. "))
	assert.Contains(t, p, "720x1280")
	assert.Contains(t, p, "How do I enable Wi-Fi?\nQuickly.")
}
