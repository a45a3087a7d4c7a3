package prompttmpl

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRenderSubstitutesBindings(t *testing.T) {
	out := Render("Write in a {{ tone }} voice for {{ brand }}.", map[string]any{
		"tone": "candid", "brand": "Nova",
	})
	assert.Equal(t, "Write in a candid voice for Nova.", out)
}

func TestRenderPlainTextUnchanged(t *testing.T) {
	body := "No placeholders at all."
	assert.Equal(t, body, Render(body, nil))
}

func TestRenderMalformedTemplateFallsBackToRaw(t *testing.T) {
	body := "Broken {{ tag"
	assert.Equal(t, body, Render(body, map[string]any{"tag": "x"}))
}
