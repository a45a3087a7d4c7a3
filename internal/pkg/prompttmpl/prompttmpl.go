// Package prompttmpl renders stored prompt bodies as Liquid templates.
// Prompt versions live in the store as opaque strings; authors may use
// {{ variable }} placeholders for brand/campaign context, and a version
// with no placeholders renders to itself unchanged.
package prompttmpl

import (
	"github.com/osteele/liquid"

	"github.com/ignite/salesloop/internal/pkg/logger"
)

var engine = liquid.NewEngine()

// Render substitutes bindings into tmpl. A malformed template is a
// prompt-authoring problem, not a pipeline failure: the raw body is
// returned and a warning logged so generation proceeds with the
// un-rendered text.
func Render(tmpl string, bindings map[string]any) string {
	out, err := engine.ParseAndRenderString(tmpl, bindings)
	if err != nil {
		logger.Warn("prompttmpl: render failed, using raw prompt body", "error", err.Error())
		return tmpl
	}
	return out
}
