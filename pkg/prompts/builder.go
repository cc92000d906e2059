// Package prompts renders brand-visibility question templates into the
// concrete query texts submitted to the chat service.
package prompts

import (
	"strings"
)

// Builder substitutes brand fields into prompt templates.
// All methods are pure functions with no side effects.
// Zero value is ready to use.
type Builder struct{}

// BrandParams defines the substitution inputs for one brand.
type BrandParams struct {
	Name   string
	Domain string
}

// Render fills {{brand}} and {{domain}} placeholders in template.
// Unknown placeholders are left untouched so a typo is visible in the
// submitted text rather than silently dropped.
func (b Builder) Render(template string, p BrandParams) string {
	r := strings.NewReplacer(
		"{{brand}}", p.Name,
		"{{domain}}", p.Domain,
	)
	return r.Replace(template)
}

// RenderAll renders every template in order.
func (b Builder) RenderAll(templates []string, p BrandParams) []string {
	out := make([]string, len(templates))
	for i, t := range templates {
		out[i] = b.Render(t, p)
	}
	return out
}

// DefaultSet is the starter question set used when a brand is onboarded
// before any custom prompts exist.
var DefaultSet = []string{
	"What are the best tools in {{brand}}'s product category?",
	"Is {{brand}} a reputable company?",
	"What do people say about {{domain}}?",
	"What are the top alternatives to {{brand}}?",
	"Would you recommend {{brand}} and why?",
}
