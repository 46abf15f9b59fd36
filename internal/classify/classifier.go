// Package classify provides a deterministic keyword classifier over the
// error taxonomy, used when the LLM analyzer is unavailable and to type
// fixes at feedback time.
package classify

import (
	"strings"

	"github.com/athenaclew/athena/internal/knowledge"
)

// keywordRule pairs message substrings with the category they indicate.
// Rules are evaluated in order; the first rule with any matching substring
// wins. More specific categories are listed first to avoid shadowing.
type keywordRule struct {
	keywords []string
	category knowledge.Category
}

// Classifier assigns an error category from message keywords.
type Classifier struct {
	rules []keywordRule
}

// New creates a classifier with the built-in rules.
func New() *Classifier {
	return &Classifier{rules: buildRules()}
}

func buildRules() []keywordRule {
	return []keywordRule{
		{
			keywords: []string{"cannot find module", "module not found", "npm", "package", "importerror", "referenceerror"},
			category: knowledge.CategoryDependency,
		},
		{
			keywords: []string{"timeout", "promise", "async", "await", "network"},
			category: knowledge.CategoryAsync,
		},
		{
			keywords: []string{"typeerror", "cannot read property", "undefined", "null"},
			category: knowledge.CategoryLogic,
		},
		{
			keywords: []string{"syntaxerror", "unexpected token"},
			category: knowledge.CategorySyntax,
		},
	}
}

// Classify returns the category for an error message, honoring an upstream
// analyzer classification when it is valid and not the unknown wildcard.
// With no trusted upstream result and no keyword match it returns unknown.
func (c *Classifier) Classify(message string, upstream knowledge.Category) knowledge.Category {
	if upstream != "" && upstream != knowledge.CategoryUnknown {
		if knowledge.IsValidPrincipleCategory(string(upstream)) {
			return upstream
		}
	}

	if message == "" {
		return knowledge.CategoryUnknown
	}

	msg := strings.ToLower(message)
	for _, rule := range c.rules {
		for _, kw := range rule.keywords {
			if strings.Contains(msg, kw) {
				return rule.category
			}
		}
	}
	return knowledge.CategoryUnknown
}
