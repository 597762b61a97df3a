package engine

import (
	"log"

	"github.com/expr-lang/expr"

	"enricher/internal/metadata"
)

// applies reports whether rule should enrich node. Rules without a when
// condition apply to every node; a condition that fails to evaluate excludes
// the node.
func applies(rule *metadata.Rule, node map[string]any) bool {
	if rule.Compiled == nil {
		return true
	}
	out, err := expr.Run(rule.Compiled, map[string]any{"record": node})
	if err != nil {
		log.Printf("WARN: rule %s condition evaluation: %v", rule.ID, err)
		return false
	}
	ok, _ := out.(bool)
	return ok
}
