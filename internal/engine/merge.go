package engine

import (
	"encoding/json"
	"strings"

	"enricher/internal/metadata"
)

// Merge writes looked-up values into every node of targets, in place.
//
// A simple rule stores the raw value under the (aliased) populate field; a nil
// value still creates the field. A composite rule decodes the raw value as a
// JSON object and stores each populate field from it, nil when missing or when
// the value is nil or not an object. Nodes holding a sequence of keys receive
// a sequence with one value per element, nil where the element is not a key.
// Nodes without a key are left untouched.
func Merge(targets []Target, rule *metadata.Rule, values map[string]*string) {
	for _, t := range targets {
		for _, node := range t.Nodes {
			if !applies(rule, node) {
				continue
			}
			slots, many, ok := keysOf(node, rule.Using())
			if !ok {
				continue
			}
			if many {
				mergeMany(node, rule, slots, values)
			} else {
				mergeOne(node, rule, values[slots[0].key])
			}
		}
	}
}

func mergeOne(node map[string]any, rule *metadata.Rule, raw *string) {
	if !rule.IsComposite() {
		node[rule.Alias(rule.Fields()[0])] = rawValue(raw)
		return
	}
	obj := decodeComposite(raw)
	for _, f := range rule.Fields() {
		node[rule.Alias(f)] = obj[f]
	}
}

// mergeMany writes one output element per slot, so values stay aligned with
// the input sequence. Slots that are not keys get nil.
func mergeMany(node map[string]any, rule *metadata.Rule, slots []keySlot, values map[string]*string) {
	valueOf := func(s keySlot) *string {
		if !s.ok {
			return nil
		}
		return values[s.key]
	}

	if !rule.IsComposite() {
		out := make([]any, len(slots))
		for i, s := range slots {
			out[i] = rawValue(valueOf(s))
		}
		node[rule.Alias(rule.Fields()[0])] = out
		return
	}

	objs := make([]map[string]any, len(slots))
	for i, s := range slots {
		objs[i] = decodeComposite(valueOf(s))
	}
	for _, f := range rule.Fields() {
		out := make([]any, len(objs))
		for i, obj := range objs {
			out[i] = obj[f]
		}
		node[rule.Alias(f)] = out
	}
}

func rawValue(raw *string) any {
	if raw == nil {
		return nil
	}
	return *raw
}

// decodeComposite parses raw as a JSON object. Nil, malformed or non-object
// values decode to an empty object. Integral numbers decode to int64.
func decodeComposite(raw *string) map[string]any {
	if raw == nil {
		return map[string]any{}
	}
	dec := json.NewDecoder(strings.NewReader(*raw))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil || obj == nil {
		return map[string]any{}
	}
	normalizeNumbers(obj)
	return obj
}
