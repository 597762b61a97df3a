package engine

import (
	"encoding/json"
	"strconv"

	"enricher/internal/metadata"
)

// CollectKeys gathers the distinct lookup keys of every node in targets, in
// first-seen order. Nodes without a non-nil using value, and nodes the rule's
// condition excludes, contribute nothing.
func CollectKeys(targets []Target, rule *metadata.Rule) []string {
	seen := make(map[string]bool)
	var keys []string
	for _, t := range targets {
		for _, node := range t.Nodes {
			if !applies(rule, node) {
				continue
			}
			slots, _, ok := keysOf(node, rule.Using())
			if !ok {
				continue
			}
			for _, slot := range slots {
				if slot.ok && !seen[slot.key] {
					seen[slot.key] = true
					keys = append(keys, slot.key)
				}
			}
		}
	}
	return keys
}

// keySlot is one position of a using value. ok is false for elements that
// are not keys; they keep their position but are never looked up.
type keySlot struct {
	key string
	ok  bool
}

// keysOf returns the key slots held by node[using]. A sequence value yields
// one slot per element and many=true; ok is false when the field is absent,
// nil or not a key.
func keysOf(node map[string]any, using string) (slots []keySlot, many bool, ok bool) {
	v, present := node[using]
	if !present || v == nil {
		return nil, false, false
	}

	switch val := v.(type) {
	case []any:
		slots = make([]keySlot, len(val))
		for i, item := range val {
			slots[i].key, slots[i].ok = keyString(item)
		}
		return slots, true, true
	case []string:
		slots = make([]keySlot, len(val))
		for i, k := range val {
			slots[i] = keySlot{key: k, ok: true}
		}
		return slots, true, true
	}

	k, isKey := keyString(v)
	if !isKey {
		return nil, false, false
	}
	return []keySlot{{key: k, ok: true}}, false, true
}

// keyString formats a scalar as a lookup key. Whole numbers have no exponent
// or fraction, so 1 and 1.0 both become "1".
func keyString(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case json.Number:
		return val.String(), true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32), true
	case int:
		return strconv.Itoa(val), true
	case int64:
		return strconv.FormatInt(val, 10), true
	case int32:
		return strconv.FormatInt(int64(val), 10), true
	case uint:
		return strconv.FormatUint(uint64(val), 10), true
	case uint64:
		return strconv.FormatUint(val, 10), true
	case uint32:
		return strconv.FormatUint(uint64(val), 10), true
	case bool:
		return strconv.FormatBool(val), true
	}
	return "", false
}
