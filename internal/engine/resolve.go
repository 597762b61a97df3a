package engine

import (
	"errors"
	"sort"

	"enricher/internal/metadata"
)

var ErrNestedSequence = errors.New("nested sequences are not supported at a lookup target")

// Target is a sub-tree addressed by a rule path: a single map, or the maps of
// a sequence. Nodes are the live maps of the document.
type Target struct {
	Nodes []map[string]any
	Many  bool
}

// Resolve returns the targets path addresses in doc. Addressing through nil,
// empty or scalar values yields no targets. The document is not modified.
func Resolve(doc any, path metadata.Path) ([]Target, error) {
	var targets []Target
	add := func(v any) error {
		t, ok, err := toTarget(v)
		if err != nil {
			return err
		}
		if ok {
			targets = append(targets, t)
		}
		return nil
	}

	switch path.Kind {
	case metadata.PathRoot:
		if err := add(doc); err != nil {
			return nil, err
		}

	case metadata.PathChild:
		owners, err := childOwners(doc)
		if err != nil {
			return nil, err
		}
		for _, node := range owners {
			if v, ok := node[path.Field]; ok {
				if err := add(v); err != nil {
					return nil, err
				}
			}
		}

	case metadata.PathDescent:
		var err error
		walk(doc, func(node map[string]any) bool {
			if v, ok := node[path.Field]; ok {
				if err = add(v); err != nil {
					return false
				}
			}
			return true
		})
		if err != nil {
			return nil, err
		}
	}

	return targets, nil
}

// childOwners returns the maps whose direct children a child path addresses:
// the root itself, or each element of a root sequence.
func childOwners(doc any) ([]map[string]any, error) {
	switch v := doc.(type) {
	case map[string]any:
		return []map[string]any{v}, nil
	case []map[string]any:
		return v, nil
	case []any:
		var out []map[string]any
		for _, item := range v {
			switch elem := item.(type) {
			case map[string]any:
				out = append(out, elem)
			case []any, []map[string]any:
				return nil, ErrNestedSequence
			}
		}
		return out, nil
	}
	return nil, nil
}

// walk visits every map in v depth-first, parents before children. Map
// fields are visited in key order so key batches are reproducible.
func walk(v any, visit func(map[string]any) bool) bool {
	switch val := v.(type) {
	case map[string]any:
		if !visit(val) {
			return false
		}
		names := make([]string, 0, len(val))
		for name := range val {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if !walk(val[name], visit) {
				return false
			}
		}
	case []map[string]any:
		for _, child := range val {
			if !walk(child, visit) {
				return false
			}
		}
	case []any:
		for _, child := range val {
			if !walk(child, visit) {
				return false
			}
		}
	}
	return true
}

func toTarget(v any) (Target, bool, error) {
	switch val := v.(type) {
	case map[string]any:
		if len(val) == 0 {
			return Target{}, false, nil
		}
		return Target{Nodes: []map[string]any{val}}, true, nil

	case []map[string]any:
		var nodes []map[string]any
		for _, m := range val {
			if m != nil {
				nodes = append(nodes, m)
			}
		}
		if len(nodes) == 0 {
			return Target{}, false, nil
		}
		return Target{Nodes: nodes, Many: true}, true, nil

	case []any:
		var nodes []map[string]any
		for _, item := range val {
			switch elem := item.(type) {
			case map[string]any:
				nodes = append(nodes, elem)
			case []any, []map[string]any:
				return Target{}, false, ErrNestedSequence
			}
		}
		if len(nodes) == 0 {
			return Target{}, false, nil
		}
		return Target{Nodes: nodes, Many: true}, true, nil
	}
	return Target{}, false, nil
}
