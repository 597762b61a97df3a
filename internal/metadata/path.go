package metadata

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidPath = errors.New("invalid path expression")

type PathKind int

const (
	PathRoot    PathKind = iota // the document itself
	PathChild                   // a direct child field of the root
	PathDescent                 // every field with the name, at any depth
)

// Path is a parsed "at" expression. Supported forms:
//
//	""  or "$"        root
//	"name" or "$.name" direct child
//	"$..name"         recursive descent
type Path struct {
	Kind  PathKind
	Field string
}

// ParsePath parses an "at" expression.
func ParsePath(expr string) (Path, error) {
	expr = strings.TrimSpace(expr)
	switch {
	case expr == "" || expr == "$":
		return Path{Kind: PathRoot}, nil
	case strings.HasPrefix(expr, "$.."):
		return fieldPath(PathDescent, expr, strings.TrimPrefix(expr, "$.."))
	case strings.HasPrefix(expr, "$."):
		return fieldPath(PathChild, expr, strings.TrimPrefix(expr, "$."))
	default:
		return fieldPath(PathChild, expr, expr)
	}
}

func fieldPath(kind PathKind, expr, field string) (Path, error) {
	if field == "" || strings.ContainsAny(field, ".[]*$@?() \t") {
		return Path{}, fmt.Errorf("%w: %q", ErrInvalidPath, expr)
	}
	return Path{Kind: kind, Field: field}, nil
}

func (p Path) String() string {
	switch p.Kind {
	case PathChild:
		return "$." + p.Field
	case PathDescent:
		return "$.." + p.Field
	default:
		return "$"
	}
}

// IsRoot reports whether the path addresses the document root.
func (p Path) IsRoot() bool {
	return p.Kind == PathRoot
}
