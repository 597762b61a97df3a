package metadata

import (
	"errors"
	"testing"
)

func TestParsePath(t *testing.T) {
	tests := []struct {
		expr  string
		kind  PathKind
		field string
		str   string
	}{
		{"", PathRoot, "", "$"},
		{"$", PathRoot, "", "$"},
		{"employees", PathChild, "employees", "$.employees"},
		{"$.employees", PathChild, "employees", "$.employees"},
		{"$..table", PathDescent, "table", "$..table"},
		{"  $..rows ", PathDescent, "rows", "$..rows"},
	}
	for _, tt := range tests {
		p, err := ParsePath(tt.expr)
		if err != nil {
			t.Fatalf("ParsePath(%q): %v", tt.expr, err)
		}
		if p.Kind != tt.kind || p.Field != tt.field {
			t.Errorf("ParsePath(%q) = %+v, want kind=%d field=%s", tt.expr, p, tt.kind, tt.field)
		}
		if p.String() != tt.str {
			t.Errorf("ParsePath(%q).String() = %s, want %s", tt.expr, p.String(), tt.str)
		}
	}
}

func TestParsePath_Invalid(t *testing.T) {
	for _, expr := range []string{"$.", "$..", "$.a.b", "a.b", "$..items[*]", "$.*", "$..a..b"} {
		if _, err := ParsePath(expr); !errors.Is(err, ErrInvalidPath) {
			t.Errorf("ParsePath(%q): expected ErrInvalidPath, got %v", expr, err)
		}
	}
}
