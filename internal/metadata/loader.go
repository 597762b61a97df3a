package metadata

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// RulesFile is the on-disk layout of statically declared rules:
//
//	models:
//	  employee:
//	    as_json:
//	      - using: employee_id
//	        populate: name
type RulesFile struct {
	Models map[string]map[string][]RuleDefinition `yaml:"models"`
}

// Querier is the subset of *sql.DB / *sql.Tx the loader needs.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// ParseRulesYAML decodes and validates a rules file. Rules of one
// model/trigger keep their order in the file.
func ParseRulesYAML(data []byte) ([]*Rule, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var file RulesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode rules: %w", err)
	}

	models := make([]string, 0, len(file.Models))
	for name := range file.Models {
		models = append(models, name)
	}
	sort.Strings(models)

	var rules []*Rule
	for _, model := range models {
		triggers := file.Models[model]
		names := make([]string, 0, len(triggers))
		for t := range triggers {
			names = append(names, t)
		}
		sort.Strings(names)
		for _, trigger := range names {
			for i, def := range triggers[trigger] {
				rule, err := NewRule("", model, trigger, def)
				if err != nil {
					return nil, fmt.Errorf("%s.%s[%d]: %w", model, trigger, i, err)
				}
				rules = append(rules, rule)
			}
		}
	}
	return rules, nil
}

// LoadFile reads and validates the rules file at path.
func LoadFile(path string) ([]*Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	rules, err := ParseRulesYAML(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rules, nil
}

// LoadAll reads rules from the rules file and the _lookup_rules table and
// replaces the registry contents. File rules come before stored rules of the
// same model and trigger. A missing rules file is not an error.
func LoadAll(ctx context.Context, q Querier, reg *Registry, rulesPath string) error {
	var rules []*Rule

	if rulesPath != "" {
		fileRules, err := LoadFile(rulesPath)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			log.Printf("WARN: rules file %s not found, skipping", rulesPath)
		case err != nil:
			return fmt.Errorf("load rules file: %w", err)
		default:
			rules = append(rules, fileRules...)
		}
	}

	if q != nil {
		stored, err := loadStoredRules(ctx, q)
		if err != nil {
			return fmt.Errorf("load stored rules: %w", err)
		}
		rules = append(rules, stored...)
	}

	reg.Load(rules)
	log.Printf("Loaded %d lookup rules for %d models into registry", len(rules), len(reg.ModelNames()))
	return nil
}

// Reload is an alias for LoadAll, called after admin mutations.
func Reload(ctx context.Context, q Querier, reg *Registry, rulesPath string) error {
	return LoadAll(ctx, q, reg, rulesPath)
}

func loadStoredRules(ctx context.Context, q Querier) ([]*Rule, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT id, model, trigger_name, definition FROM _lookup_rules WHERE active ORDER BY model, trigger_name, position, created_at")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*Rule
	for rows.Next() {
		var id, model, trigger, defJSON string
		if err := rows.Scan(&id, &model, &trigger, &defJSON); err != nil {
			return nil, fmt.Errorf("scan rule row: %w", err)
		}

		var def RuleDefinition
		if err := json.Unmarshal([]byte(defJSON), &def); err != nil {
			log.Printf("WARN: skipping rule %s (invalid JSON): %v", id, err)
			continue
		}
		rule, err := NewRule(id, model, trigger, def)
		if err != nil {
			log.Printf("WARN: skipping rule %s: %v", id, err)
			continue
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}
