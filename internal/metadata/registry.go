package metadata

import (
	"sort"
	"sync"
)

// RuleSet holds the enrichment rules of one model, grouped by trigger and kept
// in declaration order.
type RuleSet struct {
	mu        sync.RWMutex
	model     string
	byTrigger map[string][]*Rule
	count     int
}

func NewRuleSet(model string) *RuleSet {
	return &RuleSet{
		model:     model,
		byTrigger: make(map[string][]*Rule),
	}
}

// Model returns the name of the model that owns this rule set.
func (s *RuleSet) Model() string {
	return s.model
}

// Register validates def and appends it to the rules of trigger.
// An invalid definition is rejected and leaves the set unchanged.
func (s *RuleSet) Register(trigger string, def RuleDefinition) (*Rule, error) {
	rule, err := NewRule("", s.model, trigger, def)
	if err != nil {
		return nil, err
	}
	s.add(rule)
	return rule, nil
}

func (s *RuleSet) add(rule *Rule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rule.Model = s.model
	rule.Position = len(s.byTrigger[rule.Trigger])
	s.byTrigger[rule.Trigger] = append(s.byTrigger[rule.Trigger], rule)
	s.count++
}

// Rules returns the rules for trigger in declaration order. The returned
// slice is a copy and may be retained by the caller.
func (s *RuleSet) Rules(trigger string) []*Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rules := s.byTrigger[trigger]
	out := make([]*Rule, len(rules))
	copy(out, rules)
	return out
}

// Triggers returns the triggers that have at least one rule, sorted.
func (s *RuleSet) Triggers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	triggers := make([]string, 0, len(s.byTrigger))
	for t := range s.byTrigger {
		triggers = append(triggers, t)
	}
	sort.Strings(triggers)
	return triggers
}

// Len returns the total number of rules across all triggers.
func (s *RuleSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// Registry maps model names to their rule sets.
type Registry struct {
	mu     sync.RWMutex
	models map[string]*RuleSet
}

func NewRegistry() *Registry {
	return &Registry{models: make(map[string]*RuleSet)}
}

// GetModel returns the rule set for the named model, or nil.
func (r *Registry) GetModel(name string) *RuleSet {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.models[name]
}

// Define returns the rule set for the named model, creating it if needed.
func (r *Registry) Define(name string) *RuleSet {
	r.mu.Lock()
	defer r.mu.Unlock()
	if set, ok := r.models[name]; ok {
		return set
	}
	set := NewRuleSet(name)
	r.models[name] = set
	return set
}

// RulesFor returns the rules of model for trigger, or nil if the model is unknown.
func (r *Registry) RulesFor(model, trigger string) []*Rule {
	set := r.GetModel(model)
	if set == nil {
		return nil
	}
	return set.Rules(trigger)
}

// ModelNames returns all registered model names, sorted.
func (r *Registry) ModelNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AllRules returns every registered rule, ordered by model, trigger and position.
func (r *Registry) AllRules() []*Rule {
	var rules []*Rule
	for _, name := range r.ModelNames() {
		set := r.GetModel(name)
		for _, trigger := range set.Triggers() {
			rules = append(rules, set.Rules(trigger)...)
		}
	}
	return rules
}

// Load replaces all rule sets with the given rules. Rules keep the relative
// order in which they appear in the slice.
// Called during startup and after admin mutations.
func (r *Registry) Load(rules []*Rule) {
	models := make(map[string]*RuleSet)
	for _, rule := range rules {
		set, ok := models[rule.Model]
		if !ok {
			set = NewRuleSet(rule.Model)
			models[rule.Model] = set
		}
		set.add(rule)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.models = models
}
