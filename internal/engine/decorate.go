package engine

import (
	"context"
	"fmt"

	"enricher/internal/instrument"
	"enricher/internal/metadata"
)

// Decorator enriches documents with values fetched through a Gateway. It
// holds no state between calls and is safe for concurrent use as long as
// documents are not shared between calls.
type Decorator struct {
	gateway Gateway
}

func NewDecorator(gw Gateway) *Decorator {
	return &Decorator{gateway: gw}
}

// Decorate applies rules to doc in order, mutating it in place, and returns
// doc. Each rule sees the document as left by the rules before it. A gateway
// error aborts decoration and is returned as is.
func (d *Decorator) Decorate(ctx context.Context, doc any, rules []*metadata.Rule) (any, error) {
	for _, rule := range rules {
		if err := d.apply(ctx, doc, rule); err != nil {
			return doc, err
		}
	}
	return doc, nil
}

// apply runs one rule: resolve targets, collect keys, fetch once, merge.
func (d *Decorator) apply(ctx context.Context, doc any, rule *metadata.Rule) error {
	ctx, span := instrument.GetInstrumenter(ctx).StartSpan(ctx, "engine", "decorate", "decorate.rule")
	defer span.End()
	entity := rule.Entity()
	span.SetEntity(entity, "")
	span.SetMetadata("rule_id", rule.ID)

	targets, err := Resolve(doc, rule.Path)
	if err != nil {
		span.SetStatus("error")
		return fmt.Errorf("rule %s at %s: %w", rule.ID, rule.Path, err)
	}
	if len(targets) == 0 {
		span.SetStatus("skipped")
		return nil
	}

	keys := CollectKeys(targets, rule)
	if len(keys) == 0 {
		span.SetStatus("skipped")
		return nil
	}
	span.SetMetadata("keys", len(keys))

	single := len(targets) == 1 && !targets[0].Many
	values, err := fetch(ctx, d.gateway, entity, keys, single)
	if err != nil {
		span.SetStatus("error")
		span.SetMetadata("error", err.Error())
		return err
	}

	Merge(targets, rule, values)
	span.SetStatus("ok")
	return nil
}
