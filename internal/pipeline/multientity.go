package pipeline

import (
	"context"
	"fmt"
	"reflect"
	"sort"

	"github.com/nerrad567/gray-logic-iotagent/internal/entity"
)

// MultiEntityStage splits the attributes of the primary entity across the
// secondary entities named by the active declarations' entity_name.
//
// Every attribute declared for a target is delivered to exactly one target
// and removed from the primary entity. When several targets declare the
// same attribute name, the runtime occurrence is chosen by object id tag,
// either on the attribute itself or in one of its Multi bindings. A chosen
// occurrence is consumed and cannot be claimed by another target. A target
// whose tags match no occurrence does not receive the attribute, and a
// target that receives no attribute is not emitted.
//
// Entities after the first are passed through untouched.
type MultiEntityStage struct{}

// Name implements Stage.
func (MultiEntityStage) Name() string { return "multi-entity" }

// target is one secondary entity and what it declares.
type target struct {
	name     string
	typ      string
	declared map[string]map[string]bool // attribute name -> object id tags
}

// occurrence addresses a runtime value: an attribute of the primary entity,
// or one of its Multi bindings (binding >= 0).
type occurrence struct {
	attr    int
	binding int
}

// Apply implements Stage.
func (MultiEntityStage) Apply(_ context.Context, entities []entity.Entity, cfg entity.TypeConfiguration) ([]entity.Entity, entity.TypeConfiguration, error) {
	if len(entities) == 0 {
		return entities, cfg, nil
	}

	defaultType := cfg.Type
	if defaultType == "" {
		defaultType = entities[0].Type
	}

	targets, targetNames := collectTargets(cfg.Active, defaultType)
	if len(targets) == 0 {
		return entities, cfg, nil
	}

	primary := entities[0]
	attrs := dedupe(primary.Attributes)
	values := expressionValues(attrs)

	out := make([]entity.Entity, 0, len(entities)+len(targets))
	out = append(out, entity.Entity{ID: primary.ID, Type: primary.Type})

	for _, attr := range attrs {
		if !targetNames[attr.Name] {
			out[0].Attributes = append(out[0].Attributes, plain(attr))
		}
	}

	for k, picked := range assign(targets, attrs) {
		if len(picked) == 0 {
			continue
		}

		t := targets[k]
		id, err := evaluateName(t.name, values)
		if err != nil {
			return nil, cfg, fmt.Errorf("resolving entity name %q: %w", t.name, err)
		}
		out = append(out, entity.Entity{ID: id, Type: t.typ, Attributes: picked})
	}

	out = append(out, entities[1:]...)
	return out, cfg, nil
}

// selection is an attribute picked for a target, with the index of the
// primary attribute it came from.
type selection struct {
	at   int
	attr entity.Attribute
}

// assign distributes the occurrences in attrs to the targets. Tagged
// declarations claim their occurrences first; untagged declarations then
// take what is left, except occurrences whose object id another
// declaration of the same name is tagged with. Each target's attributes
// keep the primary entity's order.
func assign(targets []*target, attrs []entity.Attribute) [][]entity.Attribute {
	tagged := make(map[string]map[string]bool)
	for _, t := range targets {
		for name, tags := range t.declared {
			for tag := range tags {
				if tagged[name] == nil {
					tagged[name] = make(map[string]bool)
				}
				tagged[name][tag] = true
			}
		}
	}

	consumed := make(map[occurrence]bool)
	chosen := make([][]selection, len(targets))
	taken := make([]map[string]bool, len(targets))
	for k := range targets {
		taken[k] = make(map[string]bool)
	}

	for _, taggedPass := range []bool{true, false} {
		for k, t := range targets {
			for i, attr := range attrs {
				tags, declared := t.declared[attr.Name]
				if !declared || taken[k][attr.Name] || (len(tags) > 0) != taggedPass {
					continue
				}
				if !taggedPass && attr.ObjectID != "" && tagged[attr.Name][attr.ObjectID] {
					continue
				}
				picked, ok := pick(i, attr, tags, consumed)
				if !ok {
					continue
				}
				taken[k][attr.Name] = true
				chosen[k] = append(chosen[k], selection{at: i, attr: picked})
			}
		}
	}

	out := make([][]entity.Attribute, len(targets))
	for k, sel := range chosen {
		sort.SliceStable(sel, func(a, b int) bool { return sel[a].at < sel[b].at })
		for _, s := range sel {
			out[k] = append(out[k], s.attr)
		}
	}
	return out
}

// collectTargets groups target declarations by entity name in declaration
// order. The second result holds every attribute name declared for any target.
func collectTargets(active []entity.Attribute, defaultType string) ([]*target, map[string]bool) {
	var targets []*target
	byName := make(map[string]*target)
	names := make(map[string]bool)

	for _, decl := range active {
		if !decl.HasTarget() {
			continue
		}

		t, ok := byName[decl.EntityName]
		if !ok {
			t = &target{
				name:     decl.EntityName,
				typ:      defaultType,
				declared: make(map[string]map[string]bool),
			}
			byName[decl.EntityName] = t
			targets = append(targets, t)
		}
		if decl.EntityType != "" {
			t.typ = decl.EntityType
		}

		tags := t.declared[decl.Name]
		if tags == nil {
			tags = make(map[string]bool)
			t.declared[decl.Name] = tags
		}
		if decl.ObjectID != "" {
			tags[decl.ObjectID] = true
		}
		names[decl.Name] = true
	}
	return targets, names
}

// pick chooses the occurrence of attr a target receives. Untagged
// declarations take the attribute itself; tagged ones take the first
// unconsumed occurrence carrying one of the tags.
func pick(i int, attr entity.Attribute, tags map[string]bool, consumed map[occurrence]bool) (entity.Attribute, bool) {
	self := occurrence{attr: i, binding: -1}

	if len(tags) == 0 {
		if consumed[self] {
			return entity.Attribute{}, false
		}
		consumed[self] = true
		return plain(attr), true
	}

	if attr.ObjectID != "" && tags[attr.ObjectID] && !consumed[self] {
		consumed[self] = true
		return plain(attr), true
	}

	for j, binding := range attr.Multi {
		occ := occurrence{attr: i, binding: j}
		if binding.ObjectID == "" || !tags[binding.ObjectID] || consumed[occ] {
			continue
		}
		consumed[occ] = true

		picked := plain(binding)
		picked.Name = attr.Name
		if picked.Type == "" {
			picked.Type = attr.Type
		}
		return picked, true
	}
	return entity.Attribute{}, false
}

// plain strips the splitting metadata from an attribute.
func plain(a entity.Attribute) entity.Attribute {
	return entity.Attribute{Name: a.Name, Type: a.Type, Value: a.Value}
}

// dedupe drops attributes structurally identical to an earlier one.
func dedupe(attrs []entity.Attribute) []entity.Attribute {
	out := make([]entity.Attribute, 0, len(attrs))
	for _, a := range attrs {
		duplicate := false
		for _, kept := range out {
			if reflect.DeepEqual(a, kept) {
				duplicate = true
				break
			}
		}
		if !duplicate {
			out = append(out, a)
		}
	}
	return out
}

// expressionValues exposes attribute values to entity name expressions,
// by name and by object id tag.
func expressionValues(attrs []entity.Attribute) map[string]any {
	values := make(map[string]any, len(attrs))
	for _, a := range attrs {
		if _, ok := values[a.Name]; !ok {
			values[a.Name] = a.Value
		}
	}
	for _, a := range attrs {
		if a.ObjectID == "" {
			continue
		}
		if _, ok := values[a.ObjectID]; !ok {
			values[a.ObjectID] = a.Value
		}
	}
	return values
}
