package pipeline

import (
	"context"

	"github.com/nerrad567/gray-logic-iotagent/internal/entity"
)

// AliasStage renames runtime attributes reported under an object id to the
// name of the declaration carrying that object id.
//
// The renamed attribute takes the declared type and keeps the object id as
// its disambiguator tag. When several runtime attributes end up with the
// same name, the later ones are folded into the first one's Multi bindings.
type AliasStage struct{}

// Name implements Stage.
func (AliasStage) Name() string { return "alias" }

// Apply implements Stage.
func (AliasStage) Apply(_ context.Context, entities []entity.Entity, cfg entity.TypeConfiguration) ([]entity.Entity, entity.TypeConfiguration, error) {
	mappings := objectIDMappings(cfg)
	if len(mappings) == 0 {
		return entities, cfg, nil
	}

	out := make([]entity.Entity, len(entities))
	for i, e := range entities {
		out[i] = aliasEntity(e, mappings)
	}
	return out, cfg, nil
}

// objectIDMappings indexes active, lazy and command declarations by object id.
// The first declaration of an object id wins.
func objectIDMappings(cfg entity.TypeConfiguration) map[string]entity.Attribute {
	mappings := make(map[string]entity.Attribute)
	for _, list := range [][]entity.Attribute{cfg.Active, cfg.Lazy, cfg.Commands} {
		for _, decl := range list {
			if decl.ObjectID == "" || decl.ObjectID == decl.Name {
				continue
			}
			if _, seen := mappings[decl.ObjectID]; !seen {
				mappings[decl.ObjectID] = decl
			}
		}
	}
	return mappings
}

func aliasEntity(e entity.Entity, mappings map[string]entity.Attribute) entity.Entity {
	out := entity.Entity{ID: e.ID, Type: e.Type}
	byName := make(map[string]int)

	for _, attr := range e.Attributes {
		attr.Multi = entity.CloneAttributes(attr.Multi)

		decl, ok := mappings[attr.Name]
		if !ok {
			out.Attributes = append(out.Attributes, attr)
			continue
		}

		attr.ObjectID = attr.Name
		attr.Name = decl.Name
		if decl.Type != "" {
			attr.Type = decl.Type
		}

		if idx, exists := byName[attr.Name]; exists {
			first := &out.Attributes[idx]
			first.Multi = append(first.Multi, attr)
			continue
		}
		byName[attr.Name] = len(out.Attributes)
		out.Attributes = append(out.Attributes, attr)
	}
	return out
}
