package entity

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Shape identifies which Broker wire format an entity is encoded in.
type Shape int

const (
	// ShapeLegacy is the NGSI v1 context element: an ordered attribute list.
	ShapeLegacy Shape = iota + 1

	// ShapeCurrent is the NGSI v2 entity: attributes keyed by name.
	ShapeCurrent
)

// String returns the protocol version associated with the shape.
func (s Shape) String() string {
	switch s {
	case ShapeLegacy:
		return "v1"
	case ShapeCurrent:
		return "v2"
	default:
		return "unknown"
	}
}

// ParseShape maps a configured NGSI version string to a Shape.
func ParseShape(version string) (Shape, error) {
	switch version {
	case "v1", "":
		return ShapeLegacy, nil
	case "v2":
		return ShapeCurrent, nil
	default:
		return 0, fmt.Errorf("unknown ngsi version %q", version)
	}
}

// LegacyAttribute is an attribute inside a v1 context element.
type LegacyAttribute struct {
	Name  string `json:"name"`
	Type  string `json:"type,omitempty"`
	Value any    `json:"value"`
}

// LegacyContextElement is a v1 context element.
type LegacyContextElement struct {
	Type       string            `json:"type"`
	IsPattern  string            `json:"isPattern"`
	ID         string            `json:"id"`
	Attributes []LegacyAttribute `json:"attributes,omitempty"`
}

// CurrentAttribute is the value of one key of a v2 entity.
type CurrentAttribute struct {
	Type     string         `json:"type,omitempty"`
	Value    any            `json:"value"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// CurrentEntity is a v2 entity. Attributes are keyed by name and share the
// top-level JSON object with id and type.
type CurrentEntity struct {
	ID         string
	Type       string
	Attributes map[string]CurrentAttribute
}

// MarshalJSON flattens attributes next to id and type.
func (c CurrentEntity) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(c.Attributes)+2)
	for name, attr := range c.Attributes {
		out[name] = attr
	}
	if c.ID != "" {
		out["id"] = c.ID
	}
	if c.Type != "" {
		out["type"] = c.Type
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads a v2 entity in normalized form. Keys whose value is not
// an attribute object are kept as untyped values.
func (c *CurrentEntity) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decoding entity: %w", err)
	}

	c.Attributes = make(map[string]CurrentAttribute, len(raw))
	for key, value := range raw {
		switch key {
		case "id":
			if err := json.Unmarshal(value, &c.ID); err != nil {
				return fmt.Errorf("decoding entity id: %w", err)
			}
		case "type":
			if err := json.Unmarshal(value, &c.Type); err != nil {
				return fmt.Errorf("decoding entity type: %w", err)
			}
		default:
			c.Attributes[key] = decodeCurrentAttribute(value)
		}
	}
	return nil
}

func decodeCurrentAttribute(value json.RawMessage) CurrentAttribute {
	if bytes.HasPrefix(bytes.TrimSpace(value), []byte("{")) {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(value, &fields); err == nil {
			if _, ok := fields["value"]; ok {
				var attr CurrentAttribute
				if err := json.Unmarshal(value, &attr); err == nil {
					return attr
				}
			}
		}
	}

	var v any
	_ = json.Unmarshal(value, &v) //nolint:errcheck // value came from a successful decode
	return CurrentAttribute{Value: v}
}

// ToLegacy encodes a canonical entity as a v1 context element.
func ToLegacy(e Entity) LegacyContextElement {
	ce := LegacyContextElement{
		Type:      e.Type,
		IsPattern: "false",
		ID:        e.ID,
	}
	for _, a := range e.Attributes {
		ce.Attributes = append(ce.Attributes, LegacyAttribute{
			Name:  a.Name,
			Type:  a.Type,
			Value: a.Value,
		})
	}
	return ce
}

// FromLegacy decodes a v1 context element into the canonical form.
func FromLegacy(ce LegacyContextElement) Entity {
	e := Entity{ID: ce.ID, Type: ce.Type}
	for _, a := range ce.Attributes {
		e.Attributes = append(e.Attributes, Attribute{
			Name:  a.Name,
			Type:  a.Type,
			Value: a.Value,
		})
	}
	return e
}

// ToCurrent encodes a canonical entity as a v2 entity. If two attributes
// share a name the last one wins, as it would on the wire.
func ToCurrent(e Entity) CurrentEntity {
	ce := CurrentEntity{
		ID:         e.ID,
		Type:       e.Type,
		Attributes: make(map[string]CurrentAttribute, len(e.Attributes)),
	}
	for _, a := range e.Attributes {
		ce.Attributes[a.Name] = CurrentAttribute{Type: a.Type, Value: a.Value}
	}
	return ce
}

// FromCurrent decodes a v2 entity into the canonical form. Attribute order is
// by name since the wire format carries none.
func FromCurrent(ce CurrentEntity) Entity {
	e := Entity{ID: ce.ID, Type: ce.Type}
	names := make([]string, 0, len(ce.Attributes))
	for name := range ce.Attributes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		attr := ce.Attributes[name]
		e.Attributes = append(e.Attributes, Attribute{
			Name:  name,
			Type:  attr.Type,
			Value: attr.Value,
		})
	}
	return e
}

// Container holds an entity in exactly one wire shape.
type Container struct {
	Shape   Shape
	Legacy  *LegacyContextElement
	Current *CurrentEntity
}

// Encode wraps a canonical entity in the requested wire shape.
func Encode(shape Shape, e Entity) Container {
	switch shape {
	case ShapeCurrent:
		ce := ToCurrent(e)
		return Container{Shape: ShapeCurrent, Current: &ce}
	default:
		ce := ToLegacy(e)
		return Container{Shape: ShapeLegacy, Legacy: &ce}
	}
}

// Decode returns the canonical form of the contained entity.
func (c Container) Decode() Entity {
	switch {
	case c.Shape == ShapeCurrent && c.Current != nil:
		return FromCurrent(*c.Current)
	case c.Shape == ShapeLegacy && c.Legacy != nil:
		return FromLegacy(*c.Legacy)
	default:
		return Entity{}
	}
}

// MarshalJSON encodes whichever shape the container holds.
func (c Container) MarshalJSON() ([]byte, error) {
	switch c.Shape {
	case ShapeCurrent:
		return json.Marshal(c.Current)
	case ShapeLegacy:
		return json.Marshal(c.Legacy)
	default:
		return nil, fmt.Errorf("container has no shape")
	}
}

// DecodeContainer parses raw JSON in the given shape.
func DecodeContainer(shape Shape, data []byte) (Container, error) {
	switch shape {
	case ShapeCurrent:
		var ce CurrentEntity
		if err := json.Unmarshal(data, &ce); err != nil {
			return Container{}, err
		}
		return Container{Shape: ShapeCurrent, Current: &ce}, nil
	case ShapeLegacy:
		var ce LegacyContextElement
		if err := json.Unmarshal(data, &ce); err != nil {
			return Container{}, fmt.Errorf("decoding context element: %w", err)
		}
		return Container{Shape: ShapeLegacy, Legacy: &ce}, nil
	default:
		return Container{}, fmt.Errorf("unknown shape %d", shape)
	}
}
