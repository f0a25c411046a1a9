package entity

// Attribute describes one attribute, either as a declaration in a device or
// type configuration, or as a runtime value arriving in an update.
//
// EntityName and EntityType are only set on declarations that publish the
// attribute under an entity other than the device's primary one. ObjectID is
// the disambiguator tag the device uses on the wire. Multi holds extra
// bindings when one attribute name is fed by several tagged sources.
type Attribute struct {
	Name       string      `json:"name" yaml:"name"`
	Type       string      `json:"type,omitempty" yaml:"type,omitempty"`
	Value      any         `json:"value,omitempty" yaml:"value,omitempty"`
	EntityName string      `json:"entity_name,omitempty" yaml:"entity_name,omitempty"`
	EntityType string      `json:"entity_type,omitempty" yaml:"entity_type,omitempty"`
	ObjectID   string      `json:"object_id,omitempty" yaml:"object_id,omitempty"`
	Multi      []Attribute `json:"multi,omitempty" yaml:"multi,omitempty"`
}

// HasTarget reports whether the attribute is declared for a secondary entity.
func (a Attribute) HasTarget() bool {
	return a.EntityName != ""
}

// Entity is the canonical, protocol-agnostic form of a Broker entity.
// Attributes keep the order they were produced in.
type Entity struct {
	ID         string
	Type       string
	Attributes []Attribute
}

// Attribute returns the first attribute with the given name.
func (e Entity) Attribute(name string) (Attribute, bool) {
	for _, a := range e.Attributes {
		if a.Name == name {
			return a, true
		}
	}
	return Attribute{}, false
}

// Names returns the attribute names in order.
func (e Entity) Names() []string {
	names := make([]string, 0, len(e.Attributes))
	for _, a := range e.Attributes {
		names = append(names, a.Name)
	}
	return names
}

// Clone returns a deep copy of the entity.
func (e Entity) Clone() Entity {
	return Entity{
		ID:         e.ID,
		Type:       e.Type,
		Attributes: CloneAttributes(e.Attributes),
	}
}

// CloneAttributes deep-copies an attribute slice, including Multi bindings.
// A nil slice stays nil.
func CloneAttributes(in []Attribute) []Attribute {
	if in == nil {
		return nil
	}
	out := make([]Attribute, len(in))
	for i, a := range in {
		out[i] = a
		out[i].Multi = CloneAttributes(a.Multi)
	}
	return out
}

// TypeConfiguration is the merged view of device, group and static type
// settings that the pipeline and the protocol client consume.
//
// It is computed per call and never persisted. Stages that need to change it
// work on a Clone.
type TypeConfiguration struct {
	Type               string      `yaml:"type,omitempty"`
	Service            string      `yaml:"service,omitempty"`
	Subservice         string      `yaml:"subservice,omitempty"`
	Trust              string      `yaml:"trust,omitempty"`
	CBHost             string      `yaml:"cbHost,omitempty"`
	Active             []Attribute `yaml:"active,omitempty"`
	Lazy               []Attribute `yaml:"lazy,omitempty"`
	Commands           []Attribute `yaml:"commands,omitempty"`
	StaticAttributes   []Attribute `yaml:"staticAttributes,omitempty"`
	InternalAttributes []Attribute `yaml:"internalAttributes,omitempty"`
}

// Command returns the command declaration with the given name.
func (t TypeConfiguration) Command(name string) (Attribute, bool) {
	for _, c := range t.Commands {
		if c.Name == name {
			return c, true
		}
	}
	return Attribute{}, false
}

// Clone returns a deep copy of the configuration.
func (t TypeConfiguration) Clone() TypeConfiguration {
	out := t
	out.Active = CloneAttributes(t.Active)
	out.Lazy = CloneAttributes(t.Lazy)
	out.Commands = CloneAttributes(t.Commands)
	out.StaticAttributes = CloneAttributes(t.StaticAttributes)
	out.InternalAttributes = CloneAttributes(t.InternalAttributes)
	return out
}
