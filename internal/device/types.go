package device

import (
	"time"

	"github.com/nerrad567/gray-logic-iotagent/internal/entity"
)

// Device is the agent's record of one southbound endpoint.
//
// Name is the identifier of the device's primary entity in the Broker.
// RegistrationID and Subscriptions are assigned by the Broker and written
// back after registration and subscription calls.
type Device struct {
	// Identity
	ID       string `json:"id"`
	Type     string `json:"type"`
	Name     string `json:"name"`
	Resource string `json:"resource,omitempty"`
	APIKey   string `json:"apikey,omitempty"`

	// Tenant
	Service    string `json:"service"`
	Subservice string `json:"subservice"`

	// Attribute declarations
	Active             []entity.Attribute `json:"active,omitempty"`
	Lazy               []entity.Attribute `json:"lazy,omitempty"`
	Commands           []entity.Attribute `json:"commands,omitempty"`
	StaticAttributes   []entity.Attribute `json:"staticAttributes,omitempty"`
	InternalAttributes []entity.Attribute `json:"internalAttributes,omitempty"`

	InternalID string `json:"internalId,omitempty"`
	Timezone   string `json:"timezone,omitempty"`

	// Broker-assigned
	RegistrationID string         `json:"registrationId,omitempty"`
	Subscriptions  []Subscription `json:"subscriptions,omitempty"`

	// Polling devices fetch their commands from the queue instead of
	// receiving them from a live handler.
	Polling bool `json:"polling,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Subscription is a Broker subscription created on behalf of a device.
type Subscription struct {
	ID       string   `json:"id"`
	Triggers []string `json:"triggers"`
}

// DeepCopy creates a complete independent copy of the Device.
// Slices are cloned so the copy can be mutated without touching the original.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}

	cpy := *d
	cpy.Active = entity.CloneAttributes(d.Active)
	cpy.Lazy = entity.CloneAttributes(d.Lazy)
	cpy.Commands = entity.CloneAttributes(d.Commands)
	cpy.StaticAttributes = entity.CloneAttributes(d.StaticAttributes)
	cpy.InternalAttributes = entity.CloneAttributes(d.InternalAttributes)

	if d.Subscriptions != nil {
		cpy.Subscriptions = make([]Subscription, len(d.Subscriptions))
		for i, s := range d.Subscriptions {
			cpy.Subscriptions[i] = Subscription{
				ID:       s.ID,
				Triggers: append([]string(nil), s.Triggers...),
			}
		}
	}

	return &cpy
}

// TypeConfiguration returns the device's own settings as a type configuration.
func (d *Device) TypeConfiguration() entity.TypeConfiguration {
	return entity.TypeConfiguration{
		Type:               d.Type,
		Service:            d.Service,
		Subservice:         d.Subservice,
		Active:             entity.CloneAttributes(d.Active),
		Lazy:               entity.CloneAttributes(d.Lazy),
		Commands:           entity.CloneAttributes(d.Commands),
		StaticAttributes:   entity.CloneAttributes(d.StaticAttributes),
		InternalAttributes: entity.CloneAttributes(d.InternalAttributes),
	}
}

// RemoveSubscription drops the subscription with the given id.
// It reports whether one was removed.
func (d *Device) RemoveSubscription(id string) bool {
	for i, s := range d.Subscriptions {
		if s.ID == id {
			d.Subscriptions = append(d.Subscriptions[:i], d.Subscriptions[i+1:]...)
			return true
		}
	}
	return false
}

// Group is configuration shared by the devices that reach the agent through
// the same (resource, apikey) pair.
type Group struct {
	Resource   string `json:"resource"`
	APIKey     string `json:"apikey"`
	EntityType string `json:"entity_type"`
	Service    string `json:"service"`
	Subservice string `json:"subservice"`
	Trust      string `json:"trust,omitempty"`
	CBHost     string `json:"cbHost,omitempty"`

	Active             []entity.Attribute `json:"attributes,omitempty"`
	Lazy               []entity.Attribute `json:"lazy,omitempty"`
	Commands           []entity.Attribute `json:"commands,omitempty"`
	StaticAttributes   []entity.Attribute `json:"static_attributes,omitempty"`
	InternalAttributes []entity.Attribute `json:"internal_attributes,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// DeepCopy creates an independent copy of the Group.
func (g *Group) DeepCopy() *Group {
	if g == nil {
		return nil
	}
	cpy := *g
	cpy.Active = entity.CloneAttributes(g.Active)
	cpy.Lazy = entity.CloneAttributes(g.Lazy)
	cpy.Commands = entity.CloneAttributes(g.Commands)
	cpy.StaticAttributes = entity.CloneAttributes(g.StaticAttributes)
	cpy.InternalAttributes = entity.CloneAttributes(g.InternalAttributes)
	return &cpy
}

// TypeConfiguration returns the group as a type configuration.
func (g *Group) TypeConfiguration() entity.TypeConfiguration {
	return entity.TypeConfiguration{
		Type:               g.EntityType,
		Service:            g.Service,
		Subservice:         g.Subservice,
		Trust:              g.Trust,
		CBHost:             g.CBHost,
		Active:             entity.CloneAttributes(g.Active),
		Lazy:               entity.CloneAttributes(g.Lazy),
		Commands:           entity.CloneAttributes(g.Commands),
		StaticAttributes:   entity.CloneAttributes(g.StaticAttributes),
		InternalAttributes: entity.CloneAttributes(g.InternalAttributes),
	}
}

// Command is a command waiting in the queue of a polling device.
type Command struct {
	ID         string    `json:"id"`
	DeviceID   string    `json:"deviceId"`
	Service    string    `json:"service"`
	Subservice string    `json:"subservice"`
	Name       string    `json:"name"`
	Type       string    `json:"type"`
	Value      any       `json:"value"`
	CreatedAt  time.Time `json:"creationDate"`
}
