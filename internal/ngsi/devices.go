package ngsi

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/gray-logic-iotagent/internal/device"
	"github.com/nerrad567/gray-logic-iotagent/internal/entity"
	"github.com/nerrad567/gray-logic-iotagent/internal/fault"
)

// Register provisions a device: it announces the device's lazy attributes
// and commands to the Broker, creates its initial entity and stores it.
//
// Missing type, name, tenant and attribute lists are filled from the engine
// configuration before anything is sent. The stored copy carries the
// registration id the Broker assigned.
//
// Parameters:
//   - ctx: cancels the Broker calls
//   - d: the device to provision; only ID is mandatory
//
// Returns:
//   - *device.Device: the stored device
//   - error: fault.MissingAttributes, device.ErrDeviceExists or a Broker error
func (s *Service) Register(ctx context.Context, d *device.Device) (*device.Device, error) {
	if s.devices == nil {
		return nil, fault.RegistryNotAvailable()
	}
	if d == nil || d.ID == "" {
		return nil, fault.MissingAttributes("device id is mandatory")
	}

	if _, err := s.devices.Get(ctx, d.ID); err == nil {
		return nil, fmt.Errorf("registering %s: %w", d.ID, device.ErrDeviceExists)
	} else if !errors.Is(err, device.ErrDeviceNotFound) {
		return nil, fmt.Errorf("registering %s: %w", d.ID, err)
	}

	dev := s.withDefaults(d)
	tc := s.deviceConfiguration(ctx, dev)

	err := s.gate.Do(ctx, tc, func(token string) error {
		sc := s.scopeFor(tc, token)
		regID, err := s.client.Register(ctx, sc, registrationFor(dev), false)
		if err != nil {
			return err
		}
		dev.RegistrationID = regID
		return s.client.CreateEntity(ctx, sc, initialEntity(dev, tc))
	})
	if err != nil {
		s.log.Error("device registration failed", "device", dev.ID, "error", err)
		return nil, err
	}

	if err := s.devices.Store(ctx, dev); err != nil {
		return nil, fmt.Errorf("storing device %s: %w", dev.ID, err)
	}

	s.log.Info("device registered", "device", dev.ID, "entity", dev.Name, "type", dev.Type)
	return dev.DeepCopy(), nil
}

// withDefaults returns a copy of d with empty settings taken from the
// engine configuration and the static configuration of its type.
func (s *Service) withDefaults(d *device.Device) *device.Device {
	dev := d.DeepCopy()
	if dev.Type == "" {
		dev.Type = s.cfg.DefaultType
	}
	if dev.Name == "" {
		dev.Name = dev.ID + ":" + dev.Type
	}

	static, ok := s.cfg.Types[dev.Type]
	if dev.Service == "" {
		dev.Service = firstNonEmpty(static.Service, s.cfg.Service)
	}
	if dev.Subservice == "" {
		dev.Subservice = firstNonEmpty(static.Subservice, s.cfg.Subservice)
	}
	if !ok {
		return dev
	}
	if len(dev.Active) == 0 {
		dev.Active = entity.CloneAttributes(static.Active)
	}
	if len(dev.Lazy) == 0 {
		dev.Lazy = entity.CloneAttributes(static.Lazy)
	}
	if len(dev.Commands) == 0 {
		dev.Commands = entity.CloneAttributes(static.Commands)
	}
	if len(dev.StaticAttributes) == 0 {
		dev.StaticAttributes = entity.CloneAttributes(static.StaticAttributes)
	}
	if len(dev.InternalAttributes) == 0 {
		dev.InternalAttributes = entity.CloneAttributes(static.InternalAttributes)
	}
	return dev
}

func registrationFor(d *device.Device) registration {
	return registration{
		id:             d.ID,
		entityType:     d.Type,
		name:           d.Name,
		registrationID: d.RegistrationID,
		lazy:           d.Lazy,
		commands:       d.Commands,
	}
}

// initialEntity is the primary entity with its active attributes empty and
// its static attributes set. Attributes published under other entities are
// left out.
func initialEntity(d *device.Device, tc entity.TypeConfiguration) entity.Entity {
	e := entity.Entity{ID: d.Name, Type: d.Type}
	for _, a := range tc.Active {
		if a.HasTarget() {
			continue
		}
		e.Attributes = append(e.Attributes, entity.Attribute{Name: a.Name, Type: a.Type, Value: ""})
	}
	e.Attributes = append(e.Attributes, entity.CloneAttributes(tc.StaticAttributes)...)
	return e
}

// UpdateRegister merges changed settings into a provisioned device,
// renews its registration and stores the result.
//
// Attribute lists are merged by name: declarations in d replace stored
// ones with the same name and new names are appended.
func (s *Service) UpdateRegister(ctx context.Context, d *device.Device) (*device.Device, error) {
	if s.devices == nil {
		return nil, fault.RegistryNotAvailable()
	}
	if d == nil || d.ID == "" || d.Type == "" {
		return nil, fault.MissingAttributes("device id and type are mandatory")
	}

	old, err := s.GetDevice(ctx, d.ID)
	if err != nil {
		return nil, err
	}

	merged := mergeDevice(old, d)
	tc := s.deviceConfiguration(ctx, merged)

	err = s.gate.Do(ctx, tc, func(token string) error {
		regID, err := s.client.Register(ctx, s.scopeFor(tc, token), registrationFor(merged), false)
		if err != nil {
			return err
		}
		if regID != "" {
			merged.RegistrationID = regID
		}
		return nil
	})
	if err != nil {
		s.log.Error("device re-registration failed", "device", d.ID, "error", err)
		return nil, err
	}

	if err := s.devices.Update(ctx, merged); err != nil {
		return nil, fmt.Errorf("updating device %s: %w", d.ID, err)
	}

	s.log.Info("device registration updated", "device", merged.ID)
	return merged.DeepCopy(), nil
}

func mergeDevice(old, changes *device.Device) *device.Device {
	out := old.DeepCopy()
	if changes.Name != "" {
		out.Name = changes.Name
	}
	out.Type = changes.Type
	if changes.InternalID != "" {
		out.InternalID = changes.InternalID
	}
	if changes.Timezone != "" {
		out.Timezone = changes.Timezone
	}
	out.Polling = changes.Polling
	out.Active = mergeAttributes(out.Active, changes.Active)
	out.Lazy = mergeAttributes(out.Lazy, changes.Lazy)
	out.Commands = mergeAttributes(out.Commands, changes.Commands)
	out.InternalAttributes = mergeAttributes(out.InternalAttributes, changes.InternalAttributes)
	return out
}

func mergeAttributes(base, changes []entity.Attribute) []entity.Attribute {
	out := entity.CloneAttributes(base)
	for _, c := range changes {
		replaced := false
		for i := range out {
			if out[i].Name == c.Name {
				out[i] = c
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, c)
		}
	}
	return out
}

// Unregister removes a device: its subscriptions are deleted, its
// registration is retired and it leaves the registry.
func (s *Service) Unregister(ctx context.Context, id string) error {
	d, err := s.GetDevice(ctx, id)
	if err != nil {
		return err
	}

	tc := s.deviceConfiguration(ctx, d)
	primary := entity.Entity{ID: d.Name, Type: d.Type}

	err = s.gate.Do(ctx, tc, func(token string) error {
		sc := s.scopeFor(tc, token)
		for _, sub := range d.Subscriptions {
			if err := s.client.Unsubscribe(ctx, sc, primary, sub.ID); err != nil {
				return err
			}
		}
		_, err := s.client.Register(ctx, sc, registrationFor(d), true)
		return err
	})
	if err != nil {
		s.log.Error("device unregistration failed", "device", id, "error", err)
		return err
	}

	if err := s.devices.Remove(ctx, id); err != nil {
		return registryError(id, err)
	}

	s.log.Info("device unregistered", "device", id)
	return nil
}

// ListDevices returns the provisioned devices of a tenant in provisioning order.
func (s *Service) ListDevices(ctx context.Context, service, subservice string, limit, offset int) ([]device.Device, error) {
	if s.devices == nil {
		return nil, fault.RegistryNotAvailable()
	}
	devices, err := s.devices.List(ctx, service, subservice, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	return devices, nil
}

// GetDevice returns a device by id.
func (s *Service) GetDevice(ctx context.Context, id string) (*device.Device, error) {
	if s.devices == nil {
		return nil, fault.RegistryNotAvailable()
	}
	d, err := s.devices.Get(ctx, id)
	if err != nil {
		return nil, registryError(id, err)
	}
	return d, nil
}

// GetDeviceByName returns a device by the name of its primary entity.
func (s *Service) GetDeviceByName(ctx context.Context, name string) (*device.Device, error) {
	if s.devices == nil {
		return nil, fault.RegistryNotAvailable()
	}
	d, err := s.devices.GetByName(ctx, name)
	if err != nil {
		return nil, registryError(name, err)
	}
	return d, nil
}

func registryError(key string, err error) error {
	if errors.Is(err, device.ErrDeviceNotFound) {
		return fault.DeviceNotFound(key)
	}
	return fmt.Errorf("device registry: %w", err)
}
