package ngsi

import (
	"context"
	"fmt"

	"github.com/nerrad567/gray-logic-iotagent/internal/device"
	"github.com/nerrad567/gray-logic-iotagent/internal/entity"
	"github.com/nerrad567/gray-logic-iotagent/internal/fault"
)

// Subscribe asks the Broker to notify the agent when any of triggers
// changes on the device's primary entity. Notifications carry the content
// attributes, or every attribute when content is empty. The subscription is
// recorded on the stored device; d reflects it only once the store succeeds.
func (s *Service) Subscribe(ctx context.Context, d *device.Device, triggers, content []string) (string, error) {
	if s.devices == nil {
		return "", fault.RegistryNotAvailable()
	}
	if d == nil || d.ID == "" {
		return "", fault.MissingAttributes("device id is mandatory")
	}

	tc := s.deviceConfiguration(ctx, d)
	primary := entity.Entity{ID: d.Name, Type: d.Type}

	var id string
	err := s.gate.Do(ctx, tc, func(token string) error {
		var err error
		id, err = s.client.Subscribe(ctx, s.scopeFor(tc, token), primary, triggers, content)
		return err
	})
	if err != nil {
		s.log.Error("subscription failed", "device", d.ID, "error", err)
		return "", err
	}

	updated := d.DeepCopy()
	updated.Subscriptions = append(updated.Subscriptions, device.Subscription{
		ID:       id,
		Triggers: append([]string(nil), triggers...),
	})
	if err := s.devices.Update(ctx, updated); err != nil {
		return "", fmt.Errorf("storing subscription %s: %w", id, registryError(d.ID, err))
	}
	d.Subscriptions, d.UpdatedAt = updated.Subscriptions, updated.UpdatedAt

	s.log.Info("subscription created", "device", d.ID, "subscription", id)
	return id, nil
}

// Unsubscribe deletes a subscription from the Broker and from the device.
func (s *Service) Unsubscribe(ctx context.Context, d *device.Device, id string) error {
	if s.devices == nil {
		return fault.RegistryNotAvailable()
	}
	if d == nil || d.ID == "" {
		return fault.MissingAttributes("device id is mandatory")
	}

	tc := s.deviceConfiguration(ctx, d)
	primary := entity.Entity{ID: d.Name, Type: d.Type}

	err := s.gate.Do(ctx, tc, func(token string) error {
		return s.client.Unsubscribe(ctx, s.scopeFor(tc, token), primary, id)
	})
	if err != nil {
		s.log.Error("unsubscription failed", "device", d.ID, "subscription", id, "error", err)
		return err
	}

	updated := d.DeepCopy()
	if updated.RemoveSubscription(id) {
		if err := s.devices.Update(ctx, updated); err != nil {
			return registryError(d.ID, err)
		}
		d.Subscriptions, d.UpdatedAt = updated.Subscriptions, updated.UpdatedAt
	}

	s.log.Info("subscription removed", "device", d.ID, "subscription", id)
	return nil
}
