package ngsi

import (
	"context"
	"fmt"

	"github.com/nerrad567/gray-logic-iotagent/internal/device"
	"github.com/nerrad567/gray-logic-iotagent/internal/entity"
	"github.com/nerrad567/gray-logic-iotagent/internal/fault"
)

// HandleCommand accepts commands the Broker forwarded for a device.
//
// Every command must be declared for the device; otherwise nothing is sent.
// Each command is then marked PENDING on the device entity. Commands for
// polling devices are queued; the rest go to the command handler. The call
// returns once the commands are queued or handed over.
func (s *Service) HandleCommand(ctx context.Context, d *device.Device, cmds []entity.Attribute) error {
	if len(cmds) == 0 {
		return nil
	}
	tc := s.deviceConfiguration(ctx, d)

	for _, cmd := range cmds {
		if _, ok := tc.Command(cmd.Name); !ok {
			return fault.CommandNotFound(cmd.Name)
		}
	}

	for _, cmd := range cmds {
		if err := s.markPending(ctx, d, cmd, tc); err != nil {
			return err
		}
	}

	if d.Polling {
		if s.commands == nil {
			return fault.RegistryNotAvailable()
		}
		for _, cmd := range cmds {
			queued, err := s.commands.Add(ctx, device.Command{
				DeviceID:   d.ID,
				Service:    tc.Service,
				Subservice: tc.Subservice,
				Name:       cmd.Name,
				Type:       cmd.Type,
				Value:      cmd.Value,
			})
			if err != nil {
				return fmt.Errorf("queueing command %s: %w", cmd.Name, err)
			}
			s.log.Debug("command queued", "device", d.ID, "command", cmd.Name, "id", queued.ID)
		}
		return nil
	}

	handler := s.commandHandler()
	if handler == nil {
		return fmt.Errorf("command %s for %s: %w", cmds[0].Name, d.ID, ErrHandlerNotSet)
	}
	return handler(ctx, d, cmds)
}

// markPending sets <command>_status to PENDING without touching the result.
func (s *Service) markPending(ctx context.Context, d *device.Device, cmd entity.Attribute, tc entity.TypeConfiguration) error {
	status := []entity.Attribute{{Name: cmd.Name + statusSuffix, Type: statusType, Value: CommandStatusPending}}
	return s.Update(ctx, d.Name, d.Resource, d.APIKey, status, &tc)
}

// QueuedCommands returns the commands waiting for a polling device, oldest first.
func (s *Service) QueuedCommands(ctx context.Context, d *device.Device) ([]device.Command, error) {
	if s.commands == nil {
		return nil, fault.RegistryNotAvailable()
	}
	tc := s.deviceConfiguration(ctx, d)
	return s.commands.List(ctx, tc.Service, tc.Subservice, d.ID)
}

// RemoveQueuedCommand drops a command once the device has fetched it.
func (s *Service) RemoveQueuedCommand(ctx context.Context, id string) error {
	if s.commands == nil {
		return fault.RegistryNotAvailable()
	}
	return s.commands.Remove(ctx, id)
}
