package ngsi

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/gray-logic-iotagent/internal/device"
	"github.com/nerrad567/gray-logic-iotagent/internal/entity"
	"github.com/nerrad567/gray-logic-iotagent/internal/fault"
)

// ErrHandlerNotSet is returned when a callback is needed but none is registered.
var ErrHandlerNotSet = errors.New("ngsi: handler not set")

// ContextRequest is an update or query the Broker forwarded to the agent.
type ContextRequest struct {
	EntityID   string
	EntityType string
	Service    string
	Subservice string
	Attributes []entity.Attribute
}

// Callback signatures the southbound adapter implements.
type (
	// DataUpdateHandler applies attribute values written through the Broker.
	DataUpdateHandler func(ctx context.Context, req ContextRequest) error

	// DataQueryHandler reads lazy attribute values from the device.
	DataQueryHandler func(ctx context.Context, req ContextRequest) (entity.Entity, error)

	// CommandHandler delivers commands to a device that is not polling.
	CommandHandler func(ctx context.Context, d *device.Device, cmds []entity.Attribute) error

	// ConfigurationHandler is told about newly provisioned groups.
	ConfigurationHandler func(ctx context.Context, g *device.Group) error

	// NotificationHandler receives subscription notifications for a device.
	NotificationHandler func(ctx context.Context, d *device.Device, attrs []entity.Attribute) error

	// NotificationMiddleware rewrites notified attributes before the handler sees them.
	NotificationMiddleware func(ctx context.Context, d *device.Device, attrs []entity.Attribute) ([]entity.Attribute, error)
)

type handlers struct {
	update        DataUpdateHandler
	query         DataQueryHandler
	command       CommandHandler
	configuration ConfigurationHandler
	notification  NotificationHandler
	middlewares   []NotificationMiddleware
}

// SetDataUpdateHandler registers the update callback.
func (s *Service) SetDataUpdateHandler(h DataUpdateHandler) {
	s.mu.Lock()
	s.handlers.update = h
	s.mu.Unlock()
}

// SetDataQueryHandler registers the query callback.
func (s *Service) SetDataQueryHandler(h DataQueryHandler) {
	s.mu.Lock()
	s.handlers.query = h
	s.mu.Unlock()
}

// SetCommandHandler registers the command callback.
func (s *Service) SetCommandHandler(h CommandHandler) {
	s.mu.Lock()
	s.handlers.command = h
	s.mu.Unlock()
}

// SetConfigurationHandler registers the group provisioning callback.
func (s *Service) SetConfigurationHandler(h ConfigurationHandler) {
	s.mu.Lock()
	s.handlers.configuration = h
	s.mu.Unlock()
}

// SetNotificationHandler registers the notification callback.
func (s *Service) SetNotificationHandler(h NotificationHandler) {
	s.mu.Lock()
	s.handlers.notification = h
	s.mu.Unlock()
}

// AddNotificationMiddleware appends a middleware. Middlewares run in the
// order they were added.
func (s *Service) AddNotificationMiddleware(m NotificationMiddleware) {
	s.mu.Lock()
	s.handlers.middlewares = append(s.handlers.middlewares, m)
	s.mu.Unlock()
}

func (s *Service) commandHandler() CommandHandler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.handlers.command
}

func (s *Service) snapshot() handlers {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h := s.handlers
	h.middlewares = append([]NotificationMiddleware(nil), s.handlers.middlewares...)
	return h
}

// HandleContextUpdate dispatches an update forwarded by the Broker.
// Attributes declared as commands of the addressed device go to
// HandleCommand; the rest go to the update handler.
func (s *Service) HandleContextUpdate(ctx context.Context, req ContextRequest) error {
	data := req.Attributes

	if s.devices != nil {
		d, err := s.devices.GetByName(ctx, req.EntityID)
		switch {
		case err == nil:
			var cmds []entity.Attribute
			cmds, data = splitCommands(req.Attributes, s.deviceConfiguration(ctx, d))
			if err := s.HandleCommand(ctx, d, cmds); err != nil {
				return err
			}
		case !errors.Is(err, device.ErrDeviceNotFound):
			return registryError(req.EntityID, err)
		}
	}

	if len(data) == 0 {
		return nil
	}

	update := s.snapshot().update
	if update == nil {
		return fmt.Errorf("update of %s: %w", req.EntityID, ErrHandlerNotSet)
	}
	req.Attributes = data
	return update(ctx, req)
}

func splitCommands(attrs []entity.Attribute, tc entity.TypeConfiguration) (cmds, data []entity.Attribute) {
	for _, a := range attrs {
		if _, ok := tc.Command(a.Name); ok {
			cmds = append(cmds, a)
		} else {
			data = append(data, a)
		}
	}
	return cmds, data
}

// HandleContextQuery answers a query forwarded by the Broker.
//
// Without a query handler the addressed device's lazy attributes are
// returned with empty values.
func (s *Service) HandleContextQuery(ctx context.Context, req ContextRequest) (entity.Entity, error) {
	if query := s.snapshot().query; query != nil {
		return query(ctx, req)
	}

	d, err := s.GetDeviceByName(ctx, req.EntityID)
	if err != nil {
		return entity.Entity{}, err
	}

	wanted := make(map[string]bool, len(req.Attributes))
	for _, a := range req.Attributes {
		wanted[a.Name] = true
	}

	out := entity.Entity{ID: d.Name, Type: d.Type}
	for _, a := range s.deviceConfiguration(ctx, d).Lazy {
		if len(wanted) > 0 && !wanted[a.Name] {
			continue
		}
		out.Attributes = append(out.Attributes, entity.Attribute{Name: a.Name, Type: a.Type, Value: ""})
	}
	return out, nil
}

// HandleNotification passes a notified entity through the notification
// middlewares and then to the notification handler.
func (s *Service) HandleNotification(ctx context.Context, e entity.Entity) error {
	h := s.snapshot()
	if h.notification == nil {
		return fmt.Errorf("notification for %s: %w", e.ID, ErrHandlerNotSet)
	}

	d, err := s.GetDeviceByName(ctx, e.ID)
	if err != nil {
		return err
	}

	attrs := entity.CloneAttributes(e.Attributes)
	for _, m := range h.middlewares {
		if attrs, err = m(ctx, d, attrs); err != nil {
			return err
		}
	}
	return h.notification(ctx, d, attrs)
}

// ProvisionGroup stores a device group and reports it to the
// configuration handler.
func (s *Service) ProvisionGroup(ctx context.Context, g *device.Group) error {
	if s.groups == nil {
		return fault.RegistryNotAvailable()
	}
	if g == nil || g.Resource == "" || g.APIKey == "" {
		return fault.MissingAttributes("group resource and apikey are mandatory")
	}
	if err := s.groups.Store(ctx, g); err != nil {
		return fmt.Errorf("storing group %s: %w", g.Resource, err)
	}

	s.log.Info("group provisioned", "resource", g.Resource, "type", g.EntityType)

	if configure := s.snapshot().configuration; configure != nil {
		return configure(ctx, g)
	}
	return nil
}
