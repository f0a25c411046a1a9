package ngsi

import (
	"context"

	"github.com/nerrad567/gray-logic-iotagent/internal/device"
	"github.com/nerrad567/gray-logic-iotagent/internal/entity"
	"github.com/nerrad567/gray-logic-iotagent/internal/fault"
)

// Command status values written to <command>_status.
const (
	CommandStatusPending = "PENDING"
	CommandStatusOK      = "OK"
	CommandStatusError   = "ERROR"

	statusSuffix = "_status"
	resultSuffix = "_result"
	statusType   = "Status"
)

// Update appends attribute values to an entity.
//
// The type configuration is tc when given, else the (resource, apikey)
// group, else the static configuration named by resource. Static attributes
// are added and the pipeline runs before anything is sent. Each entity the
// pipeline emits is sent separately; the first failure is returned and
// earlier entities stay updated.
//
// Parameters:
//   - entityName: id of the primary entity
//   - resource, apikey: group lookup key
//   - attrs: attribute values, in arrival order
//   - tc: explicit type configuration, or nil
//
// Returns:
//   - error: fault.TypeNotFound when no type resolves, otherwise the first
//     pipeline or Broker error
func (s *Service) Update(ctx context.Context, entityName, resource, apikey string, attrs []entity.Attribute, tc *entity.TypeConfiguration) error {
	cfg, _ := s.resolveConfiguration(ctx, resource, apikey, tc)
	if cfg.Type == "" {
		return fault.TypeNotFound("", entityName)
	}

	return s.gate.Do(ctx, cfg, func(token string) error {
		return s.sendUpdate(ctx, entityName, attrs, cfg, token)
	})
}

func (s *Service) sendUpdate(ctx context.Context, entityName string, attrs []entity.Attribute, cfg entity.TypeConfiguration, token string) error {
	sc := s.scopeFor(cfg, token)

	primary := entity.Entity{
		ID:         entityName,
		Type:       cfg.Type,
		Attributes: withStatics(attrs, cfg.StaticAttributes),
	}

	entities, _, err := s.pipeline.Run(ctx, []entity.Entity{primary}, cfg)
	if err != nil {
		return err
	}

	for _, e := range entities {
		if err := s.client.UpdateEntity(ctx, sc, e); err != nil {
			s.log.Warn("entity update failed", "entity", e.ID, "type", e.Type, "error", err)
			return err
		}
		s.record(ctx, sc, e)
	}

	s.log.Debug("entity updated", "entity", entityName, "entities", len(entities))
	return nil
}

// withStatics appends the static attributes whose names are not already present.
func withStatics(attrs, statics []entity.Attribute) []entity.Attribute {
	out := entity.CloneAttributes(attrs)
	for _, st := range statics {
		present := false
		for _, a := range attrs {
			if a.Name == st.Name {
				present = true
				break
			}
		}
		if !present {
			out = append(out, st)
		}
	}
	return out
}

func (s *Service) record(ctx context.Context, sc scope, e entity.Entity) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.RecordUpdate(ctx, sc.service, sc.subservice, e); err != nil {
		s.log.Warn("recording update failed", "entity", e.ID, "error", err)
	}
}

// Query reads attribute values of an entity. No names reads every attribute.
// The type configuration resolves as for Update; the pipeline does not run.
func (s *Service) Query(ctx context.Context, entityName, resource, apikey string, names []string, tc *entity.TypeConfiguration) ([]entity.Attribute, error) {
	cfg, _ := s.resolveConfiguration(ctx, resource, apikey, tc)
	if cfg.Type == "" {
		return nil, fault.TypeNotFound("", entityName)
	}

	var out []entity.Attribute
	err := s.gate.Do(ctx, cfg, func(token string) error {
		attrs, err := s.client.QueryEntity(ctx, s.scopeFor(cfg, token),
			entity.Entity{ID: entityName, Type: cfg.Type}, names)
		out = attrs
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SetCommandResult writes the status and result of a command to the
// entity as <command>_status and <command>_result.
//
// The type falls back to the group's entity type, then to resource. The
// command must be declared by the resolved configuration.
func (s *Service) SetCommandResult(ctx context.Context, entityName, resource, apikey, command string, result any, status string, tc *entity.TypeConfiguration) error {
	cfg, group := s.resolveConfiguration(ctx, resource, apikey, tc)
	if cfg.Type == "" {
		if group != nil && group.EntityType != "" {
			cfg.Type = group.EntityType
		} else {
			cfg.Type = resource
		}
	}
	cfg.Service = firstNonEmpty(cfg.Service, s.cfg.Service)
	cfg.Subservice = firstNonEmpty(cfg.Subservice, s.cfg.Subservice)

	cmd, ok := cfg.Command(command)
	if !ok {
		return fault.CommandNotFound(command)
	}

	attrs := []entity.Attribute{
		{Name: command + statusSuffix, Type: statusType, Value: status},
		{Name: command + resultSuffix, Type: cmd.Type, Value: result},
	}
	return s.Update(ctx, entityName, resource, apikey, attrs, &cfg)
}

// DeviceCommandResult reports the outcome of a command on a registered
// device, resolving its type configuration the same way HandleCommand does.
func (s *Service) DeviceCommandResult(ctx context.Context, d *device.Device, command string, result any, status string) error {
	tc := s.deviceConfiguration(ctx, d)
	return s.SetCommandResult(ctx, d.Name, d.Resource, d.APIKey, command, result, status, &tc)
}
