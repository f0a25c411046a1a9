package pipeline

import (
	"context"
	"time"

	"github.com/nerrad567/gray-logic-iotagent/internal/entity"
)

const (
	// TimestampAttribute is the attribute carrying the observation time.
	TimestampAttribute = "TimeInstant"

	// TimestampType is the declared type of TimestampAttribute.
	TimestampType = "ISO8601"

	timestampLayout = "2006-01-02T15:04:05.000Z07:00"
)

// TimestampStage stamps every entity lacking a TimeInstant attribute with
// the current UTC time. All entities of one run share the same instant.
type TimestampStage struct {
	now func() time.Time
}

// NewTimestampStage creates the stage. A nil clock uses time.Now.
func NewTimestampStage(now func() time.Time) *TimestampStage {
	if now == nil {
		now = time.Now
	}
	return &TimestampStage{now: now}
}

// Name implements Stage.
func (*TimestampStage) Name() string { return "timestamp" }

// Apply implements Stage.
func (s *TimestampStage) Apply(_ context.Context, entities []entity.Entity, cfg entity.TypeConfiguration) ([]entity.Entity, entity.TypeConfiguration, error) {
	stamp := s.now().UTC().Format(timestampLayout)

	out := make([]entity.Entity, len(entities))
	for i, e := range entities {
		out[i] = e.Clone()
		if _, ok := e.Attribute(TimestampAttribute); ok {
			continue
		}
		out[i].Attributes = append(out[i].Attributes, entity.Attribute{
			Name:  TimestampAttribute,
			Type:  TimestampType,
			Value: stamp,
		})
	}
	return out, cfg, nil
}
