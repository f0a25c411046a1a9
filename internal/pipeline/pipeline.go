package pipeline

import (
	"context"
	"fmt"

	"github.com/nerrad567/gray-logic-iotagent/internal/entity"
)

// Stage is one transformation step.
//
// Apply must not mutate its inputs: entities and configuration it changes
// are returned as new values.
type Stage interface {
	Name() string
	Apply(ctx context.Context, entities []entity.Entity, cfg entity.TypeConfiguration) ([]entity.Entity, entity.TypeConfiguration, error)
}

// Pipeline runs its stages in order.
type Pipeline struct {
	stages []Stage
}

// New creates a pipeline from the given stages. Nil stages are skipped.
func New(stages ...Stage) *Pipeline {
	p := &Pipeline{}
	for _, s := range stages {
		if s != nil {
			p.stages = append(p.stages, s)
		}
	}
	return p
}

// Default returns the agent's standard pipeline: attribute aliasing, the
// multi-entity splitter and, when timestamp is set, the TimeInstant stage.
func Default(timestamp bool) *Pipeline {
	stages := []Stage{AliasStage{}, MultiEntityStage{}}
	if timestamp {
		stages = append(stages, NewTimestampStage(nil))
	}
	return New(stages...)
}

// Stages returns the names of the stages in execution order.
func (p *Pipeline) Stages() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name()
	}
	return names
}

// Run applies every stage in order and stops at the first error.
//
// Parameters:
//   - ctx: Context for cancellation, checked between stages
//   - entities: Input entities; the first one is the device's primary entity
//   - cfg: Type configuration of the call
//
// Returns:
//   - []entity.Entity: Entities to send, primary first
//   - entity.TypeConfiguration: Configuration as left by the last stage
//   - error: The first stage failure, prefixed with the stage name
func (p *Pipeline) Run(ctx context.Context, entities []entity.Entity, cfg entity.TypeConfiguration) ([]entity.Entity, entity.TypeConfiguration, error) {
	for _, s := range p.stages {
		if err := ctx.Err(); err != nil {
			return nil, cfg, err
		}

		var err error
		entities, cfg, err = s.Apply(ctx, entities, cfg)
		if err != nil {
			return nil, cfg, fmt.Errorf("pipeline stage %s: %w", s.Name(), err)
		}
	}
	return entities, cfg, nil
}
