// Package pipeline rewrites the entities of an outbound update before the
// protocol client encodes them.
//
// A Pipeline is an ordered list of stages fixed at construction. Each stage
// receives the entities produced by the previous one together with the
// call's type configuration. Stages work on the canonical entity form, so
// they are independent of the Broker protocol version.
//
// Usage:
//
//	p := pipeline.Default(cfg.Timestamp)
//	entities, _, err := p.Run(ctx, []entity.Entity{primary}, typeCfg)
package pipeline
