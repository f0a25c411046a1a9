// Package entity holds the canonical entity model shared by the pipeline and
// the protocol client, and the codecs between it and the two Broker wire
// shapes.
//
// The legacy shape (NGSI v1) carries attributes as an ordered list; the
// current shape (NGSI v2) carries them as keys of the entity object. Both are
// converted to Entity so that transformation stages are written once:
//
//	c := entity.Encode(entity.ShapeCurrent, e)
//	body, _ := json.Marshal(c)
package entity
