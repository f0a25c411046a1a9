package influxdb

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/gray-logic-iotagent/internal/entity"
)

// RecordUpdate writes one point per entity update.
//
// The measurement is the entity type; id, service and subservice become tags
// and each attribute with a value becomes a field. Numeric strings are stored
// as numbers, structured values as their JSON text. Entities without any
// valued attribute are skipped.
//
// The write is non-blocking; failures surface through SetOnError.
func (c *Client) RecordUpdate(_ context.Context, service, subservice string, e entity.Entity) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	point := updatePoint(service, subservice, e, time.Now())
	if point == nil {
		return nil
	}
	c.writeAPI.WritePoint(point)
	c.recorded.Add(1)
	return nil
}

// updatePoint builds the point for an entity update, or nil when no attribute
// carries a value.
func updatePoint(service, subservice string, e entity.Entity, ts time.Time) *write.Point {
	fields := make(map[string]interface{}, len(e.Attributes))
	for _, a := range e.Attributes {
		if v, ok := fieldValue(a.Value); ok {
			fields[a.Name] = v
		}
	}
	if len(fields) == 0 {
		return nil
	}

	measurement := e.Type
	if measurement == "" {
		measurement = "entity"
	}

	tags := map[string]string{"entity_id": e.ID}
	if service != "" {
		tags["service"] = service
	}
	if subservice != "" {
		tags["subservice"] = subservice
	}

	return write.NewPoint(measurement, tags, fields, ts)
}

func fieldValue(v any) (any, bool) {
	switch val := v.(type) {
	case nil:
		return nil, false
	case string:
		if val == "" {
			return nil, false
		}
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f, true
		}
		return val, true
	case bool, float64, float32, int, int32, int64, uint, uint32, uint64:
		return val, true
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return nil, false
		}
		return string(data), true
	}
}
