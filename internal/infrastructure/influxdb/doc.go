// Package influxdb records the entity updates the agent sends to the Broker
// as InfluxDB time series.
//
// Each update becomes one point: the entity type is the measurement, the
// entity id and tenant are tags, and attribute values are fields. Writes are
// batched according to batch_size and flush_interval and never block the
// update path; write errors are reported through SetOnError.
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	svc, err := ngsi.New(ngsiCfg, ngsi.Deps{Recorder: client, ...})
package influxdb
