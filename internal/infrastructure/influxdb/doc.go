// Package influxdb provides the optional InfluxDB v2 sink for relay events.
//
// It wraps the official influxdb-client-go v2 library. Each relay event
// becomes one point in the relay_events measurement (see observe.Point);
// the client only batches and ships them.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.SetOnError(func(err error) { log.Warn("influxdb write failed", "error", err) })
//	recorder := observe.NewPointRecorder(client)
//
// # Error Handling
//
// Writes never block and never return errors. Batch failures arrive
// asynchronously through the SetOnError callback. Connection failures at
// startup are returned from Connect; the relay logs them and runs without
// the sink.
package influxdb
