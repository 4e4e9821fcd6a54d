// Package influxdb writes MQTT event telemetry to InfluxDB.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, non-blocking batched writes and health checks.
//
// Two measurements are written:
//   - mqtt_events: one point per event, tagged by kind (and topic for publishes)
//   - distributor_stats: periodic snapshots of fan-out counters
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteEvent(ev)
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
//
// # Error Handling
//
// Writes are non-blocking. Batch failures are counted (FailedWrites) and
// passed to the callback registered with SetOnError; Connect and
// HealthCheck return their errors directly.
package influxdb
