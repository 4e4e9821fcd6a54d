package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/gray-logic-iot/internal/transport"
)

// Measurement names written by this package.
const (
	// MeasurementEvents holds one point per MQTT event.
	MeasurementEvents = "mqtt_events"

	// MeasurementDistributor holds periodic distributor counter snapshots.
	MeasurementDistributor = "distributor_stats"
)

// EventPoint converts an MQTT event into a point.
//
// Tags are kept low cardinality: the event kind, plus the topic for
// publishes. Payload bytes are never written, only their size.
//
// Parameters:
//   - ev: The event as delivered by the distributor
//
// Returns:
//   - *write.Point: Point stamped with ev.Received, or now if unset
func EventPoint(ev transport.Event) *write.Point {
	tags := map[string]string{
		"kind": ev.Kind.String(),
	}
	fields := map[string]any{
		"count": 1,
	}

	switch ev.Kind {
	case transport.KindPublish:
		tags["topic"] = ev.Topic
		fields["payload_size"] = len(ev.Payload)
		fields["qos"] = int(ev.QoS)
		fields["retained"] = ev.Retained
	case transport.KindPublishAck, transport.KindUnsubscribeAck:
		fields["packet_id"] = int(ev.PacketID)
	case transport.KindSubscribeAck:
		fields["packet_id"] = int(ev.PacketID)
		fields["filters"] = len(ev.GrantedQoS)
	}

	ts := ev.Received
	if ts.IsZero() {
		ts = time.Now()
	}
	return write.NewPoint(MeasurementEvents, tags, fields, ts)
}

// WriteEvent records a single MQTT event.
//
// The write is non-blocking; points are batched and sent asynchronously.
func (c *Client) WriteEvent(ev transport.Event) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(EventPoint(ev))
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
//
// Example:
//
//	client.WritePoint(influxdb.MeasurementDistributor,
//	    map[string]string{"client_id": "graylogic-iot-1"},
//	    map[string]any{"handles": 3, "dropped": 0})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a custom point with a specific timestamp.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
