package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WritePointWithTime queues one point for the next batch.
//
// Parameters:
//   - measurement: e.g. "relay_events"
//   - tags: low-cardinality dimensions (kind, connection, reason, chat_id)
//   - fields: values (count, topic, attempts, delay_ms)
//   - timestamp: when the event happened, not when it is written
//
// Points written after Close are dropped silently.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, timestamp))
}
