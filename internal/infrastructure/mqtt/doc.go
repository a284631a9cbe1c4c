// Package mqtt provides the relay's MQTT bus subscriber.
//
// This package manages:
//   - One broker session per Client, with paho auto-reconnect disabled
//   - A single SUBSCRIBE covering every configured topic filter
//   - An ordered, unbounded sequence of inbound messages per session
//   - Topic filter validation and wildcard matching
//
// # Architecture
//
// The relay only consumes from the bus:
//
//	Sensors / controllers → MQTT Broker → Relay → Telegram
//
// Reconnection is owned by the connection supervisor, not by paho. When the
// session drops, Subscription.Next drains what was already received and then
// returns ErrConnectionLost; the supervisor backs off, calls Connect again and
// re-subscribes to every pattern.
//
// # Security Considerations
//
//   - TLS should be enabled when the broker is not on the local host
//   - A private CA bundle can be supplied with mqtt.broker.ca_file
//   - Credentials are never logged
//
// # Usage
//
//	client, err := mqtt.Connect(ctx, cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	sub, err := client.Subscribe([]string{"freezer/+", "sensors/#"}, 1)
//	if err != nil {
//	    return err
//	}
//	for {
//	    msg, err := sub.Next(ctx)
//	    if err != nil {
//	        return err
//	    }
//	    handle(msg)
//	}
package mqtt
