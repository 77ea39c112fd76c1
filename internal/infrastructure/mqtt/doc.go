// Package mqtt provides MQTT client connectivity for shellylink.
//
// This package manages:
//   - A single connection to the broker, optionally over TLS
//   - Acknowledged and fire-and-forget publishing
//   - Topic subscriptions with wildcard support, restored on reconnect
//   - An optional "<client_id>/online" announcement with a Last Will
//
// # Architecture
//
// Shelly Gen2+ relays talk JSON-RPC over MQTT. Each device listens on
// "<device_id>/rpc" and publishes availability, component status and event
// notifications under its own identifier:
//
//	shellylink ↔ MQTT Broker ↔ Shelly devices
//
// A Client is one connection. It does not retry a failed first connect;
// the session package owns connection policy and creates a new Client for
// every attempt.
//
// # Message Ordering
//
// paho delivers messages on a single goroutine in arrival order, so the
// handler passed to Subscribe must only enqueue work. The routing package
// does the actual processing.
//
// # Security Considerations
//
//   - Set cfg.Broker.TLS for brokers reachable beyond the local network
//   - Credentials are validated against the broker ACL
//   - Payloads are not encrypted beyond TLS transport
//
// # Usage
//
//	client, err := mqtt.Connect(ctx, cfg.MQTT)
//	if err != nil {
//	    return fmt.Errorf("connecting to broker: %w", err)
//	}
//	defer client.Close()
//
//	err = client.SubscribeAll(mqtt.Topics{}.SessionFilters(client.ClientID()), 1, handler)
package mqtt
