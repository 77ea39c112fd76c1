// Package session owns the single broker connection of shellylink.
//
// A Session ties three components to one MQTT connection:
//
//   - rpc.Correlator publishes requests through the session and waits for
//     replies on "<identity>/rpc"
//   - routing.Router receives every inbound message and classifies it
//   - presence.Tracker keeps the devices seen since the last disconnect
//
// # Connection Lifecycle
//
//	Disconnected → Connecting → Connected → Disconnected
//	                          ↘ Error
//
// Connect tears down any previous connection first. That teardown is a
// barrier: the router generation advances so messages still queued from the
// old connection are discarded, then every pending call fails with
// ErrSessionClosed. A reply that arrives later cannot complete a call made
// before the barrier.
//
// A broker-initiated drop moves the session to Disconnected and fails
// pending calls with ErrConnectionLost. Discovered devices are kept. If the
// MQTT client reconnects on its own the session returns to Connected.
//
// The session does not retry a failed Connect. Supervise runs the retry
// loop with exponential backoff for processes that want one.
//
// # Usage
//
//	s := session.New(session.Deps{Tracker: tracker, Resolver: res, Logger: log})
//	if err := s.Start(ctx); err != nil {
//	    return err
//	}
//	go session.Supervise(ctx, s, cfg.MQTT, session.SuperviseOptionsFrom(cfg.MQTT.Reconnect))
//
//	resp, err := s.Correlator().Call(ctx, "shellyplus1-aabbcc", "Switch.Set", params, 0)
package session
