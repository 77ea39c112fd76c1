// Package routing demultiplexes inbound broker messages.
//
// Every message received by the session is classified by topic into an RPC
// reply, a presence report, a switch status or a generic event, and handed
// to the correlator or the presence tracker. Decoding happens on the
// router's own lanes, never on the MQTT client's delivery goroutine.
//
// Malformed payloads and topics whose device identifier fails validation
// are logged and dropped; they never affect other messages or pending
// calls.
package routing
