// Package rpc implements the JSON-RPC request/reply layer spoken by Shelly
// Gen2+ devices over MQTT.
//
// A request for device D is published on "D/rpc" with the caller's identity
// in "src"; the device answers on "<src>/rpc" with the same "id". The
// Correlator assigns ids, keeps the in-flight table and resolves each call
// exactly once: by its reply, its own timer, the caller's context or a
// session reset.
//
//	resp, err := corr.Call(ctx, "shellyplus1-aabbcc", "Switch.Set",
//	    json.RawMessage(`{"id":0,"on":true}`), 0)
//	switch {
//	case errors.Is(err, rpc.ErrTimeout):
//	    // device did not answer
//	case err != nil:
//	    // transport or session failure
//	case resp.Err() != nil:
//	    // device rejected the call
//	}
package rpc
