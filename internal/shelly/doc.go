// Package shelly provides typed parameters and results for the Shelly Gen2
// RPC methods shellylink uses, and a Controller that issues them through the
// request correlator.
//
//	ctrl := shelly.NewController(sess.Correlator(), 0)
//	wasOn, err := ctrl.SetSwitch(ctx, "shellyplus1-aabbcc", 0, true)
//
// Methods not covered here can be called with Controller.Do and any type
// implementing Params, or directly through rpc.Correlator.Call.
package shelly
