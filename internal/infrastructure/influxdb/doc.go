// Package influxdb provides InfluxDB connectivity for shellylink.
//
// It wraps the official influxdb-client-go v2 library for recording switch
// telemetry: output state, active power, voltage and device temperature
// from status reports, plus presence transitions.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry is optional
//	}
//	defer client.Close()
//
//	client.WriteSwitch(influxdb.SwitchSample{DeviceID: "shellyplus1-aabbcc", Channel: "switch:0", On: true})
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Writes never return errors; batch failures are delivered to the
// SetOnError callback. Connection and health check errors are returned
// directly.
package influxdb
