package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementSwitch   = "switch"
	MeasurementPresence = "presence"
)

// SwitchSample is one switch status report.
type SwitchSample struct {
	DeviceID string
	Channel  string
	On       bool

	// Optional telemetry; nil fields are not written.
	PowerW       *float64
	VoltageV     *float64
	TemperatureC *float64

	Time time.Time
}

// WriteSwitch records a switch status report.
//
//	switch,channel=switch:0,device_id=shellyplus1-aabbcc on=true,power_w=12.5,voltage_v=230.1
func (c *Client) WriteSwitch(s SwitchSample) {
	if !c.IsConnected() {
		return
	}

	fields := map[string]interface{}{
		"on": s.On,
	}
	if s.PowerW != nil {
		fields["power_w"] = *s.PowerW
	}
	if s.VoltageV != nil {
		fields["voltage_v"] = *s.VoltageV
	}
	if s.TemperatureC != nil {
		fields["temperature_c"] = *s.TemperatureC
	}

	c.writeAPI.WritePoint(write.NewPoint(
		MeasurementSwitch,
		map[string]string{
			"device_id": s.DeviceID,
			"channel":   s.Channel,
		},
		fields,
		timeOrNow(s.Time),
	))
}

// WritePresence records a device going online or offline.
//
//	presence,device_id=shellyplus1-aabbcc online=true
func (c *Client) WritePresence(deviceID string, online bool, at time.Time) {
	if !c.IsConnected() {
		return
	}

	c.writeAPI.WritePoint(write.NewPoint(
		MeasurementPresence,
		map[string]string{"device_id": deviceID},
		map[string]interface{}{"online": online},
		timeOrNow(at),
	))
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}
