package routing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/shellylink/internal/presence"
)

// ParsePresence decodes an "online" payload: "true" or "false", trimmed and
// case-insensitive.
func ParsePresence(payload []byte) (bool, error) {
	s := strings.TrimSpace(string(payload))
	switch {
	case strings.EqualFold(s, "true"):
		return true, nil
	case strings.EqualFold(s, "false"):
		return false, nil
	default:
		return false, fmt.Errorf("%w: presence payload %q", ErrDecode, truncate(s, 32))
	}
}

// switchStatus is the subset of a switch status notification the router
// reads. Every field is optional on the wire.
type switchStatus struct {
	Output      *bool    `json:"output"`
	APower      *float64 `json:"apower"`
	Voltage     *float64 `json:"voltage"`
	Temperature *struct {
		C *float64 `json:"tC"`
	} `json:"temperature"`
}

// ParseStatus decodes a status payload for deviceID/channel.
//
// The payload must be a JSON object. The second result is false when the
// object has no boolean "output" field, e.g. a sys or wifi status; no
// StatusUpdate should be emitted for it.
func ParseStatus(deviceID, channel string, payload []byte, at time.Time) (presence.StatusUpdate, bool, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return presence.StatusUpdate{}, false, fmt.Errorf("%w: status payload is not a JSON object", ErrDecode)
	}

	var st switchStatus
	if err := json.Unmarshal(trimmed, &st); err != nil {
		return presence.StatusUpdate{}, false, fmt.Errorf("%w: status payload: %w", ErrDecode, err)
	}
	if st.Output == nil {
		return presence.StatusUpdate{}, false, nil
	}

	u := presence.StatusUpdate{
		DeviceID:  deviceID,
		Channel:   channel,
		On:        *st.Output,
		Power:     st.APower,
		Voltage:   st.Voltage,
		Timestamp: at,
	}
	if st.Temperature != nil {
		u.TemperatureC = st.Temperature.C
	}
	return u, true, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
