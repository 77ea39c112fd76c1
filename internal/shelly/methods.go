package shelly

// RPC method names.
const (
	MethodSwitchSet       = "Switch.Set"
	MethodSwitchToggle    = "Switch.Toggle"
	MethodSwitchGetStatus = "Switch.GetStatus"
	MethodGetDeviceInfo   = "Shelly.GetDeviceInfo"
)

// Params is the typed parameter set of one RPC method.
type Params interface {
	Method() string
}

// SwitchSet turns a switch channel on or off.
type SwitchSet struct {
	ID int  `json:"id"`
	On bool `json:"on"`

	// ToggleAfter flips the output back after this many seconds.
	ToggleAfter *int `json:"toggle_after,omitempty"`
}

// Method implements Params.
func (SwitchSet) Method() string { return MethodSwitchSet }

// SwitchToggle inverts a switch channel.
type SwitchToggle struct {
	ID int `json:"id"`
}

// Method implements Params.
func (SwitchToggle) Method() string { return MethodSwitchToggle }

// SwitchGetStatus reads the status of a switch channel.
type SwitchGetStatus struct {
	ID int `json:"id"`
}

// Method implements Params.
func (SwitchGetStatus) Method() string { return MethodSwitchGetStatus }

// GetDeviceInfo reads the device identification.
type GetDeviceInfo struct {
	// Ident includes the device's identification fields.
	Ident bool `json:"ident,omitempty"`
}

// Method implements Params.
func (GetDeviceInfo) Method() string { return MethodGetDeviceInfo }

// SwitchSetResult is the result of Switch.Set and Switch.Toggle.
type SwitchSetResult struct {
	WasOn bool `json:"was_on"`
}

// Temperature is a reading in both scales.
type Temperature struct {
	C *float64 `json:"tC,omitempty"`
	F *float64 `json:"tF,omitempty"`
}

// SwitchStatus is the result of Switch.GetStatus. The same object is
// published on "<device>/status/switch:<n>".
type SwitchStatus struct {
	ID          int          `json:"id"`
	Source      string       `json:"source,omitempty"`
	Output      bool         `json:"output"`
	APower      *float64     `json:"apower,omitempty"`
	Voltage     *float64     `json:"voltage,omitempty"`
	Current     *float64     `json:"current,omitempty"`
	Temperature *Temperature `json:"temperature,omitempty"`
}

// DeviceInfo is the result of Shelly.GetDeviceInfo.
type DeviceInfo struct {
	ID         string  `json:"id"`
	MAC        string  `json:"mac"`
	Model      string  `json:"model"`
	Gen        int     `json:"gen"`
	FirmwareID string  `json:"fw_id"`
	Version    string  `json:"ver"`
	App        string  `json:"app"`
	Name       *string `json:"name,omitempty"`
	AuthEnable bool    `json:"auth_en"`
	Profile    string  `json:"profile,omitempty"`
}
