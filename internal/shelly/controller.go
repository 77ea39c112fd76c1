package shelly

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/shellylink/internal/rpc"
)

// ErrNoParams is returned by Do when params is nil.
var ErrNoParams = errors.New("shelly: params are required")

// Caller issues one correlated request. *rpc.Correlator satisfies it.
type Caller interface {
	Call(ctx context.Context, deviceID, method string, params json.RawMessage, timeout time.Duration) (*rpc.Response, error)
}

// Controller issues typed Shelly Gen2 RPC calls.
//
// Transport failures and timeouts are returned as the correlator reports
// them. A reply carrying an error object is returned as *rpc.Error.
type Controller struct {
	caller  Caller
	timeout time.Duration
}

// NewController creates a Controller. A zero timeout uses the caller's
// default.
func NewController(caller Caller, timeout time.Duration) *Controller {
	return &Controller{caller: caller, timeout: timeout}
}

// Do calls params.Method() on deviceID and decodes the result into result
// when it is non-nil.
func (c *Controller) Do(ctx context.Context, deviceID string, params Params, result any) error {
	if params == nil {
		return ErrNoParams
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encoding %s params: %w", params.Method(), err)
	}
	resp, err := c.caller.Call(ctx, deviceID, params.Method(), raw, c.timeout)
	if err != nil {
		return err
	}
	if result == nil {
		return resp.Err()
	}
	return resp.DecodeResult(result)
}

// SetSwitch turns channel on or off and returns the previous output.
func (c *Controller) SetSwitch(ctx context.Context, deviceID string, channel int, on bool) (bool, error) {
	var res SwitchSetResult
	if err := c.Do(ctx, deviceID, SwitchSet{ID: channel, On: on}, &res); err != nil {
		return false, err
	}
	return res.WasOn, nil
}

// Toggle inverts channel and returns the previous output.
func (c *Controller) Toggle(ctx context.Context, deviceID string, channel int) (bool, error) {
	var res SwitchSetResult
	if err := c.Do(ctx, deviceID, SwitchToggle{ID: channel}, &res); err != nil {
		return false, err
	}
	return res.WasOn, nil
}

// SwitchStatus reads the status of channel.
func (c *Controller) SwitchStatus(ctx context.Context, deviceID string, channel int) (SwitchStatus, error) {
	var st SwitchStatus
	if err := c.Do(ctx, deviceID, SwitchGetStatus{ID: channel}, &st); err != nil {
		return SwitchStatus{}, err
	}
	return st, nil
}

// DeviceInfo reads the device identification.
func (c *Controller) DeviceInfo(ctx context.Context, deviceID string) (DeviceInfo, error) {
	var info DeviceInfo
	if err := c.Do(ctx, deviceID, GetDeviceInfo{}, &info); err != nil {
		return DeviceInfo{}, err
	}
	return info, nil
}
