package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Version is the JSON-RPC version carried on every request.
const Version = "2.0"

// Request is the envelope published on "<deviceId>/rpc".
type Request struct {
	ID      int             `json:"id"`
	Src     string          `json:"src"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	JSONRPC string          `json:"jsonrpc"`
}

// Response is the envelope received on "<clientIdentity>/rpc".
//
// Exactly one of Result and Error is normally populated. Both absent is an
// empty success.
type Response struct {
	ID     int             `json:"id"`
	Src    string          `json:"src"`
	Dst    string          `json:"dst,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
}

// Err returns the application error carried by the reply, or nil.
func (r *Response) Err() error {
	if r == nil || r.Error == nil {
		return nil
	}
	return r.Error
}

// DecodeResult unmarshals the result payload into v. An absent result
// leaves v untouched.
func (r *Response) DecodeResult(v any) error {
	if err := r.Err(); err != nil {
		return err
	}
	if len(r.Result) == 0 || bytes.Equal(r.Result, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(r.Result, v); err != nil {
		return fmt.Errorf("%w: result: %w", ErrInvalidEnvelope, err)
	}
	return nil
}

// EncodeRequest builds the wire form of a request. Nil params are sent as
// JSON null.
func EncodeRequest(req Request) ([]byte, error) {
	if req.Method == "" {
		return nil, fmt.Errorf("%w: method is required", ErrInvalidEnvelope)
	}
	if len(req.Params) == 0 {
		req.Params = json.RawMessage("null")
	} else if !json.Valid(req.Params) {
		return nil, fmt.Errorf("%w: params are not valid JSON", ErrInvalidEnvelope)
	}
	if req.JSONRPC == "" {
		req.JSONRPC = Version
	}

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidEnvelope, err)
	}
	return data, nil
}

// DecodeRequest parses a request envelope. Unknown fields are ignored.
func DecodeRequest(data []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return Request{}, fmt.Errorf("%w: %w", ErrInvalidEnvelope, err)
	}
	if req.Method == "" {
		return Request{}, fmt.Errorf("%w: method is required", ErrInvalidEnvelope)
	}
	return req, nil
}

// DecodeResponse parses a reply envelope. Unknown fields are ignored; the
// id field is required.
func DecodeResponse(data []byte) (*Response, error) {
	var probe struct {
		ID *int `json:"id"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidEnvelope, err)
	}
	if probe.ID == nil {
		return nil, fmt.Errorf("%w: id is required", ErrInvalidEnvelope)
	}

	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidEnvelope, err)
	}
	return &resp, nil
}
