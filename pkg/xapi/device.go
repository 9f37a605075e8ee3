package xapi

import (
	"context"
	"fmt"
	"strconv"
)

// Device exposes the status queries and commands the session monitor needs on
// top of a Client.
type Device struct {
	client *Client
}

// NewDevice wraps client
func NewDevice(client *Client) *Device {
	return &Device{client: client}
}

func (d *Device) get(ctx context.Context, out interface{}, path ...interface{}) error {
	return d.client.Call(ctx, MethodGet, getParams{Path: path}, out)
}

// CallbackNumber returns Status/Call[callID]/CallbackNumber
func (d *Device) CallbackNumber(ctx context.Context, callID string) (string, error) {
	var v Value
	if err := d.get(ctx, &v, "Status", "Call", pathElement(callID), "CallbackNumber"); err != nil {
		return "", fmt.Errorf("get callback number for call %s: %w", callID, err)
	}
	return v.String(), nil
}

// ActiveCall returns the first entry of Status/Call, or nil when the device is idle
func (d *Device) ActiveCall(ctx context.Context) (*Call, error) {
	var calls []Call
	if err := d.get(ctx, &calls, "Status", "Call"); err != nil {
		// The device answers a query on an empty list node with a no-match error
		if IsNoMatch(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get active call: %w", err)
	}
	if len(calls) == 0 {
		return nil, nil
	}
	return &calls[0], nil
}

// MediaChannels returns Status/MediaChannels/Call[callID]/Channel
func (d *Device) MediaChannels(ctx context.Context, callID string) ([]Channel, error) {
	var channels []Channel
	if err := d.get(ctx, &channels, "Status", "MediaChannels", "Call", pathElement(callID), "Channel"); err != nil {
		return nil, fmt.Errorf("get media channels for call %s: %w", callID, err)
	}
	return channels, nil
}

// MicrophoneMuted reports Status/Audio/Microphones/Mute
func (d *Device) MicrophoneMuted(ctx context.Context) (bool, error) {
	var v Value
	if err := d.get(ctx, &v, "Status", "Audio", "Microphones", "Mute"); err != nil {
		return false, fmt.Errorf("get microphone mute: %w", err)
	}
	return parseMute(v)
}

// MuteMicrophone runs xCommand Audio Microphones Mute
func (d *Device) MuteMicrophone(ctx context.Context) error {
	if err := d.client.Call(ctx, MethodMute, struct{}{}, nil); err != nil {
		return fmt.Errorf("mute microphone: %w", err)
	}
	return nil
}

// SendDTMF runs xCommand Call DTMFSend with silent local feedback. An empty
// callID targets the device's current call.
func (d *Device) SendDTMF(ctx context.Context, callID, code string) error {
	params := dtmfParams{DTMFString: code, Feedback: feedbackSilent}
	if callID != "" {
		if n, err := strconv.ParseInt(callID, 10, 64); err == nil {
			params.CallID = &n
		}
	}
	if err := d.client.Call(ctx, MethodDTMFSend, params, nil); err != nil {
		return fmt.Errorf("send DTMF %q: %w", code, err)
	}
	return nil
}
