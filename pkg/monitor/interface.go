package monitor

import (
	"context"

	"github.com/qieqieplus/zoom-auto-mute/pkg/xapi"
)

// Device is the part of the endpoint's control/status interface the monitor uses.
// xapi.Device implements it over the network.
type Device interface {
	CallbackNumber(ctx context.Context, callID string) (string, error)
	ActiveCall(ctx context.Context) (*xapi.Call, error)
	MediaChannels(ctx context.Context, callID string) ([]xapi.Channel, error)
	MicrophoneMuted(ctx context.Context) (bool, error)
	MuteMicrophone(ctx context.Context) error
	SendDTMF(ctx context.Context, callID, code string) error
}

// Recorder receives monitor activity. metrics.Collector implements it.
type Recorder interface {
	SetActiveSessions(n int)
	PollResult(result string)
	IncomingRate(callID string, bps int64)
	ForgetCall(callID string)
	SignalSent(signal string, err error)
}

type nopRecorder struct{}

func (nopRecorder) SetActiveSessions(int) {}
func (nopRecorder) PollResult(string) {}
func (nopRecorder) IncomingRate(string, int64) {}
func (nopRecorder) ForgetCall(string) {}
func (nopRecorder) SignalSent(string, error) {}
