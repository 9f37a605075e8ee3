package monitor

import (
	"context"
	"time"

	"github.com/qieqieplus/zoom-auto-mute/pkg/xapi"
)

// SessionState is the state of a call's meeting-entry detection
type SessionState int

const (
	StatePolling SessionState = iota
	StateStopped
)

func (s SessionState) String() string {
	switch s {
	case StatePolling:
		return "polling"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Session tracks one Zoom bridge call from establishment to disconnect.
// All fields are guarded by the owning Monitor's mutex.
type Session struct {
	CallID         string
	CallbackNumber string
	StartedAt      time.Time

	state    SessionState
	polls    int
	lastRate int64
	cancel   context.CancelFunc
}

// SessionInfo is a point-in-time copy of a Session
type SessionInfo struct {
	CallID         string    `json:"call_id"`
	CallbackNumber string    `json:"callback_number"`
	State          string    `json:"state"`
	StartedAt      time.Time `json:"started_at"`
	Polls          int       `json:"polls"`
	LastRate       int64     `json:"last_rate_bps"`
}

func (s *Session) info() SessionInfo {
	return SessionInfo{
		CallID:         s.CallID,
		CallbackNumber: s.CallbackNumber,
		State:          s.state.String(),
		StartedAt:      s.StartedAt,
		Polls:          s.polls,
		LastRate:       s.lastRate,
	}
}

// stop ends polling and cancels the poll task. Idempotent.
func (s *Session) stop() {
	s.state = StateStopped
	if s.cancel != nil {
		s.cancel()
	}
}

// IncomingVideoRate sums the channel rate of all incoming video channels that
// report network statistics. ok is false when no such channel exists yet.
// Channels whose rate cannot be parsed are skipped.
func IncomingVideoRate(channels []xapi.Channel) (total int64, ok bool) {
	for i := range channels {
		ch := &channels[i]
		if !ch.IsIncomingVideo() {
			continue
		}
		ok = true
		rate, err := ch.Netstat.ChannelRate.Int()
		if err != nil {
			continue
		}
		total += rate
	}
	return total, ok
}
