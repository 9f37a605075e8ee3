package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/qieqieplus/zoom-auto-mute/pkg/config"
	"github.com/qieqieplus/zoom-auto-mute/pkg/feedback"
	"github.com/qieqieplus/zoom-auto-mute/pkg/log"
	"github.com/qieqieplus/zoom-auto-mute/pkg/metrics"
	"github.com/qieqieplus/zoom-auto-mute/pkg/xapi"
)

// Revision selects the manual mute relay behaviour
type Revision int

const (
	// Revision1 ignores every mute change while polling.
	Revision1 Revision = 1
	// Revision2 treats a mute change after the settle window as a user toggle,
	// ends polling and also sends the hide-non-video signal.
	Revision2 Revision = 2
)

// Codes are the DTMF strings understood by the Zoom connector. An empty code
// disables that signal.
type Codes struct {
	Mute         string
	Unmute       string
	HideNonVideo string
}

// Options configures a Monitor
type Options struct {
	Codes            Codes
	MuteMediaTrigger int64 // bits/sec
	BridgeDomain     string
	InitialDelay     time.Duration
	PollInterval     time.Duration
	SettleWindow     time.Duration
	MaxPollDuration  time.Duration // 0 polls until disconnect
	Revision         Revision
}

// OptionsFromConfig maps the loaded configuration onto monitor options
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Codes: Codes{
			Mute:         cfg.Zoom.Mute,
			Unmute:       cfg.Zoom.Unmute,
			HideNonVideo: cfg.Zoom.HideNonVideo,
		},
		MuteMediaTrigger: cfg.Zoom.MuteMediaTrigger,
		BridgeDomain:     cfg.Zoom.BridgeDomain,
		InitialDelay:     cfg.Monitor.InitialDelay,
		PollInterval:     cfg.Monitor.PollInterval,
		SettleWindow:     cfg.Monitor.SettleWindow,
		MaxPollDuration:  cfg.Monitor.MaxPollDuration,
		Revision:         Revision(cfg.Monitor.Revision),
	}
}

// Signal names
const (
	SignalMute         = "mute"
	SignalUnmute       = "unmute"
	SignalHideNonVideo = "hide_non_video"
)

var errMissingCallID = errors.New("call event without CallId")

// Paths lists the feedback paths the monitor consumes
var Paths = []string{
	feedback.PathCallSuccessful,
	feedback.PathCallDisconnect,
	feedback.PathMicrophoneMute,
}

// Monitor detects that a Zoom bridge call has reached the meeting, mutes the
// local microphone and keeps the remote Zoom session informed of the mute
// state through DTMF signals.
type Monitor struct {
	device   Device
	opts     Options
	recorder Recorder
	now      func() time.Time

	ctx    context.Context // parent of every poll task, cancelled by Close
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*Session
	wg       sync.WaitGroup
}

// New creates a monitor. recorder may be nil.
func New(device Device, opts Options, recorder Recorder) *Monitor {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.Revision == 0 {
		opts.Revision = Revision2
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		device:   device,
		opts:     opts,
		recorder: recorder,
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*Session),
	}
}

// Run handles feedback from sub one notification at a time until ctx is
// cancelled or the subscriber is closed.
func (m *Monitor) Run(ctx context.Context, sub *feedback.Subscriber) error {
	defer m.Close()

	log.Infof("Zoom session monitor started (bridge domain %q, trigger %s, revision %d)",
		m.opts.BridgeDomain, metrics.FormatRate(m.opts.MuteMediaTrigger), m.opts.Revision)

	for {
		select {
		case <-ctx.Done():
			return nil
		case n, ok := <-sub.Channel:
			if !ok {
				return nil
			}
			if err := m.Dispatch(ctx, n); err != nil {
				log.Warnf("Handling %s failed: %v", n.Path, err)
			}
		}
	}
}

// Dispatch routes a single feedback notification to its handler
func (m *Monitor) Dispatch(ctx context.Context, n *feedback.Notification) error {
	switch n.Path {
	case feedback.PathCallSuccessful:
		ev, err := xapi.DecodeCallSuccessful(n.Payload)
		if err != nil {
			return err
		}
		return m.HandleCallSuccessful(ctx, ev)

	case feedback.PathCallDisconnect:
		ev, err := xapi.DecodeCallDisconnect(n.Payload)
		if err != nil {
			return err
		}
		m.HandleCallDisconnect(ev)
		return nil

	case feedback.PathMicrophoneMute:
		muted, err := xapi.DecodeMuteState(n.Payload)
		if err != nil {
			return err
		}
		return m.HandleMuteChanged(ctx, muted)

	default:
		log.Debugf("Ignoring feedback %s", n.Path)
		return nil
	}
}

// IsBridgeCall reports whether a callback number belongs to the Zoom bridge
func (m *Monitor) IsBridgeCall(callback string) bool {
	return m.opts.BridgeDomain != "" && strings.HasSuffix(callback, m.opts.BridgeDomain)
}

// HandleCallSuccessful qualifies a newly established call and, for Zoom
// bridge calls, mutes the microphone and starts polling for meeting entry.
func (m *Monitor) HandleCallSuccessful(ctx context.Context, ev xapi.CallSuccessful) error {
	callID := ev.CallID.String()
	if callID == "" {
		return errMissingCallID
	}

	callback, err := m.device.CallbackNumber(ctx, callID)
	if err != nil {
		return err
	}
	if !m.IsBridgeCall(callback) {
		log.Debugf("Call %s to %s is not a Zoom bridge call", callID, NormalizeRemoteURI(callback))
		return nil
	}

	logger := log.WithFields(logrus.Fields{"call_id": callID, "remote": NormalizeRemoteURI(ev.RemoteURI)})
	logger.Info("New Zoom call detected - muting local microphone")

	m.startSession(callID, callback)

	if err := m.device.MuteMicrophone(ctx); err != nil {
		logger.Warnf("Failed to mute microphone: %v", err)
	}

	logger.Info("Polling incoming video media rate for in-meeting detection")
	return nil
}

// HandleCallDisconnect ends polling for the disconnected call. An event
// without a call id, or for a call the monitor does not track, ends every
// session. Repeated calls are harmless.
func (m *Monitor) HandleCallDisconnect(ev xapi.CallDisconnect) {
	callID := ev.CallID.String()

	m.mu.Lock()
	if _, ok := m.sessions[callID]; !ok {
		callID = ""
	}
	var ended []string
	for id, s := range m.sessions {
		if callID != "" && id != callID {
			continue
		}
		s.stop()
		delete(m.sessions, id)
		ended = append(ended, id)
	}
	m.recorder.SetActiveSessions(m.pollingCountLocked())
	m.mu.Unlock()

	for _, id := range ended {
		m.recorder.ForgetCall(id)
		log.WithFields(logrus.Fields{"call_id": id, "cause": ev.CauseType}).Info("Zoom call disconnected")
	}
}

// HandleMuteChanged relays a microphone mute change to the Zoom session
func (m *Monitor) HandleMuteChanged(ctx context.Context, muted bool) error {
	call, err := m.device.ActiveCall(ctx)
	if err != nil {
		return err
	}
	if call == nil || !m.IsBridgeCall(call.CallbackNumber) {
		return nil
	}
	callID := call.ID.String()
	logger := log.WithFields(logrus.Fields{"call_id": callID, "muted": muted})

	hide := false
	m.mu.Lock()
	if s, ok := m.sessions[callID]; ok && s.state == StatePolling {
		if m.opts.Revision == Revision1 {
			m.mu.Unlock()
			logger.Debug("Ignoring mute change while polling")
			return nil
		}
		if call.CallDuration() <= m.opts.SettleWindow {
			m.mu.Unlock()
			logger.Debug("Ignoring mute change caused by the automatic mute")
			return nil
		}
		// the poll task records the cancellation when it exits
		s.stop()
		m.recorder.SetActiveSessions(m.pollingCountLocked())
		hide = true
	}
	m.mu.Unlock()

	var hideErr error
	if hide {
		logger.Info("Mute toggled by user while polling - stopping meeting detection")
		hideErr = m.SendHideNonVideo(ctx, callID)
	}
	if muted {
		return errors.Join(hideErr, m.SendMute(ctx, callID))
	}
	return errors.Join(hideErr, m.SendUnmute(ctx, callID))
}

// SendMute tells the Zoom session the device is muted
func (m *Monitor) SendMute(ctx context.Context, callID string) error {
	return m.sendSignal(ctx, callID, SignalMute, m.opts.Codes.Mute)
}

// SendUnmute tells the Zoom session the device is unmuted
func (m *Monitor) SendUnmute(ctx context.Context, callID string) error {
	return m.sendSignal(ctx, callID, SignalUnmute, m.opts.Codes.Unmute)
}

// SendHideNonVideo asks the Zoom session to hide non-video participants
func (m *Monitor) SendHideNonVideo(ctx context.Context, callID string) error {
	return m.sendSignal(ctx, callID, SignalHideNonVideo, m.opts.Codes.HideNonVideo)
}

func (m *Monitor) sendSignal(ctx context.Context, callID, signal, code string) error {
	logger := log.WithFields(logrus.Fields{"call_id": callID, "signal": signal})
	if code == "" {
		logger.Debug("Signal disabled, nothing sent")
		return nil
	}

	logger.Infof("Sending Zoom %s signal", signal)
	err := m.device.SendDTMF(ctx, callID, code)
	m.recorder.SignalSent(signal, err)
	if err != nil {
		logger.Warnf("Failed to send Zoom %s signal: %v", signal, err)
		return fmt.Errorf("send %s signal: %w", signal, err)
	}
	return nil
}

func (m *Monitor) startSession(callID, callback string) {
	m.mu.Lock()
	if old, ok := m.sessions[callID]; ok {
		old.stop()
	}
	ctx, cancel := context.WithCancel(m.ctx)
	s := &Session{
		CallID:         callID,
		CallbackNumber: callback,
		StartedAt:      m.now(),
		state:          StatePolling,
		cancel:         cancel,
	}
	m.sessions[callID] = s
	m.recorder.SetActiveSessions(m.pollingCountLocked())
	m.wg.Add(1)
	m.mu.Unlock()

	go m.poll(ctx, s)
}

type tickResult int

const (
	tickContinue tickResult = iota
	tickCancelled
	tickGaveUp
	tickReached
)

// poll samples the call's incoming video rate until it reaches the trigger,
// the session is stopped, the call disappears from the device, or the
// monitor closes. A stopped session is recorded as cancelled here and only here.
func (m *Monitor) poll(ctx context.Context, s *Session) {
	defer m.wg.Done()

	timer := time.NewTimer(m.opts.InitialDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			m.recorder.PollResult(metrics.PollCancelled)
			return
		case <-timer.C:
		}

		channels, err := m.device.MediaChannels(ctx, s.CallID)
		if err != nil && ctx.Err() == nil {
			log.WithFields(logrus.Fields{"call_id": s.CallID}).Debugf("Media channel query failed: %v", err)
			m.recorder.PollResult(metrics.PollError)

			if xapi.IsNoMatch(err) && m.callGone(ctx, s.CallID) {
				if m.endSession(s, "call no longer present on the device") {
					m.recorder.PollResult(metrics.PollCallGone)
				} else {
					m.recorder.PollResult(metrics.PollCancelled)
				}
				return
			}
		}
		rate, ok := IncomingVideoRate(channels)

		switch m.evaluate(s, rate, ok) {
		case tickCancelled:
			m.recorder.PollResult(metrics.PollCancelled)
			return
		case tickGaveUp:
			return
		case tickReached:
			m.meetingJoined(s.CallID, rate)
			return
		}
		timer.Reset(m.opts.PollInterval)
	}
}

// callGone reports whether the device no longer lists callID
func (m *Monitor) callGone(ctx context.Context, callID string) bool {
	_, err := m.device.CallbackNumber(ctx, callID)
	return xapi.IsNoMatch(err)
}

// endSession removes s if it is still the current session for its call
func (m *Monitor) endSession(s *Session, reason string) bool {
	m.mu.Lock()
	if m.sessions[s.CallID] != s {
		m.mu.Unlock()
		return false
	}
	s.stop()
	delete(m.sessions, s.CallID)
	m.recorder.SetActiveSessions(m.pollingCountLocked())
	m.mu.Unlock()

	m.recorder.ForgetCall(s.CallID)
	log.WithFields(logrus.Fields{"call_id": s.CallID}).Infof("Zoom session ended: %s", reason)
	return true
}

// Reconcile ends the sessions whose calls the device no longer lists. It
// covers disconnect events lost while the device connection was down and is
// run after every reconnect.
func (m *Monitor) Reconcile(ctx context.Context) {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		if ctx.Err() != nil {
			return
		}
		if m.callGone(ctx, s.CallID) {
			m.endSession(s, "call ended while the device was unreachable")
		}
	}
}

// evaluate records a poll sample and decides the next step. It re-checks the
// session under the lock so a disconnect that raced the channel query wins.
func (m *Monitor) evaluate(s *Session, rate int64, ok bool) tickResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s.state != StatePolling || m.sessions[s.CallID] != s {
		return tickCancelled
	}
	s.polls++

	logger := log.WithFields(logrus.Fields{"call_id": s.CallID, "poll": s.polls})

	if ok {
		s.lastRate = rate
		m.recorder.IncomingRate(s.CallID, rate)

		if rate >= m.opts.MuteMediaTrigger {
			s.stop()
			m.recorder.PollResult(metrics.PollReached)
			m.recorder.SetActiveSessions(m.pollingCountLocked())
			logger.Infof("Polling result: incoming media rate %s reached trigger", metrics.FormatRate(rate))
			return tickReached
		}
		m.recorder.PollResult(metrics.PollBelow)
		logger.Debugf("Polling result: low incoming media rate %s", metrics.FormatRate(rate))
	} else {
		m.recorder.PollResult(metrics.PollNoData)
		logger.Debug("Polling result: no incoming video statistics yet")
	}

	if m.opts.MaxPollDuration > 0 && m.now().Sub(s.StartedAt) >= m.opts.MaxPollDuration {
		s.stop()
		m.recorder.PollResult(metrics.PollGaveUp)
		m.recorder.SetActiveSessions(m.pollingCountLocked())
		logger.Warnf("No meeting media after %s, giving up", m.opts.MaxPollDuration)
		return tickGaveUp
	}
	return tickContinue
}

// meetingJoined sends the signals that follow a confirmed meeting entry
func (m *Monitor) meetingJoined(callID string, rate int64) {
	ctx := m.ctx
	logger := log.WithFields(logrus.Fields{"call_id": callID, "rate": rate})

	muted, err := m.device.MicrophoneMuted(ctx)
	if err != nil {
		// the microphone was muted when the call was established
		logger.Warnf("Reading mute state failed, assuming muted: %v", err)
		muted = true
	}

	// send failures are logged and counted by sendSignal
	if muted {
		_ = m.SendMute(ctx, callID)
	} else {
		_ = m.SendUnmute(ctx, callID)
	}
	if m.opts.Revision >= Revision2 {
		_ = m.SendHideNonVideo(ctx, callID)
	}
}

func (m *Monitor) pollingCountLocked() int {
	n := 0
	for _, s := range m.sessions {
		if s.state == StatePolling {
			n++
		}
	}
	return n
}

// IsPolling reports whether meeting-entry detection is running for callID
func (m *Monitor) IsPolling(callID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[callID]
	return ok && s.state == StatePolling
}

// Session returns a snapshot of the session for callID
func (m *Monitor) Session(callID string) (SessionInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[callID]
	if !ok {
		return SessionInfo{}, false
	}
	return s.info(), true
}

// Sessions returns snapshots of all sessions, oldest first
func (m *Monitor) Sessions() []SessionInfo {
	m.mu.Lock()
	out := make([]SessionInfo, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.info())
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Close stops every poll task and waits for them to exit
func (m *Monitor) Close() {
	m.cancel()

	m.mu.Lock()
	for id, s := range m.sessions {
		s.stop()
		delete(m.sessions, id)
	}
	m.recorder.SetActiveSessions(0)
	m.mu.Unlock()

	m.wg.Wait()
}
