package xapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const jsonRPCVersion = "2.0"

// JSON-RPC methods understood by the device
const (
	MethodGet          = "xGet"
	MethodSubscribe    = "xFeedback/Subscribe"
	MethodFeedback     = "xFeedback/Event"
	MethodMute         = "xCommand/Audio/Microphones/Mute"
	MethodDTMFSend     = "xCommand/Call/DTMFSend"
	feedbackSilent     = "Silent"
	channelVideo       = "Video"
	directionIncoming  = "Incoming"
	microphoneMutedOn  = "On"
	microphoneMutedOff = "Off"
)

var (
	ErrNotConnected   = errors.New("xapi: not connected")
	ErrConnectionLost = errors.New("xapi: connection lost before response")
	ErrClosed         = errors.New("xapi: client closed")
)

// Request is an outgoing JSON-RPC request
type Request struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      string      `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// RPCError is the error object of a failed JSON-RPC call
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// CodeNoMatch is the error code the device returns for a status path that
// does not exist, such as a call that has ended or an empty call list.
const CodeNoMatch = 3

// IsNoMatch reports whether err is the device's missing path error
func IsNoMatch(err error) bool {
	var rpcErr *RPCError
	return errors.As(err, &rpcErr) && rpcErr.Code == CodeNoMatch
}

func (e *RPCError) Error() string {
	if len(e.Data) > 0 {
		return fmt.Sprintf("xapi error %d: %s (%s)", e.Code, e.Message, string(e.Data))
	}
	return fmt.Sprintf("xapi error %d: %s", e.Code, e.Message)
}

// envelope covers responses and notifications arriving from the device
type envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

func (e *envelope) requestID() string {
	if len(e.ID) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(e.ID, &s); err == nil {
		return s
	}
	return string(e.ID)
}

type getParams struct {
	Path []interface{} `json:"Path"`
}

type subscribeParams struct {
	Query              []string `json:"Query"`
	NotifyCurrentValue bool     `json:"NotifyCurrentValue"`
}

type subscribeResult struct {
	ID int `json:"Id"`
}

type dtmfParams struct {
	DTMFString string `json:"DTMFString"`
	Feedback   string `json:"Feedback"`
	CallID     *int64 `json:"CallId,omitempty"`
}

// Value is a scalar from the status tree. The device reports some leaves as
// JSON numbers and others as strings; Value accepts both.
type Value string

func (v *Value) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*v = Value(s)
		return nil
	}
	if string(b) == "null" {
		*v = ""
		return nil
	}
	*v = Value(strings.TrimSpace(string(b)))
	return nil
}

func (v Value) String() string { return string(v) }

// Int parses the value as an integer. Fractional values are truncated.
func (v Value) Int() (int64, error) {
	s := strings.TrimSpace(string(v))
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", s)
	}
	return int64(f), nil
}

// Call is an entry of Status/Call
type Call struct {
	ID             Value  `json:"id"`
	CallbackNumber string `json:"CallbackNumber"`
	RemoteNumber   string `json:"RemoteNumber"`
	DisplayName    string `json:"DisplayName"`
	Direction      string `json:"Direction"`
	Protocol       string `json:"Protocol"`
	Status         string `json:"Status"`
	Duration       Value  `json:"Duration"` // seconds
}

// CallDuration returns the call duration reported by the device
func (c *Call) CallDuration() time.Duration {
	secs, err := c.Duration.Int()
	if err != nil {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// Netstat holds the network statistics of a media channel
type Netstat struct {
	ChannelRate Value `json:"ChannelRate"` // bits/sec
	Bytes       Value `json:"Bytes,omitempty"`
	Loss        Value `json:"Loss,omitempty"`
	Jitter      Value `json:"Jitter,omitempty"`
}

// Channel is an entry of Status/MediaChannels/Call[n]/Channel
type Channel struct {
	ID        Value    `json:"id"`
	Type      string   `json:"Type"`
	Direction string   `json:"Direction"`
	Netstat   *Netstat `json:"Netstat,omitempty"`
}

// IsIncomingVideo reports whether the channel carries incoming video and has statistics
func (c *Channel) IsIncomingVideo() bool {
	return c.Type == channelVideo && c.Direction == directionIncoming && c.Netstat != nil
}

// CallSuccessful is the payload of Event/CallSuccessful
type CallSuccessful struct {
	CallID    Value  `json:"CallId"`
	RemoteURI string `json:"RemoteURI"`
	Protocol  string `json:"Protocol"`
	Direction string `json:"Direction"`
}

// CallDisconnect is the payload of Event/CallDisconnect
type CallDisconnect struct {
	CallID      Value  `json:"CallId"`
	CauseType   string `json:"CauseType"`
	CauseString string `json:"CauseString"`
	Duration    Value  `json:"Duration"`
}

// DecodeCallSuccessful decodes an Event/CallSuccessful feedback payload
func DecodeCallSuccessful(payload json.RawMessage) (CallSuccessful, error) {
	var ev CallSuccessful
	if err := json.Unmarshal(payload, &ev); err != nil {
		return ev, fmt.Errorf("decode CallSuccessful: %w", err)
	}
	return ev, nil
}

// DecodeCallDisconnect decodes an Event/CallDisconnect feedback payload. An
// empty payload yields an event without a call id.
func DecodeCallDisconnect(payload json.RawMessage) (CallDisconnect, error) {
	var ev CallDisconnect
	if len(payload) == 0 {
		return ev, nil
	}
	if err := json.Unmarshal(payload, &ev); err != nil {
		return ev, fmt.Errorf("decode CallDisconnect: %w", err)
	}
	return ev, nil
}

// DecodeMuteState decodes a Status/Audio/Microphones/Mute feedback payload
func DecodeMuteState(payload json.RawMessage) (bool, error) {
	var v Value
	if err := json.Unmarshal(payload, &v); err != nil {
		return false, fmt.Errorf("decode mute state: %w", err)
	}
	return parseMute(v)
}

func parseMute(v Value) (bool, error) {
	switch string(v) {
	case microphoneMutedOn:
		return true, nil
	case microphoneMutedOff:
		return false, nil
	default:
		return false, fmt.Errorf("unexpected mute state %q", string(v))
	}
}

// pathElement renders a call id as the numeric index the status tree expects
func pathElement(id string) interface{} {
	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		return n
	}
	return id
}

// extract walks a feedback document along path and returns the leaf
func extract(doc json.RawMessage, path []string) (json.RawMessage, bool) {
	cur := doc
	for _, key := range path {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(cur, &obj); err != nil {
			return nil, false
		}
		next, ok := obj[key]
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}
