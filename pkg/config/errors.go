package config

import "errors"

var (
	ErrMissingDeviceURL    = errors.New("device URL is required (set XAPI_URL env var or --device-url flag)")
	ErrMissingCredentials  = errors.New("device username is required (set XAPI_USERNAME env var or --username flag)")
	ErrMissingBridgeDomain = errors.New("bridge domain must not be empty")
	ErrInvalidDTMF         = errors.New("DTMF code may only contain 0-9, *, #, A-D")
	ErrInvalidTrigger      = errors.New("mute media trigger must be > 0")
	ErrInvalidInterval     = errors.New("poll interval must be > 0")
	ErrInvalidRevision     = errors.New("revision must be 1 or 2")
)
