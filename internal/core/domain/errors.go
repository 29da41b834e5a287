package domain

import "errors"

// Backend lookup errors.
var (
	ErrDeviceNotFound    = errors.New("device not found")
	ErrInvalidDeviceType = errors.New(`device_type must be either "parent" or "child"`)
	ErrInvalidSignalType = errors.New("unknown signal_type")
	ErrMissingDeviceID   = errors.New("missing device_id")
	ErrDeviceIDMismatch  = errors.New("device id does not match token")
	ErrPairingNotFound   = errors.New("pairing not found")
	ErrEmptyAudioPayload = errors.New("audio_data must not be empty")
)

// Monitor error kinds. Components wrap raw I/O failures with one of these
// using %w so the session controller can match with errors.Is.
var (
	ErrPermissionDenied       = errors.New("permission denied")
	ErrCaptureUnavailable     = errors.New("capture unavailable")
	ErrTransportFailed        = errors.New("transport failed")
	ErrPeerDisconnected       = errors.New("peer disconnected")
	ErrDiscoveryResolveFailed = errors.New("discovery resolve failed")
	ErrHotspotFailed          = errors.New("hotspot failed")
	ErrRelayNetwork           = errors.New("relay network error")
	ErrInvalidArgument        = errors.New("invalid argument")
	ErrNoConnectivity         = errors.New("no connectivity")
)

// IsFatal reports whether err should stop a running session. Peer loss and
// single resolve failures are recoverable.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrPeerDisconnected) || errors.Is(err, ErrDiscoveryResolveFailed) {
		return false
	}
	return true
}
