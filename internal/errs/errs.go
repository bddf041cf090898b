package errs

import (
	"errors"
	"net/http"
)

// Domain sentinel errors. Handlers map them to HTTP codes, clients map wire
// codes back to them with FromCode.
var (
	ErrAccessDenied     = errors.New("access denied")
	ErrInvalidPin       = errors.New("invalid room or pin")
	ErrLinkExpired      = errors.New("access link expired")
	ErrSessionCancelled = errors.New("session cancelled")
	ErrSessionFinished  = errors.New("session finished")

	ErrMediaPermissionDenied = errors.New("media permission denied")
	ErrMediaDeviceNotFound   = errors.New("media device not found")
	ErrMediaDeviceBusy       = errors.New("media device busy")
	ErrUnsupportedPlatform   = errors.New("unsupported platform")

	ErrTransientTransport = errors.New("transient transport failure")
	ErrSignalParse        = errors.New("malformed signal payload")

	ErrSessionNotFound   = errors.New("session not found")
	ErrInvalidTransition = errors.New("invalid session state transition")
	ErrInvalidRequest    = errors.New("invalid request")
	ErrUnauthenticated   = errors.New("authentication required")
)

type mapping struct {
	err    error
	code   string
	status int
}

var mappings = []mapping{
	{ErrAccessDenied, "access_denied", http.StatusForbidden},
	{ErrInvalidPin, "invalid_pin", http.StatusUnauthorized},
	{ErrLinkExpired, "link_expired", http.StatusGone},
	{ErrSessionCancelled, "session_cancelled", http.StatusGone},
	{ErrSessionFinished, "session_finished", http.StatusGone},
	{ErrSignalParse, "signal_parse_error", http.StatusBadRequest},
	{ErrSessionNotFound, "session_not_found", http.StatusNotFound},
	{ErrInvalidTransition, "invalid_transition", http.StatusConflict},
	{ErrInvalidRequest, "invalid_request", http.StatusBadRequest},
	{ErrUnauthenticated, "unauthenticated", http.StatusUnauthorized},
	{ErrTransientTransport, "transient_transport_failure", http.StatusServiceUnavailable},
	{ErrMediaPermissionDenied, "media_permission_denied", http.StatusBadRequest},
	{ErrMediaDeviceNotFound, "media_device_not_found", http.StatusBadRequest},
	{ErrMediaDeviceBusy, "media_device_busy", http.StatusBadRequest},
	{ErrUnsupportedPlatform, "unsupported_platform", http.StatusBadRequest},
}

// HTTPStatus returns the response status for err, 500 for unknown errors.
func HTTPStatus(err error) int {
	for _, m := range mappings {
		if errors.Is(err, m.err) {
			return m.status
		}
	}
	return http.StatusInternalServerError
}

// Code returns the stable wire code for err, "internal" for unknown errors.
func Code(err error) string {
	for _, m := range mappings {
		if errors.Is(err, m.err) {
			return m.code
		}
	}
	return "internal"
}

// FromCode is the inverse of Code. It returns nil for unknown codes.
func FromCode(code string) error {
	for _, m := range mappings {
		if m.code == code {
			return m.err
		}
	}
	return nil
}

// Message returns the user-facing text for err. Unknown errors never leak
// their detail.
func Message(err error) string {
	for _, m := range mappings {
		if errors.Is(err, m.err) {
			return m.err.Error()
		}
	}
	return "internal server error"
}

// IsTerminal reports whether err ends a join attempt or a running call.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrAccessDenied) ||
		errors.Is(err, ErrInvalidPin) ||
		errors.Is(err, ErrLinkExpired) ||
		errors.Is(err, ErrSessionCancelled) ||
		errors.Is(err, ErrSessionFinished) ||
		errors.Is(err, ErrSessionNotFound)
}
