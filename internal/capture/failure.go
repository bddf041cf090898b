package capture

import (
	"errors"

	"github.com/preetsinghmakkar/TeleConsult/internal/errs"
)

// FailureKind is the stable classification of a failed capture attempt.
type FailureKind string

const (
	FailurePermissionDenied    FailureKind = "permission_denied"
	FailureDeviceNotFound      FailureKind = "device_not_found"
	FailureDeviceBusy          FailureKind = "device_busy"
	FailureUnsupportedPlatform FailureKind = "unsupported_platform"
	FailureUnknown             FailureKind = "unknown"
)

// Classify maps a probe error onto a FailureKind. Probes report failures
// with the errs media sentinels; anything else is FailureUnknown.
func Classify(err error) FailureKind {
	switch {
	case errors.Is(err, errs.ErrMediaPermissionDenied):
		return FailurePermissionDenied
	case errors.Is(err, errs.ErrMediaDeviceNotFound):
		return FailureDeviceNotFound
	case errors.Is(err, errs.ErrMediaDeviceBusy):
		return FailureDeviceBusy
	case errors.Is(err, errs.ErrUnsupportedPlatform):
		return FailureUnsupportedPlatform
	default:
		return FailureUnknown
	}
}

// Remediation is the user-facing hint shown for a failure.
func (k FailureKind) Remediation() string {
	switch k {
	case FailurePermissionDenied:
		return "Camera or microphone access was blocked. Allow access in your device settings and rejoin."
	case FailureDeviceNotFound:
		return "No camera or microphone was found. Connect a device or continue without one."
	case FailureDeviceBusy:
		return "Your camera or microphone is in use by another application. Close it and rejoin."
	case FailureUnsupportedPlatform:
		return "This device does not support the requested media settings. Continuing with simpler settings."
	default:
		return "Media could not be started. You can continue without camera and microphone."
	}
}

// next returns the tier to try after a failure at t. Missing or blocked
// devices make the other audio+video tier pointless.
func (k FailureKind) next(t Tier) Tier {
	if t < TierAudioOnly && (k == FailurePermissionDenied || k == FailureDeviceNotFound) {
		return TierAudioOnly
	}
	return t + 1
}

// Failure records one failed tier.
type Failure struct {
	Tier Tier
	Kind FailureKind
	Err  error
}

func (f Failure) Remediation() string {
	return f.Kind.Remediation()
}
