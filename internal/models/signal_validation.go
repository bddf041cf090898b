package models

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/preetsinghmakkar/TeleConsult/internal/errs"
)

var signalValidator = newSignalValidator()

// newSignalValidator returns a validator that checks the tagged-union shape
// of a SignalPayload.
func newSignalValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterStructValidation(signalPayloadShape, SignalPayload{})
	return v
}

func signalPayloadShape(sl validator.StructLevel) {
	p := sl.Current().Interface().(SignalPayload)
	switch p.Type {
	case SignalTypeOffer, SignalTypeAnswer:
		if p.SDP == "" {
			sl.ReportError(p.SDP, "SDP", "sdp", "required", "")
		}
	case SignalTypeICECandidate:
		if p.Candidate == nil {
			sl.ReportError(p.Candidate, "Candidate", "candidate", "required", "")
		} else if p.Candidate.SDPMid == nil && p.Candidate.SDPMLineIndex == nil {
			sl.ReportError(p.Candidate.SDPMid, "SDPMid", "sdpMid", "required_without", "SDPMLineIndex")
		}
	}
}

// DecodeSignalPayload parses and shape-checks a raw payload. Protocol
// semantics are not checked. Failures wrap errs.ErrSignalParse.
func DecodeSignalPayload(raw json.RawMessage) (SignalPayload, error) {
	var payload SignalPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return payload, fmt.Errorf("%w: %v", errs.ErrSignalParse, err)
	}
	if err := signalValidator.Struct(payload); err != nil {
		return payload, fmt.Errorf("%w: %v", errs.ErrSignalParse, err)
	}
	return payload, nil
}

// Encode marshals the payload for posting.
func (p SignalPayload) Encode() (json.RawMessage, error) {
	if err := signalValidator.Struct(p); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrSignalParse, err)
	}
	return json.Marshal(p)
}
