package types

import (
	"github.com/nicolasparada/go-errs"
	"github.com/pion/webrtc/v3"

	"github.com/dyadchat/dyad/id"
)

type SignalKind string

const (
	SignalOffer        SignalKind = "offer"
	SignalAnswer       SignalKind = "answer"
	SignalICECandidate SignalKind = "ice_candidate"
)

// Signal is the control-plane payload relayed between the two parties of a
// call so they can establish their own peer-to-peer media channel. The SDP and
// candidate bodies are passed through opaquely.
type Signal struct {
	CallID    string                     `json:"callId"`
	SenderID  string                     `json:"senderId"`
	SDP       *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
}

type RelaySignal struct {
	CallID    string
	Kind      SignalKind
	SDP       *webrtc.SessionDescription
	Candidate *webrtc.ICECandidateInit

	loggedInUserID string
}

func (in *RelaySignal) SetLoggedInUserID(userID string) {
	in.loggedInUserID = userID
}

func (in RelaySignal) LoggedInUserID() string {
	return in.loggedInUserID
}

func (in *RelaySignal) Validate() error {
	if in.CallID == "" {
		return errs.InvalidArgumentError("call ID is required")
	}
	if !id.Valid(in.CallID) {
		return errs.InvalidArgumentError("call ID is invalid")
	}
	switch in.Kind {
	case SignalOffer, SignalAnswer:
		if in.SDP == nil {
			return errs.InvalidArgumentError("missing session description")
		}
	case SignalICECandidate:
		if in.Candidate == nil {
			return errs.InvalidArgumentError("missing ICE candidate")
		}
	default:
		return errs.InvalidArgumentError("unknown signal kind")
	}
	return nil
}
