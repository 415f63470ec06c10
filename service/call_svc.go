package service

import (
	"context"
	"time"

	"github.com/hako/durafmt"
	"github.com/nicolasparada/go-errs"

	"github.com/dyadchat/dyad/auth"
	"github.com/dyadchat/dyad/ptr"
	"github.com/dyadchat/dyad/types"
)

// callReaperInterval paces the sweep for calls nobody answered.
const callReaperInterval = 5 * time.Second

// InitiateCall rings the receiver. The call row is created first; only then
// does the receiver's device learn about it, so an accept can never reference
// a call the store does not have.
func (svc *Service) InitiateCall(ctx context.Context, in types.InitiateCall) (types.Call, error) {
	var out types.Call

	loggedInUser, loggedIn := auth.UserFromContext(ctx)
	if !loggedIn {
		return out, errs.Unauthenticated
	}

	in.SetLoggedInUserID(loggedInUser.ID)

	if err := in.Validate(); err != nil {
		return out, err
	}

	call, err := svc.Cockroach.CreateCall(ctx, in)
	if err != nil {
		return out, err
	}

	if err := svc.Hub.Publish(call.CalleeID, types.Event{
		Type: types.EventIncomingCall,
		Call: ptr.From(call),
	}); err != nil {
		svc.Logger.Error("publish incoming call", "call_id", call.ID, "error", err)
	}

	return call, nil
}

// AcceptCall answers a ringing call. Both parties are told, which is also
// what stops the callee's other devices from ringing. A duplicate accept
// after a reconnect succeeds quietly without another round of events.
func (svc *Service) AcceptCall(ctx context.Context, in types.CallAction) (types.Call, error) {
	var out types.Call

	loggedInUser, loggedIn := auth.UserFromContext(ctx)
	if !loggedIn {
		return out, errs.Unauthenticated
	}

	in.SetLoggedInUserID(loggedInUser.ID)

	if err := in.Validate(); err != nil {
		return out, err
	}

	call, noop, err := svc.Cockroach.AcceptCall(ctx, in)
	if err != nil {
		return out, err
	}

	if !noop {
		svc.publishCallEvent(types.EventCallAccepted, call)
	}

	return call, nil
}

func (svc *Service) DeclineCall(ctx context.Context, in types.CallAction) (types.Call, error) {
	var out types.Call

	loggedInUser, loggedIn := auth.UserFromContext(ctx)
	if !loggedIn {
		return out, errs.Unauthenticated
	}

	in.SetLoggedInUserID(loggedInUser.ID)

	if err := in.Validate(); err != nil {
		return out, err
	}

	call, err := svc.Cockroach.DeclineCall(ctx, in)
	if err != nil {
		return out, err
	}

	svc.publishCallEvent(types.EventCallDeclined, call)

	return call, nil
}

func (svc *Service) EndCall(ctx context.Context, in types.CallAction) (types.Call, error) {
	var out types.Call

	loggedInUser, loggedIn := auth.UserFromContext(ctx)
	if !loggedIn {
		return out, errs.Unauthenticated
	}

	in.SetLoggedInUserID(loggedInUser.ID)

	if err := in.Validate(); err != nil {
		return out, err
	}

	call, err := svc.Cockroach.EndCall(ctx, in)
	if err != nil {
		return out, err
	}

	svc.publishCallEvent(types.EventCallEnded, call)

	return call, nil
}

// RelaySignal forwards an SDP or ICE payload to the call's other party. The
// body is passed through opaquely. Signals for a call that is already over
// are dropped silently: with two peers tearing down at once, stragglers are
// expected, not errors.
func (svc *Service) RelaySignal(ctx context.Context, in types.RelaySignal) error {
	loggedInUser, loggedIn := auth.UserFromContext(ctx)
	if !loggedIn {
		return errs.Unauthenticated
	}

	in.SetLoggedInUserID(loggedInUser.ID)

	if err := in.Validate(); err != nil {
		return err
	}

	call, err := svc.Cockroach.Call(ctx, in.CallID)
	if err != nil {
		return err
	}

	other, ok := call.OtherParticipant(loggedInUser.ID)
	if !ok {
		return types.ErrNotCallParticipant
	}

	if call.Status.Terminal() {
		return nil
	}

	var typ types.EventType
	switch in.Kind {
	case types.SignalOffer:
		typ = types.EventReceiveOffer
	case types.SignalAnswer:
		typ = types.EventReceiveAnswer
	case types.SignalICECandidate:
		typ = types.EventReceiveICECandidate
	}

	return svc.Hub.Publish(other, types.Event{
		Type: typ,
		Signal: &types.Signal{
			CallID:    call.ID,
			SenderID:  loggedInUser.ID,
			SDP:       in.SDP,
			Candidate: in.Candidate,
		},
	})
}

// RunCallReaper expires calls that rang past the timeout until ctx is done.
// Any node can run it; the sweep is a single idempotent statement.
func (svc *Service) RunCallReaper(ctx context.Context) {
	ticker := time.NewTicker(callReaperInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			missed, err := svc.Cockroach.SweepMissedCalls(ctx, svc.ringTimeout)
			if err != nil {
				svc.Logger.Error("sweep missed calls", "error", err)
				continue
			}

			for _, call := range missed {
				svc.Logger.Info("call missed",
					"call_id", call.ID,
					"rang_for", durafmt.Parse(time.Since(call.CreatedAt)).LimitFirstN(1).String(),
				)
				svc.publishCallEvent(types.EventCallEnded, call)
			}
		}
	}
}

func (svc *Service) publishCallEvent(typ types.EventType, call types.Call) {
	ev := types.Event{
		Type: typ,
		Call: ptr.From(call),
	}
	for _, userID := range []string{call.CallerID, call.CalleeID} {
		if err := svc.Hub.Publish(userID, ev); err != nil {
			svc.Logger.Error("publish call event", "call_id", call.ID, "type", typ, "error", err)
		}
	}
}
