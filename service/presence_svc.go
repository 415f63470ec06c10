package service

import (
	"context"

	"github.com/nicolasparada/go-errs"

	"github.com/dyadchat/dyad/auth"
	"github.com/dyadchat/dyad/realtime"
	"github.com/dyadchat/dyad/types"
)

// ConnectSession wires a freshly upgraded connection in: a durable row for
// crash recovery, hub registration for fan-out, and the presence count.
// userAgent is transport metadata kept for the device listing.
func (svc *Service) ConnectSession(ctx context.Context, sess realtime.Session, userAgent string) error {
	err := svc.Cockroach.InsertConnection(ctx, types.Connection{
		ID:        sess.ID(),
		UserID:    sess.UserID(),
		UserAgent: userAgent,
	})
	if err != nil {
		return err
	}

	if err := svc.Hub.Register(sess); err != nil {
		return err
	}

	svc.Presence.Connected(sess.UserID(), sess.ID())
	return nil
}

// Connections lists the logged-in user's open channels.
func (svc *Service) Connections(ctx context.Context) ([]types.Connection, error) {
	loggedInUser, loggedIn := auth.UserFromContext(ctx)
	if !loggedIn {
		return nil, errs.Unauthenticated
	}

	return svc.Cockroach.ActiveConnections(ctx, loggedInUser.ID)
}

// DisconnectSession unwinds ConnectSession. The durable row is deactivated
// before the presence tracker starts its grace timer: when the offline
// notification eventually fires, the connection count it consults must
// already reflect this close.
func (svc *Service) DisconnectSession(sess realtime.Session) {
	svc.Hub.Unregister(sess)

	ctx, cancel := context.WithTimeout(svc.baseCtx, svc.backgroundTimeout)
	defer cancel()
	if err := svc.Cockroach.DeactivateConnection(ctx, sess.ID()); err != nil {
		svc.Logger.Error("deactivate connection", "connection_id", sess.ID(), "error", err)
	}

	svc.Presence.Disconnected(sess.UserID(), sess.ID())
}

// SetForeground records whether a connection's app is visible. Presence is
// unaffected; only read side effects care.
func (svc *Service) SetForeground(userID, connectionID string, foreground bool) {
	svc.Presence.SetForeground(userID, connectionID, foreground)
}

// PresenceChanged is the presence tracker's notify hook. It persists the
// derived flag and tells the user's contacts, in the background since the
// tracker calls it from timer goroutines. The tracker only sees this node's
// connections, so the durable rows arbitrate: an offline with connections
// still open on another node is dropped, and the flag flip itself decides
// which node fans the transition out.
func (svc *Service) PresenceChanged(userID string, online bool) {
	svc.background(func(ctx context.Context) error {
		count, err := svc.Cockroach.ActiveConnectionCount(ctx, userID)
		if err != nil {
			return err
		}
		if online != (count > 0) {
			return nil
		}

		changed, err := svc.Cockroach.SetUserPresence(ctx, userID, online)
		if err != nil {
			return err
		}
		if !changed {
			return nil
		}

		contacts, err := svc.Cockroach.ContactIDs(ctx, userID)
		if err != nil {
			return err
		}

		typ := types.EventUserOnline
		if !online {
			typ = types.EventUserOffline
		}

		ev := types.Event{Type: typ, UserID: userID}
		for _, contactID := range contacts {
			if err := svc.Hub.Publish(contactID, ev); err != nil {
				svc.Logger.Error("publish presence", "user_id", userID, "error", err)
			}
		}

		return nil
	})
}
