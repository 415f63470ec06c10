package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/nicolasparada/go-errs"
	"golang.org/x/sync/errgroup"

	"github.com/dyadchat/dyad/auth"
	"github.com/dyadchat/dyad/types"
)

func (svc *Service) SavePushSubscription(ctx context.Context, in types.SavePushSubscription) error {
	loggedInUser, loggedIn := auth.UserFromContext(ctx)
	if !loggedIn {
		return errs.Unauthenticated
	}

	in.SetLoggedInUserID(loggedInUser.ID)

	if err := in.Validate(); err != nil {
		return err
	}

	return svc.Cockroach.SavePushSubscription(ctx, in)
}

func (svc *Service) countPush(status string) {
	if svc.Metrics != nil {
		svc.Metrics.PushesSent.WithLabelValues(status).Inc()
	}
}

// pushMessage notifies an offline recipient through web push. Subscriptions
// the push service reports gone are dropped along the way.
func (svc *Service) pushMessage(ctx context.Context, userID, senderUsername string, msg types.Message) error {
	if svc.vapidPublicKey == "" || svc.vapidPrivateKey == "" {
		return nil
	}

	subs, err := svc.Cockroach.PushSubscriptions(ctx, userID)
	if err != nil {
		return err
	}

	if len(subs) == 0 {
		return nil
	}

	body := msg.Content
	if body == "" && len(msg.Attachments) > 0 {
		body = "sent an attachment"
	}

	payload, err := json.Marshal(map[string]string{
		"title":          senderUsername,
		"body":           body,
		"conversationId": msg.ConversationID,
		"messageId":      msg.ID,
	})
	if err != nil {
		return fmt.Errorf("marshal push payload: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, sub := range subs {
		g.Go(func() error {
			resp, err := webpush.SendNotificationWithContext(gctx, payload, &webpush.Subscription{
				Endpoint: sub.Endpoint,
				Keys: webpush.Keys{
					P256dh: sub.P256dh,
					Auth:   sub.Auth,
				},
			}, &webpush.Options{
				Subscriber:      svc.pushContact,
				VAPIDPublicKey:  svc.vapidPublicKey,
				VAPIDPrivateKey: svc.vapidPrivateKey,
				TTL:             60,
			})
			if err != nil {
				svc.Logger.Error("send web push", "user_id", userID, "error", err)
				svc.countPush("error")
				return nil
			}
			defer resp.Body.Close()

			if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
				svc.countPush("gone")
				if err := svc.Cockroach.DeletePushSubscription(gctx, sub.ID); err != nil {
					svc.Logger.Error("delete stale push subscription", "subscription_id", sub.ID, "error", err)
				}
				return nil
			}

			svc.countPush("ok")
			return nil
		})
	}

	return g.Wait()
}
