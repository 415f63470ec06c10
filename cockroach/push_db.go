package cockroach

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/dyadchat/dyad/id"
	"github.com/dyadchat/dyad/types"
)

// SavePushSubscription upserts on (user, endpoint) so browsers re-registering
// the same subscription after a session refresh do not pile up rows.
func (c *Cockroach) SavePushSubscription(ctx context.Context, in types.SavePushSubscription) error {
	const query = `
		INSERT INTO push_subscriptions (id, user_id, endpoint, p256dh, auth)
		VALUES (@subscription_id, @user_id, @endpoint, @p256dh, @auth)
		ON CONFLICT (user_id, endpoint) DO UPDATE
		SET p256dh = excluded.p256dh, auth = excluded.auth
	`
	_, err := c.db.Exec(ctx, query, pgx.StrictNamedArgs{
		"subscription_id": id.Generate(),
		"user_id":         in.LoggedInUserID(),
		"endpoint":        in.Endpoint,
		"p256dh":          in.P256dh,
		"auth":            in.Auth,
	})
	if err != nil {
		return fmt.Errorf("sql upsert push subscription: %w", err)
	}

	return nil
}

func (c *Cockroach) PushSubscriptions(ctx context.Context, userID string) ([]types.PushSubscription, error) {
	const query = `
		SELECT id, user_id, endpoint, p256dh, auth, created_at
		FROM push_subscriptions
		WHERE user_id = @user_id
	`
	rows, err := c.db.Query(ctx, query, pgx.StrictNamedArgs{
		"user_id": userID,
	})
	if err != nil {
		return nil, fmt.Errorf("sql select push subscriptions: %w", err)
	}

	subs, err := pgx.CollectRows(rows, pgx.RowToStructByNameLax[types.PushSubscription])
	if err != nil {
		return nil, fmt.Errorf("sql collect push subscriptions: %w", err)
	}

	return subs, nil
}

// DeletePushSubscription drops a subscription the push service reported gone.
func (c *Cockroach) DeletePushSubscription(ctx context.Context, subscriptionID string) error {
	_, err := c.db.Exec(ctx, `DELETE FROM push_subscriptions WHERE id = @subscription_id`, pgx.StrictNamedArgs{
		"subscription_id": subscriptionID,
	})
	if err != nil {
		return fmt.Errorf("sql delete push subscription: %w", err)
	}

	return nil
}
