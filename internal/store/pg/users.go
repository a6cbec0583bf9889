package pg

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/aristath/dividend-ingest/internal/apperr"
	"github.com/aristath/dividend-ingest/internal/domain"
)

// GetAPIUser looks up a user by key; disabled users are invisible to
// authenticators (§3), so the WHERE clause filters is_active directly.
func (g *Gateway) GetAPIUser(ctx context.Context, apiKey string) (domain.ApiUser, error) {
	const q = `
		SELECT id, api_key, user_name, plan_type, max_subscriptions, is_active, rate_limit_per_hour
		FROM api_users WHERE api_key = $1 AND is_active = true`
	var u domain.ApiUser
	err := g.db.pool().QueryRow(ctx, q, apiKey).Scan(
		&u.ID, &u.APIKey, &u.UserName, &u.PlanType, &u.MaxSubscriptions, &u.IsActive, &u.RateLimitPerHour)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ApiUser{}, apperr.New(apperr.Auth, "unknown or inactive API key")
	}
	if err != nil {
		return domain.ApiUser{}, apperr.Wrap(apperr.Transient, "load api user", err)
	}
	return u, nil
}

func (g *Gateway) CountSubscriptions(ctx context.Context, userID string) (int, error) {
	var n int
	err := g.db.pool().QueryRow(ctx, `SELECT count(*) FROM user_subscriptions WHERE user_id = $1`, userID).Scan(&n)
	if err != nil {
		return 0, apperr.Wrap(apperr.Transient, "count subscriptions", err)
	}
	return n, nil
}

// Subscribe enforces count(user) < user.max_subscriptions (§3, §4.9) inside
// a transaction so the cap check and insert are atomic against concurrent
// subscribe calls for the same user.
func (g *Gateway) Subscribe(ctx context.Context, userID, ticker string, priority int) (domain.Subscription, error) {
	var sub domain.Subscription

	err := g.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		var count, max int
		err := tx.QueryRow(ctx, `
			SELECT (SELECT count(*) FROM user_subscriptions WHERE user_id = $1),
			       (SELECT max_subscriptions FROM api_users WHERE id = $1)`, userID).
			Scan(&count, &max)
		if err != nil {
			return err
		}

		// Existing subscription to the same ticker is an update, not a new
		// slot, so it doesn't count against the cap.
		var alreadySubscribed bool
		if err := tx.QueryRow(ctx,
			`SELECT exists(SELECT 1 FROM user_subscriptions WHERE user_id=$1 AND ticker_symbol=$2)`,
			userID, ticker).Scan(&alreadySubscribed); err != nil {
			return err
		}
		if !alreadySubscribed && count >= max {
			return apperr.New(apperr.Conflict, "Subscription limit reached")
		}

		const q = `
			INSERT INTO user_subscriptions (user_id, ticker_symbol, priority, subscribed_at, notification_enabled, auto_update_enabled)
			VALUES ($1,$2,$3, now(), true, true)
			ON CONFLICT (user_id, ticker_symbol) DO UPDATE SET priority = EXCLUDED.priority
			RETURNING user_id, ticker_symbol, priority, subscribed_at, notification_enabled, auto_update_enabled, last_dividend_check`
		return tx.QueryRow(ctx, q, userID, ticker, priority).Scan(
			&sub.UserID, &sub.TickerSymbol, &sub.Priority, &sub.SubscribedAt,
			&sub.NotificationEnabled, &sub.AutoUpdateEnabled, &sub.LastDividendCheck)
	})

	return sub, err
}

func (g *Gateway) Unsubscribe(ctx context.Context, userID, ticker string) error {
	tag, err := g.db.pool().Exec(ctx,
		`DELETE FROM user_subscriptions WHERE user_id = $1 AND ticker_symbol = $2`, userID, ticker)
	if err != nil {
		return apperr.Wrap(apperr.Transient, "unsubscribe", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.NotFound, "not subscribed to "+ticker)
	}
	return nil
}

func (g *Gateway) ListSubscriptions(ctx context.Context, userID string) ([]domain.Subscription, error) {
	const q = `
		SELECT user_id, ticker_symbol, priority, subscribed_at, notification_enabled, auto_update_enabled, last_dividend_check
		FROM user_subscriptions WHERE user_id = $1 ORDER BY subscribed_at DESC`
	rows, err := g.db.pool().Query(ctx, q, userID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, "list subscriptions", err)
	}
	defer rows.Close()

	var out []domain.Subscription
	for rows.Next() {
		var s domain.Subscription
		if err := rows.Scan(&s.UserID, &s.TickerSymbol, &s.Priority, &s.SubscribedAt,
			&s.NotificationEnabled, &s.AutoUpdateEnabled, &s.LastDividendCheck); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (g *Gateway) AppendSubscriptionActivity(ctx context.Context, activity domain.SubscriptionActivity) error {
	detailJSON, err := json.Marshal(activity.Detail)
	if err != nil {
		return apperr.Wrap(apperr.Validation, "encode activity detail", err)
	}
	const q = `
		INSERT INTO subscription_activity (id, user_id, ticker_symbol, action, detail, created_at)
		VALUES ($1,$2,$3,$4,$5, now())`
	_, err = g.db.pool().Exec(ctx, q, newID(), activity.UserID, activity.TickerSymbol, activity.Action, detailJSON)
	if err != nil {
		return apperr.Wrap(apperr.Transient, "append subscription activity", err)
	}
	return nil
}

func (g *Gateway) ListSubscriptionActivity(ctx context.Context, userID string, limit, offset int) ([]domain.SubscriptionActivity, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	const q = `
		SELECT id, user_id, ticker_symbol, action, detail, created_at
		FROM subscription_activity WHERE user_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	rows, err := g.db.pool().Query(ctx, q, userID, limit, offset)
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, "list subscription activity", err)
	}
	defer rows.Close()

	var out []domain.SubscriptionActivity
	for rows.Next() {
		var a domain.SubscriptionActivity
		var detailJSON []byte
		if err := rows.Scan(&a.ID, &a.UserID, &a.TickerSymbol, &a.Action, &detailJSON, &a.CreatedAt); err != nil {
			return nil, err
		}
		if len(detailJSON) > 0 {
			if err := json.Unmarshal(detailJSON, &a.Detail); err != nil {
				return nil, err
			}
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
