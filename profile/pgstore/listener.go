package pgstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// NotifyChannel is the channel the profiles trigger notifies on.
const NotifyChannel = "profile_changes"

// Listener delivers LISTEN/NOTIFY payloads until ctx is done or the
// connection fails. Once subscribed it calls fn with an empty payload so
// callers can re-read anything changed while they were not listening.
type Listener interface {
	Listen(ctx context.Context, channel string, fn func(payload string)) error
}

// PgxListener holds one dedicated pgx connection for notifications.
type PgxListener struct {
	DatabaseURL string
}

// Listen connects, subscribes to channel, and calls fn per notification.
func (l PgxListener) Listen(ctx context.Context, channel string, fn func(payload string)) error {
	conn, err := pgx.Connect(ctx, l.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect listener: %w", err)
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "listen "+pgx.Identifier{channel}.Sanitize()); err != nil {
		return fmt.Errorf("listen %s: %w", channel, err)
	}
	fn("")

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("wait for notification: %w", err)
		}
		fn(n.Payload)
	}
}
