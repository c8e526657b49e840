package postgres

import (
	"context"

	"projectflow/pkg/outbox"
)

func (q *queries) EnqueueEvent(ctx context.Context, event *outbox.Event) error {
	return q.observe(ctx, "insert", "outbox_events", func(ctx context.Context) error {
		return outbox.InsertEvent(ctx, q.db, event)
	})
}
