// Package notify defines the outbound NotificationBus boundary (spec §6)
// and a Telegram-backed implementation, generalized from the teacher's
// single-chat trade notifier (bot/telegram.go) to per-user delivery.
package notify

import "context"

// Kind is the category of a notification, used by bus implementations to
// choose formatting.
type Kind string

const (
	KindEntry      Kind = "ENTRY"
	KindExit       Kind = "EXIT"
	KindReplace    Kind = "REPLACE"
	KindUserAlert  Kind = "USER_ALERT"
)

// Notification is the channel-agnostic message the Dispatcher hands to a Bus.
// Body is opaque to the core; a renderer on the bus side formats it for the
// destination channel (Telegram, email, ...).
type Notification struct {
	UserID string
	Kind   Kind
	Body   string
	Meta   map[string]any
}

// Bus is the NotificationBus interface of spec §6: at-least-once delivery,
// consumed by the Dispatcher.
type Bus interface {
	Send(ctx context.Context, n Notification) error
}

// BusFunc adapts a plain function to the Bus interface, useful for tests and
// for composing simple routing without a struct.
type BusFunc func(ctx context.Context, n Notification) error

func (f BusFunc) Send(ctx context.Context, n Notification) error { return f(ctx, n) }
