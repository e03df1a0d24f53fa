package app

import (
	"context"

	"quizzer/internal/domain"
)

// Notifier delivers session events to the outside world.
//
// Notify is called from the session goroutine in event order, so
// implementations should hand off or drop rather than block for long.
type Notifier interface {
	Notify(ctx context.Context, event domain.Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, event domain.Event)

func (f NotifierFunc) Notify(ctx context.Context, event domain.Event) {
	f(ctx, event)
}

// Notifiers fans one event out to several notifiers in order.
type Notifiers []Notifier

func (ns Notifiers) Notify(ctx context.Context, event domain.Event) {
	for _, n := range ns {
		if n != nil {
			n.Notify(ctx, event)
		}
	}
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, domain.Event) {}
