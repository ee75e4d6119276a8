// Package notify defines the advisory event channel: fire-and-forget
// notifications the allocator emits at fixed points so a supervising host can
// follow page movement. Delivery and interpretation are up to the sink.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/joshuapare/regionkit/mm/bank"
	"github.com/joshuapare/regionkit/mm/frame"
)

// Kind identifies an injection point. Values match the host's hypercall numbers.
type Kind int

const (
	PageFree            Kind = 11
	PageFreeBatched     Kind = 12
	PageAlloc           Kind = 13
	PageAllocZoneLocked Kind = 14
	PCPUDrain           Kind = 15
	PageAllocExtFrag    Kind = 16
)

func (k Kind) String() string {
	switch k {
	case PageFree:
		return "page_free"
	case PageFreeBatched:
		return "page_free_batched"
	case PageAlloc:
		return "page_alloc"
	case PageAllocZoneLocked:
		return "page_alloc_zone_locked"
	case PCPUDrain:
		return "pcpu_drain"
	case PageAllocExtFrag:
		return "page_alloc_extfrag"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event carries the minimal context of one notification.
type Event struct {
	Kind   Kind
	Frame  frame.Number
	Order  uint
	Domain bank.Kind
}

// Notifier receives events. Implementations must not block or call back into
// the allocator; events are delivered with allocator locks held.
type Notifier interface {
	Notify(Event)
}

// Nop discards events.
type Nop struct{}

func (Nop) Notify(Event) {}

// Func adapts a function to Notifier.
type Func func(Event)

func (f Func) Notify(e Event) { f(e) }

// Multi fans an event out to every notifier in order.
type Multi []Notifier

func (m Multi) Notify(e Event) {
	for _, n := range m {
		n.Notify(e)
	}
}

// Logger writes one debug record per event.
type Logger struct {
	L *slog.Logger
}

func (l Logger) Notify(e Event) {
	if l.L == nil || !l.L.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	l.L.Debug("advisory event",
		"event", e.Kind.String(),
		"frame", uint64(e.Frame),
		"order", e.Order,
		"domain", e.Domain.String(),
	)
}
