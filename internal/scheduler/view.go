package scheduler

import (
	"context"
	"sort"
	"strings"

	"qms/scheduler/internal/models"
	"qms/scheduler/internal/store"

	"github.com/samber/lo"
	"go.opentelemetry.io/otel/attribute"
)

// QueueView is a read-only projection; it is recomputed from the store on
// every call.
type QueueView struct {
	store store.TicketStore
}

func NewQueueView(s store.TicketStore) *QueueView {
	return &QueueView{store: s}
}

// ActiveQueue groups an office's non-terminal tickets by window. Tickets with
// no window land in "unassigned", which always sorts last.
func (v *QueueView) ActiveQueue(ctx context.Context, office string) (queues []models.WindowQueue, err error) {
	ctx, span := startSpan(ctx, "QueueView.ActiveQueue", attribute.String("office", office))
	defer func() { endSpan(span, err) }()

	tickets, err := v.store.ListActiveTickets(ctx, strings.TrimSpace(office))
	if err != nil {
		return nil, err
	}

	grouped := lo.GroupBy(tickets, func(t models.Ticket) string {
		if t.WindowNo == nil || strings.TrimSpace(*t.WindowNo) == "" {
			return models.UnassignedWindow
		}
		return *t.WindowNo
	})
	windows := lo.Keys(grouped)
	sort.Slice(windows, func(i, j int) bool {
		if windows[i] == models.UnassignedWindow || windows[j] == models.UnassignedWindow {
			return windows[j] == models.UnassignedWindow && windows[i] != models.UnassignedWindow
		}
		return windows[i] < windows[j]
	})

	queues = make([]models.WindowQueue, 0, len(windows))
	for _, window := range windows {
		byStatus := lo.GroupBy(grouped[window], func(t models.Ticket) string { return t.Status })
		queues = append(queues, models.WindowQueue{
			WindowNo:   window,
			InProgress: OrderTickets(byStatus[models.StatusInProgress]),
			Called:     OrderTickets(byStatus[models.StatusCalled]),
			Waiting:    OrderTickets(byStatus[models.StatusWaiting]),
		})
	}
	return queues, nil
}

func (v *QueueView) NowServing(ctx context.Context, office string) (*int, error) {
	return v.store.NowServing(ctx, strings.TrimSpace(office))
}

// OrderTickets returns a sorted copy: priority lane first, then unnumbered
// tickets (left over from before a reset) in arrival order, then numbered
// tickets by office ticket number. Remaining ties keep the input order, which
// the stores return by arrival.
func OrderTickets(tickets []models.Ticket) []models.Ticket {
	out := make([]models.Ticket, len(tickets))
	copy(out, tickets)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.PriorityLane != b.PriorityLane {
			return a.PriorityLane
		}
		switch {
		case a.OfficeTicketNo == nil && b.OfficeTicketNo == nil:
			return a.CreatedAt.Before(b.CreatedAt)
		case a.OfficeTicketNo == nil:
			return true
		case b.OfficeTicketNo == nil:
			return false
		case *a.OfficeTicketNo != *b.OfficeTicketNo:
			return *a.OfficeTicketNo < *b.OfficeTicketNo
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	return out
}
