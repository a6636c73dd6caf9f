// Package scheduler holds the queue and appointment rules. Every operation is
// a single gateway call plus validation; no ticket or appointment state is
// cached between calls.
package scheduler

import (
	"context"
	"fmt"
	"strings"

	"qms/scheduler/internal/clock"
	"qms/scheduler/internal/models"
	"qms/scheduler/internal/store"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Policy supplies per-office slot capacity and the auto-priority service set.
type Policy interface {
	Capacity(office string) int
	IsPriority(office, service string) bool
}

// Notifier receives committed transitions. Implementations must not block.
type Notifier interface {
	TicketCalled(ticket models.Ticket)
	TicketServing(ticket models.Ticket)
	AppointmentBooked(appointment models.Appointment)
	AppointmentConfirmed(appointment models.Appointment, ticket models.Ticket)
}

type Deps struct {
	Store    store.Store
	Clock    clock.Clock
	Policy   Policy
	Notifier Notifier
	Logger   logrus.FieldLogger
}

// Service bundles the managers behind one value for the transport layer.
type Service struct {
	*SlotChecker
	*TicketManager
	*AppointmentManager
	*QueueView
}

func New(deps Deps) *Service {
	if deps.Clock == nil {
		deps.Clock = clock.Real(nil)
	}
	if deps.Policy == nil {
		deps.Policy = StaticPolicy{DefaultCapacity: DefaultSlotCapacity}
	}
	if deps.Notifier == nil {
		deps.Notifier = nopNotifier{}
	}
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	slots := NewSlotChecker(deps.Store, deps.Clock, deps.Policy)
	tickets := NewTicketManager(deps.Store, deps.Clock, deps.Policy, deps.Notifier, deps.Logger)
	return &Service{
		SlotChecker:        slots,
		TicketManager:      tickets,
		AppointmentManager: NewAppointmentManager(deps.Store, deps.Clock, slots, deps.Notifier, deps.Logger),
		QueueView:          NewQueueView(deps.Store),
	}
}

// StaticPolicy is a fixed capacity with an optional priority service set,
// matched case-insensitively.
type StaticPolicy struct {
	DefaultCapacity  int
	PriorityServices []string
}

func (p StaticPolicy) Capacity(string) int {
	if p.DefaultCapacity <= 0 {
		return DefaultSlotCapacity
	}
	return p.DefaultCapacity
}

func (p StaticPolicy) IsPriority(_, service string) bool {
	for _, s := range p.PriorityServices {
		if strings.EqualFold(strings.TrimSpace(s), strings.TrimSpace(service)) {
			return true
		}
	}
	return false
}

type nopNotifier struct{}

func (nopNotifier) TicketCalled(models.Ticket) {}
func (nopNotifier) TicketServing(models.Ticket) {}
func (nopNotifier) AppointmentBooked(models.Appointment) {}
func (nopNotifier) AppointmentConfirmed(models.Appointment, models.Ticket) {}

var tracer = otel.Tracer("qms/scheduler")

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", store.ErrInvalidInput, fmt.Sprintf(format, args...))
}
