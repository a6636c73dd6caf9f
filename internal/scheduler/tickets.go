package scheduler

import (
	"context"
	"errors"
	"strings"

	"qms/scheduler/internal/clock"
	"qms/scheduler/internal/metrics"
	"qms/scheduler/internal/models"
	"qms/scheduler/internal/store"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

type TicketManager struct {
	store    store.TicketStore
	clock    clock.Clock
	rules    Policy
	notifier Notifier
	log      logrus.FieldLogger
}

func NewTicketManager(s store.TicketStore, c clock.Clock, rules Policy, notifier Notifier, log logrus.FieldLogger) *TicketManager {
	return &TicketManager{store: s, clock: c, rules: rules, notifier: notifier, log: log}
}

type CreateTicketRequest struct {
	UserID         string
	Name           string
	Office         string
	Service        string
	AdditionalInfo models.Payload
	FormData       models.Payload
	PriorityLane   bool
}

func (m *TicketManager) CreateTicket(ctx context.Context, req CreateTicketRequest) (ticket models.Ticket, err error) {
	ctx, span := startSpan(ctx, "TicketManager.CreateTicket", attribute.String("office", req.Office))
	defer func() { endSpan(span, err) }()

	input := store.CreateTicketInput{
		UserID:         strings.TrimSpace(req.UserID),
		Name:           strings.TrimSpace(req.Name),
		Office:         strings.TrimSpace(req.Office),
		Service:        strings.TrimSpace(req.Service),
		AdditionalInfo: req.AdditionalInfo,
		FormData:       req.FormData,
		CreatedAt:      m.clock.Now(),
	}
	if input.UserID == "" {
		return models.Ticket{}, invalidInput("user_id is required")
	}
	if input.Office == "" {
		return models.Ticket{}, invalidInput("office is required")
	}
	input.PriorityLane = req.PriorityLane || m.rules.IsPriority(input.Office, input.Service)

	ticket, err = m.store.CreateTicket(ctx, input)
	if err != nil {
		return models.Ticket{}, err
	}
	metrics.TicketsCreated.WithLabelValues(ticket.Office).Inc()
	m.log.WithFields(logrus.Fields{
		"ticket_id": ticket.TicketID,
		"office":    ticket.Office,
		"priority":  ticket.PriorityLane,
	}).Info("ticket created")
	return ticket, nil
}

func (m *TicketManager) GetTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	return m.store.GetTicket(ctx, strings.TrimSpace(ticketID))
}

func (m *TicketManager) CallNext(ctx context.Context, ticketID, windowNo string) (models.Ticket, error) {
	if strings.TrimSpace(windowNo) == "" {
		return models.Ticket{}, invalidInput("window_no is required")
	}
	return m.transition(ctx, ticketID, store.ActionCall, windowNo)
}

// ServeNow moves a waiting or called ticket to in_progress and records the
// window in formData as well.
func (m *TicketManager) ServeNow(ctx context.Context, ticketID, windowNo string) (models.Ticket, error) {
	if strings.TrimSpace(windowNo) == "" {
		return models.Ticket{}, invalidInput("window_no is required")
	}
	return m.transition(ctx, ticketID, store.ActionServe, windowNo)
}

func (m *TicketManager) Finish(ctx context.Context, ticketID string) (models.Ticket, error) {
	return m.transition(ctx, ticketID, store.ActionFinish, "")
}

func (m *TicketManager) Cancel(ctx context.Context, ticketID string) (models.Ticket, error) {
	return m.transition(ctx, ticketID, store.ActionCancel, "")
}

func (m *TicketManager) CancelByOfficeAndNumber(ctx context.Context, office string, officeTicketNo int) (ticket models.Ticket, err error) {
	ctx, span := startSpan(ctx, "TicketManager.CancelByOfficeAndNumber", attribute.String("office", office), attribute.Int("office_ticket_no", officeTicketNo))
	defer func() { endSpan(span, err) }()

	office = strings.TrimSpace(office)
	if office == "" {
		return models.Ticket{}, invalidInput("office is required")
	}
	ticket, err = m.store.CancelTicketByNumber(ctx, office, officeTicketNo)
	if err != nil {
		return models.Ticket{}, err
	}
	metrics.TicketTransitions.WithLabelValues(store.ActionCancel).Inc()
	return ticket, nil
}

// UpdateStatus drives the same state machine from a target status. A target
// of waiting, or anything unknown, is rejected.
func (m *TicketManager) UpdateStatus(ctx context.Context, ticketID, status, windowNo string) (models.Ticket, error) {
	action, ok := store.ActionFor(strings.TrimSpace(status))
	if !ok {
		return models.Ticket{}, store.ErrInvalidTransition
	}
	return m.transition(ctx, ticketID, action, windowNo)
}

func (m *TicketManager) ResetOfficeNumbering(ctx context.Context, office string) (affected int64, err error) {
	ctx, span := startSpan(ctx, "TicketManager.ResetOfficeNumbering", attribute.String("office", office))
	defer func() { endSpan(span, err) }()

	office = strings.TrimSpace(office)
	if office == "" {
		return 0, invalidInput("office is required")
	}
	affected, err = m.store.ResetOfficeNumbering(ctx, office)
	if err != nil {
		return 0, err
	}
	m.log.WithFields(logrus.Fields{"office": office, "affected": affected}).Info("office numbering reset")
	return affected, nil
}

func (m *TicketManager) ResetAllNumbering(ctx context.Context) (affected int64, err error) {
	ctx, span := startSpan(ctx, "TicketManager.ResetAllNumbering")
	defer func() { endSpan(span, err) }()

	affected, err = m.store.ResetAllNumbering(ctx)
	if err != nil {
		return 0, err
	}
	m.log.WithField("affected", affected).Info("numbering reset for all offices")
	return affected, nil
}

func (m *TicketManager) ListOfficeTickets(ctx context.Context, office string) ([]models.Ticket, error) {
	return m.store.ListOfficeTickets(ctx, strings.TrimSpace(office))
}

func (m *TicketManager) ListUserTickets(ctx context.Context, userID string) ([]models.Ticket, error) {
	return m.store.ListUserTickets(ctx, strings.TrimSpace(userID))
}

func (m *TicketManager) WaitingCount(ctx context.Context, office string) (int, error) {
	return m.store.CountWaiting(ctx, strings.TrimSpace(office))
}

func (m *TicketManager) transition(ctx context.Context, ticketID, action, windowNo string) (ticket models.Ticket, err error) {
	ctx, span := startSpan(ctx, "TicketManager."+action, attribute.String("ticket_id", ticketID))
	defer func() { endSpan(span, err) }()

	ticketID = strings.TrimSpace(ticketID)
	if ticketID == "" {
		return models.Ticket{}, invalidInput("ticket_id is required")
	}
	input := store.TransitionInput{
		TicketID:   ticketID,
		Action:     action,
		WindowNo:   strings.TrimSpace(windowNo),
		OccurredAt: m.clock.Now(),
	}
	if action == store.ActionServe && input.WindowNo != "" {
		input.FormData = models.Payload{"window": input.WindowNo}
	}

	ticket, err = m.store.TransitionTicket(ctx, input)
	if err != nil {
		if action == store.ActionCancel && (errors.Is(err, store.ErrTicketNotFound) || errors.Is(err, store.ErrInvalidTransition)) {
			return models.Ticket{}, store.ErrNotFoundOrAlreadyTerminal
		}
		return models.Ticket{}, err
	}

	metrics.TicketTransitions.WithLabelValues(action).Inc()
	m.log.WithFields(logrus.Fields{
		"ticket_id": ticket.TicketID,
		"office":    ticket.Office,
		"status":    ticket.Status,
	}).Info("ticket transitioned")

	switch action {
	case store.ActionCall:
		m.notifier.TicketCalled(ticket)
	case store.ActionServe:
		m.notifier.TicketServing(ticket)
	}
	return ticket, nil
}
