package scheduler

import (
	"context"
	"strings"
	"time"

	"qms/scheduler/internal/clock"
	"qms/scheduler/internal/metrics"
	"qms/scheduler/internal/models"
	"qms/scheduler/internal/store"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

const OriginAppointment = "appointment"

type AppointmentManager struct {
	store    store.AppointmentStore
	clock    clock.Clock
	slots    *SlotChecker
	notifier Notifier
	log      logrus.FieldLogger
}

func NewAppointmentManager(s store.AppointmentStore, c clock.Clock, slots *SlotChecker, notifier Notifier, log logrus.FieldLogger) *AppointmentManager {
	return &AppointmentManager{store: s, clock: c, slots: slots, notifier: notifier, log: log}
}

type BookRequest struct {
	UserID         string
	Name           string
	Office         string
	Service        string
	Date           time.Time
	Time           string
	AdditionalInfo models.Payload
	PriorityLane   bool
}

func (m *AppointmentManager) Book(ctx context.Context, req BookRequest) (appt models.Appointment, err error) {
	ctx, span := startSpan(ctx, "AppointmentManager.Book", attribute.String("office", req.Office))
	defer func() { endSpan(span, err) }()

	userID := strings.TrimSpace(req.UserID)
	office := strings.TrimSpace(req.Office)
	if userID == "" {
		return models.Appointment{}, invalidInput("user_id is required")
	}
	hour, err := models.ParseSlotTime(req.Time)
	if err != nil {
		return models.Appointment{}, invalidInput("%v", err)
	}

	available, err := m.slots.IsAvailable(ctx, office, req.Date, hour)
	if err != nil {
		return models.Appointment{}, err
	}
	if !available {
		return models.Appointment{}, store.ErrSlotFull
	}

	appt, err = m.store.CreateAppointment(ctx, store.CreateAppointmentInput{
		UserID:         userID,
		Name:           strings.TrimSpace(req.Name),
		Office:         office,
		Service:        strings.TrimSpace(req.Service),
		Date:           clock.DateOf(req.Date),
		Hour:           hour,
		AdditionalInfo: req.AdditionalInfo,
		PriorityLane:   req.PriorityLane,
		Capacity:       m.slots.capacity(office),
		CreatedAt:      m.clock.Now(),
	})
	if err != nil {
		return models.Appointment{}, err
	}

	metrics.AppointmentsBooked.WithLabelValues(appt.Office).Inc()
	m.log.WithFields(logrus.Fields{
		"appointment_id": appt.AppointmentID,
		"office":         appt.Office,
		"date":           appt.AppointmentDate,
		"time":           appt.AppointmentTime,
	}).Info("appointment booked")
	m.notifier.AppointmentBooked(appt)
	return appt, nil
}

// Confirm flips a pending appointment to confirmed and issues its priority
// ticket in the same store transaction. A duplicate active ticket leaves the
// appointment pending.
func (m *AppointmentManager) Confirm(ctx context.Context, appointmentID string) (appt models.Appointment, ticket models.Ticket, err error) {
	ctx, span := startSpan(ctx, "AppointmentManager.Confirm", attribute.String("appointment_id", appointmentID))
	defer func() { endSpan(span, err) }()

	appointmentID = strings.TrimSpace(appointmentID)
	if appointmentID == "" {
		return models.Appointment{}, models.Ticket{}, invalidInput("appointment_id is required")
	}
	now := m.clock.Now()
	appt, ticket, err = m.store.ConfirmAppointment(ctx, appointmentID, func(a models.Appointment) store.CreateTicketInput {
		return store.CreateTicketInput{
			UserID:         a.UserID,
			Name:           a.Name,
			Office:         a.Office,
			Service:        a.Service,
			AdditionalInfo: a.AdditionalInfo,
			FormData: models.Payload{
				"appointmentId":   a.AppointmentID,
				"appointmentDate": a.AppointmentDate,
				"appointmentTime": a.AppointmentTime,
				"origin":          OriginAppointment,
			},
			PriorityLane: true,
			CreatedAt:    now,
		}
	})
	if err != nil {
		return models.Appointment{}, models.Ticket{}, err
	}

	metrics.AppointmentsConfirmed.WithLabelValues(appt.Office).Inc()
	metrics.TicketsCreated.WithLabelValues(ticket.Office).Inc()
	m.log.WithFields(logrus.Fields{
		"appointment_id": appt.AppointmentID,
		"ticket_id":      ticket.TicketID,
		"office":         appt.Office,
	}).Info("appointment confirmed")
	m.notifier.AppointmentConfirmed(appt, ticket)
	return appt, ticket, nil
}

// CancelAppointment withdraws a pending booking. Confirmed appointments are
// withdrawn through their ticket instead.
func (m *AppointmentManager) CancelAppointment(ctx context.Context, appointmentID string) (models.Appointment, error) {
	appt, err := m.store.CancelAppointment(ctx, strings.TrimSpace(appointmentID))
	if err != nil {
		return models.Appointment{}, err
	}
	m.log.WithField("appointment_id", appt.AppointmentID).Info("appointment cancelled")
	return appt, nil
}

func (m *AppointmentManager) GetAppointment(ctx context.Context, appointmentID string) (models.Appointment, error) {
	return m.store.GetAppointment(ctx, strings.TrimSpace(appointmentID))
}

func (m *AppointmentManager) ListUserAppointments(ctx context.Context, userID string) ([]models.Appointment, error) {
	return m.store.ListUserAppointments(ctx, strings.TrimSpace(userID))
}
