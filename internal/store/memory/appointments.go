package memory

import (
	"context"
	"sort"
	"time"

	"qms/scheduler/internal/models"
	"qms/scheduler/internal/store"

	"github.com/google/uuid"
)

func (s *Store) CountSlotBookings(ctx context.Context, office string, date time.Time) (map[int]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countSlotBookingsLocked(office, date.Format(models.DateLayout)), nil
}

func (s *Store) countSlotBookingsLocked(office, date string) map[int]int {
	counts := make(map[int]int)
	for _, appt := range s.appointments {
		if appt.Office != office || appt.AppointmentDate != date {
			continue
		}
		if appt.Status == models.AppointmentCancelled {
			continue
		}
		counts[appt.Hour()]++
	}
	return counts
}

func (s *Store) CreateAppointment(ctx context.Context, input store.CreateAppointmentInput) (models.Appointment, error) {
	if err := ctx.Err(); err != nil {
		return models.Appointment{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	date := input.Date.Format(models.DateLayout)
	if input.Capacity > 0 && s.countSlotBookingsLocked(input.Office, date)[input.Hour] >= input.Capacity {
		return models.Appointment{}, store.ErrSlotFull
	}
	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	appt := &models.Appointment{
		AppointmentID:   uuid.NewString(),
		UserID:          input.UserID,
		Name:            input.Name,
		Office:          input.Office,
		Service:         input.Service,
		AppointmentDate: date,
		AppointmentTime: models.FormatSlotTime(input.Hour),
		AdditionalInfo:  clonePayload(input.AdditionalInfo),
		PriorityLane:    input.PriorityLane,
		Status:          models.AppointmentPending,
		CreatedAt:       createdAt,
	}
	s.appointments = append(s.appointments, appt)
	s.apptIndex[appt.AppointmentID] = appt
	return copyAppointment(appt), nil
}

func (s *Store) GetAppointment(ctx context.Context, appointmentID string) (models.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	appt, ok := s.apptIndex[appointmentID]
	if !ok {
		return models.Appointment{}, store.ErrAppointmentNotFound
	}
	return copyAppointment(appt), nil
}

func (s *Store) ListUserAppointments(ctx context.Context, userID string) ([]models.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Appointment, 0)
	for i := len(s.appointments) - 1; i >= 0; i-- {
		if s.appointments[i].UserID == userID {
			out = append(out, copyAppointment(s.appointments[i]))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].AppointmentDate != out[j].AppointmentDate {
			return out[i].AppointmentDate > out[j].AppointmentDate
		}
		return out[i].Hour() > out[j].Hour()
	})
	return out, nil
}

func (s *Store) ConfirmAppointment(ctx context.Context, appointmentID string, build store.TicketBuilder) (models.Appointment, models.Ticket, error) {
	if err := ctx.Err(); err != nil {
		return models.Appointment{}, models.Ticket{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	appt, ok := s.apptIndex[appointmentID]
	if !ok {
		return models.Appointment{}, models.Ticket{}, store.ErrAppointmentNotFound
	}
	if appt.Status != models.AppointmentPending {
		return models.Appointment{}, models.Ticket{}, store.ErrInvalidTransition
	}
	// The ticket is created before the status flips, so a duplicate leaves
	// the appointment pending.
	ticket, err := s.createTicketLocked(build(copyAppointment(appt)))
	if err != nil {
		return models.Appointment{}, models.Ticket{}, err
	}
	appt.Status = models.AppointmentConfirmed
	return copyAppointment(appt), copyTicket(ticket), nil
}

func (s *Store) CancelAppointment(ctx context.Context, appointmentID string) (models.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	appt, ok := s.apptIndex[appointmentID]
	if !ok {
		return models.Appointment{}, store.ErrAppointmentNotFound
	}
	if appt.Status != models.AppointmentPending {
		return models.Appointment{}, store.ErrInvalidTransition
	}
	appt.Status = models.AppointmentCancelled
	return copyAppointment(appt), nil
}

func copyAppointment(a *models.Appointment) models.Appointment {
	out := *a
	out.AdditionalInfo = clonePayload(a.AdditionalInfo)
	return out
}
