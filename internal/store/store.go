package store

import (
	"context"
	"time"

	"qms/scheduler/internal/models"
)

type CreateTicketInput struct {
	UserID         string
	Name           string
	Office         string
	Service        string
	AdditionalInfo models.Payload
	FormData       models.Payload
	PriorityLane   bool
	CreatedAt      time.Time
}

// TransitionInput moves one ticket along the state machine. WindowNo is only
// written when non-empty; FormData keys are merged into the stored payload.
type TransitionInput struct {
	TicketID   string
	Action     string
	WindowNo   string
	FormData   models.Payload
	OccurredAt time.Time
}

type CreateAppointmentInput struct {
	UserID         string
	Name           string
	Office         string
	Service        string
	Date           time.Time
	Hour           int
	AdditionalInfo models.Payload
	PriorityLane   bool
	Capacity       int
	CreatedAt      time.Time
}

// TicketBuilder derives the linked ticket from a locked, still pending
// appointment.
type TicketBuilder func(appointment models.Appointment) CreateTicketInput

type TicketStore interface {
	CreateTicket(ctx context.Context, input CreateTicketInput) (models.Ticket, error)
	GetTicket(ctx context.Context, ticketID string) (models.Ticket, error)
	TransitionTicket(ctx context.Context, input TransitionInput) (models.Ticket, error)
	CancelTicketByNumber(ctx context.Context, office string, officeTicketNo int) (models.Ticket, error)
	ResetOfficeNumbering(ctx context.Context, office string) (int64, error)
	ResetAllNumbering(ctx context.Context) (int64, error)
	ListActiveTickets(ctx context.Context, office string) ([]models.Ticket, error)
	ListOfficeTickets(ctx context.Context, office string) ([]models.Ticket, error)
	ListUserTickets(ctx context.Context, userID string) ([]models.Ticket, error)
	CountWaiting(ctx context.Context, office string) (int, error)
	NowServing(ctx context.Context, office string) (*int, error)
}

type AppointmentStore interface {
	// CountSlotBookings returns pending and confirmed bookings keyed by hour.
	CountSlotBookings(ctx context.Context, office string, date time.Time) (map[int]int, error)
	CreateAppointment(ctx context.Context, input CreateAppointmentInput) (models.Appointment, error)
	GetAppointment(ctx context.Context, appointmentID string) (models.Appointment, error)
	ListUserAppointments(ctx context.Context, userID string) ([]models.Appointment, error)
	ConfirmAppointment(ctx context.Context, appointmentID string, build TicketBuilder) (models.Appointment, models.Ticket, error)
	CancelAppointment(ctx context.Context, appointmentID string) (models.Appointment, error)
}

type Store interface {
	TicketStore
	AppointmentStore
}
