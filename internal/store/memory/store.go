// Package memory is an in-process gateway with the same locking semantics as
// the postgres store. A single mutex stands in for the office and slot locks.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"qms/scheduler/internal/models"
	"qms/scheduler/internal/store"

	"github.com/google/uuid"
)

type Store struct {
	mu           sync.Mutex
	tickets      []*models.Ticket
	ticketIndex  map[string]*models.Ticket
	appointments []*models.Appointment
	apptIndex    map[string]*models.Appointment
}

func NewStore() *Store {
	return &Store{
		ticketIndex: make(map[string]*models.Ticket),
		apptIndex:   make(map[string]*models.Appointment),
	}
}

var _ store.Store = (*Store)(nil)

func (s *Store) CreateTicket(ctx context.Context, input store.CreateTicketInput) (models.Ticket, error) {
	if err := ctx.Err(); err != nil {
		return models.Ticket{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ticket, err := s.createTicketLocked(input)
	if err != nil {
		return models.Ticket{}, err
	}
	return copyTicket(ticket), nil
}

func (s *Store) createTicketLocked(input store.CreateTicketInput) (*models.Ticket, error) {
	maxNo := 0
	for _, existing := range s.tickets {
		if existing.Office != input.Office {
			continue
		}
		if existing.UserID == input.UserID && existing.Active() {
			return nil, store.ErrDuplicateActiveRequest
		}
		if existing.OfficeTicketNo != nil && *existing.OfficeTicketNo > maxNo {
			maxNo = *existing.OfficeTicketNo
		}
	}
	number := maxNo + 1
	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	ticket := &models.Ticket{
		TicketID:       uuid.NewString(),
		OfficeTicketNo: &number,
		UserID:         input.UserID,
		Name:           input.Name,
		Office:         input.Office,
		Service:        input.Service,
		AdditionalInfo: clonePayload(input.AdditionalInfo),
		FormData:       clonePayload(input.FormData),
		PriorityLane:   input.PriorityLane,
		Status:         models.StatusWaiting,
		CreatedAt:      createdAt,
	}
	s.tickets = append(s.tickets, ticket)
	s.ticketIndex[ticket.TicketID] = ticket
	return ticket, nil
}

func (s *Store) GetTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ticket, ok := s.ticketIndex[ticketID]
	if !ok {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	return copyTicket(ticket), nil
}

func (s *Store) TransitionTicket(ctx context.Context, input store.TransitionInput) (models.Ticket, error) {
	if err := ctx.Err(); err != nil {
		return models.Ticket{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ticket, ok := s.ticketIndex[input.TicketID]
	if !ok {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	if err := applyTransition(ticket, input); err != nil {
		return models.Ticket{}, err
	}
	return copyTicket(ticket), nil
}

func (s *Store) CancelTicketByNumber(ctx context.Context, office string, officeTicketNo int) (models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ticket := range s.tickets {
		if ticket.Office != office || ticket.OfficeTicketNo == nil || *ticket.OfficeTicketNo != officeTicketNo {
			continue
		}
		if !ticket.Active() {
			continue
		}
		if err := applyTransition(ticket, store.TransitionInput{TicketID: ticket.TicketID, Action: store.ActionCancel}); err != nil {
			return models.Ticket{}, err
		}
		return copyTicket(ticket), nil
	}
	return models.Ticket{}, store.ErrNotFoundOrAlreadyTerminal
}

func applyTransition(ticket *models.Ticket, input store.TransitionInput) error {
	if !store.ValidTransition(input.Action, ticket.Status) {
		return store.ErrInvalidTransition
	}
	target, _ := store.TargetStatus(input.Action)
	ticket.Status = target
	if input.WindowNo != "" {
		window := input.WindowNo
		ticket.WindowNo = &window
	}
	if input.Action == store.ActionCall {
		calledAt := input.OccurredAt
		ticket.CalledAt = &calledAt
	}
	if len(input.FormData) > 0 {
		merged := clonePayload(ticket.FormData)
		if merged == nil {
			merged = models.Payload{}
		}
		for k, v := range input.FormData {
			merged[k] = v
		}
		ticket.FormData = merged
	}
	return nil
}

func (s *Store) ResetOfficeNumbering(ctx context.Context, office string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var affected int64
	for _, ticket := range s.tickets {
		if ticket.Office == office && ticket.OfficeTicketNo != nil {
			ticket.OfficeTicketNo = nil
			affected++
		}
	}
	return affected, nil
}

func (s *Store) ResetAllNumbering(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var affected int64
	for _, ticket := range s.tickets {
		if ticket.OfficeTicketNo != nil {
			ticket.OfficeTicketNo = nil
			affected++
		}
	}
	return affected, nil
}

func (s *Store) ListActiveTickets(ctx context.Context, office string) ([]models.Ticket, error) {
	return s.filterTickets(func(t *models.Ticket) bool {
		return t.Office == office && t.Active()
	}), nil
}

func (s *Store) ListOfficeTickets(ctx context.Context, office string) ([]models.Ticket, error) {
	return s.filterTickets(func(t *models.Ticket) bool { return t.Office == office }), nil
}

func (s *Store) ListUserTickets(ctx context.Context, userID string) ([]models.Ticket, error) {
	tickets := s.filterTickets(func(t *models.Ticket) bool { return t.UserID == userID })
	// newest first; reversing insertion order keeps equal timestamps stable
	for i, j := 0, len(tickets)-1; i < j; i, j = i+1, j-1 {
		tickets[i], tickets[j] = tickets[j], tickets[i]
	}
	sort.SliceStable(tickets, func(i, j int) bool {
		return tickets[i].CreatedAt.After(tickets[j].CreatedAt)
	})
	return tickets, nil
}

func (s *Store) CountWaiting(ctx context.Context, office string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, ticket := range s.tickets {
		if ticket.Office == office && ticket.Status == models.StatusWaiting {
			count++
		}
	}
	return count, nil
}

func (s *Store) NowServing(ctx context.Context, office string) (*int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var earliest *models.Ticket
	for _, ticket := range s.tickets {
		if ticket.Office != office || ticket.Status != models.StatusInProgress {
			continue
		}
		if earliest == nil || ticket.CreatedAt.Before(earliest.CreatedAt) {
			earliest = ticket
		}
	}
	if earliest == nil || earliest.OfficeTicketNo == nil {
		return nil, nil
	}
	number := *earliest.OfficeTicketNo
	return &number, nil
}

// filterTickets returns matching tickets in arrival order.
func (s *Store) filterTickets(match func(*models.Ticket) bool) []models.Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Ticket, 0)
	for _, ticket := range s.tickets {
		if match(ticket) {
			out = append(out, copyTicket(ticket))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func copyTicket(t *models.Ticket) models.Ticket {
	out := *t
	out.AdditionalInfo = clonePayload(t.AdditionalInfo)
	out.FormData = clonePayload(t.FormData)
	if t.OfficeTicketNo != nil {
		number := *t.OfficeTicketNo
		out.OfficeTicketNo = &number
	}
	if t.WindowNo != nil {
		window := *t.WindowNo
		out.WindowNo = &window
	}
	if t.CalledAt != nil {
		calledAt := *t.CalledAt
		out.CalledAt = &calledAt
	}
	return out
}

func clonePayload(p models.Payload) models.Payload {
	if p == nil {
		return nil
	}
	return p.Clone()
}
