package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"qms/scheduler/internal/models"
	"qms/scheduler/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2024, 5, 6, 8, 0, 0, 0, time.UTC)

func newTicketInput(user, office string) store.CreateTicketInput {
	return store.CreateTicketInput{
		UserID:    user,
		Name:      "User " + user,
		Office:    office,
		Service:   "Enrollment",
		CreatedAt: baseTime,
	}
}

func TestCreateTicketNumbersPerOffice(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	a, err := s.CreateTicket(ctx, newTicketInput("1", "Library"))
	require.NoError(t, err)
	b, err := s.CreateTicket(ctx, newTicketInput("2", "Library"))
	require.NoError(t, err)
	c, err := s.CreateTicket(ctx, newTicketInput("1", "Registrar"))
	require.NoError(t, err)

	assert.Equal(t, 1, *a.OfficeTicketNo)
	assert.Equal(t, 2, *b.OfficeTicketNo)
	assert.Equal(t, 1, *c.OfficeTicketNo)
	assert.Equal(t, models.StatusWaiting, a.Status)
	assert.NotEmpty(t, a.TicketID)
}

func TestCreateTicketRejectsDuplicateActive(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	first, err := s.CreateTicket(ctx, newTicketInput("5", "Library"))
	require.NoError(t, err)

	_, err = s.CreateTicket(ctx, newTicketInput("5", "Library"))
	require.ErrorIs(t, err, store.ErrDuplicateActiveRequest)

	_, err = s.TransitionTicket(ctx, store.TransitionInput{TicketID: first.TicketID, Action: store.ActionCancel})
	require.NoError(t, err)

	second, err := s.CreateTicket(ctx, newTicketInput("5", "Library"))
	require.NoError(t, err)
	assert.Equal(t, 2, *second.OfficeTicketNo)
}

func TestConcurrentCreateAssignsUniqueNumbers(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	const workers = 50
	var wg sync.WaitGroup
	numbers := make(chan int, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ticket, err := s.CreateTicket(ctx, newTicketInput(string(rune('A'+i)), "Library"))
			if err == nil {
				numbers <- *ticket.OfficeTicketNo
			}
		}(i)
	}
	wg.Wait()
	close(numbers)

	seen := map[int]bool{}
	for n := range numbers {
		assert.False(t, seen[n], "duplicate number %d", n)
		seen[n] = true
	}
	assert.Len(t, seen, workers)
}

func TestTransitionTicket(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	ticket, err := s.CreateTicket(ctx, newTicketInput("1", "Library"))
	require.NoError(t, err)

	called, err := s.TransitionTicket(ctx, store.TransitionInput{
		TicketID: ticket.TicketID, Action: store.ActionCall, WindowNo: "Window 1", OccurredAt: baseTime,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCalled, called.Status)
	require.NotNil(t, called.WindowNo)
	assert.Equal(t, "Window 1", *called.WindowNo)
	require.NotNil(t, called.CalledAt)

	_, err = s.TransitionTicket(ctx, store.TransitionInput{TicketID: ticket.TicketID, Action: store.ActionFinish})
	require.ErrorIs(t, err, store.ErrInvalidTransition)

	serving, err := s.TransitionTicket(ctx, store.TransitionInput{
		TicketID: ticket.TicketID, Action: store.ActionServe, WindowNo: "Window 2",
		FormData: models.Payload{"window": "Window 2"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Window 2", *serving.WindowNo)
	assert.Equal(t, "Window 2", serving.FormData.String("window"))

	_, err = s.TransitionTicket(ctx, store.TransitionInput{TicketID: "missing", Action: store.ActionFinish})
	require.ErrorIs(t, err, store.ErrTicketNotFound)
}

func TestCancelTicketByNumber(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	ticket, err := s.CreateTicket(ctx, newTicketInput("1", "Library"))
	require.NoError(t, err)

	cancelled, err := s.CancelTicketByNumber(ctx, "Library", *ticket.OfficeTicketNo)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, cancelled.Status)

	_, err = s.CancelTicketByNumber(ctx, "Library", *ticket.OfficeTicketNo)
	require.ErrorIs(t, err, store.ErrNotFoundOrAlreadyTerminal)

	_, err = s.CancelTicketByNumber(ctx, "Library", 99)
	require.ErrorIs(t, err, store.ErrNotFoundOrAlreadyTerminal)
}

func TestResetOfficeNumberingIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	for _, user := range []string{"1", "2", "3"} {
		_, err := s.CreateTicket(ctx, newTicketInput(user, "Library"))
		require.NoError(t, err)
	}
	_, err := s.CreateTicket(ctx, newTicketInput("1", "Registrar"))
	require.NoError(t, err)

	affected, err := s.ResetOfficeNumbering(ctx, "Library")
	require.NoError(t, err)
	assert.Equal(t, int64(3), affected)

	affected, err = s.ResetOfficeNumbering(ctx, "Library")
	require.NoError(t, err)
	assert.Equal(t, int64(0), affected)

	tickets, err := s.ListOfficeTickets(ctx, "Library")
	require.NoError(t, err)
	for _, ticket := range tickets {
		assert.Nil(t, ticket.OfficeTicketNo)
		assert.Equal(t, models.StatusWaiting, ticket.Status)
	}

	// numbering restarts for the new epoch, other offices untouched
	next, err := s.CreateTicket(ctx, newTicketInput("4", "Library"))
	require.NoError(t, err)
	assert.Equal(t, 1, *next.OfficeTicketNo)

	registrar, err := s.ListOfficeTickets(ctx, "Registrar")
	require.NoError(t, err)
	require.Len(t, registrar, 1)
	assert.NotNil(t, registrar[0].OfficeTicketNo)

	affected, err = s.ResetAllNumbering(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), affected)
}

func TestNowServingAndWaitingCount(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	first := newTicketInput("1", "Library")
	second := newTicketInput("2", "Library")
	second.CreatedAt = baseTime.Add(time.Minute)
	a, err := s.CreateTicket(ctx, first)
	require.NoError(t, err)
	b, err := s.CreateTicket(ctx, second)
	require.NoError(t, err)

	serving, err := s.NowServing(ctx, "Library")
	require.NoError(t, err)
	assert.Nil(t, serving)

	waiting, err := s.CountWaiting(ctx, "Library")
	require.NoError(t, err)
	assert.Equal(t, 2, waiting)

	for _, id := range []string{b.TicketID, a.TicketID} {
		_, err = s.TransitionTicket(ctx, store.TransitionInput{TicketID: id, Action: store.ActionServe, WindowNo: "W"})
		require.NoError(t, err)
	}
	serving, err = s.NowServing(ctx, "Library")
	require.NoError(t, err)
	require.NotNil(t, serving)
	assert.Equal(t, 1, *serving)
}

func TestReturnedTicketsAreCopies(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	input := newTicketInput("1", "Library")
	input.AdditionalInfo = models.Payload{"email": "a@example.com"}
	ticket, err := s.CreateTicket(ctx, input)
	require.NoError(t, err)

	ticket.AdditionalInfo["email"] = "changed"
	*ticket.OfficeTicketNo = 42

	stored, err := s.GetTicket(ctx, ticket.TicketID)
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", stored.AdditionalInfo.String("email"))
	assert.Equal(t, 1, *stored.OfficeTicketNo)
}
