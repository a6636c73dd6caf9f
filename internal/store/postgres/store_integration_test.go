package postgres

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"qms/scheduler/internal/models"
	"qms/scheduler/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var slotDate = time.Date(2030, 1, 15, 0, 0, 0, 0, time.UTC)

func TestCreateTicketConcurrency(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	const workers = 20
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(user string) {
			defer wg.Done()
			_, err := st.CreateTicket(ctx, ticketInput(user, "Library"))
			errs <- err
		}(fmt.Sprint(i))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	tickets, err := st.ListOfficeTickets(ctx, "Library")
	require.NoError(t, err)
	require.Len(t, tickets, workers)
	var numbers []int
	for _, ticket := range tickets {
		require.NotNil(t, ticket.OfficeTicketNo)
		numbers = append(numbers, *ticket.OfficeTicketNo)
	}
	sort.Ints(numbers)
	for i, n := range numbers {
		assert.Equal(t, i+1, n)
	}
}

func TestDuplicateActiveTicketUnderRace(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	var wg sync.WaitGroup
	results := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := st.CreateTicket(ctx, ticketInput("5", "Library"))
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var ok, dup int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case assert.ErrorIs(t, err, store.ErrDuplicateActiveRequest):
			dup++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 4, dup)
}

func TestTransitionTicket(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	ticket, err := st.CreateTicket(ctx, ticketInput("1", "Library"))
	require.NoError(t, err)

	calledAt := time.Date(2030, 1, 14, 9, 30, 0, 0, time.UTC)
	called, err := st.TransitionTicket(ctx, store.TransitionInput{
		TicketID: ticket.TicketID, Action: store.ActionCall, WindowNo: "Window 1", OccurredAt: calledAt,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCalled, called.Status)
	require.NotNil(t, called.WindowNo)
	assert.Equal(t, "Window 1", *called.WindowNo)
	require.NotNil(t, called.CalledAt)
	assert.True(t, calledAt.Equal(*called.CalledAt))

	serving, err := st.TransitionTicket(ctx, store.TransitionInput{
		TicketID: ticket.TicketID, Action: store.ActionServe, WindowNo: "Window 2",
		FormData: models.Payload{"window": "Window 2"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Window 2", *serving.WindowNo)
	assert.Equal(t, "Window 2", serving.FormData.String("window"))
	assert.Equal(t, "value", serving.FormData.String("seed"))

	_, err = st.TransitionTicket(ctx, store.TransitionInput{TicketID: ticket.TicketID, Action: store.ActionCall, WindowNo: "W"})
	require.ErrorIs(t, err, store.ErrInvalidTransition)

	_, err = st.TransitionTicket(ctx, store.TransitionInput{TicketID: uuid.NewString(), Action: store.ActionCall, WindowNo: "W"})
	require.ErrorIs(t, err, store.ErrTicketNotFound)

	serving, err = st.TransitionTicket(ctx, store.TransitionInput{TicketID: ticket.TicketID, Action: store.ActionFinish})
	require.NoError(t, err)
	assert.Equal(t, models.StatusDone, serving.Status)

	number, err := st.NowServing(ctx, "Library")
	require.NoError(t, err)
	assert.Nil(t, number)
}

func TestResetAndCreateAreSerialized(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	for i := 0; i < 3; i++ {
		_, err := st.CreateTicket(ctx, ticketInput(fmt.Sprint("pre", i), "Library"))
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(user string) {
			defer wg.Done()
			_, _ = st.CreateTicket(ctx, ticketInput(user, "Library"))
		}(fmt.Sprint("post", i))
		go func() {
			defer wg.Done()
			_, _ = st.ResetOfficeNumbering(ctx, "Library")
		}()
	}
	wg.Wait()

	tickets, err := st.ListOfficeTickets(ctx, "Library")
	require.NoError(t, err)
	seen := map[int]bool{}
	for _, ticket := range tickets {
		if ticket.OfficeTicketNo == nil {
			continue
		}
		assert.False(t, seen[*ticket.OfficeTicketNo], "duplicate number %d", *ticket.OfficeTicketNo)
		seen[*ticket.OfficeTicketNo] = true
	}

	affected, err := st.ResetOfficeNumbering(ctx, "Library")
	require.NoError(t, err)
	assert.Equal(t, int64(len(seen)), affected)
	again, err := st.ResetOfficeNumbering(ctx, "Library")
	require.NoError(t, err)
	assert.Equal(t, int64(0), again)

	next, err := st.CreateTicket(ctx, ticketInput("fresh", "Library"))
	require.NoError(t, err)
	assert.Equal(t, 1, *next.OfficeTicketNo)
}

func TestCancelTicketByNumberStore(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	ticket, err := st.CreateTicket(ctx, ticketInput("1", "Registrar"))
	require.NoError(t, err)

	cancelled, err := st.CancelTicketByNumber(ctx, "Registrar", *ticket.OfficeTicketNo)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, cancelled.Status)

	_, err = st.CancelTicketByNumber(ctx, "Registrar", *ticket.OfficeTicketNo)
	require.ErrorIs(t, err, store.ErrNotFoundOrAlreadyTerminal)
}

func TestSlotCapacityUnderRace(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	var wg sync.WaitGroup
	results := make(chan error, 15)
	for i := 0; i < 15; i++ {
		wg.Add(1)
		go func(user string) {
			defer wg.Done()
			_, err := st.CreateAppointment(ctx, appointmentInput(user, 9))
			results <- err
		}(fmt.Sprint(i))
	}
	wg.Wait()
	close(results)

	var ok, full int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case assert.ErrorIs(t, err, store.ErrSlotFull):
			full++
		}
	}
	assert.Equal(t, 10, ok)
	assert.Equal(t, 5, full)

	counts, err := st.CountSlotBookings(ctx, "Registrar", slotDate)
	require.NoError(t, err)
	assert.Equal(t, 10, counts[9])
}

func TestConfirmAppointmentRollsBackOnDuplicate(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	appt, err := st.CreateAppointment(ctx, appointmentInput("7", 10))
	require.NoError(t, err)
	assert.Equal(t, "2030-01-15", appt.AppointmentDate)
	assert.Equal(t, "10:00", appt.AppointmentTime)

	_, err = st.CreateTicket(ctx, ticketInput("7", "Registrar"))
	require.NoError(t, err)

	_, _, err = st.ConfirmAppointment(ctx, appt.AppointmentID, linkedTicket)
	require.ErrorIs(t, err, store.ErrDuplicateActiveRequest)

	stored, err := st.GetAppointment(ctx, appt.AppointmentID)
	require.NoError(t, err)
	assert.Equal(t, models.AppointmentPending, stored.Status)
}

func TestConfirmAndCancelAppointment(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	appt, err := st.CreateAppointment(ctx, appointmentInput("8", 11))
	require.NoError(t, err)

	confirmed, ticket, err := st.ConfirmAppointment(ctx, appt.AppointmentID, linkedTicket)
	require.NoError(t, err)
	assert.Equal(t, models.AppointmentConfirmed, confirmed.Status)
	assert.True(t, ticket.PriorityLane)
	assert.Equal(t, appt.AppointmentID, ticket.FormData.String("appointmentId"))

	_, _, err = st.ConfirmAppointment(ctx, appt.AppointmentID, linkedTicket)
	require.ErrorIs(t, err, store.ErrInvalidTransition)
	_, err = st.CancelAppointment(ctx, appt.AppointmentID)
	require.ErrorIs(t, err, store.ErrInvalidTransition)
	_, err = st.CancelAppointment(ctx, uuid.NewString())
	require.ErrorIs(t, err, store.ErrAppointmentNotFound)
	_, _, err = st.ConfirmAppointment(ctx, uuid.NewString(), linkedTicket)
	require.ErrorIs(t, err, store.ErrAppointmentNotFound)

	appts, err := st.ListUserAppointments(ctx, "8")
	require.NoError(t, err)
	require.Len(t, appts, 1)
}

func ticketInput(user, office string) store.CreateTicketInput {
	return store.CreateTicketInput{
		UserID:    user,
		Name:      "User " + user,
		Office:    office,
		Service:   "Enrollment",
		FormData:  models.Payload{"seed": "value"},
		CreatedAt: time.Now().UTC(),
	}
}

func appointmentInput(user string, hour int) store.CreateAppointmentInput {
	return store.CreateAppointmentInput{
		UserID:   user,
		Name:     "User " + user,
		Office:   "Registrar",
		Service:  "Transcript",
		Date:     slotDate,
		Hour:     hour,
		Capacity: 10,
	}
}

func linkedTicket(appt models.Appointment) store.CreateTicketInput {
	return store.CreateTicketInput{
		UserID:       appt.UserID,
		Name:         appt.Name,
		Office:       appt.Office,
		Service:      appt.Service,
		PriorityLane: true,
		FormData:     models.Payload{"appointmentId": appt.AppointmentID, "origin": "appointment"},
	}
}

func setupTestStore(t *testing.T, ctx context.Context) (*Store, *pgxpool.Pool, func()) {
	t.Helper()
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		dsn = containerDSN
	}
	if dsn == "" {
		t.Skip("TEST_DB_DSN or QMS_TESTCONTAINERS=1 is required for integration tests")
	}

	schema := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := createSchema(ctx, dsn, schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	pool, err := newPoolWithSchema(ctx, dsn, schema)
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}
	if err := applyMigrations(ctx, pool); err != nil {
		pool.Close()
		t.Fatalf("apply migrations: %v", err)
	}

	cleanup := func() {
		pool.Close()
		_ = dropSchema(context.Background(), dsn, schema)
	}
	return NewStore(pool), pool, cleanup
}

func createSchema(ctx context.Context, dsn, schema string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, "CREATE SCHEMA "+schema)
	return err
}

func dropSchema(ctx context.Context, dsn, schema string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, "DROP SCHEMA "+schema+" CASCADE")
	return err
}

func newPoolWithSchema(ctx context.Context, dsn, schema string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	return pgxpool.NewWithConfig(ctx, cfg)
}

func applyMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	dir := filepath.Join("..", "..", "..", "migrations")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		files = append(files, entry.Name())
	}
	sort.Strings(files)
	for _, name := range files {
		content, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		if strings.TrimSpace(string(content)) == "" {
			continue
		}
		if _, err := pool.Exec(ctx, string(content)); err != nil {
			return err
		}
	}
	return nil
}
