package scheduler

import (
	"sync"
	"testing"
	"time"

	"qms/scheduler/internal/clock"
	"qms/scheduler/internal/models"
	"qms/scheduler/internal/store/memory"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

// 2024-05-06 is a Monday.
var now = time.Date(2024, 5, 6, 10, 15, 0, 0, time.UTC)

type recordingNotifier struct {
	mu        sync.Mutex
	called    []models.Ticket
	serving   []models.Ticket
	booked    []models.Appointment
	confirmed []models.Appointment
}

func (n *recordingNotifier) TicketCalled(t models.Ticket) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.called = append(n.called, t)
}

func (n *recordingNotifier) TicketServing(t models.Ticket) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.serving = append(n.serving, t)
}

func (n *recordingNotifier) AppointmentBooked(a models.Appointment) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.booked = append(n.booked, a)
}

func (n *recordingNotifier) AppointmentConfirmed(a models.Appointment, _ models.Ticket) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.confirmed = append(n.confirmed, a)
}

type fixture struct {
	svc      *Service
	store    *memory.Store
	clock    *clock.FakeClock
	notifier *recordingNotifier
}

func newFixture(t *testing.T, policy Policy) fixture {
	t.Helper()
	logger, _ := test.NewNullLogger()
	logger.SetLevel(logrus.PanicLevel)
	f := fixture{
		store:    memory.NewStore(),
		clock:    clock.Fake(now),
		notifier: &recordingNotifier{},
	}
	f.svc = New(Deps{
		Store:    f.store,
		Clock:    f.clock,
		Policy:   policy,
		Notifier: f.notifier,
		Logger:   logger,
	})
	return f
}

func tomorrow() time.Time {
	return time.Date(2024, 5, 7, 0, 0, 0, 0, time.UTC)
}
