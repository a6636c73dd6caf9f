package notify

import (
	"context"
	"time"

	"qms/scheduler/internal/metrics"
	"qms/scheduler/internal/models"

	"github.com/sirupsen/logrus"
)

const (
	defaultBuffer  = 256
	defaultTimeout = 5 * time.Second
)

type Options struct {
	Buffer  int
	Timeout time.Duration
	Logger  logrus.FieldLogger
}

// Trigger turns committed transitions into intents and delivers them on a
// single dispatcher goroutine. Enqueueing never blocks; a full buffer drops
// the intent.
type Trigger struct {
	sink    Sink
	queue   chan Intent
	timeout time.Duration
	log     logrus.FieldLogger
}

func NewTrigger(sink Sink, opts Options) *Trigger {
	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Trigger{
		sink:    sink,
		queue:   make(chan Intent, buffer),
		timeout: timeout,
		log:     logger.WithField("sink", sink.Name()),
	}
}

func (t *Trigger) TicketCalled(ticket models.Ticket) {
	t.enqueue(ticketIntent(KindTicketCalled, ticket))
}

func (t *Trigger) TicketServing(ticket models.Ticket) {
	t.enqueue(ticketIntent(KindTicketServing, ticket))
}

func (t *Trigger) AppointmentBooked(appt models.Appointment) {
	t.enqueue(bookedIntent(appt))
}

func (t *Trigger) AppointmentConfirmed(appt models.Appointment, ticket models.Ticket) {
	t.enqueue(confirmedIntent(appt, ticket))
}

func (t *Trigger) enqueue(intent Intent) {
	select {
	case t.queue <- intent:
	default:
		metrics.NotificationsDropped.Inc()
		t.log.WithFields(logrus.Fields{
			"kind":      intent.Kind,
			"recipient": intent.Recipient,
		}).Warn("notification buffer full, dropping intent")
	}
}

// Run delivers queued intents until ctx is done, then flushes whatever is
// still buffered using a fresh deadline per intent.
func (t *Trigger) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			t.drain()
			return nil
		case intent := <-t.queue:
			t.deliver(ctx, intent)
		}
	}
}

func (t *Trigger) drain() {
	for {
		select {
		case intent := <-t.queue:
			t.deliver(context.Background(), intent)
		default:
			return
		}
	}
}

func (t *Trigger) deliver(ctx context.Context, intent Intent) {
	sendCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	if err := t.sink.Send(sendCtx, intent); err != nil {
		metrics.NotificationsFailed.WithLabelValues(t.sink.Name(), intent.Kind).Inc()
		t.log.WithError(err).WithFields(logrus.Fields{
			"kind":      intent.Kind,
			"recipient": intent.Recipient,
		}).Error("notification delivery failed")
		return
	}
	metrics.NotificationsSent.WithLabelValues(t.sink.Name(), intent.Kind).Inc()
}
