package scheduler

import (
	"context"
	"strings"
	"time"

	"qms/scheduler/internal/clock"
	"qms/scheduler/internal/models"
	"qms/scheduler/internal/store"

	"go.opentelemetry.io/otel/attribute"
)

const (
	DefaultSlotCapacity = 10
	FirstSlotHour       = 9
	LastSlotHour        = 16
)

type SlotChecker struct {
	store  store.AppointmentStore
	clock  clock.Clock
	policy Policy
}

func NewSlotChecker(s store.AppointmentStore, c clock.Clock, policy Policy) *SlotChecker {
	return &SlotChecker{store: s, clock: c, policy: policy}
}

// IsAvailable reports whether the (office, date, hour) bucket has room.
func (c *SlotChecker) IsAvailable(ctx context.Context, office string, date time.Time, hour int) (available bool, err error) {
	ctx, span := startSpan(ctx, "SlotChecker.IsAvailable", attribute.String("office", office), attribute.Int("hour", hour))
	defer func() { endSpan(span, err) }()

	office = strings.TrimSpace(office)
	if err = c.validate(office, date); err != nil {
		return false, err
	}
	if hour < FirstSlotHour || hour > LastSlotHour {
		return false, invalidInput("hour %d is outside %02d:00-%02d:00", hour, FirstSlotHour, LastSlotHour)
	}
	counts, err := c.store.CountSlotBookings(ctx, office, date)
	if err != nil {
		return false, err
	}
	return counts[hour] < c.capacity(office), nil
}

// ListSlots enumerates the hourly window for one day.
func (c *SlotChecker) ListSlots(ctx context.Context, office string, date time.Time) (slots []models.Slot, err error) {
	ctx, span := startSpan(ctx, "SlotChecker.ListSlots", attribute.String("office", office))
	defer func() { endSpan(span, err) }()

	office = strings.TrimSpace(office)
	if err = c.validate(office, date); err != nil {
		return nil, err
	}
	counts, err := c.store.CountSlotBookings(ctx, office, date)
	if err != nil {
		return nil, err
	}
	capacity := c.capacity(office)
	slots = make([]models.Slot, 0, LastSlotHour-FirstSlotHour+1)
	for hour := FirstSlotHour; hour <= LastSlotHour; hour++ {
		slots = append(slots, models.Slot{
			Time:      models.FormatSlotTime(hour),
			Hour:      hour,
			Booked:    counts[hour],
			Capacity:  capacity,
			Available: counts[hour] < capacity,
		})
	}
	return slots, nil
}

// validate runs before any count so an invalid date never touches the store.
func (c *SlotChecker) validate(office string, date time.Time) error {
	if office == "" {
		return invalidInput("office is required")
	}
	if !clock.DateOf(date).After(clock.Today(c.clock)) {
		return store.ErrInvalidDate
	}
	return nil
}

func (c *SlotChecker) capacity(office string) int {
	if capacity := c.policy.Capacity(office); capacity > 0 {
		return capacity
	}
	return DefaultSlotCapacity
}
