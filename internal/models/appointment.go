package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	DateLayout = "2006-01-02"

	AppointmentPending   = "pending"
	AppointmentConfirmed = "confirmed"
	AppointmentCancelled = "cancelled"
)

type Appointment struct {
	AppointmentID   string    `json:"appointment_id"`
	UserID          string    `json:"user_id"`
	Name            string    `json:"name"`
	Office          string    `json:"office"`
	Service         string    `json:"service"`
	AppointmentDate string    `json:"appointment_date"`
	AppointmentTime string    `json:"appointment_time"`
	AdditionalInfo  Payload   `json:"additional_info,omitempty"`
	PriorityLane    bool      `json:"priority_lane"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
}

// Hour returns the slot hour the appointment occupies.
func (a Appointment) Hour() int {
	hour, _ := ParseSlotTime(a.AppointmentTime)
	return hour
}

// ParseSlotTime accepts "H", "HH", "HH:MM" or "HH:MM:SS" and returns the hour.
func ParseSlotTime(value string) (int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, fmt.Errorf("empty time")
	}
	head, _, _ := strings.Cut(value, ":")
	hour, err := strconv.Atoi(head)
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("invalid time %q", value)
	}
	return hour, nil
}

// FormatSlotTime renders an hour as the canonical "HH:00" slot label.
func FormatSlotTime(hour int) string {
	return fmt.Sprintf("%02d:00", hour)
}

// ParseDate parses a civil date in YYYY-MM-DD form.
func ParseDate(value string) (time.Time, error) {
	return time.Parse(DateLayout, strings.TrimSpace(value))
}
