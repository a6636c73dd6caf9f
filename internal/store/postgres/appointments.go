package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"qms/scheduler/internal/models"
	"qms/scheduler/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const appointmentColumns = `appointment_id, user_id, name, office, service, appointment_date,
	appointment_hour, additional_info, priority_lane, status, created_at`

func (s *Store) CountSlotBookings(ctx context.Context, office string, date time.Time) (map[int]int, error) {
	return retryRead(ctx, func() (map[int]int, error) {
		return countSlotBookings(ctx, s.pool, office, date)
	})
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func countSlotBookings(ctx context.Context, q querier, office string, date time.Time) (map[int]int, error) {
	rows, err := q.Query(ctx, `
		SELECT appointment_hour, COUNT(*)
		FROM appointments
		WHERE office = $1 AND appointment_date = $2 AND status IN ('pending', 'confirmed')
		GROUP BY appointment_hour
	`, office, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[int]int)
	for rows.Next() {
		var hour, count int
		if err := rows.Scan(&hour, &count); err != nil {
			return nil, err
		}
		counts[hour] = count
	}
	return counts, rows.Err()
}

// CreateAppointment re-counts the slot under a transaction-scoped advisory
// lock keyed by (office, date, hour), so two bookings can't both see room.
func (s *Store) CreateAppointment(ctx context.Context, input store.CreateAppointmentInput) (models.Appointment, error) {
	var appt models.Appointment
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		key := fmt.Sprintf("slot:%s:%s:%d", input.Office, input.Date.Format(models.DateLayout), input.Hour)
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
			return err
		}
		if input.Capacity > 0 {
			counts, err := countSlotBookings(ctx, tx, input.Office, input.Date)
			if err != nil {
				return err
			}
			if counts[input.Hour] >= input.Capacity {
				return store.ErrSlotFull
			}
		}

		createdAt := input.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		row := tx.QueryRow(ctx, `
			INSERT INTO appointments (
				appointment_id, user_id, name, office, service, appointment_date,
				appointment_hour, additional_info, priority_lane, status, created_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
			RETURNING `+appointmentColumns,
			uuid.NewString(), input.UserID, input.Name, input.Office, input.Service, input.Date,
			input.Hour, payloadOrEmpty(input.AdditionalInfo), input.PriorityLane, models.AppointmentPending, createdAt)
		var err error
		appt, err = scanAppointment(row)
		return err
	})
	if err != nil {
		return models.Appointment{}, err
	}
	return appt, nil
}

func (s *Store) GetAppointment(ctx context.Context, appointmentID string) (models.Appointment, error) {
	return retryRead(ctx, func() (models.Appointment, error) {
		row := s.pool.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE appointment_id = $1`, appointmentID)
		appt, err := scanAppointment(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Appointment{}, store.ErrAppointmentNotFound
		}
		return appt, err
	})
}

func (s *Store) ListUserAppointments(ctx context.Context, userID string) ([]models.Appointment, error) {
	return retryRead(ctx, func() ([]models.Appointment, error) {
		rows, err := s.pool.Query(ctx, `
			SELECT `+appointmentColumns+` FROM appointments
			WHERE user_id = $1
			ORDER BY appointment_date DESC, appointment_hour DESC, created_at DESC
		`, userID)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		appts := make([]models.Appointment, 0)
		for rows.Next() {
			appt, err := scanAppointment(rows)
			if err != nil {
				return nil, err
			}
			appts = append(appts, appt)
		}
		return appts, rows.Err()
	})
}

// ConfirmAppointment locks the appointment row, issues the linked ticket
// through the regular creation path and only then flips the status. Any
// failure rolls back both.
func (s *Store) ConfirmAppointment(ctx context.Context, appointmentID string, build store.TicketBuilder) (models.Appointment, models.Ticket, error) {
	var appt models.Appointment
	var ticket models.Ticket
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			SELECT `+appointmentColumns+` FROM appointments
			WHERE appointment_id = $1
			FOR UPDATE
		`, appointmentID)
		current, err := scanAppointment(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ErrAppointmentNotFound
		}
		if err != nil {
			return err
		}
		if current.Status != models.AppointmentPending {
			return store.ErrInvalidTransition
		}

		ticket, err = createTicketTx(ctx, tx, build(current))
		if err != nil {
			return err
		}

		row = tx.QueryRow(ctx, `
			UPDATE appointments SET status = $2
			WHERE appointment_id = $1
			RETURNING `+appointmentColumns, appointmentID, models.AppointmentConfirmed)
		appt, err = scanAppointment(row)
		return err
	})
	if err != nil {
		return models.Appointment{}, models.Ticket{}, err
	}
	return appt, ticket, nil
}

func (s *Store) CancelAppointment(ctx context.Context, appointmentID string) (models.Appointment, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE appointments SET status = $2
		WHERE appointment_id = $1 AND status = $3
		RETURNING `+appointmentColumns, appointmentID, models.AppointmentCancelled, models.AppointmentPending)
	appt, err := scanAppointment(row)
	if err == nil {
		return appt, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return models.Appointment{}, classify(err)
	}

	var found bool
	row = s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM appointments WHERE appointment_id = $1)`, appointmentID)
	if err := row.Scan(&found); err != nil {
		return models.Appointment{}, classify(err)
	}
	if !found {
		return models.Appointment{}, store.ErrAppointmentNotFound
	}
	return models.Appointment{}, store.ErrInvalidTransition
}

func scanAppointment(row pgx.Row) (models.Appointment, error) {
	var appt models.Appointment
	var date time.Time
	var hour int
	if err := row.Scan(
		&appt.AppointmentID, &appt.UserID, &appt.Name, &appt.Office, &appt.Service, &date,
		&hour, &appt.AdditionalInfo, &appt.PriorityLane, &appt.Status, &appt.CreatedAt,
	); err != nil {
		return models.Appointment{}, err
	}
	appt.AppointmentDate = date.Format(models.DateLayout)
	appt.AppointmentTime = models.FormatSlotTime(hour)
	return appt, nil
}
