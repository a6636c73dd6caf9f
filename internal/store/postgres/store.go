package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"qms/scheduler/internal/models"
	"qms/scheduler/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const ticketColumns = `ticket_id, office_ticket_no, user_id, name, office, service, additional_info,
	form_data, priority_lane, status, window_no, created_at, called_at`

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

var _ store.Store = (*Store)(nil)

func (s *Store) Ping(ctx context.Context) error {
	return classify(s.pool.Ping(ctx))
}

// inTx runs fn in one read-committed transaction and commits when fn
// succeeds. The returned error is already classified.
func (s *Store) inTx(ctx context.Context, fn func(tx pgx.Tx) error) (err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return classify(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = fn(tx); err != nil {
		return classify(err)
	}
	if err = tx.Commit(ctx); err != nil {
		return classify(err)
	}
	return nil
}

func (s *Store) CreateTicket(ctx context.Context, input store.CreateTicketInput) (models.Ticket, error) {
	var ticket models.Ticket
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		ticket, err = createTicketTx(ctx, tx, input)
		return err
	})
	if err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

// createTicketTx holds the office lock for the rest of tx, so the duplicate
// check and the number assignment cannot interleave with another creation
// or a reset of the same office.
func createTicketTx(ctx context.Context, tx pgx.Tx, input store.CreateTicketInput) (models.Ticket, error) {
	last, err := lockOffice(ctx, tx, input.Office)
	if err != nil {
		return models.Ticket{}, err
	}

	var active bool
	row := tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM tickets
			WHERE user_id = $1 AND office = $2 AND status NOT IN ('done', 'cancelled')
		)
	`, input.UserID, input.Office)
	if err := row.Scan(&active); err != nil {
		return models.Ticket{}, err
	}
	if active {
		return models.Ticket{}, store.ErrDuplicateActiveRequest
	}

	next := last + 1
	if _, err := tx.Exec(ctx, `UPDATE office_sequences SET last_number = $2 WHERE office = $1`, input.Office, next); err != nil {
		return models.Ticket{}, err
	}

	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	row = tx.QueryRow(ctx, `
		INSERT INTO tickets (
			ticket_id, office_ticket_no, user_id, name, office, service,
			additional_info, form_data, priority_lane, status, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING `+ticketColumns,
		uuid.NewString(), next, input.UserID, input.Name, input.Office, input.Service,
		payloadOrEmpty(input.AdditionalInfo), payloadOrEmpty(input.FormData), input.PriorityLane,
		models.StatusWaiting, createdAt)
	return scanTicket(row)
}

// lockOffice takes the office-scoped row lock and returns the last number
// issued in the current epoch. A missing counter row is seeded from the
// tickets already on file.
func lockOffice(ctx context.Context, tx pgx.Tx, office string) (int, error) {
	_, err := tx.Exec(ctx, `
		INSERT INTO office_sequences (office, last_number)
		SELECT $1, COALESCE(MAX(office_ticket_no), 0) FROM tickets WHERE office = $1
		ON CONFLICT (office) DO NOTHING
	`, office)
	if err != nil {
		return 0, err
	}

	var last int
	row := tx.QueryRow(ctx, `
		SELECT last_number FROM office_sequences WHERE office = $1 FOR UPDATE
	`, office)
	if err := row.Scan(&last); err != nil {
		return 0, err
	}
	return last, nil
}

func (s *Store) GetTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	return retryRead(ctx, func() (models.Ticket, error) {
		row := s.pool.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE ticket_id = $1`, ticketID)
		ticket, err := scanTicket(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, store.ErrTicketNotFound
		}
		return ticket, err
	})
}

func (s *Store) TransitionTicket(ctx context.Context, input store.TransitionInput) (models.Ticket, error) {
	target, ok := store.TargetStatus(input.Action)
	if !ok {
		return models.Ticket{}, store.ErrInvalidTransition
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE tickets
		SET status = $3,
			window_no = COALESCE(NULLIF($4::text, ''), window_no),
			called_at = CASE WHEN $5::boolean THEN $6::timestamptz ELSE called_at END,
			form_data = form_data || $7::jsonb
		WHERE ticket_id = $1 AND status = ANY($2::text[])
		RETURNING `+ticketColumns,
		input.TicketID, store.AllowedFrom(input.Action), target, input.WindowNo,
		input.Action == store.ActionCall, occurredAt(input.OccurredAt), payloadOrEmpty(input.FormData))
	ticket, err := scanTicket(row)
	if err == nil {
		return ticket, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return models.Ticket{}, classify(err)
	}

	// Zero rows: either the ticket is missing or it is in the wrong state.
	found, err := s.ticketExists(ctx, input.TicketID)
	if err != nil {
		return models.Ticket{}, classify(err)
	}
	if !found {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	return models.Ticket{}, store.ErrInvalidTransition
}

func (s *Store) CancelTicketByNumber(ctx context.Context, office string, officeTicketNo int) (models.Ticket, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE tickets SET status = 'cancelled'
		WHERE office = $1 AND office_ticket_no = $2 AND status NOT IN ('done', 'cancelled')
		RETURNING `+ticketColumns, office, officeTicketNo)
	ticket, err := scanTicket(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Ticket{}, store.ErrNotFoundOrAlreadyTerminal
	}
	if err != nil {
		return models.Ticket{}, classify(err)
	}
	return ticket, nil
}

func (s *Store) ResetOfficeNumbering(ctx context.Context, office string) (int64, error) {
	var affected int64
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := lockOffice(ctx, tx, office); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `
			UPDATE tickets SET office_ticket_no = NULL
			WHERE office = $1 AND office_ticket_no IS NOT NULL
		`, office)
		if err != nil {
			return err
		}
		affected = tag.RowsAffected()
		_, err = tx.Exec(ctx, `UPDATE office_sequences SET last_number = 0 WHERE office = $1`, office)
		return err
	})
	return affected, err
}

// ResetAllNumbering locks every office counter in name order before
// clearing numbers, the same lock ticket creation takes.
func (s *Store) ResetAllNumbering(ctx context.Context) (int64, error) {
	var affected int64
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO office_sequences (office, last_number)
			SELECT DISTINCT office, 0 FROM tickets
			ON CONFLICT (office) DO NOTHING
		`); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `SELECT office FROM office_sequences ORDER BY office FOR UPDATE`); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `UPDATE tickets SET office_ticket_no = NULL WHERE office_ticket_no IS NOT NULL`)
		if err != nil {
			return err
		}
		affected = tag.RowsAffected()
		_, err = tx.Exec(ctx, `UPDATE office_sequences SET last_number = 0`)
		return err
	})
	return affected, err
}

func (s *Store) ListActiveTickets(ctx context.Context, office string) ([]models.Ticket, error) {
	return s.queryTickets(ctx, `
		SELECT `+ticketColumns+` FROM tickets
		WHERE office = $1 AND status IN ('waiting', 'called', 'in_progress')
		ORDER BY created_at ASC, ticket_id ASC
	`, office)
}

func (s *Store) ListOfficeTickets(ctx context.Context, office string) ([]models.Ticket, error) {
	return s.queryTickets(ctx, `
		SELECT `+ticketColumns+` FROM tickets
		WHERE office = $1
		ORDER BY created_at ASC, office_ticket_no ASC NULLS LAST, ticket_id ASC
	`, office)
}

func (s *Store) ListUserTickets(ctx context.Context, userID string) ([]models.Ticket, error) {
	return s.queryTickets(ctx, `
		SELECT `+ticketColumns+` FROM tickets
		WHERE user_id = $1
		ORDER BY created_at DESC, ticket_id ASC
	`, userID)
}

func (s *Store) CountWaiting(ctx context.Context, office string) (int, error) {
	return retryRead(ctx, func() (int, error) {
		var count int
		row := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM tickets WHERE office = $1 AND status = 'waiting'`, office)
		err := row.Scan(&count)
		return count, err
	})
}

func (s *Store) NowServing(ctx context.Context, office string) (*int, error) {
	return retryRead(ctx, func() (*int, error) {
		var number sql.NullInt64
		row := s.pool.QueryRow(ctx, `
			SELECT office_ticket_no FROM tickets
			WHERE office = $1 AND status = 'in_progress'
			ORDER BY created_at ASC, ticket_id ASC
			LIMIT 1
		`, office)
		if err := row.Scan(&number); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, nil
			}
			return nil, err
		}
		return nullIntPtr(number), nil
	})
}

func (s *Store) queryTickets(ctx context.Context, query string, args ...any) ([]models.Ticket, error) {
	return retryRead(ctx, func() ([]models.Ticket, error) {
		rows, err := s.pool.Query(ctx, query, args...)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		tickets := make([]models.Ticket, 0)
		for rows.Next() {
			ticket, err := scanTicket(rows)
			if err != nil {
				return nil, err
			}
			tickets = append(tickets, ticket)
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return tickets, nil
	})
}

func (s *Store) ticketExists(ctx context.Context, ticketID string) (bool, error) {
	var found bool
	row := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tickets WHERE ticket_id = $1)`, ticketID)
	err := row.Scan(&found)
	return found, err
}

func scanTicket(row pgx.Row) (models.Ticket, error) {
	var ticket models.Ticket
	var numberNull sql.NullInt64
	var windowNull sql.NullString
	var calledAtNull sql.NullTime
	if err := row.Scan(
		&ticket.TicketID, &numberNull, &ticket.UserID, &ticket.Name, &ticket.Office, &ticket.Service,
		&ticket.AdditionalInfo, &ticket.FormData, &ticket.PriorityLane, &ticket.Status, &windowNull,
		&ticket.CreatedAt, &calledAtNull,
	); err != nil {
		return models.Ticket{}, err
	}
	ticket.OfficeTicketNo = nullIntPtr(numberNull)
	ticket.WindowNo = nullStringPtr(windowNull)
	ticket.CalledAt = nullTimePtr(calledAtNull)
	return ticket, nil
}

func payloadOrEmpty(p models.Payload) models.Payload {
	if p == nil {
		return models.Payload{}
	}
	return p
}

func occurredAt(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullIntPtr(value sql.NullInt64) *int {
	if !value.Valid {
		return nil
	}
	number := int(value.Int64)
	return &number
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	return &value.Time
}

func nullStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	return &value.String
}
