package fulfillment

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/vango-go/vai-callcenter/pkg/core/callstate"
	"github.com/vango-go/vai-callcenter/pkg/core/dialog"
)

//go:embed migrations/*.sql
var migrations embed.FS

// pgxConn is the part of *pgxpool.Pool the queries use.
type pgxConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres stores orders, complaints and feedback in PostgreSQL.
type Postgres struct {
	pool *pgxpool.Pool
	db   pgxConn
	now  func() time.Time
	eta  time.Duration
}

// OpenPostgres connects to dsn and pings it. When migrate is set the
// embedded schema migrations are applied first.
func OpenPostgres(ctx context.Context, dsn string, migrate bool) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if migrate {
		if err := Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return NewPostgres(pool), nil
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool, db: pool, now: time.Now, eta: DefaultETA}
}

// Migrate applies the embedded goose migrations over pool.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	goose.SetBaseFS(migrations)
	defer goose.SetBaseFS(nil)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func (p *Postgres) Close() {
	if p != nil && p.pool != nil {
		p.pool.Close()
	}
}

func (p *Postgres) CreateOrder(ctx context.Context, req dialog.OrderRequest) (dialog.OrderReceipt, error) {
	if err := validateOrder(req); err != nil {
		return dialog.OrderReceipt{}, err
	}
	items, err := json.Marshal(req.Items)
	if err != nil {
		return dialog.OrderReceipt{}, fmt.Errorf("encode items: %w", err)
	}
	total := orderTotal(req.Items)

	// Retry the rare id collision with a fresh id.
	for attempt := 0; attempt < 3; attempt++ {
		id := newOrderID()
		_, err = p.db.Exec(ctx, `
			INSERT INTO orders (id, call_id, items, address, payment, total, eta_secs, placed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			id, req.CallID, items, req.Address, string(req.Payment), total, int(p.eta/time.Second), p.now().UTC())
		if isUniqueViolation(err) {
			continue
		}
		if err != nil {
			return dialog.OrderReceipt{}, fmt.Errorf("insert order: %w", err)
		}
		return dialog.OrderReceipt{OrderID: id, Total: total, ETA: p.eta}, nil
	}
	return dialog.OrderReceipt{}, fmt.Errorf("insert order: %w", err)
}

func (p *Postgres) Tracking(ctx context.Context, orderID string) (string, error) {
	o, err := p.Order(ctx, orderID)
	if err != nil {
		return "", err
	}
	return o.Narrative(p.now()), nil
}

// Order loads a stored order.
func (p *Postgres) Order(ctx context.Context, id string) (Order, error) {
	var (
		o       Order
		items   []byte
		payment string
		etaSecs int
	)
	err := p.db.QueryRow(ctx, `
		SELECT id, call_id, items, address, payment, total, eta_secs, placed_at
		FROM orders WHERE id = $1`, strings.TrimSpace(id)).
		Scan(&o.ID, &o.CallID, &items, &o.Address, &payment, &o.Total, &etaSecs, &o.PlacedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrOrderNotFound
	}
	if err != nil {
		return Order{}, fmt.Errorf("query order: %w", err)
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return Order{}, fmt.Errorf("decode items: %w", err)
	}
	o.Payment = callstate.PaymentMethod(payment)
	o.ETA = time.Duration(etaSecs) * time.Second
	return o, nil
}

func (p *Postgres) ProcessComplaint(ctx context.Context, c dialog.Complaint) (dialog.ComplaintReceipt, error) {
	at := p.now().UTC()
	var err error
	for n := 0; n < 5; n++ {
		id := newTicketID(at.Add(time.Duration(n) * time.Second))
		_, err = p.db.Exec(ctx, `
			INSERT INTO complaints (ticket_id, call_id, order_id, category, compensation, body, opened_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			id, c.CallID, c.OrderID, string(c.Category), compensation(c.Category), strings.TrimSpace(c.Text), at)
		if isUniqueViolation(err) {
			continue
		}
		if err != nil {
			return dialog.ComplaintReceipt{}, fmt.Errorf("insert complaint: %w", err)
		}
		return dialog.ComplaintReceipt{TicketID: id}, nil
	}
	return dialog.ComplaintReceipt{}, fmt.Errorf("insert complaint: %w", err)
}

func (p *Postgres) CollectFeedback(ctx context.Context, orderID string, rating int) (string, error) {
	if rating < 1 || rating > 5 {
		return "", ErrInvalidRating
	}
	at := p.now().UTC()
	code := promoCode(rating, at)
	if _, err := p.db.Exec(ctx, `
		INSERT INTO feedback (order_id, rating, promo_code, recorded_at)
		VALUES ($1, $2, $3, $4)`, orderID, rating, code, at); err != nil {
		return "", fmt.Errorf("insert feedback: %w", err)
	}
	return code, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
