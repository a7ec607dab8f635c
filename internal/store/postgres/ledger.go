package postgres

import (
	"context"

	"github.com/finanspro/dbo/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const clientColumns = `id, name, email, phone, is_active, is_privileged, primary_card_id, created_at, updated_at`

func scanClient(row pgx.Row) (*model.Client, error) {
	var c model.Client
	err := row.Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.IsActive, &c.IsPrivileged, &c.PrimaryCardID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (t *tx) CreateClient(ctx context.Context, c *model.Client) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	err := t.q.QueryRow(ctx, `
		INSERT INTO clients (id, name, email, phone, is_active, is_privileged)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`,
		c.ID, c.Name, c.Email, c.Phone, c.IsActive, c.IsPrivileged,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	return mapErr(err, "insert client")
}

func (t *tx) GetClient(ctx context.Context, id uuid.UUID) (*model.Client, error) {
	c, err := scanClient(t.q.QueryRow(ctx, `SELECT `+clientColumns+` FROM clients WHERE id = $1`, id))
	return c, mapErr(err, "select client")
}

func (t *tx) SetPrimaryCard(ctx context.Context, clientID uuid.UUID, cardID *uuid.UUID) error {
	return t.execOne(ctx, "set primary card",
		`UPDATE clients SET primary_card_id = $2, updated_at = NOW() WHERE id = $1`, clientID, cardID)
}

const cardColumns = `id, client_id, number, balance, currency, is_active, daily_limit, created_at, updated_at`

func scanCard(row pgx.Row) (*model.Card, error) {
	var c model.Card
	err := row.Scan(&c.ID, &c.ClientID, &c.Number, &c.Balance, &c.Currency, &c.IsActive, &c.DailyLimit, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (t *tx) CreateCard(ctx context.Context, c *model.Card) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	err := t.q.QueryRow(ctx, `
		INSERT INTO cards (id, client_id, number, balance, currency, is_active, daily_limit)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`,
		c.ID, c.ClientID, c.Number, c.Balance, c.Currency, c.IsActive, c.DailyLimit,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	return mapErr(err, "insert card")
}

func (t *tx) GetCard(ctx context.Context, id uuid.UUID) (*model.Card, error) {
	c, err := scanCard(t.q.QueryRow(ctx, `SELECT `+cardColumns+` FROM cards WHERE id = $1`, id))
	return c, mapErr(err, "select card")
}

func (t *tx) GetCardForUpdate(ctx context.Context, id uuid.UUID) (*model.Card, error) {
	c, err := scanCard(t.q.QueryRow(ctx, `SELECT `+cardColumns+` FROM cards WHERE id = $1 FOR UPDATE`, id))
	return c, mapErr(err, "lock card")
}

func (t *tx) ListCards(ctx context.Context, clientID uuid.UUID) ([]*model.Card, error) {
	rows, err := t.q.Query(ctx, `SELECT `+cardColumns+` FROM cards WHERE client_id = $1 ORDER BY created_at, id`, clientID)
	if err != nil {
		return nil, mapErr(err, "list cards")
	}
	defer rows.Close()

	var cards []*model.Card
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, mapErr(err, "scan card")
		}
		cards = append(cards, c)
	}
	return cards, mapErr(rows.Err(), "list cards")
}

func (t *tx) UpdateCardBalance(ctx context.Context, id uuid.UUID, balance decimal.Decimal) error {
	return t.execOne(ctx, "update card balance",
		`UPDATE cards SET balance = $2, updated_at = NOW() WHERE id = $1`, id, balance)
}

func (t *tx) SetCardActive(ctx context.Context, id uuid.UUID, active bool) error {
	return t.execOne(ctx, "set card active",
		`UPDATE cards SET is_active = $2, updated_at = NOW() WHERE id = $1`, id, active)
}

func (t *tx) InsertTransaction(ctx context.Context, tr *model.Transaction) error {
	if tr.ID == uuid.Nil {
		tr.ID = uuid.New()
	}
	_, err := t.q.Exec(ctx, `
		INSERT INTO transactions (id, from_card_id, to_card_id, amount, currency, type, description, status, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		tr.ID, tr.FromCardID, tr.ToCardID, tr.Amount, tr.Currency, tr.Type, tr.Description, tr.Status, tr.CreatedAt, tr.CompletedAt,
	)
	return mapErr(err, "insert transaction")
}

func (t *tx) ListTransactions(ctx context.Context, cardID uuid.UUID) ([]*model.Transaction, error) {
	rows, err := t.q.Query(ctx, `
		SELECT id, from_card_id, to_card_id, amount, currency, type, description, status, created_at, completed_at
		FROM transactions
		WHERE from_card_id = $1 OR to_card_id = $1
		ORDER BY created_at DESC, id`, cardID)
	if err != nil {
		return nil, mapErr(err, "list transactions")
	}
	defer rows.Close()

	var out []*model.Transaction
	for rows.Next() {
		var tr model.Transaction
		if err := rows.Scan(&tr.ID, &tr.FromCardID, &tr.ToCardID, &tr.Amount, &tr.Currency, &tr.Type,
			&tr.Description, &tr.Status, &tr.CreatedAt, &tr.CompletedAt); err != nil {
			return nil, mapErr(err, "scan transaction")
		}
		out = append(out, &tr)
	}
	return out, mapErr(rows.Err(), "list transactions")
}
