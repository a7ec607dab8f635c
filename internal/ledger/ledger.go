// Package ledger holds card balances and the append-only transaction trail.
//
// Debit and Credit only prepare a balance change; Record applies the
// prepared movements and appends the completed transaction through the
// same store.Tx, so a balance change never becomes visible without its
// transaction record or the other way round.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/finanspro/dbo/internal/apperror"
	"github.com/finanspro/dbo/internal/metrics"
	"github.com/finanspro/dbo/internal/model"
	"github.com/finanspro/dbo/internal/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Movement is a balance change that has been checked but not persisted.
type Movement struct {
	CardID     uuid.UUID
	Delta      decimal.Decimal
	NewBalance decimal.Decimal
}

// MaxAmount is the largest value the NUMERIC(15,2) money columns hold.
var MaxAmount = decimal.RequireFromString("9999999999999.99")

const (
	maxIntegerDigits = 13
	maxScale         = 18
)

// CheckMagnitude rejects amounts that do not fit the money columns. The
// digit and scale checks only look at the representation, so inputs such
// as 1e200000000 are refused before any arithmetic expands them.
func CheckMagnitude(amount decimal.Decimal, field string) error {
	exp := int(amount.Exponent())
	if amount.NumDigits()+exp > maxIntegerDigits || exp < -maxScale {
		return apperror.Validation("%s is out of range", field).WithDetails("max: %s", MaxAmount.StringFixed(2))
	}
	if amount.Abs().GreaterThan(MaxAmount) {
		return apperror.Validation("%s is out of range", field).WithDetails("max: %s", MaxAmount.StringFixed(2))
	}
	return nil
}

func validateAmount(amount decimal.Decimal, currency string) error {
	if err := CheckMagnitude(amount, "amount"); err != nil {
		return err
	}
	if !amount.IsPositive() {
		return apperror.Validation("amount must be positive").WithDetails("amount: %s", amount)
	}
	if len(currency) != 3 {
		return apperror.Validation("invalid currency code %q", currency)
	}
	return nil
}

// Debit takes amount off card. It fails with InsufficientFunds, leaving the
// card untouched, when the balance does not cover the amount.
func Debit(card *model.Card, amount decimal.Decimal, currency string) (Movement, error) {
	if err := validateAmount(amount, currency); err != nil {
		return Movement{}, err
	}
	if !card.IsActive {
		return Movement{}, apperror.InvalidState("card %s is blocked", card.ID)
	}
	if card.Currency != currency {
		return Movement{}, apperror.Validation("currency mismatch").
			WithDetails("card_currency: %s, amount_currency: %s", card.Currency, currency)
	}
	if card.Balance.LessThan(amount) {
		return Movement{}, apperror.InsufficientFunds("insufficient funds on card %s", card.ID).
			WithDetails("balance: %s, requested: %s", card.Balance.StringFixed(2), amount.StringFixed(2))
	}

	card.Balance = card.Balance.Sub(amount)
	return Movement{CardID: card.ID, Delta: amount.Neg(), NewBalance: card.Balance}, nil
}

// Credit adds amount to card. The resulting balance must still fit the
// money columns.
func Credit(card *model.Card, amount decimal.Decimal, currency string) (Movement, error) {
	if err := validateAmount(amount, currency); err != nil {
		return Movement{}, err
	}
	if card.Currency != currency {
		return Movement{}, apperror.Validation("currency mismatch").
			WithDetails("card_currency: %s, amount_currency: %s", card.Currency, currency)
	}

	balance := card.Balance.Add(amount)
	if err := CheckMagnitude(balance, "resulting balance"); err != nil {
		return Movement{}, err
	}

	card.Balance = balance
	return Movement{CardID: card.ID, Delta: amount, NewBalance: card.Balance}, nil
}

type Entry struct {
	Type        model.TransactionType
	From        *model.Card
	To          *model.Card
	Amount      decimal.Decimal
	Currency    string
	Description string
}

// Record applies movements and appends a completed transaction for entry,
// all through tx.
func Record(ctx context.Context, tx store.Tx, entry Entry, now time.Time, movements ...Movement) (*model.Transaction, error) {
	if err := validateAmount(entry.Amount, entry.Currency); err != nil {
		return nil, err
	}
	if entry.From == nil && entry.To == nil {
		return nil, apperror.Validation("transaction needs a source or a destination card")
	}

	for _, m := range movements {
		if err := tx.UpdateCardBalance(ctx, m.CardID, m.NewBalance); err != nil {
			return nil, store.Classify(err, "card", m.CardID)
		}
	}

	completedAt := now
	t := &model.Transaction{
		ID:          uuid.New(),
		Amount:      entry.Amount,
		Currency:    entry.Currency,
		Type:        entry.Type,
		Description: entry.Description,
		Status:      model.TransactionCompleted,
		CreatedAt:   now,
		CompletedAt: &completedAt,
	}
	if entry.From != nil {
		id := entry.From.ID
		t.FromCardID = &id
	}
	if entry.To != nil {
		id := entry.To.ID
		t.ToCardID = &id
	}

	if err := tx.InsertTransaction(ctx, t); err != nil {
		return nil, store.Classify(err, "transaction", t.ID)
	}
	return t, nil
}

// ReportPostings counts transactions in the postings metric. Callers pass
// what Record returned once the unit holding it has committed.
func ReportPostings(txns ...*model.Transaction) {
	for _, t := range txns {
		if t != nil {
			metrics.RecordPosting(string(t.Type))
		}
	}
}

// Charge debits card and records a completed transaction of the given type
// in one step.
func Charge(ctx context.Context, tx store.Tx, card *model.Card, txType model.TransactionType, amount decimal.Decimal, currency, description string, now time.Time) (*model.Transaction, error) {
	movement, err := Debit(card, amount, currency)
	if err != nil {
		return nil, err
	}
	return Record(ctx, tx, Entry{
		Type:        txType,
		From:        card,
		Amount:      amount,
		Currency:    currency,
		Description: description,
	}, now, movement)
}

// SelectChargeCard picks the card a client is billed from: the primary card
// when it is active, otherwise the first active card in opening order. The
// chosen card is locked for the rest of the unit. It returns nil when the
// client has no usable card.
func SelectChargeCard(ctx context.Context, tx store.Tx, client *model.Client) (*model.Card, error) {
	if client.PrimaryCardID != nil {
		card, err := tx.GetCardForUpdate(ctx, *client.PrimaryCardID)
		switch {
		case errors.Is(err, store.ErrNotFound):
		case err != nil:
			return nil, store.Classify(err, "card", *client.PrimaryCardID)
		case card.IsActive && card.ClientID == client.ID:
			return card, nil
		}
	}

	cards, err := tx.ListCards(ctx, client.ID)
	if err != nil {
		return nil, store.Classify(err, "cards of client", client.ID)
	}
	for _, c := range cards {
		if !c.IsActive {
			continue
		}
		card, err := tx.GetCardForUpdate(ctx, c.ID)
		if err != nil {
			return nil, store.Classify(err, "card", c.ID)
		}
		return card, nil
	}
	return nil, nil
}
