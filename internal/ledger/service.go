package ledger

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
	"time"

	"github.com/finanspro/dbo/internal/apperror"
	"github.com/finanspro/dbo/internal/audit"
	"github.com/finanspro/dbo/internal/middleware"
	"github.com/finanspro/dbo/internal/model"
	"github.com/finanspro/dbo/internal/redis"
	"github.com/finanspro/dbo/internal/store"
	"github.com/finanspro/dbo/pkg/constants"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	cardNumberPrefix = "2200"
	debitLockTTL     = 10 * time.Second
)

type LedgerService struct {
	store  store.Store
	locker redis.Locker
	audit  audit.Emitter
	now    func() time.Time
}

func NewLedgerService(st store.Store, locker redis.Locker, emitter audit.Emitter) *LedgerService {
	if locker == nil {
		locker = redis.NopLocker{}
	}
	if emitter == nil {
		emitter = audit.Nop{}
	}
	return &LedgerService{
		store:  st,
		locker: locker,
		audit:  emitter,
		now:    time.Now,
	}
}

func authorizeCard(sess model.Session, card *model.Card) error {
	if sess.CanManageClients() {
		return nil
	}
	if sess.ClientID != nil && *sess.ClientID == card.ClientID {
		return nil
	}
	// Someone else's card is reported as missing rather than forbidden.
	return apperror.NotFound("card %s not found", card.ID)
}

func authorizeClient(sess model.Session, clientID uuid.UUID) error {
	if sess.CanManageClients() {
		return nil
	}
	if sess.ClientID != nil && *sess.ClientID == clientID {
		return nil
	}
	return apperror.Forbidden("access to client %s denied", clientID)
}

func generateCardNumber() (string, error) {
	var b strings.Builder
	b.WriteString(cardNumberPrefix)
	ten := big.NewInt(10)
	for b.Len() < 16 {
		d, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + d.Int64()))
	}
	return b.String(), nil
}

// OpenCardTx opens a card for client inside tx. The first card a client
// gets becomes its primary card; later cards never change the primary. A
// positive initialBalance is booked as a deposit so the trail explains it.
func OpenCardTx(ctx context.Context, tx store.Tx, client *model.Client, currency string, initialBalance decimal.Decimal, now time.Time) (*model.Card, *model.Transaction, error) {
	currency = strings.ToUpper(currency)
	if len(currency) != 3 {
		return nil, nil, apperror.Validation("invalid currency code %q", currency)
	}
	if initialBalance.IsNegative() {
		return nil, nil, apperror.Validation("initial balance must not be negative")
	}

	existing, err := tx.ListCards(ctx, client.ID)
	if err != nil {
		return nil, nil, store.Classify(err, "cards of client", client.ID)
	}

	number, err := generateCardNumber()
	if err != nil {
		return nil, nil, apperror.Internal(err, "failed to generate card number")
	}

	card := &model.Card{
		ID:         uuid.New(),
		ClientID:   client.ID,
		Number:     number,
		Balance:    decimal.Zero,
		Currency:   currency,
		IsActive:   true,
		DailyLimit: decimal.NewFromInt(100000),
	}
	if err := tx.CreateCard(ctx, card); err != nil {
		return nil, nil, store.Classify(err, "card", card.ID)
	}

	if len(existing) == 0 {
		if err := tx.SetPrimaryCard(ctx, client.ID, &card.ID); err != nil {
			return nil, nil, store.Classify(err, "client", client.ID)
		}
		client.PrimaryCardID = &card.ID
	}

	var funding *model.Transaction
	if initialBalance.IsPositive() {
		movement, err := Credit(card, initialBalance, currency)
		if err != nil {
			return nil, nil, err
		}
		funding, err = Record(ctx, tx, Entry{
			Type:        model.TransactionDeposit,
			To:          card,
			Amount:      initialBalance,
			Currency:    currency,
			Description: constants.InitialFundingDescription,
		}, now, movement)
		if err != nil {
			return nil, nil, err
		}
	}

	return card, funding, nil
}

func (ls *LedgerService) OpenCard(ctx context.Context, sess model.Session, clientID uuid.UUID, currency string) (*model.Card, error) {
	logger := middleware.GetLogger(ctx)

	if err := authorizeClient(sess, clientID); err != nil {
		return nil, err
	}

	var card *model.Card
	err := ls.store.InTx(ctx, func(tx store.Tx) error {
		client, err := tx.GetClient(ctx, clientID)
		if err != nil {
			return store.Classify(err, "client", clientID)
		}
		if !client.IsActive {
			return apperror.InvalidState("client %s is not active", clientID)
		}
		card, _, err = OpenCardTx(ctx, tx, client, currency, decimal.Zero, ls.now())
		return err
	})
	if err != nil {
		logger.Error().Err(err).Str("client_id", clientID.String()).Msg("Failed to open card")
		return nil, apperror.Ensure(err, "failed to open card")
	}

	logger.Info().Str("client_id", clientID.String()).Str("card_id", card.ID.String()).Msg("Card opened")
	return card, nil
}

// SetPrimaryCard makes cardID the client's default funding source. The card
// must be active and belong to the client.
func (ls *LedgerService) SetPrimaryCard(ctx context.Context, sess model.Session, cardID uuid.UUID) error {
	logger := middleware.GetLogger(ctx)

	err := ls.store.InTx(ctx, func(tx store.Tx) error {
		card, err := tx.GetCardForUpdate(ctx, cardID)
		if err != nil {
			return store.Classify(err, "card", cardID)
		}
		if err := authorizeCard(sess, card); err != nil {
			return err
		}
		if !card.IsActive {
			return apperror.InvalidState("card %s is blocked", cardID)
		}
		return store.Classify(tx.SetPrimaryCard(ctx, card.ClientID, &card.ID), "client", card.ClientID)
	})
	if err != nil {
		logger.Warn().Err(err).Str("card_id", cardID.String()).Msg("Failed to set primary card")
		return apperror.Ensure(err, "failed to set primary card")
	}

	logger.Info().Str("card_id", cardID.String()).Msg("Primary card changed")
	return nil
}

// BlockCard deactivates a card. Cards are never deleted. A blocked primary
// card stops being primary.
func (ls *LedgerService) BlockCard(ctx context.Context, sess model.Session, cardID uuid.UUID) error {
	logger := middleware.GetLogger(ctx)

	var clientID uuid.UUID
	err := ls.store.InTx(ctx, func(tx store.Tx) error {
		card, err := tx.GetCardForUpdate(ctx, cardID)
		if err != nil {
			return store.Classify(err, "card", cardID)
		}
		if err := authorizeCard(sess, card); err != nil {
			return err
		}
		clientID = card.ClientID
		if !card.IsActive {
			return nil
		}
		if err := tx.SetCardActive(ctx, cardID, false); err != nil {
			return store.Classify(err, "card", cardID)
		}

		client, err := tx.GetClient(ctx, card.ClientID)
		if err != nil {
			return store.Classify(err, "client", card.ClientID)
		}
		if client.PrimaryCardID != nil && *client.PrimaryCardID == cardID {
			return store.Classify(tx.SetPrimaryCard(ctx, client.ID, nil), "client", client.ID)
		}
		return nil
	})
	if err != nil {
		logger.Warn().Err(err).Str("card_id", cardID.String()).Msg("Failed to block card")
		return apperror.Ensure(err, "failed to block card")
	}

	ls.audit.Emit(ctx, audit.Event{
		Type:       audit.EventCardBlocked,
		ActorID:    sess.UserID,
		ActorRole:  sess.Role,
		SubjectID:  cardID.String(),
		Attributes: map[string]string{"client_id": clientID.String()},
	})
	logger.Info().Str("card_id", cardID.String()).Msg("Card blocked")
	return nil
}

// Deposit credits an external deposit to a card. Operators only.
func (ls *LedgerService) Deposit(ctx context.Context, sess model.Session, cardID uuid.UUID, amount decimal.Decimal, description string) (*model.Transaction, error) {
	logger := middleware.GetLogger(ctx)

	if !sess.CanManageClients() {
		return nil, apperror.Forbidden("only operators can book deposits")
	}

	var txn *model.Transaction
	err := ls.store.InTx(ctx, func(tx store.Tx) error {
		card, err := tx.GetCardForUpdate(ctx, cardID)
		if err != nil {
			return store.Classify(err, "card", cardID)
		}
		if !card.IsActive {
			return apperror.InvalidState("card %s is blocked", cardID)
		}
		movement, err := Credit(card, amount, card.Currency)
		if err != nil {
			return err
		}
		if description == "" {
			description = "Deposit"
		}
		txn, err = Record(ctx, tx, Entry{
			Type:        model.TransactionDeposit,
			To:          card,
			Amount:      amount,
			Currency:    card.Currency,
			Description: description,
		}, ls.now(), movement)
		return err
	})
	if err != nil {
		logger.Warn().Err(err).Str("card_id", cardID.String()).Msg("Deposit failed")
		return nil, apperror.Ensure(err, "failed to deposit")
	}
	ReportPostings(txn)

	logger.Info().Str("card_id", cardID.String()).Str("amount", amount.String()).Msg("Deposit completed")
	return txn, nil
}

type TransferInput struct {
	FromCardID  uuid.UUID
	ToCardID    uuid.UUID
	Amount      decimal.Decimal
	Description string
}

// Transfer moves money between two cards of the same currency. The source
// card must belong to the calling client.
func (ls *LedgerService) Transfer(ctx context.Context, sess model.Session, in TransferInput) (*model.Transaction, error) {
	logger := middleware.GetLogger(ctx)

	if sess.ClientID == nil {
		return nil, apperror.Forbidden("transfers are made by clients")
	}
	if in.FromCardID == in.ToCardID {
		return nil, apperror.Validation("source and destination cards must differ")
	}
	if !in.Amount.IsPositive() {
		return nil, apperror.Validation("amount must be positive")
	}

	release, err := ls.locker.Acquire(ctx, redis.DebitLockKey(*sess.ClientID), debitLockTTL)
	if err != nil {
		if errors.Is(err, redis.ErrLockHeld) {
			return nil, apperror.InvalidState("another payment for this client is in progress")
		}
		return nil, apperror.Internal(err, "failed to acquire debit lock")
	}
	defer release()

	var txn *model.Transaction
	err = ls.store.InTx(ctx, func(tx store.Tx) error {
		// Lock both rows in a fixed order so opposite transfers cannot deadlock.
		first, second := in.FromCardID, in.ToCardID
		if strings.Compare(first.String(), second.String()) > 0 {
			first, second = second, first
		}
		locked := make(map[uuid.UUID]*model.Card, 2)
		for _, id := range []uuid.UUID{first, second} {
			card, err := tx.GetCardForUpdate(ctx, id)
			if err != nil {
				return store.Classify(err, "card", id)
			}
			locked[id] = card
		}
		from, to := locked[in.FromCardID], locked[in.ToCardID]

		if from.ClientID != *sess.ClientID {
			return apperror.NotFound("card %s not found", from.ID)
		}
		if !to.IsActive {
			return apperror.InvalidState("destination card %s is blocked", to.ID)
		}

		debit, err := Debit(from, in.Amount, from.Currency)
		if err != nil {
			return err
		}
		credit, err := Credit(to, in.Amount, from.Currency)
		if err != nil {
			return err
		}

		description := in.Description
		if description == "" {
			description = "Transfer between cards"
		}
		txn, err = Record(ctx, tx, Entry{
			Type:        model.TransactionTransfer,
			From:        from,
			To:          to,
			Amount:      in.Amount,
			Currency:    from.Currency,
			Description: description,
		}, ls.now(), debit, credit)
		return err
	})
	if err != nil {
		logger.Warn().Err(err).
			Str("from_card_id", in.FromCardID.String()).
			Str("to_card_id", in.ToCardID.String()).
			Msg("Transfer failed")
		return nil, apperror.Ensure(err, "failed to transfer")
	}
	ReportPostings(txn)

	ls.audit.Emit(ctx, audit.Event{
		Type:      audit.EventTransferCompleted,
		ActorID:   sess.UserID,
		ActorRole: sess.Role,
		SubjectID: txn.ID.String(),
		Attributes: map[string]string{
			"from_card_id": in.FromCardID.String(),
			"to_card_id":   in.ToCardID.String(),
			"amount":       in.Amount.String(),
		},
	})
	logger.Info().Str("transaction_id", txn.ID.String()).Msg("Transfer completed")
	return txn, nil
}

func (ls *LedgerService) Cards(ctx context.Context, sess model.Session, clientID uuid.UUID) ([]*model.Card, error) {
	if err := authorizeClient(sess, clientID); err != nil {
		return nil, err
	}

	var cards []*model.Card
	err := ls.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		cards, err = tx.ListCards(ctx, clientID)
		return store.Classify(err, "cards of client", clientID)
	})
	return cards, err
}

// History returns the transactions touching a card, newest first.
func (ls *LedgerService) History(ctx context.Context, sess model.Session, cardID uuid.UUID) ([]*model.Transaction, error) {
	var history []*model.Transaction
	err := ls.store.InTx(ctx, func(tx store.Tx) error {
		card, err := tx.GetCard(ctx, cardID)
		if err != nil {
			return store.Classify(err, "card", cardID)
		}
		if err := authorizeCard(sess, card); err != nil {
			return err
		}
		history, err = tx.ListTransactions(ctx, cardID)
		return store.Classify(err, "transactions of card", cardID)
	})
	return history, err
}
