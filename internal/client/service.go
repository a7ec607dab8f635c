// Package client onboards bank clients: an operator creates the client
// together with a funded default card and receives a session token for it.
package client

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/finanspro/dbo/internal/apperror"
	"github.com/finanspro/dbo/internal/audit"
	"github.com/finanspro/dbo/internal/config"
	"github.com/finanspro/dbo/internal/ledger"
	"github.com/finanspro/dbo/internal/middleware"
	"github.com/finanspro/dbo/internal/model"
	"github.com/finanspro/dbo/internal/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TokenIssuer signs session tokens; *middleware.Auth implements it.
type TokenIssuer interface {
	IssueToken(sess model.Session, now time.Time) (string, error)
}

type ClientService struct {
	store          store.Store
	tokens         TokenIssuer
	audit          audit.Emitter
	currency       string
	initialBalance decimal.Decimal
	now            func() time.Time
}

func NewClientService(st store.Store, tokens TokenIssuer, emitter audit.Emitter, cfg config.WorkflowConfig) *ClientService {
	if emitter == nil {
		emitter = audit.Nop{}
	}
	return &ClientService{
		store:          st,
		tokens:         tokens,
		audit:          emitter,
		currency:       cfg.DefaultCurrency,
		initialBalance: cfg.DefaultCardBalance,
		now:            time.Now,
	}
}

type CreateInput struct {
	Name         string
	Email        string
	Phone        string
	IsPrivileged bool
}

type CreateResult struct {
	Client *model.Client
	Card   *model.Card
	Token  string
}

// Create registers a client with its default card, which becomes the
// primary card. Only operators and admins can onboard clients.
func (cs *ClientService) Create(ctx context.Context, sess model.Session, in CreateInput) (*CreateResult, error) {
	logger := middleware.GetLogger(ctx)

	if !sess.CanManageClients() {
		return nil, apperror.Forbidden("only operators can create clients")
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, apperror.Validation("name is required")
	}
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email == "" {
		return nil, apperror.Validation("email is required")
	}

	client := &model.Client{
		ID:           uuid.New(),
		Name:         name,
		Email:        email,
		Phone:        strings.TrimSpace(in.Phone),
		IsActive:     true,
		IsPrivileged: in.IsPrivileged,
	}
	var (
		card    *model.Card
		funding *model.Transaction
	)
	now := cs.now().UTC()

	err := cs.store.InTx(ctx, func(tx store.Tx) error {
		if err := tx.CreateClient(ctx, client); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return apperror.InvalidState("a client with email %s already exists", email)
			}
			return store.Classify(err, "client", client.ID)
		}
		var err error
		card, funding, err = ledger.OpenCardTx(ctx, tx, client, cs.currency, cs.initialBalance, now)
		return err
	})
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create client")
		return nil, apperror.Ensure(err, "failed to create client")
	}
	ledger.ReportPostings(funding)

	result := &CreateResult{Client: client, Card: card}
	if cs.tokens != nil {
		token, err := cs.tokens.IssueToken(model.ClientSession(client.ID), now)
		if err != nil {
			// The client exists; a token can be issued again later.
			logger.Error().Err(err).Str("client_id", client.ID.String()).Msg("Failed to issue client token")
		} else {
			result.Token = token
		}
	}

	cs.audit.Emit(ctx, audit.Event{
		Type:      audit.EventClientCreated,
		ActorID:   sess.UserID,
		ActorRole: sess.Role,
		SubjectID: client.ID.String(),
		Attributes: map[string]string{
			"card_id":       card.ID.String(),
			"is_privileged": strconv.FormatBool(client.IsPrivileged),
		},
	})
	logger.Info().
		Str("client_id", client.ID.String()).
		Str("card_id", card.ID.String()).
		Msg("Client created")
	return result, nil
}

// Get returns a client to itself or to staff.
func (cs *ClientService) Get(ctx context.Context, sess model.Session, clientID uuid.UUID) (*model.Client, error) {
	if !sess.CanManageClients() && (sess.ClientID == nil || *sess.ClientID != clientID) {
		return nil, apperror.Forbidden("access to client %s denied", clientID)
	}

	var client *model.Client
	err := cs.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		client, err = tx.GetClient(ctx, clientID)
		return store.Classify(err, "client", clientID)
	})
	if err != nil {
		return nil, apperror.Ensure(err, "failed to get client")
	}
	return client, nil
}
