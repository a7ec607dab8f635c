package ledger

import (
	"net/http"

	"github.com/finanspro/dbo/internal/apperror"
	"github.com/finanspro/dbo/internal/model"
	"github.com/finanspro/dbo/internal/response"
	"github.com/finanspro/dbo/pkg/types"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type LedgerHandler struct {
	Service *LedgerService
}

func NewLedgerHandler(service *LedgerService) *LedgerHandler {
	return &LedgerHandler{
		Service: service,
	}
}

func cardID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, apperror.Validation("invalid card id")
	}
	return id, nil
}

// clientID is the session's client, or the client_id query parameter for staff.
func clientID(r *http.Request, sess model.Session) (uuid.UUID, error) {
	if raw := r.URL.Query().Get("client_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return uuid.Nil, apperror.Validation("invalid client id")
		}
		return id, nil
	}
	if sess.ClientID == nil {
		return uuid.Nil, apperror.Validation("client_id is required")
	}
	return *sess.ClientID, nil
}

func (lh *LedgerHandler) ListCards(w http.ResponseWriter, r *http.Request) {
	sess, ok := response.Session(w, r)
	if !ok {
		return
	}

	id, err := clientID(r, sess)
	if err != nil {
		response.Error(w, r, err)
		return
	}

	cards, err := lh.Service.Cards(r.Context(), sess, id)
	if err != nil {
		response.Error(w, r, err)
		return
	}

	response.JSON(w, http.StatusOK, types.NewListResponse(cards))
}

func (lh *LedgerHandler) OpenCard(w http.ResponseWriter, r *http.Request) {
	sess, ok := response.Session(w, r)
	if !ok {
		return
	}

	id, err := clientID(r, sess)
	if err != nil {
		response.Error(w, r, err)
		return
	}

	var body types.OpenCardRequest
	if err := response.Decode(r, &body); err != nil {
		response.Error(w, r, err)
		return
	}

	card, err := lh.Service.OpenCard(r.Context(), sess, id, body.Currency)
	if err != nil {
		response.Error(w, r, err)
		return
	}

	response.JSON(w, http.StatusCreated, card)
}

func (lh *LedgerHandler) SetPrimary(w http.ResponseWriter, r *http.Request) {
	sess, ok := response.Session(w, r)
	if !ok {
		return
	}

	id, err := cardID(r)
	if err != nil {
		response.Error(w, r, err)
		return
	}

	if err := lh.Service.SetPrimaryCard(r.Context(), sess, id); err != nil {
		response.Error(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (lh *LedgerHandler) Block(w http.ResponseWriter, r *http.Request) {
	sess, ok := response.Session(w, r)
	if !ok {
		return
	}

	id, err := cardID(r)
	if err != nil {
		response.Error(w, r, err)
		return
	}

	if err := lh.Service.BlockCard(r.Context(), sess, id); err != nil {
		response.Error(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (lh *LedgerHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	sess, ok := response.Session(w, r)
	if !ok {
		return
	}

	id, err := cardID(r)
	if err != nil {
		response.Error(w, r, err)
		return
	}

	var body types.DepositRequest
	if err := response.Decode(r, &body); err != nil {
		response.Error(w, r, err)
		return
	}

	txn, err := lh.Service.Deposit(r.Context(), sess, id, body.Amount, body.Description)
	if err != nil {
		response.Error(w, r, err)
		return
	}

	response.JSON(w, http.StatusCreated, txn)
}

func (lh *LedgerHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	sess, ok := response.Session(w, r)
	if !ok {
		return
	}

	var body types.TransferRequest
	if err := response.Decode(r, &body); err != nil {
		response.Error(w, r, err)
		return
	}

	txn, err := lh.Service.Transfer(r.Context(), sess, TransferInput{
		FromCardID:  body.FromCardID,
		ToCardID:    body.ToCardID,
		Amount:      body.Amount,
		Description: body.Description,
	})
	if err != nil {
		response.Error(w, r, err)
		return
	}

	response.JSON(w, http.StatusCreated, txn)
}

func (lh *LedgerHandler) History(w http.ResponseWriter, r *http.Request) {
	sess, ok := response.Session(w, r)
	if !ok {
		return
	}

	id, err := cardID(r)
	if err != nil {
		response.Error(w, r, err)
		return
	}

	history, err := lh.Service.History(r.Context(), sess, id)
	if err != nil {
		response.Error(w, r, err)
		return
	}

	response.JSON(w, http.StatusOK, types.NewListResponse(history))
}
