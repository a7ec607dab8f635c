package subscription

import (
	"net/http"

	"github.com/finanspro/dbo/internal/apperror"
	"github.com/finanspro/dbo/internal/model"
	"github.com/finanspro/dbo/internal/response"
	"github.com/finanspro/dbo/pkg/types"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type SubscriptionHandler struct {
	Service *SubscriptionService
}

func NewSubscriptionHandler(service *SubscriptionService) *SubscriptionHandler {
	return &SubscriptionHandler{
		Service: service,
	}
}

// targetClient is the session's own client, or the client_id query
// parameter for staff acting on a client's behalf.
func targetClient(r *http.Request, sess model.Session) (uuid.UUID, error) {
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

func ids(r *http.Request, sess model.Session) (uuid.UUID, uuid.UUID, error) {
	clientID, err := targetClient(r, sess)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	serviceID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, uuid.Nil, apperror.Validation("invalid service id")
	}
	return clientID, serviceID, nil
}

// Connect answers 200 with a warning when the subscription is active but
// could not be billed because the client has no card.
func (sh *SubscriptionHandler) Connect(w http.ResponseWriter, r *http.Request) {
	sess, ok := response.Session(w, r)
	if !ok {
		return
	}

	clientID, serviceID, err := ids(r, sess)
	if err != nil {
		response.Error(w, r, err)
		return
	}

	result, err := sh.Service.Connect(r.Context(), sess, clientID, serviceID)
	if err != nil && !(result != nil && apperror.Is(err, apperror.KindNoFundingSource)) {
		response.Error(w, r, err)
		return
	}

	body := types.ConnectServiceResponse{
		Subscription: result.Subscription,
		Transaction:  result.Transaction,
	}
	if err != nil {
		body.Warning = err.Error()
	}

	status := http.StatusCreated
	if result.AlreadyActive || err != nil {
		status = http.StatusOK
	}
	response.JSON(w, status, body)
}

func (sh *SubscriptionHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	sess, ok := response.Session(w, r)
	if !ok {
		return
	}

	clientID, serviceID, err := ids(r, sess)
	if err != nil {
		response.Error(w, r, err)
		return
	}

	sub, err := sh.Service.Disconnect(r.Context(), sess, clientID, serviceID)
	if err != nil {
		response.Error(w, r, err)
		return
	}

	response.JSON(w, http.StatusOK, sub)
}

func (sh *SubscriptionHandler) List(w http.ResponseWriter, r *http.Request) {
	sess, ok := response.Session(w, r)
	if !ok {
		return
	}

	clientID, err := targetClient(r, sess)
	if err != nil {
		response.Error(w, r, err)
		return
	}

	subs, err := sh.Service.List(r.Context(), sess, clientID)
	if err != nil {
		response.Error(w, r, err)
		return
	}

	response.JSON(w, http.StatusOK, types.NewListResponse(subs))
}
