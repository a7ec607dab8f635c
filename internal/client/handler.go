package client

import (
	"net/http"

	"github.com/finanspro/dbo/internal/apperror"
	"github.com/finanspro/dbo/internal/response"
	"github.com/finanspro/dbo/pkg/types"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type ClientHandler struct {
	Service *ClientService
}

func NewClientHandler(service *ClientService) *ClientHandler {
	return &ClientHandler{
		Service: service,
	}
}

func (ch *ClientHandler) Create(w http.ResponseWriter, r *http.Request) {
	sess, ok := response.Session(w, r)
	if !ok {
		return
	}

	var body types.CreateClientRequest
	if err := response.Decode(r, &body); err != nil {
		response.Error(w, r, err)
		return
	}

	result, err := ch.Service.Create(r.Context(), sess, CreateInput{
		Name:         body.Name,
		Email:        body.Email,
		Phone:        body.Phone,
		IsPrivileged: body.IsPrivileged,
	})
	if err != nil {
		response.Error(w, r, err)
		return
	}

	response.JSON(w, http.StatusCreated, types.CreateClientResponse{
		Client: result.Client,
		Card:   result.Card,
		Token:  result.Token,
	})
}

func (ch *ClientHandler) Get(w http.ResponseWriter, r *http.Request) {
	sess, ok := response.Session(w, r)
	if !ok {
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.Error(w, r, apperror.Validation("invalid client id"))
		return
	}

	client, err := ch.Service.Get(r.Context(), sess, id)
	if err != nil {
		response.Error(w, r, err)
		return
	}

	response.JSON(w, http.StatusOK, client)
}
