package servicerequest

import (
	"net/http"

	"github.com/finanspro/dbo/internal/apperror"
	"github.com/finanspro/dbo/internal/response"
	"github.com/finanspro/dbo/pkg/types"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type RequestHandler struct {
	Service *RequestService
}

func NewRequestHandler(service *RequestService) *RequestHandler {
	return &RequestHandler{
		Service: service,
	}
}

func requestID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, apperror.Validation("invalid service request id")
	}
	return id, nil
}

func (rh *RequestHandler) Submit(w http.ResponseWriter, r *http.Request) {
	sess, ok := response.Session(w, r)
	if !ok {
		return
	}

	var body types.SubmitServiceRequest
	if err := response.Decode(r, &body); err != nil {
		response.Error(w, r, err)
		return
	}

	req, err := rh.Service.Submit(r.Context(), sess, SubmitInput{
		Name:        body.Name,
		Description: body.Description,
		Price:       string(body.Price),
	})
	if err != nil {
		response.Error(w, r, err)
		return
	}

	response.JSON(w, http.StatusCreated, types.SubmitServiceResponse{
		RequestID: req.ID,
		Status:    req.Status,
	})
}

func (rh *RequestHandler) Review(w http.ResponseWriter, r *http.Request) {
	sess, ok := response.Session(w, r)
	if !ok {
		return
	}

	id, err := requestID(r)
	if err != nil {
		response.Error(w, r, err)
		return
	}

	var body types.ReviewServiceRequest
	if err := response.Decode(r, &body); err != nil {
		response.Error(w, r, err)
		return
	}

	result, err := rh.Service.Review(r.Context(), sess, id, Decision(body.Decision))
	if err != nil {
		response.Error(w, r, err)
		return
	}

	response.JSON(w, http.StatusOK, types.ReviewServiceResponse{
		Request: result.Request,
		Service: result.Service,
	})
}

func (rh *RequestHandler) Pending(w http.ResponseWriter, r *http.Request) {
	sess, ok := response.Session(w, r)
	if !ok {
		return
	}

	requests, err := rh.Service.PendingQueue(r.Context(), sess)
	if err != nil {
		response.Error(w, r, err)
		return
	}

	response.JSON(w, http.StatusOK, types.NewListResponse(requests))
}

func (rh *RequestHandler) Mine(w http.ResponseWriter, r *http.Request) {
	sess, ok := response.Session(w, r)
	if !ok {
		return
	}

	requests, err := rh.Service.ListMine(r.Context(), sess)
	if err != nil {
		response.Error(w, r, err)
		return
	}

	response.JSON(w, http.StatusOK, types.NewListResponse(requests))
}

func (rh *RequestHandler) Get(w http.ResponseWriter, r *http.Request) {
	sess, ok := response.Session(w, r)
	if !ok {
		return
	}

	id, err := requestID(r)
	if err != nil {
		response.Error(w, r, err)
		return
	}

	req, err := rh.Service.Get(r.Context(), sess, id)
	if err != nil {
		response.Error(w, r, err)
		return
	}

	response.JSON(w, http.StatusOK, req)
}
