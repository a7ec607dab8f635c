// Package servicerequest runs the review workflow for client-proposed
// services: a request starts pending and is approved or rejected once by a
// security operator. Approval publishes the service to the catalog in the
// same unit of work as the status change.
package servicerequest

import (
	"context"
	"strings"
	"time"

	"github.com/finanspro/dbo/internal/apperror"
	"github.com/finanspro/dbo/internal/audit"
	"github.com/finanspro/dbo/internal/config"
	"github.com/finanspro/dbo/internal/ledger"
	"github.com/finanspro/dbo/internal/metrics"
	"github.com/finanspro/dbo/internal/middleware"
	"github.com/finanspro/dbo/internal/model"
	"github.com/finanspro/dbo/internal/store"
	"github.com/finanspro/dbo/pkg/constants"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

func (d Decision) Valid() bool {
	return d == DecisionApprove || d == DecisionReject
}

// Materializer turns an approved request into a catalog entry inside the
// caller's unit of work.
type Materializer interface {
	MaterializeFromRequest(ctx context.Context, tx store.Tx, req *model.ServiceRequest) (*model.Service, error)
}

type RequestService struct {
	store          store.Store
	catalog        Materializer
	audit          audit.Emitter
	lenientPrice   bool
	reservedMarker string
	now            func() time.Time
}

func NewRequestService(st store.Store, catalog Materializer, emitter audit.Emitter, cfg config.WorkflowConfig) *RequestService {
	if emitter == nil {
		emitter = audit.Nop{}
	}
	return &RequestService{
		store:          st,
		catalog:        catalog,
		audit:          emitter,
		lenientPrice:   cfg.LenientPriceParse,
		reservedMarker: cfg.ReservedMarker,
		now:            time.Now,
	}
}

type SubmitInput struct {
	Name        string
	Description string
	// Price is the submitted text. An empty price means a free service.
	Price string
}

// ParsePrice reads a submitted price. In strict mode malformed or negative
// input, or a price that does not fit the money columns, is a validation
// error; in lenient mode it becomes 0.
func ParsePrice(raw string, lenient bool) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, nil
	}
	price, err := decimal.NewFromString(strings.ReplaceAll(raw, ",", "."))
	if err != nil {
		if lenient {
			return decimal.Zero, nil
		}
		return decimal.Zero, apperror.Validation("price must be a number").WithDetails("price: %q", raw)
	}
	if err := ledger.CheckMagnitude(price, "price"); err != nil {
		if lenient {
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}
	if price.IsNegative() {
		if lenient {
			return decimal.Zero, nil
		}
		return decimal.Zero, apperror.Validation("price must not be negative").WithDetails("price: %s", price)
	}
	return price.Round(2), nil
}

func (rs *RequestService) Submit(ctx context.Context, sess model.Session, in SubmitInput) (*model.ServiceRequest, error) {
	logger := middleware.GetLogger(ctx)

	if sess.Role != model.RoleClient || sess.ClientID == nil {
		return nil, apperror.Forbidden("only clients can submit service requests")
	}

	name := strings.TrimSpace(in.Name)
	description := strings.TrimSpace(in.Description)
	if name == "" {
		return nil, apperror.Validation("name is required")
	}
	if description == "" {
		return nil, apperror.Validation("description is required")
	}
	price, err := ParsePrice(in.Price, rs.lenientPrice)
	if err != nil {
		return nil, err
	}

	req := &model.ServiceRequest{
		ID:          uuid.New(),
		ClientID:    *sess.ClientID,
		Name:        name,
		Description: description,
		Price:       price,
		Status:      model.RequestPending,
	}
	err = rs.store.InTx(ctx, func(tx store.Tx) error {
		client, err := tx.GetClient(ctx, req.ClientID)
		if err != nil {
			return store.Classify(err, "client", req.ClientID)
		}
		if !client.IsActive {
			return apperror.InvalidState("client %s is not active", client.ID)
		}
		return store.Classify(tx.CreateServiceRequest(ctx, req), "service request", req.ID)
	})
	if err != nil {
		logger.Warn().Err(err).Str("client_id", req.ClientID.String()).Msg("Failed to submit service request")
		return nil, apperror.Ensure(err, "failed to submit service request")
	}

	rs.audit.Emit(ctx, audit.Event{
		Type:       audit.EventServiceRequestSubmitted,
		ActorID:    sess.UserID,
		ActorRole:  sess.Role,
		SubjectID:  req.ID.String(),
		Attributes: map[string]string{"name": req.Name, "price": req.Price.String()},
	})
	logger.Info().
		Str("request_id", req.ID.String()).
		Str("client_id", req.ClientID.String()).
		Msg("Service request submitted")
	return req, nil
}

type ReviewResult struct {
	Request *model.ServiceRequest
	// Service is the catalog entry created by an approval.
	Service *model.Service
}

// Review moves a pending request to approved or rejected. The status check,
// the status change and, for approvals, the catalog insert commit together;
// a concurrent second review of the same request fails with InvalidState.
func (rs *RequestService) Review(ctx context.Context, sess model.Session, requestID uuid.UUID, decision Decision) (*ReviewResult, error) {
	logger := middleware.GetLogger(ctx).With().
		Str("request_id", requestID.String()).
		Str("decision", string(decision)).
		Logger()

	if !decision.Valid() {
		return nil, apperror.Validation("unknown decision %q", decision)
	}
	if !sess.CanReviewRequests() {
		metrics.RecordReview(string(decision), string(apperror.KindForbidden))
		return nil, apperror.Forbidden("only security operators can review service requests")
	}

	result := &ReviewResult{}
	err := rs.store.InTx(ctx, func(tx store.Tx) error {
		req, err := tx.GetServiceRequestForUpdate(ctx, requestID)
		if err != nil {
			return store.Classify(err, "service request", requestID)
		}
		if req.Status != model.RequestPending {
			return apperror.InvalidState("service request %s is already %s", requestID, req.Status)
		}

		reviewedAt := rs.now().UTC()
		reviewer := sess.UserID
		req.ReviewedBy = &reviewer
		req.ReviewedAt = &reviewedAt

		if decision == DecisionApprove {
			req.Status = model.RequestApproved
			service, err := rs.catalog.MaterializeFromRequest(ctx, tx, req)
			if err != nil {
				return err
			}
			req.ServiceID = &service.ID
			result.Service = service
		} else {
			req.Status = model.RequestRejected
		}

		if err := tx.UpdateServiceRequest(ctx, req); err != nil {
			return store.Classify(err, "service request", requestID)
		}
		result.Request = req
		return nil
	})
	if err != nil {
		metrics.RecordReview(string(decision), string(apperror.KindOf(err)))
		logger.Warn().Err(err).Msg("Service request review failed")
		return nil, apperror.Ensure(err, "failed to review service request")
	}
	metrics.RecordReview(string(decision), "ok")

	event := audit.Event{
		Type:       audit.EventServiceRequestRejected,
		ActorID:    sess.UserID,
		ActorRole:  sess.Role,
		SubjectID:  requestID.String(),
		Attributes: map[string]string{"client_id": result.Request.ClientID.String()},
	}
	if result.Service != nil {
		event.Type = audit.EventServiceRequestApproved
		event.Attributes["service_id"] = result.Service.ID.String()
	}
	rs.audit.Emit(ctx, event)

	logger.Info().Str("reviewer_id", sess.UserID.String()).Msg("Service request reviewed")
	return result, nil
}

func (rs *RequestService) Approve(ctx context.Context, sess model.Session, requestID uuid.UUID) (*ReviewResult, error) {
	return rs.Review(ctx, sess, requestID, DecisionApprove)
}

func (rs *RequestService) Reject(ctx context.Context, sess model.Session, requestID uuid.UUID) (*ReviewResult, error) {
	return rs.Review(ctx, sess, requestID, DecisionReject)
}

// PendingQueue lists the requests waiting for review, oldest first.
// Client-registration placeholders and requests carrying the reserved
// marker prefix are not actionable and are left out.
func (rs *RequestService) PendingQueue(ctx context.Context, sess model.Session) ([]*model.ServiceRequest, error) {
	if !sess.CanReviewRequests() {
		return nil, apperror.Forbidden("only security operators can see the review queue")
	}

	var requests []*model.ServiceRequest
	err := rs.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		requests, err = tx.ListServiceRequests(ctx, store.RequestFilter{
			Status:                model.RequestPending,
			ExcludeNameContaining: constants.RegistrationMarker,
			ExcludeNamePrefix:     rs.reservedMarker,
		})
		return store.Classify(err, "service requests", "pending")
	})
	if err != nil {
		return nil, apperror.Ensure(err, "failed to list pending requests")
	}
	return requests, nil
}

func (rs *RequestService) ListMine(ctx context.Context, sess model.Session) ([]*model.ServiceRequest, error) {
	if sess.ClientID == nil {
		return nil, apperror.Forbidden("only clients have own service requests")
	}

	var requests []*model.ServiceRequest
	err := rs.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		requests, err = tx.ListServiceRequests(ctx, store.RequestFilter{ClientID: sess.ClientID})
		return store.Classify(err, "service requests of client", *sess.ClientID)
	})
	if err != nil {
		return nil, apperror.Ensure(err, "failed to list service requests")
	}
	return requests, nil
}

// Get returns a request to its owner or to staff. Other clients get NotFound.
func (rs *RequestService) Get(ctx context.Context, sess model.Session, requestID uuid.UUID) (*model.ServiceRequest, error) {
	var req *model.ServiceRequest
	err := rs.store.InTx(ctx, func(tx store.Tx) error {
		r, err := tx.GetServiceRequest(ctx, requestID)
		if err != nil {
			return store.Classify(err, "service request", requestID)
		}
		if sess.Role == model.RoleClient && (sess.ClientID == nil || *sess.ClientID != r.ClientID) {
			return apperror.NotFound("service request %s not found", requestID)
		}
		req = r
		return nil
	})
	if err != nil {
		return nil, apperror.Ensure(err, "failed to get service request")
	}
	return req, nil
}
