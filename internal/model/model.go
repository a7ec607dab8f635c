package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Model struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Client struct {
	ID            uuid.UUID  `json:"id" validate:"required"`
	Name          string     `json:"name" validate:"required,min=2,max=200"`
	Email         string     `json:"email" validate:"omitempty,email"`
	Phone         string     `json:"phone" validate:"omitempty,max=32"`
	IsActive      bool       `json:"is_active"`
	IsPrivileged  bool       `json:"is_privileged"`
	PrimaryCardID *uuid.UUID `json:"primary_card_id,omitempty"`
	Model
}

type Card struct {
	ID         uuid.UUID       `json:"id" validate:"required"`
	ClientID   uuid.UUID       `json:"client_id" validate:"required"`
	Number     string          `json:"number" validate:"required"`
	Balance    decimal.Decimal `json:"balance"`
	Currency   string          `json:"currency" validate:"required,len=3"`
	IsActive   bool            `json:"is_active"`
	DailyLimit decimal.Decimal `json:"daily_limit"`
	Model
}

type TransactionType string

const (
	TransactionTransfer   TransactionType = "transfer"
	TransactionPayment    TransactionType = "payment"
	TransactionDeposit    TransactionType = "deposit"
	TransactionWithdrawal TransactionType = "withdrawal"
	TransactionFee        TransactionType = "fee"
)

type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "pending"
	TransactionCompleted TransactionStatus = "completed"
	TransactionFailed    TransactionStatus = "failed"
	TransactionCancelled TransactionStatus = "cancelled"
)

// Transaction is append-only. At least one of FromCardID and ToCardID is set.
type Transaction struct {
	ID          uuid.UUID         `json:"id"`
	FromCardID  *uuid.UUID        `json:"from_card_id,omitempty"`
	ToCardID    *uuid.UUID        `json:"to_card_id,omitempty"`
	Amount      decimal.Decimal   `json:"amount"`
	Currency    string            `json:"currency"`
	Type        TransactionType   `json:"type"`
	Description string            `json:"description"`
	Status      TransactionStatus `json:"status"`
	CreatedAt   time.Time         `json:"created_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

type ServiceCategory struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	IsPublic bool      `json:"is_public"`
	Model
}

type Service struct {
	ID           uuid.UUID       `json:"id"`
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	CategoryID   uuid.UUID       `json:"category_id"`
	Price        decimal.Decimal `json:"price"`
	Currency     string          `json:"currency"`
	IsActive     bool            `json:"is_active"`
	IsPublic     bool            `json:"is_public"`
	IsPrivileged bool            `json:"is_privileged"`
	Rating       decimal.Decimal `json:"rating"`
	RatingCount  int             `json:"rating_count"`
	Model
}

type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestRejected RequestStatus = "rejected"
)

type ServiceRequest struct {
	ID          uuid.UUID       `json:"id"`
	ClientID    uuid.UUID       `json:"client_id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Status      RequestStatus   `json:"status"`
	ReviewedBy  *uuid.UUID      `json:"reviewed_by,omitempty"`
	ReviewedAt  *time.Time      `json:"reviewed_at,omitempty"`
	ServiceID   *uuid.UUID      `json:"service_id,omitempty"`
	Model
}

type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionSuspended SubscriptionStatus = "suspended"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
	SubscriptionExpired   SubscriptionStatus = "expired"
)

// ClientService links a client to a catalog service. At most one row exists
// per (ClientID, ServiceID).
type ClientService struct {
	ID              uuid.UUID          `json:"id"`
	ClientID        uuid.UUID          `json:"client_id"`
	ServiceID       uuid.UUID          `json:"service_id"`
	Status          SubscriptionStatus `json:"status"`
	MonthlyFee      decimal.Decimal    `json:"monthly_fee"`
	Currency        string             `json:"currency"`
	NextPaymentDate *time.Time         `json:"next_payment_date,omitempty"`
	AutoRenewal     bool               `json:"auto_renewal"`
	CancelledAt     *time.Time         `json:"cancelled_at,omitempty"`
	CancelledBy     *uuid.UUID         `json:"cancelled_by,omitempty"`
	Model
}

// IsActive is derived from Status so the two can never disagree.
func (cs *ClientService) IsActive() bool {
	return cs.Status == SubscriptionActive
}

func (cs ClientService) MarshalJSON() ([]byte, error) {
	type alias ClientService
	return json.Marshal(struct {
		alias
		IsActive bool `json:"is_active"`
	}{alias(cs), cs.IsActive()})
}

type AuditOutbox struct {
	ID            int64           `json:"id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PartitionKey  string          `json:"partition_key"`
	Status        string          `json:"status"`
	CorrelationID string          `json:"correlation_id"`
	Model
}
