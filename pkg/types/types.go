package types

import (
	"bytes"
	"encoding/json"

	"github.com/finanspro/dbo/internal/model"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RawPrice keeps a submitted price verbatim, whether it arrived as a JSON
// number or a string, so the workflow decides how to parse it.
type RawPrice string

func (p *RawPrice) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*p = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*p = RawPrice(s)
		return nil
	}
	*p = RawPrice(b)
	return nil
}

type SubmitServiceRequest struct {
	Name        string   `json:"name" validate:"required,max=200"`
	Description string   `json:"description" validate:"required,max=4000"`
	Price       RawPrice `json:"price"`
}

type SubmitServiceResponse struct {
	RequestID uuid.UUID           `json:"request_id"`
	Status    model.RequestStatus `json:"status"`
}

type ReviewServiceRequest struct {
	Decision string `json:"decision" validate:"required,oneof=approve reject"`
}

type ReviewServiceResponse struct {
	Request *model.ServiceRequest `json:"request"`
	Service *model.Service        `json:"service,omitempty"`
}

type ConnectServiceResponse struct {
	Subscription *model.ClientService `json:"subscription"`
	Transaction  *model.Transaction   `json:"transaction,omitempty"`
	Warning      string               `json:"warning,omitempty"`
}

type CreateClientRequest struct {
	Name         string `json:"name" validate:"required,min=2,max=200"`
	Email        string `json:"email" validate:"required,email"`
	Phone        string `json:"phone" validate:"omitempty,max=32"`
	IsPrivileged bool   `json:"is_privileged"`
}

type CreateClientResponse struct {
	Client *model.Client `json:"client"`
	Card   *model.Card   `json:"card"`
	Token  string        `json:"token"`
}

type TransferRequest struct {
	FromCardID  uuid.UUID       `json:"from_card_id" validate:"required"`
	ToCardID    uuid.UUID       `json:"to_card_id" validate:"required"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description" validate:"max=255"`
}

type DepositRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description" validate:"max=255"`
}

type OpenCardRequest struct {
	Currency string `json:"currency" validate:"required,len=3"`
}

type ListResponse[T any] struct {
	Items []T `json:"items"`
	Count int `json:"count"`
}

func NewListResponse[T any](items []T) ListResponse[T] {
	if items == nil {
		items = []T{}
	}
	return ListResponse[T]{Items: items, Count: len(items)}
}
