package model

import "github.com/google/uuid"

type Role string

const (
	RoleClient                Role = "client"
	RoleOperatorClientService Role = "operator_client_service"
	RoleOperatorSecurity      Role = "operator_security"
	RoleAdmin                 Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleClient, RoleOperatorClientService, RoleOperatorSecurity, RoleAdmin:
		return true
	}
	return false
}

func (r Role) IsOperator() bool {
	return r == RoleOperatorClientService || r == RoleOperatorSecurity
}

// Session is resolved once per request and handed to the workflow
// functions; nothing downstream looks the role up again.
type Session struct {
	UserID   uuid.UUID  `json:"user_id"`
	ClientID *uuid.UUID `json:"client_id,omitempty"`
	Role     Role       `json:"role"`
}

// CanReviewRequests reports whether the session may approve or reject
// service requests. Only the security operator role can.
func (s Session) CanReviewRequests() bool {
	return s.Role == RoleOperatorSecurity
}

// CanManageClients covers onboarding and operator-side card funding.
func (s Session) CanManageClients() bool {
	return s.Role.IsOperator() || s.Role == RoleAdmin
}

func ClientSession(clientID uuid.UUID) Session {
	return Session{UserID: clientID, ClientID: &clientID, Role: RoleClient}
}

func OperatorSession(userID uuid.UUID, role Role) Session {
	return Session{UserID: userID, Role: role}
}
