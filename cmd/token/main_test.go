package main

import (
	"testing"
	"time"

	"github.com/finanspro/dbo/internal/config"
	"github.com/finanspro/dbo/internal/middleware"
	"github.com/finanspro/dbo/internal/model"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssue(t *testing.T) {
	auth := middleware.NewAuth(config.AuthConfig{JWTSecret: "test-secret", Issuer: "dbo-test", TokenTTL: time.Hour})
	userID := uuid.New()

	tests := []struct {
		name    string
		role    model.Role
		user    string
		wantErr bool
	}{
		{name: "security operator", role: model.RoleOperatorSecurity, user: userID.String()},
		{name: "admin with random id", role: model.RoleAdmin},
		{name: "client role refused", role: model.RoleClient, wantErr: true},
		{name: "unknown role", role: "root", wantErr: true},
		{name: "bad user id", role: model.RoleAdmin, user: "nope", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := issue(auth, tt.role, tt.user, time.Now())
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)

			sess, err := auth.ParseToken(token)
			require.NoError(t, err)
			assert.Equal(t, tt.role, sess.Role)
			if tt.user != "" {
				assert.Equal(t, userID, sess.UserID)
			}
		})
	}
}
