// Command token issues a session token for staff, e.g. to bootstrap the
// first operator who then onboards clients through the API.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/finanspro/dbo/internal/config"
	"github.com/finanspro/dbo/internal/middleware"
	"github.com/finanspro/dbo/internal/model"
	"github.com/google/uuid"
)

func main() {
	role := flag.String("role", string(model.RoleOperatorSecurity), "role: operator_client_service, operator_security or admin")
	user := flag.String("user", "", "user id (random when empty)")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}

	token, err := issue(middleware.NewAuth(cfg.Auth), model.Role(*role), *user, time.Now())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(token)
}

func issue(auth *middleware.Auth, role model.Role, user string, now time.Time) (string, error) {
	if !role.Valid() || role == model.RoleClient {
		return "", fmt.Errorf("role %q is not a staff role", role)
	}

	userID := uuid.New()
	if user != "" {
		id, err := uuid.Parse(user)
		if err != nil {
			return "", fmt.Errorf("invalid user id: %w", err)
		}
		userID = id
	}

	return auth.IssueToken(model.OperatorSession(userID, role), now)
}
