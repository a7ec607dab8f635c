// Package response writes JSON bodies and maps workflow errors onto HTTP
// statuses for the API handlers.
package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/finanspro/dbo/internal/apperror"
	"github.com/finanspro/dbo/internal/middleware"
	"github.com/finanspro/dbo/internal/model"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

type errorBody struct {
	Error *apperror.AppError `json:"error"`
}

func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// Error writes err with the status its kind maps to. Internal errors are
// logged with their cause and returned without details.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	logger := middleware.GetLogger(r.Context())

	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		appErr = apperror.Internal(err, "internal error")
	}

	status := apperror.HTTPStatus(appErr.Kind)
	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).Msg("request failed")
		appErr = &apperror.AppError{Kind: apperror.KindInternal, Message: "internal error"}
	} else {
		logger.Info().Str("kind", string(appErr.Kind)).Str("reason", appErr.Message).Msg("request rejected")
	}

	JSON(w, status, errorBody{Error: appErr})
}

// Decode reads a JSON body into dst and validates its tags.
func Decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperror.Validation("invalid request payload").WithDetails("%v", err)
	}
	if err := validate.Struct(dst); err != nil {
		return apperror.Validation("validation error").WithDetails("%s", describe(err))
	}
	return nil
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	if fe.Param() != "" {
		return fmt.Sprintf("%s: failed %s=%s", fe.Field(), fe.Tag(), fe.Param())
	}
	return fmt.Sprintf("%s: failed %s", fe.Field(), fe.Tag())
}

// Session returns the authenticated session or writes a 401.
func Session(w http.ResponseWriter, r *http.Request) (model.Session, bool) {
	sess, ok := middleware.GetSession(r.Context())
	if !ok {
		JSON(w, http.StatusUnauthorized, map[string]any{
			"error": map[string]string{"kind": "unauthorized", "message": "authentication required"},
		})
	}
	return sess, ok
}
