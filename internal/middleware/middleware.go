package middleware

import (
	"github.com/finanspro/dbo/internal/server"
	"github.com/newrelic/go-agent/v3/newrelic"
)

type Middlewares struct {
	Global          *Global
	ContextEnhancer *ContextEnhancer
	Tracing         *Tracing
	Auth            *Auth
	Idempotency     *Idempotency
	SubmitLimit     *RateLimit
}

func NewMiddlewares(s *server.Server) *Middlewares {

	var nrApp *newrelic.Application

	if s.LoggerService != nil {
		nrApp = s.LoggerService.GetApplication()
	}

	mw := &Middlewares{
		Global:          NewGlobal(s),
		ContextEnhancer: NewContextEnhancer(s),
		Tracing:         NewTracing(nrApp),
		Auth:            NewAuth(s.Config.Auth),
		Idempotency:     NewIdempotency(nil, s.Config.Redis.IdempotencyTTL),
		SubmitLimit:     NewRateLimit(nil, s.Config.Redis.SubmitLimit, s.Config.Redis.SubmitWindow),
	}

	if s.Redis != nil {
		mw.Idempotency = NewIdempotency(s.Redis, s.Config.Redis.IdempotencyTTL)
		mw.SubmitLimit = NewRateLimit(s.Redis, s.Config.Redis.SubmitLimit, s.Config.Redis.SubmitWindow)
	}

	return mw
}
