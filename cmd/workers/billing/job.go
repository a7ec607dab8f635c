package main

import (
	"context"
	"time"

	"github.com/finanspro/dbo/internal/middleware"
	"github.com/finanspro/dbo/internal/subscription"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

type renewer interface {
	RenewDue(ctx context.Context, now time.Time) (subscription.RenewalSummary, error)
}

// renewalJob bills due subscriptions once per tick. Each run gets its own
// run id so its log lines and audit events can be correlated.
func renewalJob(ctx context.Context, svc renewer, log *zerolog.Logger) cron.Job {
	return cron.FuncJob(func() {
		if ctx.Err() != nil {
			return
		}
		runID := "renewal-" + uuid.NewString()
		runLog := log.With().Str("run_id", runID).Logger()
		runCtx := middleware.WithLogger(ctx, &runLog)
		runCtx = middleware.WithRequestID(runCtx, runID)

		started := time.Now()
		summary, err := svc.RenewDue(runCtx, started)
		if err != nil {
			runLog.Error().Err(err).Int("processed", summary.Total()).Msg("Renewal run failed")
			return
		}
		runLog.Info().
			Int("renewed", summary.Renewed).
			Int("suspended", summary.Suspended).
			Int("expired", summary.Expired).
			Dur("duration", time.Since(started)).
			Msg("Renewal run complete")
	})
}

// cronLogger routes the scheduler's own messages through zerolog.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
