package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/ent0n29/glance/internal/config"
	"github.com/ent0n29/glance/internal/framediff"
	"github.com/ent0n29/glance/internal/gateway"
	"github.com/ent0n29/glance/internal/guide"
	"github.com/ent0n29/glance/internal/httpapi"
	"github.com/ent0n29/glance/internal/observability"
	"github.com/ent0n29/glance/internal/records"
	"github.com/ent0n29/glance/internal/session"
	"github.com/ent0n29/glance/internal/throttle"
)

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Sessions *session.Manager
	Engine   *guide.Engine
	Metrics  *observability.Metrics
	Records  records.Store

	// Gateway is the resolved provider label, e.g. "gemini" or "openai+mock".
	Gateway string

	// Cleanup closes every session, waits for websocket handlers and then
	// for in-flight record saves, and finally releases the store. Call it
	// after http.Server.Shutdown.
	Cleanup func(ctx context.Context) error
}

func Build(ctx context.Context, cfg config.Config, logger *logrus.Logger) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)
	metrics.SetStageTargets(cfg.StageTargetsMS)

	store, err := records.NewStore(ctx, cfg.DatabaseURL, cfg.RecordsMemoryTTL)
	if err != nil {
		return nil, fmt.Errorf("records store init failed: %w", err)
	}

	client, label, err := gateway.New(gateway.Config{
		Provider:        cfg.GatewayProvider,
		Model:           cfg.GatewayModel,
		Fallback:        cfg.GatewayFallback,
		OpenAIAPIKey:    cfg.OpenAIAPIKey,
		OpenAIBaseURL:   cfg.OpenAIBaseURL,
		AnthropicAPIKey: cfg.AnthropicAPIKey,
		GeminiAPIKey:    cfg.GeminiAPIKey,
		HTTPURL:         cfg.GatewayHTTPURL,
		HTTPToken:       cfg.GatewayHTTPToken,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("gateway init failed: %w", err)
	}
	client = wrapGateway(client, cfg, logger.WithField("gateway", label))
	logger.WithField("gateway", label).Info("ai gateway ready")

	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	sessions.SetExpireHook(func(s *session.Session) {
		logger.WithField("session_id", s.ID).Info("session expired after inactivity")
		metrics.SessionEvents.WithLabelValues("expired").Inc()
		metrics.ActiveSessions.Set(float64(sessions.ActiveCount()))
	})

	differ := framediff.New(cfg.FrameDiffThreshold, cfg.FrameMinDiffPixels)
	differ.MaxPixels = cfg.FrameMaxPixels
	gate := throttle.NewGate(cfg.FrameMinInterval, differ)

	engine := guide.NewEngine(guide.Options{
		Gate:         gate,
		Gateway:      client,
		GatewayLabel: label,
		Records:      store,
		Metrics:      metrics,
		Logger:       logger,

		MaxFramePixels: cfg.FrameMaxPixels,
	})

	api := httpapi.New(cfg, sessions, engine, store, metrics, logger)

	cleanup := func(ctx context.Context) error {
		sessions.CloseAll()
		var errs []error
		if err := api.WaitConnections(ctx); err != nil {
			errs = append(errs, fmt.Errorf("waiting for websocket handlers: %w", err))
		}
		engine.Close()
		if err := store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("records store close failed: %w", err))
		}
		return errors.Join(errs...)
	}

	return &BuildResult{
		Config:   cfg,
		API:      api,
		Sessions: sessions,
		Engine:   engine,
		Metrics:  metrics,
		Records:  store,
		Gateway:  label,
		Cleanup:  cleanup,
	}, nil
}

// wrapGateway applies, innermost first, the process-wide rate limit, the
// per-attempt timeout and the retry policy.
func wrapGateway(client gateway.Client, cfg config.Config, log logrus.FieldLogger) gateway.Client {
	if cfg.GatewayRateLimit > 0 {
		burst := cfg.GatewayRateBurst
		if burst < 1 {
			burst = 1
		}
		client = gateway.WithRateLimit(client, rate.NewLimiter(rate.Limit(cfg.GatewayRateLimit), burst))
	}
	client = gateway.WithTimeout(client, cfg.GatewayTimeout)
	return gateway.WithRetry(client, gateway.RetryPolicy{
		MaxRetries: cfg.GatewayMaxRetries,
		BaseDelay:  cfg.GatewayRetryBaseDelay,
		MaxDelay:   8 * cfg.GatewayRetryBaseDelay,
		OnRetry: func(attempt int, err error) {
			log.WithError(err).WithField("attempt", attempt).Warn("retrying ai gateway call")
		},
	})
}
