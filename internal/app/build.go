package app

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/ent0n29/taskhub/internal/auth"
	"github.com/ent0n29/taskhub/internal/config"
	"github.com/ent0n29/taskhub/internal/httpapi"
	"github.com/ent0n29/taskhub/internal/notify"
	"github.com/ent0n29/taskhub/internal/observability"
	"github.com/ent0n29/taskhub/internal/policy"
	"github.com/ent0n29/taskhub/internal/relay"
	"github.com/ent0n29/taskhub/internal/schema"
	"github.com/ent0n29/taskhub/internal/session"
	"github.com/ent0n29/taskhub/internal/taskservice"
	"github.com/ent0n29/taskhub/internal/tasks"
	"github.com/ent0n29/taskhub/internal/users"
)

type BuildResult struct {
	Config    config.Config
	API       *httpapi.Server
	Registry  *session.Registry
	Router    *notify.Router
	Tasks     *taskservice.Service
	Metrics   *observability.Metrics
	Logger    *log.Logger
	StoreMode string

	// Cleanup should be called on shutdown to release external resources (DB pools, redis).
	Cleanup func() error
}

// Build wires every component. ctx must live as long as the server: the
// redis subscriber runs until it is cancelled.
func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	var closers []func() error
	cleanup := func() error {
		var errs []string
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				errs = append(errs, err.Error())
			}
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}
	fail := func(err error) (*BuildResult, error) {
		_ = cleanup()
		return nil, err
	}

	rules, err := policy.NewRules(cfg.CommentPermission)
	if err != nil {
		return nil, err
	}
	validator, err := schema.New()
	if err != nil {
		return nil, fmt.Errorf("schema init failed: %w", err)
	}

	userStore, err := users.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("user store init failed: %w", err)
	}
	closers = append(closers, userStore.Close)

	taskStore, err := tasks.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return fail(fmt.Errorf("task store init failed: %w", err))
	}
	closers = append(closers, taskStore.Close)

	storeMode := "memory"
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		storeMode = "postgres"
	}

	registry := session.NewRegistry()
	router := notify.NewRouter(registry, metrics, logger)

	relayEnabled := false
	if cfg.RedisURL != "" {
		rl, err := relay.Dial(ctx, cfg.RedisURL, cfg.RedisRelayChannel, metrics, logger)
		if err != nil {
			return fail(fmt.Errorf("redis relay init failed: %w", err))
		}
		closers = append(closers, rl.Close)
		if err := rl.Start(ctx, func(d notify.Delivery) { router.DeliverLocal(d) }); err != nil {
			return fail(fmt.Errorf("redis relay subscribe failed: %w", err))
		}
		router.SetRelay(rl)
		relayEnabled = true
		logger.WithField("channel", cfg.RedisRelayChannel).Info("redis relay enabled")
	}

	authService := auth.NewService(userStore, auth.NewTokens(cfg.JWTSecret, cfg.JWTTTL, cfg.JWTIssuer), cfg.PasswordHashCost, logger)
	taskService := taskservice.New(taskservice.Config{
		PageSize:    cfg.TasksPageSize,
		MaxPageSize: cfg.TasksMaxPageSize,
		Rules:       rules,
	}, taskStore, userStore, router, metrics, logger)

	api := httpapi.New(httpapi.Deps{
		Config:       cfg,
		Auth:         authService,
		Tasks:        taskService,
		Registry:     registry,
		Router:       router,
		Validator:    validator,
		Metrics:      metrics,
		Logger:       logger,
		StoreMode:    storeMode,
		RelayEnabled: relayEnabled,
	})

	return &BuildResult{
		Config:    cfg,
		API:       api,
		Registry:  registry,
		Router:    router,
		Tasks:     taskService,
		Metrics:   metrics,
		Logger:    logger,
		StoreMode: storeMode,
		Cleanup:   cleanup,
	}, nil
}
