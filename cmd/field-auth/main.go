package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/asimihsan/field_auth/internal/audit/stdout"
	authconfig "github.com/asimihsan/field_auth/internal/authorizer/config"
	"github.com/asimihsan/field_auth/internal/config"
	"github.com/asimihsan/field_auth/internal/engine/opa"
	"github.com/asimihsan/field_auth/internal/metrics"
	"github.com/asimihsan/field_auth/internal/pipeline"
	appconfig "github.com/asimihsan/field_auth/pkg/config"
	"github.com/asimihsan/field_auth/pkg/gate"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.MustRegister()

	cfg, err := appconfig.Evaluate(ctx)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := newLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	fmt.Printf("Configuration loaded successfully:\n%s\n", spew.Sdump(cfg))

	defaultAuthorize, err := authconfig.NewDefaultAuthorize(cfg)
	if err != nil {
		logger.Fatal("building default authorize function", zap.Error(err))
	}

	registry := sampleRegistry()
	plugin, err := gate.New(
		gate.Config{DefaultAuthorize: defaultAuthorize},
		gate.WithLogger(logger),
		gate.WithAudit(gate.TeeAudit(stdout.New(), metrics.Recorder{})),
		gate.WithRegistry(registry),
	)
	if err != nil {
		logger.Fatal("installing field authorization", zap.Error(err))
	}

	runSampleQuery(ctx, logger, plugin, registry, cfg.Authorization.Concurrency)

	srv := &http.Server{Addr: cfg.Server.ListenAddr, Handler: promhttp.Handler()}
	go func() {
		logger.Info("starting metrics server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("metrics server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics server shutdown", zap.Error(err))
	}
}

func newLogger(c *config.Logger) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if c == nil {
		return zc.Build()
	}
	if c.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(c.Level)
	if err != nil {
		return nil, err
	}
	zc.Level = level
	return zc.Build()
}

type user struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

func sampleRegistry() *gate.Registry {
	r := gate.NewRegistry()
	r.Register("Query", "health", true)
	r.Register("User", "email", gate.Bool(func(ctx context.Context, p gate.Params) (bool, error) {
		u, ok := p.Parent.(user)
		if !ok {
			return false, fmt.Errorf("unexpected parent %T", p.Parent)
		}
		return viewerFrom(ctx) == u.ID, nil
	}))
	return r
}

type viewerKey struct{}

func viewerFrom(ctx context.Context) string {
	v, _ := ctx.Value(viewerKey{}).(string)
	return v
}

// runSampleQuery resolves { health user { id name email } } as viewer "7".
func runSampleQuery(ctx context.Context, logger *zap.Logger, plugin *gate.Plugin, registry *gate.Registry, limit int) {
	ctx = context.WithValue(ctx, viewerKey{}, "7")
	ctx = opa.WithRequestInput(ctx, map[string]any{"viewer": "7"})
	ada := user{ID: "42", Name: "Ada", Email: "ada@example.com"}

	field := func(parent any, typeName, name string, v any) pipeline.FieldAccess {
		return pipeline.FieldAccess{
			Params: gate.Params{Parent: parent, Field: registry.Meta(typeName, name)},
			Resolve: func(context.Context, gate.Params) (any, error) {
				return v, nil
			},
		}
	}

	results := pipeline.Execute(ctx, plugin, []pipeline.FieldAccess{
		field(nil, "Query", "health", "ok"),
		field(ada, "User", "id", ada.ID),
		field(ada, "User", "name", ada.Name),
		field(ada, "User", "email", ada.Email),
	}, pipeline.Options{Limit: limit})

	fmt.Printf("Sample query data:\n%s\n", spew.Sdump(pipeline.Data(results)))
	if err := pipeline.Errors(results); err != nil {
		logger.Info("sample query had field errors", zap.Error(err))
	}
}
