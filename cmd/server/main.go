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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/sync/errgroup"

	"github.com/yourorg/payment-confirmation/internal/adapter"
	adaptermock "github.com/yourorg/payment-confirmation/internal/adapter/mock"
	"github.com/yourorg/payment-confirmation/internal/adapter/momo"
	"github.com/yourorg/payment-confirmation/internal/circuitbreaker"
	"github.com/yourorg/payment-confirmation/internal/config"
	"github.com/yourorg/payment-confirmation/internal/logging"
	"github.com/yourorg/payment-confirmation/internal/monitor"
	"github.com/yourorg/payment-confirmation/internal/orchestrator"
	"github.com/yourorg/payment-confirmation/internal/policy"
	"github.com/yourorg/payment-confirmation/internal/reporting"
	"github.com/yourorg/payment-confirmation/internal/status"
)

const shutdownTimeout = 10 * time.Second

// demoConfirmAfter is the number of PENDING answers the demo gateway gives
// before confirming a deposit.
const demoConfirmAfter = 2

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	log.Println("Starting server...")
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	shutdownTracing, err := initTracing(cfg.TraceStdout)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			log.Printf("Error shutting down tracer provider: %v", err)
		}
	}()

	gw := newGateway(cfg)
	cb := circuitbreaker.NewCircuitBreaker(cfg.Breaker, logging.Default())
	orch, err := newOrchestrator(cfg, gw, cb)
	if err != nil {
		return err
	}
	mon, err := newMonitor(cfg)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           setupRouter(newServer(orch, mon, cb, gw.GetName())),
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 3 * time.Second,
		WriteTimeout:      cfg.APITimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Printf("listening on %s (gateway %s)", srv.Addr, gw.GetName())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Println("Shutting down server...")
		orch.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// initTracing installs the global tracer provider. Spans are always
// recorded so trace ids reach the payment backend; exporting them is optional.
func initTracing(stdout bool) (func(context.Context) error, error) {
	opts := []sdktrace.TracerProviderOption{}
	if stdout {
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, err
		}
		opts = append(opts, sdktrace.WithBatcher(exp))
	}
	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

func newGateway(cfg config.Config) adapter.Gateway {
	if cfg.GatewayMode == config.ModeHTTP {
		client := &http.Client{Timeout: cfg.APITimeout}
		return momo.NewHTTPGateway(cfg.APIBaseURL, momo.StaticTokenSource(cfg.APIToken), client, logging.Default())
	}
	return newDemoGateway()
}

// newDemoGateway answers PENDING a few times for every deposit, then COMPLETED.
func newDemoGateway() *adaptermock.MockAdapter {
	demo := adaptermock.NewMockAdapter("demo")
	demo.InitialStatus = status.RawSubmitted
	demo.CheckStatusFunc = func(_ context.Context, sessionID string) (adapter.StatusResult, error) {
		if demo.StatusCalls(sessionID) <= demoConfirmAfter {
			return adapter.StatusResult{Success: true, RawStatus: status.RawPending}, nil
		}
		return adapter.StatusResult{Success: true, RawStatus: status.RawCompleted}, nil
	}
	return demo
}

// newMonitor validates POST /payments bodies against the schema file when one
// is configured, and against the embedded payment schema otherwise.
func newMonitor(cfg config.Config) (*monitor.ContractMonitor, error) {
	if cfg.ContractSchemaFile != "" {
		return monitor.NewContractMonitor(cfg.ContractSchemaFile)
	}
	return monitor.NewPaymentRequestMonitor()
}

func newOrchestrator(cfg config.Config, gw adapter.Gateway, cb *circuitbreaker.CircuitBreaker) (*orchestrator.Orchestrator, error) {
	var rules []policy.PolicyRule
	if cfg.PolicyRulesFile != "" {
		loaded, err := policy.LoadRules(cfg.PolicyRulesFile)
		if err != nil {
			return nil, err
		}
		rules = loaded
	}
	pe, err := policy.NewPaymentPolicyEnforcer(rules)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize policy enforcer: %w", err)
	}
	return orchestrator.NewOrchestrator(gw, pe, cb, reporting.NewRecorder(0), cfg.Poll), nil
}
