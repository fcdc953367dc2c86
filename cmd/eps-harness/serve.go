package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/drfirst/go-eps/internal/api/handlers"
	"github.com/drfirst/go-eps/internal/api/middleware"
	"github.com/drfirst/go-eps/internal/builder"
	"github.com/drfirst/go-eps/internal/config"
	"github.com/drfirst/go-eps/internal/inbound"
	"github.com/drfirst/go-eps/internal/infrastructure/redpanda"
	"github.com/drfirst/go-eps/internal/observability/metrics"
	"github.com/drfirst/go-eps/internal/observability/tracing"
	"github.com/drfirst/go-eps/internal/session"
	"github.com/drfirst/go-eps/internal/transport"
	"github.com/drfirst/go-eps/pkg/circuitbreaker"
	"github.com/drfirst/go-eps/pkg/idempotency"
	"github.com/drfirst/go-eps/pkg/workerpool"
)

const (
	serviceName    = "eps-harness"
	serviceVersion = "1.0.0"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the harness HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			return runServer(cmd.Context(), cfg, logger)
		},
	}
}

// outbound is the delivery side of the harness: the sender selected by
// configuration plus whatever it needs closed on shutdown.
type outbound struct {
	sender   transport.Sender
	breaker  *circuitbreaker.CircuitBreaker
	producer *redpanda.Producer
	closers  []func() error
}

func (o *outbound) onClose(fn func() error) {
	o.closers = append(o.closers, fn)
}

// close releases everything registered with onClose, last first.
func (o *outbound) close(logger *zap.Logger) {
	for i := len(o.closers) - 1; i >= 0; i-- {
		if err := o.closers[i](); err != nil {
			logger.Warn("outbound close failed", zap.Error(err))
		}
	}
	o.closers = nil
}

// deadLetterProducer returns the broker producer, creating one when the
// outbound transport does not already use the broker.
func (o *outbound) deadLetterProducer(cfg *config.Config, logger *zap.Logger) (*redpanda.Producer, error) {
	if o.producer != nil {
		return o.producer, nil
	}
	p, err := redpanda.NewProducer(redpanda.DefaultProducerConfig(cfg.KafkaBrokers), logger)
	if err != nil {
		return nil, fmt.Errorf("dead letter producer: %w", err)
	}
	o.producer = p
	o.onClose(p.Close)
	return p, nil
}

func newOutbound(cfg *config.Config, m *metrics.Metrics, logger *zap.Logger) (*outbound, error) {
	out := &outbound{}
	switch cfg.Transport {
	case config.TransportHTTP:
		bc := transport.BreakerConfig("eps")
		bc.OnStateChange = func(name string, _, to circuitbreaker.State) {
			m.SetBreakerState(name, string(to))
		}
		cb, err := circuitbreaker.New(bc, logger)
		if err != nil {
			return nil, err
		}
		m.SetBreakerState(cb.Name(), string(cb.State()))
		out.breaker = cb
		out.sender = transport.NewHTTPSender(cfg.EPSBaseURL, cfg.EPSTimeout, cb, logger)
	case config.TransportBroker:
		p, err := redpanda.NewProducer(redpanda.DefaultProducerConfig(cfg.KafkaBrokers), logger)
		if err != nil {
			return nil, err
		}
		out.producer = p
		out.onClose(p.Close)
		out.sender = transport.NewBrokerSender(p, cfg.OutboundTopic)
	default:
		out.sender = transport.NewLogSender(logger)
	}
	return out, nil
}

func runServer(parent context.Context, cfg *config.Config, logger *zap.Logger) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.Init(ctx, tracing.Config{
		ServiceName:    serviceName,
		ServiceVersion: serviceVersion,
		Environment:    cfg.Env,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     cfg.TraceSampleRate,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(sctx); err != nil {
			logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	store := session.New(logger)
	inbox := idempotency.NewInbox(idempotency.DefaultInboxConfig(), logger)
	inbox.StartCleanup()
	defer inbox.Stop()

	out, err := newOutbound(cfg, m, logger)
	if err != nil {
		return fmt.Errorf("outbound transport: %w", err)
	}
	// Registered before the consumer so producers flush after it stops.
	defer out.close(logger)

	poolCfg := workerpool.DefaultConfig()
	poolCfg.Workers = cfg.DispatchWorkers
	poolCfg.MaxRetries = cfg.DispatchRetries
	dispatcher, err := transport.NewDispatcher(cfg.Transport, out.sender, poolCfg, m, logger)
	if err != nil {
		return fmt.Errorf("dispatcher: %w", err)
	}
	defer func() { _ = dispatcher.Close() }()

	if cfg.InboundEnabled {
		consumer, err := startInbound(cfg, store, inbox, m, out, logger)
		if err != nil {
			return err
		}
		defer func() { _ = consumer.Stop() }()
	}

	h := handlers.New(handlers.Options{
		Store:           store,
		Builder:         builder.New(),
		Dispatcher:      dispatcher,
		Inbox:           inbox,
		Metrics:         m,
		Logger:          logger,
		Pharmacy:        cfg.PharmacyODS,
		MaxRepeatIssues: cfg.MaxRepeatIssues,
	})

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS)
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Tracing(serviceName))

	r.Get("/health", healthHandler)
	r.Get("/ready", readyHandler(cfg, out.breaker))
	r.Method(http.MethodGet, "/metrics", metrics.Handler(reg))

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(cfg.APIKeys))
		r.Mount("/", h.Routes())
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.EPSTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting EPS harness",
			zap.String("port", cfg.Port),
			zap.String("transport", cfg.Transport),
			zap.Bool("inbound", cfg.InboundEnabled),
			zap.Bool("tracing", tp.Enabled()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	sctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(sctx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
	logger.Info("server stopped", zap.Int("prescriptions", store.Len()))
	return nil
}

// startInbound consumes released orders into the session store. Orders
// that cannot be stored go to the dead letter topic.
func startInbound(cfg *config.Config, store *session.Store, inbox *idempotency.Inbox, m *metrics.Metrics, out *outbound, logger *zap.Logger) (*redpanda.Consumer, error) {
	deadLetter, err := out.deadLetterProducer(cfg, logger)
	if err != nil {
		return nil, err
	}

	handler := inbound.NewHandler(store, inbox, m, logger)
	consumer, err := redpanda.NewConsumer(
		redpanda.DefaultConsumerConfig(cfg.KafkaBrokers, cfg.ConsumerGroup, cfg.InboundTopic),
		handler.Handle, deadLetter, logger)
	if err != nil {
		return nil, fmt.Errorf("inbound consumer: %w", err)
	}
	consumer.Start()
	return consumer, nil
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","service":%q,"version":%q}`, serviceName, serviceVersion)
}

// readyHandler reports not ready while the EPS circuit is open or the
// broker cannot be reached.
func readyHandler(cfg *config.Config, breaker *circuitbreaker.CircuitBreaker) http.HandlerFunc {
	needsBroker := cfg.Transport == config.TransportBroker || cfg.InboundEnabled
	return func(w http.ResponseWriter, r *http.Request) {
		status := map[string]any{"transport": cfg.Transport}
		ready := true
		if breaker != nil {
			h := breaker.Health()
			status["circuitBreaker"] = h
			ready = ready && h.Healthy
		}
		if needsBroker {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := redpanda.HealthCheck(ctx, cfg.KafkaBrokers); err != nil {
				status["broker"] = err.Error()
				ready = false
			} else {
				status["broker"] = "ok"
			}
		}
		status["ready"] = ready

		code := http.StatusOK
		if !ready {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(status)
	}
}
