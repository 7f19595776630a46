// Package worker provides async quote processing over the EventBus.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/quote"
)

// QuoteBuilder prices a quote request.
type QuoteBuilder interface {
	Build(ctx context.Context, req quote.Request) (*domain.Quote, error)
}

// CatalogInvalidator drops cached catalog entries of a tenant.
type CatalogInvalidator interface {
	Invalidate(ctx context.Context, tenantID string) error
}

// ErrTenantMismatch is returned when a message names a tenant other than the
// one whose topic it arrived on.
var ErrTenantMismatch = errors.New("worker: message tenant does not match subscription")

// Worker computes quotes asynchronously from the EventBus.
type Worker struct {
	bus     domain.EventBus
	repo    domain.Repository
	builder QuoteBuilder
	catalog CatalogInvalidator

	mu            sync.Mutex
	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process
	TenantIDs []string
}

// NewWorker creates a new async worker. repo and catalog may be nil.
func NewWorker(eventBus domain.EventBus, repo domain.Repository, builder QuoteBuilder, catalog CatalogInvalidator) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:     eventBus,
		repo:    repo,
		builder: builder,
		catalog: catalog,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start begins processing messages for the given tenants.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.TenantIDs) == 0 {
		return errors.New("worker: at least one tenant is required")
	}

	started := 0
	for _, tenantID := range cfg.TenantIDs {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
		started++
	}

	if started == 0 {
		return fmt.Errorf("worker: no tenant subscription could be started")
	}

	slog.Info("workers started",
		"tenant_count", started,
	)

	return nil
}

// startTenantWorker subscribes to the quoting topics of one tenant.
func (w *Worker) startTenantWorker(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicQuoteRequested, func(ctx context.Context, msg *domain.Message) error {
		return w.processQuote(ctx, tenantID, msg)
	})
	if err != nil {
		return err
	}
	w.track(sub)

	if w.catalog != nil {
		sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicCatalogUpdated, func(ctx context.Context, msg *domain.Message) error {
			return w.catalog.Invalidate(ctx, tenantID)
		})
		if err != nil {
			return err
		}
		w.track(sub)
	}

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicQuoteRequested,
	)

	return nil
}

func (w *Worker) track(sub domain.Subscription) {
	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()
}

// QuoteMessage is the message payload for async quote requests.
type QuoteMessage struct {
	RequestID   string                  `json:"requestId,omitempty"`
	TenantID    string                  `json:"tenantId,omitempty"`
	TraceID     string                  `json:"traceId,omitempty"`
	IssuanceID  string                  `json:"issuanceId,omitempty"`
	Combination domain.Combination      `json:"combination"`
	Volume      float64                 `json:"volume"`
	Series      []domain.SeriesNotional `json:"series"`
}

// ComputedMessage is published on quote.computed and quote.flagged.
type ComputedMessage struct {
	RequestID string        `json:"requestId,omitempty"`
	Quote     *domain.Quote `json:"quote,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// processQuote builds, stores and publishes one quote.
func (w *Worker) processQuote(ctx context.Context, tenantID string, msg *domain.Message) error {
	start := time.Now()

	var qm QuoteMessage
	if err := json.Unmarshal(msg.Payload, &qm); err != nil {
		slog.Error("failed to parse quote message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	requestID := qm.RequestID
	if requestID == "" {
		requestID = msg.ID
	}

	// The subscription owns the tenant; the payload may only repeat it.
	if qm.TenantID != "" && qm.TenantID != tenantID {
		slog.Warn("rejecting quote request for another tenant",
			"request_id", requestID,
			"tenant_id", tenantID,
			"message_tenant_id", qm.TenantID,
		)
		reply := ComputedMessage{RequestID: requestID, Error: ErrTenantMismatch.Error()}
		if pubErr := bus.PublishJSON(ctx, w.bus, tenantID, domain.TopicQuoteComputed, reply); pubErr != nil {
			slog.Error("failed to publish quote error", "request_id", requestID, "error", pubErr)
		}
		return ErrTenantMismatch
	}

	traceID := qm.TraceID
	if traceID == "" {
		traceID = msg.ID
	}

	slog.Debug("processing quote request",
		"request_id", requestID,
		"tenant_id", tenantID,
		"trace_id", traceID,
	)

	// 1. Build
	q, err := w.builder.Build(ctx, quote.Request{
		TenantID:    tenantID,
		TraceID:     traceID,
		IssuanceID:  qm.IssuanceID,
		Combination: qm.Combination,
		Volume:      qm.Volume,
		Series:      qm.Series,
	})
	if err != nil {
		slog.Error("quote build failed",
			"request_id", requestID,
			"error", err,
		)
		// Reply so the requester is not left waiting.
		if pubErr := bus.PublishJSON(ctx, w.bus, tenantID, domain.TopicQuoteComputed, ComputedMessage{RequestID: requestID, Error: err.Error()}); pubErr != nil {
			slog.Error("failed to publish quote error", "request_id", requestID, "error", pubErr)
		}
		return err
	}

	// 2. Save
	if w.repo != nil {
		if err := w.repo.SaveQuote(ctx, tenantID, q); err != nil {
			slog.Error("failed to save quote",
				"quote_id", q.ID,
				"error", err,
			)
		}
	}

	// 3. Publish result
	result := ComputedMessage{RequestID: requestID, Quote: q}
	if err := bus.PublishJSON(ctx, w.bus, tenantID, domain.TopicQuoteComputed, result); err != nil {
		slog.Error("failed to publish quote",
			"quote_id", q.ID,
			"error", err,
		)
	}

	// 4. Blocked quotes also go to the flagged topic
	if quote.ShouldAlert(q) {
		if err := bus.PublishJSON(ctx, w.bus, tenantID, domain.TopicQuoteFlagged, result); err != nil {
			slog.Error("failed to publish flagged quote",
				"quote_id", q.ID,
				"error", err,
			)
		}
	}

	slog.Info("quote processed",
		"quote_id", q.ID,
		"tenant_id", tenantID,
		"status", q.Status,
		"total_first_year", q.Totals.TotalFirstYear,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	defer w.mu.Unlock()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
