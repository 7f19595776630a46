// Package catalog serves cost definitions and the custody table for a
// combination of category, offer type, vehicle and backing asset.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
)

// ErrInvalidCombination is returned when a lookup has no usable category.
var ErrInvalidCombination = errors.New("invalid combination")

const generationKey = "catalog:gen"

// Entry is the catalog slice for one combination, grouped by periodicity.
type Entry struct {
	Combination domain.Combination      `json:"combination"`
	Upfront     []domain.CostDefinition `json:"upfront"`
	Annual      []domain.CostDefinition `json:"annual"`
	Monthly     []domain.CostDefinition `json:"monthly"`
	Custody     []domain.CustodyBracket `json:"custody"`

	// Cached reports whether the entry was served from cache.
	Cached bool `json:"-"`
}

// Definitions returns every definition, upfront first.
func (e *Entry) Definitions() []domain.CostDefinition {
	all := make([]domain.CostDefinition, 0, len(e.Upfront)+len(e.Annual)+len(e.Monthly))
	all = append(all, e.Upfront...)
	all = append(all, e.Annual...)
	return append(all, e.Monthly...)
}

// Len returns the number of definitions.
func (e *Entry) Len() int {
	return len(e.Upfront) + len(e.Annual) + len(e.Monthly)
}

// UpdatedEvent is published after a catalog write.
type UpdatedEvent struct {
	TenantID string `json:"tenantId"`
	Costs    int    `json:"costs"`
	Custody  int    `json:"custody"`
}

// Service reads the catalog through an optional cache.
type Service struct {
	repo   domain.Repository
	cache  domain.Cache
	events domain.EventBus
	ttl    time.Duration
}

// NewService creates a catalog service. cache may be nil.
func NewService(repo domain.Repository, c domain.Cache, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Service{repo: repo, cache: c, ttl: ttl}
}

// SetEventBus enables catalog.updated notifications.
func (s *Service) SetEventBus(events domain.EventBus) {
	s.events = events
}

// Lookup returns the definitions and custody table for combo.
// A failing custody read degrades to an empty table.
func (s *Service) Lookup(ctx context.Context, tenantID string, combo domain.Combination) (*Entry, error) {
	if !combo.Category.Valid() {
		return nil, fmt.Errorf("%w: unknown category %q", ErrInvalidCombination, combo.Category)
	}

	key := ""
	if s.cache != nil {
		gen, err := s.generation(ctx, tenantID)
		if err != nil {
			slog.Warn("catalog cache unavailable", "tenant", tenantID, "error", err)
		} else {
			key = "catalog:" + gen + ":" + combo.Key()
			var entry Entry
			hit, err := cache.GetJSON(ctx, s.cache, tenantID, key, &entry)
			if err != nil {
				slog.Warn("catalog cache read failed", "tenant", tenantID, "error", err)
			}
			metrics.ObserveCatalogLookup(hit)
			if hit {
				entry.Cached = true
				return &entry, nil
			}
		}
	}

	defs, err := s.repo.ListCostDefinitions(ctx, tenantID, combo)
	if err != nil {
		return nil, fmt.Errorf("list cost definitions: %w", err)
	}

	custody, err := s.repo.ListCustodyBrackets(ctx, tenantID)
	if err != nil {
		slog.Warn("custody table unavailable, continuing without it",
			"tenant", tenantID,
			"error", err,
		)
		custody = nil
		// a degraded entry must not outlive the outage
		key = ""
	}
	sortBrackets(custody)

	entry := group(combo, defs)
	entry.Custody = custody

	slog.Debug("catalog loaded",
		"tenant", tenantID,
		"combination", combo.Key(),
		"costs", entry.Len(),
		"brackets", len(custody),
	)

	if key != "" {
		if err := cache.SetJSON(ctx, s.cache, tenantID, key, entry, s.ttl); err != nil {
			slog.Warn("catalog cache write failed", "tenant", tenantID, "error", err)
		}
	}

	return entry, nil
}

// sortBrackets orders a custody table by lower bound.
func sortBrackets(brackets []domain.CustodyBracket) {
	slices.SortStableFunc(brackets, func(a, b domain.CustodyBracket) int {
		switch {
		case a.MinValue < b.MinValue:
			return -1
		case a.MinValue > b.MinValue:
			return 1
		}
		return 0
	})
}

func group(combo domain.Combination, defs []*domain.CostDefinition) *Entry {
	e := &Entry{
		Combination: combo,
		Upfront:     []domain.CostDefinition{},
		Annual:      []domain.CostDefinition{},
		Monthly:     []domain.CostDefinition{},
	}
	for _, d := range defs {
		if d == nil {
			continue
		}
		switch d.Periodicity {
		case domain.PeriodicityUpfront:
			e.Upfront = append(e.Upfront, *d)
		case domain.PeriodicityAnnual:
			e.Annual = append(e.Annual, *d)
		case domain.PeriodicityMonthly:
			e.Monthly = append(e.Monthly, *d)
		default:
			slog.Warn("skipping cost definition with unknown periodicity",
				"id", d.ID,
				"periodicity", d.Periodicity,
			)
		}
	}
	return e
}

// generation returns the tenant's cache namespace, creating one if needed.
func (s *Service) generation(ctx context.Context, tenantID string) (string, error) {
	gen, err := s.cache.Get(ctx, tenantID, generationKey)
	if err != nil {
		return "", err
	}
	if gen != nil {
		return string(gen), nil
	}

	fresh := uuid.New().String()
	if err := s.cache.Set(ctx, tenantID, generationKey, []byte(fresh), s.generationTTL()); err != nil {
		return "", err
	}
	return fresh, nil
}

// generationTTL outlives every entry cached under the generation.
func (s *Service) generationTTL() time.Duration {
	if ttl := 2 * s.ttl; ttl > 24*time.Hour {
		return ttl
	}
	return 24 * time.Hour
}

// Invalidate drops every cached entry of the tenant.
func (s *Service) Invalidate(ctx context.Context, tenantID string) error {
	if s.cache == nil {
		return nil
	}
	if err := s.cache.Delete(ctx, tenantID, generationKey); err != nil {
		return fmt.Errorf("invalidate catalog cache: %w", err)
	}
	return nil
}

// Import validates records and stores them. Nothing is stored when any
// record is invalid.
func (s *Service) Import(ctx context.Context, tenantID string, records []Record) (int, error) {
	defs := make([]*domain.CostDefinition, 0, len(records))
	for _, r := range records {
		def, err := r.Definition(tenantID)
		if err != nil {
			return 0, err
		}
		defs = append(defs, &def)
	}
	if len(defs) == 0 {
		return 0, nil
	}

	if err := s.repo.SaveCostDefinitions(ctx, tenantID, defs); err != nil {
		return 0, fmt.Errorf("save cost definitions: %w", err)
	}
	metrics.AddCatalogImported(len(defs))

	s.changed(ctx, UpdatedEvent{TenantID: tenantID, Costs: len(defs)})
	return len(defs), nil
}

// ReplaceCustody swaps the tenant's custody table.
func (s *Service) ReplaceCustody(ctx context.Context, tenantID string, brackets []domain.CustodyBracket) error {
	for _, b := range brackets {
		if b.MinValue < 0 || b.MaxValue < b.MinValue || b.Rate < 0 {
			return fmt.Errorf("%w: custody bracket [%v, %v] rate %v", ErrInvalidRecord, b.MinValue, b.MaxValue, b.Rate)
		}
	}
	if err := s.repo.ReplaceCustodyTable(ctx, tenantID, brackets); err != nil {
		return fmt.Errorf("replace custody table: %w", err)
	}

	s.changed(ctx, UpdatedEvent{TenantID: tenantID, Custody: len(brackets)})
	return nil
}

// ImportFile stores the costs and, when present, the custody table of f.
func (s *Service) ImportFile(ctx context.Context, tenantID string, f *File) (int, error) {
	brackets, err := f.Brackets()
	if err != nil {
		return 0, err
	}

	n, err := s.Import(ctx, tenantID, f.Costs)
	if err != nil {
		return 0, err
	}

	if len(brackets) > 0 {
		if err := s.ReplaceCustody(ctx, tenantID, brackets); err != nil {
			return n, err
		}
	}
	return n, nil
}

// CustodyTable returns the tenant's custody table.
func (s *Service) CustodyTable(ctx context.Context, tenantID string) ([]domain.CustodyBracket, error) {
	return s.repo.ListCustodyBrackets(ctx, tenantID)
}

func (s *Service) changed(ctx context.Context, evt UpdatedEvent) {
	if err := s.Invalidate(ctx, evt.TenantID); err != nil {
		slog.Warn("catalog invalidation failed", "tenant", evt.TenantID, "error", err)
	}

	if s.events == nil {
		return
	}
	if err := bus.PublishJSON(ctx, s.events, evt.TenantID, domain.TopicCatalogUpdated, evt); err != nil {
		slog.Warn("failed to publish catalog update", "tenant", evt.TenantID, "error", err)
	}
}
