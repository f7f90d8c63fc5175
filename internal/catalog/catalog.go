// Package catalog serves validated rule bases backed by the catalogue store.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-health/kestrel/internal/cache"
	"github.com/opensource-health/kestrel/internal/domain"
	"github.com/opensource-health/kestrel/internal/rulebase"
)

// UpdateEvent is published on TopicCatalogueUpdated after a write.
type UpdateEvent struct {
	CatalogueID string `json:"catalogueId"`
	Version     int    `json:"version"`
	Deleted     bool   `json:"deleted,omitempty"`
}

// Service resolves catalogue IDs to rule bases. Lookups go through an
// in-process map of built rule bases, then the cache, then the repository.
type Service struct {
	repo  domain.Repository
	cache domain.Cache
	bus   domain.EventBus
	ttl   time.Duration

	mu    sync.RWMutex
	bases map[string]*entry

	sub domain.Subscription
}

type entry struct {
	rb      *rulebase.RuleBase
	version int
}

// NewService creates a catalogue service. cache and bus may be nil.
func NewService(repo domain.Repository, c domain.Cache, bus domain.EventBus, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Service{
		repo:  repo,
		cache: c,
		bus:   bus,
		ttl:   ttl,
		bases: make(map[string]*entry),
	}
}

// RuleBase returns the rule base of a catalogue, building it on first use.
func (s *Service) RuleBase(ctx context.Context, catalogueID string) (*rulebase.RuleBase, error) {
	s.mu.RLock()
	e, ok := s.bases[catalogueID]
	s.mu.RUnlock()
	if ok {
		return e.rb, nil
	}

	cat, err := s.Catalogue(ctx, catalogueID)
	if err != nil {
		return nil, err
	}

	rb, err := rulebase.New(cat.Conditions)
	if err != nil {
		return nil, fmt.Errorf("catalogue %s: %w", catalogueID, err)
	}

	rb = s.install(ctx, cat, rb, false)

	slog.Debug("rule base built",
		"catalogue_id", catalogueID,
		"version", cat.Version,
		"conditions", rb.Len(),
	)
	return rb, nil
}

// Catalogue returns the authored catalogue.
func (s *Service) Catalogue(ctx context.Context, catalogueID string) (*domain.Catalogue, error) {
	if s.cache != nil {
		cat, err := cache.GetCatalogue(ctx, s.cache, catalogueID)
		if err != nil {
			slog.Warn("catalogue cache read failed",
				"catalogue_id", catalogueID,
				"error", err,
			)
		}
		if cat != nil {
			return cat, nil
		}
	}

	cat, err := s.repo.GetCatalogue(ctx, catalogueID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if cur, ok := s.bases[catalogueID]; !ok || cur.version <= cat.Version {
		s.cacheCatalogue(ctx, cat)
	}
	s.mu.Unlock()
	return cat, nil
}

// install makes rb the rule base of cat.ID unless a newer version is
// already installed, and returns the rule base in effect. With store set
// the catalogue is also written to the cache.
func (s *Service) install(ctx context.Context, cat *domain.Catalogue, rb *rulebase.RuleBase, store bool) *rulebase.RuleBase {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.bases[cat.ID]; ok && cur.version >= cat.Version {
		return cur.rb
	}
	s.bases[cat.ID] = &entry{rb: rb, version: cat.Version}
	if store {
		s.cacheCatalogue(ctx, cat)
	}
	return rb
}

// cacheCatalogue must be called with mu held so that a reader holding an
// older version cannot overwrite a newer one.
func (s *Service) cacheCatalogue(ctx context.Context, cat *domain.Catalogue) {
	if s.cache == nil {
		return
	}
	if err := cache.SetCatalogue(ctx, s.cache, cat, s.ttl); err != nil {
		slog.Warn("catalogue cache write failed",
			"catalogue_id", cat.ID,
			"error", err,
		)
	}
}

// List returns every stored catalogue.
func (s *Service) List(ctx context.Context) ([]*domain.Catalogue, error) {
	return s.repo.ListCatalogues(ctx)
}

// Put validates conditions and stores them as the catalogue's new version.
// Nothing is stored when validation fails.
func (s *Service) Put(ctx context.Context, catalogueID string, conditions []domain.Condition) (*domain.Catalogue, error) {
	if catalogueID == "" {
		return nil, errors.New("catalogue ID is required")
	}
	rb, err := rulebase.New(conditions)
	if err != nil {
		return nil, err
	}

	if err := s.repo.SaveCatalogue(ctx, catalogueID, conditions); err != nil {
		return nil, fmt.Errorf("failed to save catalogue: %w", err)
	}

	cat, err := s.repo.GetCatalogue(ctx, catalogueID)
	if err != nil {
		return nil, err
	}

	// Readers that fetched the previous version before this point find the
	// new entry and discard what they built.
	s.install(ctx, cat, rb, true)

	s.publish(ctx, UpdateEvent{CatalogueID: catalogueID, Version: cat.Version})

	slog.Info("catalogue saved",
		"catalogue_id", catalogueID,
		"version", cat.Version,
		"conditions", len(conditions),
	)
	return cat, nil
}

// Delete removes a catalogue.
func (s *Service) Delete(ctx context.Context, catalogueID string) error {
	if err := s.repo.DeleteCatalogue(ctx, catalogueID); err != nil {
		return err
	}
	s.Invalidate(ctx, catalogueID)
	s.publish(ctx, UpdateEvent{CatalogueID: catalogueID, Deleted: true})

	slog.Info("catalogue deleted", "catalogue_id", catalogueID)
	return nil
}

// Seed stores conditions under catalogueID unless the catalogue exists.
// It reports whether anything was written.
func (s *Service) Seed(ctx context.Context, catalogueID string, conditions []domain.Condition) (bool, error) {
	_, err := s.repo.GetCatalogue(ctx, catalogueID)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, domain.ErrCatalogueNotFound) {
		return false, err
	}

	if _, err := s.Put(ctx, catalogueID, conditions); err != nil {
		return false, err
	}
	return true, nil
}

// Invalidate drops the built rule base and the cached catalogue.
func (s *Service) Invalidate(ctx context.Context, catalogueID string) {
	s.mu.Lock()
	delete(s.bases, catalogueID)
	s.mu.Unlock()

	if s.cache != nil {
		if err := cache.DeleteCatalogue(ctx, s.cache, catalogueID); err != nil {
			slog.Warn("catalogue cache delete failed",
				"catalogue_id", catalogueID,
				"error", err,
			)
		}
	}
}

// Loaded returns the number of rule bases built in this process.
func (s *Service) Loaded() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.bases)
}

// Watch drops local rule bases when another node publishes an update.
func (s *Service) Watch(ctx context.Context) error {
	if s.bus == nil {
		return nil
	}

	sub, err := s.bus.Subscribe(ctx, domain.ScopeGlobal, domain.TopicCatalogueUpdated, func(ctx context.Context, msg *domain.Message) error {
		var ev UpdateEvent
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			return fmt.Errorf("invalid catalogue event: %w", err)
		}

		s.mu.Lock()
		if e, ok := s.bases[ev.CatalogueID]; ok && (ev.Deleted || e.version < ev.Version) {
			delete(s.bases, ev.CatalogueID)
		}
		s.mu.Unlock()
		return nil
	})
	if err != nil {
		return err
	}
	s.sub = sub
	return nil
}

// Close stops watching for updates.
func (s *Service) Close() error {
	if s.sub != nil {
		return s.sub.Unsubscribe()
	}
	return nil
}

func (s *Service) publish(ctx context.Context, ev UpdateEvent) {
	if s.bus == nil {
		return
	}
	payload, _ := json.Marshal(ev)
	if err := s.bus.Publish(ctx, domain.ScopeGlobal, domain.TopicCatalogueUpdated, payload); err != nil {
		slog.Error("failed to publish catalogue update",
			"catalogue_id", ev.CatalogueID,
			"error", err,
		)
	}
}
