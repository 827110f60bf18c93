// Package settings implements runtime system settings: typed, validated values
// stored as JSON in the settings table, cached in memory, and observable
// through change listeners.
//
// Every key must be defined before use. A definition supplies the default and
// a validator that also normalises the value, so cached values always have
// the shape listeners expect.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/routedesk/routedesk/internal/audit"
	"github.com/routedesk/routedesk/internal/db/models"
	"github.com/routedesk/routedesk/internal/telemetry"
)

// ValidationError rejects a setting value. It maps to HTTP 400.
type ValidationError struct {
	Message string
	Field   string
}

func (e *ValidationError) Error() string { return e.Message }

// Invalid builds a ValidationError for the value field.
func Invalid(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...), Field: "value"}
}

func invalidKey(key string) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf("Invalid setting key %q.", key), Field: "key"}
}

// Definition describes one setting key.
type Definition struct {
	Key string
	// Default returns the value used while nothing is stored.
	Default func() any
	// Validate checks a decoded JSON value and returns its normalised form.
	// Returning a *ValidationError rejects the value.
	Validate func(v any) (any, error)
}

// Repository is the persistence the service needs. Implemented by
// repositories.SettingRepository.
type Repository interface {
	GetSetting(ctx context.Context, key string) (*models.Setting, error)
	ListSettings(ctx context.Context) ([]*models.Setting, error)
	UpsertSetting(ctx context.Context, key string, value json.RawMessage, updatedBy *string) error
	UpsertSettings(ctx context.Context, values map[string]json.RawMessage, updatedBy *string) error
	DeleteSetting(ctx context.Context, key string) error
}

// Emitter receives setting.changed audit events. *audit.Channel implements it.
type Emitter interface {
	Emit(ctx context.Context, ev audit.Event, caller audit.Caller)
}

// Listener is called after a key's value changes, with the new value.
type Listener func(ctx context.Context, key string, value any)

// Item is one key/value pair of a SetMany call.
type Item struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// Service is the settings store.
type Service struct {
	repo    Repository
	emitter Emitter

	mu        sync.RWMutex
	defs      map[string]Definition
	cache     map[string]any
	listeners map[string][]Listener
}

// NewService creates a service backed by repo. emitter may be nil.
func NewService(repo Repository, emitter Emitter) *Service {
	return &Service{
		repo:      repo,
		emitter:   emitter,
		defs:      make(map[string]Definition),
		cache:     make(map[string]any),
		listeners: make(map[string][]Listener),
	}
}

// Define registers a key. Redefining a key replaces its definition and
// clears its cached value.
func (s *Service) Define(def Definition) {
	if def.Default == nil {
		def.Default = func() any { return nil }
	}
	if def.Validate == nil {
		def.Validate = func(v any) (any, error) { return v, nil }
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defs[def.Key] = def
	delete(s.cache, def.Key)
}

// Keys returns every defined key in sorted order.
func (s *Service) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.defs))
	for k := range s.defs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// OnChange registers fn to run whenever key changes.
func (s *Service) OnChange(key string, fn Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners[key] = append(s.listeners[key], fn)
}

// Default returns the default value of key.
func (s *Service) Default(key string) (any, error) {
	def, ok := s.definition(key)
	if !ok {
		return nil, invalidKey(key)
	}
	return def.Default(), nil
}

// Get returns the stored value of key, or its default.
func (s *Service) Get(ctx context.Context, key string) (any, error) {
	def, ok := s.definition(key)
	if !ok {
		return nil, invalidKey(key)
	}

	s.mu.RLock()
	v, cached := s.cache[key]
	s.mu.RUnlock()
	if cached {
		return v, nil
	}

	stored, err := s.repo.GetSetting(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to read setting %s: %w", key, err)
	}
	v = s.decodeStored(def, stored)

	s.mu.Lock()
	s.cache[key] = v
	s.mu.Unlock()
	return v, nil
}

// Validate checks value against key's definition without storing it.
func (s *Service) Validate(key string, value any) (any, error) {
	def, ok := s.definition(key)
	if !ok {
		return nil, invalidKey(key)
	}
	return def.Validate(value)
}

// Set validates and stores value under key.
func (s *Service) Set(ctx context.Context, key string, value any, caller audit.Caller) (any, error) {
	normalised, err := s.Validate(key, value)
	if err != nil {
		s.countUpdate(key, err)
		return nil, err
	}

	raw, err := json.Marshal(normalised)
	if err != nil {
		return nil, fmt.Errorf("failed to encode setting %s: %w", key, err)
	}
	if err := s.repo.UpsertSetting(ctx, key, raw, caller.UserID); err != nil {
		err = fmt.Errorf("failed to save setting %s: %w", key, err)
		s.countUpdate(key, err)
		return nil, err
	}

	s.commit(ctx, key, normalised, normalised, caller)
	s.countUpdate(key, nil)
	return normalised, nil
}

// SetMany validates every item before storing any of them. Either all items
// are stored or none are.
func (s *Service) SetMany(ctx context.Context, items []Item, caller audit.Caller) (map[string]any, error) {
	normalised := make(map[string]any, len(items))
	raw := make(map[string]json.RawMessage, len(items))
	for _, it := range items {
		v, err := s.Validate(it.Key, it.Value)
		if err != nil {
			s.countUpdate(it.Key, err)
			return nil, err
		}
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode setting %s: %w", it.Key, err)
		}
		normalised[it.Key] = v
		raw[it.Key] = b
	}

	if err := s.repo.UpsertSettings(ctx, raw, caller.UserID); err != nil {
		return nil, fmt.Errorf("failed to save settings: %w", err)
	}

	for _, it := range items {
		v := normalised[it.Key]
		s.commit(ctx, it.Key, v, v, caller)
		s.countUpdate(it.Key, nil)
	}
	return normalised, nil
}

// Unset deletes the stored value of key so it reverts to its default.
func (s *Service) Unset(ctx context.Context, key string, caller audit.Caller) (any, error) {
	def, ok := s.definition(key)
	if !ok {
		err := invalidKey(key)
		s.countUpdate(key, err)
		return nil, err
	}
	if err := s.repo.DeleteSetting(ctx, key); err != nil {
		err = fmt.Errorf("failed to delete setting %s: %w", key, err)
		s.countUpdate(key, err)
		return nil, err
	}

	v := def.Default()
	s.commit(ctx, key, v, nil, caller)
	s.countUpdate(key, nil)
	return v, nil
}

// Load primes the cache from the repository and runs every listener once with
// the current value. Stored values that no longer validate fall back to the
// default.
func (s *Service) Load(ctx context.Context) error {
	stored, err := s.repo.ListSettings(ctx)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	byKey := make(map[string]*models.Setting, len(stored))
	for _, st := range stored {
		byKey[st.Key] = st
	}

	values := make(map[string]any)
	for _, key := range s.Keys() {
		def, _ := s.definition(key)
		values[key] = s.decodeStored(def, byKey[key])
	}

	s.mu.Lock()
	for k, v := range values {
		s.cache[k] = v
	}
	s.mu.Unlock()

	for _, key := range s.Keys() {
		s.notify(ctx, key, values[key])
	}
	slog.Info("settings loaded", "defined", len(values), "stored", len(stored))
	return nil
}

func (s *Service) definition(key string) (Definition, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.defs[key]
	return def, ok
}

func (s *Service) decodeStored(def Definition, st *models.Setting) any {
	if st == nil || len(st.Value) == 0 {
		return def.Default()
	}
	var decoded any
	if err := json.Unmarshal(st.Value, &decoded); err != nil {
		slog.Warn("stored setting is not valid JSON, using default", "key", def.Key, "error", err)
		return def.Default()
	}
	v, err := def.Validate(decoded)
	if err != nil {
		slog.Warn("stored setting failed validation, using default", "key", def.Key, "error", err)
		return def.Default()
	}
	return v
}

// commit caches value, runs listeners, and emits the audit event. audited is
// the value recorded in the event: nil when the key was unset.
func (s *Service) commit(ctx context.Context, key string, value, audited any, caller audit.Caller) {
	s.mu.Lock()
	s.cache[key] = value
	s.mu.Unlock()

	s.notify(ctx, key, value)

	if s.emitter != nil {
		s.emitter.Emit(ctx, audit.SettingChanged{Key: key, Value: audited}, caller)
	}
}

func (s *Service) notify(ctx context.Context, key string, value any) {
	s.mu.RLock()
	fns := append([]Listener(nil), s.listeners[key]...)
	s.mu.RUnlock()
	for _, fn := range fns {
		fn(ctx, key, value)
	}
}

func (s *Service) countUpdate(key string, err error) {
	label := key
	if _, ok := s.definition(key); !ok {
		label = "unknown"
	}
	result := "ok"
	var ve *ValidationError
	switch {
	case errors.As(err, &ve):
		result = "invalid"
	case err != nil:
		result = "error"
	}
	telemetry.SettingUpdatesTotal.WithLabelValues(label, result).Inc()
}
