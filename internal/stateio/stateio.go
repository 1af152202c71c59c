// Package stateio implements the per-environment state store named in
// spec.md §6 ("service credentials and config sources... are clients of
// the core") and §4.5's hidden-value state: previously fetched elements
// and service credentials, persisted as generic maps and decoded into
// typed records with mapstructure, the way the teacher's module
// processing pipeline decodes loosely-typed YANG extension data into
// concrete Go structs.
package stateio

import (
	"fmt"
	"sync"
	"time"

	mapstructure "github.com/go-viper/mapstructure/v2"

	"github.com/salto-io/workspace-core/internal/element"
)

// Record is one environment's previously fetched element set, stored
// independently of its NaCl files.
type Record struct {
	Env        string                     `mapstructure:"env"`
	Elements   map[string]element.Element `mapstructure:"-"`
	UpdatedAt  time.Time                  `mapstructure:"updatedAt"`
}

// Credential is one service credential entry, keyed "env/service" in the
// store (spec.md §6 "Credentials are stored per-env under a key of the
// form env/service").
type Credential struct {
	Env     string         `mapstructure:"env"`
	Service string         `mapstructure:"service"`
	Data    map[string]any `mapstructure:"data"`
}

// Store holds state records and credentials in memory, decoding each
// through mapstructure from whatever generic map a config/JSON loader
// handed it, so callers never need to hand-write a decode for every
// record shape.
type Store struct {
	mu          sync.RWMutex
	records     map[string]*Record     // keyed by env
	credentials map[string]*Credential // keyed by "env/service"
}

// New returns an empty Store.
func New() *Store {
	return &Store{records: map[string]*Record{}, credentials: map[string]*Credential{}}
}

// LoadRecord decodes raw (as produced by a TOML/JSON reader) into a
// Record for env and stores it, replacing any previous record.
func (s *Store) LoadRecord(env string, raw map[string]any) (*Record, error) {
	var rec Record
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &rec,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, fmt.Errorf("stateio: building decoder: %w", err)
	}
	if err := dec.Decode(raw); err != nil {
		return nil, fmt.Errorf("stateio: decoding state record for %s: %w", env, err)
	}
	rec.Env = env
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[env] = &rec
	return &rec, nil
}

// SetElements attaches elems (decoded separately, since element.Element
// is a closed interface mapstructure cannot reconstruct on its own) to
// env's record, creating the record if it doesn't exist yet.
func (s *Store) SetElements(env string, elems map[string]element.Element) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[env]
	if !ok {
		rec = &Record{Env: env}
		s.records[env] = rec
	}
	rec.Elements = elems
	rec.UpdatedAt = time.Now()
}

// GetRecord returns env's state record, if one has been loaded.
func (s *Store) GetRecord(env string) (*Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[env]
	return rec, ok
}

// Recency enumerates how fresh a state record is relative to a
// configured threshold (spec.md §4.6 "getStateRecency").
type Recency int

const (
	RecencyNonexistent Recency = iota
	RecencyOld
	RecencyValid
)

func (r Recency) String() string {
	switch r {
	case RecencyNonexistent:
		return "nonexistent"
	case RecencyOld:
		return "old"
	default:
		return "valid"
	}
}

// DefaultStaleThreshold is the default age (spec.md §4.6, "default 7
// days") past which a state record is considered Old rather than Valid.
const DefaultStaleThreshold = 7 * 24 * time.Hour

// GetStateRecency reports env's record freshness against threshold (use
// DefaultStaleThreshold when the caller has no configured override).
func (s *Store) GetStateRecency(env string, threshold time.Duration) Recency {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[env]
	if !ok {
		return RecencyNonexistent
	}
	if time.Since(rec.UpdatedAt) > threshold {
		return RecencyOld
	}
	return RecencyValid
}

func credentialKey(env, service string) string { return env + "/" + service }

// SetCredential decodes raw into a Credential for env/service and stores
// it under that composite key.
func (s *Store) SetCredential(env, service string, raw map[string]any) (*Credential, error) {
	cred := &Credential{Env: env, Service: service, Data: map[string]any{}}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cred.Data,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, fmt.Errorf("stateio: building credential decoder: %w", err)
	}
	if err := dec.Decode(raw); err != nil {
		return nil, fmt.Errorf("stateio: decoding credential for %s: %w", credentialKey(env, service), err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.credentials[credentialKey(env, service)] = cred
	return cred, nil
}

// GetCredential returns the stored credential for env/service, if any.
func (s *Store) GetCredential(env, service string) (*Credential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cred, ok := s.credentials[credentialKey(env, service)]
	return cred, ok
}

// RemoveEnv drops env's record and every credential scoped to it, e.g.
// on deleteEnvironment.
func (s *Store) RemoveEnv(env string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, env)
	prefix := env + "/"
	for k := range s.credentials {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			delete(s.credentials, k)
		}
	}
}
