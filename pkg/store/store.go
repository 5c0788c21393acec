// Package store persists batch run documents. Every backend stores whole documents
// per namespace and replaces them on write.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/event"

	"github.com/speedrun-hq/tokenrunner/pkg/models"
)

// ErrNotFound is returned by Get when a namespace holds no document
var ErrNotFound = errors.New("document not found")

// Backend is a key-value document store
type Backend interface {
	Get(ctx context.Context, namespace string) ([]byte, error)
	Set(ctx context.Context, namespace string, doc []byte) error
	// Keys lists the namespaces starting with prefix
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// Change is published after a run document is written
type Change struct {
	Namespace string
	Run       *models.BatchRun
}

// Runs reads and writes BatchRun documents and notifies subscribers of every write
type Runs struct {
	backend Backend
	feed    event.Feed
	now     func() time.Time
}

// NewRuns creates a run repository over a backend
func NewRuns(backend Backend) *Runs {
	return &Runs{backend: backend, now: time.Now}
}

// Backend returns the underlying document store
func (r *Runs) Backend() Backend {
	return r.backend
}

// Load reads a run by ID
func (r *Runs) Load(ctx context.Context, runID string) (*models.BatchRun, error) {
	raw, err := r.backend.Get(ctx, models.Namespace(runID))
	if err != nil {
		return nil, err
	}
	var run models.BatchRun
	if err := json.Unmarshal(raw, &run); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", runID, err)
	}
	return &run, nil
}

// Save replaces the persisted run document and publishes the change
func (r *Runs) Save(ctx context.Context, run *models.BatchRun) error {
	run.UpdatedAt = r.now().UTC()
	run.RecomputeCounters()
	raw, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("encode run %s: %w", run.ID, err)
	}
	ns := models.Namespace(run.ID)
	if err := r.backend.Set(ctx, ns, raw); err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}

	// subscribers get their own copy
	var snapshot models.BatchRun
	if err := json.Unmarshal(raw, &snapshot); err == nil {
		r.feed.Send(Change{Namespace: ns, Run: &snapshot})
	}
	return nil
}

// List returns the IDs of all persisted runs in lexical order
func (r *Runs) List(ctx context.Context) ([]string, error) {
	keys, err := r.backend.Keys(ctx, models.Namespace(""))
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, strings.TrimPrefix(k, models.Namespace("")))
	}
	sort.Strings(ids)
	return ids, nil
}

// Subscribe delivers every saved run to ch until the subscription is closed
func (r *Runs) Subscribe(ch chan<- Change) event.Subscription {
	return r.feed.Subscribe(ch)
}

// validNamespace rejects namespaces that could escape a directory or bucket prefix
func validNamespace(ns string) error {
	if ns == "" || strings.HasPrefix(ns, "/") || strings.Contains(ns, "..") || strings.ContainsAny(ns, "\\\x00") {
		return fmt.Errorf("invalid namespace %q", ns)
	}
	return nil
}
