// Package store persists the portfolio State as a single JSON blob.
//
// The Persister is a write-through adapter: every Save encodes the full state
// and writes it under one key of a model.BlobStore. Backends live in the
// sqlite and redis subpackages; MemoryBlobStore serves tests and ephemeral runs.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"portfolio-tracker/internal/logger"
	"portfolio-tracker/internal/model"
)

const (
	// StateKey is the blob key the portfolio state is stored under.
	StateKey = "portfolio"

	defaultOpTimeout = 5 * time.Second
)

// Persister implements model.StateStore on top of a BlobStore.
type Persister struct {
	blobs   model.BlobStore
	key     string
	timeout time.Duration
	log     *slog.Logger

	// Optional hooks (metrics)
	OnSave      func(d time.Duration)
	OnSaveError func(err error)
}

// NewPersister creates a Persister writing under StateKey.
func NewPersister(blobs model.BlobStore, log *slog.Logger) *Persister {
	if log == nil {
		log = slog.Default()
	}
	return &Persister{
		blobs:   blobs,
		key:     StateKey,
		timeout: defaultOpTimeout,
		log:     logger.Component(log, "persister"),
	}
}

// Load reads and decodes the stored state. Absent or corrupt data yields an
// empty state; the cause is logged, never returned.
func (p *Persister) Load() model.State {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	empty := model.State{Holdings: []model.Holding{}}

	data, err := p.blobs.Get(ctx, p.key)
	if errors.Is(err, model.ErrNotFound) {
		return empty
	}
	if err != nil {
		p.log.Error("load state failed", slog.String("key", p.key), slog.Any("error", err))
		return empty
	}

	state, err := Decode(data)
	if err != nil {
		p.log.Error("stored state is corrupt, starting empty", slog.String("key", p.key), slog.Any("error", err))
		return empty
	}
	return state
}

// Save encodes and writes the full state.
func (p *Persister) Save(state model.State) error {
	start := time.Now()
	err := p.save(state)
	if err != nil {
		if p.OnSaveError != nil {
			p.OnSaveError(err)
		}
		return err
	}
	if p.OnSave != nil {
		p.OnSave(time.Since(start))
	}
	return nil
}

func (p *Persister) save(state model.State) error {
	data, err := Encode(state)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := p.blobs.Put(ctx, p.key, data); err != nil {
		return fmt.Errorf("store: put %q: %w", p.key, err)
	}
	return nil
}

// Encode serialises a State to its persisted JSON form.
func Encode(state model.State) ([]byte, error) {
	if state.Holdings == nil {
		state.Holdings = []model.Holding{}
	}
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("store: encode state: %w", err)
	}
	return data, nil
}

// Decode parses the persisted JSON form. A document without a holdings array
// decodes to an empty holdings slice.
func Decode(data []byte) (model.State, error) {
	var state model.State
	if err := json.Unmarshal(data, &state); err != nil {
		return model.State{}, fmt.Errorf("store: decode state: %w", err)
	}
	if state.Holdings == nil {
		state.Holdings = []model.Holding{}
	}
	return state, nil
}
