package main

import (
	"context"

	"github.com/sells-group/auction-ocr/internal/ocr"
	"github.com/sells-group/auction-ocr/internal/pipeline"
	"github.com/sells-group/auction-ocr/internal/store"
)

// appEnv holds the initialized store, OCR engine, and pipeline shared by
// the ingest/fetch/serve commands.
type appEnv struct {
	Store    store.Store
	Engine   ocr.Engine
	Pipeline *pipeline.Pipeline
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv opens the store, builds the OCR engine, and wires the pipeline.
// Callers should defer env.Close().
func initEnv(ctx context.Context) (*appEnv, error) {
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	engine, err := ocr.New(cfg.OCR)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	p, err := pipeline.New(cfg, st, engine)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	return &appEnv{Store: st, Engine: engine, Pipeline: p}, nil
}

// initStore opens just the store, for commands that never extract.
func initStore(ctx context.Context) (store.Store, error) {
	return store.Open(ctx, cfg.Store)
}
