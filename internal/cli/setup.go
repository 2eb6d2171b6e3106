package cli

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/mnemo-dev/mnemo/internal/config"
	"github.com/mnemo-dev/mnemo/internal/engine"
	"github.com/mnemo-dev/mnemo/internal/store"
)

// loadConfig layers the --config file and MNEMO_* env vars over defaults.
func loadConfig() (config.Config, error) {
	return config.Load(cfgPath)
}

// openDB opens the configured database, resolving the default path when the
// config leaves it blank.
func openDB(cfg config.Config) (*store.DB, error) {
	path := cfg.Database.Path
	if path == "" {
		var err error
		path, err = store.DefaultDBPath()
		if err != nil {
			return nil, fmt.Errorf("resolve db path: %w", err)
		}
	}
	db, err := store.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	return db, nil
}

// buildEmbedder probes Ollama and falls back to a TF-IDF embedder built from
// the stored corpus. Either way the result is wrapped in the circuit-breaking
// guard so a flaky backend degrades recall instead of failing it.
func buildEmbedder(cfg config.Config, db *store.DB) engine.Embedder {
	emb := cfg.Embedding
	if engine.ProbeOllama(emb.OllamaURL, emb.Model) {
		fmt.Fprintf(os.Stderr, "  embedder: ollama (%s)\n", emb.Model)
		return engine.NewGuardedEmbedder(
			engine.NewOllamaEmbedder(emb.OllamaURL, emb.Model),
			emb.Timeout, emb.BreakerMax, emb.BreakerCool)
	}

	tfidf, err := engine.NewTFIDFEmbedder(db, 512)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: tfidf embedder init failed: %v\n", err)
		return nil
	}
	fmt.Fprintf(os.Stderr, "  embedder: tfidf (fallback)\n")
	return engine.NewGuardedEmbedder(tfidf, emb.Timeout, emb.BreakerMax, emb.BreakerCool)
}

// newEngine wires config, store, embedder, and logger for a CLI invocation.
// The caller owns both returned closers.
func newEngine(log *zap.Logger) (*engine.Engine, *store.DB, config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, cfg, fmt.Errorf("load config: %w", err)
	}
	db, err := openDB(cfg)
	if err != nil {
		return nil, nil, cfg, err
	}
	eng, err := engine.New(db, cfg, buildEmbedder(cfg, db), log)
	if err != nil {
		db.Close()
		return nil, nil, cfg, fmt.Errorf("create engine: %w", err)
	}
	return eng, db, cfg, nil
}
