// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads config.toml and hands out copy-on-write
// snapshots: a reload swaps one atomic pointer, and every worker reads
// a consistent view of the config until it chooses to check again at
// its own next loop boundary.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Pipeline tunes the intake queue and the embedding batch window.
type Pipeline struct {
	QueueCapacity   int `toml:"queue_capacity"`
	BatchMax        int `toml:"batch_max"`
	BatchTimeoutMs  int `toml:"batch_timeout_ms"`
	MaxRetries      int `toml:"max_retries"`
}

// Safety tunes the PII detect-and-redact gate.
type Safety struct {
	RedactPII    bool     `toml:"redact_pii"`
	KindsEnabled []string `toml:"kinds_enabled"`
	LuhnRequired bool     `toml:"luhn_required"`
}

// Dedup tunes the exact and near-duplicate suppression windows.
type Dedup struct {
	ExactWindowSecs int `toml:"exact_window_secs"`
	NearRingSize    int `toml:"near_ring_size"`
}

// Embedding identifies the active embedding model and its batching.
type Embedding struct {
	Dim      int    `toml:"dim"`
	ModelID  string `toml:"model_id"`
	BatchMax int    `toml:"batch_max"`
}

// Search tunes the query planner's ranking and dedup thresholds.
type Search struct {
	SemanticWeight    float64 `toml:"semantic_weight"`
	FTSNormalizerTau  float64 `toml:"fts_normalizer_tau"`
	DedupThreshold    float64 `toml:"dedup_threshold"`
}

// Storage sets the age boundaries retention uses to assign tiers.
type Storage struct {
	HotDays       int `toml:"hot_days"`
	WarmDays      int `toml:"warm_days"`
	RetentionDays int `toml:"retention_days"`
}

// Retention tunes the background sweeper's cadence.
type Retention struct {
	SweepIntervalSecs int `toml:"sweep_interval_secs"`
}

// Events tunes the event bus's per-subscriber buffering.
type Events struct {
	SubscriberBuffer int `toml:"subscriber_buffer"`
}

// Config is the full recognized configuration surface, matching the
// options table the external interface names.
type Config struct {
	Pipeline  Pipeline  `toml:"pipeline"`
	Safety    Safety    `toml:"safety"`
	Dedup     Dedup     `toml:"dedup"`
	Embedding Embedding `toml:"embedding"`
	Search    Search    `toml:"search"`
	Storage   Storage   `toml:"storage"`
	Retention Retention `toml:"retention"`
	Events    Events    `toml:"events"`
}

// Default returns the built-in defaults, used as the starting point
// for a fresh data directory that has not yet written a config.toml.
func Default() Config {
	return Config{
		Pipeline: Pipeline{
			QueueCapacity:  256,
			BatchMax:       16,
			BatchTimeoutMs: 200,
			MaxRetries:     3,
		},
		Safety: Safety{
			RedactPII:    true,
			KindsEnabled: []string{"credit_card", "ssn", "email", "phone"},
			LuhnRequired: true,
		},
		Dedup: Dedup{
			ExactWindowSecs: 60,
			NearRingSize:    32,
		},
		Embedding: Embedding{
			Dim:      384,
			ModelID:  "",
			BatchMax: 16,
		},
		Search: Search{
			SemanticWeight:   0.7,
			FTSNormalizerTau: 5.0,
			DedupThreshold:   0.95,
		},
		Storage: Storage{
			HotDays:       7,
			WarmDays:      30,
			RetentionDays: 365,
		},
		Retention: Retention{
			SweepIntervalSecs: 3600,
		},
		Events: Events{
			SubscriberBuffer: 256,
		},
	}
}

// Load reads and parses path, filling any field the file leaves unset
// with Default's value. A missing file is not an error: Load returns
// Default() unchanged, the expected state for a brand-new data
// directory that has not been configured yet.
func Load(path string) (Config, error) {
	cfg := Default()

	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := toml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path in TOML form, overwriting whatever was there.
// Used by the reembedding migration driver to persist the new
// embedding.model_id/dim once a generation cutover finalizes, so the
// next Open doesn't immediately see a mismatch against the index it
// just migrated to.
func Save(path string, cfg Config) error {
	b, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: encoding %s: %w", path, err)
	}
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return fmt.Errorf("config: writing %s: %w", path, err)
	}
	return nil
}

// Validate rejects a configuration that would put the core into an
// inconsistent state (tier boundaries out of order, weights outside
// their defined range). It never mutates c.
func (c Config) Validate() error {
	if c.Storage.HotDays < 0 || c.Storage.WarmDays < c.Storage.HotDays || c.Storage.RetentionDays < c.Storage.WarmDays {
		return fmt.Errorf("storage tier boundaries must satisfy 0 <= hot_days <= warm_days <= retention_days, got %d/%d/%d",
			c.Storage.HotDays, c.Storage.WarmDays, c.Storage.RetentionDays)
	}
	if c.Search.SemanticWeight < 0 || c.Search.SemanticWeight > 1 {
		return fmt.Errorf("search.semantic_weight must be within [0, 1], got %f", c.Search.SemanticWeight)
	}
	if c.Search.FTSNormalizerTau <= 0 {
		return fmt.Errorf("search.fts_normalizer_tau must be positive, got %f", c.Search.FTSNormalizerTau)
	}
	if c.Pipeline.QueueCapacity <= 0 {
		return fmt.Errorf("pipeline.queue_capacity must be positive, got %d", c.Pipeline.QueueCapacity)
	}
	if c.Embedding.Dim <= 0 {
		return fmt.Errorf("embedding.dim must be positive, got %d", c.Embedding.Dim)
	}
	return nil
}
