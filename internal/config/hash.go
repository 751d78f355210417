package config

import (
	"encoding/json"

	"github.com/cespare/xxhash/v2"
)

// hashConfig returns a stable hash of the committed content. nil returns 0.
func hashConfig(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	b, err := json.Marshal(cfg)
	if err != nil || len(b) == 0 {
		return 0
	}
	return xxhash.Sum64(b)
}
