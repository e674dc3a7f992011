package strategy

import (
	"fmt"
	"log/slog"
)

// Build constructs the producer registered under kind. The producer reports
// cfg.Name as its id, which usually equals kind.
func Build(kind string, cfg Config, logger *slog.Logger) (Producer, error) {
	if cfg.Name == "" {
		cfg.Name = kind
	}
	switch kind {
	case "ultra_scalp":
		return NewUltraScalp(cfg, logger), nil
	case "fast_scalp":
		return NewFastScalp(cfg, logger), nil
	case "quick_momentum":
		return NewQuickMomentum(cfg, logger), nil
	case "ttm_squeeze":
		return NewTTMSqueeze(cfg, logger), nil
	default:
		return nil, fmt.Errorf("strategy: unknown producer %q", kind)
	}
}
