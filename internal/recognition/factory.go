package recognition

import (
	"fmt"

	"ledgerline/internal/config"
	"ledgerline/internal/pkg/logger"
	"ledgerline/internal/port"
)

// BackendFactory creates a RecognitionBackend from a provider config.
type BackendFactory func(cfg *config.BackendProviderConfig) (port.RecognitionBackend, error)

// registry of backend factories. The text and none backends register themselves; HTTP
// backends register through their package's Register function.
var backends = map[string]BackendFactory{
	config.BackendText: func(_ *config.BackendProviderConfig) (port.RecognitionBackend, error) {
		return NewTextBackend(), nil
	},
	config.BackendNone: func(_ *config.BackendProviderConfig) (port.RecognitionBackend, error) {
		return NewNoneBackend(), nil
	},
}

// RegisterBackend registers a backend factory by name.
func RegisterBackend(name string, factory BackendFactory) {
	backends[name] = factory
}

// NewBackend creates a RecognitionBackend from a provider config using the registered factory.
func NewBackend(cfg *config.BackendProviderConfig) (port.RecognitionBackend, error) {
	factory, ok := backends[cfg.Provider]
	if !ok {
		return nil, fmt.Errorf("unknown recognition backend: %s", cfg.Provider)
	}
	return factory(cfg)
}

// Build assembles the configured backend chain: primary, then secondary and tertiary as
// fallbacks. With dual pass on, the secondary instead runs alongside the primary as an
// independent agreement pass.
func Build(cfg *config.RecognitionConfig, log logger.Logger) (port.RecognitionBackend, error) {
	primary, err := NewBackend(&cfg.Primary)
	if err != nil {
		return nil, fmt.Errorf("recognition.Build: primary: %w", err)
	}

	if cfg.DualPass {
		sec := cfg.SecondaryConfig()
		if sec == nil {
			return nil, fmt.Errorf("recognition.Build: dual pass needs a secondary backend")
		}
		secondary, err := NewBackend(sec)
		if err != nil {
			return nil, fmt.Errorf("recognition.Build: secondary: %w", err)
		}
		return NewDualPassBackend(primary, secondary, cfg.Primary.Provider, sec.Provider, log), nil
	}

	chain := []port.RecognitionBackend{primary}
	names := []string{cfg.Primary.Provider}
	for _, extra := range []*config.BackendProviderConfig{cfg.SecondaryConfig(), cfg.TertiaryConfig()} {
		if extra == nil {
			continue
		}
		b, err := NewBackend(extra)
		if err != nil {
			return nil, fmt.Errorf("recognition.Build: %s: %w", extra.Provider, err)
		}
		chain = append(chain, b)
		names = append(names, extra.Provider)
	}
	if len(chain) == 1 {
		return primary, nil
	}
	return NewFallbackBackend(chain, names, log), nil
}
