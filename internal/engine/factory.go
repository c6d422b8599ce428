package engine

import (
	"fmt"

	"github.com/spherical/doc-converter/internal/config"
	"github.com/spherical/doc-converter/internal/domain"
)

// Engines are the capabilities selected by configuration. Detector is nil
// when layout detection is disabled.
type Engines struct {
	Converter domain.Converter
	Detector  domain.LayoutDetector
}

// New builds the configured engines once for the life of the process.
func New(cfg *config.Config) (*Engines, error) {
	var e Engines

	switch cfg.Converter.Engine {
	case config.EngineMarker:
		e.Converter = NewMarkerClient(cfg.Converter.Marker.URL, cfg.Converter.Marker.Timeout)
	case config.EngineLocal:
		e.Converter = NewLocalConverter()
	default:
		return nil, domain.ConfigError(fmt.Sprintf("unknown converter engine %q", cfg.Converter.Engine), nil)
	}

	if cfg.Layout.Enabled {
		switch cfg.Layout.Engine {
		case config.EngineSurya, "":
			e.Detector = NewSuryaClient(cfg.Layout.URL, cfg.Layout.Timeout)
		default:
			return nil, domain.ConfigError(fmt.Sprintf("unknown layout engine %q", cfg.Layout.Engine), nil)
		}
	}

	return &e, nil
}
