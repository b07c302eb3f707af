package extension

import (
	"log/slog"

	"github.com/lanlight/lanlight-go/pkg/light"
)

// Logging logs every discovered light.
type Logging struct {
	Base
	logger *slog.Logger
}

// NewLogging returns a factory for a Logging extension.
func NewLogging(logger *slog.Logger) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return func(inner ChangeDispatcher) Extension {
		return &Logging{
			Base:   Base{Inner: inner},
			logger: logger.With("component", "extension.logging"),
		}
	}
}

// LightAdded logs l and forwards it.
func (e *Logging) LightAdded(l *light.Light) {
	e.logger.Info("light added", "target", l.Target().String(), "addr", l.Addr().String())
	e.Base.LightAdded(l)
}
