package config

import (
	"sync"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/corpusd/internal/source"
)

// NewSourceReloader returns a sources hook that re-reads the config file on
// every call, so edited source specs take effect on the next pipeline run
// without a restart.
//
// A file that cannot be read or fails validation does not disturb a running
// daemon: the last good source list is returned unchanged and the failure is
// logged.
func NewSourceReloader(configPath string, initial []source.Spec, logger *zap.Logger) func() []source.Spec {
	if logger == nil {
		logger = zap.NewNop()
	}

	var mu sync.Mutex
	last := initial

	return func() []source.Spec {
		mu.Lock()
		defer mu.Unlock()

		cfg, err := Load(configPath)
		if err != nil {
			logger.Warn("reloading source configuration failed, keeping previous sources",
				zap.String("path", configPath),
				zap.Int("sources", len(last)),
				zap.Error(err))
			return last
		}
		last = cfg.Sources
		return last
	}
}
