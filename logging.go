package querysync

import (
	"go.trai.ch/zerr"
	"go.uber.org/zap"

	"github.com/huykn/querysync/cache"
)

// newLogger returns cfg.Logger when set, otherwise a zap logger built from
// cfg.Log. The *zap.Logger is returned so Close can flush it.
func newLogger(cfg Config) (Logger, *zap.Logger, error) {
	if cfg.Logger != nil {
		return cfg.Logger, nil, nil
	}

	var zc zap.Config
	switch cfg.Log.Format {
	case "", "none":
		return cache.NewNoOpLogger(), nil, nil
	case "json":
		zc = zap.NewProductionConfig()
	default:
		zc = zap.NewDevelopmentConfig()
	}

	level := cfg.Log.Level
	if cfg.DebugMode {
		level = "debug"
	}
	if level != "" {
		lvl, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return nil, nil, zerr.With(zerr.Wrap(err, "invalid log level"), "level", level)
		}
		zc.Level = lvl
	}

	l, err := zc.Build()
	if err != nil {
		return nil, nil, zerr.Wrap(err, "failed to build logger")
	}
	return cache.NewZapLogger(l.Named("querysync")), l, nil
}
