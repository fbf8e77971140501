package env

import (
	zap "go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	pkgerrors "github.com/luma/sparkplug/errors"
)

func MakeLogger(level string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, pkgerrors.Configuration("env.MakeLogger", err)
	}

	logConfig := zap.NewProductionConfig()
	logConfig.Level = zap.NewAtomicLevelAt(lvl)
	logConfig.Encoding = "json"

	return logConfig.Build()
}
