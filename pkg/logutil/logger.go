package logutil

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zapgrpc"
	"google.golang.org/grpc/grpclog"
)

var (
	logger *zap.Logger = zap.NewNop()
	level              = zap.NewAtomicLevelAt(zap.InfoLevel)
	once   sync.Once
)

// InitLogger builds the process logger. Logs go to stderr so stdout stays
// reserved for the benchmark report.
func InitLogger() {
	once.Do(func() {
		cfg := zap.NewProductionConfig()
		cfg.Level = level
		cfg.OutputPaths = []string{"stderr"}
		cfg.ErrorOutputPaths = []string{"stderr"}
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

		l, err := cfg.Build()
		if err != nil {
			l = zap.NewExample()
		}
		logger = l

		grpclog.SetLoggerV2(zapgrpc.NewLogger(l.Named("grpc").WithOptions(zap.IncreaseLevel(zap.WarnLevel))))
	})
}

func GetLogger() *zap.Logger {
	return logger
}

// SetLevel accepts debug, info, warn or error. Unknown names keep the
// current level.
func SetLevel(name string) error {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(name)); err != nil {
		return err
	}
	level.SetLevel(lvl)
	return nil
}
