package featuresort

import "go.uber.org/zap"

// Logger is the narrow logging surface the core depends on: structured
// key/value logging at info, warn and error level, matching zap's
// SugaredLogger. Keeping this as an interface means core packages never hard
// pick a sink, the same reasoning spec §9 applies to CommonStringEncoder's
// global dictionary: narrow the dependency, don't assume a global.
type Logger interface {
	Infow(msg string, keysAndValues ...any)
	Warnw(msg string, keysAndValues ...any)
	Errorw(msg string, keysAndValues ...any)
}

// ZapLogger adapts a *zap.SugaredLogger to the Logger interface, the same
// dependency the teacher's caddy/pmtiles_proxy.go integration uses for
// structured request logging.
type ZapLogger struct {
	sugar *zap.SugaredLogger
}

// NewZapLogger wraps l.
func NewZapLogger(l *zap.Logger) *ZapLogger {
	return &ZapLogger{sugar: l.Sugar()}
}

// NewProductionZapLogger builds a ready-to-use production zap logger
// wrapped in the Logger interface; callers that don't care about logger
// configuration can use this directly.
func NewProductionZapLogger() (*ZapLogger, error) {
	l, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return NewZapLogger(l), nil
}

func (z *ZapLogger) Infow(msg string, kv ...any)  { z.sugar.Infow(msg, kv...) }
func (z *ZapLogger) Warnw(msg string, kv ...any)  { z.sugar.Warnw(msg, kv...) }
func (z *ZapLogger) Errorw(msg string, kv ...any) { z.sugar.Errorw(msg, kv...) }

var _ Logger = (*ZapLogger)(nil)

// discardLogger is used by tests and as a safe zero-value default.
type discardLogger struct{}

func (discardLogger) Infow(string, ...any)  {}
func (discardLogger) Warnw(string, ...any)  {}
func (discardLogger) Errorw(string, ...any) {}

var _ Logger = discardLogger{}
