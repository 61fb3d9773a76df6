// Package telemetry defines the structured event sink the gateway core
// emits to, and the zap-backed implementation used in production. The core
// depends only on the Sink interface, never on zap directly, so request-path
// code stays decoupled from the concrete logger.
package telemetry

import "go.uber.org/zap"

// Sink is the structured logging boundary the core is constructed with.
// Fields are passed as alternating key/value pairs, mirroring zap's
// SugaredLogger convention rather than the strongly-typed zap.Field API —
// callers in the request path don't need to import zap to log a field.
type Sink interface {
	Info(msg string, fields ...any)
	Warn(msg string, fields ...any)
	Error(msg string, fields ...any)
}

// ZapSink adapts a *zap.SugaredLogger to Sink.
type ZapSink struct {
	logger *zap.SugaredLogger
}

// NewZapSink builds a production JSON logger and wraps it as a Sink.
func NewZapSink() (*ZapSink, error) {
	logger, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return &ZapSink{logger: logger.Sugar()}, nil
}

// NewZapSinkFrom wraps an already-constructed zap logger, for callers that
// need custom encoder/output configuration (e.g. development mode).
func NewZapSinkFrom(logger *zap.Logger) *ZapSink {
	return &ZapSink{logger: logger.Sugar()}
}

func (z *ZapSink) Info(msg string, fields ...any)  { z.logger.Infow(msg, fields...) }
func (z *ZapSink) Warn(msg string, fields ...any)  { z.logger.Warnw(msg, fields...) }
func (z *ZapSink) Error(msg string, fields ...any) { z.logger.Errorw(msg, fields...) }

// Sync flushes any buffered log entries. Call it once before process exit.
func (z *ZapSink) Sync() error { return z.logger.Sync() }
