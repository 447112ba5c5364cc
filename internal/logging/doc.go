// Package logging provides structured logging for roomsync on top of zap.
//
// The Logger adds:
//   - a Trace level below Debug
//   - stdout and optional OpenTelemetry output
//   - correlation fields taken from the context (trace, device, actor, request)
//   - redaction of credential fields and store URLs with passwords
//   - per-level sampling, never applied to errors
//
// Usage:
//
//	cfg, err := logging.FromSettings(appCfg.Logging)
//	logger, err := logging.NewLogger(cfg, nil)
//	defer logger.Sync()
//
//	ctx = logging.WithDeviceID(ctx, deviceID)
//	ctx = logging.WithActor(ctx, "Nok", "housekeeping")
//	logger.Info(ctx, "status changed", zap.String("room", "602"))
//
// Tests use NewTestLogger and its Assert helpers:
//
//	tl := logging.NewTestLogger()
//	tl.Info(ctx, "write failed", zap.Int("attempt", 2))
//	tl.AssertLogged(t, zapcore.InfoLevel, "write failed")
//	tl.AssertField(t, "write failed", "attempt", int64(2))
package logging
