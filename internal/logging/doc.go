// Package logging provides structured logging for shadowbridge.
//
// It wraps Go's log/slog JSON handler with persistent context attributes so
// every line emitted by a component carries the thing, the shadow and the
// component that produced it.
//
// # Basic Usage
//
//	logger, err := logging.NewLoggerWithRotation(cfg.Logging.Dir, cfg.Logging.Level, rotation)
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	log := logger.WithThing("gateway-1").WithShadow("opc").WithComponent("poller")
//	log.Info("published reported state", "tags", 12)
//
// Output:
//
//	{"time":"...","level":"INFO","msg":"published reported state","thing":"gateway-1","shadow":"opc","component":"poller","tags":12}
//
// # Log Rotation
//
// When a log directory is configured, output goes to shadowbridge.log in that
// directory and is rotated by size. Backups are named shadowbridge.log.1
// (newest) through shadowbridge.log.N, gzipped when compression is on. With
// no directory, logs go to stderr.
//
// # Testing
//
// Use [NopLogger] to discard output, or [NewWithWriter] with a bytes.Buffer
// to assert on emitted lines.
package logging
