package lavago

import "go.uber.org/zap"

// defaultLogger returns a production zap logger, falling back to a no-op
// logger if construction fails (e.g. sandboxed environments without a
// writable stderr), so a logging misconfiguration never prevents the
// client from starting.
func defaultLogger() *zap.SugaredLogger {
	l, err := zap.NewProduction()
	if err != nil {
		return zap.NewNop().Sugar()
	}
	return l.Sugar()
}
