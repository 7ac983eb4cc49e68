package logging

import "go.uber.org/zap"

// CronLogger adapts zap to the robfig/cron Logger interface.
type CronLogger struct{ *zap.SugaredLogger }

// NewCronLogger wraps logger. Sugared because cron passes loose keyvals.
func NewCronLogger(logger *zap.Logger) *CronLogger {
	return &CronLogger{logger.Sugar()}
}

func (c *CronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.Debugw(msg, keysAndValues...)
}

func (c *CronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.Errorw(msg, append(keysAndValues, "error", err)...)
}
