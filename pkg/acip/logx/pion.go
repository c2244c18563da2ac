package logx

import (
	"fmt"

	"github.com/pion/logging"
)

// PionLoggerFactory bridges pion's internal ICE/DTLS/SCTP logging into the
// transport category so it surfaces through --debug-transport instead of
// pion's own stderr logger.
type PionLoggerFactory struct {
	Logger *Logger
}

// NewLogger implements logging.LoggerFactory.
func (f PionLoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &pionLeveledLogger{logger: f.Logger, scope: scope}
}

type pionLeveledLogger struct {
	logger *Logger
	scope  string
}

func (p *pionLeveledLogger) Trace(msg string)          { p.logger.DebugTransport(msg, "scope", p.scope, "level", "trace") }
func (p *pionLeveledLogger) Tracef(f string, a ...any)  { p.Trace(sprintf(f, a...)) }
func (p *pionLeveledLogger) Debug(msg string)           { p.logger.DebugTransport(msg, "scope", p.scope, "level", "debug") }
func (p *pionLeveledLogger) Debugf(f string, a ...any)  { p.Debug(sprintf(f, a...)) }
func (p *pionLeveledLogger) Info(msg string)            { p.logger.Info(msg, "scope", p.scope) }
func (p *pionLeveledLogger) Infof(f string, a ...any)   { p.Info(sprintf(f, a...)) }
func (p *pionLeveledLogger) Warn(msg string)            { p.logger.Warn(msg, "scope", p.scope) }
func (p *pionLeveledLogger) Warnf(f string, a ...any)   { p.Warn(sprintf(f, a...)) }
func (p *pionLeveledLogger) Error(msg string)           { p.logger.Error(msg, "scope", p.scope) }
func (p *pionLeveledLogger) Errorf(f string, a ...any)  { p.Error(sprintf(f, a...)) }

func sprintf(format string, args ...any) string {
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}
