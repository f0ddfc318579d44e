package cqldrv

import "github.com/rs/zerolog"

// LogLevel is a small severity enum passed to Logger.Log alongside a
// message and key/value pairs, rather than a full structured-logging
// interface, so swapping loggers never requires adopting a specific
// logging library's API.
type LogLevel int8

const (
	LogLevelNone LogLevel = iota
	LogLevelError
	LogLevelWarn
	LogLevelInfo
	LogLevelDebug
)

func (l LogLevel) String() string {
	switch l {
	case LogLevelError:
		return "ERROR"
	case LogLevelWarn:
		return "WARN"
	case LogLevelInfo:
		return "INFO"
	case LogLevelDebug:
		return "DEBUG"
	default:
		return "NONE"
	}
}

// Logger is the logging contract every component in this driver logs
// through; it is never bypassed with fmt.Println/log.Print.
type Logger interface {
	Level() LogLevel
	Log(level LogLevel, msg string, keyvals ...interface{})
}

// nopLogger discards everything; used when a ClusterConfig specifies no
// logger.
type nopLogger struct{}

func (nopLogger) Level() LogLevel                                 { return LogLevelNone }
func (nopLogger) Log(LogLevel, string, ...interface{})             {}

// ZerologLogger adapts github.com/rs/zerolog to the Logger interface; a
// ClusterConfig uses it only when it is set as the config's logger (with no
// logger configured, output is discarded by nopLogger). Grounded on the
// datastax/go-cassandra-native-protocol
// client's use of zerolog for connection lifecycle logging.
type ZerologLogger struct {
	Logger zerolog.Logger
	level  LogLevel
}

// NewZerologLogger wraps l, logging at all levels up to and including max.
func NewZerologLogger(l zerolog.Logger, max LogLevel) *ZerologLogger {
	return &ZerologLogger{Logger: l, level: max}
}

func (z *ZerologLogger) Level() LogLevel { return z.level }

func (z *ZerologLogger) Log(level LogLevel, msg string, keyvals ...interface{}) {
	if level > z.level {
		return
	}
	var ev *zerolog.Event
	switch level {
	case LogLevelError:
		ev = z.Logger.Error()
	case LogLevelWarn:
		ev = z.Logger.Warn()
	case LogLevelInfo:
		ev = z.Logger.Info()
	default:
		ev = z.Logger.Debug()
	}
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, _ := keyvals[i].(string)
		ev = ev.Interface(key, keyvals[i+1])
	}
	ev.Msg(msg)
}
