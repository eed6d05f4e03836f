// Package logger is the process wide log facade. Backends are installed once
// with Init; until then every call is dropped.
package logger

import "sync/atomic"

// LoggerInstance defines the interface for logging backends.
type LoggerInstance interface {
	Log(message string, keyvals ...any)
	Debug(message string, keyvals ...any)
	Info(message string, keyvals ...any)
	Warn(message string, keyvals ...any)
	Error(message string, keyvals ...any)
	Fatal(message string, keyvals ...any)
}

type level int

const (
	levelLog level = iota
	levelDebug
	levelInfo
	levelWarn
	levelError
	levelFatal
)

var instances atomic.Pointer[[]LoggerInstance]

// Init installs the backends. Calling it again replaces them, and calling
// it with none silences logging.
func Init(backends ...LoggerInstance) {
	instances.Store(&backends)
}

func dispatch(lvl level, message string, keyvals []any) {
	p := instances.Load()
	if p == nil {
		return
	}
	for _, inst := range *p {
		switch lvl {
		case levelDebug:
			inst.Debug(message, keyvals...)
		case levelInfo:
			inst.Info(message, keyvals...)
		case levelWarn:
			inst.Warn(message, keyvals...)
		case levelError:
			inst.Error(message, keyvals...)
		case levelFatal:
			inst.Fatal(message, keyvals...)
		default:
			inst.Log(message, keyvals...)
		}
	}
}

func Log(message string, keyvals ...any)   { dispatch(levelLog, message, keyvals) }
func Debug(message string, keyvals ...any) { dispatch(levelDebug, message, keyvals) }
func Info(message string, keyvals ...any)  { dispatch(levelInfo, message, keyvals) }
func Warn(message string, keyvals ...any)  { dispatch(levelWarn, message, keyvals) }
func Error(message string, keyvals ...any) { dispatch(levelError, message, keyvals) }

// Fatal logs at FATAL level. Backends terminate the process.
func Fatal(message string, keyvals ...any) { dispatch(levelFatal, message, keyvals) }

// Scope carries key/value pairs that are prepended to every line it logs,
// typically the sitting and run an extraction belongs to.
type Scope struct {
	keyvals []any
}

// With returns a Scope logging keyvals with every message.
func With(keyvals ...any) Scope {
	return Scope{keyvals: keyvals}
}

// With returns a copy of s extended by keyvals.
func (s Scope) With(keyvals ...any) Scope {
	kv := make([]any, 0, len(s.keyvals)+len(keyvals))
	kv = append(kv, s.keyvals...)
	return Scope{keyvals: append(kv, keyvals...)}
}

func (s Scope) merge(keyvals []any) []any {
	if len(s.keyvals) == 0 {
		return keyvals
	}
	kv := make([]any, 0, len(s.keyvals)+len(keyvals))
	kv = append(kv, s.keyvals...)
	return append(kv, keyvals...)
}

func (s Scope) Debug(message string, keyvals ...any) { dispatch(levelDebug, message, s.merge(keyvals)) }
func (s Scope) Info(message string, keyvals ...any)  { dispatch(levelInfo, message, s.merge(keyvals)) }
func (s Scope) Warn(message string, keyvals ...any)  { dispatch(levelWarn, message, s.merge(keyvals)) }
func (s Scope) Error(message string, keyvals ...any) { dispatch(levelError, message, s.merge(keyvals)) }
