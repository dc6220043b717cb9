package gologger

import (
	"io"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type ctxKey string

const (
	// ReqIDKey holds the HTTP request id, QueryIDKey the scan query id.
	ReqIDKey   ctxKey = "reqID"
	QueryIDKey ctxKey = "queryID"
)

var configureOnce sync.Once

func configure() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.TimestampFieldName = "time"
	zerolog.CallerMarshalFunc = callerWithFunc
	zerolog.SetGlobalLevel(levelFromEnv())

	l := NewLogger()
	zerolog.DefaultContextLogger = &l
}

func init() {
	configureOnce.Do(configure)
}

// levelFromEnv reads DEBUG=1 or LOG_LEVEL, defaulting to info.
func levelFromEnv() zerolog.Level {
	if os.Getenv("DEBUG") == "1" {
		return zerolog.DebugLevel
	}
	if lvl, err := zerolog.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil && lvl != zerolog.NoLevel {
		return lvl
	}
	return zerolog.InfoLevel
}

func output() io.Writer {
	if os.Getenv("PRETTY") == "1" {
		return zerolog.ConsoleWriter{Out: os.Stderr}
	}
	return os.Stdout
}

func NewLogger() zerolog.Logger {
	return zerolog.New(output()).With().Timestamp().Logger().Hook(CallerHook{})
}

// ForComponent returns a logger tagged with the component that owns it.
func ForComponent(component string) zerolog.Logger {
	return NewLogger().With().Str("component", component).Logger()
}

// callerWithFunc renders file:line plus the short function name.
func callerWithFunc(pc uintptr, file string, line int) string {
	caller := file + ":" + strconv.Itoa(line)
	fun := runtime.FuncForPC(pc)
	if fun == nil {
		return caller
	}
	name := fun.Name()
	if slash := strings.LastIndex(name, "/"); slash > 0 {
		name = name[slash+1:]
	}
	return caller + " " + name + "()"
}

type CallerHook struct{}

func (h CallerHook) Run(e *zerolog.Event, _ zerolog.Level, _ string) {
	e.Caller(3)
}
