// Package log provides leveled, structured logging in the style the teacher
// (go-ethereum) uses throughout its sync and networking code: alternating
// key/value pairs attached to a short message, a swappable Handler, and a
// terminal handler that colorizes by level when writing to a tty.
package log

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-stack/stack"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// Level is a log severity, ordered from most to least verbose.
type Level int

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
	LevelCrit
)

func (l Level) String() string {
	switch l {
	case LevelTrace:
		return "TRACE"
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelCrit:
		return "CRIT"
	default:
		return "????"
	}
}

// Record is a single log event passed to a Handler.
type Record struct {
	Time  time.Time
	Level Level
	Msg   string
	Ctx   []interface{} // alternating key, value
	Call  stack.Call    // caller frame, populated for Trace/Debug and Error/Crit
}

// Handler writes a Record somewhere. Handlers must be safe for concurrent use.
type Handler interface {
	Log(r Record) error
}

// Logger is the interface every component in this module logs through.
type Logger interface {
	Trace(msg string, ctx ...interface{})
	Debug(msg string, ctx ...interface{})
	Info(msg string, ctx ...interface{})
	Warn(msg string, ctx ...interface{})
	Error(msg string, ctx ...interface{})
	Crit(msg string, ctx ...interface{})
	// New returns a Logger that prepends ctx to every record it emits.
	New(ctx ...interface{}) Logger
}

type logger struct {
	ctx     []interface{}
	handler *swapHandler
}

// New creates a standalone Logger writing through handler, with ctx attached
// to every record.
func New(handler Handler, ctx ...interface{}) Logger {
	h := new(swapHandler)
	h.Swap(handler)
	return &logger{ctx: ctx, handler: h}
}

func (l *logger) write(level Level, msg string, ctx []interface{}) {
	r := Record{Time: time.Now(), Level: level, Msg: msg}
	if len(l.ctx) > 0 {
		r.Ctx = append(append([]interface{}{}, l.ctx...), ctx...)
	} else {
		r.Ctx = ctx
	}
	if level <= LevelDebug || level >= LevelError {
		// Capture a caller frame for the noisy and the severe ends only;
		// walking the stack on every Info/Warn line would be wasteful.
		r.Call = stack.Caller(2)
	}
	_ = l.handler.Log(r)
}

func (l *logger) Trace(msg string, ctx ...interface{}) { l.write(LevelTrace, msg, ctx) }
func (l *logger) Debug(msg string, ctx ...interface{}) { l.write(LevelDebug, msg, ctx) }
func (l *logger) Info(msg string, ctx ...interface{})  { l.write(LevelInfo, msg, ctx) }
func (l *logger) Warn(msg string, ctx ...interface{})  { l.write(LevelWarn, msg, ctx) }
func (l *logger) Error(msg string, ctx ...interface{}) { l.write(LevelError, msg, ctx) }
func (l *logger) Crit(msg string, ctx ...interface{})  { l.write(LevelCrit, msg, ctx) }

func (l *logger) New(ctx ...interface{}) Logger {
	return &logger{ctx: append(append([]interface{}{}, l.ctx...), ctx...), handler: l.handler}
}

// swapHandler lets the root logger's handler be replaced at runtime (e.g. by
// SetDefault or a test harness) without races.
type swapHandler struct {
	handler atomic.Value
}

func (s *swapHandler) Swap(h Handler) { s.handler.Store(h) }
func (s *swapHandler) Log(r Record) error {
	h, _ := s.handler.Load().(Handler)
	if h == nil {
		return nil
	}
	return h.Log(r)
}

var (
	rootMu sync.Mutex
	root   Logger = New(NewTerminalHandler(os.Stderr, isatty.IsTerminal(os.Stderr.Fd())))
)

// Root returns the default module-wide Logger.
func Root() Logger {
	rootMu.Lock()
	defer rootMu.Unlock()
	return root
}

// SetDefault replaces the default module-wide Logger.
func SetDefault(l Logger) {
	rootMu.Lock()
	defer rootMu.Unlock()
	root = l
}

func Trace(msg string, ctx ...interface{}) { Root().Trace(msg, ctx...) }
func Debug(msg string, ctx ...interface{}) { Root().Debug(msg, ctx...) }
func Info(msg string, ctx ...interface{})  { Root().Info(msg, ctx...) }
func Warn(msg string, ctx ...interface{})  { Root().Warn(msg, ctx...) }
func Error(msg string, ctx ...interface{}) { Root().Error(msg, ctx...) }
func Crit(msg string, ctx ...interface{})  { Root().Crit(msg, ctx...) }

// NewTerminalHandler returns a Handler formatting records for a human
// terminal, colorizing the level field when useColor is true. Callers
// typically pass isatty.IsTerminal(fd) for useColor.
func NewTerminalHandler(wr io.Writer, useColor bool) Handler {
	if useColor {
		if f, ok := wr.(*os.File); ok {
			wr = colorable.NewColorable(f)
		}
	}
	return &terminalHandler{wr: wr, color: useColor}
}

var levelColor = map[Level]int{
	LevelTrace: 90, // bright black
	LevelDebug: 36, // cyan
	LevelInfo:  32, // green
	LevelWarn:  33, // yellow
	LevelError: 31, // red
	LevelCrit:  35, // magenta
}

type terminalHandler struct {
	mu    sync.Mutex
	wr    io.Writer
	color bool
}

func (h *terminalHandler) Log(r Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	level := r.Level.String()
	if h.color {
		level = fmt.Sprintf("\x1b[%dm%s\x1b[0m", levelColor[r.Level], level)
	}
	fmt.Fprintf(h.wr, "%s[%s] %s", level, r.Time.Format("01-02|15:04:05.000"), r.Msg)
	for i := 0; i+1 < len(r.Ctx); i += 2 {
		fmt.Fprintf(h.wr, " %v=%v", r.Ctx[i], r.Ctx[i+1])
	}
	if r.Call.Frame().Line != 0 {
		fmt.Fprintf(h.wr, " caller=%s:%d", r.Call.Frame().File, r.Call.Frame().Line)
	}
	fmt.Fprintln(h.wr)
	return nil
}

// DiscardHandler discards every record; used by components that want quiet
// logging in tests unless explicitly wired to a Logger.
func DiscardHandler() Handler { return discardHandler{} }

type discardHandler struct{}

func (discardHandler) Log(Record) error { return nil }
