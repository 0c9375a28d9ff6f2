package rlog

import (
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/kataras/pio"
	"github.com/sirupsen/logrus"
)

type levelStyle struct {
	name    string
	colorFn func(string) string
}

var levelStyles = map[Level]levelStyle{
	PanicLevel: {"PANIC", pio.RedBackground},
	FatalLevel: {"FATAL", pio.RedBackground},
	ErrorLevel: {"ERROR", pio.Red},
	WarnLevel:  {"WARN", pio.Purple},
	InfoLevel:  {"INFO", pio.LightGreen},
	DebugLevel: {"DEBUG", pio.Yellow},
	TraceLevel: {"TRACE", pio.Gray},
}

type formatFn func(*logrus.Entry) ([]byte, error)

func (f formatFn) Format(entry *logrus.Entry) ([]byte, error) { return f(entry) }

// formatter renders a single log line the way the teacher's logger.go does:
// colorized level tag, timestamp, caller file:line, and a bracketed
// connection id when present.
func formatter() formatFn {
	return func(entry *logrus.Entry) ([]byte, error) {
		style := levelStyles[Level(entry.Level)]
		base := fmt.Sprintf("[%s] %s", style.colorFn(style.name[:4]), entry.Time.Format("2006-01-02 15:04:05"))

		if entry.HasCaller() {
			_, file := path.Split(entry.Caller.File)
			base += fmt.Sprintf(" [%s:%d]", strings.TrimSuffix(file, ".go"), entry.Caller.Line)
		}

		if target, ok := entry.Data["target"]; ok {
			base += fmt.Sprintf(" [%s]", target)
		}
		if connID, ok := entry.Data["conn"]; ok {
			base += fmt.Sprintf(" [%s]", connID)
		}

		return []byte(fmt.Sprintf("%s %s\n", base, entry.Message)), nil
	}
}

// ringHook feeds every logrus entry into a Ring so control.Plane can serve
// getLogs(since) without scraping stdout.
type ringHook struct {
	ring *Ring
}

func (h *ringHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h *ringHook) Fire(entry *logrus.Entry) error {
	target, _ := entry.Data["target"].(string)
	h.ring.Append(Record{
		Time:    entry.Time,
		Level:   Level(entry.Level),
		Target:  target,
		Message: entry.Message,
	})
	return nil
}

// Logger is a target-scoped structured logger: every component (C1..C7)
// gets one via New(target) so log lines are attributable without a full
// tracing system.
type Logger struct {
	entry *logrus.Entry
}

// base is the single process-wide logrus.Logger instance; Ring is shared
// across every Logger so the control plane sees one unified log stream.
var base = func() *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(formatter())
	l.SetOutput(os.Stdout)
	l.SetReportCaller(true)
	l.SetLevel(logrus.DebugLevel)
	return l
}()

var sharedRing = NewRing(4096)

// AddHook is called once at process start to wire the ring buffer.
func init() {
	base.AddHook(&ringHook{ring: sharedRing})
}

// SharedRing exposes the process-wide ring buffer for control.Plane.
func SharedRing() *Ring { return sharedRing }

func SetLevel(level Level) { base.SetLevel(logrus.Level(level)) }

// New returns a Logger scoped to target (e.g. "tlsterm", "bancho").
func New(target string) *Logger {
	return &Logger{entry: base.WithField("target", target)}
}

// WithConn returns a copy of l scoped additionally to a connection id.
func (l *Logger) WithConn(id ConnID) *Logger {
	return &Logger{entry: l.entry.WithField("conn", id.String())}
}

func (l *Logger) Debug(args ...any)                 { l.entry.Debug(args...) }
func (l *Logger) Info(args ...any)                  { l.entry.Info(args...) }
func (l *Logger) Warn(args ...any)                  { l.entry.Warn(args...) }
func (l *Logger) Error(args ...any)                 { l.entry.Error(args...) }
func (l *Logger) Fatal(args ...any)                 { l.entry.Fatal(args...) }
func (l *Logger) Debugf(format string, args ...any) { l.entry.Debugf(format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.entry.Infof(format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.entry.Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.entry.Errorf(format, args...) }
func (l *Logger) Fatalf(format string, args ...any) { l.entry.Fatalf(format, args...) }
