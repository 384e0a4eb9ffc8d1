// Package log provides the structured logger used throughout this module, a logiface.Logger backed by
// github.com/sirupsen/logrus.
package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/joeycumines/logiface"
	"github.com/sirupsen/logrus"
)

const (
	FormatText = `text`
	FormatJSON = `json`
)

type (
	// Config models the options for New, see also the config package.
	Config struct {
		// Output defaults to os.Stderr.
		Output io.Writer
		// Level is parsed by ParseLevel, and defaults to info.
		Level string
		// Format is FormatText (the default) or FormatJSON.
		Format string
	}

	// Event implements logiface.Event, accumulating the fields of a single logrus entry.
	Event struct {
		//lint:ignore U1000 embedded for it's methods
		unimplementedEvent
		level   logiface.Level
		message string
		fields  logrus.Fields
	}

	// Writer is the logiface event factory, writer, and releaser, for a logrus logger.
	Writer struct {
		Logrus *logrus.Logger
	}

	//lint:ignore U1000 used to embed without exporting
	unimplementedEvent = logiface.UnimplementedEvent
)

var (
	_ logiface.Event                 = (*Event)(nil)
	_ logiface.EventFactory[*Event]  = (*Writer)(nil)
	_ logiface.Writer[*Event]        = (*Writer)(nil)
	_ logiface.EventReleaser[*Event] = (*Writer)(nil)

	events sync.Pool

	// logrusLevels has no entry for disabled or custom levels
	logrusLevels = map[logiface.Level]logrus.Level{
		logiface.LevelTrace:         logrus.TraceLevel,
		logiface.LevelDebug:         logrus.DebugLevel,
		logiface.LevelInformational: logrus.InfoLevel,
		logiface.LevelNotice:        logrus.WarnLevel,
		logiface.LevelWarning:       logrus.WarnLevel,
		logiface.LevelError:         logrus.ErrorLevel,
		logiface.LevelCritical:      logrus.ErrorLevel,
		logiface.LevelAlert:         logrus.FatalLevel,
		logiface.LevelEmergency:     logrus.PanicLevel,
	}

	levelNames = map[string]logiface.Level{
		`trace`:    logiface.LevelTrace,
		`debug`:    logiface.LevelDebug,
		``:         logiface.LevelInformational,
		`info`:     logiface.LevelInformational,
		`notice`:   logiface.LevelNotice,
		`warn`:     logiface.LevelWarning,
		`warning`:  logiface.LevelWarning,
		`err`:      logiface.LevelError,
		`error`:    logiface.LevelError,
		`off`:      logiface.LevelDisabled,
		`none`:     logiface.LevelDisabled,
		`disabled`: logiface.LevelDisabled,
	}

	formatters = map[string]func() logrus.Formatter{
		``:         func() logrus.Formatter { return &logrus.TextFormatter{FullTimestamp: true} },
		FormatText: func() logrus.Formatter { return &logrus.TextFormatter{FullTimestamp: true} },
		FormatJSON: func() logrus.Formatter { return &logrus.JSONFormatter{} },
	}
)

// New builds a logger per cfg. The level is applied to both logiface and logrus.
func New(cfg Config) (*logiface.Logger[logiface.Event], error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	formatter, ok := formatters[strings.ToLower(cfg.Format)]
	if !ok {
		return nil, fmt.Errorf(`invalid log format: %q`, cfg.Format)
	}

	l := logrus.New()
	l.Formatter = formatter()
	if cfg.Output != nil {
		l.Out = cfg.Output
	} else {
		l.Out = os.Stderr
	}
	if v, ok := logrusLevels[level]; ok {
		l.Level = v
	} else {
		l.Level = logrus.PanicLevel
	}

	return logiface.New[*Event](
		WithLogrus(l),
		logiface.WithLevel[*Event](level),
	).Logger(), nil
}

// WithLogrus configures a logiface logger to write to a logrus logger. It panics if logger is nil.
func WithLogrus(logger *logrus.Logger) logiface.Option[*Event] {
	if logger == nil {
		panic(`nil logger`)
	}
	w := &Writer{Logrus: logger}
	return logiface.WithOptions(
		logiface.WithWriter[*Event](w),
		logiface.WithEventFactory[*Event](w),
		logiface.WithEventReleaser[*Event](w),
	)
}

// ParseLevel maps a level name (e.g. "info", "warn", "off") to a logiface.Level. The empty string is info.
func ParseLevel(s string) (logiface.Level, error) {
	if level, ok := levelNames[strings.ToLower(strings.TrimSpace(s))]; ok {
		return level, nil
	}
	return logiface.LevelDisabled, fmt.Errorf(`invalid log level: %q`, s)
}

func (x *Event) Level() logiface.Level {
	if x == nil {
		return logiface.LevelDisabled
	}
	return x.level
}

func (x *Event) AddField(key string, val any) { x.fields[key] = val }

func (x *Event) AddMessage(msg string) bool {
	x.message = msg
	return true
}

func (x *Event) AddError(err error) bool {
	x.fields[logrus.ErrorKey] = err
	return true
}

func (x *Writer) NewEvent(level logiface.Level) *Event {
	if event, _ := events.Get().(*Event); event != nil {
		event.level = level
		return event
	}
	return &Event{level: level, fields: make(logrus.Fields, 8)}
}

func (x *Writer) ReleaseEvent(event *Event) {
	clear(event.fields)
	event.message = ``
	events.Put(event)
}

func (x *Writer) Write(event *Event) error {
	level, ok := logrusLevels[event.Level()]
	if !ok || !x.Logrus.IsLevelEnabled(level) {
		return logiface.ErrDisabled
	}
	// WithFields copies, and formats error values
	x.Logrus.WithFields(event.fields).Log(level, event.message)
	return nil
}
