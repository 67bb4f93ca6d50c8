package log

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-colorable"
	"github.com/mwantia/unionfs/vfserrors"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel is the severity threshold a Logger filters on.
type LogLevel int

const (
	Debug LogLevel = iota
	Info
	Warn
	Error
	Fatal
)

func (l LogLevel) String() string {
	switch l {
	case Debug:
		return "DEBUG"
	case Info:
		return "INFO"
	case Warn:
		return "WARN"
	case Error:
		return "ERROR"
	case Fatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// Parse maps a config/flag string onto a LogLevel. Unrecognized input is
// an operator error in the mount manifest or -log-level flag, not a
// recoverable runtime condition, so it panics rather than silently
// defaulting — the same posture config.Options.Validate takes toward a
// malformed mount definition.
func Parse(level string) LogLevel {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return Debug
	case "INFO":
		return Info
	case "WARN":
		return Warn
	case "ERROR":
		return Error
	case "FATAL":
		return Fatal
	default:
		panic("log: invalid level " + level)
	}
}

type Logger struct {
	writer io.Writer

	Name  string
	Level LogLevel

	TimeFormat string
	File       string
	NoColor    bool
	JSON       bool
	NoTerminal bool
	Rotation   *LoggerRotation
}

type LoggerRotation struct {
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool
}

type logEntry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Service   string `json:"service,omitempty"`
	// Kind carries the vfserrors.Kind of the failure this entry reports,
	// when VFSError was used to log it — lets operators filter the audit
	// trail by failure category (NotExists vs. PluginError vs. ...)
	// without parsing the message body.
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
}

func NewLogger(name string, level LogLevel, file string, noTerminal bool) *Logger {
	l := &Logger{
		Name:       name,
		Level:      level,
		File:       file,
		NoTerminal: noTerminal,

		TimeFormat: "2006-01-02 15:04:05",
		Rotation: &LoggerRotation{
			MaxSize:    128,
			MaxBackups: 5,
			MaxAge:     16,
			Compress:   false,
		},
	}

	l.setupWriter()

	return l
}

func (l *Logger) setupWriter() {
	var writers []io.Writer

	if !l.NoTerminal {
		if !l.NoColor && isTerminal() {
			writers = append(writers, colorable.NewColorableStdout())
		} else {
			writers = append(writers, os.Stdout)
		}
	}

	if l.File != "" {
		fileWriter := &lumberjack.Logger{
			Filename:   l.File,
			MaxSize:    l.Rotation.MaxSize,
			MaxBackups: l.Rotation.MaxBackups,
			MaxAge:     l.Rotation.MaxAge,
			Compress:   l.Rotation.Compress,
		}
		writers = append(writers, fileWriter)
	}

	if len(writers) == 0 {
		writers = append(writers, os.Stdout)
	}

	l.writer = io.MultiWriter(writers...)
}

// log renders one line at level, tagging it with kind when the caller
// has one (see VFSError); kind is empty for the plain Debug/Info/Warn/
// Error/Fatal calls.
func (l *Logger) log(level LogLevel, kind, msg string, args ...any) {
	if level < l.Level {
		return
	}

	timestamp := time.Now().Format(l.TimeFormat)
	formattedMsg := fmt.Sprintf(msg, args...)

	if l.JSON {
		entry := logEntry{
			Timestamp: timestamp,
			Level:     level.String(),
			Kind:      kind,
			Message:   formattedMsg,
		}
		if l.Name != "" {
			entry.Service = l.Name
		}

		jsonBytes, _ := json.Marshal(entry)
		fmt.Fprintf(l.writer, "%s\n", jsonBytes)
	} else {
		prefix := fmt.Sprintf("[%s] %-5s", timestamp, level)
		if l.Name != "" {
			prefix = fmt.Sprintf("%s [%s]", prefix, l.Name)
		}
		if kind != "" {
			prefix = fmt.Sprintf("%s (%s)", prefix, kind)
		}

		if !l.NoTerminal && !l.NoColor && isTerminal() {
			fmt.Fprintf(l.writer, "%s %s\n", levelColor(level).Sprint(prefix), formattedMsg)
		} else {
			fmt.Fprintf(l.writer, "%s %s\n", prefix, formattedMsg)
		}
	}

	if level == Fatal {
		os.Exit(1)
	}
}

func (l *Logger) Debug(msg string, args ...any) {
	l.log(Debug, "", msg, args...)
}

func (l *Logger) Info(msg string, args ...any) {
	l.log(Info, "", msg, args...)
}

func (l *Logger) Warn(msg string, args ...any) {
	l.log(Warn, "", msg, args...)
}

func (l *Logger) Error(msg string, args ...any) {
	l.log(Error, "", msg, args...)
}

func (l *Logger) Fatal(msg string, args ...any) {
	l.log(Fatal, "", msg, args...)
}

// VFSError logs err at level with its vfserrors.Kind surfaced as a
// dedicated field: the mount/registry/metadata layers all report
// failures as *vfserrors.Error, and grepping "(PluginError)" or
// "(MetadataCorrupt)" out of an operational log is more useful than
// parsing the %v-formatted message for it.
func (l *Logger) VFSError(level LogLevel, msg string, err error) {
	kind := "Unknown"
	var verr *vfserrors.Error
	if errors.As(err, &verr) {
		kind = verr.Kind.String()
	}
	l.log(level, kind, "%s: %v", msg, err)
}

func (l *Logger) Named(name string) *Logger {
	return &Logger{
		writer: l.writer, // Share the same writer

		Name:  fmt.Sprintf("%s/%s", l.Name, name),
		Level: l.Level,

		TimeFormat: l.TimeFormat,
		File:       l.File,
		NoColor:    l.NoColor,
		NoTerminal: l.NoTerminal,
		JSON:       l.JSON,
		Rotation:   l.Rotation,
	}
}
