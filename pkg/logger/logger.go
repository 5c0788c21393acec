package logger

import (
	"log"
	"strings"
	"sync"

	"github.com/fatih/color"
)

// Level represents the severity level of a log message.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	NoticeLevel
	ErrorLevel
)

// ParseLevel converts a level name into a Level. Unknown names map to InfoLevel.
func ParseLevel(s string) (Level, bool) {
	switch strings.ToLower(s) {
	case "debug":
		return DebugLevel, true
	case "info":
		return InfoLevel, true
	case "notice":
		return NoticeLevel, true
	case "error":
		return ErrorLevel, true
	}
	return InfoLevel, false
}

type Network int

const (
	None Network = iota
	Mainnet
	Testnet
	Devnet
	Xahau
)

var networkNameMap = map[string]Network{
	"mainnet": Mainnet,
	"testnet": Testnet,
	"devnet":  Devnet,
	"xahau":   Xahau,
}

var networkPrefixes = map[Network]string{
	None:    "",
	Mainnet: "[MAIN]  ",
	Testnet: "[TEST]  ",
	Devnet:  "[DEV]   ",
	Xahau:   "[XAHAU] ",
}

var colors = map[Network]color.Attribute{
	None:    color.FgWhite,
	Mainnet: color.FgHiGreen,
	Testnet: color.FgYellow,
	Devnet:  color.FgMagenta,
	Xahau:   color.FgHiBlue,
}

// Logger is a simple interface for logging messages.
type Logger interface {
	// Info logs an informational message.
	Info(format string, args ...interface{})
	InfoWithNetwork(network string, format string, args ...interface{})

	// Error logs an error message.
	Error(format string, args ...interface{})
	ErrorWithNetwork(network string, format string, args ...interface{})

	// Debug logs a debug message.
	Debug(format string, args ...interface{})
	DebugWithNetwork(network string, format string, args ...interface{})

	// Notice logs a notice message.
	Notice(format string, args ...interface{})
	NoticeWithNetwork(network string, format string, args ...interface{})
}

// EmptyLogger is a simple implementation of the Logger interface that does nothing.
type EmptyLogger struct{}

var _ Logger = (*EmptyLogger)(nil)

func (l *EmptyLogger) Info(_ string, _ ...interface{})                        {}
func (l *EmptyLogger) InfoWithNetwork(_ string, _ string, _ ...interface{})   {}
func (l *EmptyLogger) Error(_ string, _ ...interface{})                       {}
func (l *EmptyLogger) ErrorWithNetwork(_ string, _ string, _ ...interface{})  {}
func (l *EmptyLogger) Debug(_ string, _ ...interface{})                       {}
func (l *EmptyLogger) DebugWithNetwork(_ string, _ string, _ ...interface{})  {}
func (l *EmptyLogger) Notice(_ string, _ ...interface{})                      {}
func (l *EmptyLogger) NoticeWithNetwork(_ string, _ string, _ ...interface{}) {}

// StdLogger is a standard implementation of the Logger interface that logs messages to the console.
type StdLogger struct {
	enableColoring bool
	level          Level
	mu             sync.Mutex
}

var _ Logger = (*StdLogger)(nil)

func NewStdLogger(enableColoring bool, level Level) *StdLogger {
	return &StdLogger{
		enableColoring: enableColoring,
		level:          level,
	}
}

// formatMessage formats the log message with the appropriate log level, network prefix, and coloring if enabled.
func (l *StdLogger) formatMessage(level Level, network Network, format string) string {
	networkPrefix := networkPrefixes[network]
	if l.enableColoring {
		networkPrefix = color.New(colors[network]).Sprint(networkPrefix)
	}

	return levelPrefix(level) + networkPrefix + format
}

func levelPrefix(level Level) string {
	switch level {
	case DebugLevel:
		return "[DEBUG]  "
	case InfoLevel:
		return "[INFO]   "
	case NoticeLevel:
		return "[NOTICE] "
	case ErrorLevel:
		return "[ERROR]  "
	}
	return ""
}

func (l *StdLogger) logf(level Level, network string, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.level > level {
		return
	}
	log.Printf(l.formatMessage(level, networkNameMap[strings.ToLower(network)], format), args...)
}

func (l *StdLogger) Info(format string, args ...interface{}) {
	l.logf(InfoLevel, "", format, args...)
}

func (l *StdLogger) InfoWithNetwork(network string, format string, args ...interface{}) {
	l.logf(InfoLevel, network, format, args...)
}

func (l *StdLogger) Error(format string, args ...interface{}) {
	l.logf(ErrorLevel, "", format, args...)
}

func (l *StdLogger) ErrorWithNetwork(network string, format string, args ...interface{}) {
	l.logf(ErrorLevel, network, format, args...)
}

func (l *StdLogger) Debug(format string, args ...interface{}) {
	l.logf(DebugLevel, "", format, args...)
}

func (l *StdLogger) DebugWithNetwork(network string, format string, args ...interface{}) {
	l.logf(DebugLevel, network, format, args...)
}

func (l *StdLogger) Notice(format string, args ...interface{}) {
	l.logf(NoticeLevel, "", format, args...)
}

func (l *StdLogger) NoticeWithNetwork(network string, format string, args ...interface{}) {
	l.logf(NoticeLevel, network, format, args...)
}
