package libim

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

// testLogger implements the logger interface using an io.Writer
type testLogger struct {
	mu     *sync.Mutex
	writer io.Writer
	fields map[string]any
}

// newTestLogger creates a new logger that writes to the provided writer
func newTestLogger(writer io.Writer) logger {
	return &testLogger{
		mu:     &sync.Mutex{},
		writer: writer,
		fields: make(map[string]any),
	}
}

func (l *testLogger) WithField(key string, value any) logger {
	next := &testLogger{
		mu:     l.mu,
		writer: l.writer,
		fields: make(map[string]any, len(l.fields)+1),
	}
	for k, v := range l.fields {
		next.fields[k] = v
	}
	next.fields[key] = value
	return next
}

func (l *testLogger) formatFields() string {
	if len(l.fields) == 0 {
		return ""
	}

	keys := make([]string, 0, len(l.fields))
	for k := range l.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(" [")
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s=%v", k, l.fields[k])
	}
	b.WriteString("]")
	return b.String()
}

func (l *testLogger) log(level, msg string) {
	timestamp := time.Now().Format("2006-01-02 15:04:05")
	line := fmt.Sprintf("[%s] %s%s: %s\n", timestamp, level, l.formatFields(), strings.TrimSuffix(msg, "\n"))

	// writers such as bytes.Buffer are shared between goroutines in tests
	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = io.WriteString(l.writer, line)
}

func (l *testLogger) Debug(args ...any)                 { l.log("DEBUG", fmt.Sprint(args...)) }
func (l *testLogger) Debugf(format string, args ...any) { l.log("DEBUG", fmt.Sprintf(format, args...)) }
func (l *testLogger) Debugln(args ...any)               { l.log("DEBUG", fmt.Sprintln(args...)) }
func (l *testLogger) Info(args ...any)                  { l.log("INFO", fmt.Sprint(args...)) }
func (l *testLogger) Infof(format string, args ...any)  { l.log("INFO", fmt.Sprintf(format, args...)) }
func (l *testLogger) Infoln(args ...any)                { l.log("INFO", fmt.Sprintln(args...)) }
func (l *testLogger) Warn(args ...any)                  { l.log("WARN", fmt.Sprint(args...)) }
func (l *testLogger) Warnf(format string, args ...any)  { l.log("WARN", fmt.Sprintf(format, args...)) }
func (l *testLogger) Warnln(args ...any)                { l.log("WARN", fmt.Sprintln(args...)) }
func (l *testLogger) Error(args ...any)                 { l.log("ERROR", fmt.Sprint(args...)) }
func (l *testLogger) Errorf(format string, args ...any) { l.log("ERROR", fmt.Sprintf(format, args...)) }
func (l *testLogger) Errorln(args ...any)               { l.log("ERROR", fmt.Sprintln(args...)) }
