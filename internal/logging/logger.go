package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

const timestampFormat = "2006-01-02 15:04:05.000"

type Logger struct {
	// The level at which this logger logs, if pinned by a LOGLEVEL tag
	// directive or WithDefaultLevel. Otherwise the process-wide default level
	// applies, so that SetDefaultLevel reaches loggers derived during init.
	level  Level
	pinned bool

	// Tag used to filter and classify log messages.
	Tag string

	out io.Writer

	// Mutex to prevent messages from different goroutines from interleaving.
	// Shared by all derived loggers.
	mu *sync.Mutex
}

// Process-wide default level, stored as int32 for atomic access.
var currentDefault = int32(defaultLevel)

// Write to stderr by default.
var DefaultLogger = &Logger{Tag: "", out: os.Stderr, mu: new(sync.Mutex)}

// SetDefaultLevel changes the level of every logger that has not been pinned
// to a specific level.
func SetDefaultLevel(level Level) {
	atomic.StoreInt32(&currentDefault, int32(level))
}

// Level returns the effective level of this logger.
func (log *Logger) Level() Level {
	if log.pinned {
		return log.level
	}
	return Level(atomic.LoadInt32(&currentDefault))
}

// Enabled reports whether a message at the given level would be written.
func (log *Logger) Enabled(level Level) bool {
	return level <= log.Level()
}

// Override the destination for this logger.
func (log *Logger) SetDestination(out io.Writer) {
	log.out = out
}

// Derive a new logger with the given tag. Look up the level based on the tag.
func (log *Logger) WithTag(tag string) *Logger {
	l := &Logger{Tag: tag, out: log.out, mu: log.mu}
	if level, ok := lookupTagLevel(tag); ok {
		l.level, l.pinned = level, true
	} else if log.pinned {
		l.level, l.pinned = log.level, true
	}
	return l
}

// Derive a new logger pinned to the given level. A LOGLEVEL directive for the
// logger's tag still takes precedence.
func (log *Logger) WithDefaultLevel(level Level) *Logger {
	if tagged, ok := lookupTagLevel(log.Tag); ok {
		level = tagged
	}
	return &Logger{level: level, pinned: true, Tag: log.Tag, out: log.out, mu: log.mu}
}

// Wrapper for []byte that implements io.Writer. Simpler and cheaper than
// bytes.Buffer.
type buffer []byte

func (b *buffer) Write(p []byte) (int, error) {
	*b = append(*b, p...)
	return len(p), nil
}

func (b *buffer) writeString(s string) {
	*b = append(*b, s...)
}

func (b *buffer) writeByte(c byte) {
	*b = append(*b, c)
}

// A global buffer pool, shared across all loggers. Initial capacity is 256 to
// accommodate *most* log lines.
var bufPool = sync.Pool{
	New: func() interface{} {
		return make(buffer, 0, 256)
	},
}

// Log a message at the given level. Include the file and line number from
// 'calldepth' steps up the call stack.
func (log *Logger) Log(level Level, calldepth int, format string, a ...interface{}) {
	if !log.Enabled(level) {
		// Message is too verbose for this logger.
		return
	}

	// Grab an empty buffer from the pool.
	buf := bufPool.Get().(buffer)[:0]
	// When we're done, reset the buffer and return it to the pool.
	defer func() { bufPool.Put(buf[:0]) }()

	// Write the current timestamp.
	buf.writeString(timestampColor.Sprint(time.Now().Format(timestampFormat)))

	// Get the caller of Error()/Warn()/Info()/etc.
	_, file, line, ok := runtime.Caller(calldepth + 1)
	if !ok {
		file = "?"
	}

	// Write level, tag, file and line number.
	buf.writeString(level.color().Sprintf(" %c/%s[%s:%d] ", level.letter(), log.Tag, filepath.Base(file), line))

	// Write formatted log message.
	fmt.Fprintf(&buf, format, a...)

	// Append newline if necessary.
	if n := len(buf); n == 0 || buf[n-1] != '\n' {
		buf.writeByte('\n')
	}

	// Lock before writing to avoid interleaving of log messages.
	log.mu.Lock()
	_, err := log.out.Write(buf)
	log.mu.Unlock()
	if err != nil {
		panic(fmt.Sprintf("Failed to log to %v: %v", log.out, err))
	}
}

func (log *Logger) Error(format string, a ...interface{}) {
	log.Log(Error, 1, format, a...)
}

func (log *Logger) Warn(format string, a ...interface{}) {
	log.Log(Warn, 1, format, a...)
}

func (log *Logger) Info(format string, a ...interface{}) {
	log.Log(Info, 1, format, a...)
}

func (log *Logger) Debug(format string, a ...interface{}) {
	log.Log(Debug, 1, format, a...)
}

func (log *Logger) Trace(n int, format string, a ...interface{}) {
	log.Log(Level(n), 1, format, a...)
}
