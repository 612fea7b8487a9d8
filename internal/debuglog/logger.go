package debuglog

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/writer"
)

var (
	global  = newLogger(os.Stdout, os.Stderr)
	rlMu    sync.Mutex
	rlLast  = make(map[string]time.Time)
	rlSweep = time.Now()
)

func newLogger(stdout, stderr io.Writer) *log.Logger {
	l := log.New()
	l.SetOutput(io.Discard)
	l.AddHook(&writer.Hook{
		Writer: stderr,
		LogLevels: []log.Level{
			log.PanicLevel,
			log.FatalLevel,
			log.ErrorLevel,
			log.WarnLevel,
		},
	})
	l.AddHook(&writer.Hook{
		Writer: stdout,
		LogLevels: []log.Level{
			log.InfoLevel,
			log.DebugLevel,
			log.TraceLevel,
		},
	})
	l.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	l.SetLevel(log.InfoLevel)
	if os.Getenv("SUPERNODE_DEBUG") == "1" {
		l.SetLevel(log.DebugLevel)
	}
	return l
}

// Init sets the level ("debug", "info", "warn", ...) and, when logFile is
// non-empty, mirrors every entry to that file.
func Init(level, logFile string) error {
	if os.Getenv("SUPERNODE_DEBUG") == "1" {
		level = "debug"
	}
	if level != "" {
		lvl, err := log.ParseLevel(strings.TrimSpace(level))
		if err != nil {
			return err
		}
		global.SetLevel(lvl)
	}
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return err
		}
		global.SetOutput(f)
	}
	return nil
}

// SetOutput routes every level to w. Used by tests.
func SetOutput(w io.Writer) {
	l := log.New()
	l.SetOutput(w)
	l.SetFormatter(global.Formatter)
	l.SetLevel(global.GetLevel())
	global = l
}

func Logger() *log.Logger {
	return global
}

func enabled() bool {
	return global.IsLevelEnabled(log.DebugLevel)
}

func Logf(format string, args ...any) {
	global.Infof(format, args...)
}

func Warnf(format string, args ...any) {
	global.Warnf(format, args...)
}

func Debugf(format string, args ...any) {
	if !enabled() {
		return
	}
	global.Debugf(format, args...)
}

func RateLimitedf(key string, interval time.Duration, format string, args ...any) {
	if !enabled() || key == "" {
		return
	}
	now := time.Now()
	rlMu.Lock()
	last := rlLast[key]
	if now.Sub(last) < interval {
		rlMu.Unlock()
		return
	}
	rlLast[key] = now
	if now.Sub(rlSweep) > 2*interval {
		for k, ts := range rlLast {
			if now.Sub(ts) > 4*interval {
				delete(rlLast, k)
			}
		}
		rlSweep = now
	}
	rlMu.Unlock()
	global.Debugf(format, args...)
}
