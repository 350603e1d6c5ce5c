// Package log is a small env-gated debug logger for the connection
// core. It never blocks the caller: once the internal queue is
// saturated, messages are dropped rather than stalling a think tick.
package log

import (
	"fmt"
	"os"
	"sync"
	"time"
)

const queueSize = 2048

type logger struct {
	once sync.Once
	ch   chan string
}

var (
	global  logger
	rlMu    sync.Mutex
	rlLast  = make(map[string]time.Time)
	rlSweep = time.Now()
)

func enabled() bool {
	return os.Getenv("SDCONN_DEBUG") == "1"
}

func (l *logger) start() {
	l.once.Do(func() {
		l.ch = make(chan string, queueSize)
		go func() {
			for msg := range l.ch {
				_, _ = os.Stderr.WriteString(msg)
			}
		}()
	})
}

// Logf always writes, regardless of the debug toggle.
func Logf(format string, args ...any) {
	msg := fmt.Sprintf(format+"\n", args...)
	global.start()
	select {
	case global.ch <- msg:
	default:
		// Drop when saturated; think ticks must never block on logging.
	}
}

// Debugf writes only when SDCONN_DEBUG=1.
func Debugf(format string, args ...any) {
	if !enabled() {
		return
	}
	Logf(format, args...)
}

// RateLimitedf writes at most once per interval per key, regardless of
// the debug toggle. Used for attacker-triggerable events (bad AEAD
// tags, accepted expired certs) so a flood of garbage can't amplify
// into a logging flood.
func RateLimitedf(key string, interval time.Duration, format string, args ...any) {
	if key == "" {
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
	if now.Sub(rlSweep) > 4*interval {
		for k, ts := range rlLast {
			if now.Sub(ts) > 8*interval {
				delete(rlLast, k)
			}
		}
		rlSweep = now
	}
	rlMu.Unlock()
	Logf(format, args...)
}
