// Package obslog is the runtime's logging seam: a thin, explicitly
// constructed wrapper around logiface/stumpy, threaded into every
// component that needs to report failures a human operator cares about
// (process teardown, dropped sends, remote connection failures,
// congestion-worker retries). Unlike the event-loop logger this pattern
// is descended from, there is no package-level global: a runtime hosting
// many environments needs one sink per environment, not one sink total.
package obslog

import (
	"io"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Logger wraps a logiface.Logger[*stumpy.Event], narrowing the fluent
// builder API down to the handful of call sites the runtime actually
// uses so callers never need to import logiface or stumpy directly.
type Logger struct {
	l *logiface.Logger[*stumpy.Event]
}

// Option configures a Logger at construction time.
type Option func(*config)

type config struct {
	writer   io.Writer
	level    logiface.Level
	levelSet bool
}

// WithWriter directs log output at w instead of os.Stderr.
func WithWriter(w io.Writer) Option {
	return func(c *config) { c.writer = w }
}

// WithLevel sets the minimum enabled level. The default is
// logiface.LevelInformational.
func WithLevel(level logiface.Level) Option {
	return func(c *config) {
		c.level = level
		c.levelSet = true
	}
}

// Disabled is a Logger that discards everything, for components
// constructed without an explicit logging destination (e.g. tests).
var Disabled = New(WithLevel(logiface.LevelDisabled))

// New builds a Logger. It is always constructed explicitly and passed in
// by the caller (distributed.Options.Logger, cmd/lunaticd's
// WithLogger) rather than reached for as a global.
func New(options ...Option) *Logger {
	var c config
	for _, o := range options {
		o(&c)
	}
	if !c.levelSet {
		c.level = logiface.LevelInformational
	}

	stumpyOpts := []stumpy.Option{stumpy.WithTimeField("ts")}
	if c.writer != nil {
		stumpyOpts = append(stumpyOpts, stumpy.WithWriter(c.writer))
	}

	return &Logger{l: stumpy.L.New(
		stumpy.L.WithStumpy(stumpyOpts...),
		stumpy.L.WithLevel(c.level),
	)}
}

// ProcessTeardown logs that a process driver loop exited (spec §4.3).
func (lg *Logger) ProcessTeardown(pid uint64, reason string, err error) {
	if lg == nil || lg.l == nil {
		return
	}
	b := lg.l.Info().Uint64("pid", pid).Str("reason", reason)
	if err != nil {
		b = b.Err(err)
	}
	b.Log("process teardown")
}

// DroppedSend logs that a send was silently discarded because its target
// no longer existed (spec §4.3 "at-most-once, best-effort delivery").
func (lg *Logger) DroppedSend(fromPID, toPID uint64) {
	if lg == nil || lg.l == nil {
		return
	}
	lg.l.Notice().Uint64("from", fromPID).Uint64("to", toPID).Log("dropped send: target does not exist")
}

// RemoteDialFailure logs a failed attempt to establish or use a node's
// outbound transport (spec §4.6 per-node worker).
func (lg *Logger) RemoteDialFailure(nodeID uint64, err error) {
	if lg == nil || lg.l == nil {
		return
	}
	lg.l.Err().Uint64("node_id", nodeID).Err(err).Log("remote dial failure")
}

// RemoteSpawnFailure logs a failed remote spawn request (spec §4.6).
func (lg *Logger) RemoteSpawnFailure(nodeID uint64, err error) {
	if lg == nil || lg.l == nil {
		return
	}
	lg.l.Err().Uint64("node_id", nodeID).Err(err).Log("remote spawn failed")
}

// CongestionRetry logs that a node's outbound worker is backing off under
// congestion control (spec §4.6).
func (lg *Logger) CongestionRetry(nodeID uint64, attempt int, wait string) {
	if lg == nil || lg.l == nil {
		return
	}
	lg.l.Warning().Uint64("node_id", nodeID).Int("attempt", attempt).Str("wait", wait).Log("congestion backoff")
}

// LookupThrottled logs that a control-client lookup was rate-limited by
// source address (spec §4.7).
func (lg *Logger) LookupThrottled(sourceIP string) {
	if lg == nil || lg.l == nil {
		return
	}
	lg.l.Notice().Str("source_ip", sourceIP).Log("control lookup throttled")
}

// ResponseTimeout logs a correlation-table entry that aged out unset
// (spec §4.6 scavenge, generalized from "GC'd or settled" to "older than
// the sweep window and unset").
func (lg *Logger) ResponseTimeout(messageID uint64) {
	if lg == nil || lg.l == nil {
		return
	}
	lg.l.Warning().Uint64("message_id", messageID).Log("in-flight response timed out")
}
