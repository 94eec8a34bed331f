/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package logx provides the structured, key-value logging surface used
// throughout siemcore. It keeps the call shape of the gravwell ingest
// logger (log.KV / log.KVErr / leveled methods) while delegating the
// actual write path to zap, so call sites read the same way whether the
// underlying sink is a zap core or (in tests) an observed core.
package logx

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// KV is a single structured field. Constructing it is cheap; the
// conversion to a zap.Field happens only at the log call site.
type KV struct {
	key string
	val interface{}
}

func (kv KV) field() zap.Field {
	return zap.Any(kv.key, kv.val)
}

// KVs builds a KV pair. Mirrors log.KV(key, val) from the teacher's
// ingest/log package.
func KVs(key string, val interface{}) KV {
	return KV{key: key, val: val}
}

// KVErr attaches an error under the conventional "error" key, mirroring
// log.KVErr(err).
func KVErr(err error) KV {
	return KV{key: "error", val: errString(err)}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Logger wraps a zap.SugaredLogger-free *zap.Logger behind the KV call
// shape. It is safe for concurrent use, matching the teacher's Logger.
type Logger struct {
	z       *zap.Logger
	appname string
	exit    func(code int)
}

// New builds a production-shaped JSON logger named appname, writing to
// os.Stderr at INFO level, exactly as the teacher's log.New(os.Stderr)
// default.
func New(appname string) *Logger {
	enc := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	core := zapcore.NewCore(enc, zapcore.AddSync(os.Stderr), zapcore.InfoLevel)
	return &Logger{
		z:       zap.New(core).Named(appname),
		appname: appname,
		exit:    os.Exit,
	}
}

// NewWithCore lets callers (tests) supply their own zapcore.Core, e.g.
// an observer core, instead of writing to stderr.
func NewWithCore(appname string, core zapcore.Core) *Logger {
	return &Logger{z: zap.New(core).Named(appname), appname: appname, exit: func(int) {}}
}

func (l *Logger) fields(kvs []KV) []zap.Field {
	fs := make([]zap.Field, 0, len(kvs))
	for _, kv := range kvs {
		fs = append(fs, kv.field())
	}
	return fs
}

func (l *Logger) Debug(msg string, kvs ...KV) { l.z.Debug(msg, l.fields(kvs)...) }
func (l *Logger) Info(msg string, kvs ...KV)  { l.z.Info(msg, l.fields(kvs)...) }
func (l *Logger) Warn(msg string, kvs ...KV)  { l.z.Warn(msg, l.fields(kvs)...) }
func (l *Logger) Error(msg string, kvs ...KV) { l.z.Error(msg, l.fields(kvs)...) }

// Fatal logs at error level and then invokes the configured exit hook.
// Library code never calls this directly across package boundaries;
// only cmd/siemcore's top-level wiring does, matching the teacher's
// convention of reserving lg.Fatal for main().
func (l *Logger) Fatal(msg string, kvs ...KV) {
	l.z.Error(msg, l.fields(kvs)...)
	l.exit(1)
}

func (l *Logger) Sync() error { return l.z.Sync() }

// With returns a child logger with the given fields attached to every
// subsequent call, mirroring zap.Logger.With.
func (l *Logger) With(kvs ...KV) *Logger {
	return &Logger{z: l.z.With(l.fields(kvs)...), appname: l.appname, exit: l.exit}
}
