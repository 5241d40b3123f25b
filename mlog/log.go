// Package mlog provides logging with log levels and fields, wrapping
// log/slog.
//
// Each log level has a function to log with and without error. Variable data
// should be in attributes, log strings themselves should be constant, for
// easier log processing.
//
// Print* is for lines that should always be printed, regardless of
// configured log levels. Fatal* stops the program.
package mlog

import (
	"context"
	"log/slog"
	"os"
)

// Levels for use beyond the standard slog levels.
var (
	LevelPrint = slog.LevelInfo + 4
	LevelFatal = slog.LevelInfo + 8
)

// Log wraps an slog.Logger, adding convenience functions for logging with an
// error and for logging that exits.
type Log struct {
	*slog.Logger
}

type key string

// CidKey can be used with context.WithValue to store a "cid" in a context, for logging.
var CidKey key = "cid"

// New returns a Log that adds attribute "pkg" to each logged line. If elog is
// nil, slog.Default() is used.
func New(pkg string, elog *slog.Logger) Log {
	if elog == nil {
		elog = slog.Default()
	}
	return Log{elog.With(slog.String("pkg", pkg))}
}

// WithContext adds the cid from ctx, if present, as attribute to logging.
func (l Log) WithContext(ctx context.Context) Log {
	v := ctx.Value(CidKey)
	if v == nil {
		return l
	}
	cid, ok := v.(int64)
	if !ok {
		return l
	}
	return l.WithCid(cid)
}

// WithCid adds attribute "cid" to logging.
func (l Log) WithCid(cid int64) Log {
	return Log{l.Logger.With(slog.Int64("cid", cid))}
}

// With adds attributes to each logged line.
func (l Log) With(attrs ...slog.Attr) Log {
	return Log{slog.New(l.Logger.Handler().WithAttrs(attrs))}
}

func (l Log) logx(level slog.Level, msg string, err error, attrs ...slog.Attr) {
	if err != nil {
		attrs = append([]slog.Attr{slog.Any("err", err)}, attrs...)
	}
	l.Logger.LogAttrs(context.Background(), level, msg, attrs...)
}

func (l Log) Debug(msg string, attrs ...slog.Attr) {
	l.logx(slog.LevelDebug, msg, nil, attrs...)
}

func (l Log) Debugx(msg string, err error, attrs ...slog.Attr) {
	l.logx(slog.LevelDebug, msg, err, attrs...)
}

func (l Log) Info(msg string, attrs ...slog.Attr) {
	l.logx(slog.LevelInfo, msg, nil, attrs...)
}

func (l Log) Infox(msg string, err error, attrs ...slog.Attr) {
	l.logx(slog.LevelInfo, msg, err, attrs...)
}

func (l Log) Warn(msg string, attrs ...slog.Attr) {
	l.logx(slog.LevelWarn, msg, nil, attrs...)
}

func (l Log) Warnx(msg string, err error, attrs ...slog.Attr) {
	l.logx(slog.LevelWarn, msg, err, attrs...)
}

func (l Log) Error(msg string, attrs ...slog.Attr) {
	l.logx(slog.LevelError, msg, nil, attrs...)
}

func (l Log) Errorx(msg string, err error, attrs ...slog.Attr) {
	l.logx(slog.LevelError, msg, err, attrs...)
}

func (l Log) Print(msg string, attrs ...slog.Attr) {
	l.logx(LevelPrint, msg, nil, attrs...)
}

func (l Log) Printx(msg string, err error, attrs ...slog.Attr) {
	l.logx(LevelPrint, msg, err, attrs...)
}

func (l Log) Fatal(msg string, attrs ...slog.Attr) {
	l.logx(LevelFatal, msg, nil, attrs...)
	os.Exit(1)
}

func (l Log) Fatalx(msg string, err error, attrs ...slog.Attr) {
	l.logx(LevelFatal, msg, err, attrs...)
	os.Exit(1)
}
