package router

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	logx "dispatchbot/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

// Chain wraps h so that m[0] runs first.
func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

// slowCommand is where a successful command is logged at INFO instead of DEBUG.
const slowCommand = 750 * time.Millisecond

func MWTimeout(d time.Duration) Middleware {
	if d <= 0 {
		return func(next HandlerFunc) HandlerFunc { return next }
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, req)
		}
	}
}

func MWPanicRecover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				reqLog(log, req).Error("command panicked",
					logx.Any("panic", r),
					logx.String("stack", string(debug.Stack())),
				)
				err = fmt.Errorf("panic in %s: %v", req.Command, r)
			}()
			return next(ctx, req)
		}
	}
}

// MWTrace opens one span per command. Spans are no-ops unless tracing is
// configured.
func MWTrace() Middleware {
	tracer := otel.Tracer("dispatchbot/router")
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			ctx, span := tracer.Start(ctx, "command "+req.Command)
			defer span.End()
			span.SetAttributes(attribute.String("command", req.Command), attribute.String("rid", req.ReqID))
			err := next(ctx, req)
			if err != nil {
				span.SetStatus(codes.Error, err.Error())
			}
			return err
		}
	}
}

func MWRequestLog(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			took := time.Since(start)

			l := reqLog(log, req).With(logx.Duration("took", took))
			if req.Message != nil && req.Message.ServerID != "" {
				l = l.With(logx.String("server_id", req.Message.ServerID))
			}
			switch {
			case err != nil:
				l.Warn("command failed", logx.Err(err))
			case took >= slowCommand:
				l.Info("command slow")
			default:
				l.Debug("command done")
			}
			return err
		}
	}
}

func reqLog(log logx.Logger, req *Request) logx.Logger {
	if req == nil {
		return log
	}
	if !req.Logger.IsZero() {
		return req.Logger
	}
	return log.With(logx.String("cmd", req.Command))
}
