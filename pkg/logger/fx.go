package logger

import (
	"fmt"
	"strings"

	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

// FxLogger writes fx lifecycle events to zap. Container plumbing goes to
// debug, lifecycle milestones to info and failures to error.
type FxLogger struct {
	log *zap.Logger
}

func NewFxLogger(log *zap.Logger) fxevent.Logger {
	return &FxLogger{log: log.Named("fx")}
}

func (l *FxLogger) LogEvent(event fxevent.Event) {
	switch e := event.(type) {
	case *fxevent.OnStartExecuting:
		l.log.Debug("OnStart hook executing",
			zap.String("caller", e.CallerName),
			zap.String("callee", e.FunctionName))
	case *fxevent.OnStartExecuted:
		l.hookDone("OnStart", e.CallerName, e.FunctionName, e.Runtime.String(), e.Err)
	case *fxevent.OnStopExecuting:
		l.log.Debug("OnStop hook executing",
			zap.String("caller", e.CallerName),
			zap.String("callee", e.FunctionName))
	case *fxevent.OnStopExecuted:
		l.hookDone("OnStop", e.CallerName, e.FunctionName, e.Runtime.String(), e.Err)
	case *fxevent.Supplied:
		l.failedOr("Supply failed", e.Err, "Supplied", zap.String("type", e.TypeName))
	case *fxevent.Provided:
		l.failedOr("Provide failed", e.Err, "Provided",
			zap.String("constructor", e.ConstructorName),
			zap.String("types", strings.Join(e.OutputTypeNames, ", ")))
	case *fxevent.Invoking:
		l.log.Debug("Invoking", zap.String("function", e.FunctionName))
	case *fxevent.Invoked:
		l.failedOr("Invoke failed", e.Err, "Invoked", zap.String("function", e.FunctionName))
	case *fxevent.Stopping:
		l.log.Info("Received signal", zap.String("signal", e.Signal.String()))
	case *fxevent.Stopped:
		l.milestone("Application stopped", e.Err)
	case *fxevent.RollingBack:
		l.log.Error("Start failed, rolling back", zap.Error(e.StartErr))
	case *fxevent.RolledBack:
		l.milestone("Rolled back", e.Err)
	case *fxevent.Started:
		l.milestone("Application started", e.Err)
	case *fxevent.LoggerInitialized:
		l.failedOr("Custom fx logger failed", e.Err, "Custom fx logger initialized",
			zap.String("constructor", e.ConstructorName))
	default:
		l.log.Debug("Unhandled fx event", zap.String("event", fmt.Sprintf("%T", event)))
	}
}

func (l *FxLogger) hookDone(hook, caller, callee, runtime string, err error) {
	fields := []zap.Field{
		zap.String("caller", caller),
		zap.String("callee", callee),
	}
	if err != nil {
		l.log.Error(hook+" hook failed", append(fields, zap.Error(err))...)
		return
	}
	l.log.Debug(hook+" hook executed", append(fields, zap.String("runtime", runtime))...)
}

func (l *FxLogger) failedOr(failMsg string, err error, okMsg string, fields ...zap.Field) {
	if err != nil {
		l.log.Error(failMsg, append(fields, zap.Error(err))...)
		return
	}
	l.log.Debug(okMsg, fields...)
}

func (l *FxLogger) milestone(msg string, err error) {
	if err != nil {
		l.log.Error(msg, zap.Error(err))
		return
	}
	l.log.Info(msg)
}
