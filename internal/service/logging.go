package service

import (
	"log/slog"
	"strings"
)

const processorComponentName = "service_processor"

type processorLogger struct {
	logger  *slog.Logger
	metrics *Metrics
}

func (l processorLogger) base(operation string) []any {
	return []any{
		"component", processorComponentName,
		"operation", strings.TrimSpace(operation),
	}
}

func (l processorLogger) logDebug(operation, message string, attrs ...any) {
	l.logger.Debug(message, append(l.base(operation), attrs...)...)
}

func (l processorLogger) logInfo(operation, message string, attrs ...any) {
	l.logger.Info(message, append(l.base(operation), attrs...)...)
}

func (l processorLogger) logWarn(operation, message string, attrs ...any) {
	l.logger.Warn(message, append(l.base(operation), attrs...)...)
}

func (l processorLogger) recordError(category string, err error, operation string, attrs ...any) {
	if err == nil {
		return
	}
	l.metrics.RecordError(category)
	base := append(l.base(operation),
		"category", normalizeErrorCategory(category),
		"error", err.Error(),
	)
	l.logger.Error("service processor error", append(base, attrs...)...)
}
