package logger

import (
	"fmt"

	"go.uber.org/zap"
)

// BotLogger routes telegram-bot-api's internal logging into zap.
// It satisfies tgbotapi.BotLogger.
type BotLogger struct {
	log *zap.SugaredLogger
}

func NewBotLogger(log *zap.Logger) *BotLogger {
	return &BotLogger{log: log.Named("tgbotapi").Sugar()}
}

func (l *BotLogger) Println(v ...interface{}) {
	l.log.Debug(fmt.Sprint(v...))
}

func (l *BotLogger) Printf(format string, v ...interface{}) {
	l.log.Debugf(format, v...)
}
