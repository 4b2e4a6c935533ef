package terminal

import (
	"go.uber.org/zap"

	"github.com/gregLibert/brizzi-terminal/pkg/transaction"
)

// LogFeedback reports outcomes in the log, for terminals without a buzzer or display.
type LogFeedback struct {
	Logger *zap.Logger
}

func (f LogFeedback) Notify(s transaction.Signal) {
	if s == transaction.Success {
		f.Logger.Info("feedback", zap.Stringer("signal", s))
		return
	}
	f.Logger.Warn("feedback", zap.Stringer("signal", s))
}
