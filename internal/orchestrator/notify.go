package orchestrator

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"spotdex/internal/domain"
)

// Level is the severity of a notification.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Notification is a user-facing message about a write.
type Notification struct {
	ID      uuid.UUID         `json:"id"`
	Level   Level             `json:"level"`
	Title   string            `json:"title"`
	Message string            `json:"message"`
	Action  domain.ActionKind `json:"action,omitempty"`
	TxHash  string            `json:"tx_hash,omitempty"`
	Time    time.Time         `json:"time"`
}

// Notifier receives notifications. Implementations must not block.
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notification)

// Notify calls f(n).
func (f NotifierFunc) Notify(n Notification) { f(n) }

// Multi fans a notification out to every notifier.
type Multi []Notifier

// Notify delivers n to each notifier in order.
func (m Multi) Notify(n Notification) {
	for _, notifier := range m {
		if notifier != nil {
			notifier.Notify(n)
		}
	}
}

// LogNotifier writes notifications to a logger.
type LogNotifier struct {
	Logger *zap.Logger
}

// Notify logs n at a level matching its severity.
func (l LogNotifier) Notify(n Notification) {
	if l.Logger == nil {
		return
	}
	fields := []zap.Field{
		zap.String("id", n.ID.String()),
		zap.String("title", n.Title),
		zap.String("action", string(n.Action)),
		zap.String("tx_hash", n.TxHash),
	}
	if n.Level == LevelError {
		l.Logger.Error(n.Message, fields...)
		return
	}
	l.Logger.Info(n.Message, fields...)
}

// Notification titles and messages.
const (
	titleApproved  = "Approval Succeeded"
	titleSubmitted = "Submission Succeeded"
	titleSettled   = "Order Settled"

	titleApproveFailed = "Approval Failed"
	titlePlaceFailed   = "Submission Failed"
	titleSettleFailed  = "Settlement Failed"

	msgApproved = "You've approved usage of your token on the exchange contract."
	msgSettled  = "You've settled an order with the latest exchange rate."
)

func successTitle(kind domain.ActionKind) string {
	switch kind {
	case domain.ActionApprove:
		return titleApproved
	case domain.ActionPlaceOrder:
		return titleSubmitted
	default:
		return titleSettled
	}
}

func failureTitle(kind domain.ActionKind) string {
	switch kind {
	case domain.ActionApprove:
		return titleApproveFailed
	case domain.ActionPlaceOrder:
		return titlePlaceFailed
	default:
		return titleSettleFailed
	}
}
