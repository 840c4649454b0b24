// Package notify records engine notifications and mirrors them to email and
// the event bus.
package notify

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"xau-engine/internal/events"
	"xau-engine/pkg/db"
	"xau-engine/pkg/mail"
)

// Notification kinds emitted by the engine.
const (
	KindBotTradeExecuted = "bot_trade_executed"
	KindBotTradeError    = "bot_trade_error"
	KindBotError         = "bot_error"
	KindBacktestDone     = "backtest_completed"
)

// Service appends notification rows and fans them out.
type Service struct {
	DB     *db.Database
	Mailer *mail.Mailer
	Bus    *events.Bus
}

// NewService wires the notification sinks. Mailer and Bus may be nil.
func NewService(database *db.Database, mailer *mail.Mailer, bus *events.Bus) *Service {
	return &Service{DB: database, Mailer: mailer, Bus: bus}
}

// Record inserts a notification row and publishes it to the bus.
func (s *Service) Record(ctx context.Context, userID, kind, title, body string) error {
	n := db.Notification{
		ID:        uuid.NewString(),
		UserID:    userID,
		Kind:      kind,
		Title:     title,
		Body:      body,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.DB.InsertNotification(ctx, n); err != nil {
		return err
	}
	if s.Bus != nil {
		s.Bus.Publish(events.EventNotification, n)
	}
	return nil
}

// Email sends best-effort: failures are logged, never propagated.
func (s *Service) Email(subject, body string) {
	if s.Mailer == nil || !s.Mailer.Enabled() {
		return
	}
	if err := s.Mailer.Send(subject, body); err != nil {
		log.Printf("notify: email failed: %v", err)
	}
}
