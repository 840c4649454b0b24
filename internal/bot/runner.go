// Package bot drives live strategy evaluation for active sessions.
package bot

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"xau-engine/internal/events"
	"xau-engine/internal/indicators"
	"xau-engine/internal/notify"
	"xau-engine/internal/provider"
	"xau-engine/internal/strategy"
	"xau-engine/pkg/db"
)

// The runner evaluates on completed 15-minute candles.
const botTimeframe = "15m"

// MarketData supplies spot and history to the runner.
type MarketData interface {
	Spot(ctx context.Context) (float64, error)
	History(ctx context.Context, interval, outputsize string) ([]db.Candle, error)
}

// RunResult summarizes one run_bot_logic invocation.
type RunResult struct {
	Sessions int `json:"sessions"`
	Trades   int `json:"trades"`
	Skipped  int `json:"skipped"`
	Errors   int `json:"errors"`
}

// Runner processes every active session once per invocation.
type Runner struct {
	DB       *db.Database
	Market   MarketData
	Provider provider.Provider
	Notify   *notify.Service
	Bus      *events.Bus
	Defaults strategy.Params
	Symbol   string

	// Per-session advisory locks close the race between the open-trade
	// pre-check and the provider insert across overlapping invocations.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewRunner wires the session runner.
func NewRunner(database *db.Database, market MarketData, prov provider.Provider,
	notifier *notify.Service, bus *events.Bus, defaults strategy.Params, symbol string) *Runner {
	return &Runner{
		DB:       database,
		Market:   market,
		Provider: prov,
		Notify:   notifier,
		Bus:      bus,
		Defaults: defaults,
		Symbol:   symbol,
		locks:    make(map[string]*sync.Mutex),
	}
}

func (r *Runner) sessionLock(id string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[id]
	if !ok {
		l = &sync.Mutex{}
		r.locks[id] = l
	}
	return l
}

// Run evaluates every active session sequentially. A failing session is
// logged and recorded but never blocks the others.
func (r *Runner) Run(ctx context.Context) (RunResult, error) {
	sessions, err := r.DB.ActiveSessions(ctx)
	if err != nil {
		return RunResult{}, fmt.Errorf("list active sessions: %w", err)
	}

	result := RunResult{Sessions: len(sessions)}
	for _, session := range sessions {
		outcome, err := r.runSession(ctx, session)
		if err != nil {
			result.Errors++
			log.Printf("bot: session %s failed: %v", session.ID, err)
			if recErr := r.Notify.Record(ctx, session.UserID, notify.KindBotError,
				"Bot session error", err.Error()); recErr != nil {
				log.Printf("bot: record error notification: %v", recErr)
			}
			continue
		}
		switch outcome {
		case outcomeTraded:
			result.Trades++
		case outcomeSkipped:
			result.Skipped++
		}
	}
	return result, nil
}

type sessionOutcome int

const (
	outcomeNoSignal sessionOutcome = iota
	outcomeTraded
	outcomeSkipped
)

func (r *Runner) runSession(ctx context.Context, session db.BotSession) (sessionOutcome, error) {
	lock := r.sessionLock(session.ID)
	lock.Lock()
	defer lock.Unlock()

	// One trade at a time per session.
	open, err := r.DB.CountOpenTradesForSession(ctx, session.ID)
	if err != nil {
		return outcomeNoSignal, fmt.Errorf("count open trades: %w", err)
	}
	if open >= 1 {
		log.Printf("bot: session %s has an open trade, skipping", session.ID)
		return outcomeSkipped, nil
	}

	tier, err := ResolveRisk(session.RiskLevel)
	if err != nil {
		return outcomeNoSignal, err
	}

	params, err := strategy.ParseParams(r.Defaults, session.StrategyParams)
	if err != nil {
		return outcomeNoSignal, fmt.Errorf("session params: %w", err)
	}

	dispatcher, err := strategy.NewDispatcher(session.StrategyMode)
	if err != nil {
		return outcomeNoSignal, err
	}

	history, err := r.Market.History(ctx, botTimeframe, "compact")
	if err != nil {
		return outcomeNoSignal, fmt.Errorf("fetch history: %w", err)
	}
	if len(history) < strategy.MinBars(params) {
		// Not an error: the market simply has not produced enough bars.
		log.Printf("bot: session %s has %d bars, needs %d, no trade", session.ID, len(history), strategy.MinBars(params))
		return outcomeNoSignal, nil
	}

	spot, err := r.Market.Spot(ctx)
	if err != nil {
		return outcomeNoSignal, fmt.Errorf("fetch spot: %w", err)
	}

	atr := indicators.ATR(history, params.ATRPeriod)
	sig := dispatcher.Decide(history, spot, params, atr[len(history)-1])
	if sig == nil {
		log.Printf("bot: session %s: no signal", session.ID)
		return outcomeNoSignal, nil
	}

	take := sig.Take
	res, err := r.Provider.ExecuteOrder(ctx, provider.OrderRequest{
		UserID:     session.UserID,
		AccountID:  session.AccountID,
		SessionID:  session.ID,
		Symbol:     r.Symbol,
		Side:       sig.Side,
		Lot:        tier.MaxLotSize,
		OpenPrice:  spot,
		StopLoss:   sig.Stop,
		TakeProfit: &take,
	})
	if err != nil {
		return outcomeNoSignal, fmt.Errorf("execute order: %w", err)
	}
	if !res.Success {
		if recErr := r.Notify.Record(ctx, session.UserID, notify.KindBotTradeError,
			"Bot trade failed", res.Error); recErr != nil {
			log.Printf("bot: record trade error: %v", recErr)
		}
		return outcomeNoSignal, fmt.Errorf("provider rejected order: %s", res.Error)
	}

	now := time.Now().UTC()
	body := fmt.Sprintf("%s %.2f lots %s at %.2f (stop %.2f, take %.2f)",
		sig.Side, tier.MaxLotSize, r.Symbol, spot, sig.Stop, sig.Take)
	if err := r.Notify.Record(ctx, session.UserID, notify.KindBotTradeExecuted, "Bot trade executed", body); err != nil {
		log.Printf("bot: record trade notification: %v", err)
	}
	if err := r.DB.RecordSessionTrade(ctx, session.ID, now); err != nil {
		log.Printf("bot: bump session counters: %v", err)
	}
	r.Notify.Email("Bot trade executed", body)
	if r.Bus != nil {
		r.Bus.Publish(events.EventTradeExecuted, map[string]any{
			"sessionId": session.ID,
			"side":      sig.Side,
			"ticket":    res.Ticket,
			"price":     spot,
		})
	}
	return outcomeTraded, nil
}
