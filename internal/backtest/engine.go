// Package backtest replays stored candles through the strategy dispatcher and
// persists a performance report.
package backtest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"xau-engine/internal/events"
	"xau-engine/internal/indicators"
	"xau-engine/internal/notify"
	"xau-engine/internal/strategy"
	"xau-engine/pkg/db"
)

// Close reasons recorded on simulated trades.
const (
	ReasonStopLoss   = "SL"
	ReasonTakeProfit = "TP"
	ReasonSignal     = "Signal"
	ReasonEndOfTest  = "EndOfTest"
)

// The simulator prices XAUUSD lots at $100 per point per lot.
const lotMultiplier = 100

// ErrInsufficientData is returned when the range holds too few candles.
var ErrInsufficientData = errors.New("not enough candles for backtest")

// Request describes one backtest run.
type Request struct {
	UserID       string
	Symbol       string
	Timeframe    string
	StartDate    time.Time
	EndDate      time.Time
	StrategyMode string
	Params       strategy.Params
	Risk         RiskParams
}

// RiskParams is the position sizing used during replay.
type RiskParams struct {
	MaxLotSize float64 `json:"max_lot_size"`
}

// Engine loads candles, replays them, and stores the result.
type Engine struct {
	DB     *db.Database
	Notify *notify.Service
	Bus    *events.Bus
}

// NewEngine wires the backtest engine.
func NewEngine(database *db.Database, notifier *notify.Service, bus *events.Bus) *Engine {
	return &Engine{DB: database, Notify: notifier, Bus: bus}
}

// openPosition is the single in-flight simulated trade during replay.
type openPosition struct {
	side      string
	entry     float64
	stop      float64
	take      float64
	lot       float64
	entryTime time.Time
}

// Run executes a backtest and persists the report atomically.
func (e *Engine) Run(ctx context.Context, req Request) (*db.BacktestReport, []db.SimulatedTrade, error) {
	if req.StrategyMode == "" {
		req.StrategyMode = strategy.ModeAdaptive
	}
	dispatcher, err := strategy.NewDispatcher(req.StrategyMode)
	if err != nil {
		return nil, nil, err
	}
	if req.Risk.MaxLotSize <= 0 {
		req.Risk.MaxLotSize = 0.01
	}

	candles, err := e.DB.CandlesInRange(ctx, req.Symbol, req.Timeframe, req.StartDate, req.EndDate)
	if err != nil {
		return nil, nil, fmt.Errorf("load candles: %w", err)
	}

	minBars := strategy.MinBars(req.Params)
	if len(candles) <= minBars {
		return nil, nil, fmt.Errorf("%w: have %d, need more than %d", ErrInsufficientData, len(candles), minBars)
	}

	atr := indicators.ATR(candles, req.Params.ATRPeriod)

	var open *openPosition
	var trades []db.SimulatedTrade

	for i := minBars; i < len(candles); i++ {
		candle := candles[i]

		// Stop loss is checked before take profit within the same candle.
		if open != nil {
			if hitStop(open, candle) {
				trades = append(trades, closedTrade(req, open, open.stop, ReasonStopLoss, candle.Timestamp))
				open = nil
			} else if hitTake(open, candle) {
				trades = append(trades, closedTrade(req, open, open.take, ReasonTakeProfit, candle.Timestamp))
				open = nil
			}
		}

		sig := dispatcher.Decide(candles[:i], candle.Open, req.Params, atr[i-1])
		if sig == nil {
			continue
		}

		if open != nil {
			if sig.Side != open.side {
				trades = append(trades, closedTrade(req, open, candle.Open, ReasonSignal, candle.Timestamp))
				open = nil
			} else {
				continue
			}
		}
		if open == nil {
			open = &openPosition{
				side:      sig.Side,
				entry:     candle.Open,
				stop:      sig.Stop,
				take:      sig.Take,
				lot:       req.Risk.MaxLotSize,
				entryTime: candle.Timestamp,
			}
		}
	}

	if open != nil {
		last := candles[len(candles)-1]
		trades = append(trades, closedTrade(req, open, last.Close, ReasonEndOfTest, last.Timestamp))
	}

	report := aggregate(req, trades)
	if err := e.DB.SaveBacktest(ctx, report, trades); err != nil {
		return nil, nil, fmt.Errorf("persist backtest: %w", err)
	}

	if e.Bus != nil {
		e.Bus.Publish(events.EventBacktestDone, report)
	}
	e.notifyDone(ctx, req, report)
	return &report, trades, nil
}

func hitStop(p *openPosition, c db.Candle) bool {
	if p.side == db.SideBuy {
		return c.Low <= p.stop
	}
	return c.High >= p.stop
}

func hitTake(p *openPosition, c db.Candle) bool {
	if p.side == db.SideBuy {
		return c.High >= p.take
	}
	return c.Low <= p.take
}

func closedTrade(req Request, p *openPosition, exit float64, reason string, at time.Time) db.SimulatedTrade {
	diff := exit - p.entry
	if p.side == db.SideSell {
		diff = p.entry - exit
	}
	take := p.take
	return db.SimulatedTrade{
		ID:          uuid.NewString(),
		Symbol:      req.Symbol,
		Side:        p.side,
		LotSize:     p.lot,
		EntryPrice:  p.entry,
		ExitPrice:   exit,
		StopLoss:    p.stop,
		TakeProfit:  &take,
		ProfitLoss:  diff * p.lot * lotMultiplier,
		CloseReason: reason,
		OpenedAt:    p.entryTime,
		ClosedAt:    at,
	}
}

func aggregate(req Request, trades []db.SimulatedTrade) db.BacktestReport {
	report := db.BacktestReport{
		ID:        uuid.NewString(),
		UserID:    req.UserID,
		Symbol:    req.Symbol,
		Timeframe: req.Timeframe,
		StartDate: req.StartDate,
		EndDate:   req.EndDate,
		CreatedAt: time.Now().UTC(),
	}
	if raw, err := json.Marshal(req.Params); err == nil {
		report.StrategyParams = string(raw)
	}
	if raw, err := json.Marshal(req.Risk); err == nil {
		report.RiskParams = string(raw)
	}

	for i := range trades {
		trades[i].ReportID = report.ID
		report.TotalTrades++
		report.TotalPL += trades[i].ProfitLoss
		if trades[i].ProfitLoss > 0 {
			report.WinningTrades++
		} else {
			report.LosingTrades++
		}
	}
	if report.TotalTrades > 0 {
		report.WinRate = float64(report.WinningTrades) / float64(report.TotalTrades) * 100
	}
	return report
}

func (e *Engine) notifyDone(ctx context.Context, req Request, report db.BacktestReport) {
	body := fmt.Sprintf("%s %s %s: %d trades, P&L %.2f, win rate %.1f%%",
		report.Symbol, report.Timeframe, req.StrategyMode,
		report.TotalTrades, report.TotalPL, report.WinRate)
	if req.UserID != "" {
		if err := e.Notify.Record(ctx, req.UserID, notify.KindBacktestDone, "Backtest completed", body); err != nil {
			log.Printf("backtest: record notification: %v", err)
		}
	}
	e.Notify.Email("Backtest completed", body)
}
