package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"sync"
	"time"

	"github.com/alanyoungcy/cryptobot/internal/domain"
)

const jsonlContentType = "application/x-ndjson"

// multipartThreshold is the payload size above which uploads go through the
// multipart manager.
const multipartThreshold = 8 * 1024 * 1024

// TradeSource is the trade history to archive, oldest first. The ledger
// satisfies it.
type TradeSource interface {
	History() []domain.ClosedTrade
}

// TradeArchiver uploads closed trades as JSONL. Each call uploads only trades
// that closed after the previous successful upload.
type TradeArchiver struct {
	writer domain.BlobWriter
	source TradeSource
	audit  domain.AuditStore
	prefix string
	logger *slog.Logger

	mu        sync.Mutex
	watermark time.Time
	seen      map[string]bool // ids at the watermark instant already uploaded
}

// NewArchiver creates a TradeArchiver. audit may be nil.
func NewArchiver(writer domain.BlobWriter, source TradeSource, audit domain.AuditStore, prefix string, logger *slog.Logger) *TradeArchiver {
	return &TradeArchiver{
		writer: writer,
		source: source,
		audit:  audit,
		prefix: prefix,
		logger: logger.With(slog.String("component", "trade_archiver")),
		seen:   make(map[string]bool),
	}
}

// tradeRecord is the JSONL line format.
type tradeRecord struct {
	ID         string    `json:"id"`
	PositionID string    `json:"position_id"`
	Symbol     string    `json:"symbol"`
	ProducerID string    `json:"producer_id"`
	Side       string    `json:"side"`
	Size       string    `json:"size"`
	EntryPrice string    `json:"entry_price"`
	ExitPrice  string    `json:"exit_price"`
	PnL        string    `json:"pnl"`
	Reason     string    `json:"reason"`
	EntryTime  time.Time `json:"entry_time"`
	ExitTime   time.Time `json:"exit_time"`
}

// Archive uploads the trades not yet archived and returns how many it wrote.
// The object key is <prefix>archive/trades/<date>/<unix-nanos>.jsonl.
func (a *TradeArchiver) Archive(ctx context.Context, now time.Time) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	pending := a.pendingLocked()
	if len(pending) == 0 {
		return 0, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, t := range pending {
		if err := enc.Encode(toRecord(t)); err != nil {
			return 0, fmt.Errorf("s3blob: encode trade %s: %w", t.ID, err)
		}
	}

	key := a.key(now)
	var err error
	if buf.Len() > multipartThreshold {
		err = a.writer.PutMultipart(ctx, key, &buf, minPartSize)
	} else {
		err = a.writer.Put(ctx, key, &buf, jsonlContentType)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades: %w", err)
	}

	a.advanceLocked(pending)
	a.logger.Info("trades archived", slog.String("key", key), slog.Int("count", len(pending)))

	if a.audit != nil {
		if err := a.audit.Log(ctx, "trades_archived", map[string]any{
			"key":   key,
			"count": len(pending),
		}); err != nil {
			a.logger.Warn("audit log failed", slog.String("error", err.Error()))
		}
	}
	return len(pending), nil
}

// Run archives every interval until ctx is cancelled, then makes one last
// attempt bounded by a fresh timeout so trades closed at shutdown are kept.
func (a *TradeArchiver) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
			defer cancel()
			if _, err := a.Archive(flushCtx, time.Now()); err != nil {
				a.logger.Error("final archive failed", slog.String("error", err.Error()))
			}
			return nil
		case now := <-ticker.C:
			if _, err := a.Archive(ctx, now); err != nil {
				a.logger.Warn("archive failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (a *TradeArchiver) pendingLocked() []domain.ClosedTrade {
	var out []domain.ClosedTrade
	for _, t := range a.source.History() {
		switch {
		case t.ExitTime.After(a.watermark):
			out = append(out, t)
		case t.ExitTime.Equal(a.watermark) && !a.seen[t.ID]:
			out = append(out, t)
		}
	}
	return out
}

func (a *TradeArchiver) advanceLocked(uploaded []domain.ClosedTrade) {
	for _, t := range uploaded {
		if t.ExitTime.After(a.watermark) {
			a.watermark = t.ExitTime
			a.seen = make(map[string]bool)
		}
	}
	for _, t := range uploaded {
		if t.ExitTime.Equal(a.watermark) {
			a.seen[t.ID] = true
		}
	}
}

func (a *TradeArchiver) key(now time.Time) string {
	now = now.UTC()
	return a.prefix + path.Join("archive", "trades", now.Format("2006-01-02"),
		fmt.Sprintf("%d.jsonl", now.UnixNano()))
}

func toRecord(t domain.ClosedTrade) tradeRecord {
	return tradeRecord{
		ID:         t.ID,
		PositionID: t.PositionID,
		Symbol:     t.Symbol,
		ProducerID: t.ProducerID,
		Side:       string(t.Side),
		Size:       t.Size.String(),
		EntryPrice: t.EntryPrice.String(),
		ExitPrice:  t.ExitPrice.String(),
		PnL:        t.PnL.String(),
		Reason:     t.Reason,
		EntryTime:  t.EntryTime,
		ExitTime:   t.ExitTime,
	}
}
