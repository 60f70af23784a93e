// Package persist archives completed orders and their fills to
// Postgres. It is a pure observer: it consumes ledger snapshots from
// the bus and never feeds anything back into the trading loop.
package persist

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/pourquoi/tradebot/internal/bus"
	"github.com/pourquoi/tradebot/internal/model"
	"github.com/pourquoi/tradebot/pkg/conn"
)

// OrderRecord is the archived form of a terminal order.
type OrderRecord struct {
	ID                    string          `gorm:"primaryKey;size:64"`
	MarketplaceID         string          `gorm:"size:64"`
	Ticker                string          `gorm:"size:16;index"`
	Side                  string          `gorm:"size:8"`
	Type                  string          `gorm:"size:16"`
	Status                string          `gorm:"size:16;index"`
	Amount                decimal.Decimal `gorm:"type:numeric"`
	QuoteAmount           decimal.Decimal `gorm:"type:numeric"`
	Price                 decimal.Decimal `gorm:"type:numeric"`
	FilledAmount          decimal.Decimal `gorm:"type:numeric"`
	CumulativeQuoteAmount decimal.Decimal `gorm:"type:numeric"`
	FeeRate               decimal.Decimal `gorm:"type:numeric"`
	SessionID             string          `gorm:"size:64;index"`
	PrevOrderID           string          `gorm:"size:64"`
	NextOrderID           string          `gorm:"size:64"`
	CreatedAt             int64
	WorkingTime           int64
	Trades                []TradeRecord `gorm:"foreignKey:OrderID"`
}

// TradeRecord is one fill of an archived order.
type TradeRecord struct {
	ID      string          `gorm:"primaryKey;size:64"`
	OrderID string          `gorm:"size:64;index"`
	Time    int64           `gorm:"index"`
	Amount  decimal.Decimal `gorm:"type:numeric"`
	Price   decimal.Decimal `gorm:"type:numeric"`
}

// Store wraps the archive database.
type Store struct {
	client   *conn.Client
	db       *gorm.DB
	archived map[string]struct{}
}

// Open connects and migrates the archive schema.
func Open(dsn string) (*Store, error) {
	client, err := conn.New(conn.Option{
		ConnString: dsn,
		Config: &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Warn),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("persist: connect: %w", err)
	}
	db := client.DB()
	if err := db.AutoMigrate(&OrderRecord{}, &TradeRecord{}); err != nil {
		client.Close()
		return nil, fmt.Errorf("persist: migrate: %w", err)
	}
	return &Store{client: client, db: db, archived: map[string]struct{}{}}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}

// ArchiveOrder upserts a terminal order and its fills.
func (s *Store) ArchiveOrder(ctx context.Context, o model.Order) error {
	rec := toRecord(o)
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&rec).Error
	if err != nil {
		return fmt.Errorf("persist: archive order %s: %w", o.ID, err)
	}
	return nil
}

// Orders returns archived orders for a ticker, newest first.
func (s *Store) Orders(ctx context.Context, ticker model.Ticker, limit int) ([]OrderRecord, error) {
	var out []OrderRecord
	q := s.db.WithContext(ctx).
		Preload("Trades").
		Where("ticker = ?", ticker.String()).
		Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("persist: query orders: %w", err)
	}
	return out, nil
}

// Run consumes ledger snapshots from the subscription and archives
// every terminal order it has not stored yet.
func (s *Store) Run(ctx context.Context, sub *bus.Subscription) error {
	defer sub.Cancel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sub.C():
			if !ok {
				return nil
			}
			if ev.State == nil {
				continue
			}
			s.archiveSnapshot(ctx, ev.State)
		}
	}
}

func (s *Store) archiveSnapshot(ctx context.Context, snap *model.StateSnapshot) {
	for _, o := range snap.Orders {
		if !o.Status.Terminal() {
			continue
		}
		if _, done := s.archived[o.ID]; done {
			continue
		}
		opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := s.ArchiveOrder(opCtx, o)
		cancel()
		if err != nil {
			logs.Errorf("persist: %v", err)
			continue
		}
		s.archived[o.ID] = struct{}{}
	}
}

func toRecord(o model.Order) OrderRecord {
	rec := OrderRecord{
		ID:                    o.ID,
		MarketplaceID:         o.MarketplaceID,
		Ticker:                o.Ticker.String(),
		Side:                  string(o.Side),
		Type:                  string(o.Type),
		Status:                string(o.Status),
		Amount:                o.Amount,
		QuoteAmount:           o.QuoteAmount,
		Price:                 o.Price,
		FilledAmount:          o.FilledAmount,
		CumulativeQuoteAmount: o.CumulativeQuoteAmount,
		FeeRate:               o.FeeRate,
		SessionID:             o.SessionID,
		PrevOrderID:           o.PrevOrderID,
		NextOrderID:           o.NextOrderID,
		CreatedAt:             o.CreatedAt,
		WorkingTime:           o.WorkingTime,
	}
	for _, t := range o.Trades {
		rec.Trades = append(rec.Trades, TradeRecord{
			ID:      t.ID,
			OrderID: o.ID,
			Time:    t.Time,
			Amount:  t.Amount,
			Price:   t.Price,
		})
	}
	return rec
}
