// Package journal persists executed fills to PostgreSQL. It sits outside
// the engine core: the simulator feeds it from strategy callbacks, and
// runs fine with the journal disabled.
package journal

import (
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"papersim/internal/model"
	"papersim/pkg/conn"
)

// FillRecord is one executed fill row.
type FillRecord struct {
	ID        uint64          `gorm:"primaryKey;autoIncrement"`
	OrderID   uint64          `gorm:"index"`
	Exchange  string          `gorm:"size:32;index:idx_fills_pair"`
	Symbol    string          `gorm:"size:32;index:idx_fills_pair"`
	Side      string          `gorm:"size:8"`
	OrderType string          `gorm:"size:8"`
	Price     decimal.Decimal `gorm:"type:numeric"`
	Size      decimal.Decimal `gorm:"type:numeric"`
	Notional  decimal.Decimal `gorm:"type:numeric"`
	FilledTs  int64           `gorm:"index"`
}

// TableName pins the table name regardless of gorm's pluralization.
func (FillRecord) TableName() string { return "fills" }

// Journal writes fill rows through a shared connection pool.
type Journal struct {
	client *conn.Client
}

// Open connects and migrates the fills table.
func Open(dsn string) (*Journal, error) {
	client, err := conn.Open(dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open journal connection")
	}
	if err := client.DB().AutoMigrate(&FillRecord{}); err != nil {
		client.Close()
		return nil, errors.Wrap(err, "migrate fills table")
	}
	return &Journal{client: client}, nil
}

// RecordFill appends one fill row.
func (j *Journal) RecordFill(order model.Order, ts int64) error {
	if j == nil {
		return nil
	}
	record := FillRecord{
		OrderID:   order.ID,
		Exchange:  order.Exchange,
		Symbol:    order.Symbol,
		Side:      order.Side.String(),
		OrderType: order.Type.String(),
		Price:     order.Price,
		Size:      order.Size,
		Notional:  order.Size.Mul(order.Price),
		FilledTs:  ts,
	}
	if err := j.client.DB().Create(&record).Error; err != nil {
		return errors.Wrap(err, "insert fill").With("order_id", order.ID)
	}
	return nil
}

// Fills returns the recorded fills for a pair, oldest first.
func (j *Journal) Fills(exchange, symbol string) ([]FillRecord, error) {
	if j == nil {
		return nil, nil
	}
	var records []FillRecord
	err := j.client.DB().
		Where("exchange = ? AND symbol = ?", exchange, symbol).
		Order("filled_ts ASC, id ASC").
		Find(&records).Error
	if err != nil {
		return nil, errors.Wrap(err, "query fills")
	}
	return records, nil
}

// Close releases the connection pool.
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	return j.client.Close()
}
