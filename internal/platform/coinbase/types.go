package coinbase

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/cryptobot/internal/domain"
)

// Tick is a last-trade price update.
type Tick struct {
	Product string
	Price   decimal.Decimal
	Time    time.Time
}

type restTicker struct {
	Price string    `json:"price"`
	Time  time.Time `json:"time"`
}

// wsMessage covers the fields of the ticker, subscriptions and error
// messages that the feed reads.
type wsMessage struct {
	Type      string    `json:"type"`
	ProductID string    `json:"product_id"`
	Price     string    `json:"price"`
	Time      time.Time `json:"time"`
	Message   string    `json:"message"`
	Reason    string    `json:"reason"`
}

type wsSubscribe struct {
	Type       string   `json:"type"`
	ProductIDs []string `json:"product_ids"`
	Channels   []string `json:"channels"`
}

// candleToBar converts a [time, low, high, open, close, volume] row.
func candleToBar(row []float64) (domain.Bar, bool) {
	if len(row) < 6 {
		return domain.Bar{}, false
	}
	return domain.Bar{
		Time:   time.Unix(int64(row[0]), 0).UTC(),
		Low:    row[1],
		High:   row[2],
		Open:   row[3],
		Close:  row[4],
		Volume: row[5],
	}, true
}
