package models

import "time"

// MarketSample is one immutable market tick.
type MarketSample struct {
	Timestamp time.Time `json:"timestamp"`
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Volume    float64   `json:"volume"`
	RSI       float64   `json:"rsi"`
	MACD      float64   `json:"macd"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
}
