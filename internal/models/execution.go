package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Execution is the append-only record of one action firing during live evaluation.
type Execution struct {
	ID                 string       `gorm:"primaryKey;size:36" json:"id"`
	BotID              string       `gorm:"index;not null" json:"botId"`
	Symbol             string       `json:"symbol"`
	Side               OrderSide    `json:"side"`
	Quantity           float64      `json:"quantity"`
	Price              float64      `json:"price"`
	TotalValue         float64      `json:"totalValue"`
	TriggeringRuleName string       `json:"triggeringRuleName"`
	MarketSnapshot     MarketSample `gorm:"serializer:json" json:"marketSnapshot"`
	ProfitLoss         float64      `json:"profitLoss"` // never back-filled after insert
	ExecutedAt         time.Time    `gorm:"index" json:"executedAt"`
	CreatedAt          time.Time    `json:"createdAt"`
}

// BeforeCreate assigns a fresh id to new executions.
func (e *Execution) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}
