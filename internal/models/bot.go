package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BotStatus is the lifecycle state of a bot.
type BotStatus string

const (
	BotDraft   BotStatus = "draft"
	BotActive  BotStatus = "active"
	BotStopped BotStatus = "stopped"
)

// BotSettings bounds how much a bot may invest.
type BotSettings struct {
	MaxInvestment float64 `json:"maxInvestment"`
	StopLossPct   float64 `json:"stopLossPct"`
	TakeProfitPct float64 `json:"takeProfitPct"`
}

// BotStats are the aggregate execution statistics of a bot.
type BotStats struct {
	TotalTrades   int64   `json:"totalTrades"`
	WinningTrades int64   `json:"winningTrades"`
	WinRate       float64 `json:"winRate"`
	TotalProfit   float64 `json:"totalProfit"`
	TotalLoss     float64 `json:"totalLoss"`
	ROI           float64 `json:"roi"`
}

// Bot is a user-defined trading bot and the aggregate root of its rule graph.
type Bot struct {
	ID          string      `gorm:"primaryKey;size:36" json:"id"`
	OwnerID     string      `gorm:"index;not null" json:"ownerId"`
	Name        string      `gorm:"not null" json:"name"`
	Description string      `json:"description"`
	Config      RuleGraph   `gorm:"serializer:json" json:"config"`
	Settings    BotSettings `gorm:"embedded;embeddedPrefix:setting_" json:"settings"`
	Status      BotStatus   `gorm:"index;not null;default:draft" json:"status"`
	Stats       BotStats    `gorm:"embedded" json:"stats"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

// BeforeCreate assigns a fresh id to new bots.
func (b *Bot) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	return nil
}
