package rewards

import (
	"errors"
	"time"
)

var (
	ErrPoolNotFound    = errors.New("reward pool not found")
	ErrNotEnoughTokens = errors.New("not enough reward tokens")
	ErrInvalidAmount   = errors.New("invalid reward amount")
)

// Pool holds the reward tokens reserved for one contract
type Pool struct {
	ContractID uint64    `json:"contract_id" db:"contract_id"`
	Balance    uint64    `json:"balance" db:"balance"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// ReservePoolRequest tops up a contract pool from the caller's allowance
type ReservePoolRequest struct {
	Subaccount string `json:"subaccount,omitempty"`
	Amount     uint64 `json:"amount" binding:"required"`
}
