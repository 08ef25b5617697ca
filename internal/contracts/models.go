package contracts

import (
	"time"

	"gorm.io/datatypes"

	"deferred-estate/settlement-backend/internal/escrow"
	"deferred-estate/settlement-backend/internal/ledger"
)

// Kind tags the contract variant
type Kind string

const (
	KindSell      Kind = "sell"
	KindFinancing Kind = "financing"
)

func (k Kind) Valid() bool {
	return k == KindSell || k == KindFinancing
}

// Status tracks the registration and closing sagas. Tokens are only claimed while active.
type Status string

const (
	StatusPending Status = "pending"
	StatusActive  Status = "active"
	StatusClosing Status = "closing"
	StatusClosed  Status = "closed"
)

// AccessLevel is a role a caller holds relative to one contract
type AccessLevel string

const (
	AccessSeller AccessLevel = "seller"
	AccessBuyer  AccessLevel = "buyer"
	AccessAgent  AccessLevel = "agent"
)

// ExpirationLayout is the format of Contract.Expiration
const ExpirationLayout = "2006-01-02"

type Seller struct {
	Address string `json:"address"`
	Quota   uint8  `json:"quota"`
}

// Buyers of the contract; DepositAccount pays the deposit and receives its refund
type Buyers struct {
	Addresses      []string        `json:"addresses"`
	DepositAccount *ledger.Account `json:"deposit_account,omitempty"`
}

func (b Buyers) Contains(principal string) bool {
	for _, addr := range b.Addresses {
		if addr == principal {
			return true
		}
	}
	return false
}

// RestrictedProperty is visible only to callers holding one of AccessList
type RestrictedProperty struct {
	Key        string        `json:"key"`
	AccessList []AccessLevel `json:"access_list"`
	Value      GenericValue  `json:"value"`
}

// DocumentRef points at a stored document; an empty AccessList makes it public
type DocumentRef struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	MimeType   string        `json:"mime_type"`
	Size       int64         `json:"size"`
	AccessList []AccessLevel `json:"access_list"`
	StorageKey string        `json:"storage_key,omitempty"`
	Checksum   string        `json:"checksum,omitempty"`
	UploadedBy string        `json:"uploaded_by"`
	UploadedAt time.Time     `json:"uploaded_at"`
}

// Contract is an installment contract. It is never deleted; Closed is terminal.
type Contract struct {
	ID                   uint64                                  `gorm:"primaryKey;autoIncrement:false" json:"id"`
	Kind                 Kind                                    `gorm:"size:16;not null" json:"kind"`
	Sellers              datatypes.JSONSlice[Seller]             `json:"sellers"`
	Buyers               datatypes.JSONType[Buyers]              `json:"buyers"`
	Installments         uint64                                  `gorm:"not null" json:"installments"`
	Value                uint64                                  `gorm:"not null" json:"value"`
	Currency             string                                  `gorm:"size:8;not null" json:"currency"`
	Deposit              datatypes.JSONType[escrow.Deposit]      `json:"deposit"`
	Expiration           string                                  `gorm:"size:10;not null" json:"expiration"`
	Properties           datatypes.JSONSlice[Property]           `json:"properties"`
	RestrictedProperties datatypes.JSONSlice[RestrictedProperty] `json:"-"`
	Documents            datatypes.JSONSlice[DocumentRef]        `json:"documents"`
	Agency               string                                  `gorm:"size:128;index" json:"agency,omitempty"`
	RegisteredBy         string                                  `gorm:"size:128" json:"registered_by"`
	Status               Status                                  `gorm:"size:16;not null;index" json:"status"`
	Closed               bool                                    `gorm:"not null;default:false" json:"closed"`
	RewardPerToken       uint64                                  `json:"reward_per_token"`
	CreatedAt            time.Time                               `json:"created_at"`
	UpdatedAt            time.Time                               `json:"updated_at"`
	ClosedAt             *time.Time                              `json:"closed_at,omitempty"`
}

// TokenValue is the fiat value of each installment
func (c *Contract) TokenValue() uint64 {
	if c.Installments == 0 {
		return 0
	}
	return c.Value / c.Installments
}

func (c *Contract) Seller(principal string) (Seller, bool) {
	for _, s := range c.Sellers {
		if s.Address == principal {
			return s, true
		}
	}
	return Seller{}, false
}

// ExpirationDate parses Expiration
func (c *Contract) ExpirationDate() (time.Time, error) {
	return time.Parse(ExpirationLayout, c.Expiration)
}

// Token is one installment. Audit timestamps move from unset to set exactly once.
type Token struct {
	ContractID    uint64     `gorm:"primaryKey;autoIncrement:false" json:"contract_id"`
	Index         uint64     `gorm:"primaryKey;autoIncrement:false;column:idx" json:"index"`
	Owner         *string    `gorm:"size:128;index" json:"owner"`
	Operator      string     `gorm:"size:128;not null" json:"operator"`
	Value         uint64     `gorm:"not null" json:"value"`
	Reward        uint64     `gorm:"not null" json:"reward"`
	IsBurned      bool       `gorm:"not null;default:false" json:"is_burned"`
	MintedAt      time.Time  `json:"minted_at"`
	MintedBy      string     `gorm:"size:128" json:"minted_by"`
	ApprovedAt    *time.Time `json:"approved_at,omitempty"`
	ApprovedBy    *string    `gorm:"size:128" json:"approved_by,omitempty"`
	TransferredAt *time.Time `json:"transferred_at,omitempty"`
	TransferredBy *string    `gorm:"size:128" json:"transferred_by,omitempty"`
	BurnedAt      *time.Time `json:"burned_at,omitempty"`
	BurnedBy      *string    `gorm:"size:128" json:"burned_by,omitempty"`
	PendingBuyer  *string    `gorm:"size:128" json:"pending_buyer,omitempty"`
	ClaimedAt     *time.Time `gorm:"index" json:"claimed_at,omitempty"`
	RewardPaidAt  *time.Time `json:"reward_paid_at,omitempty"`
	PaymentTx     *string    `gorm:"size:64" json:"payment_tx,omitempty"`
}

// Sold reports whether the token was ever bought
func (t *Token) Sold() bool {
	return t.TransferredAt != nil
}

// TokenWithContract is the read model of a single token
type TokenWithContract struct {
	Token    Token    `json:"token"`
	Contract Contract `json:"contract"`
}

// contractSequence issues contract ids
type contractSequence struct {
	Name  string `gorm:"primaryKey;size:32"`
	Value uint64 `gorm:"not null"`
}

func (contractSequence) TableName() string {
	return "contract_sequences"
}

// RegisterContractRequest is the registration input
type RegisterContractRequest struct {
	Kind                 Kind                 `json:"kind" binding:"required"`
	Sellers              []Seller             `json:"sellers"`
	Buyers               Buyers               `json:"buyers"`
	Value                uint64               `json:"value"`
	Installments         uint64               `json:"installments"`
	Currency             string               `json:"currency"`
	Deposit              escrow.Deposit       `json:"deposit"`
	Expiration           string               `json:"expiration"`
	Properties           []Property           `json:"properties"`
	RestrictedProperties []RestrictedProperty `json:"restricted_properties"`
}

// BuyTokenRequest is issued by the marketplace once the buyer paid
type BuyTokenRequest struct {
	ContractID uint64 `json:"contract_id"`
	Index      uint64 `json:"index"`
	Buyer      string `json:"buyer"`
	PaymentTx  string `json:"payment_tx"`
}

// UpdatePropertyRequest
type UpdatePropertyRequest struct {
	Key   string       `json:"key" binding:"required"`
	Value GenericValue `json:"value"`
}

// UpdateRestrictedPropertyRequest
type UpdateRestrictedPropertyRequest struct {
	Key        string        `json:"key" binding:"required"`
	AccessList []AccessLevel `json:"access_list"`
	Value      GenericValue  `json:"value"`
}

// WithdrawDepositRequest
type WithdrawDepositRequest struct {
	Subaccount string `json:"subaccount,omitempty"`
}
