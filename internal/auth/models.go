package auth

import (
	"errors"
	"time"
)

var (
	ErrUnauthorized     = errors.New("unauthorized")
	ErrInvalidRole      = errors.New("invalid role")
	ErrLastCustodian    = errors.New("cannot remove the last custodian")
	ErrAgencyNotFound   = errors.New("agency not found")
	ErrInvalidPrincipal = errors.New("invalid principal")
	ErrInvalidToken     = errors.New("invalid token")
)

// Role is a platform-wide permission
type Role string

const (
	// RoleCustodian administers the platform
	RoleCustodian Role = "custodian"
	// RoleAgent registers contracts on behalf of an agency
	RoleAgent Role = "agent"
)

func (r Role) Valid() bool {
	return r == RoleCustodian || r == RoleAgent
}

// PrincipalRole grants a role to a principal
type PrincipalRole struct {
	Principal string    `gorm:"primaryKey;size:128" json:"principal"`
	Role      Role      `gorm:"primaryKey;size:32" json:"role"`
	GrantedBy string    `gorm:"size:128" json:"granted_by"`
	CreatedAt time.Time `json:"created_at"`
}

func (PrincipalRole) TableName() string {
	return "principal_roles"
}

// Agency is a real estate agency, keyed by the wallet of its agent
type Agency struct {
	Wallet    string    `gorm:"primaryKey;size:128" json:"wallet"`
	Name      string    `gorm:"not null" json:"name" binding:"required"`
	Agent     string    `json:"agent"`
	Address   string    `json:"address"`
	City      string    `json:"city"`
	Region    string    `json:"region"`
	ZipCode   string    `json:"zip_code"`
	Country   string    `json:"country"`
	Continent string    `json:"continent"`
	Email     string    `json:"email"`
	Mobile    string    `json:"mobile"`
	Website   string    `json:"website"`
	VAT       string    `gorm:"column:vat" json:"vat"`
	Logo      string    `json:"logo,omitempty"`
	Lat       *string   `json:"lat,omitempty"`
	Lng       *string   `json:"lng,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RoleRequest is the body of role grant and revoke calls
type RoleRequest struct {
	Principal string `json:"principal" binding:"required"`
	Role      Role   `json:"role" binding:"required"`
}

// RegisterAgencyRequest
type RegisterAgencyRequest struct {
	Wallet string `json:"wallet" binding:"required"`
	Agency Agency `json:"agency" binding:"required"`
}

// TokenRequest asks for a bearer token for a principal proven by signature
type TokenRequest struct {
	Principal string `json:"principal" binding:"required"`
	Message   string `json:"message" binding:"required"`
	Signature string `json:"signature" binding:"required"`
}
