package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"sigs.k8s.io/yaml"
)

// Config represents the application configuration
type Config struct {
	Server      ServerConfig      `json:"server"`
	Database    DatabaseConfig    `json:"database"`
	Ledger      LedgerConfig      `json:"ledger"`
	Contracts   ContractsConfig   `json:"contracts"`
	Rewards     RewardsConfig     `json:"rewards"`
	Liquidity   LiquidityConfig   `json:"liquidity"`
	Marketplace MarketplaceConfig `json:"marketplace"`
	Bridge      BridgeConfig      `json:"bridge"`
	Security    SecurityConfig    `json:"security"`
	Storage     StorageConfig     `json:"storage"`
	Events      EventsConfig      `json:"events"`
	Scheduler   SchedulerConfig   `json:"scheduler"`
	Logging     LoggingConfig     `json:"logging"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Driver         string        `json:"driver"` // postgres or sqlite
	Host           string        `json:"host"`
	Port           int           `json:"port"`
	User           string        `json:"user"`
	Password       string        `json:"password"`
	DBName         string        `json:"db_name"`
	SSLMode        string        `json:"ssl_mode"`
	SQLitePath     string        `json:"sqlite_path"`
	MaxConnections int           `json:"max_connections"`
	MaxIdleConns   int           `json:"max_idle_conns"`
	MaxLifetime    time.Duration `json:"max_lifetime"`
	AutoMigrate    bool          `json:"auto_migrate"`
}

// LedgerConfig points at the fungible-token ledger gateway.
// An empty endpoint selects the in-process ledger.
type LedgerConfig struct {
	Endpoint   string        `json:"endpoint"`
	Timeout    time.Duration `json:"timeout"`
	RetryCount int           `json:"retry_count"`
	DevFee     uint64        `json:"dev_fee"`
}

// ContractsConfig configures the orchestrator
type ContractsConfig struct {
	Principal         string   `json:"principal"`
	EscrowPrincipal   string   `json:"escrow_principal"`
	AllowedCurrencies []string `json:"allowed_currencies"`
	Custodians        []string `json:"custodians"`
}

// RewardsConfig configures the reward pool
type RewardsConfig struct {
	Principal  string  `json:"principal"`
	InitialRMC float64 `json:"initial_rmc"`
}

// LiquidityConfig configures the liquidity pool holding refunds
type LiquidityConfig struct {
	Principal string `json:"principal"`
}

// MarketplaceConfig configures token pricing
type MarketplaceConfig struct {
	Principal            string            `json:"principal"`
	InterestRateForBuyer string            `json:"interest_rate_for_buyer"`
	RatesEndpoint        string            `json:"rates_endpoint"`
	StaticRates          map[string]string `json:"static_rates"`
}

// BridgeConfig configures the Ethereum mirror
type BridgeConfig struct {
	Enabled         bool   `json:"enabled"`
	RPCURL          string `json:"rpc_url"`
	ContractAddress string `json:"contract_address"`
	PrivateKey      string `json:"private_key"`
	ChainID         int64  `json:"chain_id"`
	// MetadataBaseURL prefixes the per-contract metadata URI sent on chain
	MetadataBaseURL string        `json:"metadata_base_url"`
	ReceiptTimeout  time.Duration `json:"receipt_timeout"`
}

// SecurityConfig
type SecurityConfig struct {
	JWTSecret string        `json:"jwt_secret"`
	JWTIssuer string        `json:"jwt_issuer"`
	TokenTTL  time.Duration `json:"token_ttl"`
}

// StorageConfig
type StorageConfig struct {
	S3Bucket string `json:"s3_bucket"`
	Region   string `json:"region"`
	// Endpoint targets an S3-compatible store such as MinIO; empty means AWS
	Endpoint        string        `json:"endpoint"`
	AccessKeyID     string        `json:"access_key_id"`
	SecretAccessKey string        `json:"secret_access_key"`
	PresignTTL      time.Duration `json:"presign_ttl"`
	MaxDocumentSize int64         `json:"max_document_size"`
}

// EventsConfig
type EventsConfig struct {
	SNSTopicARN string `json:"sns_topic_arn"`
}

// SchedulerConfig drives the background worker
type SchedulerConfig struct {
	CloseExpiredCron  string        `json:"close_expired_cron"`
	ResumePendingCron string        `json:"resume_pending_cron"`
	RecoverClaimsCron string        `json:"recover_claims_cron"`
	StaleClaimAfter   time.Duration `json:"stale_claim_after"`
	// SettlePurchasesCron drives the marketplace purchase worker
	SettlePurchasesCron string        `json:"settle_purchases_cron"`
	SettleAfter         time.Duration `json:"settle_after"`
	JobTimeout          time.Duration `json:"job_timeout"`
}

// LoggingConfig
type LoggingConfig struct {
	Level       string `json:"level"`
	Development bool   `json:"development"`
}

// LoadConfig loads configuration from .env, file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	// Default config
	config := &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:         "postgres",
			Host:           "localhost",
			Port:           5432,
			User:           os.Getenv("USER"),
			DBName:         "deferred_settlement",
			SSLMode:        "disable",
			SQLitePath:     "settlement.db",
			MaxConnections: 25,
			MaxIdleConns:   5,
			AutoMigrate:    true,
		},
		Ledger: LedgerConfig{
			Timeout:    10 * time.Second,
			RetryCount: 2,
			DevFee:     10_000,
		},
		Contracts: ContractsConfig{
			Principal:         "deferred",
			EscrowPrincipal:   "deferred-escrow",
			AllowedCurrencies: []string{"EUR", "USD"},
		},
		Rewards: RewardsConfig{
			Principal:  "reward-pool",
			InitialRMC: 0.0000042,
		},
		Liquidity: LiquidityConfig{
			Principal: "liquidity-pool",
		},
		Marketplace: MarketplaceConfig{
			Principal:            "marketplace",
			InterestRateForBuyer: "1.1",
		},
		Bridge: BridgeConfig{
			ChainID:        1,
			ReceiptTimeout: 2 * time.Minute,
		},
		Security: SecurityConfig{
			JWTIssuer: "deferred",
			TokenTTL:  12 * time.Hour,
		},
		Storage: StorageConfig{
			Region:          "eu-south-1",
			PresignTTL:      15 * time.Minute,
			MaxDocumentSize: 20 << 20,
		},
		Scheduler: SchedulerConfig{
			CloseExpiredCron:    "0 0 1 * * *",
			ResumePendingCron:   "0 */5 * * * *",
			RecoverClaimsCron:   "30 */5 * * * *",
			StaleClaimAfter:     10 * time.Minute,
			SettlePurchasesCron: "45 */5 * * * *",
			SettleAfter:         10 * time.Minute,
			JobTimeout:          10 * time.Minute,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}

	// .env is optional
	_ = godotenv.Load()

	// Load from file if exists
	if configPath != "" {
		if data, err := os.ReadFile(configPath); err == nil {
			if err := unmarshalConfig(configPath, data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	// Override with environment variables
	overrideWithEnv(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func unmarshalConfig(path string, data []byte, config *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, config)
	default:
		return json.Unmarshal(data, config)
	}
}

func overrideWithEnv(config *Config) {
	if host := os.Getenv("SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if driver := os.Getenv("DATABASE_DRIVER"); driver != "" {
		config.Database.Driver = driver
	}
	if dbHost := os.Getenv("DATABASE_HOST"); dbHost != "" {
		config.Database.Host = dbHost
	}
	if dbUser := os.Getenv("DATABASE_USER"); dbUser != "" {
		config.Database.User = dbUser
	}
	if dbPass := os.Getenv("DATABASE_PASSWORD"); dbPass != "" {
		config.Database.Password = dbPass
	}
	if dbName := os.Getenv("DATABASE_DBNAME"); dbName != "" {
		config.Database.DBName = dbName
	}
	if path := os.Getenv("DATABASE_SQLITE_PATH"); path != "" {
		config.Database.SQLitePath = path
	}
	if endpoint := os.Getenv("LEDGER_ENDPOINT"); endpoint != "" {
		config.Ledger.Endpoint = endpoint
	}
	if currencies := os.Getenv("ALLOWED_CURRENCIES"); currencies != "" {
		config.Contracts.AllowedCurrencies = splitList(currencies)
	}
	if custodians := os.Getenv("CUSTODIANS"); custodians != "" {
		config.Contracts.Custodians = splitList(custodians)
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		config.Security.JWTSecret = secret
	}
	if endpoint := os.Getenv("RATES_ENDPOINT"); endpoint != "" {
		config.Marketplace.RatesEndpoint = endpoint
	}
	if rpcURL := os.Getenv("BRIDGE_RPC_URL"); rpcURL != "" {
		config.Bridge.RPCURL = rpcURL
		config.Bridge.Enabled = true
	}
	if key := os.Getenv("BRIDGE_PRIVATE_KEY"); key != "" {
		config.Bridge.PrivateKey = key
	}
	if bucket := os.Getenv("S3_BUCKET"); bucket != "" {
		config.Storage.S3Bucket = bucket
	}
	if endpoint := os.Getenv("S3_ENDPOINT"); endpoint != "" {
		config.Storage.Endpoint = endpoint
	}
	if keyID := os.Getenv("S3_ACCESS_KEY_ID"); keyID != "" {
		config.Storage.AccessKeyID = keyID
	}
	if secret := os.Getenv("S3_SECRET_ACCESS_KEY"); secret != "" {
		config.Storage.SecretAccessKey = secret
	}
	if topic := os.Getenv("SNS_TOPIC_ARN"); topic != "" {
		config.Events.SNSTopicARN = topic
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
}

func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Validate checks the settings the services cannot start without
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	principals := map[string]string{
		"contracts.principal":        c.Contracts.Principal,
		"contracts.escrow_principal": c.Contracts.EscrowPrincipal,
		"rewards.principal":          c.Rewards.Principal,
		"liquidity.principal":        c.Liquidity.Principal,
		"marketplace.principal":      c.Marketplace.Principal,
	}
	for name, value := range principals {
		if value == "" {
			return fmt.Errorf("%s is required", name)
		}
	}
	if c.Bridge.Enabled && (c.Bridge.RPCURL == "" || c.Bridge.ContractAddress == "") {
		return fmt.Errorf("bridge requires rpc_url and contract_address")
	}
	return nil
}

// GetDatabaseURL returns the database connection string
func (c *DatabaseConfig) GetDatabaseURL() string {
	if c.Driver == "sqlite" {
		return c.SQLitePath
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

// GetServerAddr returns the server address
func (c *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
