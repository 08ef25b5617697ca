package bridge

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"deferred-estate/settlement-backend/internal/config"
	"deferred-estate/settlement-backend/internal/contracts"
)

var (
	ErrNotEthereumAddress = errors.New("principal is not an ethereum address")
	ErrNotMirrored        = errors.New("contract is not mirrored on chain")
	ErrTransactionFailed  = errors.New("mirror transaction reverted")
)

// boundContract is the subset of bind.BoundContract the mirror uses
type boundContract interface {
	Call(opts *bind.CallOpts, results *[]interface{}, method string, params ...interface{}) error
	Transact(opts *bind.TransactOpts, method string, params ...interface{}) (*types.Transaction, error)
}

type receiptWaiter func(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)

// EthMirror replicates contract creation and closing on the Ethereum contract.
// Both calls check the on-chain status first, so retries are idempotent.
type EthMirror struct {
	contract       boundContract
	auth           *bind.TransactOpts
	wait           receiptWaiter
	metadataBase   string
	receiptTimeout time.Duration
	logger         *zap.Logger
	close          func()
}

// Dial connects to the RPC endpoint and binds the configured contract
func Dial(ctx context.Context, cfg config.BridgeConfig, logger *zap.Logger) (*EthMirror, error) {
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("invalid mirror contract address %q", cfg.ContractAddress)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid bridge private key: %w", err)
	}
	parsed, err := abi.JSON(strings.NewReader(deferredABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse mirror abi: %w", err)
	}
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", cfg.RPCURL, err)
	}
	auth, err := bind.NewKeyedTransactorWithChainID(key, big.NewInt(cfg.ChainID))
	if err != nil {
		client.Close()
		return nil, err
	}

	address := common.HexToAddress(cfg.ContractAddress)
	contract := bind.NewBoundContract(address, parsed, client, client, client)
	wait := func(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
		return bind.WaitMined(ctx, client, tx)
	}

	logger.Info("Ethereum mirror connected",
		zap.String("contract", address.Hex()),
		zap.String("signer", auth.From.Hex()),
		zap.Int64("chain_id", cfg.ChainID))
	m := newEthMirror(contract, auth, wait, cfg, logger)
	m.close = client.Close
	return m, nil
}

func newEthMirror(contract boundContract, auth *bind.TransactOpts, wait receiptWaiter, cfg config.BridgeConfig, logger *zap.Logger) *EthMirror {
	timeout := cfg.ReceiptTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &EthMirror{
		contract:       contract,
		auth:           auth,
		wait:           wait,
		metadataBase:   strings.TrimRight(cfg.MetadataBaseURL, "/"),
		receiptTimeout: timeout,
		logger:         logger,
	}
}

func (m *EthMirror) Close() {
	if m.close != nil {
		m.close()
	}
}

func (m *EthMirror) CreateContract(ctx context.Context, c *contracts.Contract) error {
	exists, _, err := m.status(ctx, c.ID)
	if err != nil {
		return err
	}
	if exists {
		m.logger.Info("Contract already mirrored", zap.Uint64("contract_id", c.ID))
		return nil
	}
	arg, err := m.createArg(c)
	if err != nil {
		return err
	}
	return m.transact(ctx, c.ID, "createContract", arg)
}

func (m *EthMirror) CloseContract(ctx context.Context, id uint64) error {
	exists, closed, err := m.status(ctx, id)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %d", ErrNotMirrored, id)
	}
	if closed {
		return nil
	}
	return m.transact(ctx, id, "closeContract", new(big.Int).SetUint64(id))
}

func (m *EthMirror) status(ctx context.Context, id uint64) (exists, closed bool, err error) {
	var out []interface{}
	if err := m.contract.Call(&bind.CallOpts{Context: ctx}, &out, "contractStatus", new(big.Int).SetUint64(id)); err != nil {
		return false, false, fmt.Errorf("contractStatus(%d): %w", id, err)
	}
	if len(out) != 2 {
		return false, false, fmt.Errorf("contractStatus(%d): unexpected %d outputs", id, len(out))
	}
	exists, ok1 := out[0].(bool)
	closed, ok2 := out[1].(bool)
	if !ok1 || !ok2 {
		return false, false, fmt.Errorf("contractStatus(%d): unexpected output types", id)
	}
	return exists, closed, nil
}

func (m *EthMirror) transact(ctx context.Context, id uint64, method string, params ...interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, m.receiptTimeout)
	defer cancel()

	opts := *m.auth
	opts.Context = ctx
	tx, err := m.contract.Transact(&opts, method, params...)
	if err != nil {
		return fmt.Errorf("%s(%d): %w", method, id, err)
	}
	receipt, err := m.wait(ctx, tx)
	if err != nil {
		return fmt.Errorf("%s(%d) tx %s: %w", method, id, tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("%w: %s(%d) tx %s", ErrTransactionFailed, method, id, tx.Hash().Hex())
	}
	m.logger.Info("Mirror transaction mined",
		zap.String("method", method),
		zap.Uint64("contract_id", id),
		zap.String("tx", tx.Hash().Hex()),
		zap.Uint64("block", receipt.BlockNumber.Uint64()))
	return nil
}

func (m *EthMirror) createArg(c *contracts.Contract) (createContractArg, error) {
	arg := createContractArg{
		ContractId:   new(big.Int).SetUint64(c.ID),
		MetadataUri:  fmt.Sprintf("%s/contracts/%d", m.metadataBase, c.ID),
		Reward:       new(big.Int).SetUint64(c.RewardPerToken),
		TokenPrice:   new(big.Int).SetUint64(c.TokenValue()),
		TokensAmount: new(big.Int).SetUint64(c.Installments),
	}
	for _, s := range c.Sellers {
		addr, err := toAddress(s.Address)
		if err != nil {
			return arg, err
		}
		arg.Sellers = append(arg.Sellers, sellerArg{Seller: addr, Quota: s.Quota})
	}
	for _, b := range c.Buyers.Data().Addresses {
		addr, err := toAddress(b)
		if err != nil {
			return arg, err
		}
		arg.Buyers = append(arg.Buyers, addr)
	}
	return arg, nil
}

func toAddress(principal string) (common.Address, error) {
	if !common.IsHexAddress(principal) {
		return common.Address{}, fmt.Errorf("%w: %q", ErrNotEthereumAddress, principal)
	}
	return common.HexToAddress(principal), nil
}
