package chain

import (
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/hundinet/hundi/internal/circuitbreaker"
	"github.com/hundinet/hundi/internal/escrow"
	"github.com/hundinet/hundi/internal/metrics"
	"github.com/hundinet/hundi/internal/retry"
)

// Settlement vault ABI: release(escrowId, target, amount) moves locked coins
// out of the vault per a committed ledger resolution.
const vaultABI = `[
	{"constant":false,"inputs":[{"name":"escrowId","type":"bytes32"},{"name":"target","type":"uint8"},{"name":"amount","type":"uint256"}],"name":"release","outputs":[{"name":"","type":"bool"}],"type":"function"}
]`

const (
	// DefaultGasLimit for vault release calls when estimation fails.
	DefaultGasLimit = uint64(150000)

	// DefaultFinalityTimeout bounds receipt polling.
	DefaultFinalityTimeout = 90 * time.Second

	finalityPollInterval = 2 * time.Second

	// Coin amounts carry 6 decimals on-chain, matching the ledger.
	coinDecimals = 6

	breakerKey = "settlement_rpc"
)

// EthClient abstracts the go-ethereum client for testing.
type EthClient interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	Close()
}

// Config for the Ethereum settler.
type Config struct {
	RPCURL        string
	PrivateKey    string // hex, with or without 0x prefix
	ChainID       int64
	VaultContract string
}

// EthSettler submits escrow releases to the settlement vault and polls for
// finality. RPC calls go through a circuit breaker and bounded retries.
type EthSettler struct {
	client          EthClient
	privateKey      *ecdsa.PrivateKey
	address         common.Address
	chainID         *big.Int
	vault           common.Address
	vaultABI        abi.ABI
	breaker         *circuitbreaker.Breaker
	finalityTimeout time.Duration
	logger          *slog.Logger
}

// Option configures the settler.
type Option func(*EthSettler)

// WithClient sets a custom client (useful for testing).
func WithClient(client EthClient) Option {
	return func(s *EthSettler) { s.client = client }
}

// WithFinalityTimeout overrides the receipt polling deadline.
func WithFinalityTimeout(d time.Duration) Option {
	return func(s *EthSettler) {
		if d > 0 {
			s.finalityTimeout = d
		}
	}
}

// NewEthSettler creates a settler connected to the configured RPC endpoint.
func NewEthSettler(cfg Config, logger *slog.Logger, opts ...Option) (*EthSettler, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("%w: RPC URL required", ErrRPCConnection)
	}
	key := strings.TrimPrefix(cfg.PrivateKey, "0x")
	if len(key) != 64 {
		return nil, fmt.Errorf("%w: must be 64 hex characters", ErrInvalidPrivateKey)
	}
	if cfg.ChainID == 0 {
		return nil, errors.New("chain: chain ID required")
	}
	if cfg.VaultContract == "" {
		return nil, errors.New("chain: vault contract address required")
	}

	privateKey, err := crypto.HexToECDSA(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}
	publicKey, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: failed to derive public key", ErrInvalidPrivateKey)
	}
	parsedABI, err := abi.JSON(strings.NewReader(vaultABI))
	if err != nil {
		return nil, fmt.Errorf("parsing vault ABI: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &EthSettler{
		privateKey:      privateKey,
		address:         crypto.PubkeyToAddress(*publicKey),
		chainID:         big.NewInt(cfg.ChainID),
		vault:           common.HexToAddress(cfg.VaultContract),
		vaultABI:        parsedABI,
		breaker:         circuitbreaker.New(5, 30*time.Second),
		finalityTimeout: DefaultFinalityTimeout,
		logger:          logger.With("component", "chain"),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.client == nil {
		client, err := ethclient.Dial(cfg.RPCURL)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRPCConnection, err)
		}
		s.client = client
	}
	return s, nil
}

// Address returns the settler's signing address.
func (s *EthSettler) Address() string {
	return s.address.Hex()
}

// Close releases the underlying RPC connection.
func (s *EthSettler) Close() {
	s.client.Close()
}

// SubmitRelease signs and sends a vault release for a committed escrow
// resolution. Returns the transaction hash; finality is checked separately.
func (s *EthSettler) SubmitRelease(ctx context.Context, escrowID string, target escrow.Target, amount string) (string, error) {
	if !s.breaker.Allow(breakerKey) {
		return "", ErrCircuitOpen
	}

	raw, ok := escrow.ParseAmount(amount)
	if !ok || raw.Sign() <= 0 {
		return "", fmt.Errorf("%w: %q", ErrInvalidAmount, amount)
	}

	data, err := s.vaultABI.Pack("release", escrowKey(escrowID), targetCode(target), raw)
	if err != nil {
		return "", fmt.Errorf("packing release call: %w", err)
	}

	var txHash string
	err = retry.Do(ctx, 3, time.Second, func() error {
		hash, err := s.sendRelease(ctx, data)
		if err != nil {
			return err
		}
		txHash = hash
		return nil
	})
	if err != nil {
		s.breaker.RecordFailure(breakerKey)
		metrics.SettlementsTotal.WithLabelValues("error").Inc()
		return "", err
	}

	s.breaker.RecordSuccess(breakerKey)
	metrics.SettlementsTotal.WithLabelValues("submitted").Inc()
	s.logger.Info("settlement submitted",
		"escrow_id", escrowID, "target", target, "amount", amount, "tx_hash", txHash)
	return txHash, nil
}

func (s *EthSettler) sendRelease(ctx context.Context, data []byte) (string, error) {
	nonce, err := s.client.PendingNonceAt(ctx, s.address)
	if err != nil {
		return "", fmt.Errorf("%w: nonce: %v", ErrRPCConnection, err)
	}
	gasPrice, err := s.client.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: gas price: %v", ErrRPCConnection, err)
	}
	gasLimit, err := s.client.EstimateGas(ctx, ethereum.CallMsg{
		From:  s.address,
		To:    &s.vault,
		Value: big.NewInt(0),
		Data:  data,
	})
	if err != nil {
		gasLimit = DefaultGasLimit
	}

	tx := types.NewTransaction(nonce, s.vault, big.NewInt(0), gasLimit, gasPrice, data)
	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(s.chainID), s.privateKey)
	if err != nil {
		// Signing never recovers on retry.
		return "", retry.Permanent(fmt.Errorf("signing release: %w", err))
	}
	if err := s.client.SendTransaction(ctx, signedTx); err != nil {
		return "", fmt.Errorf("sending release: %w", err)
	}
	return signedTx.Hash().Hex(), nil
}

// ConfirmFinality polls for the release receipt until it lands or the
// timeout elapses. A reverted transaction is terminal.
func (s *EthSettler) ConfirmFinality(ctx context.Context, txHash string) error {
	hash := common.HexToHash(txHash)

	ctx, cancel := context.WithTimeout(ctx, s.finalityTimeout)
	defer cancel()

	ticker := time.NewTicker(finalityPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			metrics.SettlementsTotal.WithLabelValues("timeout").Inc()
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w: waiting for tx %s", ErrTimeout, txHash)
			}
			return ctx.Err()
		case <-ticker.C:
			receipt, err := s.client.TransactionReceipt(ctx, hash)
			if err != nil {
				// Not mined yet.
				continue
			}
			if receipt.Status == 0 {
				metrics.SettlementsTotal.WithLabelValues("reverted").Inc()
				return fmt.Errorf("%w: tx %s", ErrTxFailed, txHash)
			}
			metrics.SettlementsTotal.WithLabelValues("finalized").Inc()
			s.logger.Info("settlement finalized", "tx_hash", txHash, "block", receipt.BlockNumber.Uint64())
			return nil
		}
	}
}

// escrowKey maps a ledger escrow ID to the vault's bytes32 key.
func escrowKey(escrowID string) [32]byte {
	return sha256.Sum256([]byte(escrowID))
}

// targetCode maps a release target to the vault enum.
func targetCode(t escrow.Target) uint8 {
	switch t {
	case escrow.TargetBuyer:
		return 0
	case escrow.TargetSeller:
		return 1
	default:
		return 2
	}
}
