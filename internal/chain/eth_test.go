package chain

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/hundinet/hundi/internal/escrow"
)

// Throwaway development key, never funded.
const testKey = "0101010101010101010101010101010101010101010101010101010101010101"

type fakeEthClient struct {
	mu         sync.Mutex
	nonceErr   error
	sendErr    error
	sendCalls  int
	sent       []*types.Transaction
	receipt    *types.Receipt
	receiptErr error
}

func (f *fakeEthClient) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return 7, f.nonceErr
}

func (f *fakeEthClient) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeEthClient) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 0, errors.New("estimation unavailable")
}

func (f *fakeEthClient) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendCalls++
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeEthClient) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.receipt, f.receiptErr
}

func (f *fakeEthClient) Close() {}

func newTestSettler(t *testing.T, client *fakeEthClient, opts ...Option) *EthSettler {
	t.Helper()
	cfg := Config{
		RPCURL:        "http://localhost:8545",
		PrivateKey:    testKey,
		ChainID:       84532,
		VaultContract: "0x1111111111111111111111111111111111111111",
	}
	s, err := NewEthSettler(cfg, nil, append([]Option{WithClient(client)}, opts...)...)
	if err != nil {
		t.Fatalf("NewEthSettler failed: %v", err)
	}
	return s
}

func TestNewEthSettler_Validation(t *testing.T) {
	base := Config{
		RPCURL:        "http://localhost:8545",
		PrivateKey:    testKey,
		ChainID:       84532,
		VaultContract: "0x1111111111111111111111111111111111111111",
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"missing rpc", func(c *Config) { c.RPCURL = "" }, ErrRPCConnection},
		{"short key", func(c *Config) { c.PrivateKey = "abcd" }, ErrInvalidPrivateKey},
		{"non-hex key", func(c *Config) { c.PrivateKey = strings.Repeat("z", 64) }, ErrInvalidPrivateKey},
	}
	for _, tt := range tests {
		cfg := base
		tt.mutate(&cfg)
		if _, err := NewEthSettler(cfg, nil, WithClient(&fakeEthClient{})); !errors.Is(err, tt.wantErr) {
			t.Errorf("%s: error = %v, want %v", tt.name, err, tt.wantErr)
		}
	}

	cfg := base
	cfg.ChainID = 0
	if _, err := NewEthSettler(cfg, nil, WithClient(&fakeEthClient{})); err == nil {
		t.Error("missing chain ID accepted")
	}
	cfg = base
	cfg.VaultContract = ""
	if _, err := NewEthSettler(cfg, nil, WithClient(&fakeEthClient{})); err == nil {
		t.Error("missing vault contract accepted")
	}
}

func TestNewEthSettler_AcceptsPrefixedKey(t *testing.T) {
	cfg := Config{
		RPCURL:        "http://localhost:8545",
		PrivateKey:    "0x" + testKey,
		ChainID:       84532,
		VaultContract: "0x1111111111111111111111111111111111111111",
	}
	s, err := NewEthSettler(cfg, nil, WithClient(&fakeEthClient{}))
	if err != nil {
		t.Fatalf("prefixed key rejected: %v", err)
	}
	if !strings.HasPrefix(s.Address(), "0x") {
		t.Errorf("Address() = %q", s.Address())
	}
}

func TestSubmitRelease(t *testing.T) {
	client := &fakeEthClient{}
	s := newTestSettler(t, client)

	hash, err := s.SubmitRelease(context.Background(), "esc_1", escrow.TargetSeller, "100.5")
	if err != nil {
		t.Fatalf("SubmitRelease failed: %v", err)
	}
	if !strings.HasPrefix(hash, "0x") {
		t.Errorf("tx hash = %q", hash)
	}
	if len(client.sent) != 1 {
		t.Fatalf("sent %d transactions, want 1", len(client.sent))
	}

	tx := client.sent[0]
	if tx.Nonce() != 7 {
		t.Errorf("nonce = %d, want 7", tx.Nonce())
	}
	// Estimation failed, so the default gas limit applies.
	if tx.Gas() != DefaultGasLimit {
		t.Errorf("gas limit = %d, want %d", tx.Gas(), DefaultGasLimit)
	}
	if tx.To() == nil || tx.To().Hex() != common.HexToAddress("0x1111111111111111111111111111111111111111").Hex() {
		t.Errorf("to = %v", tx.To())
	}
}

func TestSubmitRelease_InvalidAmount(t *testing.T) {
	s := newTestSettler(t, &fakeEthClient{})

	for _, amount := range []string{"0", "-5", "abc", ""} {
		if _, err := s.SubmitRelease(context.Background(), "esc_1", escrow.TargetBuyer, amount); !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("amount %q: error = %v, want ErrInvalidAmount", amount, err)
		}
	}
}

func TestSubmitRelease_RetriesTransientSendFailures(t *testing.T) {
	client := &fakeEthClient{sendErr: errors.New("connection reset")}
	s := newTestSettler(t, client)

	_, err := s.SubmitRelease(context.Background(), "esc_1", escrow.TargetSeller, "10")
	if err == nil {
		t.Fatal("expected an error")
	}
	if client.sendCalls != 3 {
		t.Errorf("send attempts = %d, want 3", client.sendCalls)
	}
}

func TestConfirmFinality(t *testing.T) {
	client := &fakeEthClient{receipt: &types.Receipt{Status: 1, BlockNumber: big.NewInt(123)}}
	s := newTestSettler(t, client)

	if err := s.ConfirmFinality(context.Background(), "0xabc"); err != nil {
		t.Fatalf("ConfirmFinality failed: %v", err)
	}
}

func TestConfirmFinality_Reverted(t *testing.T) {
	client := &fakeEthClient{receipt: &types.Receipt{Status: 0, BlockNumber: big.NewInt(123)}}
	s := newTestSettler(t, client)

	if err := s.ConfirmFinality(context.Background(), "0xabc"); !errors.Is(err, ErrTxFailed) {
		t.Errorf("error = %v, want ErrTxFailed", err)
	}
}

func TestConfirmFinality_Timeout(t *testing.T) {
	client := &fakeEthClient{receiptErr: errors.New("not found")}
	s := newTestSettler(t, client, WithFinalityTimeout(50*time.Millisecond))

	if err := s.ConfirmFinality(context.Background(), "0xabc"); !errors.Is(err, ErrTimeout) {
		t.Errorf("error = %v, want ErrTimeout", err)
	}
}

func TestTargetCode(t *testing.T) {
	if got := targetCode(escrow.TargetBuyer); got != 0 {
		t.Errorf("buyer code = %d", got)
	}
	if got := targetCode(escrow.TargetSeller); got != 1 {
		t.Errorf("seller code = %d", got)
	}
	if got := targetCode(escrow.TargetSplit); got != 2 {
		t.Errorf("split code = %d", got)
	}
}

func TestEscrowKey_Deterministic(t *testing.T) {
	if escrowKey("esc_1") != escrowKey("esc_1") {
		t.Error("same ID hashed differently")
	}
	if escrowKey("esc_1") == escrowKey("esc_2") {
		t.Error("distinct IDs collided")
	}
}

func TestNoopSettler(t *testing.T) {
	n := NewNoopSettler()
	ctx := context.Background()

	a, err := n.SubmitRelease(ctx, "esc_1", escrow.TargetSeller, "10")
	if err != nil {
		t.Fatalf("SubmitRelease failed: %v", err)
	}
	b, _ := n.SubmitRelease(ctx, "esc_1", escrow.TargetSeller, "10")
	if a == b {
		t.Error("noop hashes are not unique")
	}
	if err := n.ConfirmFinality(ctx, a); err != nil {
		t.Errorf("ConfirmFinality failed: %v", err)
	}
}
