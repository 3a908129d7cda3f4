// Package chain reads wallet state from an EVM JSON-RPC endpoint and submits
// remedial transactions on behalf of the guarded wallet.
package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"walletguard-lab/internal/config"
	"walletguard-lab/internal/domain/models"
	"walletguard-lab/pkg/logger"
)

var (
	ErrInvalidAddress    = errors.New("chain: invalid address")
	ErrInvalidPrivateKey = errors.New("chain: invalid private key")
	ErrNoSigner          = errors.New("chain: no signing key configured")
)

// TxError wraps a failed transaction step
type TxError struct {
	Op     string
	TxHash string
	Err    error
}

func (e *TxError) Error() string {
	if e.TxHash != "" {
		return fmt.Sprintf("chain: %s failed (tx: %s): %v", e.Op, e.TxHash, e.Err)
	}
	return fmt.Sprintf("chain: %s failed: %v", e.Op, e.Err)
}

func (e *TxError) Unwrap() error { return e.Err }

// ERC-20 Transfer(address,address,uint256)
var transferEventSig = common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")

const approveABI = `[
	{"constant":false,"inputs":[{"name":"spender","type":"address"},{"name":"value","type":"uint256"}],"name":"approve","outputs":[{"name":"","type":"bool"}],"type":"function"}
]`

const (
	DefaultGasLimit       = uint64(60000)
	defaultLookbackBlocks = uint64(5000)
)

var weiPerEther = new(big.Float).SetInt(big.NewInt(1e18))

// EthClient is the subset of ethclient.Client the guard depends on
type EthClient interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	Close()
}

// Option configures the client
type Option func(*Client)

// WithEthClient injects an RPC client instead of dialing
func WithEthClient(eth EthClient) Option {
	return func(c *Client) {
		c.eth = eth
	}
}

// Client implements balance and transfer sources plus on-chain revocation
type Client struct {
	eth      EthClient
	chainID  *big.Int
	key      *ecdsa.PrivateKey
	from     common.Address
	lookback uint64
	timeout  time.Duration
	tokenABI abi.ABI
	logger   *logger.Logger
}

// New creates a chain client. The private key is optional; without it
// RevokeApproval returns ErrNoSigner.
func New(cfg config.EthereumConfig, log *logger.Logger, opts ...Option) (*Client, error) {
	parsed, err := abi.JSON(strings.NewReader(approveABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse approve ABI: %w", err)
	}

	c := &Client{
		chainID:  big.NewInt(cfg.ChainID),
		lookback: cfg.LookbackBlocks,
		timeout:  cfg.CallTimeout,
		tokenABI: parsed,
		logger:   log.WithComponent("chain"),
	}
	if c.lookback == 0 {
		c.lookback = defaultLookbackBlocks
	}

	if cfg.PrivateKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
		}
		c.key = key
		c.from = crypto.PubkeyToAddress(key.PublicKey)
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.eth == nil {
		if cfg.RPCURL == "" {
			return nil, errors.New("chain: RPC URL required")
		}
		client, err := ethclient.Dial(cfg.RPCURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to RPC: %w", err)
		}
		c.eth = client
	}

	c.logger.Info().Str("chain_id", c.chainID.String()).Bool("signer", c.key != nil).Msg("chain client ready")
	return c, nil
}

// Close releases the RPC connection
func (c *Client) Close() {
	c.eth.Close()
}

// Signer returns the address that signs remedial transactions, if any
func (c *Client) Signer() (string, bool) {
	if c.key == nil {
		return "", false
	}
	return c.from.Hex(), true
}

func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

func parseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return common.HexToAddress(s), nil
}

// WeiToEther converts a wei amount to a floating point ether value
func WeiToEther(wei *big.Int) float64 {
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(wei), weiPerEther).Float64()
	return f
}

// Balance returns the native balance of address in ether
func (c *Client) Balance(ctx context.Context, address string) (float64, error) {
	addr, err := parseAddress(address)
	if err != nil {
		return 0, err
	}

	ctx, cancel := c.callContext(ctx)
	defer cancel()

	wei, err := c.eth.BalanceAt(ctx, addr, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}
	return WeiToEther(wei), nil
}

// RecentTransfers returns token transfers out of owner mined at or after since.
// From is the transaction sender, which is the spender for transferFrom pulls.
func (c *Client) RecentTransfers(ctx context.Context, token, owner string, since time.Time) ([]models.Transfer, error) {
	tokenAddr, err := parseAddress(token)
	if err != nil {
		return nil, err
	}
	ownerAddr, err := parseAddress(owner)
	if err != nil {
		return nil, err
	}

	ctx, cancel := c.callContext(ctx)
	defer cancel()

	latest, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get block number: %w", err)
	}
	var fromBlock uint64
	if latest > c.lookback {
		fromBlock = latest - c.lookback
	}

	logs, err := c.eth.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(latest),
		Addresses: []common.Address{tokenAddr},
		Topics: [][]common.Hash{
			{transferEventSig},
			{common.BytesToHash(ownerAddr.Bytes())},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to filter logs: %w", err)
	}

	blockTimes := make(map[uint64]time.Time)
	transfers := make([]models.Transfer, 0, len(logs))
	for _, vLog := range logs {
		if len(vLog.Topics) < 3 || vLog.Removed {
			continue
		}

		ts, ok := blockTimes[vLog.BlockNumber]
		if !ok {
			header, err := c.eth.HeaderByNumber(ctx, new(big.Int).SetUint64(vLog.BlockNumber))
			if err != nil {
				return nil, fmt.Errorf("failed to get header %d: %w", vLog.BlockNumber, err)
			}
			ts = time.Unix(int64(header.Time), 0).UTC()
			blockTimes[vLog.BlockNumber] = ts
		}
		if ts.Before(since) {
			continue
		}

		sender, err := c.txSender(ctx, vLog.TxHash)
		if err != nil {
			c.logger.Warn().Err(err).Str("tx", vLog.TxHash.Hex()).Msg("failed to resolve transfer sender")
			continue
		}

		transfers = append(transfers, models.Transfer{
			TxHash:    vLog.TxHash.Hex(),
			From:      sender.Hex(),
			To:        common.BytesToAddress(vLog.Topics[2].Bytes()).Hex(),
			Amount:    new(big.Int).SetBytes(vLog.Data).String(),
			Timestamp: ts,
		})
	}

	return transfers, nil
}

func (c *Client) txSender(ctx context.Context, hash common.Hash) (common.Address, error) {
	tx, _, err := c.eth.TransactionByHash(ctx, hash)
	if err != nil {
		return common.Address{}, err
	}
	return types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
}

// RevokeApproval sends approve(spender, 0) on token and returns the tx hash
func (c *Client) RevokeApproval(ctx context.Context, token, spender string) (string, error) {
	if c.key == nil {
		return "", ErrNoSigner
	}
	tokenAddr, err := parseAddress(token)
	if err != nil {
		return "", err
	}
	spenderAddr, err := parseAddress(spender)
	if err != nil {
		return "", err
	}

	data, err := c.tokenABI.Pack("approve", spenderAddr, big.NewInt(0))
	if err != nil {
		return "", &TxError{Op: "pack", Err: err}
	}

	ctx, cancel := c.callContext(ctx)
	defer cancel()

	nonce, err := c.eth.PendingNonceAt(ctx, c.from)
	if err != nil {
		return "", &TxError{Op: "nonce", Err: err}
	}
	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return "", &TxError{Op: "gas_price", Err: err}
	}
	gasLimit, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{
		From:  c.from,
		To:    &tokenAddr,
		Value: big.NewInt(0),
		Data:  data,
	})
	if err != nil {
		gasLimit = DefaultGasLimit
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &tokenAddr,
		Value:    big.NewInt(0),
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.NewEIP155Signer(c.chainID), c.key)
	if err != nil {
		return "", &TxError{Op: "sign", Err: err}
	}

	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return "", &TxError{Op: "send", TxHash: signed.Hash().Hex(), Err: err}
	}

	c.logger.Info().
		Str("token", tokenAddr.Hex()).
		Str("spender", spenderAddr.Hex()).
		Str("tx", signed.Hash().Hex()).
		Msg("approval revoke submitted")

	return signed.Hash().Hex(), nil
}
