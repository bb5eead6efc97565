// Package evm implements domain.AssetLedger against ERC-20 tokens over
// JSON-RPC. The escrow account is the operator key's address; participants
// must have approved it for their stake before betting.
package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alanyoungcy/wagerd/internal/domain"
)

// erc20ABI is the minimal ERC-20 fragment the ledger needs.
const erc20ABI = `[
	{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"type":"function"},
	{"constant":false,"inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"name":"transferFrom","outputs":[{"name":"","type":"bool"}],"type":"function"}
]`

// transferGasLimit covers a standard ERC-20 transfer with headroom for
// fee-on-transfer style tokens.
const transferGasLimit = 120_000

// Config holds the chain connection parameters.
type Config struct {
	RPCURL  string
	ChainID int64
	// PrivateKeyHex is the operator key (hex, no 0x prefix) whose address
	// custodies escrowed funds.
	PrivateKeyHex string
}

// Ledger moves ERC-20 value between participants and the operator-held
// escrow account. Sends are serialized so nonces stay consistent.
type Ledger struct {
	client  *ethclient.Client
	chainID *big.Int
	key     *ecdsa.PrivateKey
	account common.Address
	erc20   abi.ABI

	sendMu sync.Mutex
}

// New dials the RPC endpoint and prepares the operator signer.
func New(ctx context.Context, cfg Config) (*Ledger, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("evm: rpc url is required")
	}
	if cfg.ChainID <= 0 {
		return nil, fmt.Errorf("evm: chain id must be positive")
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("evm: parse operator key: %w", err)
	}

	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("evm: dial %s: %w", cfg.RPCURL, err)
	}

	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("evm: parse erc20 abi: %w", err)
	}

	return &Ledger{
		client:  client,
		chainID: big.NewInt(cfg.ChainID),
		key:     key,
		account: crypto.PubkeyToAddress(key.PublicKey),
		erc20:   parsed,
	}, nil
}

// Close releases the RPC connection.
func (l *Ledger) Close() {
	l.client.Close()
}

// Account returns the operator address holding custodied funds.
func (l *Ledger) Account() common.Address { return l.account }

// BalanceOf reads the owner's token balance via eth_call.
func (l *Ledger) BalanceOf(ctx context.Context, asset, owner common.Address) (*big.Int, error) {
	data, err := l.erc20.Pack("balanceOf", owner)
	if err != nil {
		return nil, fmt.Errorf("evm: pack balanceOf: %w", err)
	}

	out, err := l.client.CallContract(ctx, ethereum.CallMsg{To: &asset, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("evm: balanceOf %s on %s: %w", owner, asset, err)
	}

	vals, err := l.erc20.Unpack("balanceOf", out)
	if err != nil || len(vals) != 1 {
		return nil, fmt.Errorf("evm: unpack balanceOf on %s: %w", asset, err)
	}
	bal, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("evm: balanceOf on %s: unexpected return type %T", asset, vals[0])
	}
	return bal, nil
}

// TransferFrom pulls amount of the token from the participant into escrow
// custody. Fails with ErrInsufficientFunds when the participant's balance
// cannot cover the amount; an insufficient allowance surfaces as a reverted
// transaction.
func (l *Ledger) TransferFrom(ctx context.Context, asset, from common.Address, amount *big.Int) error {
	bal, err := l.BalanceOf(ctx, asset, from)
	if err != nil {
		return err
	}
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("evm: %s of asset %s: %w", from, asset, domain.ErrInsufficientFunds)
	}

	data, err := l.erc20.Pack("transferFrom", from, l.account, amount)
	if err != nil {
		return fmt.Errorf("evm: pack transferFrom: %w", err)
	}
	return l.send(ctx, asset, data)
}

// Transfer pays amount of the token out of escrow custody.
func (l *Ledger) Transfer(ctx context.Context, asset, to common.Address, amount *big.Int) error {
	data, err := l.erc20.Pack("transfer", to, amount)
	if err != nil {
		return fmt.Errorf("evm: pack transfer: %w", err)
	}
	return l.send(ctx, asset, data)
}

// send signs, submits, and waits for one token call, failing on revert.
func (l *Ledger) send(ctx context.Context, token common.Address, data []byte) error {
	l.sendMu.Lock()
	defer l.sendMu.Unlock()

	nonce, err := l.client.PendingNonceAt(ctx, l.account)
	if err != nil {
		return fmt.Errorf("evm: pending nonce: %w", err)
	}
	gasPrice, err := l.client.SuggestGasPrice(ctx)
	if err != nil {
		return fmt.Errorf("evm: suggest gas price: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &token,
		Value:    new(big.Int),
		Gas:      transferGasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(l.chainID), l.key)
	if err != nil {
		return fmt.Errorf("evm: sign tx: %w", err)
	}
	if err := l.client.SendTransaction(ctx, signed); err != nil {
		return fmt.Errorf("evm: send tx: %w", err)
	}

	receipt, err := bind.WaitMined(ctx, l.client, signed)
	if err != nil {
		return fmt.Errorf("evm: wait mined %s: %w", signed.Hash(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("evm: tx %s reverted", signed.Hash())
	}
	return nil
}

// Compile-time interface check.
var _ domain.AssetLedger = (*Ledger)(nil)
