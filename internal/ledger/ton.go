package ledger

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/custodial-payouts/backend/internal/config"
	"github.com/shopspring/decimal"
	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/liteclient"
	"github.com/xssnick/tonutils-go/tlb"
	"github.com/xssnick/tonutils-go/ton"
	"github.com/xssnick/tonutils-go/ton/jetton"
	"github.com/xssnick/tonutils-go/ton/wallet"
	"go.uber.org/zap"
)

const (
	tonDecimals = 9
	// attached on top of the forward amount to pay for the jetton wallet execution
	jettonTransferGas = "0.05"
)

// TONClient pays USDT (a jetton) out of a V4R2 hot wallet.
type TONClient struct {
	api        ton.APIClientWrapped
	wallet     *wallet.Wallet
	master     *jetton.Client
	decimals   int
	forwardTON tlb.Coins
	attachTON  tlb.Coins
	log        *zap.Logger
}

func NewTONClient(ctx context.Context, cfg *config.Config, log *zap.Logger) (*TONClient, error) {
	words := strings.Fields(cfg.HotWalletSeed)
	if len(words) == 0 {
		return nil, errors.New("TON_HOT_WALLET_SEED is required")
	}

	api, err := Connect(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	w, err := wallet.FromSeed(api, words, wallet.V4R2)
	if err != nil {
		return nil, fmt.Errorf("load hot wallet from seed: %w", err)
	}

	masterAddr, err := address.ParseAddr(cfg.USDTJettonMaster)
	if err != nil {
		return nil, fmt.Errorf("invalid USDT_JETTON_MASTER %q: %w", cfg.USDTJettonMaster, err)
	}

	forward, err := tlb.FromTON(cfg.JettonForwardTON)
	if err != nil {
		return nil, fmt.Errorf("invalid JETTON_FORWARD_TON %q: %w", cfg.JettonForwardTON, err)
	}
	gas := tlb.MustFromTON(jettonTransferGas)
	attach, err := tlb.FromNano(new(big.Int).Add(forward.Nano(), gas.Nano()), tonDecimals)
	if err != nil {
		return nil, fmt.Errorf("attach amount: %w", err)
	}

	log.Info("ledger ready",
		zap.String("hot_wallet", w.WalletAddress().String()),
		zap.String("jetton_master", masterAddr.String()),
		zap.String("network", cfg.TONNetwork),
	)

	return &TONClient{
		api:        api,
		wallet:     w,
		master:     jetton.NewJettonMasterClient(api, masterAddr),
		decimals:   cfg.USDTDecimals,
		forwardTON: forward,
		attachTON:  attach,
		log:        log,
	}, nil
}

// Connect establishes a connection to the TON network.
// If LITE_SERVER_HOST + LITE_SERVER_KEY are set, connects to a specific lite server.
// Otherwise, auto-discovers lite servers from the global TON config based on TON_NETWORK.
func Connect(ctx context.Context, cfg *config.Config, log *zap.Logger) (ton.APIClientWrapped, error) {
	client := liteclient.NewConnectionPool()

	if cfg.LiteServerHost != "" && cfg.LiteServerKey != "" {
		addr := fmt.Sprintf("%s:%d", cfg.LiteServerHost, cfg.LiteServerPort)
		log.Info("connecting to lite server", zap.String("addr", addr))
		if err := client.AddConnection(ctx, addr, cfg.LiteServerKey); err != nil {
			return nil, fmt.Errorf("connect to lite server %s: %w", addr, err)
		}
	} else {
		configURL := globalConfigURL(cfg.TONNetwork)
		log.Info("connecting via global config", zap.String("url", configURL), zap.String("network", cfg.TONNetwork))
		if err := client.AddConnectionsFromConfigUrl(ctx, configURL); err != nil {
			return nil, fmt.Errorf("connect via config %s: %w", configURL, err)
		}
	}

	proofPolicy := ton.ProofCheckPolicyFast
	if isMainnet(cfg.TONNetwork) {
		proofPolicy = ton.ProofCheckPolicySecure
	}

	return ton.NewAPIClient(client, proofPolicy).WithRetry(), nil
}

func isMainnet(network string) bool {
	return strings.ToLower(network) == "mainnet"
}

func globalConfigURL(network string) string {
	if isMainnet(network) {
		return "https://ton.org/global.config.json"
	}
	return "https://ton.org/testnet-global.config.json"
}

func (c *TONClient) HotAddress() string {
	return c.wallet.WalletAddress().String()
}

func (c *TONClient) GetBalances(ctx context.Context, addr string) (Balances, error) {
	owner, err := address.ParseAddr(addr)
	if err != nil {
		return Balances{}, fmt.Errorf("parse address %q: %w", addr, err)
	}

	block, err := c.api.CurrentMasterchainInfo(ctx)
	if err != nil {
		return Balances{}, fmt.Errorf("get master block: %w", err)
	}

	account, err := c.api.GetAccount(ctx, block, owner)
	if err != nil {
		return Balances{}, fmt.Errorf("get account: %w", err)
	}

	native := decimal.Zero
	if account != nil && account.IsActive && account.State != nil {
		native = FromUnits(account.State.Balance.Nano(), tonDecimals)
	}

	jw, err := c.master.GetJettonWallet(ctx, owner)
	if err != nil {
		return Balances{}, fmt.Errorf("resolve jetton wallet: %w", err)
	}
	units, err := jw.GetBalance(ctx)
	if err != nil {
		return Balances{}, fmt.Errorf("get jetton balance: %w", err)
	}

	return Balances{Native: native, Stable: FromUnits(units, c.decimals)}, nil
}

// Transfer sends a jetton transfer from the hot wallet and waits until the
// wallet transaction is included. Excess TON is returned to the hot wallet.
func (c *TONClient) Transfer(ctx context.Context, destination string, amount decimal.Decimal) (string, error) {
	to, err := address.ParseAddr(destination)
	if err != nil {
		return "", fmt.Errorf("invalid destination %q: %w", destination, err)
	}
	if !amount.IsPositive() {
		return "", fmt.Errorf("transfer amount must be positive, got %s", amount)
	}

	coins, err := tlb.FromNano(ToUnits(amount, c.decimals), c.decimals)
	if err != nil {
		return "", fmt.Errorf("convert amount %s: %w", amount, err)
	}

	hot := c.wallet.WalletAddress()
	jw, err := c.master.GetJettonWallet(ctx, hot)
	if err != nil {
		return "", fmt.Errorf("resolve hot jetton wallet: %w", err)
	}

	payload, err := jw.BuildTransferPayloadV2(to, hot, coins, c.forwardTON, nil, nil)
	if err != nil {
		return "", fmt.Errorf("build jetton transfer: %w", err)
	}

	tx, _, err := c.wallet.SendWaitTransaction(ctx, wallet.SimpleMessage(jw.Address(), c.attachTON, payload))
	if err != nil {
		return "", fmt.Errorf("send jetton transfer: %w", err)
	}

	txHash := hex.EncodeToString(tx.Hash)
	c.log.Info("jetton transfer sent",
		zap.String("to", to.String()),
		zap.String("amount", amount.String()),
		zap.String("tx", txHash),
	)
	return txHash, nil
}
