package bitcoin

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"math"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"
)

// Client wraps the Bitcoin node RPC surface this engine actually
// consumes (spec §6): blockchain info, block count, block hash/body by
// height, raw transaction fetch, wallet-funded transaction construction,
// signing, broadcast, UTXO listing, and address derivation, plus the
// mempool txid listing the pending-transaction poller reads. Everything
// else the node exposes (mining RPCs, peer info, scantxoutset) is left off
// this client — see DESIGN.md for the per-RPC justification.
type Client struct {
	RPC       *rpcclient.Client
	WalletRPC *rpcclient.Client
	Config    Config
}

type Config struct {
	Host string
	User string
	Pass string
	// WalletName is the node wallet funding and signing go through
	// (WALLET_NAME). Empty selects the default.
	WalletName string
	// Network selects address-decoding parameters (BITCOIN_NETWORK):
	// "mainnet", "testnet", "signet", or "regtest".
	Network string
}

// defaultWalletName is used when Config.WalletName is empty.
const defaultWalletName = "anchor_engine_wallet"

func (c Config) walletName() string {
	if c.WalletName != "" {
		return c.WalletName
	}
	return defaultWalletName
}

func (c Config) chainParams() *chaincfg.Params {
	switch c.Network {
	case "testnet", "testnet3":
		return &chaincfg.TestNet3Params
	case "signet":
		return &chaincfg.SigNetParams
	case "regtest":
		return &chaincfg.RegressionNetParams
	default:
		return &chaincfg.MainNetParams
	}
}

func NewClient(cfg Config) (*Client, error) {
	connCfg := &rpcclient.ConnConfig{
		Host:         cfg.Host,
		User:         cfg.User,
		Pass:         cfg.Pass,
		HTTPPostMode: true,
		DisableTLS:   true,
	}

	log.Printf("anchor-engine: connecting to bitcoin rpc at %s", cfg.Host)
	client, err := rpcclient.New(connCfg, nil)
	if err != nil {
		return nil, fmt.Errorf("bitcoin: connecting rpc client: %w", err)
	}

	blockCount, err := client.GetBlockCount()
	if err != nil {
		client.Shutdown()
		return nil, fmt.Errorf("bitcoin: verifying rpc connection: %w", err)
	}
	log.Printf("anchor-engine: connected to bitcoin node at height %d", blockCount)

	c := &Client{RPC: client, Config: cfg}

	if err := c.InitializeWallet(); err != nil {
		log.Printf("anchor-engine: wallet initialization warning: %v (funding/signing will fail)", err)
	}

	return c, nil
}

func (c *Client) Shutdown() {
	c.RPC.Shutdown()
	if c.WalletRPC != nil {
		c.WalletRPC.Shutdown()
	}
}

// --- wallet bootstrap ---

func (c *Client) CreateWallet(name string) error {
	params := []interface{}{name, false, false, "", false, false, true}
	rawParams := make([]json.RawMessage, len(params))
	for i, v := range params {
		marshaled, err := json.Marshal(v)
		if err != nil {
			return err
		}
		rawParams[i] = marshaled
	}
	_, err := c.RPC.RawRequest("createwallet", rawParams)
	return err
}

func (c *Client) LoadWallet(name string) error {
	_, err := c.RPC.LoadWallet(name)
	return err
}

func (c *Client) ListWallets() ([]string, error) {
	rawResp, err := c.RPC.RawRequest("listwallets", nil)
	if err != nil {
		return nil, err
	}
	var wallets []string
	if err := json.Unmarshal(rawResp, &wallets); err != nil {
		return nil, err
	}
	return wallets, nil
}

// InitializeWallet ensures the engine's signing wallet exists, is loaded,
// and has a dedicated RPC client pointed at its wallet-scoped endpoint.
func (c *Client) InitializeWallet() error {
	wallets, err := c.ListWallets()
	if err != nil {
		return fmt.Errorf("bitcoin: listing wallets: %w", err)
	}

	walletName := c.Config.walletName()
	loaded := false
	for _, w := range wallets {
		if w == walletName {
			loaded = true
			break
		}
	}
	if !loaded {
		if err := c.LoadWallet(walletName); err != nil {
			if err := c.CreateWallet(walletName); err != nil {
				return fmt.Errorf("bitcoin: creating wallet %s: %w", walletName, err)
			}
		}
	}

	walletConnCfg := &rpcclient.ConnConfig{
		Host:         c.Config.Host + "/wallet/" + walletName,
		User:         c.Config.User,
		Pass:         c.Config.Pass,
		HTTPPostMode: true,
		DisableTLS:   true,
	}
	walletClient, err := rpcclient.New(walletConnCfg, nil)
	if err != nil {
		return fmt.Errorf("bitcoin: connecting wallet rpc client: %w", err)
	}
	c.WalletRPC = walletClient
	return nil
}

// --- required RPC surface (spec §6) ---

func (c *Client) GetBlockChainInfo() (*btcjson.GetBlockChainInfoResult, error) {
	return c.RPC.GetBlockChainInfo()
}

func (c *Client) GetBlockCount() (int64, error) {
	return c.RPC.GetBlockCount()
}

func (c *Client) GetBlockHash(height int64) (*chainhash.Hash, error) {
	return c.RPC.GetBlockHash(height)
}

// GetRawBlock fetches and fully decodes the block at hash, including
// every transaction's witness data.
func (c *Client) GetRawBlock(hash *chainhash.Hash) (*wire.MsgBlock, error) {
	return c.RPC.GetBlock(hash)
}

// GetRawTransaction fetches and decodes a single transaction by id,
// independent of confirmation status (used both for confirmed-block
// ingestion cross-checks and mempool pending-transaction inspection).
func (c *Client) GetRawTransaction(txid *chainhash.Hash) (*wire.MsgTx, error) {
	tx, err := c.RPC.GetRawTransaction(txid)
	if err != nil {
		return nil, err
	}
	return tx.MsgTx(), nil
}

// GetRawMempool lists the txids currently sitting unconfirmed, for
// internal/mempool's pending-ANCHOR-tx detection pass.
func (c *Client) GetRawMempool() ([]*chainhash.Hash, error) {
	return c.RPC.GetRawMempool()
}

// FundRawTransaction asks the wallet to select funding inputs and a
// change output for an already-built unsigned transaction.
func (c *Client) FundRawTransaction(tx *wire.MsgTx, feeRateSatVB float64) (*wire.MsgTx, btcutil.Amount, error) {
	// Pin change to the end so funding never shifts the carrier output off
	// its deterministic vout.
	changePos := len(tx.TxOut)
	opts := btcjson.FundRawTransactionOpts{ChangePosition: &changePos}
	if feeRateSatVB > 0 {
		rateBTCPerKVb := feeRateSatVB / 100_000
		opts.FeeRate = &rateBTCPerKVb
	}

	client := c.walletOrMainClient()
	result, err := client.FundRawTransaction(tx, opts, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("bitcoin: fundrawtransaction: %w", err)
	}

	return result.Transaction, result.Fee, nil
}

// SignRawTransactionWithWallet signs every input the wallet can sign and
// reports whether the signature set is complete.
func (c *Client) SignRawTransactionWithWallet(tx *wire.MsgTx) (*wire.MsgTx, bool, error) {
	client := c.walletOrMainClient()
	signed, complete, err := client.SignRawTransactionWithWallet(tx)
	if err != nil {
		return nil, false, fmt.Errorf("bitcoin: signrawtransactionwithwallet: %w", err)
	}

	return signed, complete, nil
}

// SendRawTransaction broadcasts a fully signed transaction.
func (c *Client) SendRawTransaction(tx *wire.MsgTx) (*chainhash.Hash, error) {
	return c.RPC.SendRawTransaction(tx, false)
}

// ListUnspent returns spendable wallet UTXOs, optionally restricted to a
// set of addresses.
func (c *Client) ListUnspent(addresses []string) ([]btcjson.ListUnspentResult, error) {
	client := c.walletOrMainClient()
	if len(addresses) == 0 {
		return client.ListUnspentMin(0)
	}

	decoded := make([]btcutil.Address, 0, len(addresses))
	for _, addr := range addresses {
		a, err := btcutil.DecodeAddress(addr, c.Config.chainParams())
		if err != nil {
			return nil, fmt.Errorf("bitcoin: decoding address %s: %w", addr, err)
		}
		decoded = append(decoded, a)
	}
	return client.ListUnspentMinMaxAddresses(0, 9999999, decoded)
}

// GetNewAddress derives a fresh receiving address from the signing wallet.
func (c *Client) GetNewAddress() (btcutil.Address, error) {
	client := c.walletOrMainClient()
	return client.GetNewAddress("")
}

func (c *Client) walletOrMainClient() *rpcclient.Client {
	if c.WalletRPC != nil {
		return c.WalletRPC
	}
	return c.RPC
}

// --- fee estimation (non-mandatory convenience kept from the teacher) ---

func (c *Client) estimateSmartFeeByMode(confTarget int64, mode *btcjson.EstimateSmartFeeMode) (float64, error) {
	res, err := c.RPC.EstimateSmartFee(confTarget, mode)
	if err != nil {
		return 0, err
	}
	if res == nil || res.FeeRate == nil || !isFinitePositive(*res.FeeRate) {
		return 0, nil
	}
	return *res.FeeRate, nil
}

func (c *Client) getMempoolFeeFloorBTCPerKVb() (float64, error) {
	rawResp, err := c.RPC.RawRequest("getmempoolinfo", nil)
	if err != nil {
		return 0, err
	}
	var mempool struct {
		MempoolMinFee float64 `json:"mempoolminfee"`
		MinRelayTxFee float64 `json:"minrelaytxfee"`
	}
	if err := json.Unmarshal(rawResp, &mempool); err != nil {
		return 0, err
	}
	floor := mempool.MempoolMinFee
	if mempool.MinRelayTxFee > floor {
		floor = mempool.MinRelayTxFee
	}
	if !isFinitePositive(floor) {
		return 0, nil
	}
	return floor, nil
}

func isFinitePositive(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v > 0
}

func BTCPerKVbToSatPerVB(v float64) float64 {
	return v * 100_000
}

// EstimateSmartFee returns a BTC/kvB fee estimate with a fallback chain:
// conservative -> economical -> mempool floor.
func (c *Client) EstimateSmartFee(confTarget int64) (float64, error) {
	conservative := btcjson.EstimateModeConservative
	if fee, err := c.estimateSmartFeeByMode(confTarget, &conservative); err == nil && fee > 0 {
		return fee, nil
	}
	economical := btcjson.EstimateModeEconomical
	if fee, err := c.estimateSmartFeeByMode(confTarget, &economical); err == nil && fee > 0 {
		return fee, nil
	}
	return c.getMempoolFeeFloorBTCPerKVb()
}

func (c *Client) EstimateSmartFeeSatVB(confTarget int64) (float64, error) {
	feeBTCPerKVb, err := c.EstimateSmartFee(confTarget)
	if err != nil {
		return 0, err
	}
	return BTCPerKVbToSatPerVB(feeBTCPerKVb), nil
}

// TxidToHex is a small convenience matching the codec's internal-byte-order
// convention: it hex-encodes the hash bytes as stored, without the
// reversal to display order that chainhash.Hash.String() applies.
func TxidToHex(h chainhash.Hash) string {
	return hex.EncodeToString(h[:])
}
