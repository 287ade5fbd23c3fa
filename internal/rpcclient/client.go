// Package rpcclient wraps the Bitcoin full-node JSON-RPC surface the
// traversal engine needs: getblockchaininfo, getrawtransaction, gettxout
// and validateaddress. It is a thin adapter over
// github.com/btcsuite/btcd/rpcclient that decodes the node's btcjson
// results into this module's own models.
package rpcclient

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"

	"github.com/rawblock/utxo-provenance/pkg/models"
)

// Error wraps a failed node RPC call with the method that produced it and
// the underlying failure message. Transport failures and node-side
// rejections both surface as *Error; the calls in this file leave Code at
// zero.
type Error struct {
	Method  string
	Code    int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("node rpc %s: %s (code %d)", e.Method, e.Message, e.Code)
}

// Config holds the connection parameters for a single Bitcoin Core node.
type Config struct {
	Host string
	User string
	Pass string
}

// Client is a connection to one Bitcoin Core node, reached over HTTP POST
// JSON-RPC 1.0 with Basic authentication.
type Client struct {
	rpc    *rpcclient.Client
	params *chaincfg.Params
}

// New dials the node and verifies the connection with getblockchaininfo.
func New(cfg Config, params *chaincfg.Params) (*Client, error) {
	connCfg := &rpcclient.ConnConfig{
		Host:         cfg.Host,
		User:         cfg.User,
		Pass:         cfg.Pass,
		HTTPPostMode: true,
		DisableTLS:   true,
	}

	log.Printf("rpcclient: connecting to node at %s", cfg.Host)
	rc, err := rpcclient.New(connCfg, nil)
	if err != nil {
		return nil, fmt.Errorf("rpcclient: dial: %w", err)
	}

	c := &Client{rpc: rc, params: params}
	if _, err := c.GetBlockchainInfo(); err != nil {
		rc.Shutdown()
		return nil, fmt.Errorf("rpcclient: verifying connection: %w", err)
	}
	log.Println("rpcclient: node connection verified")
	return c, nil
}

// Shutdown releases the underlying HTTP client.
func (c *Client) Shutdown() {
	c.rpc.Shutdown()
}

// GetBlockchainInfo returns the node's chain/sync state.
func (c *Client) GetBlockchainInfo() (*btcjson.GetBlockChainInfoResult, error) {
	info, err := c.rpc.GetBlockChainInfo()
	if err != nil {
		return nil, &Error{Method: "getblockchaininfo", Message: err.Error()}
	}
	return info, nil
}

// GetRawTransaction fetches and decodes a transaction by txid. It returns
// (nil, nil) — not an error — when the node reports the transaction is not
// indexed or mempool-resident, matching the "missing result" contract the
// traversal engine relies on. It also defensively treats a raw hex-string
// response (verbose mode not honoured by the node) as a missing result,
// rather than trying to interpret it as a decoded transaction.
func (c *Client) GetRawTransaction(txid string) (*models.Transaction, error) {
	if _, err := chainhash.NewHashFromStr(txid); err != nil {
		return nil, fmt.Errorf("rpcclient: invalid txid %q: %w", txid, err)
	}

	raw, err := c.rpc.RawRequest("getrawtransaction", []json.RawMessage{
		mustMarshal(txid), mustMarshal(true),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, &Error{Method: "getrawtransaction", Message: err.Error()}
	}

	// A hex-string payload means the node ignored verbose=true; treat as
	// not found rather than attempting to parse it as a decoded object.
	var probe string
	if json.Unmarshal(raw, &probe) == nil {
		return nil, nil
	}

	var result btcjson.TxRawResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("rpcclient: decoding getrawtransaction result: %w", err)
	}
	return convertTxRawResult(&result), nil
}

// GetRawMempool returns the txids currently sitting in the node's mempool,
// for callers that poll it to pick up unconfirmed transactions.
func (c *Client) GetRawMempool() ([]string, error) {
	hashes, err := c.rpc.GetRawMempool()
	if err != nil {
		return nil, &Error{Method: "getrawmempool", Message: err.Error()}
	}
	txids := make([]string, len(hashes))
	for i, h := range hashes {
		txids[i] = h.String()
	}
	return txids, nil
}

// GetTxOut reports the unspent-output descriptor for (txid, vout),
// including mempool-resident outputs. Returns (nil, nil) when the output
// is spent or unknown.
func (c *Client) GetTxOut(txid string, vout uint32) (*models.UTXODescriptor, error) {
	hash, err := chainhash.NewHashFromStr(txid)
	if err != nil {
		return nil, fmt.Errorf("rpcclient: invalid txid %q: %w", txid, err)
	}

	result, err := c.rpc.GetTxOut(hash, vout, true)
	if err != nil {
		return nil, &Error{Method: "gettxout", Message: err.Error()}
	}
	if result == nil {
		return nil, nil
	}

	desc := &models.UTXODescriptor{
		Txid:          txid,
		Vout:          vout,
		Confirmations: result.Confirmations,
		Coinbase:      result.Coinbase,
	}
	amt, err := btcutil.NewAmount(result.Value)
	if err == nil {
		desc.Value = int64(amt)
	}
	if len(result.ScriptPubKey.Addresses) > 0 {
		desc.Address = result.ScriptPubKey.Addresses[0]
	}
	desc.ScriptType = classifyScriptType(result.ScriptPubKey.Type)
	return desc, nil
}

// ValidateAddress asks the node whether addr is a well-formed address for
// its configured network.
func (c *Client) ValidateAddress(addr string) (*btcjson.ValidateAddressResult, error) {
	decoded, err := btcutil.DecodeAddress(addr, c.params)
	if err != nil {
		return &btcjson.ValidateAddressResult{IsValid: false}, nil
	}
	result, err := c.rpc.ValidateAddress(decoded)
	if err != nil {
		return nil, &Error{Method: "validateaddress", Message: err.Error()}
	}
	return result, nil
}

func mustMarshal(v interface{}) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

// isNotFound recognizes the node's "No such mempool or blockchain
// transaction" error, which means "not indexed" rather than a transport
// failure.
func isNotFound(err error) bool {
	rpcErr, ok := err.(*btcjson.RPCError)
	if !ok {
		return false
	}
	return rpcErr.Code == btcjson.ErrRPCInvalidAddressOrKey
}

func convertTxRawResult(r *btcjson.TxRawResult) *models.Transaction {
	tx := &models.Transaction{
		Txid:      r.Txid,
		Version:   int32(r.Version),
		LockTime:  r.LockTime,
		BlockTime: r.Blocktime,
		Confirmed: r.Confirmations > 0,
		Vsize:     int(r.Vsize),
		Weight:    int(r.Weight),
	}

	for _, in := range r.Vin {
		if in.IsCoinBase() {
			tx.Inputs = append(tx.Inputs, models.TxIn{Coinbase: true})
			continue
		}
		scriptSigHex := ""
		if in.ScriptSig != nil {
			scriptSigHex = in.ScriptSig.Hex
		}
		tx.Inputs = append(tx.Inputs, models.TxIn{
			Txid:      in.Txid,
			Vout:      in.Vout,
			Sequence:  in.Sequence,
			ScriptSig: scriptSigHex,
		})
	}

	for _, out := range r.Vout {
		amt, err := btcutil.NewAmount(out.Value)
		sats := int64(0)
		if err == nil {
			sats = int64(amt)
		}
		addr := ""
		if len(out.ScriptPubKey.Addresses) > 0 {
			addr = out.ScriptPubKey.Addresses[0]
		}
		tx.Outputs = append(tx.Outputs, models.TxOut{
			Vout:         out.N,
			Value:        sats,
			Address:      addr,
			ScriptType:   classifyScriptType(out.ScriptPubKey.Type),
			ScriptPubKey: out.ScriptPubKey.Hex,
		})
	}

	return tx
}

func classifyScriptType(nodeType string) models.ScriptType {
	switch nodeType {
	case "pubkeyhash":
		return models.ScriptP2PKH
	case "scripthash":
		return models.ScriptP2SH
	case "witness_v0_keyhash":
		return models.ScriptP2WPKH
	case "witness_v0_scripthash":
		return models.ScriptP2WSH
	case "witness_v1_taproot":
		return models.ScriptP2TR
	case "nonstandard", "nulldata", "multisig":
		return models.ScriptNonStd
	default:
		return models.ScriptUnknown
	}
}
