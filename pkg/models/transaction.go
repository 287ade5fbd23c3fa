// Package models holds the shared data types that flow between the node
// RPC client, the Electrum client, the traversal engine, the KYC analyser
// and the HTTP API. Everything here is a plain value type — no behavior
// beyond small derived-field helpers.
package models

// TxIn is one input of a decoded Bitcoin transaction.
type TxIn struct {
	Txid      string `json:"txid"`
	Vout      uint32 `json:"vout"`
	Coinbase  bool   `json:"coinbase"`
	Value     int64  `json:"value"` // satoshis; 0 if the prevout value is unknown
	Address   string `json:"address,omitempty"`
	ScriptSig string `json:"scriptSig,omitempty"`
	Sequence  uint32 `json:"sequence"`
}

// ScriptType mirrors the scriptPubKey classifications the node RPC and
// Electrum both surface.
type ScriptType string

const (
	ScriptP2PKH    ScriptType = "p2pkh"
	ScriptP2SH     ScriptType = "p2sh"
	ScriptP2WPKH   ScriptType = "p2wpkh"
	ScriptP2WSH    ScriptType = "p2wsh"
	ScriptP2TR     ScriptType = "p2tr"
	ScriptNonStd   ScriptType = "nonstandard"
	ScriptUnknown  ScriptType = ""
)

// TxOut is one output of a decoded Bitcoin transaction.
type TxOut struct {
	Vout         uint32     `json:"vout"`
	Value        int64      `json:"value"` // satoshis
	Address      string     `json:"address,omitempty"`
	ScriptType   ScriptType `json:"scriptType,omitempty"`
	ScriptPubKey string     `json:"scriptPubKey,omitempty"`
}

// ValueBTC is the presentation-only float view of a satoshi amount.
// All monetary math in this repository is done in integer satoshis;
// this helper exists only for rendering.
func ValueBTC(sats int64) float64 {
	return float64(sats) / 1e8
}

// Transaction is a decoded Bitcoin transaction as returned by either the
// node RPC (getrawtransaction verbose=true) or the Electrum client
// (blockchain.transaction.get verbose=true).
type Transaction struct {
	Txid        string  `json:"txid"`
	Inputs      []TxIn  `json:"inputs"`
	Outputs     []TxOut `json:"outputs"`
	Fee         int64   `json:"fee,omitempty"` // satoshis, 0 when prevout values are unknown
	Weight      int     `json:"weight,omitempty"`
	Vsize       int     `json:"vsize,omitempty"`
	Version     int32   `json:"version,omitempty"`
	LockTime    uint32  `json:"locktime,omitempty"`
	BlockHeight int     `json:"blockHeight,omitempty"`
	BlockTime   int64   `json:"blockTime,omitempty"` // unix seconds, 0 for mempool
	Confirmed   bool    `json:"confirmed"`
}

// UTXOStatus is the observable lifecycle state of a (txid, vout) pair.
type UTXOStatus string

const (
	StatusUnspent UTXOStatus = "unspent"
	StatusSpent   UTXOStatus = "spent"
	StatusCoinbase UTXOStatus = "coinbase"
	StatusUnknown UTXOStatus = "unknown"
)

// UTXODescriptor is the decoded form of a node `gettxout` response.
type UTXODescriptor struct {
	Txid          string     `json:"txid"`
	Vout          uint32     `json:"vout"`
	Value         int64      `json:"value"`
	Address       string     `json:"address,omitempty"`
	ScriptType    ScriptType `json:"scriptType,omitempty"`
	Confirmations int64      `json:"confirmations"`
	Coinbase      bool       `json:"coinbase"`
}
