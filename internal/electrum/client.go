// Package electrum talks to a single Electrum/Fulcrum/electrs server over
// one newline-delimited JSON-RPC TCP connection. Unlike a node, an Electrum
// server can answer "what spent this output" without full-chain indexing,
// via scripthash history — the traversal engine depends on this to walk
// forward through spends.
package electrum

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

const (
	connectTimeout   = 10 * time.Second
	requestTimeout   = 60 * time.Second
	maxRetries       = 3
	readBufferLimit  = 16 * 1024 * 1024 // 16 MiB, to tolerate large scripthash histories
)

// Client maintains a single serialized connection to one Electrum server.
type Client struct {
	addr   string
	useTLS bool

	mu        sync.Mutex
	conn      net.Conn
	reader    *bufio.Reader
	connected bool
	nextID    atomic.Uint64
}

// New creates a client for the given "host:port" server. The connection is
// established lazily on the first call.
func New(addr string, useTLS bool) *Client {
	return &Client{addr: addr, useTLS: useTLS}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

// connectLocked dials the server. Caller must hold mu.
func (c *Client) connectLocked(ctx context.Context) error {
	if c.connected {
		return nil
	}
	dialer := &net.Dialer{Timeout: connectTimeout}

	var conn net.Conn
	var err error
	if c.useTLS {
		d, dialErr := dialer.DialContext(ctx, "tcp", c.addr)
		if dialErr != nil {
			return dialErr
		}
		conn = tls.Client(d, &tls.Config{MinVersion: tls.VersionTLS12, ServerName: hostOnly(c.addr)})
		if err = conn.(*tls.Conn).HandshakeContext(ctx); err != nil {
			conn.Close()
			return err
		}
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", c.addr)
		if err != nil {
			return err
		}
	}

	c.conn = conn
	reader := bufio.NewReaderSize(conn, readBufferLimit)
	c.reader = reader
	c.connected = true
	return nil
}

func hostOnly(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

// closeLocked tears down the connection so the next call reconnects.
// Caller must hold mu.
func (c *Client) closeLocked() {
	if c.conn != nil {
		c.conn.Close()
	}
	c.conn = nil
	c.reader = nil
	c.connected = false
}

// Close shuts down the connection, if any.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

// call sends one JSON-RPC request and waits for its response, retrying up
// to maxRetries times with linear backoff on transport failure. Only one
// call may be in flight at a time; mu enforces this.
func (c *Client) call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if err := c.connectLocked(ctx); err != nil {
			lastErr = err
			c.closeLocked()
			sleepBackoff(ctx, attempt)
			continue
		}

		result, err := c.doCallLocked(method, params)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if _, ok := err.(*rpcErrorResult); ok {
			// The server answered with a JSON-RPC error: the connection
			// itself is fine, no point retrying or reconnecting.
			return nil, err
		}
		c.closeLocked()
		sleepBackoff(ctx, attempt)
	}
	return nil, fmt.Errorf("electrum: %s failed after %d attempts: %w", method, maxRetries, lastErr)
}

func sleepBackoff(ctx context.Context, attempt int) {
	select {
	case <-time.After(time.Duration(attempt) * time.Second):
	case <-ctx.Done():
	}
}

type rpcErrorResult struct {
	Code    int
	Message string
}

func (e *rpcErrorResult) Error() string {
	return fmt.Sprintf("electrum error %d: %s", e.Code, e.Message)
}

// doCallLocked writes one request and reads its response. Caller must hold
// mu and have a live connection.
func (c *Client) doCallLocked(method string, params []interface{}) (json.RawMessage, error) {
	id := c.nextID.Add(1)
	req := rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("electrum: encoding request: %w", err)
	}

	c.conn.SetDeadline(time.Now().Add(requestTimeout))
	if _, err := c.conn.Write(append(data, '\n')); err != nil {
		return nil, fmt.Errorf("electrum: writing request: %w", err)
	}

	for {
		line, err := c.reader.ReadBytes('\n')
		if err != nil {
			return nil, fmt.Errorf("electrum: reading response: %w", err)
		}

		var resp rpcResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			return nil, fmt.Errorf("electrum: decoding response: %w", err)
		}
		if resp.ID != id {
			// A server-pushed notification (no id) is not the answer to
			// this request; skip it and keep reading.
			continue
		}
		if resp.Error != nil {
			return nil, &rpcErrorResult{Code: resp.Error.Code, Message: resp.Error.Message}
		}
		return resp.Result, nil
	}
}

// Ping sends server.ping.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.call(ctx, "server.ping", nil)
	return err
}

// ServerVersion sends server.version with this client's identity.
func (c *Client) ServerVersion(ctx context.Context, clientName, protocolVersion string) (string, error) {
	raw, err := c.call(ctx, "server.version", []interface{}{clientName, protocolVersion})
	if err != nil {
		return "", err
	}
	var pair []string
	if err := json.Unmarshal(raw, &pair); err != nil || len(pair) == 0 {
		return "", nil
	}
	return pair[0], nil
}

// Balance is the confirmed/unconfirmed satoshi balance of a scripthash.
type Balance struct {
	Confirmed   int64 `json:"confirmed"`
	Unconfirmed int64 `json:"unconfirmed"`
}

// GetBalance calls blockchain.scripthash.get_balance.
func (c *Client) GetBalance(ctx context.Context, scripthash string) (*Balance, error) {
	raw, err := c.call(ctx, "blockchain.scripthash.get_balance", []interface{}{scripthash})
	if err != nil {
		return nil, err
	}
	var bal Balance
	if err := json.Unmarshal(raw, &bal); err != nil {
		return nil, fmt.Errorf("electrum: decoding balance: %w", err)
	}
	return &bal, nil
}

// HistoryEntry is one entry of blockchain.scripthash.get_history.
type HistoryEntry struct {
	TxHash string `json:"tx_hash"`
	Height int64  `json:"height"`
}

// GetHistory calls blockchain.scripthash.get_history.
func (c *Client) GetHistory(ctx context.Context, scripthash string) ([]HistoryEntry, error) {
	raw, err := c.call(ctx, "blockchain.scripthash.get_history", []interface{}{scripthash})
	if err != nil {
		return nil, err
	}
	var history []HistoryEntry
	if err := json.Unmarshal(raw, &history); err != nil {
		return nil, fmt.Errorf("electrum: decoding history: %w", err)
	}
	return history, nil
}

// UnspentEntry is one entry of blockchain.scripthash.listunspent.
type UnspentEntry struct {
	TxHash string `json:"tx_hash"`
	TxPos  int    `json:"tx_pos"`
	Value  int64  `json:"value"`
	Height int64  `json:"height"`
}

// ListUnspent calls blockchain.scripthash.listunspent.
func (c *Client) ListUnspent(ctx context.Context, scripthash string) ([]UnspentEntry, error) {
	raw, err := c.call(ctx, "blockchain.scripthash.listunspent", []interface{}{scripthash})
	if err != nil {
		return nil, err
	}
	var unspent []UnspentEntry
	if err := json.Unmarshal(raw, &unspent); err != nil {
		return nil, fmt.Errorf("electrum: decoding unspent list: %w", err)
	}
	return unspent, nil
}

// DecodedVin is one input of a blockchain.transaction.get verbose result.
type DecodedVin struct {
	Txid     string `json:"txid"`
	Vout     uint32 `json:"vout"`
	Coinbase string `json:"coinbase"`
}

// DecodedVoutScriptPubKey mirrors the node's scriptPubKey shape closely
// enough to extract an address and type.
type DecodedVoutScriptPubKey struct {
	Addresses []string `json:"addresses"`
	Address   string   `json:"address"`
	Type      string   `json:"type"`
	Hex       string   `json:"hex"`
}

// DecodedVout is one output of a blockchain.transaction.get verbose result.
type DecodedVout struct {
	N            uint32                  `json:"n"`
	Value        float64                 `json:"value"`
	ScriptPubKey DecodedVoutScriptPubKey `json:"scriptPubKey"`
}

// DecodedTransaction is the verbose shape returned by
// blockchain.transaction.get. A server that ignores verbose=true returns a
// hex string instead, which GetTransaction below treats as "not found".
type DecodedTransaction struct {
	Txid          string        `json:"txid"`
	Version       int32         `json:"version"`
	LockTime      uint32        `json:"locktime"`
	Vin           []DecodedVin  `json:"vin"`
	Vout          []DecodedVout `json:"vout"`
	Confirmations int64         `json:"confirmations"`
	Blocktime     int64         `json:"blocktime"`
}

// GetTransaction calls blockchain.transaction.get(txid, verbose=true). It
// returns (nil, nil) — not an error — if the server answers with a hex
// string, since that means verbose mode was not honoured and the
// transaction must be treated as not found by this server.
func (c *Client) GetTransaction(ctx context.Context, txid string) (*DecodedTransaction, error) {
	raw, err := c.call(ctx, "blockchain.transaction.get", []interface{}{txid, true})
	if err != nil {
		return nil, err
	}

	var probe string
	if json.Unmarshal(raw, &probe) == nil {
		return nil, nil
	}

	var tx DecodedTransaction
	if err := json.Unmarshal(raw, &tx); err != nil {
		return nil, fmt.Errorf("electrum: decoding transaction: %w", err)
	}
	return &tx, nil
}

// GetTipHeight calls blockchain.headers.subscribe once and reports the
// current chain tip height. Any subsequent server-pushed notifications on
// this connection are discarded by the line-oriented reader the next time
// a call is made — this client does not run a separate notification loop.
func (c *Client) GetTipHeight(ctx context.Context) (int64, error) {
	raw, err := c.call(ctx, "blockchain.headers.subscribe", nil)
	if err != nil {
		return 0, err
	}
	var header struct {
		Height int64 `json:"height"`
	}
	if err := json.Unmarshal(raw, &header); err != nil {
		return 0, fmt.Errorf("electrum: decoding tip header: %w", err)
	}
	return header.Height, nil
}

// FindSpendingTx implements the find_spending_tx algorithm: given the
// output (txid, vout), it determines which transaction consumed it by
// walking the scripthash history of the output's own address. There is no
// node RPC that answers this directly without a full UTXO/tx index; this
// is the reason a traversal engine needs an Electrum backend at all.
func (c *Client) FindSpendingTx(ctx context.Context, txid string, vout uint32, scripthash string) (string, int, error) {
	history, err := c.GetHistory(ctx, scripthash)
	if err != nil {
		return "", 0, err
	}

	for _, entry := range history {
		if entry.TxHash == txid {
			continue
		}
		candidate, err := c.GetTransaction(ctx, entry.TxHash)
		if err != nil || candidate == nil {
			continue
		}
		for vin, in := range candidate.Vin {
			if in.Txid == txid && in.Vout == vout {
				return candidate.Txid, vin, nil
			}
		}
	}
	return "", 0, nil
}
