package rpcclient

import (
	"testing"

	"github.com/btcsuite/btcd/btcjson"
)

func TestClassifyScriptType(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"pubkeyhash", "p2pkh"},
		{"scripthash", "p2sh"},
		{"witness_v0_keyhash", "p2wpkh"},
		{"witness_v0_scripthash", "p2wsh"},
		{"witness_v1_taproot", "p2tr"},
		{"nulldata", "nonstandard"},
		{"something-unheard-of", ""},
	}
	for _, c := range cases {
		got := classifyScriptType(c.in)
		if string(got) != c.want {
			t.Errorf("classifyScriptType(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestIsNotFound(t *testing.T) {
	notFound := &btcjson.RPCError{Code: btcjson.ErrRPCInvalidAddressOrKey, Message: "No such transaction"}
	if !isNotFound(notFound) {
		t.Fatal("expected isNotFound to recognize ErrRPCInvalidAddressOrKey")
	}

	other := &btcjson.RPCError{Code: btcjson.ErrRPCInternalError, Message: "boom"}
	if isNotFound(other) {
		t.Fatal("did not expect isNotFound to match an unrelated RPC error code")
	}

	if isNotFound(errPlain{"connection reset"}) {
		t.Fatal("did not expect isNotFound to match a non-RPCError")
	}
}

type errPlain struct{ msg string }

func (e errPlain) Error() string { return e.msg }

func TestConvertTxRawResult_CoinbaseInput(t *testing.T) {
	r := &btcjson.TxRawResult{
		Txid: "abc123",
		Vin: []btcjson.Vin{
			{Coinbase: "0123456789"},
		},
		Vout: []btcjson.Vout{
			{N: 0, Value: 6.25},
		},
	}
	tx := convertTxRawResult(r)
	if len(tx.Inputs) != 1 || !tx.Inputs[0].Coinbase {
		t.Fatalf("expected single coinbase input, got %+v", tx.Inputs)
	}
	if len(tx.Outputs) != 1 || tx.Outputs[0].Value != 625000000 {
		t.Fatalf("expected output value 625000000 sats, got %+v", tx.Outputs)
	}
}

func TestConvertTxRawResult_RegularInput(t *testing.T) {
	r := &btcjson.TxRawResult{
		Txid: "def456",
		Vin: []btcjson.Vin{
			{
				Txid:     "prev000",
				Vout:     2,
				Sequence: 0xffffffff,
				ScriptSig: &btcjson.ScriptSig{
					Hex: "deadbeef",
				},
			},
		},
	}
	tx := convertTxRawResult(r)
	if len(tx.Inputs) != 1 {
		t.Fatalf("expected one input, got %d", len(tx.Inputs))
	}
	in := tx.Inputs[0]
	if in.Coinbase || in.Txid != "prev000" || in.Vout != 2 || in.ScriptSig != "deadbeef" {
		t.Fatalf("unexpected input conversion: %+v", in)
	}
}
