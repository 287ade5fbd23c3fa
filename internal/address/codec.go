// Package address decodes Bitcoin addresses into scriptPubKeys and derives
// the Electrum scripthash used to query an electrs/ElectrumX backend. Every
// function here is pure: no I/O, no package-level state.
package address

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

// Type is the scriptPubKey shape a decoded address maps to.
type Type string

const (
	TypeP2PKH   Type = "p2pkh"
	TypeP2SH    Type = "p2sh"
	TypeP2WPKH  Type = "p2wpkh"
	TypeP2WSH   Type = "p2wsh"
	TypeP2TR    Type = "p2tr"
	TypeUnknown Type = ""
)

// Params returns the chaincfg network parameters for mainnet/testnet/regtest,
// defaulting to mainnet for any unrecognized name.
func Params(network string) *chaincfg.Params {
	switch network {
	case "testnet", "testnet3":
		return &chaincfg.TestNet3Params
	case "regtest":
		return &chaincfg.RegressionNetParams
	case "signet":
		return &chaincfg.SigNetParams
	default:
		return &chaincfg.MainNetParams
	}
}

// witnessOpcode returns the script opcode for a segwit witness version,
// following BIP141/BIP350: version 0 is OP_0, versions 1-16 are OP_1..OP_16
// (0x51-0x60).
func witnessOpcode(version byte) byte {
	if version == 0 {
		return txscript.OP_0
	}
	return txscript.OP_1 + (version - 1)
}

// ToScriptPubKey decodes addr under the given network parameters and
// returns its scriptPubKey and classified type. Base58Check addresses
// (P2PKH, P2SH) are decoded through btcutil, which verifies the embedded
// double-SHA256 checksum and version byte. Bech32/Bech32m addresses are
// decoded by hand so the witness-version/checksum-variant pairing required
// by BIP350 can be enforced explicitly: a v0 program must carry a plain
// Bech32 checksum and a v1+ program must carry a Bech32m checksum.
func ToScriptPubKey(addr string, params *chaincfg.Params) ([]byte, Type, error) {
	if params.Bech32HRPSegwit != "" {
		hrp, data, version, err := bech32.DecodeGeneric(addr)
		if err == nil && hrp == params.Bech32HRPSegwit {
			if len(data) == 0 {
				return nil, TypeUnknown, fmt.Errorf("address: empty bech32 data part")
			}
			witVer := data[0]
			program, convErr := bech32.ConvertBits(data[1:], 5, 8, false)
			if convErr != nil {
				return nil, TypeUnknown, fmt.Errorf("address: bad witness program: %w", convErr)
			}
			if len(program) < 2 || len(program) > 40 {
				return nil, TypeUnknown, fmt.Errorf("address: witness program length %d out of range", len(program))
			}
			if witVer == 0 {
				if version != bech32.VersionZero {
					return nil, TypeUnknown, fmt.Errorf("address: segwit v0 program must use bech32 checksum, not bech32m")
				}
				if len(program) != 20 && len(program) != 32 {
					return nil, TypeUnknown, fmt.Errorf("address: segwit v0 program must be 20 or 32 bytes, got %d", len(program))
				}
			} else {
				if version != bech32.VersionM {
					return nil, TypeUnknown, fmt.Errorf("address: segwit v%d program must use bech32m checksum", witVer)
				}
				if witVer > 16 {
					return nil, TypeUnknown, fmt.Errorf("address: witness version %d out of range", witVer)
				}
			}

			script := make([]byte, 0, len(program)+2)
			script = append(script, witnessOpcode(witVer), byte(len(program)))
			script = append(script, program...)

			switch {
			case witVer == 0 && len(program) == 20:
				return script, TypeP2WPKH, nil
			case witVer == 0 && len(program) == 32:
				return script, TypeP2WSH, nil
			case witVer == 1 && len(program) == 32:
				return script, TypeP2TR, nil
			default:
				return script, TypeUnknown, nil
			}
		}
	}

	decoded, err := btcutil.DecodeAddress(addr, params)
	if err != nil {
		return nil, TypeUnknown, fmt.Errorf("address: %w", err)
	}
	if !decoded.IsForNet(params) {
		return nil, TypeUnknown, fmt.Errorf("address: %s is not valid for this network", addr)
	}
	script, err := txscript.PayToAddrScript(decoded)
	if err != nil {
		return nil, TypeUnknown, fmt.Errorf("address: building scriptPubKey: %w", err)
	}

	switch decoded.(type) {
	case *btcutil.AddressPubKeyHash:
		return script, TypeP2PKH, nil
	case *btcutil.AddressScriptHash:
		return script, TypeP2SH, nil
	default:
		return script, TypeUnknown, nil
	}
}

// Scripthash returns the Electrum/electrs scripthash for a scriptPubKey:
// the reversed, hex-encoded SHA-256 digest of the script bytes.
func Scripthash(scriptPubKey []byte) string {
	sum := sha256.Sum256(scriptPubKey)
	reversed := make([]byte, len(sum))
	for i, b := range sum {
		reversed[len(sum)-1-i] = b
	}
	return hex.EncodeToString(reversed)
}

// AddressToScripthash decodes addr and returns its Electrum scripthash in
// one step.
func AddressToScripthash(addr string, params *chaincfg.Params) (string, error) {
	script, _, err := ToScriptPubKey(addr, params)
	if err != nil {
		return "", err
	}
	return Scripthash(script), nil
}
