// Copyright (c) 2024 go-vaults developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package scriptbuild implements the parameterizer (spec.md §4.3): it
// substitutes keys, key-hashes, and integer-encoded relative timelocks
// into a script template to produce the final scriptPubKey, redeem
// script, and address for a planned output.
package scriptbuild

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"

	"github.com/kanzure/go-vaults/parameters"
	"github.com/kanzure/go-vaults/scripttemplate"
	"github.com/kanzure/go-vaults/vaultplan"
	"github.com/kanzure/go-vaults/vaulterrors"
)

// opcodes is the canonical name->byte table for the handful of opcodes
// the script-template catalogue actually uses. It is local rather than a
// dependency on an exported txscript name table, but every value is
// txscript's own real opcode byte constant.
var opcodes = map[string]byte{
	"OP_0":                   txscript.OP_0,
	"OP_1":                   txscript.OP_1,
	"OP_IF":                  txscript.OP_IF,
	"OP_NOTIF":               txscript.OP_NOTIF,
	"OP_ELSE":                txscript.OP_ELSE,
	"OP_ENDIF":               txscript.OP_ENDIF,
	"OP_DUP":                 txscript.OP_DUP,
	"OP_DROP":                txscript.OP_DROP,
	"OP_2DROP":               txscript.OP_2DROP,
	"OP_ROLL":                txscript.OP_ROLL,
	"OP_HASH160":             txscript.OP_HASH160,
	"OP_EQUALVERIFY":         txscript.OP_EQUALVERIFY,
	"OP_CHECKSIG":            txscript.OP_CHECKSIG,
	"OP_CHECKSIGVERIFY":      txscript.OP_CHECKSIGVERIFY,
	"OP_CHECKSEQUENCEVERIFY": txscript.OP_CHECKSEQUENCEVERIFY,
	// BIP-119 defines OP_CHECKTEMPLATEVERIFY as a redefinition of the
	// formerly-NOP OP_NOP4.
	"OP_NOP4":                txscript.OP_NOP4,
	"OP_CHECKTEMPLATEVERIFY": txscript.OP_NOP4,
}

// EncodeScriptNum returns Bitcoin's minimally-encoded CScriptNum byte
// representation of n. n must be non-negative; every timelock value this
// package encodes is.
func EncodeScriptNum(n int64) []byte {
	if n == 0 {
		return nil
	}
	if n < 0 {
		panic("EncodeScriptNum: negative values are never used for timelocks")
	}
	var result []byte
	abs := n
	for abs > 0 {
		result = append(result, byte(abs&0xff))
		abs >>= 8
	}
	if result[len(result)-1]&0x80 != 0 {
		result = append(result, 0x00)
	}
	return result
}

// tokenize splits a script template on whitespace, normalising runs of
// newlines/spaces the way spec.md §4.3 requires ("whitespace is
// normalised").
func tokenize(script string) []string {
	return strings.Fields(script)
}

// resolvePlaceholder substitutes a single "<name>" token with the bytes
// that should be pushed onto the stack for it.
func resolvePlaceholder(name string, tmpl *scripttemplate.Template, output *vaultplan.Output, bag *parameters.Bag) ([]byte, error) {
	if tmpl.RelativeTimelocks != nil {
		if base, ok := tmpl.RelativeTimelocks.Replacements[name]; ok {
			value := base * output.TimelockMultiplier
			if value > vaultplan.MaxRelativeTimelock {
				return nil, fmt.Errorf("relative timelock %d exceeds %d: %w", value, vaultplan.MaxRelativeTimelock, vaulterrors.ErrTimelockOverflow)
			}
			return EncodeScriptNum(value), nil
		}
	}
	if strings.HasSuffix(name, "_hash160") {
		return bag.Hash160For(name, output.UUID)
	}
	return bag.PublicKeyFor(name, output.UUID)
}

// buildScript assembles tmpl.ScriptTemplate into a raw script, with every
// "<name>" token resolved via bag and every "OP_*" token looked up in the
// local opcode table. A residual, unresolvable "<name>" is reported as
// vaulterrors.ErrUnresolvedPlaceholder.
func buildScript(tmpl *scripttemplate.Template, output *vaultplan.Output, bag *parameters.Bag) ([]byte, error) {
	builder := txscript.NewScriptBuilder()
	for _, tok := range tokenize(tmpl.ScriptTemplate) {
		switch {
		case strings.HasPrefix(tok, "<") && strings.HasSuffix(tok, ">"):
			name := tok[1 : len(tok)-1]
			data, err := resolvePlaceholder(name, tmpl, output, bag)
			if err != nil {
				return nil, fmt.Errorf("resolving placeholder %q: %w", name, err)
			}
			// A zero timelock encodes to no bytes; AddData pushes it as
			// OP_0, the minimal encoding of 0.
			builder.AddData(data)
		case strings.HasPrefix(tok, "OP_"):
			op, ok := opcodes[tok]
			if !ok {
				return nil, fmt.Errorf("unknown opcode %q: %w", tok, vaulterrors.ErrInvalidPlan)
			}
			builder.AddOp(op)
		default:
			return nil, fmt.Errorf("unrecognised script token %q: %w", tok, vaulterrors.ErrUnresolvedPlaceholder)
		}
	}
	return builder.Script()
}

// ParameterizeOutput writes output's ScriptPubKey, RedeemScript (empty for
// the P2WPKH UserScript case), and Address fields, deriving them from its
// script template and the supplied key/timelock parameter bag.
func ParameterizeOutput(output *vaultplan.Output, bag *parameters.Bag, net *chaincfg.Params) error {
	tmpl := scripttemplate.Get(output.TemplateKind)
	if tmpl == nil {
		return fmt.Errorf("output %s has unknown template kind %v: %w", output.UUID, output.TemplateKind, vaulterrors.ErrInvalidPlan)
	}

	if output.TemplateKind == scripttemplate.UserScript {
		hash, err := bag.Hash160For("user_key_hash160", output.UUID)
		if err != nil {
			return err
		}
		addr, err := btcutil.NewAddressWitnessPubKeyHash(hash, net)
		if err != nil {
			return fmt.Errorf("encoding P2WPKH address: %w", err)
		}
		spk, err := txscript.PayToAddrScript(addr)
		if err != nil {
			return fmt.Errorf("building P2WPKH scriptPubKey: %w", err)
		}
		output.ScriptPubKey = spk
		output.RedeemScript = nil
		output.Address = addr.EncodeAddress()
		output.Finalized = true
		return nil
	}

	if output.TemplateKind == scripttemplate.ColdStorage || output.TemplateKind == scripttemplate.Shard {
		if _, err := bag.GenerateEphemeral(output.UUID); err != nil {
			return err
		}
	} else if output.TemplateKind == scripttemplate.BasicPresigned {
		if _, err := bag.GenerateEphemeral(output.UUID); err != nil {
			return err
		}
	}

	redeem, err := buildScript(tmpl, output, bag)
	if err != nil {
		return fmt.Errorf("output %s: %w", output.UUID, err)
	}

	hash := sha256.Sum256(redeem)
	addr, err := btcutil.NewAddressWitnessScriptHash(hash[:], net)
	if err != nil {
		return fmt.Errorf("encoding P2WSH address: %w", err)
	}
	spk, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return fmt.Errorf("building P2WSH scriptPubKey: %w", err)
	}

	output.RedeemScript = redeem
	output.ScriptPubKey = spk
	output.Address = addr.EncodeAddress()
	output.Finalized = true
	return nil
}

// ParameterizeTree parameterizes every output in outputs (pass A of the
// pre-sign engine, spec.md §4.4); it does not follow children: the
// order doesn't matter since outputs don't depend on each other, only on
// the parameter bag.
func ParameterizeTree(outputs []*vaultplan.Output, bag *parameters.Bag, net *chaincfg.Params) error {
	for _, o := range outputs {
		if err := ParameterizeOutput(o, bag, net); err != nil {
			return err
		}
	}
	return nil
}
