// Copyright (c) 2024 go-vaults developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package presign implements the pre-sign engine (spec.md §4.4): the
// two-pass signer that turns a parameterized plan tree into concrete,
// witness-bearing bitcoin transactions.
package presign

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btclog"

	"github.com/kanzure/go-vaults/parameters"
	"github.com/kanzure/go-vaults/scriptbuild"
	"github.com/kanzure/go-vaults/scripttemplate"
	"github.com/kanzure/go-vaults/vaultplan"
	"github.com/kanzure/go-vaults/vaulterrors"
)

var log = btclog.Disabled

// UseLogger directs package presign's logging output to logger.
func UseLogger(logger btclog.Logger) {
	log = logger
}

// SignTree runs both pre-sign passes over every transaction the builder
// has constructed: pass A parameterizes every output's script, and pass B
// builds and signs every transaction in ascending id order, which by
// construction is parent-before-child order (spec.md §4.4, "Signing order
// guarantee").
func SignTree(b *vaultplan.Builder, bag *parameters.Bag, net *chaincfg.Params) error {
	allOutputs := collectOutputs(b)
	if err := scriptbuild.ParameterizeTree(allOutputs, bag, net); err != nil {
		return fmt.Errorf("parameterizing outputs: %w", err)
	}
	for _, tx := range b.Transactions {
		if err := signTransaction(tx, bag); err != nil {
			return fmt.Errorf("signing transaction %s (id %d): %w", tx.UUID, tx.ID, err)
		}
	}
	log.Debugf("pre-signed %d transactions", len(b.Transactions))
	return nil
}

func collectOutputs(b *vaultplan.Builder) []*vaultplan.Output {
	var outputs []*vaultplan.Output
	for _, tx := range b.Transactions {
		for _, in := range tx.Inputs {
			if in.UTXO.Owner.IsFunding {
				outputs = append(outputs, in.UTXO)
			}
		}
		outputs = append(outputs, tx.Outputs...)
	}
	return outputs
}

// signTransaction builds tx's concrete wire.MsgTx and attaches every
// input's witness. It is idempotent: a transaction already marked
// IsFinalized is left untouched (spec.md §8, "Idempotence").
func signTransaction(tx *vaultplan.Transaction, bag *parameters.Bag) error {
	if tx.IsFinalized {
		return nil
	}
	if len(tx.Outputs) == 0 {
		return fmt.Errorf("transaction %s has no outputs: %w", tx.UUID, vaulterrors.ErrInvalidPlan)
	}

	msgTx := wire.NewMsgTx(2)
	msgTx.LockTime = 0

	prevOuts := make(map[wire.OutPoint]*wire.TxOut, len(tx.Inputs))
	for _, in := range tx.Inputs {
		parentTXID, err := in.UTXO.Owner.TXID()
		if err != nil {
			return fmt.Errorf("resolving parent txid for input %s: %w", in.UUID, err)
		}
		sequence, hasTimelock, err := in.RelativeTimelock()
		if err != nil {
			return err
		}
		seqVal := uint32(wire.MaxTxInSequenceNum)
		if hasTimelock {
			seqVal = uint32(sequence)
		}
		outPoint := wire.OutPoint{Hash: parentTXID, Index: in.UTXO.Vout()}
		txIn := wire.NewTxIn(&outPoint, nil, nil)
		txIn.Sequence = seqVal
		msgTx.AddTxIn(txIn)
		prevOuts[outPoint] = wire.NewTxOut(in.UTXO.Amount, in.UTXO.ScriptPubKey)
	}

	for _, out := range tx.Outputs {
		if !out.Finalized {
			return fmt.Errorf("output %s was not parameterized before signing: %w", out.UUID, vaulterrors.ErrInvalidPlan)
		}
		msgTx.AddTxOut(wire.NewTxOut(out.Amount, out.ScriptPubKey))
	}

	fetcher := txscript.NewMultiPrevOutFetcher(prevOuts)
	sigHashes := txscript.NewTxSigHashes(msgTx, fetcher)

	for idx, in := range tx.Inputs {
		witness, err := buildWitness(msgTx, sigHashes, idx, in, bag)
		if err != nil {
			return fmt.Errorf("building witness for input %s: %w", in.UUID, err)
		}
		msgTx.TxIn[idx].Witness = witness
	}

	tx.Finalized = msgTx
	tx.IsFinalized = true
	return nil
}

// buildWitness expands in.UTXO's witness template for in.Selector into a
// concrete witness stack, signing each signature placeholder with a
// BIP-143 sighash over msgTx (spec.md §4.4 step 3).
func buildWitness(msgTx *wire.MsgTx, sigHashes *txscript.TxSigHashes, idx int, in *vaultplan.Input, bag *parameters.Bag) (wire.TxWitness, error) {
	output := in.UTXO
	tmpl := scripttemplate.Get(output.TemplateKind)
	if tmpl == nil {
		return nil, fmt.Errorf("unknown template kind %v: %w", output.TemplateKind, vaulterrors.ErrInvalidPlan)
	}
	witnessStr, ok := tmpl.WitnessTemplates[in.Selector]
	if !ok {
		return nil, fmt.Errorf("selector %q not in witness templates: %w", in.Selector, vaulterrors.ErrInvalidWitnessSelect)
	}

	scriptCode := output.RedeemScript
	if output.TemplateKind == scripttemplate.UserScript {
		hash, err := bag.Hash160For("user_key_hash160", output.UUID)
		if err != nil {
			return nil, err
		}
		scriptCode = p2pkhScriptCode(hash)
	}

	var stack wire.TxWitness
	for _, tok := range strings.Fields(witnessStr) {
		if !strings.HasPrefix(tok, "<") || !strings.HasSuffix(tok, ">") {
			return nil, fmt.Errorf("unrecognised witness token %q: %w", tok, vaulterrors.ErrUnresolvedPlaceholder)
		}
		name := tok[1 : len(tok)-1]
		if keyName, isSigSlot := tmpl.WitnessTemplateMap[name]; isSigSlot {
			sig, err := signWitnessInput(msgTx, sigHashes, idx, output.Amount, scriptCode, keyName, output.UUID, bag)
			if err != nil {
				return nil, err
			}
			stack = append(stack, sig)
			continue
		}
		pub, err := bag.PublicKeyFor(name, output.UUID)
		if err != nil {
			return nil, err
		}
		stack = append(stack, pub)
	}

	if output.TemplateKind != scripttemplate.UserScript {
		stack = append(stack, output.RedeemScript)
	}
	return stack, nil
}

// signWitnessInput computes a BIP-143 witness sighash and signs it with
// the private key named keyName, returning the DER signature with the
// SIGHASH_ALL type byte appended.
func signWitnessInput(msgTx *wire.MsgTx, sigHashes *txscript.TxSigHashes, idx int, amount int64, scriptCode []byte, keyName, outputUUID string, bag *parameters.Bag) ([]byte, error) {
	priv, err := bag.PrivateKeyFor(keyName, outputUUID)
	if err != nil {
		return nil, err
	}
	hash, err := txscript.CalcWitnessSigHash(scriptCode, sigHashes, txscript.SigHashAll, msgTx, idx, amount)
	if err != nil {
		return nil, fmt.Errorf("computing witness sighash: %w", err)
	}
	sig := ecdsa.Sign(priv, hash)
	return append(sig.Serialize(), byte(txscript.SigHashAll)), nil
}

// p2pkhScriptCode builds the P2PKH-equivalent scriptCode BIP-143 requires
// when computing the sighash for a P2WPKH input.
func p2pkhScriptCode(pubKeyHash []byte) []byte {
	script, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_DUP).
		AddOp(txscript.OP_HASH160).
		AddData(pubKeyHash).
		AddOp(txscript.OP_EQUALVERIFY).
		AddOp(txscript.OP_CHECKSIG).
		Script()
	if err != nil {
		// Only AddData with an over-length push can fail here, and a
		// 20-byte hash never does.
		panic(err)
	}
	return script
}
