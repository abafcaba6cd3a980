// Copyright (c) 2024 go-vaults developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ctv

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
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

// UseLogger directs package ctv's logging output to logger.
func UseLogger(logger btclog.Logger) {
	log = logger
}

// Bake runs the CTV engine's two-pass construction (spec.md §4.5) over
// the tree rooted at fundingOutput: pass one recursively bakes every
// output's CTV redeem script bottom-up, and pass two attaches the now-
// known parent txids to each transaction's inputs in ascending id order.
func Bake(b *vaultplan.Builder, fundingOutput *vaultplan.Output, bag *parameters.Bag, net *chaincfg.Params) error {
	if err := bakeOutput(fundingOutput, bag, net); err != nil {
		return fmt.Errorf("baking CTV redeem scripts: %w", err)
	}
	for _, child := range fundingOutput.Children {
		if err := bakeTransactionSkeleton(child, bag, net); err != nil {
			return fmt.Errorf("baking CTV redeem scripts: %w", err)
		}
	}
	for _, tx := range b.Transactions {
		if err := attachRealOutpoints(tx); err != nil {
			return fmt.Errorf("finalizing CTV transaction %s (id %d): %w", tx.UUID, tx.ID, err)
		}
	}
	log.Debugf("baked %d CTV transactions", len(b.Transactions))
	return nil
}

// bakeOutput ensures output's ScriptPubKey is set. Outputs with no
// children (burn, CPFP hook) and the funding coin itself use the ordinary
// parameterizer; other outputs with children get a CTV fragment
// committing to each child's standard-template-hash. The funding coin's
// children are baked by Bake, not here.
func bakeOutput(output *vaultplan.Output, bag *parameters.Bag, net *chaincfg.Params) error {
	if output.Finalized {
		return nil
	}
	if output.Owner.IsFunding || len(output.Children) == 0 {
		return scriptbuild.ParameterizeOutput(output, bag, net)
	}

	children := append([]*vaultplan.Transaction{}, output.Children...)
	sort.Slice(children, func(i, j int) bool { return children[i].UUID < children[j].UUID })

	hashes := make([]chainhash.Hash, len(children))
	for i, child := range children {
		if err := bakeTransactionSkeleton(child, bag, net); err != nil {
			return err
		}
		h, err := StandardTemplateHash(child.CTVTransaction, 0)
		if err != nil {
			return fmt.Errorf("hashing child %s: %w", child.UUID, err)
		}
		hashes[i] = h
	}

	redeem, err := buildCTVRedeemScript(output, hashes, bag)
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

// bakeTransactionSkeleton ensures tx's own outputs are baked and builds a
// provisional wire.MsgTx with every input's prevout left as the zero
// outpoint: BIP-119 standard-template-hashes deliberately exclude
// prevouts, so the placeholder value never affects the hash, and the
// computation therefore needs no knowledge of tx's own eventual txid.
func bakeTransactionSkeleton(tx *vaultplan.Transaction, bag *parameters.Bag, net *chaincfg.Params) error {
	if tx.CTVBaked {
		return nil
	}
	for _, out := range tx.Outputs {
		if err := bakeOutput(out, bag, net); err != nil {
			return err
		}
	}

	msgTx := wire.NewMsgTx(2)
	msgTx.LockTime = 0
	for _, in := range tx.Inputs {
		seq, hasTimelock, err := in.RelativeTimelock()
		if err != nil {
			return err
		}
		seqVal := uint32(wire.MaxTxInSequenceNum)
		if hasTimelock {
			seqVal = uint32(seq)
		}
		txIn := wire.NewTxIn(&wire.OutPoint{}, nil, nil)
		txIn.Sequence = seqVal
		msgTx.AddTxIn(txIn)
	}
	for _, out := range tx.Outputs {
		msgTx.AddTxOut(wire.NewTxOut(out.Amount, out.ScriptPubKey))
	}

	tx.CTVTransaction = msgTx
	tx.CTVBaked = true
	return nil
}

// attachRealOutpoints fills in tx's real prevout references now that
// every ancestor's txid is known (pass two). It is a no-op for a
// transaction that is already finalized, and returns ErrInvalidPlan for
// one whose skeleton was never baked.
func attachRealOutpoints(tx *vaultplan.Transaction) error {
	if tx.Finalized != nil {
		return nil
	}
	if tx.CTVTransaction == nil {
		return fmt.Errorf("transaction %s was never baked: %w", tx.UUID, vaulterrors.ErrInvalidPlan)
	}
	msgTx := tx.CTVTransaction.Copy()
	for i, in := range tx.Inputs {
		parentTXID, err := in.UTXO.Owner.TXID()
		if err != nil {
			return fmt.Errorf("resolving parent txid for input %s: %w", in.UUID, err)
		}
		msgTx.TxIn[i].PreviousOutPoint = wire.OutPoint{Hash: parentTXID, Index: in.UTXO.Vout()}
		witness, err := ctvWitness(tx, in)
		if err != nil {
			return err
		}
		msgTx.TxIn[i].Witness = witness
	}
	tx.Finalized = msgTx
	tx.IsFinalized = true
	return nil
}

// ctvWitness builds the spending witness for a CTV-mode input: the
// child's index within its parent output's sorted children list, an
// optional branch selector for outputs with an alternate signature-based
// branch, and the redeem script.
func ctvWitness(spendingTx *vaultplan.Transaction, in *vaultplan.Input) (wire.TxWitness, error) {
	output := in.UTXO
	tmpl := scripttemplate.Get(output.TemplateKind)
	if tmpl == nil {
		return nil, fmt.Errorf("unknown template kind %v: %w", output.TemplateKind, vaulterrors.ErrInvalidPlan)
	}

	children := append([]*vaultplan.Transaction{}, output.Children...)
	sort.Slice(children, func(i, j int) bool { return children[i].UUID < children[j].UUID })
	index := -1
	for i, c := range children {
		if c == spendingTx {
			index = i
			break
		}
	}
	if index < 0 {
		return nil, fmt.Errorf("transaction %s is not a registered child of output %s: %w", spendingTx.UUID, output.UUID, vaulterrors.ErrInvalidPlan)
	}

	var stack wire.TxWitness
	stack = append(stack, scriptbuild.EncodeScriptNum(int64(index)))
	if tmpl.CTVAltBranch != "" {
		// An explicit empty push represents boolean false, selecting
		// the CTV (OP_ELSE) branch; segwit's minimal-push rules forbid
		// using OP_0 the opcode for this (spec.md §9(d)).
		stack = append(stack, []byte{})
	}
	stack = append(stack, output.RedeemScript)
	return stack, nil
}

// buildCTVRedeemScript assembles the CTV redeem script for output: the
// standard-template-hash fragment, wrapped in an OP_IF/OP_ELSE/OP_ENDIF
// alongside the template's alternate signature-based branch when it has
// one (spec.md §4.5).
func buildCTVRedeemScript(output *vaultplan.Output, hashes []chainhash.Hash, bag *parameters.Bag) ([]byte, error) {
	tmpl := scripttemplate.Get(output.TemplateKind)
	if tmpl == nil {
		return nil, fmt.Errorf("unknown template kind %v: %w", output.TemplateKind, vaulterrors.ErrInvalidPlan)
	}

	ctvFragment, err := buildCTVFragment(hashes)
	if err != nil {
		return nil, err
	}

	if tmpl.CTVAltBranch == "" {
		return ctvFragment, nil
	}

	altBranch, err := buildTokenScript(tmpl.CTVAltBranch, output, bag)
	if err != nil {
		return nil, fmt.Errorf("building alternate branch: %w", err)
	}

	builder := txscript.NewScriptBuilder()
	builder.AddOp(txscript.OP_IF)
	builder.AddOps(altBranch)
	builder.AddOp(txscript.OP_ELSE)
	builder.AddOps(ctvFragment)
	builder.AddOp(txscript.OP_ENDIF)
	return builder.Script()
}

// buildCTVFragment builds `<h_0> ... <h_{k-1}> <k> OP_ROLL OP_ROLL
// OP_NOP4` followed by the minimal cleanup needed to leave exactly one
// stack element, per spec.md §4.5.
func buildCTVFragment(hashes []chainhash.Hash) ([]byte, error) {
	k := len(hashes)
	if k == 0 {
		return nil, fmt.Errorf("output has no children to commit to: %w", vaulterrors.ErrInvalidPlan)
	}
	builder := txscript.NewScriptBuilder()
	for _, h := range hashes {
		builder.AddData(h[:])
	}
	builder.AddData(scriptbuild.EncodeScriptNum(int64(k)))
	builder.AddOp(txscript.OP_ROLL)
	builder.AddOp(txscript.OP_ROLL)
	builder.AddOp(txscript.OP_NOP4)

	if k%2 == 0 {
		for i := 0; i < k/2-1; i++ {
			builder.AddOp(txscript.OP_2DROP)
		}
		builder.AddOp(txscript.OP_DROP)
	} else {
		for i := 0; i < k-1; i++ {
			builder.AddOp(txscript.OP_2DROP)
		}
	}
	return builder.Script()
}

// buildTokenScript parameterizes a standalone token string (not a full
// catalogued template) the same way the parameterizer resolves a
// ScriptTemplate, for use on the CTVAltBranch fragment.
func buildTokenScript(tokens string, output *vaultplan.Output, bag *parameters.Bag) ([]byte, error) {
	tmpl := scripttemplate.Get(output.TemplateKind)
	builder := txscript.NewScriptBuilder()
	for _, tok := range strings.Fields(tokens) {
		switch {
		case strings.HasPrefix(tok, "<") && strings.HasSuffix(tok, ">"):
			name := tok[1 : len(tok)-1]
			if tmpl.RelativeTimelocks != nil {
				if base, ok := tmpl.RelativeTimelocks.Replacements[name]; ok {
					value := base * output.TimelockMultiplier
					if value > vaultplan.MaxRelativeTimelock {
						return nil, fmt.Errorf("relative timelock %d exceeds %d: %w", value, vaultplan.MaxRelativeTimelock, vaulterrors.ErrTimelockOverflow)
					}
					builder.AddData(scriptbuild.EncodeScriptNum(value))
					continue
				}
			}
			data, err := bag.PublicKeyFor(name, output.UUID)
			if err != nil {
				return nil, err
			}
			builder.AddData(data)
		case tok == "OP_CHECKSIG":
			builder.AddOp(txscript.OP_CHECKSIG)
		case tok == "OP_CHECKSIGVERIFY":
			builder.AddOp(txscript.OP_CHECKSIGVERIFY)
		case tok == "OP_CHECKSEQUENCEVERIFY":
			builder.AddOp(txscript.OP_CHECKSEQUENCEVERIFY)
		case tok == "OP_1":
			builder.AddOp(txscript.OP_1)
		default:
			return nil, fmt.Errorf("unrecognised alt-branch token %q: %w", tok, vaulterrors.ErrUnresolvedPlaceholder)
		}
	}
	return builder.Script()
}
