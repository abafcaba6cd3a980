// Copyright (c) 2024 go-vaults developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package vaultplan implements the planned-transaction-tree data model:
// Output, Input, and Transaction nodes linked by non-owning
// back-references, built through a per-vault Builder that assigns stable
// monotonically increasing ids.
//
// The tree is arena-shaped: a Builder owns every Transaction and Output it
// creates, and cross-links (an Input's referenced Output, an Output's list
// of child Transactions) are plain pointers into that arena rather than
// indices into a separate store, since everything lives for the lifetime
// of one process. Persistence (package persist) walks the arena by uuid
// instead of by pointer so the same shape survives a JSON round-trip.
package vaultplan

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/google/uuid"

	"github.com/kanzure/go-vaults/scripttemplate"
	"github.com/kanzure/go-vaults/vaulterrors"
)

// FundingTxID is the id reserved for the synthetic funding transaction:
// the on-chain transaction the user's own wallet produces, which the
// planner never constructs but which every tree is rooted under.
const FundingTxID = -1

// MaxRelativeTimelock is the ceiling the core enforces on any BIP-68
// relative timelock value: the low 16 bits of nSequence that hold a
// block-based relative locktime, 2^16 - 1.
const MaxRelativeTimelock = 0xFFFF

// FundingOutputID is the id reserved for the funding coin: the single
// output of the synthetic funding transaction, which is never constructed
// through a Builder and so never draws from its output-id counter.
const FundingOutputID = -1

// Output is a planned transaction output: a stable node in the tree that
// may, once the tree is finalized, carry a concrete scriptPubKey.
type Output struct {
	// ID is a stable id, monotonically assigned across every output in
	// the vault (not just those of one transaction) in creation order,
	// matching the source prototype's PlannedUTXO.id counter. It is used
	// for deterministic ordering, not for lookup; UUID is authoritative
	// for cross-references.
	ID   int
	UUID string
	Name string

	// Owner is a non-owning back-reference to the transaction that
	// produces this output. The owning transaction's Outputs slice is
	// the authoritative forward link.
	Owner *Transaction

	TemplateKind scripttemplate.Kind
	Amount       int64

	// TimelockMultiplier scales every named timelock the output's
	// template declares; sharded outputs use this to stagger unlock
	// times by shard index.
	TimelockMultiplier int64

	// Children is the non-owning forward list of transactions that may
	// spend this output.
	Children []*Transaction

	// VoutOverride is set only for the funding coin, whose vout is
	// chosen by the user's wallet rather than computed from position.
	VoutOverride *uint32

	// Post-finalization derived fields, written by scriptbuild or by the
	// CTV engine (package ctv).
	ScriptPubKey []byte
	RedeemScript []byte
	Address      string
	Finalized    bool
}

// Vout returns the output's index within its owning transaction's output
// list, unless VoutOverride is set.
func (o *Output) Vout() uint32 {
	if o.VoutOverride != nil {
		return *o.VoutOverride
	}
	for i, out := range o.Owner.Outputs {
		if out == o {
			return uint32(i)
		}
	}
	panic(fmt.Sprintf("output %s not found in owner %s's output list", o.UUID, o.Owner.UUID))
}

// AddChild registers tx as a transaction that may spend o.
func (o *Output) AddChild(tx *Transaction) {
	o.Children = append(o.Children, tx)
}

// IsCPFPHook reports whether this is the zero-value anyone-can-spend
// output that AddCPFPHook appends for fee bumping.
func (o *Output) IsCPFPHook() bool {
	return o.Name == "CPFP hook"
}

// IsBurned reports whether this is a BurnUnspendable output.
func (o *Output) IsBurned() bool {
	return o.Name == "burned UTXO" || o.TemplateKind == scripttemplate.BurnUnspendable
}

// Input is a planned transaction input: a reference to a still-pending
// (not yet broadcast) Output, together with the witness-template selector
// that will be used to spend it.
type Input struct {
	UUID string

	// UTXO is the referenced planned output.
	UTXO *Output

	// Owner is a non-owning back-reference to the spending transaction.
	Owner *Transaction

	// Selector names which witness_templates entry of UTXO's template
	// will be used to satisfy this input.
	Selector string
}

// RelativeTimelock computes the BIP-68 relative timelock this input must
// set in nSequence, derived from the referenced output's template and
// timelock multiplier. It returns false if the selector activates no
// named timelock.
func (in *Input) RelativeTimelock() (int64, bool, error) {
	tmpl := scripttemplate.Get(in.UTXO.TemplateKind)
	if tmpl == nil {
		return 0, false, fmt.Errorf("unknown template kind %v: %w", in.UTXO.TemplateKind, vaulterrors.ErrInvalidPlan)
	}
	if _, ok := tmpl.WitnessTemplates[in.Selector]; !ok {
		return 0, false, fmt.Errorf("selector %q not in output %s's witness templates: %w", in.Selector, in.UTXO.UUID, vaulterrors.ErrInvalidWitnessSelect)
	}
	if tmpl.RelativeTimelocks == nil {
		return 0, false, nil
	}
	name, ok := tmpl.RelativeTimelocks.Selections[in.Selector]
	if !ok {
		return 0, false, nil
	}
	base, ok := tmpl.RelativeTimelocks.Replacements[name]
	if !ok {
		return 0, false, nil
	}
	value := base * in.UTXO.TimelockMultiplier
	if value > MaxRelativeTimelock {
		return 0, false, fmt.Errorf("relative timelock %d exceeds %d: %w", value, MaxRelativeTimelock, vaulterrors.ErrTimelockOverflow)
	}
	return value, true, nil
}

// Transaction is a planned transaction: a stable node with ordered inputs
// and outputs, finalized in place by the pre-sign or CTV engine.
type Transaction struct {
	ID   int
	UUID string
	Name string

	Inputs  []*Input
	Outputs []*Output

	// CPFPHook is the optional 0-satoshi anyone-can-spend output added by
	// AddCPFPHook. It is appended after the outputs added before it, not
	// placed first. It is also present in Outputs; this field is a
	// convenience pointer to it.
	CPFPHook *Output

	// IsFunding marks the synthetic funding transaction (ID ==
	// FundingTxID) standing in for the user's wallet's on-chain
	// transaction. It is never constructed by the planner.
	IsFunding bool
	// KnownTXID is set only when IsFunding is true, once the user's
	// wallet has broadcast the real funding transaction.
	KnownTXID *chainhash.Hash

	// Finalized is the concrete bitcoin transaction written by the
	// pre-sign engine (package presign) or by the CTV engine (package ctv).
	Finalized *wire.MsgTx

	// CTVBaked memoizes that the CTV engine (package ctv) has already
	// computed this transaction's CTV-mode redeem scripts and CTV
	// transaction.
	CTVBaked       bool
	CTVTransaction *wire.MsgTx

	IsFinalized bool

	// builder is a non-owning back-reference to the Builder that created
	// this transaction, used only to hand AddOutput the shared
	// output-id counter. It is nil for the synthetic funding
	// transaction, which draws no transaction id either.
	builder *Builder
}

// TXID returns the finalized transaction's hash, or the known funding
// txid for the funding transaction.
func (t *Transaction) TXID() (chainhash.Hash, error) {
	if t.IsFunding {
		if t.KnownTXID == nil {
			return chainhash.Hash{}, fmt.Errorf("funding transaction has no known txid yet: %w", vaulterrors.ErrInvalidPlan)
		}
		return *t.KnownTXID, nil
	}
	if t.Finalized == nil {
		return chainhash.Hash{}, fmt.Errorf("transaction %s is not finalized: %w", t.UUID, vaulterrors.ErrInvalidPlan)
	}
	return t.Finalized.TxHash(), nil
}

// ParentTransactions returns the distinct transactions that produced each
// of t's inputs' referenced outputs.
func (t *Transaction) ParentTransactions() []*Transaction {
	seen := map[*Transaction]bool{}
	var out []*Transaction
	for _, in := range t.Inputs {
		parent := in.UTXO.Owner
		if !seen[parent] {
			seen[parent] = true
			out = append(out, parent)
		}
	}
	return out
}

// ChildTransactions returns the union of the child lists on each of t's
// outputs.
func (t *Transaction) ChildTransactions() []*Transaction {
	seen := map[*Transaction]bool{}
	var out []*Transaction
	for _, o := range t.Outputs {
		for _, c := range o.Children {
			if !seen[c] {
				seen[c] = true
				out = append(out, c)
			}
		}
	}
	return out
}

// InputAmount returns the sum of the amounts of the outputs t's inputs
// reference.
func (t *Transaction) InputAmount() int64 {
	var sum int64
	for _, in := range t.Inputs {
		sum += in.UTXO.Amount
	}
	return sum
}

// OutputAmount returns the sum of t's own output amounts.
func (t *Transaction) OutputAmount() int64 {
	var sum int64
	for _, o := range t.Outputs {
		sum += o.Amount
	}
	return sum
}

// Builder constructs a single vault's tree, assigning each Transaction and
// each Output a stable id from its own monotonically increasing per-vault
// counter, replacing the source prototype's process-wide global counters
// (spec.md §9, "Process-wide counters").
type Builder struct {
	nextID       int
	nextOutputID int
	Transactions []*Transaction
}

// NewBuilder returns a Builder ready to construct a fresh vault tree.
func NewBuilder() *Builder {
	return &Builder{nextID: 0, nextOutputID: 0}
}

// NewTransaction allocates a new, empty Transaction with the next
// monotonically increasing id and registers it with the builder.
func (b *Builder) NewTransaction(name string) *Transaction {
	tx := &Transaction{
		ID:      b.nextID,
		UUID:    uuid.NewString(),
		Name:    name,
		builder: b,
	}
	b.nextID++
	b.Transactions = append(b.Transactions, tx)
	return tx
}

// NewFundingTransaction allocates the synthetic funding transaction. It is
// not assigned an id from the counter and is not appended to
// b.Transactions, matching its "not constructed by the planner" status.
func NewFundingTransaction(name string, knownTXID *chainhash.Hash) *Transaction {
	return &Transaction{
		ID:        FundingTxID,
		UUID:      uuid.NewString(),
		Name:      name,
		IsFunding: true,
		KnownTXID: knownTXID,
	}
}

// AddOutput appends a new output to tx, owned by tx, with vout equal to
// its position in tx.Outputs. The output's id is drawn from tx's builder's
// shared counter, or is FundingOutputID if tx is the funding transaction.
func (tx *Transaction) AddOutput(name string, kind scripttemplate.Kind, amount int64, timelockMultiplier int64) *Output {
	id := FundingOutputID
	if tx.builder != nil {
		id = tx.builder.nextOutputID
		tx.builder.nextOutputID++
	}
	o := &Output{
		ID:                 id,
		UUID:               uuid.NewString(),
		Name:               name,
		Owner:              tx,
		TemplateKind:       kind,
		Amount:             amount,
		TimelockMultiplier: timelockMultiplier,
	}
	tx.Outputs = append(tx.Outputs, o)
	return o
}

// AddCPFPHook appends the standard 0-satoshi anyone-can-spend CPFP hook
// output to tx and records it as tx.CPFPHook.
func (tx *Transaction) AddCPFPHook() *Output {
	o := tx.AddOutput("CPFP hook", scripttemplate.CPFPHook, 0, 0)
	tx.CPFPHook = o
	return o
}

// AddInput appends a new input to tx that spends utxo via selector. It
// does not itself enforce the "parent id less than child id" invariant;
// that property holds by construction because the planner only ever
// references outputs of transactions it has already built.
func (tx *Transaction) AddInput(utxo *Output, selector string) *Input {
	in := &Input{
		UUID:     uuid.NewString(),
		UTXO:     utxo,
		Owner:    tx,
		Selector: selector,
	}
	tx.Inputs = append(tx.Inputs, in)
	utxo.AddChild(tx)
	return in
}
