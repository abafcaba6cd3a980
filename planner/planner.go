// Copyright (c) 2024 go-vaults developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package planner implements the planner (spec.md §4.2): it constructs
// the plan tree by composing a small set of transaction factories, and
// enforces the tree's shape and amount-conservation rules as it builds.
package planner

import (
	"fmt"

	"github.com/btcsuite/btclog"

	"github.com/kanzure/go-vaults/parameters"
	"github.com/kanzure/go-vaults/safety"
	"github.com/kanzure/go-vaults/scripttemplate"
	"github.com/kanzure/go-vaults/vaultplan"
	"github.com/kanzure/go-vaults/vaulterrors"
)

var log = btclog.Disabled

// UseLogger directs package planner's logging output to logger.
func UseLogger(logger btclog.Logger) {
	log = logger
}

// SetupVault is the planner's single entrypoint. It builds a funding-
// commit transaction spending fundingOutput, then recursively attaches
// the push-to-cold / sharding / one-shard-possible-spend subtree rooted
// at the vault's initial BasicPresigned output.
func SetupVault(fundingOutput *vaultplan.Output, bag *parameters.Bag) (*vaultplan.Builder, *vaultplan.Output, error) {
	if err := bag.Validate(); err != nil {
		return nil, nil, err
	}

	b := vaultplan.NewBuilder()
	fundingCommitTx := b.NewTransaction("funding commit")
	fundingCommitTx.AddInput(fundingOutput, "user")
	vaultInitial := fundingCommitTx.AddOutput("vault initial", scripttemplate.BasicPresigned, fundingOutput.Amount, 0)
	if !bag.DisableFundingCPFPHook {
		fundingCommitTx.AddCPFPHook()
	}

	shardingTx, err := buildBasicPresignedChildren(b, vaultInitial, bag, bag.NumShards)
	if err != nil {
		return nil, nil, err
	}

	if bag.EnableSweep && shardingTx != nil {
		if err := MakeTelescopingSubsets(b, shardingTx, bag); err != nil {
			return nil, nil, err
		}
	}

	if err := safety.Check(b); err != nil {
		return nil, nil, fmt.Errorf("plan tree failed safety check: %w", err)
	}

	log.Debugf("built vault plan tree with %d transactions", len(b.Transactions))
	return b, vaultInitial, nil
}

// buildBasicPresignedChildren attaches the three standard children — push
// to cold storage, sharding, and one-shard-possible-spend — to a
// BasicPresigned output, matching spec.md §4.2's rule that both the
// initial vault output and every re-vault output expose the same three
// children. It returns the sharding transaction it created, for optional
// sweep construction at the top level.
func buildBasicPresignedChildren(b *vaultplan.Builder, output *vaultplan.Output, bag *parameters.Bag, numShards int) (*vaultplan.Transaction, error) {
	if _, err := MakePushToColdStorageTransaction(b, output, bag); err != nil {
		return nil, err
	}

	var shardingTx *vaultplan.Transaction
	if numShards > 0 {
		var err error
		shardingTx, err = MakeShardingTransaction(b, output, numShards, bag)
		if err != nil {
			return nil, err
		}
		if _, err := MakeOneShardPossibleSpend(b, output, numShards, bag); err != nil {
			return nil, err
		}
	}
	return shardingTx, nil
}

// MakePushToColdStorageTransaction spends input into a single ColdStorage
// output of equal amount, with a burn transaction as its sole child.
func MakePushToColdStorageTransaction(b *vaultplan.Builder, input *vaultplan.Output, bag *parameters.Bag) (*vaultplan.Transaction, error) {
	tx := b.NewTransaction("push to cold storage")
	tx.AddInput(input, "presigned")
	out := tx.AddOutput("cold storage", scripttemplate.ColdStorage, input.Amount, 0)
	tx.AddCPFPHook()

	if _, err := MakeBurnTransaction(b, out, bag); err != nil {
		return nil, err
	}
	return tx, nil
}

// MakeBurnTransaction spends input into a BurnUnspendable output of equal
// amount. Burn transactions have a fixed shape and never get a CPFP hook
// (spec.md §4.2).
func MakeBurnTransaction(b *vaultplan.Builder, input *vaultplan.Output, bag *parameters.Bag) (*vaultplan.Transaction, error) {
	tx := b.NewTransaction("burn")
	tx.AddInput(input, "presigned")
	tx.AddOutput("burned UTXO", scripttemplate.BurnUnspendable, input.Amount, 0)
	return tx, nil
}

// MakeShardingTransaction splits input into numShards Shard outputs. The
// first shard absorbs the remainder of input.Amount/numShards so the sum
// equals input.Amount exactly, and each shard's timelock multiplier
// equals its index, staggering when each becomes hot-spendable (spec.md
// §4.2, boundary case "amount remainder").
func MakeShardingTransaction(b *vaultplan.Builder, input *vaultplan.Output, numShards int, bag *parameters.Bag) (*vaultplan.Transaction, error) {
	if numShards < 1 {
		return nil, fmt.Errorf("num_shards must be >= 1, got %d: %w", numShards, vaulterrors.ErrInvalidParameters)
	}

	tx := b.NewTransaction(fmt.Sprintf("sharding into %d", numShards))
	tx.AddInput(input, "presigned")

	perShard := input.Amount / int64(numShards)
	remainder := input.Amount - perShard*int64(numShards)

	var shards []*vaultplan.Output
	for i := 0; i < numShards; i++ {
		amount := perShard
		if i == 0 {
			amount += remainder
		}
		out := tx.AddOutput(fmt.Sprintf("shard %d", i), scripttemplate.Shard, amount, int64(i))
		shards = append(shards, out)
	}
	tx.AddCPFPHook()

	for _, shard := range shards {
		if _, err := MakePushToColdStorageTransaction(b, shard, bag); err != nil {
			return nil, err
		}
	}
	return tx, nil
}

// MakeOneShardPossibleSpend splits input into an exit Shard output (whose
// sole child is push-to-cold) and, when more than one shard remains, a
// re-vault BasicPresigned output that recursively exposes the same three
// children with one fewer shard. Recursion terminates at numShards == 1
// (spec.md §4.2, boundary case "num_shards = 1").
func MakeOneShardPossibleSpend(b *vaultplan.Builder, input *vaultplan.Output, numShards int, bag *parameters.Bag) (*vaultplan.Transaction, error) {
	if numShards < 1 {
		return nil, fmt.Errorf("num_shards must be >= 1, got %d: %w", numShards, vaulterrors.ErrInvalidParameters)
	}

	tx := b.NewTransaction(fmt.Sprintf("one shard possible spend (%d remaining)", numShards))
	tx.AddInput(input, "presigned")

	perShard := input.Amount / int64(numShards)
	remainder := input.Amount - perShard*int64(numShards)
	exitAmount := perShard + remainder

	exitOut := tx.AddOutput("exit shard", scripttemplate.Shard, exitAmount, 0)
	if _, err := MakePushToColdStorageTransaction(b, exitOut, bag); err != nil {
		return nil, err
	}

	if numShards > 1 {
		revaultAmount := input.Amount - exitAmount
		revaultOut := tx.AddOutput("re-vault", scripttemplate.BasicPresigned, revaultAmount, 0)
		if _, err := buildBasicPresignedChildren(b, revaultOut, bag, numShards-1); err != nil {
			return nil, err
		}
	}

	tx.AddCPFPHook()
	return tx, nil
}

// MakeSweepToColdStorageTransaction spends every output in inputs
// together into a single ColdStorage output whose amount is their sum,
// with a burn transaction as its sole child. Disabled by default (see
// MakeTelescopingSubsets); exposed for hosts that opt into it explicitly.
func MakeSweepToColdStorageTransaction(b *vaultplan.Builder, inputs []*vaultplan.Output, bag *parameters.Bag) (*vaultplan.Transaction, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("sweep requires at least one input: %w", vaulterrors.ErrInvalidParameters)
	}
	tx := b.NewTransaction("sweep to cold storage")
	var total int64
	for _, in := range inputs {
		tx.AddInput(in, "presigned")
		total += in.Amount
	}
	out := tx.AddOutput("cold storage (swept)", scripttemplate.ColdStorage, total, 0)
	tx.AddCPFPHook()

	if _, err := MakeBurnTransaction(b, out, bag); err != nil {
		return nil, err
	}
	return tx, nil
}

// MakeTelescopingSubsets builds one sweep transaction per telescoping
// subset shards[i:] of shardingTx's Shard outputs, for i in
// 0..len(shards)-2 (spec.md §4.2). It is never called unless
// bag.EnableSweep is set, since tree size grows super-linearly in the
// shard count otherwise.
func MakeTelescopingSubsets(b *vaultplan.Builder, shardingTx *vaultplan.Transaction, bag *parameters.Bag) error {
	shards := shardOutputsOf(shardingTx)
	if len(shards) < 2 {
		return nil
	}
	for i := 0; i <= len(shards)-2; i++ {
		if _, err := MakeSweepToColdStorageTransaction(b, shards[i:], bag); err != nil {
			return err
		}
	}
	return nil
}

func shardOutputsOf(tx *vaultplan.Transaction) []*vaultplan.Output {
	var outs []*vaultplan.Output
	for _, o := range tx.Outputs {
		if o.TemplateKind == scripttemplate.Shard {
			outs = append(outs, o)
		}
	}
	return outs
}
