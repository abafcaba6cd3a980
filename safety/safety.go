// Copyright (c) 2024 go-vaults developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package safety implements the tree invariant checker (spec.md §4.6):
// run after the planner builds a tree and before the parameterizer or
// signer touch it.
package safety

import (
	"fmt"

	"github.com/kanzure/go-vaults/vaultplan"
	"github.com/kanzure/go-vaults/vaulterrors"
)

// Check verifies every transaction the builder has constructed. It
// rejects the tree if any transaction has zero outputs, any non-funding
// transaction has mismatched input/output amounts, or any transaction has
// an output that is neither the CPFP hook nor a burn output and has no
// possible child transaction.
func Check(b *vaultplan.Builder) error {
	for _, tx := range b.Transactions {
		if len(tx.Outputs) == 0 {
			return fmt.Errorf("transaction %s (id %d) has zero outputs: %w", tx.UUID, tx.ID, vaulterrors.ErrInvalidPlan)
		}
		if !tx.IsFunding {
			in, out := tx.InputAmount(), tx.OutputAmount()
			if in != out {
				return fmt.Errorf("transaction %s (id %d) input amount %d != output amount %d: %w", tx.UUID, tx.ID, in, out, vaulterrors.ErrInvalidPlan)
			}
		}
		for _, o := range tx.Outputs {
			if o.IsCPFPHook() || o.IsBurned() {
				continue
			}
			if len(o.Children) == 0 {
				return fmt.Errorf("output %s (%q) on transaction %s has no child transactions: %w", o.UUID, o.Name, tx.UUID, vaulterrors.ErrInvalidPlan)
			}
		}
	}
	return nil
}
