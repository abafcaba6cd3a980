// Copyright (c) 2024 go-vaults developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package walker implements the state walker (spec.md §4.7): given the
// persisted tree and a node RPC oracle, it identifies the vault's
// current-confirmed node and the set of legal next transactions.
package walker

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btclog"

	"github.com/kanzure/go-vaults/vaultplan"
	"github.com/kanzure/go-vaults/vaulterrors"
)

var log = btclog.Disabled

// UseLogger directs package walker's logging output to logger.
func UseLogger(logger btclog.Logger) {
	log = logger
}

// Oracle answers whether a given txid has been confirmed on-chain. A
// not-found response from the underlying node is reported as confirmed =
// false, not an error (spec.md §7, "The walker tolerates a not-found from
// the node as not confirmed").
type Oracle interface {
	Confirmed(txid chainhash.Hash) (bool, error)
}

// Result is the outcome of a walk: the vault's current-confirmed node and
// the legal next transactions from it.
type Result struct {
	Current *vaultplan.Transaction
	Next    []*vaultplan.Transaction
}

// Walk descends the tree rooted at fundingTx, the synthetic funding
// transaction, following confirmed children until it reaches a node with
// no confirmed child.
func Walk(fundingTx *vaultplan.Transaction, oracle Oracle) (*Result, error) {
	confirmed, err := isConfirmed(fundingTx, oracle)
	if err != nil {
		return nil, err
	}
	if !confirmed {
		log.Debugf("funding transaction %s not yet confirmed", fundingTx.UUID)
		return &Result{Current: fundingTx}, nil
	}
	return descend(fundingTx, oracle)
}

func isConfirmed(tx *vaultplan.Transaction, oracle Oracle) (bool, error) {
	txid, err := tx.TXID()
	if err != nil {
		return false, fmt.Errorf("resolving txid for %s: %w", tx.UUID, err)
	}
	ok, err := oracle.Confirmed(txid)
	if err != nil {
		return false, fmt.Errorf("querying oracle for %s: %w", txid, err)
	}
	return ok, nil
}

func descend(tx *vaultplan.Transaction, oracle Oracle) (*Result, error) {
	children := tx.ChildTransactions()
	if len(children) == 0 {
		return &Result{Current: tx}, nil
	}
	if err := validateSiblingShape(children); err != nil {
		return nil, err
	}

	var confirmedChild *vaultplan.Transaction
	for _, c := range children {
		ok, err := isConfirmed(c, oracle)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if confirmedChild != nil {
			return nil, fmt.Errorf("more than one confirmed child of %s: %w", tx.UUID, vaulterrors.ErrStateCorruption)
		}
		confirmedChild = c
	}

	if confirmedChild == nil {
		return &Result{Current: tx, Next: children}, nil
	}
	return descend(confirmedChild, oracle)
}

// validateSiblingShape enforces the walker's descent preconditions
// (spec.md §4.7): every possible child has exactly one parent
// transaction, and all children at this level share that same parent.
func validateSiblingShape(children []*vaultplan.Transaction) error {
	var commonParent *vaultplan.Transaction
	for _, c := range children {
		parents := c.ParentTransactions()
		if len(parents) != 1 {
			return fmt.Errorf("child %s has %d parent transactions, want 1: %w", c.UUID, len(parents), vaulterrors.ErrStateCorruption)
		}
		if commonParent == nil {
			commonParent = parents[0]
		} else if commonParent != parents[0] {
			return fmt.Errorf("siblings %s and %s do not share a parent: %w", children[0].UUID, c.UUID, vaulterrors.ErrStateCorruption)
		}
	}
	return nil
}

// IsLegalNext reports whether candidate is among result's legal next
// transactions, for validating a broadcast request (spec.md §6, "Invalid
// next transaction").
func (r *Result) IsLegalNext(candidateUUID string) error {
	for _, tx := range r.Next {
		if tx.UUID == candidateUUID {
			return nil
		}
	}
	return fmt.Errorf("transaction %s is not a legal next step: %w", candidateUUID, vaulterrors.ErrInvalidNextStep)
}
