// Copyright (c) 2024 go-vaults developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package graphviz renders a plan tree as a Graphviz DOT document, the
// rendering helper named in spec.md §6 for interface purposes only.
package graphviz

import (
	"fmt"
	"io"

	"github.com/kanzure/go-vaults/vaultplan"
)

// Write renders every transaction reachable from fundingTx as a DOT
// digraph: one node per transaction, one node per output, and edges for
// both "transaction produces output" and "output may be spent by
// transaction".
func Write(w io.Writer, fundingTx *vaultplan.Transaction) error {
	fmt.Fprintln(w, "digraph vault {")
	fmt.Fprintln(w, "  rankdir=TB;")
	fmt.Fprintln(w, "  node [shape=box];")

	visited := map[string]bool{}
	if err := writeTx(w, fundingTx, visited); err != nil {
		return err
	}

	fmt.Fprintln(w, "}")
	return nil
}

func writeTx(w io.Writer, tx *vaultplan.Transaction, visited map[string]bool) error {
	if visited[tx.UUID] {
		return nil
	}
	visited[tx.UUID] = true

	label := tx.Name
	if label == "" {
		label = fmt.Sprintf("tx %d", tx.ID)
	}
	if _, err := fmt.Fprintf(w, "  \"tx_%s\" [label=%q];\n", tx.UUID, label); err != nil {
		return err
	}

	for _, out := range tx.Outputs {
		outLabel := fmt.Sprintf("%s\\n%d sats", out.Name, out.Amount)
		if _, err := fmt.Fprintf(w, "  \"out_%s\" [label=%q, shape=ellipse];\n", out.UUID, outLabel); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "  \"tx_%s\" -> \"out_%s\";\n", tx.UUID, out.UUID); err != nil {
			return err
		}
		for _, child := range out.Children {
			if _, err := fmt.Fprintf(w, "  \"out_%s\" -> \"tx_%s\";\n", out.UUID, child.UUID); err != nil {
				return err
			}
			if err := writeTx(w, child, visited); err != nil {
				return err
			}
		}
	}
	return nil
}
