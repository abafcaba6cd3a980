// Copyright (c) 2024 go-vaults developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package ctv implements the alternative, signing-free back-end
// (spec.md §4.5): BIP-119 OP_CHECKTEMPLATEVERIFY standard-template-hash
// commitments computed bottom-up over the plan tree.
package ctv

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// StandardTemplateHash computes the BIP-119 standard-template-hash of tx
// as it would be spent at input index inputIndex. Per BIP-119, prevouts
// are deliberately excluded from the hash, which is what lets a parent
// commit to a child's hash before the parent's own txid (and hence the
// child's true prevout) is known.
func StandardTemplateHash(tx *wire.MsgTx, inputIndex uint32) (chainhash.Hash, error) {
	var buf bytes.Buffer

	if err := binary.Write(&buf, binary.LittleEndian, tx.Version); err != nil {
		return chainhash.Hash{}, err
	}
	if err := binary.Write(&buf, binary.LittleEndian, uint32(tx.LockTime)); err != nil {
		return chainhash.Hash{}, err
	}

	hasScriptSig := false
	for _, in := range tx.TxIn {
		if len(in.SignatureScript) > 0 {
			hasScriptSig = true
			break
		}
	}
	if hasScriptSig {
		var sigBuf bytes.Buffer
		for _, in := range tx.TxIn {
			if err := wire.WriteVarBytes(&sigBuf, 0, in.SignatureScript); err != nil {
				return chainhash.Hash{}, err
			}
		}
		h := sha256.Sum256(sigBuf.Bytes())
		buf.Write(h[:])
	}

	if err := binary.Write(&buf, binary.LittleEndian, uint32(len(tx.TxIn))); err != nil {
		return chainhash.Hash{}, err
	}

	var seqBuf bytes.Buffer
	for _, in := range tx.TxIn {
		if err := binary.Write(&seqBuf, binary.LittleEndian, in.Sequence); err != nil {
			return chainhash.Hash{}, err
		}
	}
	seqHash := sha256.Sum256(seqBuf.Bytes())
	buf.Write(seqHash[:])

	if err := binary.Write(&buf, binary.LittleEndian, uint32(len(tx.TxOut))); err != nil {
		return chainhash.Hash{}, err
	}

	var outBuf bytes.Buffer
	for _, out := range tx.TxOut {
		if err := binary.Write(&outBuf, binary.LittleEndian, uint64(out.Value)); err != nil {
			return chainhash.Hash{}, err
		}
		if err := wire.WriteVarBytes(&outBuf, 0, out.PkScript); err != nil {
			return chainhash.Hash{}, err
		}
	}
	outHash := sha256.Sum256(outBuf.Bytes())
	buf.Write(outHash[:])

	if err := binary.Write(&buf, binary.LittleEndian, inputIndex); err != nil {
		return chainhash.Hash{}, err
	}

	sum := sha256.Sum256(buf.Bytes())
	return chainhash.Hash(sum), nil
}
