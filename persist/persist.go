// Copyright (c) 2024 go-vaults developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package persist implements the persistence layer (spec.md §4.8 and
// §9 "Cyclic-looking references"): the plan tree is serialized as an
// ordered JSON document, and rehydrated in two phases — first every node
// is reconstructed standalone, then a reconnect pass resolves each stored
// uuid into a live pointer, reproducing the arena's cross-links without
// weak-reference types.
package persist

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btclog"

	"github.com/kanzure/go-vaults/scripttemplate"
	"github.com/kanzure/go-vaults/vaultplan"
	"github.com/kanzure/go-vaults/vaulterrors"
)

var log = btclog.Disabled

// UseLogger directs package persist's logging output to logger.
func UseLogger(logger btclog.Logger) {
	log = logger
}

// FormatVersion is the persisted document's format-version string,
// matching the sentinel marker file's version stamp (package vaultfile).
const FormatVersion = "0.0.1"

// Document is the top-level persisted form of a vault tree.
type Document struct {
	Version      string       `json:"version"`
	Transactions []txDocument `json:"transactions"`
}

type txDocument struct {
	ID        int           `json:"id"`
	UUID      string        `json:"uuid"`
	Name      string        `json:"name"`
	IsFunding bool          `json:"is_funding,omitempty"`
	KnownTXID string        `json:"known_txid,omitempty"`
	TXID      string        `json:"txid,omitempty"`
	RawTx     string        `json:"raw_tx,omitempty"`
	CTVTXID   string        `json:"ctv_txid,omitempty"`
	CTVRawTx  string        `json:"ctv_raw_tx,omitempty"`
	Inputs    []inDocument  `json:"inputs"`
	Outputs   []outDocument `json:"outputs"`
}

type inDocument struct {
	UUID     string `json:"uuid"`
	UTXOUUID string `json:"utxo_uuid"`
	Selector string `json:"selector"`
}

type outDocument struct {
	ID                 int      `json:"id"`
	UUID               string   `json:"uuid"`
	Name               string   `json:"name"`
	TemplateKind       string   `json:"template_kind"`
	Amount             int64    `json:"amount"`
	TimelockMultiplier int64    `json:"timelock_multiplier"`
	Children           []string `json:"children"`
	VoutOverride       *uint32  `json:"vout_override,omitempty"`
	ScriptPubKey       string   `json:"script_pubkey,omitempty"`
	RedeemScript       string   `json:"redeem_script,omitempty"`
	Address            string   `json:"address,omitempty"`
}

// Save serializes fundingTx and every transaction the builder has
// constructed into a Document, ordered by id with the funding transaction
// first.
func Save(fundingTx *vaultplan.Transaction, b *vaultplan.Builder) (*Document, error) {
	doc := &Document{Version: FormatVersion}

	fd, err := encodeTx(fundingTx)
	if err != nil {
		return nil, fmt.Errorf("encoding funding transaction: %w", err)
	}
	doc.Transactions = append(doc.Transactions, fd)

	for _, tx := range b.Transactions {
		td, err := encodeTx(tx)
		if err != nil {
			return nil, fmt.Errorf("encoding transaction %s: %w", tx.UUID, err)
		}
		doc.Transactions = append(doc.Transactions, td)
	}
	log.Debugf("saved %d transactions", len(doc.Transactions))
	return doc, nil
}

func encodeTx(tx *vaultplan.Transaction) (txDocument, error) {
	td := txDocument{
		ID:        tx.ID,
		UUID:      tx.UUID,
		Name:      tx.Name,
		IsFunding: tx.IsFunding,
	}
	if tx.IsFunding && tx.KnownTXID != nil {
		td.KnownTXID = tx.KnownTXID.String()
	}
	if tx.Finalized != nil {
		raw, err := serializeTx(tx.Finalized)
		if err != nil {
			return td, err
		}
		td.RawTx = raw
		td.TXID = tx.Finalized.TxHash().String()
	}
	if tx.CTVTransaction != nil {
		raw, err := serializeTx(tx.CTVTransaction)
		if err != nil {
			return td, err
		}
		td.CTVRawTx = raw
		td.CTVTXID = tx.CTVTransaction.TxHash().String()
	}
	for _, in := range tx.Inputs {
		td.Inputs = append(td.Inputs, inDocument{
			UUID:     in.UUID,
			UTXOUUID: in.UTXO.UUID,
			Selector: in.Selector,
		})
	}
	for _, out := range tx.Outputs {
		od := outDocument{
			ID:                 out.ID,
			UUID:               out.UUID,
			Name:               out.Name,
			TemplateKind:       out.TemplateKind.String(),
			Amount:             out.Amount,
			TimelockMultiplier: out.TimelockMultiplier,
			VoutOverride:       out.VoutOverride,
			Address:            out.Address,
		}
		for _, c := range out.Children {
			od.Children = append(od.Children, c.UUID)
		}
		if out.ScriptPubKey != nil {
			od.ScriptPubKey = hex.EncodeToString(out.ScriptPubKey)
		}
		if out.RedeemScript != nil {
			od.RedeemScript = hex.EncodeToString(out.RedeemScript)
		}
		td.Outputs = append(td.Outputs, od)
	}
	return td, nil
}

func serializeTx(tx *wire.MsgTx) (string, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf.Bytes()), nil
}

// Marshal encodes doc as indented JSON, matching the "UTF-8 JSON
// document" persistence file format (spec.md §6).
func Marshal(doc *Document) ([]byte, error) {
	return json.MarshalIndent(doc, "", "  ")
}

// Load parses a persisted document's bytes back into a Document without
// reconnecting cross-references; call Reconnect on the result to rebuild
// the live tree.
func Load(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing persisted document: %w", err)
	}
	if doc.Version != FormatVersion {
		return nil, fmt.Errorf("persisted document has format version %q, want %q: %w", doc.Version, FormatVersion, vaulterrors.ErrStateCorruption)
	}
	return &doc, nil
}

// Reconnect performs the two-phase rebuild (spec.md §4.8): phase one
// reconstructs every Transaction and Output standalone; phase two
// resolves each stored uuid into a live pointer. It returns the
// reconstructed funding transaction (id -1) and a Builder populated with
// every other transaction in persisted order.
func Reconnect(doc *Document) (*vaultplan.Transaction, *vaultplan.Builder, error) {
	outputsByUUID := map[string]*vaultplan.Output{}
	txByUUID := map[string]*vaultplan.Transaction{}

	var fundingTx *vaultplan.Transaction
	b := &vaultplan.Builder{}

	// Phase one: standalone reconstruction.
	for _, td := range doc.Transactions {
		var tx *vaultplan.Transaction
		if td.IsFunding {
			var knownTXID *chainhash.Hash
			if td.KnownTXID != "" {
				h, err := chainhash.NewHashFromStr(td.KnownTXID)
				if err != nil {
					return nil, nil, fmt.Errorf("parsing known txid of %s: %w", td.UUID, vaulterrors.ErrStateCorruption)
				}
				knownTXID = h
			}
			tx = vaultplan.NewFundingTransaction(td.Name, knownTXID)
			tx.UUID = td.UUID
			fundingTx = tx
		} else {
			tx = &vaultplan.Transaction{
				ID:   td.ID,
				UUID: td.UUID,
				Name: td.Name,
			}
			b.Transactions = append(b.Transactions, tx)
		}
		if td.RawTx != "" {
			msgTx, err := decodeTx(td.RawTx)
			if err != nil {
				return nil, nil, fmt.Errorf("decoding raw tx for %s: %w", td.UUID, err)
			}
			tx.Finalized = msgTx
			tx.IsFinalized = true
		}
		if td.CTVRawTx != "" {
			msgTx, err := decodeTx(td.CTVRawTx)
			if err != nil {
				return nil, nil, fmt.Errorf("decoding CTV raw tx for %s: %w", td.UUID, err)
			}
			tx.CTVTransaction = msgTx
			tx.CTVBaked = true
		}
		txByUUID[td.UUID] = tx

		for _, od := range td.Outputs {
			kind, ok := scripttemplate.KindFromString(od.TemplateKind)
			if !ok {
				return nil, nil, fmt.Errorf("unknown template kind %q for output %s: %w", od.TemplateKind, od.UUID, vaulterrors.ErrStateCorruption)
			}
			out := &vaultplan.Output{
				ID:                 od.ID,
				UUID:               od.UUID,
				Name:               od.Name,
				Owner:              tx,
				TemplateKind:       kind,
				Amount:             od.Amount,
				TimelockMultiplier: od.TimelockMultiplier,
				VoutOverride:       od.VoutOverride,
				Address:            od.Address,
			}
			if od.ScriptPubKey != "" {
				spk, err := hex.DecodeString(od.ScriptPubKey)
				if err != nil {
					return nil, nil, fmt.Errorf("decoding scriptPubKey for %s: %w", od.UUID, err)
				}
				out.ScriptPubKey = spk
				out.Finalized = true
			}
			if od.RedeemScript != "" {
				rs, err := hex.DecodeString(od.RedeemScript)
				if err != nil {
					return nil, nil, fmt.Errorf("decoding redeem script for %s: %w", od.UUID, err)
				}
				out.RedeemScript = rs
			}
			tx.Outputs = append(tx.Outputs, out)
			outputsByUUID[out.UUID] = out
		}
	}

	if fundingTx == nil {
		return nil, nil, fmt.Errorf("persisted document has no funding transaction: %w", vaulterrors.ErrStateCorruption)
	}

	// Phase two: reconnect uuid references.
	for _, td := range doc.Transactions {
		tx := txByUUID[td.UUID]
		for _, id := range td.Inputs {
			utxo, ok := outputsByUUID[id.UTXOUUID]
			if !ok {
				return nil, nil, fmt.Errorf("input %s references unknown output %s: %w", id.UUID, id.UTXOUUID, vaulterrors.ErrStateCorruption)
			}
			tx.Inputs = append(tx.Inputs, &vaultplan.Input{
				UUID:     id.UUID,
				UTXO:     utxo,
				Owner:    tx,
				Selector: id.Selector,
			})
		}
		for _, od := range td.Outputs {
			out := outputsByUUID[od.UUID]
			for _, childUUID := range od.Children {
				child, ok := txByUUID[childUUID]
				if !ok {
					return nil, nil, fmt.Errorf("output %s references unknown child transaction %s: %w", od.UUID, childUUID, vaulterrors.ErrStateCorruption)
				}
				out.Children = append(out.Children, child)
			}
		}
	}

	return fundingTx, b, nil
}

func decodeTx(rawHex string) (*wire.MsgTx, error) {
	raw, err := hex.DecodeString(rawHex)
	if err != nil {
		return nil, err
	}
	msgTx := wire.NewMsgTx(2)
	if err := msgTx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return msgTx, nil
}
