// Copyright (c) 2024 go-vaults developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package vaultrpc implements the node RPC client the core consumes
// (spec.md §6, "Node RPC (consumed)"): a thin wrapper over
// btcsuite/btcd's rpcclient and btcjson, trimmed to the operations the
// vault engine needs.
package vaultrpc

import (
	"fmt"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btclog"

	"github.com/kanzure/go-vaults/vaulterrors"
)

var log = btclog.Disabled

// UseLogger directs package vaultrpc's logging output to logger.
func UseLogger(logger btclog.Logger) {
	log = logger
}

// Config describes how to reach the node's JSON-RPC endpoint.
type Config struct {
	Host         string
	User         string
	Pass         string
	DisableTLS   bool
	HTTPPostMode bool
}

// Client wraps rpcclient.Client with the operations the prototype needs:
// chain identity, key import, coin generation, UTXO listing, transaction
// lookup, and broadcast.
type Client struct {
	rpc *rpcclient.Client
}

// Dial connects to the node described by cfg. The prototype's node RPC is
// always consumed over HTTP POST (no websocket notifications).
func Dial(cfg Config) (*Client, error) {
	connCfg := &rpcclient.ConnConfig{
		Host:         cfg.Host,
		User:         cfg.User,
		Pass:         cfg.Pass,
		DisableTLS:   cfg.DisableTLS,
		HTTPPostMode: true,
	}
	rpc, err := rpcclient.New(connCfg, nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to node: %w: %v", vaulterrors.ErrRPCUnavailable, err)
	}
	return &Client{rpc: rpc}, nil
}

// Shutdown closes the underlying RPC connection.
func (c *Client) Shutdown() {
	c.rpc.Shutdown()
}

// RequireRegtest verifies the connected node is on regtest, the only
// chain the prototype supports (spec.md §6).
func (c *Client) RequireRegtest() error {
	info, err := c.rpc.GetBlockChainInfo()
	if err != nil {
		return fmt.Errorf("querying chain info: %w: %v", vaulterrors.ErrRPCUnavailable, err)
	}
	if info.Chain != "regtest" {
		return fmt.Errorf("node is on chain %q, want regtest: %w", info.Chain, vaulterrors.ErrRPCUnavailable)
	}
	return nil
}

// ImportPrivateKey imports wif into the node's wallet, rescanning for
// prior activity.
func (c *Client) ImportPrivateKey(wif *btcutil.WIF) error {
	if err := c.rpc.ImportPrivKeyRescan(wif, "", true); err != nil {
		return fmt.Errorf("importing private key: %w", err)
	}
	return nil
}

// SendToAddress sends amount to addr from the node's wallet.
func (c *Client) SendToAddress(addr btcutil.Address, amount btcutil.Amount) (*chainhash.Hash, error) {
	txid, err := c.rpc.SendToAddress(addr, amount)
	if err != nil {
		return nil, fmt.Errorf("sending to address: %w", err)
	}
	return txid, nil
}

// GenerateToAddress mines n blocks paying addr, for regtest test setup.
func (c *Client) GenerateToAddress(n int64, addr btcutil.Address) ([]*chainhash.Hash, error) {
	hashes, err := c.rpc.GenerateToAddress(n, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("generating blocks: %w", err)
	}
	return hashes, nil
}

// ListUnspentMinAmount lists unspent outputs paying addr with at least
// minAmount and minConf confirmations. rpcclient has no amount-aware
// listing call, so the amount floor is applied client-side over the
// minConf/maxConf-filtered result set.
func (c *Client) ListUnspentMinAmount(minConf, maxConf int, addr btcutil.Address, minAmount btcutil.Amount) ([]btcjson.ListUnspentResult, error) {
	results, err := c.rpc.ListUnspentMinMaxAddresses(minConf, maxConf, []btcutil.Address{addr})
	if err != nil {
		return nil, err
	}
	if minAmount == 0 {
		return results, nil
	}
	floor := minAmount.ToBTC()
	filtered := results[:0]
	for _, r := range results {
		if r.Amount >= floor {
			filtered = append(filtered, r)
		}
	}
	return filtered, nil
}

// GetRawTransactionVerbose fetches txid's verbose record, including its
// confirmation count.
func (c *Client) GetRawTransactionVerbose(txid *chainhash.Hash) (*btcjson.TxRawResult, error) {
	return c.rpc.GetRawTransactionVerbose(txid)
}

// Confirmed satisfies package walker's Oracle interface: a not-found
// response from the node is reported as unconfirmed, not an error
// (spec.md §7).
func (c *Client) Confirmed(txid chainhash.Hash) (bool, error) {
	result, err := c.rpc.GetRawTransactionVerbose(&txid)
	if err != nil {
		if isNotFoundErr(err) {
			return false, nil
		}
		return false, fmt.Errorf("querying transaction %s: %w", txid, err)
	}
	return result.Confirmations > 0, nil
}

func isNotFoundErr(err error) bool {
	rpcErr, ok := err.(*btcjson.RPCError)
	if !ok {
		return false
	}
	return rpcErr.Code == btcjson.ErrRPCNoTxInfo || rpcErr.Code == btcjson.ErrRPCInvalidTxVout
}

// SendRawTransaction broadcasts tx, logging the resulting txid. spec.md
// §9(c) normalizes the broadcast path to always send serialized bytes.
func (c *Client) SendRawTransaction(tx *wire.MsgTx) (*chainhash.Hash, error) {
	txid, err := c.rpc.SendRawTransaction(tx, false)
	if err != nil {
		return nil, fmt.Errorf("broadcasting transaction: %w", err)
	}
	log.Infof("broadcast transaction %s", txid)
	return txid, nil
}
