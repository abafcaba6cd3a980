// Copyright (c) 2024 go-vaults developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Command vaultctl is the consumer-only CLI surface described in
// spec.md §6: it is not part of the core, and exists only to drive the
// core's packages against a regtest node for demonstration and manual
// testing. Reserved command names clone, lock, sync, unlock-single,
// unlock-many, rotate, and burn are not implemented.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btclog"
	"github.com/jessevdk/go-flags"
	"github.com/jrick/logrotate/rotator"

	"github.com/kanzure/go-vaults/ctv"
	"github.com/kanzure/go-vaults/internal/vaultlog"
	"github.com/kanzure/go-vaults/parameters"
	"github.com/kanzure/go-vaults/persist"
	"github.com/kanzure/go-vaults/planner"
	"github.com/kanzure/go-vaults/presign"
	"github.com/kanzure/go-vaults/scripttemplate"
	"github.com/kanzure/go-vaults/vaultfile"
	"github.com/kanzure/go-vaults/vaultplan"
	"github.com/kanzure/go-vaults/vaultrpc"
	"github.com/kanzure/go-vaults/walker"
)

const vaultDocName = "vault.json"

// options holds the flags shared by every subcommand.
type options struct {
	DataDir    string `long:"datadir" description:"vault directory" default:"."`
	RPCHost    string `long:"rpchost" description:"node RPC host:port" default:"localhost:18443"`
	RPCUser    string `long:"rpcuser" description:"node RPC username"`
	RPCPass    string `long:"rpcpass" description:"node RPC password"`
	NumShards  int    `long:"num-shards" description:"number of shards the vault splits into" default:"5"`
	UseCTV     bool   `long:"use-ctv" description:"build the tree with the CTV back-end instead of pre-signing"`
	DebugLevel string `long:"debuglevel" description:"logging level: trace, debug, info, warn, error, critical, off" default:"info"`
	LogFile    string `long:"logfile" description:"path to the rotating log file; logging to a file is disabled if empty"`
}

// subsystems lists every package vaultctl drives that exposes a
// UseLogger hook, so one backend can fan out to all of them.
func subsystems() []vaultlog.Subsystem {
	return []vaultlog.Subsystem{
		{Tag: "PLAN", UseLogger: planner.UseLogger},
		{Tag: "SIGN", UseLogger: presign.UseLogger},
		{Tag: "CTV", UseLogger: ctv.UseLogger},
		{Tag: "WALK", UseLogger: walker.UseLogger},
		{Tag: "PRST", UseLogger: persist.UseLogger},
		{Tag: "RPCC", UseLogger: vaultrpc.UseLogger},
	}
}

var opts options

type initCommand struct {
	PrivateKey string `long:"private-key" description:"WIF-encoded private key controlling the funding coin; generated if omitted"`
}

type infoCommand struct{}

type broadcastCommand struct {
	Args struct {
		InternalID string `positional-arg-name:"internal_id" description:"uuid of the transaction to broadcast"`
	} `positional-args:"yes" required:"yes"`
}

func main() {
	parser := flags.NewParser(&opts, flags.Default)
	parser.AddCommand("init", "Initialize a new vault", "Builds and persists a new vault tree against a funding coin.", &initCommand{})
	info := &infoCommand{}
	parser.AddCommand("info", "Show the vault's current state", "Prints the current confirmed node and its legal next transactions.", info)
	parser.AddCommand("status", "Alias for info", "Prints the current confirmed node and its legal next transactions.", info)
	parser.AddCommand("broadcast", "Broadcast a legal next transaction", "Broadcasts the named transaction if it is a legal next step.", &broadcastCommand{})

	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initLogging() error {
	level, ok := btclog.LevelFromString(opts.DebugLevel)
	if !ok {
		return fmt.Errorf("unknown debug level %q", opts.DebugLevel)
	}

	var r *rotator.Rotator
	if opts.LogFile != "" {
		var err error
		r, err = vaultlog.InitLogRotator(opts.LogFile)
		if err != nil {
			return err
		}
	}
	vaultlog.NewBackend(r, level, subsystems())
	return nil
}

func dialRPC() (*vaultrpc.Client, error) {
	return vaultrpc.Dial(vaultrpc.Config{
		Host:       opts.RPCHost,
		User:       opts.RPCUser,
		Pass:       opts.RPCPass,
		DisableTLS: true,
	})
}

func (c *initCommand) Execute(args []string) error {
	if err := initLogging(); err != nil {
		return err
	}
	if vaultfile.Exists(opts.DataDir) {
		return vaultfile.ErrAlreadyInitialized
	}

	net := &chaincfg.RegressionNetParams

	rpc, err := dialRPC()
	if err != nil {
		return err
	}
	defer rpc.Shutdown()
	if err := rpc.RequireRegtest(); err != nil {
		return err
	}

	userKey, err := resolveFundingKey(c.PrivateKey, net)
	if err != nil {
		return err
	}
	coldKey1, err := parameters.NewKeyPair()
	if err != nil {
		return err
	}
	coldKey2, err := parameters.NewKeyPair()
	if err != nil {
		return err
	}
	hotWalletKey, err := parameters.NewKeyPair()
	if err != nil {
		return err
	}
	unspendableKey, err := parameters.NewKeyPair()
	if err != nil {
		return err
	}

	bag, err := parameters.New(userKey, coldKey1, coldKey2, hotWalletKey, unspendableKey, opts.NumShards)
	if err != nil {
		return err
	}

	fundingAddr, err := btcutil.NewAddressWitnessPubKeyHash(userKey.Hash160(), net)
	if err != nil {
		return fmt.Errorf("deriving funding address: %w", err)
	}

	unspent, err := rpc.ListUnspentMinAmount(1, 9999999, fundingAddr, 0)
	if err != nil {
		return fmt.Errorf("listing funding coin: %w", err)
	}
	if len(unspent) == 0 {
		return fmt.Errorf("no confirmed coin found paying %s; fund it first", fundingAddr.EncodeAddress())
	}
	utxo := unspent[0]

	fundingTxid, err := chainhash.NewHashFromStr(utxo.TxID)
	if err != nil {
		return fmt.Errorf("parsing funding txid: %w", err)
	}
	amount, err := btcutil.NewAmount(utxo.Amount)
	if err != nil {
		return fmt.Errorf("parsing funding amount: %w", err)
	}
	fundingTx := vaultplan.NewFundingTransaction("initial transaction (from user)", fundingTxid)
	vout := utxo.Vout
	fundingOutput := fundingTx.AddOutput("funding coin", scripttemplate.UserScript, int64(amount), 0)
	fundingOutput.VoutOverride = &vout

	builder, vaultInitial, err := planner.SetupVault(fundingOutput, bag)
	if err != nil {
		return fmt.Errorf("building vault: %w", err)
	}

	if opts.UseCTV {
		if err := ctv.Bake(builder, fundingOutput, bag, net); err != nil {
			return fmt.Errorf("baking CTV transactions: %w", err)
		}
	} else {
		if err := presign.SignTree(builder, bag, net); err != nil {
			return fmt.Errorf("pre-signing vault: %w", err)
		}
	}

	doc, err := persist.Save(fundingTx, builder)
	if err != nil {
		return fmt.Errorf("saving vault: %w", err)
	}
	data, err := persist.Marshal(doc)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(opts.DataDir, vaultDocName), data, 0o600); err != nil {
		return fmt.Errorf("writing vault document: %w", err)
	}
	if err := vaultfile.Create(opts.DataDir); err != nil {
		return err
	}

	fmt.Printf("vault initialized: funding coin %s:%d, vault initial output %s (%d sats), %d transactions\n",
		fundingTxid, vout, vaultInitial.UUID, vaultInitial.Amount, len(builder.Transactions))
	return nil
}

func resolveFundingKey(wifString string, net *chaincfg.Params) (*parameters.KeyPair, error) {
	if wifString == "" {
		return parameters.NewKeyPair()
	}
	wif, err := btcutil.DecodeWIF(wifString)
	if err != nil {
		return nil, fmt.Errorf("decoding private key: %w", err)
	}
	if !wif.IsForNet(net) {
		return nil, fmt.Errorf("private key is not for the regtest network")
	}
	return &parameters.KeyPair{Private: wif.PrivKey}, nil
}

func loadVault() (*vaultplan.Transaction, *vaultplan.Builder, error) {
	data, err := os.ReadFile(filepath.Join(opts.DataDir, vaultDocName))
	if err != nil {
		return nil, nil, fmt.Errorf("reading vault document: %w", err)
	}
	doc, err := persist.Load(data)
	if err != nil {
		return nil, nil, err
	}
	return persist.Reconnect(doc)
}

func (c *infoCommand) Execute(args []string) error {
	if err := initLogging(); err != nil {
		return err
	}
	if !vaultfile.Exists(opts.DataDir) {
		return fmt.Errorf("no vault in %s; run init first", opts.DataDir)
	}
	fundingTx, builder, err := loadVault()
	if err != nil {
		return err
	}

	rpc, err := dialRPC()
	if err != nil {
		return err
	}
	defer rpc.Shutdown()

	result, err := walker.Walk(fundingTx, rpc)
	if err != nil {
		return err
	}

	fmt.Printf("current: %s (%q)\n", result.Current.UUID, result.Current.Name)
	if len(result.Next) == 0 {
		fmt.Println("next: (none)")
	} else {
		fmt.Println("next:")
		for _, tx := range result.Next {
			fmt.Printf("  %s (%q)\n", tx.UUID, tx.Name)
		}
	}
	fmt.Printf("total transactions in tree: %d\n", len(builder.Transactions)+1)
	return nil
}

func (c *broadcastCommand) Execute(args []string) error {
	if err := initLogging(); err != nil {
		return err
	}
	if !vaultfile.Exists(opts.DataDir) {
		return fmt.Errorf("no vault in %s; run init first", opts.DataDir)
	}
	fundingTx, builder, err := loadVault()
	if err != nil {
		return err
	}

	rpc, err := dialRPC()
	if err != nil {
		return err
	}
	defer rpc.Shutdown()

	result, err := walker.Walk(fundingTx, rpc)
	if err != nil {
		return err
	}
	if err := result.IsLegalNext(c.Args.InternalID); err != nil {
		return err
	}

	var target *vaultplan.Transaction
	for _, tx := range builder.Transactions {
		if tx.UUID == c.Args.InternalID {
			target = tx
			break
		}
	}
	if target == nil || target.Finalized == nil {
		return fmt.Errorf("transaction %s has no finalized bitcoin transaction to broadcast", c.Args.InternalID)
	}

	txid, err := rpc.SendRawTransaction(target.Finalized)
	if err != nil {
		return err
	}
	fmt.Printf("broadcast %s as %s\n", target.UUID, txid)
	return nil
}
