// Copyright (c) 2024 go-vaults developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package parameters implements the typed parameter bag that replaces the
// source prototype's dynamic string-keyed dictionary (spec.md §9,
// "Parameter bag"): a constructor-time structural check stands in for the
// prototype's required_parameters() runtime sanity check.
package parameters

import (
	"crypto/sha256"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // hash160 requires ripemd160; no replacement exists.

	"github.com/kanzure/go-vaults/vaulterrors"
)

// KeyPair bundles a private key with its derived compressed public key.
// Most vault keys are generated in-process for prototyping; only the
// private half of keys the host wallet controls (cold storage, hot
// wallet) would, in production use, live outside this process entirely.
type KeyPair struct {
	Private *btcec.PrivateKey
}

// NewKeyPair generates a fresh secp256k1 keypair.
func NewKeyPair() (*KeyPair, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generating keypair: %w", err)
	}
	return &KeyPair{Private: priv}, nil
}

// PubKeyBytes returns the 33-byte compressed public key encoding.
func (k *KeyPair) PubKeyBytes() []byte {
	return k.Private.PubKey().SerializeCompressed()
}

// Hash160 returns RIPEMD160(SHA256(pubkey)), the encoding used by
// UserScript and any "_hash160" placeholder.
func (k *KeyPair) Hash160() []byte {
	return hash160(k.PubKeyBytes())
}

func hash160(b []byte) []byte {
	sha := shaSum(b)
	r := ripemd160.New()
	r.Write(sha)
	return r.Sum(nil)
}

// EphemeralPair is the 2-of-2 ephemeral branch generated fresh for a
// single planned output. Every ColdStorage, BasicPresigned, and Shard
// output gets its own pair so that deleting it, once its sole pre-signed
// child is signed, irreversibly forecloses any other spend of that
// branch.
type EphemeralPair struct {
	Key1 *KeyPair
	Key2 *KeyPair
}

// Bag is the typed record of every key and policy parameter a vault build
// needs, replacing the source prototype's dict keyed by placeholder name.
type Bag struct {
	UserKey        *KeyPair
	ColdKey1       *KeyPair
	ColdKey2       *KeyPair
	HotWalletKey   *KeyPair
	UnspendableKey *KeyPair

	NumShards int
	// EnableSweep toggles the optional telescoping-subset sweep
	// transactions (spec.md §4.2); disabled by default because it makes
	// tree size super-linear in the number of shards.
	EnableSweep bool
	// DisableFundingCPFPHook skips the CPFP hook on the funding-commit
	// transaction, matching the planner's one named exception to "every
	// PlannedTx receives a CPFP hook".
	DisableFundingCPFPHook bool

	mu        sync.Mutex
	ephemeral map[string]*EphemeralPair
}

// New constructs a Bag and validates that every required key is present.
func New(userKey, coldKey1, coldKey2, hotWalletKey, unspendableKey *KeyPair, numShards int) (*Bag, error) {
	b := &Bag{
		UserKey:        userKey,
		ColdKey1:       coldKey1,
		ColdKey2:       coldKey2,
		HotWalletKey:   hotWalletKey,
		UnspendableKey: unspendableKey,
		NumShards:      numShards,
		ephemeral:      make(map[string]*EphemeralPair),
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// Validate reports whether every required parameter is present and
// structurally sane. It is the constructor-time analog of the source
// prototype's required_parameters() check.
func (b *Bag) Validate() error {
	missing := map[string]bool{
		"user_key":          b.UserKey == nil,
		"cold_key1":         b.ColdKey1 == nil,
		"cold_key2":         b.ColdKey2 == nil,
		"hot_wallet_key":    b.HotWalletKey == nil,
		"unspendable_key_1": b.UnspendableKey == nil,
	}
	for name, isMissing := range missing {
		if isMissing {
			return fmt.Errorf("missing required parameter %q: %w", name, vaulterrors.ErrInvalidParameters)
		}
	}
	if b.NumShards < 1 {
		return fmt.Errorf("num_shards must be >= 1, got %d: %w", b.NumShards, vaulterrors.ErrInvalidParameters)
	}
	return nil
}

// GenerateEphemeral generates and stores a fresh ephemeral 2-of-2 pair for
// the output identified by outputUUID. Calling it twice for the same
// uuid returns the already-generated pair rather than regenerating it, so
// that planning and re-parameterizing the same output stays idempotent.
func (b *Bag) GenerateEphemeral(outputUUID string) (*EphemeralPair, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.ephemeral[outputUUID]; ok {
		return p, nil
	}
	k1, err := NewKeyPair()
	if err != nil {
		return nil, err
	}
	k2, err := NewKeyPair()
	if err != nil {
		return nil, err
	}
	p := &EphemeralPair{Key1: k1, Key2: k2}
	b.ephemeral[outputUUID] = p
	return p, nil
}

// Ephemeral returns the ephemeral pair previously generated for
// outputUUID, if any.
func (b *Bag) Ephemeral(outputUUID string) (*EphemeralPair, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.ephemeral[outputUUID]
	return p, ok
}

// DeleteEphemeralKeys drops the in-memory ephemeral pair for outputUUID.
// This is the hook spec.md §5 describes: "the core exposes a hook for
// this deletion but does not itself guarantee secure erasure." Once
// called (after that output's sole pre-signed child has been signed), no
// further transaction on that branch can ever be signed.
func (b *Bag) DeleteEphemeralKeys(outputUUID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.ephemeral, outputUUID)
}

// PublicKeyFor resolves a script-template placeholder name to the public
// key bytes that should be substituted for it. outputUUID scopes
// "ephemeral_key_1"/"ephemeral_key_2" to the output that owns that
// ephemeral branch.
func (b *Bag) PublicKeyFor(placeholder, outputUUID string) ([]byte, error) {
	switch placeholder {
	case "cold_key1":
		return b.ColdKey1.PubKeyBytes(), nil
	case "cold_key2":
		return b.ColdKey2.PubKeyBytes(), nil
	case "hot_wallet_key":
		return b.HotWalletKey.PubKeyBytes(), nil
	case "unspendable_key_1":
		return b.UnspendableKey.PubKeyBytes(), nil
	case "user_key":
		return b.UserKey.PubKeyBytes(), nil
	case "ephemeral_key_1", "ephemeral_key_2":
		pair, ok := b.Ephemeral(outputUUID)
		if !ok {
			return nil, fmt.Errorf("no ephemeral keys generated for output %s: %w", outputUUID, vaulterrors.ErrInvalidParameters)
		}
		if placeholder == "ephemeral_key_1" {
			return pair.Key1.PubKeyBytes(), nil
		}
		return pair.Key2.PubKeyBytes(), nil
	default:
		return nil, fmt.Errorf("unknown key placeholder %q: %w", placeholder, vaulterrors.ErrUnresolvedPlaceholder)
	}
}

// Hash160For resolves a "_hash160"-suffixed placeholder to its hash160
// bytes.
func (b *Bag) Hash160For(placeholder, outputUUID string) ([]byte, error) {
	switch placeholder {
	case "user_key_hash160":
		return b.UserKey.Hash160(), nil
	default:
		return nil, fmt.Errorf("unknown hash placeholder %q: %w", placeholder, vaulterrors.ErrUnresolvedPlaceholder)
	}
}

// PrivateKeyFor resolves a witness-template key placeholder to the
// private key that must sign with it.
func (b *Bag) PrivateKeyFor(placeholder, outputUUID string) (*btcec.PrivateKey, error) {
	switch placeholder {
	case "cold_key1":
		return b.ColdKey1.Private, nil
	case "cold_key2":
		return b.ColdKey2.Private, nil
	case "hot_wallet_key":
		return b.HotWalletKey.Private, nil
	case "user_key":
		return b.UserKey.Private, nil
	case "ephemeral_key_1", "ephemeral_key_2":
		pair, ok := b.Ephemeral(outputUUID)
		if !ok {
			return nil, fmt.Errorf("no ephemeral keys generated for output %s: %w", outputUUID, vaulterrors.ErrInvalidParameters)
		}
		if placeholder == "ephemeral_key_1" {
			return pair.Key1.Private, nil
		}
		return pair.Key2.Private, nil
	default:
		return nil, fmt.Errorf("unknown key placeholder %q: %w", placeholder, vaulterrors.ErrUnresolvedPlaceholder)
	}
}

// shaSum is broken out so hash160 reads as two named hash passes.
func shaSum(b []byte) []byte {
	h := sha256.Sum256(b)
	return h[:]
}
