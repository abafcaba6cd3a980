// Copyright (c) 2024 go-vaults developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package scripttemplate holds the declarative catalogue of output-script
// and witness-script templates used to parameterize every node of a planned
// transaction tree. Templates are pure data: placeholders in angle brackets
// are substituted by the parameterizer (package scriptbuild), and the
// witness template map tells the pre-sign engine which key signs which
// placeholder.
package scripttemplate

// Kind identifies one of the catalogued script templates. It plays the role
// that a ScriptTemplate subclass played in the source prototype: a tag used
// both to select behavior and to look a template up again after
// deserialization.
type Kind int

const (
	// UserScript is the P2WPKH input coin the user's wallet controls.
	UserScript Kind = iota
	// ColdStorage is spendable by cold-wallet keys after a relative
	// timelock, or immediately by the ephemeral 2-of-2 multisig.
	ColdStorage
	// BurnUnspendable is a provably unspendable output.
	BurnUnspendable
	// BasicPresigned is spendable only by the ephemeral 2-of-2 multisig
	// after a relative timelock; each of its pre-signed children is
	// signed with that same pair.
	BasicPresigned
	// Shard is spendable by the hot wallet after a timelock that scales
	// with the shard index, or immediately by the ephemeral multisig.
	Shard
	// CPFPHook is an anyone-can-spend, zero-value output used for
	// child-pays-for-parent fee bumping.
	CPFPHook
)

// String returns the name used for serialization and error messages.
func (k Kind) String() string {
	switch k {
	case UserScript:
		return "UserScript"
	case ColdStorage:
		return "ColdStorage"
	case BurnUnspendable:
		return "BurnUnspendable"
	case BasicPresigned:
		return "BasicPresigned"
	case Shard:
		return "Shard"
	case CPFPHook:
		return "CPFPHook"
	default:
		return "Unknown"
	}
}

// KindFromString reverses String, for use when rehydrating a persisted tree.
func KindFromString(name string) (Kind, bool) {
	for _, k := range []Kind{UserScript, ColdStorage, BurnUnspendable, BasicPresigned, Shard, CPFPHook} {
		if k.String() == name {
			return k, true
		}
	}
	return 0, false
}

// TimelockSpec describes the named relative-timelock constants a template
// declares, and which witness selector activates which named constant.
type TimelockSpec struct {
	// Replacements maps a placeholder name (e.g. "TIMELOCK1") to its base
	// block-count value, before any per-output timelock multiplier.
	Replacements map[string]int64
	// Selections maps a witness-template selector label to the
	// placeholder name it activates.
	Selections map[string]string
}

// Template is a catalogued, parameterizable script shape.
type Template struct {
	Kind Kind

	// PolicyDefinitions maps a placeholder name to a human description of
	// what it represents. The union of these keys across every catalogued
	// template is the full set of parameters a parameter bag must supply.
	PolicyDefinitions map[string]string

	// ScriptTemplate is the textual script with placeholders like
	// "<ephemeral_key_1>" and "<TIMELOCK1>".
	ScriptTemplate string

	// WitnessTemplateMap maps a witness placeholder (e.g.
	// "ephemeral_sig_1") to the key placeholder that signs it.
	WitnessTemplateMap map[string]string

	// WitnessTemplates maps a selector label ("presigned", "cold-wallet",
	// "hot-wallet", "user") to a space-separated witness-stack template.
	WitnessTemplates map[string]string

	// RelativeTimelocks is nil for templates that declare no timelocks.
	RelativeTimelocks *TimelockSpec

	// CTVAltBranch holds the non-ephemeral signature-check branch of a
	// template that offers one, in the same token syntax as
	// ScriptTemplate. The CTV engine (package ctv) wraps this branch
	// alongside a hash-commitment fragment, since cold-key and
	// hot-wallet spends are open-ended and cannot themselves be
	// committed to by a standard-template-hash. Empty for templates with
	// a single spending path.
	CTVAltBranch string
}

// catalogue is the fixed set of script templates the core provides. It is
// populated once at package init and never mutated afterwards.
var catalogue = map[Kind]*Template{
	UserScript: {
		Kind:              UserScript,
		PolicyDefinitions: map[string]string{"user_key_hash160": "hash160 of user public key"},
		// Bitcoin Core's wallet defaults to P2WPKH, so the "script" here
		// is just the pubkey hash; the P2WPKH wrapping happens in the
		// parameterizer.
		ScriptTemplate:     "<user_key_hash160>",
		WitnessTemplateMap: map[string]string{"user_key_sig": "user_key"},
		WitnessTemplates: map[string]string{
			"user": "<user_key_sig> <user_key>",
		},
	},
	ColdStorage: {
		Kind: ColdStorage,
		PolicyDefinitions: map[string]string{
			"ephemeral_key_1": "ephemeral key, branch 1 of 2-of-2",
			"ephemeral_key_2": "ephemeral key, branch 2 of 2-of-2",
			"cold_key1":       "cold storage key 1 of 2",
			"cold_key2":       "cold storage key 2 of 2",
		},
		ScriptTemplate: `
<ephemeral_key_1> OP_CHECKSIG OP_NOTIF
  <cold_key1> OP_CHECKSIGVERIFY <cold_key2> OP_CHECKSIGVERIFY
  <TIMELOCK1> OP_CHECKSEQUENCEVERIFY
OP_ELSE
  <ephemeral_key_2> OP_CHECKSIG
OP_ENDIF
`,
		WitnessTemplateMap: map[string]string{
			"ephemeral_sig_1": "ephemeral_key_1",
			"ephemeral_sig_2": "ephemeral_key_2",
			"cold_key1_sig":   "cold_key1",
			"cold_key2_sig":   "cold_key2",
		},
		WitnessTemplates: map[string]string{
			// The "cold-wallet" witness can't be parameterized ahead of
			// time because it requires the cold private keys; it exists
			// only so that the cold wallet can eventually spend. Only
			// "presigned" is ever signed by the pre-sign engine.
			"presigned":   "<ephemeral_sig_2> <ephemeral_sig_1>",
			"cold-wallet": "<cold_key2_sig> <cold_key1_sig>",
		},
		RelativeTimelocks: &TimelockSpec{
			Replacements: map[string]int64{"TIMELOCK1": 144},
			Selections:   map[string]string{"cold-wallet": "TIMELOCK1"},
		},
		CTVAltBranch: "<cold_key1> OP_CHECKSIGVERIFY <cold_key2> OP_CHECKSIGVERIFY <TIMELOCK1> OP_CHECKSEQUENCEVERIFY OP_1",
	},
	BurnUnspendable: {
		Kind:               BurnUnspendable,
		PolicyDefinitions:  map[string]string{"unspendable_key_1": "some unknowable key"},
		ScriptTemplate:     "<unspendable_key_1> OP_CHECKSIG",
		WitnessTemplateMap: map[string]string{},
		WitnessTemplates:   map[string]string{},
	},
	BasicPresigned: {
		Kind: BasicPresigned,
		PolicyDefinitions: map[string]string{
			"ephemeral_key_1": "ephemeral key, branch 1 of 2-of-2",
			"ephemeral_key_2": "ephemeral key, branch 2 of 2-of-2",
		},
		ScriptTemplate: "<ephemeral_key_1> OP_CHECKSIGVERIFY <ephemeral_key_2> OP_CHECKSIGVERIFY <TIMELOCK1> OP_CHECKSEQUENCEVERIFY",
		WitnessTemplateMap: map[string]string{
			"ephemeral_sig_1": "ephemeral_key_1",
			"ephemeral_sig_2": "ephemeral_key_2",
		},
		WitnessTemplates: map[string]string{
			"presigned": "<ephemeral_sig_2> <ephemeral_sig_1>",
		},
		RelativeTimelocks: &TimelockSpec{
			Replacements: map[string]int64{"TIMELOCK1": 144},
			Selections:   map[string]string{"presigned": "TIMELOCK1"},
		},
	},
	Shard: {
		Kind: Shard,
		PolicyDefinitions: map[string]string{
			"hot_wallet_key":  "hot wallet spending key",
			"ephemeral_key_1": "ephemeral key, branch 1 of 2-of-2",
			"ephemeral_key_2": "ephemeral key, branch 2 of 2-of-2",
		},
		ScriptTemplate: `
<hot_wallet_key> OP_CHECKSIG OP_NOTIF
  <ephemeral_key_1> OP_CHECKSIGVERIFY <ephemeral_key_2> OP_CHECKSIGVERIFY
OP_ELSE
  <TIMELOCK1> OP_CHECKSEQUENCEVERIFY
OP_ENDIF
`,
		WitnessTemplateMap: map[string]string{
			"ephemeral_sig_1":    "ephemeral_key_1",
			"ephemeral_sig_2":    "ephemeral_key_2",
			"hot_wallet_key_sig": "hot_wallet_key",
		},
		WitnessTemplates: map[string]string{
			"presigned":  "<ephemeral_sig_2> <ephemeral_sig_1>",
			"hot-wallet": "<hot_wallet_key_sig>",
		},
		RelativeTimelocks: &TimelockSpec{
			Replacements: map[string]int64{"TIMELOCK1": 144},
			Selections:   map[string]string{"hot-wallet": "TIMELOCK1"},
		},
		CTVAltBranch: "<hot_wallet_key> OP_CHECKSIGVERIFY <TIMELOCK1> OP_CHECKSEQUENCEVERIFY OP_1",
	},
	CPFPHook: {
		Kind: CPFPHook,
		// python-bitcoinlib's OP_TRUE is really just OP_1; a few libraries
		// don't alias the two, so spell it out the same way here.
		ScriptTemplate:     "OP_1",
		WitnessTemplateMap: map[string]string{},
		WitnessTemplates:   map[string]string{},
	},
}

// Get returns the catalogued template for kind.
func Get(kind Kind) *Template {
	return catalogue[kind]
}

// RequiredParameters returns the union of every catalogued template's
// PolicyDefinitions keys. A parameter bag must supply all of them before a
// vault can be built.
func RequiredParameters() []string {
	seen := map[string]bool{}
	var out []string
	for _, tmpl := range catalogue {
		for name := range tmpl.PolicyDefinitions {
			if !seen[name] {
				seen[name] = true
				out = append(out, name)
			}
		}
	}
	return out
}
