package scriptbuild

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kanzure/go-vaults/parameters"
	"github.com/kanzure/go-vaults/scripttemplate"
	"github.com/kanzure/go-vaults/vaultplan"
	"github.com/kanzure/go-vaults/vaulterrors"
)

func testBag(t *testing.T) *parameters.Bag {
	t.Helper()
	kp := func() *parameters.KeyPair {
		k, err := parameters.NewKeyPair()
		require.NoError(t, err)
		return k
	}
	b, err := parameters.New(kp(), kp(), kp(), kp(), kp(), 5)
	require.NoError(t, err)
	return b
}

func TestEncodeScriptNumZeroIsEmpty(t *testing.T) {
	assert.Empty(t, EncodeScriptNum(0))
}

func TestEncodeScriptNumMinimalEncoding(t *testing.T) {
	assert.Equal(t, []byte{0x90, 0x00}, EncodeScriptNum(144))
	assert.Equal(t, []byte{0x7f}, EncodeScriptNum(127))
}

func TestEncodeScriptNumPanicsOnNegative(t *testing.T) {
	assert.Panics(t, func() { EncodeScriptNum(-1) })
}

func TestTokenizeNormalisesWhitespace(t *testing.T) {
	got := tokenize("OP_DUP   OP_HASH160\n<user_key_hash160> OP_EQUALVERIFY")
	assert.Equal(t, []string{"OP_DUP", "OP_HASH160", "<user_key_hash160>", "OP_EQUALVERIFY"}, got)
}

func TestParameterizeOutputUserScriptIsP2WPKH(t *testing.T) {
	bag := testBag(t)
	b := vaultplan.NewBuilder()
	tx := b.NewTransaction("funding")
	out := tx.AddOutput("user coin", scripttemplate.UserScript, 1000, 0)

	err := ParameterizeOutput(out, bag, &chaincfg.RegressionNetParams)
	require.NoError(t, err)
	assert.True(t, out.Finalized)
	assert.Empty(t, out.RedeemScript)
	assert.NotEmpty(t, out.ScriptPubKey)
	assert.NotEmpty(t, out.Address)
}

func TestParameterizeOutputColdStorageGeneratesEphemeralAndP2WSH(t *testing.T) {
	bag := testBag(t)
	b := vaultplan.NewBuilder()
	tx := b.NewTransaction("tx")
	out := tx.AddOutput("cold storage", scripttemplate.ColdStorage, 1000, 0)

	err := ParameterizeOutput(out, bag, &chaincfg.RegressionNetParams)
	require.NoError(t, err)
	assert.True(t, out.Finalized)
	assert.NotEmpty(t, out.RedeemScript)
	assert.NotEmpty(t, out.ScriptPubKey)

	_, ok := bag.Ephemeral(out.UUID)
	assert.True(t, ok)
}

func TestParameterizeOutputShardTimelockOverflowFails(t *testing.T) {
	bag := testBag(t)
	b := vaultplan.NewBuilder()
	tx := b.NewTransaction("sharding")
	out := tx.AddOutput("shard 456", scripttemplate.Shard, 1000, 456)

	err := ParameterizeOutput(out, bag, &chaincfg.RegressionNetParams)
	require.Error(t, err)
	assert.ErrorIs(t, err, vaulterrors.ErrTimelockOverflow)
}

func TestParameterizeOutputUnknownTemplateKindFails(t *testing.T) {
	bag := testBag(t)
	b := vaultplan.NewBuilder()
	tx := b.NewTransaction("tx")
	out := tx.AddOutput("cold storage", scripttemplate.ColdStorage, 1000, 0)
	out.TemplateKind = scripttemplate.Kind(99)

	err := ParameterizeOutput(out, bag, &chaincfg.RegressionNetParams)
	require.Error(t, err)
	assert.ErrorIs(t, err, vaulterrors.ErrInvalidPlan)
}

func TestParameterizeTreeParameterizesEveryOutput(t *testing.T) {
	bag := testBag(t)
	b := vaultplan.NewBuilder()
	tx := b.NewTransaction("tx")
	out1 := tx.AddOutput("shard one", scripttemplate.Shard, 1000, 1)
	out2 := tx.AddOutput("shard two", scripttemplate.Shard, 1000, 2)

	err := ParameterizeTree([]*vaultplan.Output{out1, out2}, bag, &chaincfg.RegressionNetParams)
	require.NoError(t, err)
	assert.True(t, out1.Finalized)
	assert.True(t, out2.Finalized)
}
