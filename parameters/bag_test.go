package parameters

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kanzure/go-vaults/vaulterrors"
)

func mustKeyPair(t *testing.T) *KeyPair {
	t.Helper()
	kp, err := NewKeyPair()
	require.NoError(t, err)
	return kp
}

func fullBag(t *testing.T) *Bag {
	t.Helper()
	b, err := New(mustKeyPair(t), mustKeyPair(t), mustKeyPair(t), mustKeyPair(t), mustKeyPair(t), 5)
	require.NoError(t, err)
	return b
}

func TestNewKeyPairProducesDistinctKeys(t *testing.T) {
	a := mustKeyPair(t)
	b := mustKeyPair(t)
	assert.NotEqual(t, a.PubKeyBytes(), b.PubKeyBytes())
}

func TestHash160IsTwentyBytes(t *testing.T) {
	kp := mustKeyPair(t)
	assert.Len(t, kp.Hash160(), 20)
}

func TestValidateRejectsMissingKeys(t *testing.T) {
	_, err := New(nil, mustKeyPair(t), mustKeyPair(t), mustKeyPair(t), mustKeyPair(t), 5)
	require.Error(t, err)
	assert.ErrorIs(t, err, vaulterrors.ErrInvalidParameters)
}

func TestValidateRejectsZeroShards(t *testing.T) {
	_, err := New(mustKeyPair(t), mustKeyPair(t), mustKeyPair(t), mustKeyPair(t), mustKeyPair(t), 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, vaulterrors.ErrInvalidParameters)
}

func TestGenerateEphemeralIsIdempotentPerOutput(t *testing.T) {
	b := fullBag(t)
	p1, err := b.GenerateEphemeral("output-a")
	require.NoError(t, err)
	p2, err := b.GenerateEphemeral("output-a")
	require.NoError(t, err)
	assert.Same(t, p1, p2)
}

func TestGenerateEphemeralIsDistinctAcrossOutputs(t *testing.T) {
	b := fullBag(t)
	pa, err := b.GenerateEphemeral("output-a")
	require.NoError(t, err)
	pb, err := b.GenerateEphemeral("output-b")
	require.NoError(t, err)
	assert.NotEqual(t, pa.Key1.PubKeyBytes(), pb.Key1.PubKeyBytes())
}

func TestDeleteEphemeralKeysForecloseAccess(t *testing.T) {
	b := fullBag(t)
	_, err := b.GenerateEphemeral("output-a")
	require.NoError(t, err)

	b.DeleteEphemeralKeys("output-a")

	_, ok := b.Ephemeral("output-a")
	assert.False(t, ok)

	_, err = b.PublicKeyFor("ephemeral_key_1", "output-a")
	require.Error(t, err)
	assert.ErrorIs(t, err, vaulterrors.ErrInvalidParameters)
}

func TestPublicKeyForResolvesNamedKeys(t *testing.T) {
	b := fullBag(t)
	got, err := b.PublicKeyFor("cold_key1", "")
	require.NoError(t, err)
	assert.Equal(t, b.ColdKey1.PubKeyBytes(), got)

	got, err = b.PublicKeyFor("hot_wallet_key", "")
	require.NoError(t, err)
	assert.Equal(t, b.HotWalletKey.PubKeyBytes(), got)
}

func TestPublicKeyForUnknownPlaceholderFails(t *testing.T) {
	b := fullBag(t)
	_, err := b.PublicKeyFor("not_a_real_placeholder", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, vaulterrors.ErrUnresolvedPlaceholder)
}

func TestPublicKeyForEphemeralRequiresPriorGeneration(t *testing.T) {
	b := fullBag(t)
	_, err := b.PublicKeyFor("ephemeral_key_1", "never-generated")
	require.Error(t, err)
	assert.ErrorIs(t, err, vaulterrors.ErrInvalidParameters)

	pair, err := b.GenerateEphemeral("generated")
	require.NoError(t, err)
	got, err := b.PublicKeyFor("ephemeral_key_2", "generated")
	require.NoError(t, err)
	assert.Equal(t, pair.Key2.PubKeyBytes(), got)
}

func TestHash160ForResolvesUserKeyHash(t *testing.T) {
	b := fullBag(t)
	got, err := b.Hash160For("user_key_hash160", "")
	require.NoError(t, err)
	assert.Equal(t, b.UserKey.Hash160(), got)
}

func TestHash160ForUnknownPlaceholderFails(t *testing.T) {
	b := fullBag(t)
	_, err := b.Hash160For("nonsense", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, vaulterrors.ErrUnresolvedPlaceholder)
}

func TestPrivateKeyForResolvesNamedAndEphemeralKeys(t *testing.T) {
	b := fullBag(t)
	got, err := b.PrivateKeyFor("user_key", "")
	require.NoError(t, err)
	assert.Equal(t, b.UserKey.Private, got)

	pair, err := b.GenerateEphemeral("output-a")
	require.NoError(t, err)
	got, err = b.PrivateKeyFor("ephemeral_key_1", "output-a")
	require.NoError(t, err)
	assert.Equal(t, pair.Key1.Private, got)
}
