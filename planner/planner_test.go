package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kanzure/go-vaults/parameters"
	"github.com/kanzure/go-vaults/scripttemplate"
	"github.com/kanzure/go-vaults/vaultplan"
)

func testBag(t *testing.T, numShards int) *parameters.Bag {
	t.Helper()
	kp := func() *parameters.KeyPair {
		k, err := parameters.NewKeyPair()
		require.NoError(t, err)
		return k
	}
	b, err := parameters.New(kp(), kp(), kp(), kp(), kp(), numShards)
	require.NoError(t, err)
	return b
}

// TestMakeShardingTransactionEvenSplit exercises the "build and save"
// scenario: 200000000 split 5 ways divides evenly, so every shard
// (including shard 0, which always absorbs the remainder) gets the same
// amount.
func TestMakeShardingTransactionEvenSplit(t *testing.T) {
	b := vaultplan.NewBuilder()
	bag := testBag(t, 5)
	parent := b.NewTransaction("parent")
	vaultOut := parent.AddOutput("vault initial", scripttemplate.BasicPresigned, 200000000, 0)

	tx, err := MakeShardingTransaction(b, vaultOut, 5, bag)
	require.NoError(t, err)
	require.Len(t, tx.Outputs, 6) // 5 shards + CPFP hook

	var total int64
	for i := 0; i < 5; i++ {
		assert.Equal(t, int64(40000000), tx.Outputs[i].Amount)
		total += tx.Outputs[i].Amount
	}
	assert.Equal(t, int64(200000000), total)
}

// TestMakeShardingTransactionAbsorbsRemainder exercises the "amount
// remainder" boundary case: dividing 7084449357 into 100 shards leaves a
// remainder of 57 satoshis, which shard 0 must absorb so the total is
// conserved exactly.
func TestMakeShardingTransactionAbsorbsRemainder(t *testing.T) {
	b := vaultplan.NewBuilder()
	bag := testBag(t, 100)
	parent := b.NewTransaction("parent")
	vaultOut := parent.AddOutput("vault initial", scripttemplate.BasicPresigned, 7084449357, 0)

	tx, err := MakeShardingTransaction(b, vaultOut, 100, bag)
	require.NoError(t, err)

	assert.Equal(t, int64(70844550), tx.Outputs[0].Amount)
	var total int64
	for i := 0; i < 100; i++ {
		if i == 0 {
			continue
		}
		assert.Equal(t, int64(70844493), tx.Outputs[i].Amount)
		total += tx.Outputs[i].Amount
	}
	total += tx.Outputs[0].Amount
	assert.Equal(t, int64(7084449357), total)
}

func TestMakeShardingTransactionStaggersTimelockMultiplierByIndex(t *testing.T) {
	b := vaultplan.NewBuilder()
	bag := testBag(t, 3)
	parent := b.NewTransaction("parent")
	vaultOut := parent.AddOutput("vault initial", scripttemplate.BasicPresigned, 300, 0)

	tx, err := MakeShardingTransaction(b, vaultOut, 3, bag)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		assert.Equal(t, int64(i), tx.Outputs[i].TimelockMultiplier)
	}
}

func TestMakePushToColdStorageTransactionHasBurnChild(t *testing.T) {
	b := vaultplan.NewBuilder()
	bag := testBag(t, 5)
	parent := b.NewTransaction("parent")
	vaultOut := parent.AddOutput("vault initial", scripttemplate.BasicPresigned, 1000, 0)

	tx, err := MakePushToColdStorageTransaction(b, vaultOut, bag)
	require.NoError(t, err)
	require.Len(t, tx.Outputs, 2) // cold storage + CPFP hook

	coldOut := tx.Outputs[0]
	assert.Equal(t, scripttemplate.ColdStorage, coldOut.TemplateKind)
	assert.Equal(t, int64(1000), coldOut.Amount)
	require.Len(t, coldOut.Children, 1)
	assert.Equal(t, "burn", coldOut.Children[0].Name)
}

func TestMakeOneShardPossibleSpendTerminatesAtOneShard(t *testing.T) {
	b := vaultplan.NewBuilder()
	bag := testBag(t, 1)
	parent := b.NewTransaction("parent")
	vaultOut := parent.AddOutput("vault initial", scripttemplate.BasicPresigned, 1000, 0)

	tx, err := MakeOneShardPossibleSpend(b, vaultOut, 1, bag)
	require.NoError(t, err)

	// Only the exit shard and the CPFP hook; no re-vault output at the
	// bottom of the recursion.
	require.Len(t, tx.Outputs, 2)
	assert.Equal(t, "exit shard", tx.Outputs[0].Name)
	assert.Equal(t, int64(1000), tx.Outputs[0].Amount)
}

func TestMakeOneShardPossibleSpendRecursesWithRevault(t *testing.T) {
	b := vaultplan.NewBuilder()
	bag := testBag(t, 3)
	parent := b.NewTransaction("parent")
	vaultOut := parent.AddOutput("vault initial", scripttemplate.BasicPresigned, 900, 0)

	tx, err := MakeOneShardPossibleSpend(b, vaultOut, 3, bag)
	require.NoError(t, err)

	require.Len(t, tx.Outputs, 3) // exit shard, re-vault, CPFP hook
	exitOut := tx.Outputs[0]
	revaultOut := tx.Outputs[1]
	assert.Equal(t, "re-vault", revaultOut.Name)
	assert.Equal(t, scripttemplate.BasicPresigned, revaultOut.TemplateKind)
	assert.Equal(t, int64(900), exitOut.Amount+revaultOut.Amount)

	// The re-vault output must expose the same three children as any
	// BasicPresigned output.
	require.Len(t, revaultOut.Children, 3)
}

func TestSetupVaultBuildsValidTreeAndPassesSafetyCheck(t *testing.T) {
	bag := testBag(t, 5)
	funding := vaultplan.NewFundingTransaction("initial transaction (from user)", nil)
	fundingOut := funding.AddOutput("user coin", scripttemplate.UserScript, 1000000, 0)

	builder, vaultInitial, err := SetupVault(fundingOut, bag)
	require.NoError(t, err)
	require.NotNil(t, builder)
	assert.Equal(t, scripttemplate.BasicPresigned, vaultInitial.TemplateKind)
	assert.Equal(t, int64(1000000), vaultInitial.Amount)
	assert.NotEmpty(t, builder.Transactions)
}

func TestSetupVaultDisableFundingCPFPHookOmitsHook(t *testing.T) {
	bag := testBag(t, 2)
	bag.DisableFundingCPFPHook = true
	funding := vaultplan.NewFundingTransaction("initial transaction (from user)", nil)
	fundingOut := funding.AddOutput("user coin", scripttemplate.UserScript, 1000, 0)

	_, _, err := SetupVault(fundingOut, bag)
	require.NoError(t, err)

	commit := fundingOut.Children[0]
	assert.Nil(t, commit.CPFPHook)
}

func TestSetupVaultWithSweepEnabledBuildsTelescopingSubsets(t *testing.T) {
	bag := testBag(t, 3)
	bag.EnableSweep = true
	funding := vaultplan.NewFundingTransaction("initial transaction (from user)", nil)
	fundingOut := funding.AddOutput("user coin", scripttemplate.UserScript, 900, 0)

	builder, _, err := SetupVault(fundingOut, bag)
	require.NoError(t, err)

	var sweepCount int
	for _, tx := range builder.Transactions {
		if tx.Name == "sweep to cold storage" {
			sweepCount++
		}
	}
	// 3 shards at the top level produces telescoping subsets for i in
	// 0..len(shards)-2, i.e. 2 sweep transactions.
	assert.Equal(t, 2, sweepCount)
}

func TestMakeTelescopingSubsetsNoopBelowTwoShards(t *testing.T) {
	b := vaultplan.NewBuilder()
	bag := testBag(t, 1)
	parent := b.NewTransaction("parent")
	vaultOut := parent.AddOutput("vault initial", scripttemplate.BasicPresigned, 1000, 0)

	tx, err := MakeShardingTransaction(b, vaultOut, 1, bag)
	require.NoError(t, err)

	before := len(b.Transactions)
	require.NoError(t, MakeTelescopingSubsets(b, tx, bag))
	assert.Equal(t, before, len(b.Transactions))
}
