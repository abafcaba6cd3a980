package planner

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/kanzure/go-vaults/parameters"
	"github.com/kanzure/go-vaults/scripttemplate"
	"github.com/kanzure/go-vaults/vaultplan"
)

// TestSetupVaultInvariantsHoldAcrossGeneratedTrees sweeps random funding
// amounts and shard counts through SetupVault and checks the
// universally-quantified tree invariants: every non-funding transaction
// conserves its input amount as its output amount, every output that is
// neither the CPFP hook nor burned has at least one spending child, every
// input references an output owned by a transaction with a strictly
// smaller id than its own, and every output without a VoutOverride sits
// at its own position in its owner's output list.
func TestSetupVaultInvariantsHoldAcrossGeneratedTrees(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		amount := rapid.Int64Range(6, 10_000_000_000).Draw(rt, "amount")
		numShards := rapid.IntRange(1, 12).Draw(rt, "numShards")
		enableSweep := rapid.Bool().Draw(rt, "enableSweep")
		disableFundingHook := rapid.Bool().Draw(rt, "disableFundingHook")

		kp := func() *parameters.KeyPair {
			k, err := parameters.NewKeyPair()
			require.NoError(t, err)
			return k
		}
		bag, err := parameters.New(kp(), kp(), kp(), kp(), kp(), numShards)
		require.NoError(t, err)
		bag.EnableSweep = enableSweep
		bag.DisableFundingCPFPHook = disableFundingHook

		funding := vaultplan.NewFundingTransaction("initial transaction (from user)", nil)
		fundingOutput := funding.AddOutput("funding coin", scripttemplate.UserScript, amount, 0)

		builder, vaultInitial, err := SetupVault(fundingOutput, bag)
		require.NoError(t, err)
		require.NotNil(t, vaultInitial)

		for _, tx := range builder.Transactions {
			if !tx.IsFunding {
				require.Equalf(t, tx.InputAmount(), tx.OutputAmount(),
					"transaction %s: input amount must equal output amount", tx.UUID)
			}
			for _, in := range tx.Inputs {
				require.Lessf(t, in.UTXO.Owner.ID, tx.ID,
					"input %s: parent transaction id must be less than child id", in.UUID)
			}
			for i, o := range tx.Outputs {
				if o.VoutOverride == nil {
					require.Equal(t, uint32(i), o.Vout())
				}
				if !o.IsCPFPHook() && !o.IsBurned() {
					require.NotEmptyf(t, o.Children, "output %s (%q) must have at least one child", o.UUID, o.Name)
				}
			}
		}
	})
}
