package persist

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/kanzure/go-vaults/parameters"
	"github.com/kanzure/go-vaults/planner"
	"github.com/kanzure/go-vaults/scripttemplate"
	"github.com/kanzure/go-vaults/vaultplan"
)

// TestRoundTripPreservesGeneratedTreeTopology sweeps randomly generated
// vault trees (varying shard count and funding amount) through
// Save/Marshal/Load/Reconnect and checks that every transaction's id,
// uuid, name, and amount survive, and that the reconnected tree's input
// and child-output wiring matches the original builder's, node for node
// in builder order.
func TestRoundTripPreservesGeneratedTreeTopology(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		amount := rapid.Int64Range(12, 1_000_000_000).Draw(rt, "amount")
		numShards := rapid.IntRange(1, 8).Draw(rt, "numShards")

		kp := func() *parameters.KeyPair {
			k, err := parameters.NewKeyPair()
			require.NoError(t, err)
			return k
		}
		bag, err := parameters.New(kp(), kp(), kp(), kp(), kp(), numShards)
		require.NoError(t, err)

		funding := vaultplan.NewFundingTransaction("initial transaction (from user)", nil)
		fundingOutput := funding.AddOutput("funding coin", scripttemplate.UserScript, amount, 0)

		builder, _, err := planner.SetupVault(fundingOutput, bag)
		require.NoError(t, err)

		doc, err := Save(funding, builder)
		require.NoError(t, err)
		data, err := Marshal(doc)
		require.NoError(t, err)

		loadedDoc, err := Load(data)
		require.NoError(t, err)
		loadedFunding, loadedBuilder, err := Reconnect(loadedDoc)
		require.NoError(t, err)

		require.Equal(t, funding.UUID, loadedFunding.UUID)
		require.Equal(t, len(builder.Transactions), len(loadedBuilder.Transactions))

		byUUID := make(map[string]*vaultplan.Transaction, len(loadedBuilder.Transactions))
		for _, tx := range loadedBuilder.Transactions {
			byUUID[tx.UUID] = tx
		}

		for _, orig := range builder.Transactions {
			got, ok := byUUID[orig.UUID]
			require.Truef(t, ok, "transaction %s missing after round trip", orig.UUID)
			require.Equal(t, orig.ID, got.ID)
			require.Equal(t, orig.Name, got.Name)
			require.Equal(t, len(orig.Outputs), len(got.Outputs))
			require.Equal(t, len(orig.Inputs), len(got.Inputs))

			for i, o := range orig.Outputs {
				require.Equal(t, o.ID, got.Outputs[i].ID)
				require.Equal(t, o.UUID, got.Outputs[i].UUID)
				require.Equal(t, o.Name, got.Outputs[i].Name)
				require.Equal(t, o.Amount, got.Outputs[i].Amount)
				require.Equal(t, o.TemplateKind, got.Outputs[i].TemplateKind)
				require.Equal(t, len(o.Children), len(got.Outputs[i].Children))
			}
			for i, in := range orig.Inputs {
				require.Equal(t, in.UTXO.UUID, got.Inputs[i].UTXO.UUID)
				require.Equal(t, in.Selector, got.Inputs[i].Selector)
			}
		}
	})
}
