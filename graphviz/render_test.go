package graphviz

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kanzure/go-vaults/scripttemplate"
	"github.com/kanzure/go-vaults/vaultplan"
)

func TestWriteProducesWellFormedDigraph(t *testing.T) {
	b := vaultplan.NewBuilder()
	funding := vaultplan.NewFundingTransaction("initial transaction (from user)", nil)
	fundingOut := funding.AddOutput("user coin", scripttemplate.UserScript, 1000, 0)

	commit := b.NewTransaction("funding commit")
	commit.AddInput(fundingOut, "user")
	commit.AddOutput("vault initial", scripttemplate.BasicPresigned, 1000, 0)

	var buf strings.Builder
	require.NoError(t, Write(&buf, funding))

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "digraph vault {\n"))
	assert.True(t, strings.HasSuffix(out, "}\n"))
	assert.Contains(t, out, "funding commit")
	assert.Contains(t, out, "vault initial")
	assert.Contains(t, out, "1000 sats")
}

func TestWriteVisitsSharedOutputOnlyOnce(t *testing.T) {
	b := vaultplan.NewBuilder()
	funding := vaultplan.NewFundingTransaction("initial transaction (from user)", nil)
	fundingOut := funding.AddOutput("user coin", scripttemplate.UserScript, 1000, 0)

	commit := b.NewTransaction("funding commit")
	commit.AddInput(fundingOut, "user")
	vaultOut := commit.AddOutput("vault initial", scripttemplate.BasicPresigned, 1000, 0)

	childA := b.NewTransaction("child a")
	childA.AddInput(vaultOut, "presigned")
	childA.AddOutput("burned UTXO", scripttemplate.BurnUnspendable, 1000, 0)

	childB := b.NewTransaction("child b")
	childB.AddInput(vaultOut, "presigned")
	childB.AddOutput("burned UTXO", scripttemplate.BurnUnspendable, 1000, 0)

	var buf strings.Builder
	require.NoError(t, Write(&buf, funding))

	out := buf.String()
	assert.Equal(t, 1, strings.Count(out, "\"tx_"+commit.UUID+"\" [label"))
	assert.Contains(t, out, childA.UUID)
	assert.Contains(t, out, childB.UUID)
}
