package types

import (
	"context"
	"testing"

	"github.com/canopy-network/repledger/pkg/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnregisteredAccounts(t *testing.T) {
	ctx := context.Background()
	app := newTestApp(t)
	require.NoError(t, app.Registry.Upsert(ctx, ledger.Account{Name: "alice", Type: ledger.TypeIndividual}))

	snap := &ledger.Snapshot{
		Rollups: []ledger.Rollup{{Account: "alice"}, {Account: "bob"}},
		Records: []ledger.Record{{From: "carol", To: "alice"}, {From: "bob", To: "carol"}},
	}
	missing, err := app.UnregisteredAccounts(ctx, snap)
	require.NoError(t, err)
	assert.Equal(t, []string{"bob", "carol"}, missing)

	missing, err = app.UnregisteredAccounts(ctx, &ledger.Snapshot{})
	require.NoError(t, err)
	assert.Empty(t, missing)
}
