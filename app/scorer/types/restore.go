package types

import (
	"context"
	"errors"
	"sort"

	"github.com/canopy-network/repledger/pkg/ledger"
)

// UnregisteredAccounts lists, sorted, the accounts a restored snapshot holds state for
// that the registry does not know. Transfers touching them are ignored until they are
// upserted again.
func (a *App) UnregisteredAccounts(ctx context.Context, snap *ledger.Snapshot) ([]string, error) {
	names := make(map[string]struct{})
	for _, r := range snap.Rollups {
		names[r.Account] = struct{}{}
	}
	for _, r := range snap.Records {
		names[r.From] = struct{}{}
		names[r.To] = struct{}{}
	}

	var missing []string
	for name := range names {
		_, err := a.Registry.Lookup(ctx, name)
		switch {
		case errors.Is(err, ledger.ErrUnknownAccount):
			missing = append(missing, name)
		case err != nil:
			return nil, err
		}
	}
	sort.Strings(missing)
	return missing, nil
}
