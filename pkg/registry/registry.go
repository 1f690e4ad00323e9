package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/canopy-network/repledger/pkg/ledger"
	"github.com/google/btree"
	"github.com/puzpuzpuz/xsync/v4"
)

// Memory is an in-process user registry. Organizations are additionally kept in name
// order so chunked jobs can walk them from a cursor.
type Memory struct {
	accounts *xsync.Map[string, ledger.Account]

	mu   sync.RWMutex
	orgs *btree.BTreeG[string]
}

func NewMemory() *Memory {
	return &Memory{
		accounts: xsync.NewMap[string, ledger.Account](),
		orgs:     btree.NewG[string](16, func(a, b string) bool { return a < b }),
	}
}

func validate(a ledger.Account) error {
	if a.Name == "" {
		return fmt.Errorf("account without a name: %w", ledger.ErrInvariantViolation)
	}
	switch a.Type {
	case ledger.TypeIndividual, ledger.TypeOrganization:
	default:
		return fmt.Errorf("account %s has type %q: %w", a.Name, a.Type, ledger.ErrInvariantViolation)
	}
	if a.RepMultiplier < 0 {
		return fmt.Errorf("account %s has a negative multiplier: %w", a.Name, ledger.ErrInvariantViolation)
	}
	return nil
}

// Upsert creates or replaces an account. Visitors are the default status.
func (m *Memory) Upsert(_ context.Context, a ledger.Account) error {
	if err := validate(a); err != nil {
		return err
	}
	if a.Status == "" {
		a.Status = ledger.StatusVisitor
		if a.IsOrganization() {
			a.Status = ledger.StatusOrganization
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, existed := m.accounts.Load(a.Name)
	if existed && prev.IsOrganization() && !a.IsOrganization() {
		m.orgs.Delete(a.Name)
	}
	if a.IsOrganization() {
		m.orgs.ReplaceOrInsert(a.Name)
	}
	m.accounts.Store(a.Name, a)
	return nil
}

func (m *Memory) Delete(_ context.Context, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts.Delete(name)
	m.orgs.Delete(name)
}

func (m *Memory) Lookup(_ context.Context, name string) (ledger.Account, error) {
	a, ok := m.accounts.Load(name)
	if !ok {
		return ledger.Account{}, fmt.Errorf("%s: %w", name, ledger.ErrUnknownAccount)
	}
	return a, nil
}

func (m *Memory) SetStatus(_ context.Context, name string, status ledger.Status) error {
	var found bool
	m.accounts.Compute(name, func(a ledger.Account, loaded bool) (ledger.Account, xsync.ComputeOp) {
		if !loaded {
			return a, xsync.CancelOp
		}
		found = true
		a.Status = status
		return a, xsync.UpdateOp
	})
	if !found {
		return fmt.Errorf("%s: %w", name, ledger.ErrUnknownAccount)
	}
	return nil
}

// Organizations returns up to limit organization names strictly after cursor, in name order.
func (m *Memory) Organizations(_ context.Context, after string, limit int) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	m.orgs.AscendGreaterOrEqual(after, func(name string) bool {
		if name == after {
			return true
		}
		if limit > 0 && len(out) >= limit {
			return false
		}
		out = append(out, name)
		return true
	})
	return out, nil
}

func (m *Memory) CountOrganizations() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.orgs.Len()
}

// Referrals counts the accounts referred by name and how many of them became residents or citizens.
func (m *Memory) Referrals(_ context.Context, name string) (total, residents int64, err error) {
	m.accounts.Range(func(_ string, a ledger.Account) bool {
		if a.Referrer != name {
			return true
		}
		total++
		if a.Status == ledger.StatusResident || a.Status == ledger.StatusCitizen {
			residents++
		}
		return true
	})
	return total, residents, nil
}

// All lists every account; intended for admin listings.
func (m *Memory) All() []ledger.Account {
	var out []ledger.Account
	m.accounts.Range(func(_ string, a ledger.Account) bool {
		out = append(out, a)
		return true
	})
	return out
}
