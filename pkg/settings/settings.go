package settings

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/canopy-network/repledger/pkg/ledger"
	"github.com/puzpuzpuz/xsync/v4"
)

// Store is the score configuration read by the ledger and the ranking jobs.
// Values are kept as decimal strings so a key can be read as an integer or a float.
type Store struct {
	values *xsync.Map[string, string]
}

func NewStore() *Store {
	return &Store{values: xsync.NewMap[string, string]()}
}

// Set validates and stores a numeric value.
func (s *Store) Set(key, value string) error {
	if key == "" {
		return fmt.Errorf("empty setting key: %w", ledger.ErrInvariantViolation)
	}
	if _, err := strconv.ParseFloat(value, 64); err != nil {
		return fmt.Errorf("setting %s=%q is not a number: %w", key, value, ledger.ErrInvariantViolation)
	}
	s.values.Store(key, value)
	return nil
}

func (s *Store) SetInt(key string, v int64) {
	s.values.Store(key, strconv.FormatInt(v, 10))
}

func (s *Store) SetFloat(key string, v float64) {
	s.values.Store(key, strconv.FormatFloat(v, 'f', -1, 64))
}

func (s *Store) Delete(key string) { s.values.Delete(key) }

// Int reads an integer setting. There are no fallbacks: an unset key is ErrConfigMissing.
func (s *Store) Int(key string) (int64, error) {
	raw, ok := s.values.Load(key)
	if !ok {
		return 0, fmt.Errorf("the %s parameter has not been initialized yet: %w", key, ledger.ErrConfigMissing)
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("setting %s=%q is not an integer: %w", key, raw, ledger.ErrInvariantViolation)
	}
	return v, nil
}

func (s *Store) Float(key string) (float64, error) {
	raw, ok := s.values.Load(key)
	if !ok {
		return 0, fmt.Errorf("the %s parameter has not been initialized yet: %w", key, ledger.ErrConfigMissing)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("setting %s=%q is not a number: %w", key, raw, ledger.ErrInvariantViolation)
	}
	return v, nil
}

// Entry is one setting as listed by All.
type Entry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (s *Store) All() []Entry {
	var out []Entry
	s.values.Range(func(k, v string) bool {
		out = append(out, Entry{Key: k, Value: v})
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Seed stores every default that is not set yet and returns how many were written.
func (s *Store) Seed(defaults map[string]string) int {
	n := 0
	for k, v := range defaults {
		if _, loaded := s.values.LoadOrStore(k, v); !loaded {
			n++
		}
	}
	return n
}

// Defaults are bootstrap values for a fresh deployment. Amounts are in base units
// (4 decimals); moon.cycle is in seconds.
func Defaults() map[string]string {
	return map[string]string{
		ledger.KeyQualifyingCap:         "10000000",
		ledger.KeyIndividualPointsCap:   "1000000",
		ledger.KeyOrganizationPointsCap: "5000000",
		ledger.KeyWindowCap:             "7",
		ledger.KeyBatchSize:             "200",
		ledger.KeyRegenMultiplier:       "1.5",
		ledger.KeyLocalMultiplier:       "1.5",
		ledger.KeyRegenFloor:            "1",
		ledger.KeyVoteMaxAdd:            "100",
		ledger.KeyVoteMaxSub:            "100",
		ledger.KeyRegenMinPlanted:       "2000000000",
		ledger.KeyRegenMinRank:          "75",
		ledger.KeyRegenMinReferrals:     "10",
		ledger.KeyRegenMinResidentRefs:  "3",
		ledger.KeyTxPointsMaxQuantity:   "1777",
		ledger.KeyTxPointsMaxPerSender:  "26",
		ledger.KeyTxPointsRecordLimit:   "200",
		ledger.KeyTxPointsDecayCycles:   "3",
		ledger.KeyMoonCycle:             "2548800",
		ledger.KeyTxPointsPruneDecayed:  "0",
	}
}
