package ledger

import (
	"context"
	"math"
)

const (
	// SecondsPerDay sizes the day buckets transfer windows are partitioned by.
	SecondsPerDay int64 = 86400
	// PointScale converts asset base units (4 decimals) into whole points.
	PointScale = 10000.0
)

// DayOf returns the beginning of the UTC day containing ts (unix seconds).
func DayOf(ts int64) int64 {
	return ts / SecondsPerDay * SecondsPerDay
}

type AccountType string

const (
	TypeIndividual   AccountType = "individual"
	TypeOrganization AccountType = "organization"
)

type Status string

const (
	StatusVisitor      Status = "visitor"
	StatusResident     Status = "resident"
	StatusCitizen      Status = "citizen"
	StatusOrganization Status = "organization"
	StatusReputable    Status = "reputable"
	StatusRegenerative Status = "regenerative"
)

// Account is the registry view of a user or organization.
type Account struct {
	Name          string      `json:"name"`
	Type          AccountType `json:"type"`
	Status        Status      `json:"status"`
	Reputation    int64       `json:"reputation"`
	RepMultiplier float64     `json:"rep_multiplier"`
	Region        string      `json:"region,omitempty"`
	Planted       int64       `json:"planted"`
	Referrer      string      `json:"referrer,omitempty"`
}

func (a Account) IsOrganization() bool { return a.Type == TypeOrganization }

// Quantity is an asset amount in base units.
type Quantity struct {
	Amount int64  `json:"amount"`
	Symbol string `json:"symbol"`
}

// Transfer is an incoming value-transfer event.
type Transfer struct {
	Seq       uint64   `json:"seq,omitempty"`
	From      string   `json:"from"`
	To        string   `json:"to"`
	Quantity  Quantity `json:"quantity"`
	Timestamp int64    `json:"timestamp"`
}

// RecordRef addresses a transfer record inside its day partition.
type RecordRef struct {
	Day int64  `json:"day"`
	ID  uint64 `json:"id"`
}

// Record is a retained transfer inside a pair window.
type Record struct {
	Day              int64  `json:"day"`
	ID               uint64 `json:"id"`
	From             string `json:"from"`
	To               string `json:"to"`
	Volume           int64  `json:"volume"`
	QualifyingVolume int64  `json:"qualifying_volume"`
	FromPoints       uint64 `json:"from_points"`
	ToPoints         uint64 `json:"to_points"`
	Timestamp        int64  `json:"timestamp"`
	Settled          bool   `json:"settled"`
}

func (r Record) Ref() RecordRef { return RecordRef{Day: r.Day, ID: r.ID} }

// Rollup holds lifetime transfer counters for one account.
type Rollup struct {
	Account           string `json:"account"`
	TotalVolume       int64  `json:"total_volume"`
	TotalTransactions uint64 `json:"total_transactions"`
	IncomingFromOrgs  uint64 `json:"incoming_from_orgs"`
	OutgoingToOrgs    uint64 `json:"outgoing_to_orgs"`
}

// Settings is the score configuration collaborator. A missing key must surface as ErrConfigMissing.
type Settings interface {
	Int(key string) (int64, error)
	Float(key string) (float64, error)
}

// Registry is the user registry collaborator. Absent accounts surface as ErrUnknownAccount.
type Registry interface {
	Lookup(ctx context.Context, name string) (Account, error)
}

// PointsChanged is what the reward collaborator receives after a settlement.
type PointsChanged struct {
	Account   string `json:"account"`
	Day       int64  `json:"day"`
	DayPoints int64  `json:"day_points"`
	Rollup    Rollup `json:"rollup"`
}

// Notifier is the one-way reward collaborator.
type Notifier interface {
	PointsChanged(ctx context.Context, ev PointsChanged) error
}

func ceilPoints(v float64) uint64 {
	if v <= 0 {
		return 0
	}
	return uint64(math.Ceil(v))
}
