package ledgerdb

import (
	"fmt"
	"strings"

	"github.com/canopy-network/repledger/pkg/db/clickhouse"
)

// ColumnDef defines a single column of a ledger table.
type ColumnDef struct {
	Name  string
	Type  string
	Codec string
}

// SQL returns the column definition for CREATE TABLE, e.g. "account String CODEC(ZSTD(1))".
func (c ColumnDef) SQL() string {
	if c.Codec != "" {
		return fmt.Sprintf("%s %s CODEC(%s)", c.Name, c.Type, c.Codec)
	}
	return fmt.Sprintf("%s %s", c.Name, c.Type)
}

// Table describes one persisted ledger structure.
type Table struct {
	Name    string
	Columns []ColumnDef
	// Engine is the full engine clause, e.g. ReplacingMergeTree(version, is_deleted).
	Engine  string
	OrderBy string
	// Keep survives a ledger reset.
	Keep bool
	// Delta tables hold per-commit rows that only count once their commit marker exists.
	Delta bool
}

func (t Table) columnNames() []string {
	names := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		names = append(names, c.Name)
	}
	return names
}

// CreateSQL returns the CREATE TABLE statement of t inside database db.
func (t Table) CreateSQL(db string) string {
	parts := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		parts = append(parts, c.SQL())
	}
	return fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS "%s"."%s" (
			%s
		) ENGINE = %s
		ORDER BY (%s)
	`, db, t.Name, strings.Join(parts, ",\n\t\t\t"), t.Engine, t.OrderBy)
}

// InsertSQL returns the batch insert prefix of t.
func (t Table) InsertSQL(db string) string {
	return fmt.Sprintf(`INSERT INTO "%s"."%s" (%s) VALUES`, db, t.Name, strings.Join(t.columnNames(), ", "))
}

// Table names.
const (
	TransfersTable  = "transfers"
	RecordsTable    = "records"
	AggregatesTable = "aggregates"
	RollupsTable    = "rollups"
	SizesTable      = "sizes"
	StatusesTable   = "statuses"
	HistoryTable    = "history"
	RankedTable     = "ranked"
	VotesTable      = "votes"
	CommitsTable    = "commits"
)

func replacing(deletable bool) string {
	if deletable {
		return clickhouse.ReplacingMergeTree + "(version, is_deleted)"
	}
	return clickhouse.ReplacingMergeTree + "(version)"
}

var (
	versionCol = ColumnDef{Name: "version", Type: "UInt64", Codec: "Delta, ZSTD(1)"}
	deletedCol = ColumnDef{Name: "is_deleted", Type: "UInt8"}
)

// Tables lists every ledger table in creation order. State rows are versioned by
// commit. Totals use SummingMergeTree with the version in the key, so each commit's
// delta stays its own row and is summed only if that version has a commit marker.
var Tables = []Table{
	{
		Name: TransfersTable,
		Columns: []ColumnDef{
			{Name: "seq", Type: "UInt64", Codec: "Delta, ZSTD(1)"},
			{Name: "from_account", Type: "String", Codec: "ZSTD(1)"},
			{Name: "to_account", Type: "String", Codec: "ZSTD(1)"},
			{Name: "amount", Type: "Int64"},
			{Name: "symbol", Type: "LowCardinality(String)"},
			{Name: "timestamp", Type: "Int64", Codec: "Delta, ZSTD(1)"},
			versionCol,
		},
		Engine:  replacing(false),
		OrderBy: "seq",
		Keep:    true,
		Delta:   true,
	},
	{
		Name: RecordsTable,
		Columns: []ColumnDef{
			{Name: "day", Type: "Int64"},
			{Name: "id", Type: "UInt64"},
			{Name: "from_account", Type: "String", Codec: "ZSTD(1)"},
			{Name: "to_account", Type: "String", Codec: "ZSTD(1)"},
			{Name: "volume", Type: "Int64"},
			{Name: "qualifying_volume", Type: "Int64"},
			{Name: "from_points", Type: "UInt64"},
			{Name: "to_points", Type: "UInt64"},
			{Name: "timestamp", Type: "Int64"},
			{Name: "settled", Type: "UInt8"},
			versionCol,
			deletedCol,
		},
		Engine:  replacing(true),
		OrderBy: "day, id",
	},
	{
		Name: AggregatesTable,
		Columns: []ColumnDef{
			{Name: "kind", Type: "LowCardinality(String)"},
			{Name: "account", Type: "String", Codec: "ZSTD(1)"},
			{Name: "day", Type: "Int64"},
			{Name: "value", Type: "Int64"},
			versionCol,
		},
		Engine:  clickhouse.SummingMergeTree + "(value)",
		OrderBy: "kind, account, day, version",
		Delta:   true,
	},
	{
		Name: RollupsTable,
		Columns: []ColumnDef{
			{Name: "account", Type: "String", Codec: "ZSTD(1)"},
			{Name: "total_volume", Type: "Int64"},
			{Name: "total_transactions", Type: "UInt64"},
			{Name: "incoming_from_orgs", Type: "UInt64"},
			{Name: "outgoing_to_orgs", Type: "UInt64"},
			versionCol,
		},
		Engine:  clickhouse.SummingMergeTree,
		OrderBy: "account, version",
		Delta:   true,
	},
	{
		Name: SizesTable,
		Columns: []ColumnDef{
			{Name: "id", Type: "String"},
			{Name: "value", Type: "UInt64"},
			versionCol,
		},
		Engine:  replacing(false),
		OrderBy: "id",
	},
	{
		Name: StatusesTable,
		Columns: []ColumnDef{
			{Name: "list", Type: "LowCardinality(String)"},
			{Name: "id", Type: "UInt64"},
			{Name: "account", Type: "String"},
			{Name: "timestamp", Type: "Int64"},
			versionCol,
		},
		Engine:  replacing(false),
		OrderBy: "list, id",
	},
	{
		Name: HistoryTable,
		Columns: []ColumnDef{
			{Name: "id", Type: "UInt64"},
			{Name: "account", Type: "String", Codec: "ZSTD(1)"},
			{Name: "action", Type: "LowCardinality(String)"},
			{Name: "amount", Type: "Int64"},
			{Name: "meta", Type: "String", Codec: "ZSTD(3)"},
			{Name: "timestamp", Type: "Int64"},
			versionCol,
		},
		Engine:  replacing(false),
		OrderBy: "id",
	},
	{
		Name: RankedTable,
		Columns: []ColumnDef{
			{Name: "ranked_set", Type: "LowCardinality(String)"},
			{Name: "entity", Type: "String"},
			{Name: "metric", Type: "Int64"},
			{Name: "rank", Type: "UInt64"},
			versionCol,
			deletedCol,
		},
		Engine:  replacing(true),
		OrderBy: "ranked_set, entity",
	},
	{
		Name: VotesTable,
		Columns: []ColumnDef{
			{Name: "org", Type: "String"},
			{Name: "voter", Type: "String"},
			{Name: "amount", Type: "Int64"},
			versionCol,
			deletedCol,
		},
		Engine:  replacing(true),
		OrderBy: "org, voter",
	},
	{
		Name: CommitsTable,
		Columns: []ColumnDef{
			versionCol,
			{Name: "committed_at", Type: "DateTime64(6)"},
		},
		Engine:  clickhouse.MergeTree,
		OrderBy: "version",
		Keep:    true,
	},
}

func tableByName(name string) (Table, bool) {
	for _, t := range Tables {
		if t.Name == name {
			return t, true
		}
	}
	return Table{}, false
}
