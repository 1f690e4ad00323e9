package ledgerdb

import (
	"context"
	"fmt"

	"github.com/canopy-network/repledger/pkg/ledger"
	"go.uber.org/zap"
)

type transferRow struct {
	Seq       uint64 `ch:"seq"`
	From      string `ch:"from_account"`
	To        string `ch:"to_account"`
	Amount    int64  `ch:"amount"`
	Symbol    string `ch:"symbol"`
	Timestamp int64  `ch:"timestamp"`
}

type recordRowDB struct {
	Day              int64  `ch:"day"`
	ID               uint64 `ch:"id"`
	From             string `ch:"from_account"`
	To               string `ch:"to_account"`
	Volume           int64  `ch:"volume"`
	QualifyingVolume int64  `ch:"qualifying_volume"`
	FromPoints       uint64 `ch:"from_points"`
	ToPoints         uint64 `ch:"to_points"`
	Timestamp        int64  `ch:"timestamp"`
	Settled          uint8  `ch:"settled"`
}

type aggregateRowDB struct {
	Kind    string `ch:"kind"`
	Account string `ch:"account"`
	Day     int64  `ch:"day"`
	Total   int64  `ch:"total"`
}

type rollupRowDB struct {
	Account           string `ch:"account"`
	TotalVolume       int64  `ch:"total_volume"`
	TotalTransactions uint64 `ch:"total_transactions"`
	IncomingFromOrgs  uint64 `ch:"incoming_from_orgs"`
	OutgoingToOrgs    uint64 `ch:"outgoing_to_orgs"`
}

type sizeRowDB struct {
	ID    string `ch:"id"`
	Value uint64 `ch:"value"`
}

type statusRowDB struct {
	List      string `ch:"list"`
	ID        uint64 `ch:"id"`
	Account   string `ch:"account"`
	Timestamp int64  `ch:"timestamp"`
}

type historyRowDB struct {
	ID        uint64 `ch:"id"`
	Account   string `ch:"account"`
	Action    string `ch:"action"`
	Amount    int64  `ch:"amount"`
	Meta      string `ch:"meta"`
	Timestamp int64  `ch:"timestamp"`
}

type rankedRowDB struct {
	Set    string `ch:"ranked_set"`
	Entity string `ch:"entity"`
	Metric int64  `ch:"metric"`
	Rank   uint64 `ch:"rank"`
}

type voteRowDB struct {
	Org    string `ch:"org"`
	Voter  string `ch:"voter"`
	Amount int64  `ch:"amount"`
}

// Page returns up to limit logged transfers with seq greater than afterSeq.
func (db *DB) Page(ctx context.Context, afterSeq uint64, limit int) ([]ledger.Transfer, error) {
	var rows []transferRow
	query := fmt.Sprintf(`
		SELECT seq, from_account, to_account, amount, symbol, timestamp
		FROM "%s"."%s"
		WHERE seq > ? AND %s
		ORDER BY seq, version DESC
		LIMIT 1 BY seq
		LIMIT ?
	`, db.Name, TransfersTable, db.committed())
	if err := db.conn.Select(ctx, &rows, query, afterSeq, limit); err != nil {
		return nil, fmt.Errorf("page transfers after %d: %w", afterSeq, err)
	}
	out := make([]ledger.Transfer, 0, len(rows))
	for _, r := range rows {
		out = append(out, ledger.Transfer{
			Seq:       r.Seq,
			From:      r.From,
			To:        r.To,
			Quantity:  ledger.Quantity{Amount: r.Amount, Symbol: r.Symbol},
			Timestamp: r.Timestamp,
		})
	}
	return out, nil
}

// Load reads the latest state of every table into a snapshot.
func (db *DB) Load(ctx context.Context) (*ledger.Snapshot, error) {
	s := &ledger.Snapshot{}

	var seq []struct {
		Max uint64 `ch:"max_seq"`
	}
	if err := db.conn.Select(ctx, &seq, fmt.Sprintf(`SELECT max(seq) AS max_seq FROM "%s"."%s" WHERE %s`, db.Name, TransfersTable, db.committed())); err != nil {
		return nil, fmt.Errorf("load transfer seq: %w", err)
	}
	if len(seq) > 0 {
		s.TransferSeq = seq[0].Max
	}

	var records []recordRowDB
	if err := db.selectFinal(ctx, &records, RecordsTable,
		"day, id, from_account, to_account, volume, qualifying_volume, from_points, to_points, timestamp, settled",
		"WHERE is_deleted = 0 ORDER BY day, id"); err != nil {
		return nil, err
	}
	for _, r := range records {
		s.Records = append(s.Records, ledger.Record{
			Day:              r.Day,
			ID:               r.ID,
			From:             r.From,
			To:               r.To,
			Volume:           r.Volume,
			QualifyingVolume: r.QualifyingVolume,
			FromPoints:       r.FromPoints,
			ToPoints:         r.ToPoints,
			Timestamp:        r.Timestamp,
			Settled:          r.Settled == 1,
		})
	}

	var aggregates []aggregateRowDB
	query := fmt.Sprintf(`
		SELECT kind, account, day, sum(value) AS total
		FROM "%s"."%s"
		WHERE %s
		GROUP BY kind, account, day
		HAVING total != 0
	`, db.Name, AggregatesTable, db.committed())
	if err := db.conn.Select(ctx, &aggregates, query); err != nil {
		return nil, fmt.Errorf("load aggregates: %w", err)
	}
	for _, a := range aggregates {
		s.Aggregates = append(s.Aggregates, ledger.AggregateRow{
			Key:   ledger.AggregateKey{Kind: ledger.AggregateKind(a.Kind), Account: a.Account, Day: a.Day},
			Value: a.Total,
		})
	}

	var rollups []rollupRowDB
	query = fmt.Sprintf(`
		SELECT account,
			sum(total_volume) AS total_volume,
			sum(total_transactions) AS total_transactions,
			sum(incoming_from_orgs) AS incoming_from_orgs,
			sum(outgoing_to_orgs) AS outgoing_to_orgs
		FROM "%s"."%s"
		WHERE %s
		GROUP BY account
	`, db.Name, RollupsTable, db.committed())
	if err := db.conn.Select(ctx, &rollups, query); err != nil {
		return nil, fmt.Errorf("load rollups: %w", err)
	}
	for _, r := range rollups {
		s.Rollups = append(s.Rollups, ledger.Rollup{
			Account:           r.Account,
			TotalVolume:       r.TotalVolume,
			TotalTransactions: r.TotalTransactions,
			IncomingFromOrgs:  r.IncomingFromOrgs,
			OutgoingToOrgs:    r.OutgoingToOrgs,
		})
	}

	var sizes []sizeRowDB
	if err := db.selectFinal(ctx, &sizes, SizesTable, "id, value", ""); err != nil {
		return nil, err
	}
	for _, r := range sizes {
		s.Sizes = append(s.Sizes, ledger.SizeRow{ID: r.ID, Value: r.Value})
	}

	var statuses []statusRowDB
	if err := db.selectFinal(ctx, &statuses, StatusesTable, "list, id, account, timestamp", "ORDER BY list, id"); err != nil {
		return nil, err
	}
	for _, r := range statuses {
		s.Statuses = append(s.Statuses, ledger.StatusEntry{
			List:      ledger.StatusList(r.List),
			ID:        r.ID,
			Account:   r.Account,
			Timestamp: r.Timestamp,
		})
	}

	var history []historyRowDB
	if err := db.selectFinal(ctx, &history, HistoryTable, "id, account, action, amount, meta, timestamp", "ORDER BY id"); err != nil {
		return nil, err
	}
	for _, r := range history {
		s.History = append(s.History, ledger.HistoryEntry{
			ID:        r.ID,
			Account:   r.Account,
			Action:    r.Action,
			Amount:    r.Amount,
			Meta:      r.Meta,
			Timestamp: r.Timestamp,
		})
	}

	var ranked []rankedRowDB
	if err := db.selectFinal(ctx, &ranked, RankedTable, "ranked_set, entity, metric, rank", "WHERE is_deleted = 0"); err != nil {
		return nil, err
	}
	for _, r := range ranked {
		s.Ranked = append(s.Ranked, ledger.RankedRow{Set: r.Set, Entity: r.Entity, Metric: r.Metric, Rank: r.Rank})
	}

	var votes []voteRowDB
	if err := db.selectFinal(ctx, &votes, VotesTable, "org, voter, amount", "WHERE is_deleted = 0"); err != nil {
		return nil, err
	}
	for _, r := range votes {
		s.Votes = append(s.Votes, ledger.VoteRow{Org: r.Org, Voter: r.Voter, Amount: r.Amount})
	}

	db.logger.Info("ledger snapshot loaded",
		zap.String("database", db.Name),
		zap.Int("records", len(s.Records)),
		zap.Int("aggregates", len(s.Aggregates)),
		zap.Int("ranked", len(s.Ranked)),
		zap.Uint64("transfer_seq", s.TransferSeq),
	)
	return s, nil
}

// committed restricts delta rows to versions that have a commit marker.
func (db *DB) committed() string {
	return fmt.Sprintf(`version IN (SELECT version FROM "%s"."%s")`, db.Name, CommitsTable)
}

func (db *DB) selectFinal(ctx context.Context, dest interface{}, table, columns, tail string) error {
	query := fmt.Sprintf(`SELECT %s FROM "%s"."%s" FINAL %s`, columns, db.Name, table, tail)
	if err := db.conn.Select(ctx, dest, query); err != nil {
		return fmt.Errorf("load %s: %w", table, err)
	}
	return nil
}
