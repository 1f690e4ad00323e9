package ledgerdb

import (
	"context"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/alitto/pond/v2"
	"github.com/canopy-network/repledger/pkg/ledger"
	"go.uber.org/zap"
)

// Conn is the part of the ClickHouse client the store uses.
type Conn interface {
	Exec(ctx context.Context, query string, args ...interface{}) error
	Select(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	PrepareBatch(ctx context.Context, query string) (driver.Batch, error)
}

// DB persists ledger changesets to ClickHouse and reads them back. It is the
// ledger's Sink and TransferLog.
type DB struct {
	Name    string
	conn    Conn
	logger  *zap.Logger
	pool    pond.Pool
	version atomic.Uint64
}

// New returns a store over an existing database. Writers is the number of tables
// written concurrently per commit.
func New(conn Conn, name string, writers int, logger *zap.Logger) *DB {
	if logger == nil {
		logger = zap.NewNop()
	}
	if writers <= 0 {
		writers = 4
	}
	db := &DB{
		Name:   name,
		conn:   conn,
		logger: logger,
		pool:   pond.NewPool(writers, pond.WithQueueSize(len(Tables)*4)),
	}
	// versions only need to grow across restarts
	db.version.Store(uint64(time.Now().UnixNano()))
	return db
}

// InitializeDB creates every ledger table.
func (db *DB) InitializeDB(ctx context.Context) error {
	for _, t := range Tables {
		if err := db.conn.Exec(ctx, t.CreateSQL(db.Name)); err != nil {
			return fmt.Errorf("create table %s: %w", t.Name, err)
		}
	}
	db.logger.Info("ledger tables ready", zap.String("database", db.Name), zap.Int("tables", len(Tables)))
	return nil
}

// Commit writes one changeset under a fresh version. State tables are written first,
// delta tables second and the commit marker last; Load ignores delta rows without a
// marker. A failure removes the rows of the version that already reached ClickHouse.
// A reset truncates every table but the transfer log and the markers first.
func (db *DB) Commit(ctx context.Context, cs *ledger.Changeset) error {
	if cs.Reset {
		for _, t := range Tables {
			if t.Keep {
				continue
			}
			if err := db.conn.Exec(ctx, fmt.Sprintf(`TRUNCATE TABLE IF EXISTS "%s"."%s"`, db.Name, t.Name)); err != nil {
				return fmt.Errorf("truncate %s: %w", t.Name, err)
			}
		}
		db.logger.Warn("ledger tables truncated", zap.String("database", db.Name))
	}

	version := db.version.Add(1)
	var state, deltas []batch
	for _, b := range plan(cs, version) {
		if t, _ := tableByName(b.table); t.Delta {
			deltas = append(deltas, b)
		} else {
			state = append(state, b)
		}
	}
	if len(state) == 0 && len(deltas) == 0 {
		return nil
	}

	if err := db.writeAll(ctx, state); err != nil {
		return db.abort(ctx, version, state, err)
	}
	touched := slices.Concat(state, deltas)
	if err := db.writeAll(ctx, deltas); err != nil {
		return db.abort(ctx, version, touched, err)
	}
	marker := batch{table: CommitsTable, rows: [][]any{{version, time.Now()}}}
	if err := db.write(ctx, marker); err != nil {
		return db.abort(ctx, version, touched, err)
	}
	return nil
}

// writeAll sends every batch, concurrently when there is more than one.
func (db *DB) writeAll(ctx context.Context, batches []batch) error {
	switch len(batches) {
	case 0:
		return nil
	case 1:
		return db.write(ctx, batches[0])
	}
	group := db.pool.NewGroupContext(ctx)
	groupCtx := group.Context()
	for _, b := range batches {
		group.SubmitErr(func() error {
			return db.write(groupCtx, b)
		})
	}
	// a stopped group still means a table was not written
	return group.Wait()
}

// abort deletes the rows of a failed version from the tables it touched. State rows
// survive only if this cleanup fails too; delta rows never count without a marker.
func (db *DB) abort(ctx context.Context, version uint64, touched []batch, cause error) error {
	cleanup := context.WithoutCancel(ctx)
	for _, b := range touched {
		query := fmt.Sprintf(`ALTER TABLE "%s"."%s" DELETE WHERE version = ?`, db.Name, b.table)
		if err := db.conn.Exec(cleanup, query, version); err != nil {
			db.logger.Error("failed to remove rows of an aborted commit",
				zap.String("table", b.table),
				zap.Uint64("version", version),
				zap.Error(err))
		}
	}
	return fmt.Errorf("write version %d: %w", version, cause)
}

func (db *DB) write(ctx context.Context, b batch) error {
	t, ok := tableByName(b.table)
	if !ok {
		return fmt.Errorf("unknown table %s", b.table)
	}
	bt, err := db.conn.PrepareBatch(ctx, t.InsertSQL(db.Name))
	if err != nil {
		return fmt.Errorf("prepare %s batch: %w", t.Name, err)
	}
	defer func() { _ = bt.Close() }()

	for _, row := range b.rows {
		if err := bt.Append(row...); err != nil {
			_ = bt.Abort()
			return fmt.Errorf("append %s row: %w", t.Name, err)
		}
	}
	if err := bt.Send(); err != nil {
		return fmt.Errorf("send %s batch: %w", t.Name, err)
	}
	return nil
}

// Compact forces merges on every ledger table so tombstones and replaced versions
// collapse. It returns the tables compacted before the first failure.
func (db *DB) Compact(ctx context.Context) ([]string, error) {
	var done []string
	for _, t := range Tables {
		start := time.Now()
		if err := db.conn.Exec(ctx, fmt.Sprintf(`OPTIMIZE TABLE "%s"."%s" FINAL`, db.Name, t.Name)); err != nil {
			return done, fmt.Errorf("optimize %s: %w", t.Name, err)
		}
		db.logger.Info("table compacted", zap.String("table", t.Name), zap.Duration("took", time.Since(start)))
		done = append(done, t.Name)
	}
	return done, nil
}

// Close stops the writer pool after pending writes finish.
func (db *DB) Close() {
	db.pool.StopAndWait()
}
