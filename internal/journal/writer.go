package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"epoch-vault/internal/config"
	"epoch-vault/internal/vault"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

// Writer records vault operations and the resulting NAV series to Postgres
// asynchronously. The operation path never blocks on the database; a full
// queue drops the entry and logs once.
type Writer struct {
	db      *sql.DB
	log     *zap.Logger
	schema  string
	events  chan vault.Event
	started atomic.Bool
	dropped atomic.Uint64
}

func New(cfg config.JournalConfig, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("journal dsn is required")
	}
	schema := strings.TrimSpace(cfg.Schema)
	if schema == "" {
		schema = "public"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	writer := &Writer{
		db:     db,
		log:    log,
		schema: schema,
		events: make(chan vault.Event, queueSize),
	}
	if err := writer.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return writer, nil
}

func (w *Writer) Start(ctx context.Context) {
	if w == nil {
		return
	}
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run(ctx)
}

func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

// Record enqueues one completed operation. Safe to call on a nil writer so
// the controller needs no journal-enabled branch.
func (w *Writer) Record(e vault.Event) {
	if w == nil {
		return
	}
	select {
	case w.events <- e:
		return
	default:
		if w.dropped.Add(1) == 1 && w.log != nil {
			w.log.Warn("journal queue full")
		}
	}
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-w.events:
			w.writeEvent(ctx, e)
		}
	}
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.db == nil {
		return errors.New("journal db not initialized")
	}
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		vault TEXT NOT NULL,
		op TEXT NOT NULL,
		amount BIGINT NOT NULL,
		shares BIGINT NOT NULL,
		cycle BIGINT NOT NULL
	)`, w.table("vault_operations"))); err != nil {
		return err
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		vault TEXT NOT NULL,
		nav BIGINT NOT NULL,
		supply BIGINT NOT NULL,
		cycle BIGINT NOT NULL
	)`, w.table("nav_snapshots"))); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		if w.log != nil {
			w.log.Warn("timescale extension ensure failed", zap.Error(err))
		}
		return nil
	}
	for _, table := range []string{"vault_operations", "nav_snapshots"} {
		if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table(table))); err != nil && w.log != nil {
			w.log.Warn("hypertable create failed", zap.String("table", table), zap.Error(err))
		}
	}
	return nil
}

func (w *Writer) writeEvent(ctx context.Context, e vault.Event) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	opQuery := fmt.Sprintf(`INSERT INTO %s (ts, vault, op, amount, shares, cycle)
		VALUES ($1,$2,$3,$4,$5,$6)`, w.table("vault_operations"))
	if _, err := w.db.ExecContext(ctx, opQuery,
		e.At, e.Vault, e.Op, int64(e.Amount), int64(e.Shares), int64(e.Cycle),
	); err != nil && w.log != nil {
		w.log.Warn("journal operation insert failed", zap.Error(err))
	}
	navQuery := fmt.Sprintf(`INSERT INTO %s (ts, vault, nav, supply, cycle)
		VALUES ($1,$2,$3,$4,$5)`, w.table("nav_snapshots"))
	if _, err := w.db.ExecContext(ctx, navQuery,
		e.At, e.Vault, int64(e.NAV), int64(e.Supply), int64(e.Cycle),
	); err != nil && w.log != nil {
		w.log.Warn("journal nav insert failed", zap.Error(err))
	}
}

func (w *Writer) exec(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *Writer) table(name string) string {
	return w.schema + "." + name
}
