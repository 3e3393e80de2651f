package vault

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "modernc.org/sqlite"
)

// secretRecord is one sealed secret row.
type secretRecord struct {
	bun.BaseModel `bun:"table:vault_secrets"`

	Name      string    `bun:"name,pk"`
	Sealed    []byte    `bun:"sealed,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

// SQLStore keeps sealed records in a SQL table through bun.
type SQLStore struct {
	sealedStore
	db    *bun.DB
	owned bool
}

// OpenSQLStore opens (or creates) a SQLite database at dsn and prepares the
// vault table. The returned store owns the connection; call Close.
func OpenSQLStore(ctx context.Context, dsn string, sealer *Sealer) (*SQLStore, error) {
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite: %v", ErrUnavailable, err)
	}
	// SQLite serialises writers; a single connection avoids SQLITE_BUSY.
	sqlDB.SetMaxOpenConns(1)

	store, err := NewSQLStore(ctx, bun.NewDB(sqlDB, sqlitedialect.New()), sealer)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	store.owned = true
	return store, nil
}

// NewSQLStore wraps an existing bun DB and creates the vault table if needed.
func NewSQLStore(ctx context.Context, db *bun.DB, sealer *Sealer) (*SQLStore, error) {
	if _, err := db.NewCreateTable().Model((*secretRecord)(nil)).IfNotExists().Exec(ctx); err != nil {
		return nil, fmt.Errorf("%w: create vault table: %v", ErrUnavailable, err)
	}
	return &SQLStore{
		sealedStore: sealedStore{sealer: sealer, backend: &sqlBackend{db: db}},
		db:          db,
	}, nil
}

// Close releases the connection when the store opened it.
func (s *SQLStore) Close() error {
	if s == nil || !s.owned {
		return nil
	}
	return s.db.Close()
}

type sqlBackend struct {
	db *bun.DB
}

func (b *sqlBackend) load(ctx context.Context, name string) ([]byte, error) {
	var rec secretRecord
	err := b.db.NewSelect().Model(&rec).Where("name = ?", name).Limit(1).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return rec.Sealed, nil
}

func (b *sqlBackend) save(ctx context.Context, name string, record []byte) error {
	rec := &secretRecord{Name: name, Sealed: record, UpdatedAt: time.Now().UTC()}
	_, err := b.db.NewInsert().
		Model(rec).
		On("CONFLICT (name) DO UPDATE").
		Set("sealed = EXCLUDED.sealed").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (b *sqlBackend) remove(ctx context.Context, name string) error {
	_, err := b.db.NewDelete().Model((*secretRecord)(nil)).Where("name = ?", name).Exec(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
