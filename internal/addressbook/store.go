package addressbook

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/sh4dak/dotnet/internal/crypto"
)

// Store persists address book entries in a SQLite database. When opened
// with a key, descriptors are sealed at rest and the host name is bound
// as associated data.
type Store struct {
	db     *sql.DB
	sealer *crypto.Sealer
}

// OpenStore opens or creates the database at path. key may be nil.
func OpenStore(path string, key []byte) (*Store, error) {
	var sealer *crypto.Sealer
	if len(key) > 0 {
		s, err := crypto.NewSealer(key)
		if err != nil {
			return nil, fmt.Errorf("addressbook store: %w", err)
		}
		sealer = s
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("addressbook store: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("addressbook store: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	const schema = `CREATE TABLE IF NOT EXISTS addresses (
		name       TEXT PRIMARY KEY,
		descriptor BLOB NOT NULL
	)`
	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("addressbook store: schema: %w", err)
	}

	return &Store{db: db, sealer: sealer}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Save writes addr under name. Entries without a descriptor (.b32
// derived) are skipped.
func (s *Store) Save(name string, addr *Address) error {
	if len(addr.Descriptor) == 0 {
		return nil
	}

	blob := addr.Descriptor
	if s.sealer != nil {
		sealed, err := s.sealer.Seal(blob, []byte(name))
		if err != nil {
			return fmt.Errorf("save %s: %w", name, err)
		}
		blob = sealed
	}

	_, err := s.db.ExecContext(context.Background(),
		`INSERT INTO addresses (name, descriptor) VALUES (?, ?)
		 ON CONFLICT(name) DO UPDATE SET descriptor = excluded.descriptor`,
		name, blob)
	if err != nil {
		return fmt.Errorf("save %s: %w", name, err)
	}
	return nil
}

// Load reads every stored entry into b and returns how many were loaded.
// Rows that fail to open or decode are skipped and reported in the
// joined error.
func (s *Store) Load(ctx context.Context, b *Book) (int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, descriptor FROM addresses`)
	if err != nil {
		return 0, fmt.Errorf("addressbook load: %w", err)
	}
	defer rows.Close()

	var (
		n    int
		errs []error
	)
	for rows.Next() {
		var (
			name string
			blob []byte
		)
		if err := rows.Scan(&name, &blob); err != nil {
			return n, fmt.Errorf("addressbook load: %w", err)
		}

		if s.sealer != nil {
			opened, err := s.sealer.Open(blob, []byte(name))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				continue
			}
			blob = opened
		}

		addr, err := FromDescriptor(blob)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		b.load(name, addr)
		n++
	}
	if err := rows.Err(); err != nil {
		return n, fmt.Errorf("addressbook load: %w", err)
	}
	return n, errors.Join(errs...)
}
