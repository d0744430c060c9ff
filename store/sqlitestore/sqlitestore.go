// Package sqlitestore is a concrete, persistent store.Store backed by a
// local SQLite database file, in the shape of the teacher's
// materialize/driver/sqlite driver: database/sql plus a blank import of
// mattn/go-sqlite3 for the driver's registration side effect.
package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // Import for register side-effects.
	log "github.com/sirupsen/logrus"

	"github.com/sambacha/mirror-arti/docid"
	"github.com/sambacha/mirror-arti/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS consensus_meta (
	flavor      INTEGER PRIMARY KEY,
	valid_after INTEGER NOT NULL,
	digest      BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS documents (
	kind    INTEGER NOT NULL,
	flavor  INTEGER NOT NULL,
	key     BLOB NOT NULL,
	digest  BLOB NOT NULL,
	body    BLOB NOT NULL,
	fetched INTEGER NOT NULL,
	PRIMARY KEY (kind, flavor, key)
);
`

// Store is a store.Store implementation backed by a sqlite3 database
// file at the path given to Open.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) a sqlite store at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite store %q: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: migrating sqlite store schema: %v", store.ErrCorrupt, err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

type consensusMeta struct {
	validAfter time.Time
	digest     docid.Digest
}

func (m consensusMeta) ValidAfter() time.Time        { return m.validAfter }
func (m consensusMeta) DigestOfSigned() docid.Digest { return m.digest }

func (s *Store) LatestConsensusMeta(flavor docid.Flavor) (store.Meta, error) {
	row := s.db.QueryRow(`SELECT valid_after, digest FROM consensus_meta WHERE flavor = ?`, int(flavor))

	var validAfterUnix int64
	var digestBytes []byte
	switch err := row.Scan(&validAfterUnix, &digestBytes); err {
	case sql.ErrNoRows:
		return nil, nil
	case nil:
		var digest docid.Digest
		copy(digest[:], digestBytes)
		return consensusMeta{validAfter: time.Unix(validAfterUnix, 0).UTC(), digest: digest}, nil
	default:
		log.WithError(err).WithField("flavor", flavor).Warn("reading consensus metadata")
		return nil, fmt.Errorf("%w: %v", store.ErrIo, err)
	}
}

func (s *Store) StoreMicrodescs(ctx context.Context, pairs []store.MicrodescPair, when time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: beginning transaction: %v", store.ErrIo, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO documents (kind, flavor, key, digest, body, fetched)
		VALUES (?, 0, ?, ?, ?, ?)
		ON CONFLICT (kind, flavor, key) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("%w: preparing insert: %v", store.ErrIo, err)
	}
	defer stmt.Close()

	for _, p := range pairs {
		if _, err := stmt.ExecContext(ctx, int(docid.KindMicrodesc), p.Digest[:], p.Digest[:], p.Body, when.Unix()); err != nil {
			return fmt.Errorf("%w: storing microdescriptor %s: %v", store.ErrIo, p.Digest, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: committing transaction: %v", store.ErrIo, err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context, ids []docid.ID, into map[docid.ID]docid.Text) error {
	for _, id := range ids {
		var key []byte
		switch id.Kind() {
		case docid.KindMicrodesc, docid.KindRouterDesc:
			d := id.Digest()
			key = d[:]
		default:
			continue // consensus/cert loading would key differently; not needed by the demo path.
		}

		row := s.db.QueryRowContext(ctx,
			`SELECT digest, body FROM documents WHERE kind = ? AND key = ?`,
			int(id.Kind()), key)

		var digestBytes, body []byte
		switch err := row.Scan(&digestBytes, &body); err {
		case sql.ErrNoRows:
			continue
		case nil:
			var digest docid.Digest
			copy(digest[:], digestBytes)
			into[id] = docid.Text{Digest: digest, Body: body}
		default:
			return fmt.Errorf("%w: loading %s: %v", store.ErrIo, id, err)
		}
	}
	return nil
}

var _ store.Store = (*Store)(nil)
