// Package store caches compiled packages in a SQLite database, keyed by the
// content hash of the tree and the options it was compiled with.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nijnstein/blast/compiler"
	"github.com/nijnstein/blast/compiler/hash"
	"github.com/nijnstein/blast/pkg/bytecode"
	"github.com/tliron/commonlog"
	"github.com/zeebo/xxh3"
	_ "modernc.org/sqlite"
)

var log = commonlog.GetLogger("blast.store")

// ErrNotFound indicates the requested package is not cached.
var ErrNotFound = errors.New("package not found")

// Store handles SQLite storage for compiled packages.
type Store struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// Open opens or creates the cache database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating cache dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS packages (
		key TEXT PRIMARY KEY,
		id TEXT NOT NULL,
		mode INTEGER NOT NULL,
		created INTEGER NOT NULL,
		data BLOB NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Path returns the database file.
func (s *Store) Path() string {
	return s.path
}

// Key identifies a compilation: the content hash of the tree and the
// options that change the emitted code. Parallelism and verification do not.
func Key(tree *compiler.Tree, opts compiler.Options) (string, error) {
	sum, err := hash.HashTree(tree)
	if err != nil {
		return "", err
	}
	h := xxh3.New()
	h.Write(sum[:])
	h.WriteString(fmt.Sprintf("|mode=%d|inline=%t|stack=%d", opts.Mode, opts.InlineConstantData, opts.StackSize))
	return fmt.Sprintf("%016x", h.Sum64()), nil
}

// Put stores a package under key, replacing any previous entry.
func (s *Store) Put(key string, pkg *bytecode.Package) error {
	data, err := bytecode.MarshalPackage(pkg)
	if err != nil {
		return fmt.Errorf("encoding package: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(
		"INSERT OR REPLACE INTO packages (key, id, mode, created, data) VALUES (?, ?, ?, ?, ?)",
		key, pkg.ID, int(pkg.Mode), time.Now().Unix(), data,
	)
	if err != nil {
		return fmt.Errorf("saving package: %w", err)
	}
	return nil
}

// Get retrieves the package stored under key.
func (s *Store) Get(key string) (*bytecode.Package, error) {
	var data []byte
	err := s.db.QueryRow("SELECT data FROM packages WHERE key = ?", key).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying package: %w", err)
	}

	pkg, err := bytecode.UnmarshalPackage(data)
	if err != nil {
		return nil, fmt.Errorf("decoding package %s: %w", key, err)
	}
	if err := pkg.Validate(); err != nil {
		return nil, fmt.Errorf("package %s: %w", key, err)
	}
	return pkg, nil
}

// GetOrCompile returns the package stored under key, or compiles, stores
// and returns a new one. The second result reports a cache hit.
func (s *Store) GetOrCompile(key string, compile func() (*bytecode.Package, error)) (*bytecode.Package, bool, error) {
	pkg, err := s.Get(key)
	switch {
	case err == nil:
		log.Debugf("cache hit %s: package %s", key, pkg.ID)
		return pkg, true, nil
	case !errors.Is(err, ErrNotFound):
		// A corrupt entry is replaced.
		log.Warningf("cache entry %s: %s", key, err)
	}

	pkg, err = compile()
	if err != nil {
		return nil, false, err
	}
	if err := s.Put(key, pkg); err != nil {
		return nil, false, err
	}
	return pkg, false, nil
}

// Delete removes the package stored under key.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("DELETE FROM packages WHERE key = ?", key); err != nil {
		return fmt.Errorf("deleting package: %w", err)
	}
	return nil
}

// Entry describes a cached package.
type Entry struct {
	Key     string
	ID      string
	Mode    bytecode.PackageMode
	Created time.Time
	Size    int
}

// List returns the cached packages, newest first.
func (s *Store) List() ([]Entry, error) {
	rows, err := s.db.Query("SELECT key, id, mode, created, length(data) FROM packages ORDER BY created DESC, key")
	if err != nil {
		return nil, fmt.Errorf("listing packages: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var mode int
		var created int64
		if err := rows.Scan(&e.Key, &e.ID, &mode, &created, &e.Size); err != nil {
			return nil, fmt.Errorf("listing packages: %w", err)
		}
		e.Mode = bytecode.PackageMode(mode)
		e.Created = time.Unix(created, 0)
		out = append(out, e)
	}
	return out, rows.Err()
}
