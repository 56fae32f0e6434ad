package vm

import (
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// CodeCache persists finished code objects so a restarted embedding
// can reuse prior optimization work. Purely an accelerator: entries
// may be dropped at any time and a miss just recompiles.
type CodeCache struct {
	db *sql.DB
}

// OpenCodeCache opens (or creates) a cache database at path.
func OpenCodeCache(path string) (*CodeCache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("vm: opening code cache: %w", err)
	}
	const schema = `
	CREATE TABLE IF NOT EXISTS code_objects (
		function_id TEXT PRIMARY KEY,
		code_id     TEXT NOT NULL,
		kind        INTEGER NOT NULL,
		blob        BLOB NOT NULL,
		created_at  INTEGER NOT NULL DEFAULT (unixepoch())
	);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("vm: creating code cache schema: %w", err)
	}
	return &CodeCache{db: db}, nil
}

// Put stores (or replaces) the code object for functionID.
func (c *CodeCache) Put(functionID string, co *CodeObject) error {
	blob, err := co.Serialize()
	if err != nil {
		return fmt.Errorf("vm: serializing code object: %w", err)
	}
	_, err = c.db.Exec(
		`INSERT INTO code_objects (function_id, code_id, kind, blob)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(function_id) DO UPDATE SET
		   code_id = excluded.code_id, kind = excluded.kind, blob = excluded.blob`,
		functionID, co.ID.String(), int(co.Kind), blob)
	if err != nil {
		return fmt.Errorf("vm: storing code object: %w", err)
	}
	return nil
}

// Get loads the cached code object for functionID. The bool reports a
// hit.
func (c *CodeCache) Get(functionID string) (*CodeObject, bool, error) {
	var blob []byte
	err := c.db.QueryRow(
		`SELECT blob FROM code_objects WHERE function_id = ?`, functionID).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("vm: loading code object: %w", err)
	}
	co, err := DeserializeCodeObject(blob)
	if err != nil {
		return nil, false, err
	}
	return co, true, nil
}

// Delete drops the entry for functionID, if present.
func (c *CodeCache) Delete(functionID string) error {
	_, err := c.db.Exec(`DELETE FROM code_objects WHERE function_id = ?`, functionID)
	return err
}

// Close releases the database handle.
func (c *CodeCache) Close() error {
	return c.db.Close()
}
