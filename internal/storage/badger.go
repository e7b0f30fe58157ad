package storage

import (
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Open opens the durable store backing the settlement engine. One database
// holds every record family (holds, allocations, payments, events), each
// under its own key prefix.
func Open(path string) (*badger.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("storage path cannot be empty")
	}

	opts := badger.DefaultOptions(path)
	opts = opts.WithValueLogFileSize(16 << 20) // 16MB value log files
	opts = opts.WithNumMemtables(2)            // Reduce memory usage
	opts = opts.WithNumLevelZeroTables(2)      // Reduce file handles
	opts = opts.WithNumLevelZeroTablesStall(3)
	opts = opts.WithLogger(nil) // Disable badger logging

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database at %s: %w", path, err)
	}

	// Background garbage collection of value logs.
	go runGC(db)

	return db, nil
}

// OpenInMemory opens an ephemeral store for tests.
func OpenInMemory() (*badger.DB, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory badger database: %w", err)
	}
	return db, nil
}

// runGC runs periodic garbage collection on value logs.
func runGC(db *badger.DB) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		if db.IsClosed() {
			return
		}
		err := db.RunValueLogGC(0.5)
		if err != nil && err != badger.ErrNoRewrite {
			continue
		}
	}
}
