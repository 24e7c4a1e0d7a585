package store

import (
	"fmt"
	"strconv"

	"teamwire/pkg/logger"
)

const schemaVersionKey = "schema:version"

// schemaVersion is the keyspace layout version this build writes.
const schemaVersion = 1

// Migrate runs the schema migration step once at process startup.
// Request handlers never repair schema lazily; a database from a newer
// build is refused.
func Migrate() error {
	if db == nil {
		return notOpen()
	}
	v, err := getRaw(schemaVersionKey)
	if err != nil {
		if !IsNotFound(err) {
			return err
		}
		// fresh database; stamp the current version
		if err := setRaw(schemaVersionKey, []byte(strconv.Itoa(schemaVersion))); err != nil {
			return err
		}
		logger.Info("schema_initialized", "version", schemaVersion)
		return nil
	}
	cur, err := strconv.Atoi(string(v))
	if err != nil {
		return fmt.Errorf("corrupt schema version %q: %w", v, err)
	}
	if cur > schemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported %d", cur, schemaVersion)
	}
	// forward migrations slot in here as the layout evolves
	if cur < schemaVersion {
		if err := setRaw(schemaVersionKey, []byte(strconv.Itoa(schemaVersion))); err != nil {
			return err
		}
		logger.Info("schema_migrated", "from", cur, "to", schemaVersion)
	}
	return nil
}
