package store

import (
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"
)

// CurrentSchemaVersion is the current schema version.
// Increment this when making breaking changes to the storage format.
const CurrentSchemaVersion = 2

var (
	keySchemaVersion = []byte("schema_version")
	keyConfigHash    = []byte("config_hash")
)

// SchemaInfo stores schema version and the configuration hash the stored
// vectors were built with.
type SchemaInfo struct {
	Version    int    `json:"version"`
	ConfigHash string `json:"config_hash"`
}

// Versioned is a gateway that tracks its schema.
type Versioned interface {
	GetSchemaInfo() (*SchemaInfo, error)
	SetSchemaInfo(info *SchemaInfo) error
	runMigration(from, to int) error
}

// MigrationResult describes the result of a migration check.
type MigrationResult struct {
	NeedsMigration bool
	// ConfigChanged means stored vectors were built under other chunking or
	// embedding settings and will be re-derived on recovery.
	ConfigChanged bool
	// Incompatible means the database was written by a newer release.
	Incompatible bool
	OldVersion   int
	NewVersion   int
	Reason       string
}

// CheckMigration compares the stored schema with this build and configHash.
func CheckMigration(s Versioned, configHash string) (*MigrationResult, error) {
	info, err := s.GetSchemaInfo()
	if err != nil {
		return nil, fmt.Errorf("failed to get schema info: %w", err)
	}

	result := &MigrationResult{
		OldVersion: info.Version,
		NewVersion: CurrentSchemaVersion,
	}

	switch {
	case info.Version == 0:
		result.NeedsMigration = true
		result.Reason = "initializing schema version"
	case info.Version < CurrentSchemaVersion:
		result.NeedsMigration = true
		result.Reason = fmt.Sprintf("schema upgrade from v%d to v%d", info.Version, CurrentSchemaVersion)
	case info.Version > CurrentSchemaVersion:
		result.Incompatible = true
		result.Reason = fmt.Sprintf("database created by newer version (v%d > v%d)", info.Version, CurrentSchemaVersion)
		return result, nil
	}

	if info.ConfigHash != "" && info.ConfigHash != configHash {
		result.ConfigChanged = true
		result.Reason = "chunking or embedding configuration changed"
	}

	return result, nil
}

// Migrate upgrades the schema step by step and records configHash.
func Migrate(s Versioned, configHash string) error {
	info, err := s.GetSchemaInfo()
	if err != nil {
		return err
	}
	if info.Version > CurrentSchemaVersion {
		return fmt.Errorf("database schema v%d is newer than supported v%d", info.Version, CurrentSchemaVersion)
	}

	for v := info.Version; v < CurrentSchemaVersion; v++ {
		if err := s.runMigration(v, v+1); err != nil {
			return fmt.Errorf("migration from v%d to v%d failed: %w", v, v+1, err)
		}
	}

	return s.SetSchemaInfo(&SchemaInfo{
		Version:    CurrentSchemaVersion,
		ConfigHash: configHash,
	})
}

// GetSchemaInfo retrieves the current schema info from the database.
func (s *BoltStore) GetSchemaInfo() (*SchemaInfo, error) {
	var info SchemaInfo
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketMeta)
		if b == nil {
			return nil
		}
		if versionData := b.Get(keySchemaVersion); versionData != nil {
			if err := json.Unmarshal(versionData, &info.Version); err != nil {
				info.Version = 1
			}
		}
		if hashData := b.Get(keyConfigHash); hashData != nil {
			info.ConfigHash = string(hashData)
		}
		return nil
	})
	return &info, err
}

// SetSchemaInfo stores the schema info in the database.
func (s *BoltStore) SetSchemaInfo(info *SchemaInfo) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketMeta)

		versionData, err := json.Marshal(info.Version)
		if err != nil {
			return err
		}
		if err := b.Put(keySchemaVersion, versionData); err != nil {
			return err
		}
		return b.Put(keyConfigHash, []byte(info.ConfigHash))
	})
}

func (s *BoltStore) runMigration(from, to int) error {
	switch {
	case from == 1 && to == 2:
		// v2 added the per-document session index used for cascading deletes
		return s.db.Update(func(tx *bbolt.Tx) error {
			idx, err := tx.CreateBucketIfNotExists(bucketDocSessions)
			if err != nil {
				return err
			}
			return tx.Bucket(bucketSessions).ForEach(func(k, v []byte) error {
				var rec sessionRecord
				if err := json.Unmarshal(v, &rec); err != nil {
					return fmt.Errorf("decode session %s: %w", k, err)
				}
				docIdx, err := idx.CreateBucketIfNotExists([]byte(rec.DocumentID))
				if err != nil {
					return err
				}
				return docIdx.Put(k, nil)
			})
		})
	default:
		return nil
	}
}
