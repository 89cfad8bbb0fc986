package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"shelfcheck/config"
)

// CurrentSchemaVersion is the current schema version.
// Increment this when making breaking changes to the storage format.
const CurrentSchemaVersion = 2

var (
	keySchemaVersion = []byte("schema_version")
	keyConfigHash    = []byte("config_hash")
)

// SchemaInfo stores schema version and configuration hash.
type SchemaInfo struct {
	Version    int    `json:"version"`
	ConfigHash string `json:"config_hash"`
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

// ComputeConfigHash hashes the settings that change stored vectors.
// A different hash means every vector must be recomputed.
func ComputeConfigHash(cfg *config.Config) string {
	relevant := struct {
		Provider  string `json:"provider"`
		Model     string `json:"model"`
		Dimension int    `json:"dimension"`
	}{
		Provider:  cfg.Embedding.Provider,
		Model:     cfg.Embedding.Model,
		Dimension: cfg.Embedding.Dimension,
	}
	if cfg.Embedding.Provider == config.ProviderNGram {
		relevant.Model = ""
	}

	data, _ := json.Marshal(relevant)
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:8])
}

// MigrationResult describes the result of a migration check.
type MigrationResult struct {
	NeedsMigration bool
	NeedsRebuild   bool
	OldVersion     int
	NewVersion     int
	Reason         string
}

// CheckMigration checks if migration or rebuild is needed.
func (s *BoltStore) CheckMigration(cfg *config.Config) (*MigrationResult, error) {
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
		result.NeedsRebuild = true
		result.Reason = fmt.Sprintf("database created by newer version (v%d > v%d)", info.Version, CurrentSchemaVersion)
		return result, nil
	}

	if info.ConfigHash != "" && info.ConfigHash != ComputeConfigHash(cfg) {
		result.NeedsRebuild = true
		result.Reason = "embedding configuration changed"
	}

	return result, nil
}

// Migrate performs any necessary schema migrations.
func (s *BoltStore) Migrate(cfg *config.Config) error {
	info, err := s.GetSchemaInfo()
	if err != nil {
		return err
	}

	for v := info.Version; v < CurrentSchemaVersion; v++ {
		if err := s.runMigration(v, v+1); err != nil {
			return fmt.Errorf("migration from v%d to v%d failed: %w", v, v+1, err)
		}
	}

	return s.SetSchemaInfo(&SchemaInfo{
		Version:    CurrentSchemaVersion,
		ConfigHash: ComputeConfigHash(cfg),
	})
}

// runMigration runs a specific version migration. v2 added the pending
// bucket for entries whose vector write failed.
func (s *BoltStore) runMigration(from, to int) error {
	switch {
	case from == 1 && to == 2:
		return s.db.Update(func(tx *bbolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists(bucketPending)
			return err
		})
	default:
		return nil
	}
}

// Clear removes all catalog entries, keeping schema info. Vectors are
// removed through the index so remote backends stay in step.
func (s *BoltStore) Clear() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketEntries, bucketFileEntries, bucketPending} {
			if tx.Bucket(name) == nil {
				continue
			}
			if err := tx.DeleteBucket(name); err != nil {
				return err
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return err
			}
		}
		return nil
	})
}

// NeedsRebuild checks if the index needs a full rebuild due to config changes.
func (s *BoltStore) NeedsRebuild(cfg *config.Config) (bool, string, error) {
	result, err := s.CheckMigration(cfg)
	if err != nil {
		return false, "", err
	}
	return result.NeedsRebuild, result.Reason, nil
}
