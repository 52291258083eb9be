package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// MetadataFile is the name of the metadata record inside the data
// directory.
const MetadataFile = "metadata.json"

// Metadata is the small persisted record pointing at the current
// snapshot. It is replaced atomically (write-new-file-then-rename)
// whenever a snapshot completes.
type Metadata struct {
	SnapshotPath    string   `json:"snapshot_path"`
	LastSnapshotSeq uint64   `json:"last_snapshot_sequence"`
	Tables          []string `json:"table_directory"`
}

// LoadMetadata reads the metadata record from dir. A missing file is
// not an error: it returns (nil, nil), meaning a fresh database.
func LoadMetadata(dir string) (*Metadata, error) {
	data, err := os.ReadFile(filepath.Join(dir, MetadataFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// SaveMetadata atomically replaces the metadata record in dir.
func SaveMetadata(dir string, m *Metadata) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}

	path := filepath.Join(dir, MetadataFile)
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}
