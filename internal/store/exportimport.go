package store

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// exportDoc is the on-disk YAML shape for a paired-device list backup.
// Field names are stable and additive so a future field can be appended
// without breaking older exports.
type exportDoc struct {
	SyncEnabled bool               `yaml:"sync_enabled"`
	Devices     []exportDeviceYAML `yaml:"devices"`
}

type exportDeviceYAML struct {
	MAC            string `yaml:"mac"`
	Name           string `yaml:"name,omitempty"`
	VendorID       string `yaml:"vendor_id"`
	Enabled        bool   `yaml:"enabled"`
	LastSyncedAtMS int64  `yaml:"last_synced_at_ms,omitempty"`
}

// Export writes the current paired-device list and sync flag to path as
// YAML, for backup or migration to another host.
func (s *Store) Export(path string) error {
	doc := exportDoc{SyncEnabled: s.isSyncEnabled.Get()}
	for _, pd := range s.paired.Get() {
		dv := exportDeviceYAML{MAC: pd.MAC, VendorID: pd.VendorID, Enabled: pd.Enabled}
		if pd.Name != nil {
			dv.Name = *pd.Name
		}
		if pd.LastSyncedAtMS != nil {
			dv.LastSyncedAtMS = *pd.LastSyncedAtMS
		}
		doc.Devices = append(doc.Devices, dv)
	}

	b, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: marshal export: %v", ErrStorageCorrupt, err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("store: write export %s: %w", path, err)
	}
	return nil
}

// Import merges the paired-device list and sync flag in path into the
// store. A malformed file is rejected with ErrStorageCorrupt rather than
// partially applied.
func (s *Store) Import(ctx context.Context, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("store: read import %s: %w", path, err)
	}

	var doc exportDoc
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return fmt.Errorf("%w: unmarshal import %s: %v", ErrStorageCorrupt, path, err)
	}
	for _, dv := range doc.Devices {
		if dv.MAC == "" || dv.VendorID == "" {
			return fmt.Errorf("%w: import %s: device missing mac or vendor_id", ErrStorageCorrupt, path)
		}
	}

	for _, dv := range doc.Devices {
		name := dv.Name
		var namePtr *string
		if name != "" {
			namePtr = &name
		}
		if err := s.Add(ctx, dv.MAC, namePtr, dv.VendorID); err != nil {
			return err
		}
		if err := s.SetEnabled(ctx, dv.MAC, dv.Enabled); err != nil {
			return err
		}
		if dv.LastSyncedAtMS > 0 {
			if err := s.UpdateLastSyncedAt(ctx, dv.MAC, dv.LastSyncedAtMS); err != nil {
				return err
			}
		}
	}
	return s.SetSyncEnabled(ctx, doc.SyncEnabled)
}
