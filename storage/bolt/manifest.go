package bolt

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const SchemaVersionV1 uint32 = 1

// Manifest is the schema-version marker written alongside the bbolt file,
// so a node refuses to open a database written by an incompatible future
// version rather than silently corrupting it.
type Manifest struct {
	SchemaVersion uint32 `json:"schema_version"`
	Network       string `json:"network"`
}

func manifestPath(networkDir string) string {
	return filepath.Join(networkDir, "MANIFEST.json")
}

func readManifest(networkDir string) (*Manifest, error) {
	b, err := os.ReadFile(manifestPath(networkDir))
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("manifest json: %w", err)
	}
	return &m, nil
}

// writeManifestAtomic writes MANIFEST.json as a crash-safe commit point:
// write temp, fsync temp, rename, fsync dir.
func writeManifestAtomic(networkDir string, m *Manifest) error {
	if m == nil {
		return fmt.Errorf("manifest: nil")
	}
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("manifest json: %w", err)
	}
	b = append(b, '\n')

	final := manifestPath(networkDir)
	tmp := final + ".tmp"

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("manifest open tmp: %w", err)
	}
	_, werr := f.Write(b)
	serr := f.Sync()
	cerr := f.Close()
	if werr != nil {
		return fmt.Errorf("manifest write tmp: %w", werr)
	}
	if serr != nil {
		return fmt.Errorf("manifest fsync tmp: %w", serr)
	}
	if cerr != nil {
		return fmt.Errorf("manifest close tmp: %w", cerr)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("manifest rename: %w", err)
	}

	d, err := os.Open(networkDir)
	if err != nil {
		return fmt.Errorf("manifest fsync dir open: %w", err)
	}
	if err := d.Sync(); err != nil {
		_ = d.Close()
		return fmt.Errorf("manifest fsync dir: %w", err)
	}
	if err := d.Close(); err != nil {
		return fmt.Errorf("manifest fsync dir close: %w", err)
	}
	return nil
}
