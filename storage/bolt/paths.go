package bolt

import (
	"fmt"
	"os"
	"path/filepath"
)

// NetworkDir returns the on-disk directory for a given Bitcoin network
// under datadir: datadir/networks/<network>/
func NetworkDir(datadir, network string) string {
	return filepath.Join(datadir, "networks", network)
}

func ensureDir(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", path, err)
	}
	return nil
}
