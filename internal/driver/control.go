package driver

import (
	"os"
	"path/filepath"

	"github.com/tundrabuild/tundra/internal/statefile"
)

// ForceRebuild discards the loaded previous state, so every resolved
// node's needsRebuild check sees no PrevRecord and unconditionally
// reruns, implementing the -rebuild flag.
func (d *Driver) ForceRebuild() {
	d.prevState = &statefile.State{}
}

// CleanAll removes every output and aux-output recorded in the previous
// state, as if the current DAG declared none, implementing the -clean
// flag. It does not touch the DAG, scan cache, or digest cache files
// themselves.
func (d *Driver) CleanAll() error {
	empty := *d.Graph
	empty.Nodes = nil
	saved := d.Graph
	d.Graph = &empty
	err := d.CleanStaleOutputs()
	d.Graph = saved
	return err
}

// RemoveCacheFiles deletes the state, scan-cache, and digest-cache
// files outright, tolerating their absence.
func (d *Driver) RemoveCacheFiles() error {
	for _, name := range []string{d.cfg.stateName(), d.cfg.scanName(), d.cfg.digestName()} {
		if err := os.Remove(filepath.Join(d.cfg.WorkingDir, name)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}
