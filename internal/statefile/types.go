// Package statefile implements the frozen previous-build-state schema of
// spec.md §3 "Previous State" / §6 (".tundra2.state"): for every node that
// existed in the previous build, its NodeGuid, recorded build result,
// recorded input signature, and the output/aux-output file lists as they
// stood then. Records are sorted ascending by Guid, the same
// binfmt-backed, sorted-array-plus-binary-search shape internal/dagfile
// uses for its own NodeGuid table.
package statefile

import (
	"github.com/tundrabuild/tundra/internal/dagfile"
	"github.com/tundrabuild/tundra/internal/digest"
)

// Magic is the raw (pre-XOR) magic number for the state file format
// (spec.md §6).
const Magic = 0x15890102

// Record is one node's carried-forward previous-build state.
type Record struct {
	Guid        digest.Digest
	BuildResult int32
	Signature   digest.Digest
	Outputs     []dagfile.FileRef
	AuxOutputs  []dagfile.FileRef
}
