// Package dagfile implements the frozen binary schema for the DAG file
// (spec.md §3 "DAG (frozen, read-only)", §6 ".tundra2.dag") on top of
// internal/binfmt. It provides Compile (assembles the segmented binary
// form from a plain in-memory Graph, the job of the external DAG
// producer per spec.md §1) and Load (maps a .tundra2.dag file and
// eagerly decodes it back into the same in-memory shape, the job of the
// Driver).
package dagfile

import "github.com/tundrabuild/tundra/internal/digest"

// Magic is the raw (pre-XOR) magic number for the DAG file format
// (spec.md §6).
const Magic = 0x1589010d

// NodeFlag bits, spec.md §3.
type NodeFlag uint32

const (
	FlagOverwriteOutputs NodeFlag = 1 << iota
	FlagPreciousOutputs
	FlagExpensive
	FlagWriteTextFileAction
	FlagAllowUnexpectedOutput
)

// Has reports whether flag bit f is set.
func (flags NodeFlag) Has(f NodeFlag) bool { return flags&f != 0 }

// FileRef names one input/output/aux-output file entry: a filename plus
// its precomputed 32-bit path hash.
type FileRef struct {
	Name string
	Hash uint32
}

// EnvVar is one (name, value) environment variable entry.
type EnvVar struct {
	Name  string
	Value string
}

// ScannerKind distinguishes the two include-scanner variants of
// spec.md §4.7.
type ScannerKind int32

const (
	ScannerNone ScannerKind = iota
	ScannerCpp
	ScannerGeneric
)

// GenericScannerFlag bits, spec.md §4.7.
type GenericScannerFlag uint32

const (
	FlagRequireWhitespace GenericScannerFlag = 1 << iota
	FlagUseSeparators
	FlagBareMeansSystem
)

// Keyword is one entry of a generic scanner's keyword table.
type Keyword struct {
	Text   string
	Follow bool
}

// Scanner is a node's optional include-scanner definition.
type Scanner struct {
	Kind         ScannerKind
	IncludePaths []string
	Keywords     []Keyword // only meaningful when Kind == ScannerGeneric
	Flags        GenericScannerFlag
}

// Node is one DAG node (NodeData in spec.md §3).
type Node struct {
	Guid             digest.Digest
	Action           string
	PreAction        string
	Annotation       string
	PassIndex        int32
	Deps             []int32 // indices into Graph.Nodes
	ReverseDeps      []int32
	Inputs           []FileRef
	Outputs          []FileRef
	AuxOutputs       []FileRef
	Env              []EnvVar
	Scanner          *Scanner
	Flags            NodeFlag
	AllowedOutputs   []string // allowed-output substrings, spec.md §4.10
}

// NamedHash is a (name, hash) pair used for the config/variant/subvariant
// name tables.
type NamedHash struct {
	Name string
	Hash uint32
}

// NamedNode maps a human-chosen target name to a node index, within one
// build tuple.
type NamedNode struct {
	Name      string
	NodeIndex int32
}

// BuildTuple is one (config, variant, subvariant) target set.
type BuildTuple struct {
	Config, Variant, Subvariant int32 // indices into Graph's name tables, -1 if absent
	DefaultNodes                []int32
	AlwaysRunNodes               []int32
	NamedNodes                   []NamedNode
}

// ProducerInputFile records a (path, mtime) pair for a file that fed into
// DAG generation, used to decide whether the DAG producer must be re-run
// (spec.md §4.14 step 1).
type ProducerInputFile struct {
	Path  string
	Mtime int64
}

// GlobSignature records the digest of a directory listing that the DAG
// producer's glob expansion depended on.
type GlobSignature struct {
	Path   string
	Digest digest.Digest
}

// Graph is the full in-memory DAG, spec.md §3.
type Graph struct {
	Nodes []Node

	Passes               []string
	Configs              []NamedHash
	Variants             []NamedHash
	Subvariants          []NamedHash
	BuildTuples          []BuildTuple
	DefaultTupleIndices  []int32
	ProducerInputFiles   []ProducerInputFile
	GlobSignatures       []GlobSignature
	ContentDigestExts    []uint32 // hashes of filename extensions selecting content-digest signing
	MaxExpensiveCount    int32
}

// MaxPasses is the hard cap on m_PassIndex enforced at load time
// (spec.md §9 open question: the Driver's pass-array limit is 64 even
// though the wire format's field width is int32).
const MaxPasses = 64
