package driver

import (
	"path/filepath"
	"strings"

	"golang.org/x/xerrors"

	"github.com/tundrabuild/tundra/internal/dagfile"
)

// ResolveTargets implements spec.md §4.14 step 4: tokens matching a
// config/variant/subvariant name filter the build-tuple cross-product;
// tokens of the form "config-variant[-subvariant]" pin a specific tuple;
// any other token is first tried as a named-node request against each
// matched tuple's named-node table and, on miss, matched against every
// node's input/output filenames (normalized against the working
// directory). With no tokens at all, the graph's DefaultTupleIndices'
// DefaultNodes are used.
func (d *Driver) ResolveTargets(tokens []string) ([]int, error) {
	tuples := d.matchTuples(tokens)
	if len(tuples) == 0 {
		tuples = d.Graph.DefaultTupleIndices
	}
	if len(tuples) == 0 {
		return nil, xerrors.New("driver: no build tuples matched and no default tuple is configured")
	}

	named := tokensNotConsumedByTuples(tokens, d.Graph)

	seen := make(map[int]bool)
	var nodes []int
	add := func(idx int) {
		if !seen[idx] {
			seen[idx] = true
			nodes = append(nodes, idx)
		}
	}

	for _, ti := range tuples {
		tuple := d.Graph.BuildTuples[ti]
		// AlwaysRunNodes belong to every resolved build regardless of
		// which targets were named (spec.md §3 BuildTuple).
		for _, ni := range tuple.AlwaysRunNodes {
			add(int(ni))
		}
		if len(named) == 0 {
			for _, ni := range tuple.DefaultNodes {
				add(int(ni))
			}
			continue
		}
		for _, tok := range named {
			idx, ok := resolveNamedNode(tuple, tok)
			if !ok {
				idx, ok = d.resolveByFilename(tok)
			}
			if !ok {
				return nil, xerrors.Errorf("driver: target %q matched no named node or file in build tuple %d", tok, ti)
			}
			add(idx)
		}
	}
	return nodes, nil
}

// matchTuples returns the indices of BuildTuples whose config/variant/
// subvariant fields satisfy every config/variant/subvariant filter token
// present, honoring explicit "config-variant[-subvariant]" pins.
func (d *Driver) matchTuples(tokens []string) []int {
	var configFilter, variantFilter, subvariantFilter = -2, -2, -2 // -2: unset, -1: absent-in-tuple
	var pinned []int
	consumed := false

	for _, tok := range tokens {
		if ti, ok := d.pinnedTuple(tok); ok {
			pinned = append(pinned, ti)
			consumed = true
			continue
		}
		if h, ok := d.lookupName(d.Graph.Configs, tok); ok {
			configFilter = int(h)
			consumed = true
		} else if h, ok := d.lookupName(d.Graph.Variants, tok); ok {
			variantFilter = int(h)
			consumed = true
		} else if h, ok := d.lookupName(d.Graph.Subvariants, tok); ok {
			subvariantFilter = int(h)
			consumed = true
		}
	}
	if len(pinned) > 0 {
		return pinned
	}
	if !consumed {
		return nil
	}

	var out []int
	for i, t := range d.Graph.BuildTuples {
		if configFilter != -2 && int(t.Config) != configFilter {
			continue
		}
		if variantFilter != -2 && int(t.Variant) != variantFilter {
			continue
		}
		if subvariantFilter != -2 && int(t.Subvariant) != subvariantFilter {
			continue
		}
		out = append(out, i)
	}
	return out
}

// pinnedTuple recognizes a "config-variant[-subvariant]" token and
// returns the matching BuildTuple index.
func (d *Driver) pinnedTuple(tok string) (int, bool) {
	parts := strings.Split(tok, "-")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, false
	}
	cfgIdx, ok := d.indexOfName(d.Graph.Configs, parts[0])
	if !ok {
		return 0, false
	}
	varIdx, ok := d.indexOfName(d.Graph.Variants, parts[1])
	if !ok {
		return 0, false
	}
	subIdx := int32(-1)
	if len(parts) == 3 {
		si, ok := d.indexOfName(d.Graph.Subvariants, parts[2])
		if !ok {
			return 0, false
		}
		subIdx = si
	}
	for i, t := range d.Graph.BuildTuples {
		if t.Config == cfgIdx && t.Variant == varIdx && t.Subvariant == subIdx {
			return i, true
		}
	}
	return 0, false
}

func (d *Driver) indexOfName(table []dagfile.NamedHash, name string) (int32, bool) {
	for i, nh := range table {
		if nh.Name == name {
			return int32(i), true
		}
	}
	return 0, false
}

func (d *Driver) lookupName(table []dagfile.NamedHash, name string) (int32, bool) {
	return d.indexOfName(table, name)
}

// tokensNotConsumedByTuples returns every token that did not match a
// config/variant/subvariant name and is not a pinned-tuple token: these
// become named-node requests.
func tokensNotConsumedByTuples(tokens []string, g *dagfile.Graph) []string {
	isName := func(table []dagfile.NamedHash, s string) bool {
		for _, nh := range table {
			if nh.Name == s {
				return true
			}
		}
		return false
	}
	var out []string
	for _, tok := range tokens {
		if isName(g.Configs, tok) || isName(g.Variants, tok) || isName(g.Subvariants, tok) {
			continue
		}
		parts := strings.Split(tok, "-")
		if len(parts) >= 2 && len(parts) <= 3 && isName(g.Configs, parts[0]) {
			continue // pinned tuple token
		}
		out = append(out, tok)
	}
	return out
}

func resolveNamedNode(t dagfile.BuildTuple, name string) (int, bool) {
	for _, nn := range t.NamedNodes {
		if nn.Name == name {
			return int(nn.NodeIndex), true
		}
	}
	return 0, false
}

// resolveByFilename matches tok, normalized against the working
// directory, against every node's input/output filenames (also
// normalized), spec.md §4.14's fallback target-resolution step.
func (d *Driver) resolveByFilename(tok string) (int, bool) {
	want := normalize(d.cfg.WorkingDir, tok)
	for i, n := range d.Graph.Nodes {
		for _, f := range n.Outputs {
			if normalize(d.cfg.WorkingDir, f.Name) == want {
				return i, true
			}
		}
		for _, f := range n.Inputs {
			if normalize(d.cfg.WorkingDir, f.Name) == want {
				return i, true
			}
		}
	}
	return 0, false
}

func normalize(workingDir, p string) string {
	if !filepath.IsAbs(p) {
		p = filepath.Join(workingDir, p)
	}
	return filepath.Clean(p)
}
