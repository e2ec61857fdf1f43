// Package pb implements the DAG producer's human-edited build-tuple
// manifest: which (config, variant, subvariant) combinations exist and
// which named targets each one exposes. It is a textproto-like schema
// parsed and canonically formatted with
// github.com/protocolbuffers/txtpbfmt, the same library and pattern the
// teacher's cmd/distri/scaffold.go uses for its build.textproto package
// files (parser.Parse/parser.Format/ast.GetFromPath), adapted here to a
// hand-written struct decode instead of generated protobuf types: the
// pack's only available protobuf stack is the text formatter, not a
// descriptor-based marshaler, so the manifest is decoded by walking the
// parsed node tree directly.
package pb

import (
	"bytes"
	"fmt"
	"os"
	"strconv"

	"github.com/google/renameio"
	"github.com/protocolbuffers/txtpbfmt/ast"
	"github.com/protocolbuffers/txtpbfmt/parser"
)

// ConfigDef, VariantDef, and SubvariantDef name one entry of the
// graph's config/variant/subvariant tables (spec.md §3).
type ConfigDef struct{ Name string }
type VariantDef struct{ Name string }
type SubvariantDef struct{ Name string }

// TargetDef binds a human-chosen name to a DAG producer node label
// within one tuple.
type TargetDef struct {
	Name string
	Node string
}

// TupleDef is one (config, variant, subvariant) build tuple: its
// default targets, its always-run targets, and its named targets.
type TupleDef struct {
	Config, Variant, Subvariant string
	Default                     bool
	DefaultNodes                []string
	AlwaysRunNodes               []string
	Targets                      []TargetDef
}

// Manifest is the full build-tuple manifest.
type Manifest struct {
	Configs     []ConfigDef
	Variants    []VariantDef
	Subvariants []SubvariantDef
	Tuples      []TupleDef
}

// Load reads and parses a manifest file.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes a manifest from textproto-like bytes using
// txtpbfmt's permissive parser (it imposes no schema of its own; the
// shape below is this package's own convention, not a wire format).
func Parse(data []byte) (*Manifest, error) {
	nodes, err := parser.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("pb: parse manifest: %w", err)
	}

	m := &Manifest{}
	for _, n := range ast.GetFromPath(nodes, []string{"config"}) {
		m.Configs = append(m.Configs, ConfigDef{Name: scalarField(n, "name")})
	}
	for _, n := range ast.GetFromPath(nodes, []string{"variant"}) {
		m.Variants = append(m.Variants, VariantDef{Name: scalarField(n, "name")})
	}
	for _, n := range ast.GetFromPath(nodes, []string{"subvariant"}) {
		m.Subvariants = append(m.Subvariants, SubvariantDef{Name: scalarField(n, "name")})
	}
	for _, n := range ast.GetFromPath(nodes, []string{"tuple"}) {
		t := TupleDef{
			Config:     scalarField(n, "config"),
			Variant:    scalarField(n, "variant"),
			Subvariant: scalarField(n, "subvariant"),
			Default:    boolField(n, "default"),
		}
		for _, d := range childrenNamed(n, "default_node") {
			t.DefaultNodes = append(t.DefaultNodes, valueOf(d))
		}
		for _, a := range childrenNamed(n, "always_run") {
			t.AlwaysRunNodes = append(t.AlwaysRunNodes, valueOf(a))
		}
		for _, target := range childrenNamed(n, "target") {
			t.Targets = append(t.Targets, TargetDef{
				Name: scalarField(target, "name"),
				Node: scalarField(target, "node"),
			})
		}
		m.Tuples = append(m.Tuples, t)
	}
	return m, nil
}

// Save canonically formats m and atomically writes it to path, in the
// teacher's renameio.WriteFile style (cmd/distri/scaffold.go).
func Save(path string, m *Manifest) error {
	data, err := Format(m)
	if err != nil {
		return err
	}
	return renameio.WriteFile(path, data, 0644)
}

// Format renders m as canonically-formatted textproto-like bytes.
func Format(m *Manifest) ([]byte, error) {
	var buf bytes.Buffer
	for _, c := range m.Configs {
		fmt.Fprintf(&buf, "config {\n  name: %s\n}\n", quote(c.Name))
	}
	for _, v := range m.Variants {
		fmt.Fprintf(&buf, "variant {\n  name: %s\n}\n", quote(v.Name))
	}
	for _, s := range m.Subvariants {
		fmt.Fprintf(&buf, "subvariant {\n  name: %s\n}\n", quote(s.Name))
	}
	for _, t := range m.Tuples {
		buf.WriteString("tuple {\n")
		if t.Config != "" {
			fmt.Fprintf(&buf, "  config: %s\n", quote(t.Config))
		}
		if t.Variant != "" {
			fmt.Fprintf(&buf, "  variant: %s\n", quote(t.Variant))
		}
		if t.Subvariant != "" {
			fmt.Fprintf(&buf, "  subvariant: %s\n", quote(t.Subvariant))
		}
		if t.Default {
			buf.WriteString("  default: true\n")
		}
		for _, d := range t.DefaultNodes {
			fmt.Fprintf(&buf, "  default_node: %s\n", quote(d))
		}
		for _, a := range t.AlwaysRunNodes {
			fmt.Fprintf(&buf, "  always_run: %s\n", quote(a))
		}
		for _, target := range t.Targets {
			fmt.Fprintf(&buf, "  target {\n    name: %s\n    node: %s\n  }\n", quote(target.Name), quote(target.Node))
		}
		buf.WriteString("}\n")
	}

	formatted, err := parser.Format(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("pb: format manifest: %w", err)
	}
	return formatted, nil
}

func quote(s string) string {
	return strconv.Quote(s)
}

func scalarField(n *ast.Node, name string) string {
	for _, c := range n.Children {
		if c.Name == name && len(c.Values) > 0 {
			return unquote(c.Values[0].Value)
		}
	}
	return ""
}

func boolField(n *ast.Node, name string) bool {
	return scalarField(n, name) == "true"
}

func childrenNamed(n *ast.Node, name string) []*ast.Node {
	var out []*ast.Node
	for _, c := range n.Children {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// valueOf reads a scalar (non-message) child node's own value, used for
// repeated string fields like "default_node: \"foo\"".
func valueOf(n *ast.Node) string {
	if len(n.Values) == 0 {
		return ""
	}
	return unquote(n.Values[0].Value)
}

func unquote(s string) string {
	if v, err := strconv.Unquote(s); err == nil {
		return v
	}
	return s
}
