package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"

	"github.com/isb2026/bomrel/internal/adjacency"
	"github.com/isb2026/bomrel/internal/ir"
)

// LoadError reports a subtree or import file that could not be read.
type LoadError struct {
	Path    string
	Message string
	Err     error
}

func (e *LoadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Path, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// LoadSubtree reads a subtree definition. The format follows the file
// extension: .yaml, .yml and .json are decoded as YAML, .cue is evaluated
// with CUE. A CUE file may hold the subtree at the top level or under a
// "subtree" field.
func LoadSubtree(path string) (ir.NewSubtree, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ir.NewSubtree{}, &LoadError{Path: path, Message: "cannot read file", Err: err}
	}

	var sub ir.NewSubtree
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&sub); err != nil {
			return ir.NewSubtree{}, &LoadError{Path: path, Message: "invalid YAML subtree", Err: err}
		}
	case ".cue":
		sub, err = decodeCUE(data, path)
		if err != nil {
			return ir.NewSubtree{}, err
		}
	default:
		return ir.NewSubtree{}, &LoadError{Path: path, Message: "unsupported extension (want .yaml, .yml, .json or .cue)"}
	}

	if strings.TrimSpace(sub.Payload) == "" {
		return ir.NewSubtree{}, &LoadError{Path: path, Message: "top node has no payload"}
	}
	return sub, nil
}

func decodeCUE(data []byte, path string) (ir.NewSubtree, error) {
	ctx := cuecontext.New()
	value := ctx.CompileBytes(data, cue.Filename(path))
	if err := value.Err(); err != nil {
		return ir.NewSubtree{}, &LoadError{Path: path, Message: "building CUE value", Err: err}
	}

	if nested := value.LookupPath(cue.ParsePath("subtree")); nested.Exists() {
		value = nested
	}
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return ir.NewSubtree{}, &LoadError{Path: path, Message: "CUE value is not concrete", Err: err}
	}

	var sub ir.NewSubtree
	if err := value.Decode(&sub); err != nil {
		return ir.NewSubtree{}, &LoadError{Path: path, Message: "decoding CUE subtree", Err: err}
	}
	return sub, nil
}

// LoadImport reads a legacy adjacency file and builds the subtree it
// describes, expanding at most maxNodes nodes.
func LoadImport(path string, maxNodes int) (ir.NewSubtree, error) {
	f, err := os.Open(path)
	if err != nil {
		return ir.NewSubtree{}, &LoadError{Path: path, Message: "cannot read file", Err: err}
	}
	defer f.Close()

	parsed, err := adjacency.Parse(f)
	if err != nil {
		return ir.NewSubtree{}, &LoadError{Path: path, Message: "invalid import file", Err: err}
	}
	return adjacency.Build(parsed.Edges, parsed.PayloadKind, maxNodes)
}
