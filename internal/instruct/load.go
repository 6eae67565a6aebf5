package instruct

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"starstep/internal/transform"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"gopkg.in/yaml.v3"
)

// yamlNode is the on-disk shape of a node in a YAML instruction file.
type yamlNode struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Process     string         `yaml:"process"`
	Params      map[string]any `yaml:"params"`
	Children    []*yamlNode    `yaml:"children"`
}

// hclFile is the top-level structure of an HCL instruction file.
type hclFile struct {
	Nodes []*hclNode `hcl:"node,block"`
}

type hclNode struct {
	Name        string            `hcl:"name,label"`
	Description string            `hcl:"description,optional"`
	Process     string            `hcl:"process,optional"`
	Params      map[string]string `hcl:"params,optional"`
	Children    []*hclNode        `hcl:"node,block"`
}

// Load reads an instruction tree from path. The format follows the
// extension: .yaml/.yml or .hcl.
func Load(path string, reg *transform.Registry) (*Node, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return ParseYAML(data, reg)
	case ".hcl":
		return LoadHCL(path, reg)
	default:
		return nil, fmt.Errorf("unsupported instruction file %s", path)
	}
}

// ParseYAML builds a tree from a YAML document holding the root node.
func ParseYAML(data []byte, reg *transform.Registry) (*Node, error) {
	var root yamlNode
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parse instructions: %w", err)
	}
	return root.build(reg, "root")
}

func (y *yamlNode) build(reg *transform.Registry, where string) (*Node, error) {
	params := make(transform.Params, len(y.Params))
	for k, v := range y.Params {
		params[k] = fmt.Sprint(v)
	}
	children := make([]*Node, 0, len(y.Children))
	for i, c := range y.Children {
		child, err := c.build(reg, fmt.Sprintf("%s/%d", where, i))
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	return newNode(reg, where, y.Name, y.Description, y.Process, params, children)
}

// LoadHCL builds a tree from an HCL file of nested node blocks. Several
// top-level blocks are wrapped in an unnamed container.
func LoadHCL(path string, reg *transform.Registry) (*Node, error) {
	parser := hclparse.NewParser()
	f, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file %s: %w", path, diags)
	}
	var parsed hclFile
	if diags := gohcl.DecodeBody(f.Body, nil, &parsed); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL file %s: %w", path, diags)
	}
	if len(parsed.Nodes) == 0 {
		return nil, ErrNoRoot
	}
	nodes := make([]*Node, 0, len(parsed.Nodes))
	for _, h := range parsed.Nodes {
		n, err := h.build(reg, h.Name)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	if len(nodes) == 1 {
		return nodes[0], nil
	}
	return &Node{Children: nodes}, nil
}

func (h *hclNode) build(reg *transform.Registry, where string) (*Node, error) {
	children := make([]*Node, 0, len(h.Children))
	for _, c := range h.Children {
		child, err := c.build(reg, where+"/"+c.Name)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	return newNode(reg, where, h.Name, h.Description, h.Process, transform.Params(h.Params), children)
}

func newNode(reg *transform.Registry, where, name, desc, process string, params transform.Params, children []*Node) (*Node, error) {
	n := &Node{Name: name, Description: desc}
	if len(children) > 0 {
		if process != "" {
			return nil, fmt.Errorf("node %s: a container cannot have a process", where)
		}
		n.Children = children
		return n, nil
	}
	if process == "" {
		return n, nil
	}
	t, err := reg.Build(process, params)
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", where, err)
	}
	n.Transform = t
	return n, nil
}
