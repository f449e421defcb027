// Package playoutcfg reads and writes ffplayout channel configuration files.
//
// A Document keeps the parsed YAML node tree, so sections and keys this package
// does not know about survive a load/save cycle in their original order.
package playoutcfg

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/edirooss/playout-server/internal/domain/channel"
	"gopkg.in/yaml.v3"
)

// Well-known sections and keys.
const (
	SectionLogging  = "logging"
	KeyLogPath      = "log_path"
	SectionPlaylist = "playlist"
	KeyPlaylistPath = "path"
)

// Document is a channel configuration.
type Document struct {
	doc  *yaml.Node // document node; keeps head and foot comments
	root *yaml.Node // top-level mapping
}

// Parse decodes a YAML document whose top level is a mapping.
func Parse(data []byte) (*Document, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: yaml: %w", channel.ErrParse, err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, fmt.Errorf("%w: empty document", channel.ErrParse)
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: top level must be a mapping", channel.ErrParse)
	}
	return &Document{doc: &doc, root: root}, nil
}

// Load reads and parses the file at path.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", channel.ErrTemplateMissing, path)
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// Marshal encodes the whole document.
func (d *Document) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(4)
	if err := enc.Encode(d.doc); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return buf.Bytes(), nil
}

// Save writes the whole document to path.
func (d *Document) Save(path string) error {
	data, err := d.Marshal()
	if err != nil {
		return fmt.Errorf("%w: %w", channel.ErrWrite, err)
	}
	return writeFileAtomic(path, data)
}

// Clone returns a deep copy of d.
func (d *Document) Clone() *Document {
	doc := cloneNode(d.doc)
	return &Document{doc: doc, root: doc.Content[0]}
}

// Sections returns the top-level keys in document order.
func (d *Document) Sections() []string {
	out := make([]string, 0, len(d.root.Content)/2)
	for i := 0; i+1 < len(d.root.Content); i += 2 {
		out = append(out, d.root.Content[i].Value)
	}
	return out
}

// Get returns the scalar at section.key.
func (d *Document) Get(section, key string) (string, bool) {
	sec := lookup(d.root, section)
	if sec == nil || sec.Kind != yaml.MappingNode {
		return "", false
	}
	v := lookup(sec, key)
	if v == nil || v.Kind != yaml.ScalarNode {
		return "", false
	}
	return v.Value, true
}

// Set stores value as a string scalar at section.key, creating either level if absent.
func (d *Document) Set(section, key, value string) error {
	sec := lookup(d.root, section)
	if sec == nil {
		sec = &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		d.root.Content = append(d.root.Content, strNode(section), sec)
	}
	if sec.Kind != yaml.MappingNode {
		return fmt.Errorf("%w: section %q is not a mapping", channel.ErrParse, section)
	}

	if v := lookup(sec, key); v != nil {
		// rewrite in place so comments attached to the value survive
		v.Kind, v.Tag, v.Style, v.Value = yaml.ScalarNode, "!!str", 0, value
		v.Content, v.Alias, v.Anchor = nil, nil, ""
		return nil
	}
	sec.Content = append(sec.Content, strNode(key), strNode(value))
	return nil
}

// LogPath returns logging.log_path.
func (d *Document) LogPath() (string, bool) { return d.Get(SectionLogging, KeyLogPath) }

// PlaylistPath returns playlist.path.
func (d *Document) PlaylistPath() (string, bool) { return d.Get(SectionPlaylist, KeyPlaylistPath) }

func lookup(m *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}

func strNode(v string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v}
}

func cloneNode(n *yaml.Node) *yaml.Node {
	if n == nil {
		return nil
	}
	c := *n
	if n.Content != nil {
		c.Content = make([]*yaml.Node, len(n.Content))
		for i, child := range n.Content {
			c.Content[i] = cloneNode(child)
		}
	}
	// Alias still points into the source tree; aliases are encoded by name.
	return &c
}
