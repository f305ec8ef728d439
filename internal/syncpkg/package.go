// Package syncpkg encodes and decodes the binary exchange envelope: a
// metadata header, named JSON blocks, and named binary attachments.
package syncpkg

import (
	"encoding/json"
	"fmt"
)

// Meta travels with every package and is echoed back unchanged in the
// response so intermittently-connected clients can correlate exchanges.
type Meta struct {
	ID            string `json:"id"`
	Version       string `json:"version"`
	Transactional bool   `json:"transaction"`
	DataInfo      string `json:"dataInfo,omitempty"`
}

// Attachment is one named binary payload; Link ties it to a record
// produced inside the same package.
type Attachment struct {
	Name string
	Link string
	Data []byte
}

// Package is the in-memory form of one exchange envelope. Built fresh per
// exchange, never persisted as a struct.
type Package struct {
	Meta        Meta
	Blocks      map[string]json.RawMessage
	Attachments []Attachment
}

func New(meta Meta) *Package {
	return &Package{Meta: meta, Blocks: make(map[string]json.RawMessage)}
}

// SetBlock stores a named block as its JSON encoding.
func (p *Package) SetBlock(name string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode block %s: %w", name, err)
	}
	if p.Blocks == nil {
		p.Blocks = make(map[string]json.RawMessage)
	}
	p.Blocks[name] = raw
	return nil
}

// Block decodes a named block into out; the boolean reports presence.
func (p *Package) Block(name string, out any) (bool, error) {
	raw, ok := p.Blocks[name]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return true, fmt.Errorf("decode block %s: %w", name, err)
	}
	return true, nil
}

func (p *Package) AddAttachment(name, link string, data []byte) {
	p.Attachments = append(p.Attachments, Attachment{Name: name, Link: link, Data: data})
}
