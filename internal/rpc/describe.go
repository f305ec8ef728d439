package rpc

import (
	"context"
)

// ActionSpec describes one callable method for client-side discovery.
type ActionSpec struct {
	Name string `json:"name"`
	Len  int    `json:"len"`
}

// Description is the remoting descriptor served by the meta endpoint.
type Description struct {
	EnableBuffer bool                    `json:"enableBuffer"`
	MaxRetries   int                     `json:"maxRetries"`
	URL          string                  `json:"url"`
	Type         string                  `json:"type"`
	ID           string                  `json:"id"`
	Namespace    string                  `json:"namespace"`
	Version      string                  `json:"version"`
	DBVersion    string                  `json:"dbVersion"`
	Actions      map[string][]ActionSpec `json:"actions"`
}

// Describe enumerates the entities visible to the session: local
// providers always, everything else only when the snapshot carries at
// least one access row for it (or a star row).
func (d *Dispatcher) Describe(ctx context.Context, sess *Session, namespace, version, dbVersion string) (*Description, error) {
	snap, err := d.Cache.Get(ctx, sess.Principal.ID)
	if err != nil {
		return nil, err
	}

	allowed := make(map[string]bool)
	star := false
	for _, row := range snap.Rows() {
		if row.TableName == "*" {
			star = true
			continue
		}
		if row.TableName != "" {
			allowed[row.TableName] = true
		}
	}

	desc := &Description{
		MaxRetries: 1,
		URL:        "/rpc",
		Type:       "remoting",
		ID:         "default",
		Namespace:  namespace,
		Version:    version,
		DBVersion:  dbVersion,
		Actions:    make(map[string][]ActionSpec),
	}

	add := func(name string, p Provider) {
		if !p.Local() && !star && !allowed[name] {
			return
		}
		specs := make([]ActionSpec, 0, len(p.Methods()))
		for _, m := range p.Methods() {
			specs = append(specs, ActionSpec{Name: m, Len: 1})
		}
		desc.Actions[name] = specs
	}

	for _, name := range d.Registry.LocalNames() {
		if p, ok := d.Registry.Resolve(name); ok {
			add(name, p)
		}
	}
	for _, name := range d.Registry.DatasetNames() {
		if _, taken := desc.Actions[name]; taken {
			continue
		}
		if p, ok := d.Registry.Resolve(name); ok {
			add(name, p)
		}
	}
	return desc, nil
}
