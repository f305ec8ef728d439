// Package rpc resolves entity operations against registered providers,
// authorizes each item, and processes ordered batches.
package rpc

import (
	"context"
	"fmt"
	"sort"

	"fieldsync-server/internal/access"
	"fieldsync-server/internal/dataset"
	"fieldsync-server/internal/model"
)

// Session carries the per-request identity across the dispatch chain.
type Session struct {
	Principal *model.Principal
	Snapshot  *access.Snapshot
	App       string

	// AuthorizeTime is the cost of authentication, echoed in results.
	AuthorizeTime int64

	// StagedFiles collects binary payloads produced by providers during
	// a synchronization exchange; the protocol packs them into the
	// outbound package as attachments.
	StagedFiles []StagedFile
}

// StagedFile is one attachment staged for the outbound sync package.
type StagedFile struct {
	Name string
	Link string
	Data []byte
}

// Provider serves the methods of one entity.
type Provider interface {
	Invoke(ctx context.Context, sess *Session, method string, data map[string]any) (*dataset.Reply, error)
	Methods() []string
	// Local providers appear in introspection regardless of grants.
	Local() bool
}

// Registry is a conflict-checked map from entity name to provider, built
// once at startup; a duplicate registration is a startup error, not a
// silent override. Entities absent from the map fall through to the
// dataset-backed provider.
type Registry struct {
	exact    map[string]Provider
	names    []string
	fallback *DatasetProviders
}

func NewRegistry() *Registry {
	return &Registry{exact: make(map[string]Provider)}
}

func (r *Registry) Register(name string, p Provider) error {
	if name == "" || p == nil {
		return fmt.Errorf("rpc: empty registration")
	}
	if _, ok := r.exact[name]; ok {
		return fmt.Errorf("rpc: duplicate provider for entity %q", name)
	}
	r.exact[name] = p
	r.names = append(r.names, name)
	return nil
}

func (r *Registry) SetFallback(f *DatasetProviders) { r.fallback = f }

// Resolve returns the provider owning the entity, consulting the exact
// map first and the dataset fallback second.
func (r *Registry) Resolve(name string) (Provider, bool) {
	if p, ok := r.exact[name]; ok {
		return p, true
	}
	if r.fallback != nil {
		return r.fallback.Provider(name)
	}
	return nil, false
}

// LocalNames lists registered entities in registration order.
func (r *Registry) LocalNames() []string {
	return append([]string(nil), r.names...)
}

// DatasetNames lists fallback entities in stable order.
func (r *Registry) DatasetNames() []string {
	if r.fallback == nil {
		return nil
	}
	names := r.fallback.Names()
	sort.Strings(names)
	return names
}

// DatasetProviders adapts the collaborator's dynamic entity catalog into
// providers.
type DatasetProviders struct {
	Collab interface {
		dataset.Collaborator
		EntityNames() []string
	}
}

func (f *DatasetProviders) Provider(name string) (Provider, bool) {
	if !f.Collab.HasEntity(name) {
		return nil, false
	}
	return &datasetProvider{collab: f.Collab, entity: name}, true
}

func (f *DatasetProviders) Names() []string { return f.Collab.EntityNames() }

type datasetProvider struct {
	collab dataset.Collaborator
	entity string
}

func (p *datasetProvider) Invoke(ctx context.Context, _ *Session, method string, data map[string]any) (*dataset.Reply, error) {
	return dataset.Call(ctx, p.collab, p.entity, method, data)
}

func (p *datasetProvider) Methods() []string {
	return []string{
		model.MethodQuery, model.MethodSelect, model.MethodAdd, model.MethodUpdate,
		model.MethodAddOrUpdate, model.MethodDelete, model.MethodCount,
	}
}

func (p *datasetProvider) Local() bool { return false }
