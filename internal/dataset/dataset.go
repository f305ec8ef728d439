// Package dataset is the data access layer: uniform entity operations
// against a relational store, plus the privileged calls the permission
// cache and the auth endpoint depend on.
package dataset

import (
	"context"
	"errors"

	"fieldsync-server/internal/model"
)

var (
	ErrUnknownEntity = errors.New("unknown entity")
	ErrUnknownColumn = errors.New("unknown column")
	ErrMissingKey    = errors.New("missing primary key")
)

// Reply is the raw outcome of one entity operation.
type Reply struct {
	Records []map[string]any
	Total   int
}

// Collaborator exposes the six uniform entity methods plus the privileged
// calls. All implementations return an error for infrastructure failures;
// the dispatcher converts those into failed result envelopes.
type Collaborator interface {
	Query(ctx context.Context, entity string, params map[string]any) (*Reply, error)
	Select(ctx context.Context, entity string, params map[string]any) (*Reply, error)
	Add(ctx context.Context, entity string, data any) (*Reply, error)
	Update(ctx context.Context, entity string, data any) (*Reply, error)
	AddOrUpdate(ctx context.Context, entity string, data any) (*Reply, error)
	Delete(ctx context.Context, entity string, data any) (*Reply, error)
	Count(ctx context.Context, entity string, params map[string]any) (*Reply, error)

	// AccessRows is the single privileged fetch behind the permission
	// cache: every access row granted to the user directly or through
	// one of their role claims.
	AccessRows(ctx context.Context, userID int64) ([]model.AccessRow, error)
	UserByLogin(ctx context.Context, login string) (*model.UserRecord, error)
	ViewActions(ctx context.Context, userID int64) ([]map[string]any, error)
	DataVersion(ctx context.Context) (string, error)
	HasEntity(name string) bool
}

// Call routes a method name to the matching Collaborator operation.
func Call(ctx context.Context, c Collaborator, entity, method string, data map[string]any) (*Reply, error) {
	switch method {
	case model.MethodQuery:
		return c.Query(ctx, entity, data)
	case model.MethodSelect:
		return c.Select(ctx, entity, data)
	case model.MethodAdd:
		return c.Add(ctx, entity, data)
	case model.MethodUpdate:
		return c.Update(ctx, entity, data)
	case model.MethodAddOrUpdate:
		return c.AddOrUpdate(ctx, entity, data)
	case model.MethodDelete:
		return c.Delete(ctx, entity, data)
	case model.MethodCount:
		return c.Count(ctx, entity, data)
	}
	return nil, errors.New("unknown method " + method)
}
