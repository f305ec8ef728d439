package access

import (
	"encoding/json"
	"strconv"
	"strings"

	"fieldsync-server/internal/model"
)

const userPlaceholder = "$f_user"

// SoftDeleteColumn flags logically removed rows across all entities.
const SoftDeleteColumn = "sn_delete"

// Schema answers whether an entity carries a column. The dataset
// collaborator satisfies it.
type Schema interface {
	HasColumn(entity, column string) bool
}

// Authorizer decides whether one RPC item may run and rewrites it into
// its scoped form: destructive calls become soft-delete updates when the
// principal lacks full control, and reads gain the entity's row criteria
// with the caller's id substituted in.
type Authorizer struct {
	Namespace string
	Schema    Schema
}

// softDeletable reports whether soft-delete semantics apply to the
// entity: tables without the marker column take real deletes and no
// visibility predicate.
func (a *Authorizer) softDeletable(entity string) bool {
	if a.Schema == nil {
		return true
	}
	return a.Schema.HasColumn(entity, SoftDeleteColumn)
}

// Authorize mutates item in place and reports whether it may proceed.
// Items already carrying injected criteria are not re-scoped.
func (a *Authorizer) Authorize(item *model.Item, userID int64, snap *Snapshot) bool {
	if item.Method == model.MethodDelete {
		if deletable, full := snap.DeleteCapability(item.Action); deletable && !full && a.softDeletable(item.Action) {
			item.Method = model.MethodUpdate
			item.Payload()[SoftDeleteColumn] = true
			item.Softened = true
		}
	}

	allowed := snap.Allows(a.Namespace, item.Action, item.Method)
	if !allowed && item.Softened {
		// the caller held a Delete grant before the rewrite
		allowed = snap.MethodAllowed(model.MethodDelete, item.Action)
	}
	if !allowed {
		return false
	}

	if (item.Method == model.MethodQuery || item.Method == model.MethodSelect) && !item.Authorized {
		if templates := snap.Criteria(item.Action); len(templates) > 0 {
			a.injectCriteria(item, userID, templates)
		}
		item.Authorized = true
	}

	if item.Method == model.MethodQuery {
		if deletable, full := snap.DeleteCapability(item.Action); deletable && !full && a.softDeletable(item.Action) {
			data := item.Payload()
			data["filter"] = append(filterSlice(data["filter"]), map[string]any{
				"property": SoftDeleteColumn,
				"value":    false,
			})
		}
	}
	return true
}

// injectCriteria rewrites the item's filter so the result becomes
// (existing) AND (criterion1) AND (criterion2) ...
func (a *Authorizer) injectCriteria(item *model.Item, userID int64, templates []string) {
	data := item.Payload()
	existing := filterSlice(data["filter"])

	// drop trailing bare logical operators left behind by clients
	for len(existing) > 0 {
		if _, ok := existing[len(existing)-1].(string); !ok {
			break
		}
		existing = existing[:len(existing)-1]
	}

	var filter []any
	if len(existing) > 0 {
		filter = []any{existing}
	}
	for _, template := range templates {
		resolved := strings.ReplaceAll(template, userPlaceholder, strconv.FormatInt(userID, 10))
		var group []any
		if err := json.Unmarshal([]byte(resolved), &group); err != nil {
			continue
		}
		filter = append(filter, group)
	}
	data["filter"] = filter
}

func filterSlice(raw any) []any {
	switch v := raw.(type) {
	case []any:
		return v
	case []map[string]any:
		out := make([]any, 0, len(v))
		for _, m := range v {
			out = append(out, m)
		}
		return out
	}
	return nil
}
