// Package access holds the per-user permission cache and the request
// authorizer that rewrites and scopes RPC items before dispatch.
package access

import (
	"strings"

	"fieldsync-server/internal/model"
)

// Snapshot is the derived, immutable view of what one principal may do.
// It is built once from the flat access rows and shared by every item the
// principal sends; nothing mutates it after construction.
type Snapshot struct {
	methods   map[string]map[string]bool
	deletable map[string]bool // entity -> full control
	criteria  map[string][]string
	columns   map[string][]string
	rules     []Rule
	rows      []model.AccessRow
}

// FromRows groups the flat permission rows into a snapshot, following the
// grant rules of the access table: create/edit/delete flags open the
// matching methods, any row opens the read methods, criteria and column
// restrictions accumulate per entity, free-form patterns become rules.
func FromRows(rows []model.AccessRow) *Snapshot {
	s := &Snapshot{
		methods:   make(map[string]map[string]bool),
		deletable: make(map[string]bool),
		criteria:  make(map[string][]string),
		columns:   make(map[string][]string),
		rows:      rows,
	}
	for _, m := range []string{
		model.MethodAdd, model.MethodUpdate, model.MethodAddOrUpdate,
		model.MethodDelete, model.MethodQuery, model.MethodSelect, model.MethodCount,
	} {
		s.methods[m] = make(map[string]bool)
	}

	for _, row := range rows {
		if row.TableName != "" {
			if row.IsCreatable {
				s.methods[model.MethodAdd][row.TableName] = true
			}
			if row.IsEditable {
				s.methods[model.MethodUpdate][row.TableName] = true
			}
			if row.IsCreatable && row.IsEditable {
				s.methods[model.MethodAddOrUpdate][row.TableName] = true
			}
			if row.IsDeletable {
				s.methods[model.MethodDelete][row.TableName] = true
				s.deletable[row.TableName] = row.IsFullControl
			}
			s.methods[model.MethodQuery][row.TableName] = true
			s.methods[model.MethodSelect][row.TableName] = true
			s.methods[model.MethodCount][row.TableName] = true

			if row.RecordCriteria != nil && row.Access > 0 {
				s.criteria[row.TableName] = append(s.criteria[row.TableName], *row.RecordCriteria)
			}
			if row.ColumnName != "" && row.Access > 0 {
				s.columns[row.TableName] = append(s.columns[row.TableName], row.ColumnName)
			}
		}
		if row.RPCFunction != "" {
			s.rules = append(s.rules, NewRule(KindFunction, row.RPCFunction))
		}
		if row.Operation != "" {
			s.rules = append(s.rules, NewRule(KindOperation, row.Operation))
		}
	}
	return s
}

// Rows returns the source access rows; the meta endpoint scopes entity
// discovery with them.
func (s *Snapshot) Rows() []model.AccessRow { return s.rows }

func (s *Snapshot) MethodAllowed(method, entity string) bool {
	return s.methods[method][entity]
}

// DeleteCapability reports whether the entity is deletable at all and, if
// so, whether the principal holds full control (hard delete).
func (s *Snapshot) DeleteCapability(entity string) (deletable, fullControl bool) {
	fullControl, deletable = s.deletable[entity]
	return deletable, fullControl
}

func (s *Snapshot) Criteria(entity string) []string { return s.criteria[entity] }

// Allows is the validity check: any matching rule or method grant admits
// the call.
func (s *Snapshot) Allows(namespace, entity, method string) bool {
	for _, rule := range s.rules {
		if rule.Matches(namespace, entity, method) {
			return true
		}
	}
	return s.MethodAllowed(method, entity)
}

// ColumnAllowed consults the column-denial lists. Entries are stored as
// comma-separated column names, matched whole.
func (s *Snapshot) ColumnAllowed(entity, column string) bool {
	for _, entry := range s.columns[entity] {
		if strings.Contains(","+entry+",", ","+column+",") {
			return false
		}
	}
	return true
}

// MaskRecords strips denied columns from outbound records. Applied at
// serialization time, never to the stored data.
func (s *Snapshot) MaskRecords(entity string, records []map[string]any) {
	if len(s.columns[entity]) == 0 {
		return
	}
	for _, record := range records {
		for column := range record {
			if !s.ColumnAllowed(entity, column) {
				delete(record, column)
			}
		}
	}
}
