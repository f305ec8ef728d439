package dataset

import (
	"fmt"
	"strings"
)

// The filter tree mirrors the wire shape: a node is either a predicate
// map {property, value, operator}, a bare logical operator string, or a
// nested group (array). Adjacent predicates without an explicit operator
// are joined with AND.

var allowedOperators = map[string]string{
	"=": "=", "!=": "!=", "<": "<", "<=": "<=", ">": ">", ">=": ">=",
	"like": "LIKE", "in": "IN",
}

func compileFilter(t *tableInfo, node any) (string, []any, error) {
	switch v := node.(type) {
	case []any:
		return compileGroup(t, v)
	case []map[string]any:
		group := make([]any, 0, len(v))
		for _, m := range v {
			group = append(group, m)
		}
		return compileGroup(t, group)
	case map[string]any:
		return compilePredicate(t, v)
	case nil:
		return "", nil, nil
	}
	return "", nil, fmt.Errorf("unsupported filter node %T", node)
}

func compileGroup(t *tableInfo, nodes []any) (string, []any, error) {
	var (
		parts []string
		args  []any
		joins []string
	)
	pendingJoin := ""
	for _, node := range nodes {
		if s, ok := node.(string); ok {
			op := strings.ToUpper(strings.TrimSpace(s))
			if op != "AND" && op != "OR" {
				return "", nil, fmt.Errorf("unsupported logical operator %q", s)
			}
			pendingJoin = op
			continue
		}
		sql, nodeArgs, err := compileFilter(t, node)
		if err != nil {
			return "", nil, err
		}
		if sql == "" {
			continue
		}
		if len(parts) > 0 {
			if pendingJoin == "" {
				pendingJoin = "AND"
			}
			joins = append(joins, pendingJoin)
		}
		pendingJoin = ""
		parts = append(parts, sql)
		args = append(args, nodeArgs...)
	}
	if len(parts) == 0 {
		return "", nil, nil
	}
	if len(parts) == 1 {
		return parts[0], args, nil
	}
	var b strings.Builder
	b.WriteString("(")
	for i, p := range parts {
		if i > 0 {
			b.WriteString(" " + joins[i-1] + " ")
		}
		b.WriteString(p)
	}
	b.WriteString(")")
	return b.String(), args, nil
}

func compilePredicate(t *tableInfo, m map[string]any) (string, []any, error) {
	prop, _ := m["property"].(string)
	if prop == "" {
		return "", nil, fmt.Errorf("filter predicate without property")
	}
	if !t.hasColumn(prop) {
		return "", nil, fmt.Errorf("%w: %s.%s", ErrUnknownColumn, t.name, prop)
	}
	op := "="
	if raw, ok := m["operator"].(string); ok && raw != "" {
		mapped, ok := allowedOperators[strings.ToLower(raw)]
		if !ok {
			return "", nil, fmt.Errorf("unsupported operator %q", raw)
		}
		op = mapped
	}
	value := m["value"]
	if op == "IN" {
		items, ok := value.([]any)
		if !ok || len(items) == 0 {
			return "", nil, fmt.Errorf("IN filter on %s requires a non-empty array", prop)
		}
		holes := strings.TrimSuffix(strings.Repeat("?,", len(items)), ",")
		return fmt.Sprintf("%s IN (%s)", prop, holes), items, nil
	}
	if value == nil {
		if op == "=" {
			return prop + " IS NULL", nil, nil
		}
		if op == "!=" {
			return prop + " IS NOT NULL", nil, nil
		}
	}
	return fmt.Sprintf("%s %s ?", prop, op), []any{value}, nil
}

func compileSort(t *tableInfo, raw any) (string, error) {
	items, ok := raw.([]any)
	if !ok || len(items) == 0 {
		return "", nil
	}
	var cols []string
	for _, it := range items {
		m, ok := it.(map[string]any)
		if !ok {
			continue
		}
		prop, _ := m["property"].(string)
		if prop == "" || !t.hasColumn(prop) {
			return "", fmt.Errorf("%w: sort on %s.%s", ErrUnknownColumn, t.name, prop)
		}
		dir := "ASC"
		if d, ok := m["direction"].(string); ok && strings.EqualFold(d, "DESC") {
			dir = "DESC"
		}
		cols = append(cols, prop+" "+dir)
	}
	if len(cols) == 0 {
		return "", nil
	}
	return strings.Join(cols, ", "), nil
}
