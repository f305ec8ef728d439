package dataset

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"fieldsync-server/internal/model"
)

// SQLite implements Collaborator on a single SQLite database. Every table
// that exists at open time (minus the sqlite_ internals) is exposed as an
// entity; identifiers are validated against the loaded catalog so entity
// and column names never reach the SQL text unchecked.
type SQLite struct {
	db *sql.DB

	mu     sync.RWMutex
	tables map[string]*tableInfo
}

type tableInfo struct {
	name    string
	columns []string
	colSet  map[string]struct{}
	pk      string
}

func (t *tableInfo) hasColumn(name string) bool {
	_, ok := t.colSet[name]
	return ok
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schemaDDL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	c := &SQLite{db: db}
	if err := c.Refresh(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

func (c *SQLite) Close() error { return c.db.Close() }

// DB exposes the underlying handle for bootstrap and tests.
func (c *SQLite) DB() *sql.DB { return c.db }

// Refresh reloads the table catalog. Call after out-of-band DDL.
func (c *SQLite) Refresh() error {
	rows, err := c.db.Query(`SELECT name FROM sqlite_master WHERE type IN ('table','view') AND name NOT LIKE 'sqlite_%'`)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	defer rows.Close()

	tables := make(map[string]*tableInfo)
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return err
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for _, name := range names {
		info, err := c.loadTable(name)
		if err != nil {
			return err
		}
		tables[name] = info
	}

	c.mu.Lock()
	c.tables = tables
	c.mu.Unlock()
	return nil
}

func (c *SQLite) loadTable(name string) (*tableInfo, error) {
	if !identRe.MatchString(name) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, name)
	}
	rows, err := c.db.Query(fmt.Sprintf(`PRAGMA table_info(%s)`, name))
	if err != nil {
		return nil, fmt.Errorf("table_info %s: %w", name, err)
	}
	defer rows.Close()

	info := &tableInfo{name: name, colSet: make(map[string]struct{})}
	for rows.Next() {
		var (
			cid       int
			col, typ  string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &col, &typ, &notNull, &dfltValue, &pk); err != nil {
			return nil, err
		}
		info.columns = append(info.columns, col)
		info.colSet[col] = struct{}{}
		if pk == 1 && info.pk == "" {
			info.pk = col
		}
	}
	return info, rows.Err()
}

func (c *SQLite) table(name string) (*tableInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	info, ok := c.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, name)
	}
	return info, nil
}

// HasColumn reports whether the entity exists and carries the column.
func (c *SQLite) HasColumn(entity, column string) bool {
	info, err := c.table(entity)
	if err != nil {
		return false
	}
	return info.hasColumn(column)
}

func (c *SQLite) HasEntity(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.tables[name]
	return ok
}

// EntityNames lists the exposed entities in stable order.
func (c *SQLite) EntityNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.tables))
	for name := range c.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *SQLite) Query(ctx context.Context, entity string, params map[string]any) (*Reply, error) {
	info, err := c.table(entity)
	if err != nil {
		return nil, err
	}

	where, args, err := compileFilter(info, params["filter"])
	if err != nil {
		return nil, err
	}
	orderBy, err := compileSort(info, params["sort"])
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT * FROM %s", info.name)
	if where != "" {
		b.WriteString(" WHERE " + where)
	}
	if orderBy != "" {
		b.WriteString(" ORDER BY " + orderBy)
	}
	queryArgs := args
	if limit, ok := intParam(params, "limit"); ok && limit > 0 {
		b.WriteString(" LIMIT ?")
		queryArgs = append(queryArgs, limit)
		if start, ok := intParam(params, "start"); ok && start > 0 {
			b.WriteString(" OFFSET ?")
			queryArgs = append(queryArgs, start)
		}
	}

	records, err := c.scan(ctx, b.String(), queryArgs)
	if err != nil {
		return nil, err
	}

	total := len(records)
	if _, limited := intParam(params, "limit"); limited {
		countSQL := "SELECT COUNT(*) FROM " + info.name
		if where != "" {
			countSQL += " WHERE " + where
		}
		if err := c.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
			return nil, err
		}
	}
	return &Reply{Records: records, Total: total}, nil
}

// Select mirrors Query; views and stored selections share the catalog.
func (c *SQLite) Select(ctx context.Context, entity string, params map[string]any) (*Reply, error) {
	return c.Query(ctx, entity, params)
}

func (c *SQLite) Count(ctx context.Context, entity string, params map[string]any) (*Reply, error) {
	info, err := c.table(entity)
	if err != nil {
		return nil, err
	}
	where, args, err := compileFilter(info, params["filter"])
	if err != nil {
		return nil, err
	}
	countSQL := "SELECT COUNT(*) FROM " + info.name
	if where != "" {
		countSQL += " WHERE " + where
	}
	var total int
	if err := c.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, err
	}
	return &Reply{Records: []map[string]any{}, Total: total}, nil
}

func (c *SQLite) Add(ctx context.Context, entity string, data any) (*Reply, error) {
	info, err := c.table(entity)
	if err != nil {
		return nil, err
	}
	records, err := normalizeRecords(data)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(records))
	for _, record := range records {
		inserted, err := c.insert(ctx, info, record)
		if err != nil {
			return nil, err
		}
		out = append(out, inserted)
	}
	return &Reply{Records: out, Total: len(out)}, nil
}

func (c *SQLite) insert(ctx context.Context, info *tableInfo, record map[string]any) (map[string]any, error) {
	cols, vals := writableColumns(info, record)
	if len(cols) == 0 {
		return nil, fmt.Errorf("no columns to insert into %s", info.name)
	}
	holes := strings.TrimSuffix(strings.Repeat("?,", len(cols)), ",")
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", info.name, strings.Join(cols, ","), holes)
	res, err := c.db.ExecContext(ctx, stmt, vals...)
	if err != nil {
		return nil, err
	}
	if info.pk != "" {
		if _, has := record[info.pk]; !has {
			if id, err := res.LastInsertId(); err == nil {
				record[info.pk] = id
			}
		}
	}
	return record, nil
}

func (c *SQLite) Update(ctx context.Context, entity string, data any) (*Reply, error) {
	info, err := c.table(entity)
	if err != nil {
		return nil, err
	}
	records, err := normalizeRecords(data)
	if err != nil {
		return nil, err
	}
	for _, record := range records {
		if err := c.update(ctx, info, record); err != nil {
			return nil, err
		}
	}
	return &Reply{Records: records, Total: len(records)}, nil
}

func (c *SQLite) update(ctx context.Context, info *tableInfo, record map[string]any) error {
	if info.pk == "" {
		return fmt.Errorf("%w: %s has no primary key", ErrMissingKey, info.name)
	}
	key, ok := record[info.pk]
	if !ok {
		return fmt.Errorf("%w: %s.%s", ErrMissingKey, info.name, info.pk)
	}
	var (
		sets []string
		vals []any
	)
	for _, col := range info.columns {
		if col == info.pk {
			continue
		}
		v, has := record[col]
		if !has {
			continue
		}
		sets = append(sets, col+" = ?")
		vals = append(vals, v)
	}
	if len(sets) == 0 {
		return fmt.Errorf("no columns to update in %s", info.name)
	}
	vals = append(vals, key)
	stmt := fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?", info.name, strings.Join(sets, ", "), info.pk)
	_, err := c.db.ExecContext(ctx, stmt, vals...)
	return err
}

func (c *SQLite) AddOrUpdate(ctx context.Context, entity string, data any) (*Reply, error) {
	info, err := c.table(entity)
	if err != nil {
		return nil, err
	}
	records, err := normalizeRecords(data)
	if err != nil {
		return nil, err
	}
	for _, record := range records {
		key, has := record[info.pk]
		if info.pk == "" || !has {
			if _, err := c.insert(ctx, info, record); err != nil {
				return nil, err
			}
			continue
		}
		var exists int
		stmt := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = ?", info.name, info.pk)
		if err := c.db.QueryRowContext(ctx, stmt, key).Scan(&exists); err != nil {
			return nil, err
		}
		if exists > 0 {
			err = c.update(ctx, info, record)
		} else {
			_, err = c.insert(ctx, info, record)
		}
		if err != nil {
			return nil, err
		}
	}
	return &Reply{Records: records, Total: len(records)}, nil
}

func (c *SQLite) Delete(ctx context.Context, entity string, data any) (*Reply, error) {
	info, err := c.table(entity)
	if err != nil {
		return nil, err
	}
	if info.pk == "" {
		return nil, fmt.Errorf("%w: %s has no primary key", ErrMissingKey, info.name)
	}
	records, err := normalizeRecords(data)
	if err != nil {
		return nil, err
	}
	stmt := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", info.name, info.pk)
	for _, record := range records {
		key, ok := record[info.pk]
		if !ok {
			return nil, fmt.Errorf("%w: %s.%s", ErrMissingKey, info.name, info.pk)
		}
		if _, err := c.db.ExecContext(ctx, stmt, key); err != nil {
			return nil, err
		}
	}
	return &Reply{Records: records, Total: len(records)}, nil
}

func (c *SQLite) AccessRows(ctx context.Context, userID int64) ([]model.AccessRow, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT a.id, a.table_name, a.is_creatable, a.is_editable, a.is_deletable,
		       a.is_fullcontrol, a.record_criteria, a.column_name, a.rpc_function,
		       a.operation, a.n_access
		FROM pd_accesses a
		WHERE a.sn_delete = 0
		  AND (a.f_user = ?1
		       OR (a.c_claim IS NOT NULL AND a.c_claim != ''
		           AND EXISTS (SELECT 1 FROM pd_users u
		                       WHERE u.id = ?1
		                         AND instr(u.c_claims, '.' || a.c_claim || '.') > 0)))
		ORDER BY a.id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.AccessRow
	for rows.Next() {
		var r model.AccessRow
		if err := rows.Scan(&r.ID, &r.TableName, &r.IsCreatable, &r.IsEditable,
			&r.IsDeletable, &r.IsFullControl, &r.RecordCriteria, &r.ColumnName,
			&r.RPCFunction, &r.Operation, &r.Access); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (c *SQLite) UserByLogin(ctx context.Context, login string) (*model.UserRecord, error) {
	var u model.UserRecord
	err := c.db.QueryRowContext(ctx, `
		SELECT id, c_login, c_password, c_claims, b_disabled
		FROM pd_users WHERE c_login = ? AND sn_delete = 0`, login).
		Scan(&u.ID, &u.Login, &u.PasswordHash, &u.Claims, &u.Disabled)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *SQLite) ViewActions(ctx context.Context, userID int64) ([]map[string]any, error) {
	return c.scan(ctx, `
		SELECT a.id, a.c_view, a.c_action, a.c_claim
		FROM pd_ui_actions a
		WHERE EXISTS (SELECT 1 FROM pd_users u
		              WHERE u.id = ?1
		                AND instr(u.c_claims, '.' || a.c_claim || '.') > 0)
		ORDER BY a.id`, []any{userID})
}

func (c *SQLite) DataVersion(ctx context.Context) (string, error) {
	var version string
	err := c.db.QueryRowContext(ctx,
		`SELECT c_value FROM cd_settings WHERE c_key = 'data_version'`).Scan(&version)
	if err == sql.ErrNoRows {
		return "0.0.0.0", nil
	}
	if err != nil {
		return "", err
	}
	return version, nil
}

func (c *SQLite) scan(ctx context.Context, query string, args []any) ([]map[string]any, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	out := []map[string]any{}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		record := make(map[string]any, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				record[col] = string(b)
				continue
			}
			record[col] = values[i]
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

func writableColumns(info *tableInfo, record map[string]any) ([]string, []any) {
	var (
		cols []string
		vals []any
	)
	for _, col := range info.columns {
		v, has := record[col]
		if !has {
			continue
		}
		cols = append(cols, col)
		vals = append(vals, v)
	}
	return cols, vals
}

func normalizeRecords(data any) ([]map[string]any, error) {
	switch v := data.(type) {
	case map[string]any:
		return []map[string]any{v}, nil
	case []map[string]any:
		return v, nil
	case []any:
		out := make([]map[string]any, 0, len(v))
		for _, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("record is %T, expected object", item)
			}
			out = append(out, m)
		}
		return out, nil
	}
	return nil, fmt.Errorf("payload is %T, expected record or array of records", data)
}

func intParam(params map[string]any, key string) (int, bool) {
	switch v := params[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}
