package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/scimworks/endpointd/scim"
)

// jsonDoc wraps an arbitrary JSON document for storage in a single text/JSONB
// column, implementing sql.Scanner/driver.Valuer the way
// examples/postgres/plugin.go's UserData/GroupData do -- generalized here to
// a bare map[string]any since resources in this service are opaque payload
// documents rather than typed structs.
type jsonDoc map[string]any

func (d *jsonDoc) Scan(value any) error {
	if value == nil {
		*d = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("jsonDoc.Scan: unsupported type %T", value)
	}
	return json.Unmarshal(bytes, d)
}

func (d jsonDoc) Value() (driver.Value, error) {
	if d == nil {
		return "{}", nil
	}
	b, err := json.Marshal(map[string]any(d))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// stringMap is the same Scanner/Valuer shape as jsonDoc, used for the
// endpoint config-flags column.
type stringMap map[string]string

func (m *stringMap) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("stringMap.Scan: unsupported type %T", value)
	}
	return json.Unmarshal(bytes, m)
}

func (m stringMap) Value() (driver.Value, error) {
	if m == nil {
		m = stringMap{}
	}
	b, err := json.Marshal(map[string]string(m))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

type userRow struct {
	EndpointID  string    `db:"endpoint_id"`
	ID          string    `db:"id"`
	Username    string    `db:"username"`
	DisplayName string    `db:"display_name"`
	ExternalID  string    `db:"external_id"`
	Version     int64     `db:"version"`
	Data        jsonDoc   `db:"data"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

type groupRow struct {
	EndpointID  string    `db:"endpoint_id"`
	ID          string    `db:"id"`
	DisplayName string    `db:"display_name"`
	ExternalID  string    `db:"external_id"`
	Version     int64     `db:"version"`
	Data        jsonDoc   `db:"data"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

type endpointRow struct {
	ID          string    `db:"id"`
	Name        string    `db:"name"`
	DisplayName string    `db:"display_name"`
	Description string    `db:"description"`
	Active      bool      `db:"active"`
	ConfigFlags stringMap `db:"config_flags"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// sqlStore is the shared implementation behind both sqlite.go and
// postgres.go: the row shapes, query text, and pushdown-planner wiring are
// identical between the two backends (only the driver name, placeholder
// style, and JSON column type differ, all handled at Open time), so unlike
// examples/postgres/plugin.go and examples/sqlite/plugin.go, which each
// hand-roll the full method set, this repo factors the shared SQL once and
// lets sqlite.go/postgres.go each be a thin Open+initSchema wrapper around
// it (see DESIGN.md).
type sqlStore struct {
	db *sqlx.DB
}

func (s *sqlStore) Close() error { return s.db.Close() }

func hydrateMeta(doc map[string]any, resourceType string, version int64, created, updated time.Time) {
	doc["meta"] = map[string]any{
		"resourceType": resourceType,
		"created":      created.UTC().Format(time.RFC3339),
		"lastModified": updated.UTC().Format(time.RFC3339),
		"version":      scim.NewETagGenerator().Generate(version),
	}
}

func docString(doc map[string]any, key string) string {
	v, _ := doc[key].(string)
	return v
}

// --- Users ---

func (s *sqlStore) CreateUser(ctx context.Context, endpointID string, doc map[string]any) (map[string]any, error) {
	var exists bool
	username := docString(doc, "userName")
	err := s.db.GetContext(ctx, &exists,
		s.db.Rebind(`SELECT EXISTS(SELECT 1 FROM users WHERE endpoint_id = ? AND LOWER(username) = LOWER(?))`),
		endpointID, username)
	if err != nil {
		return nil, fmt.Errorf("check username uniqueness: %w", err)
	}
	if exists {
		return nil, ErrUniqueness
	}

	id := docString(doc, "id")
	if id == "" {
		id = uuid.New().String()
	}
	doc["id"] = id

	now := time.Now()
	query := s.db.Rebind(`INSERT INTO users (endpoint_id, id, username, display_name, external_id, version, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 1, ?, ?, ?)`)
	if _, err := s.db.ExecContext(ctx, query, endpointID, id, username, docString(doc, "displayName"), docString(doc, "externalId"),
		jsonDoc(doc), now, now); err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}

	hydrateMeta(doc, "User", 1, now, now)
	return doc, nil
}

func (s *sqlStore) GetUser(ctx context.Context, endpointID, id string) (map[string]any, error) {
	var row userRow
	err := s.db.GetContext(ctx, &row,
		s.db.Rebind(`SELECT endpoint_id, id, username, display_name, external_id, version, data, created_at, updated_at
			FROM users WHERE endpoint_id = ? AND id = ?`), endpointID, id)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	doc := map[string]any(row.Data)
	hydrateMeta(doc, "User", row.Version, row.CreatedAt, row.UpdatedAt)
	return doc, nil
}

func (s *sqlStore) GetUserByUserName(ctx context.Context, endpointID, userName string) (map[string]any, error) {
	var row userRow
	err := s.db.GetContext(ctx, &row,
		s.db.Rebind(`SELECT endpoint_id, id, username, display_name, external_id, version, data, created_at, updated_at
			FROM users WHERE endpoint_id = ? AND LOWER(username) = LOWER(?)`), endpointID, userName)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user by username: %w", err)
	}
	doc := map[string]any(row.Data)
	hydrateMeta(doc, "User", row.Version, row.CreatedAt, row.UpdatedAt)
	return doc, nil
}

func (s *sqlStore) ListUsers(ctx context.Context, endpointID string, q Query) (ListResult, error) {
	p, err := planFilter(q.Filter, userAttrColumns)
	if err != nil {
		return ListResult{}, err
	}

	if p.pushedDown {
		return s.listUsersPushedDown(ctx, endpointID, p, q)
	}
	return s.listUsersScanned(ctx, endpointID, p, q)
}

func (s *sqlStore) listUsersPushedDown(ctx context.Context, endpointID string, p *plan, q Query) (ListResult, error) {
	where := "endpoint_id = ?"
	args := []any{endpointID}
	if p.sqlWhere != "" {
		where += " AND " + p.sqlWhere
		args = append(args, p.sqlArgs...)
	}

	var total int
	if err := s.db.GetContext(ctx, &total, s.db.Rebind(`SELECT COUNT(*) FROM users WHERE `+where), args...); err != nil {
		return ListResult{}, fmt.Errorf("count users: %w", err)
	}

	offset, limit := paginationBounds(q.StartIndex, q.Count)
	query := s.db.Rebind(`SELECT endpoint_id, id, username, display_name, external_id, version, data, created_at, updated_at
		FROM users WHERE ` + where + ` ORDER BY created_at ASC, id ASC LIMIT ? OFFSET ?`)
	var rows []userRow
	if err := s.db.SelectContext(ctx, &rows, query, append(append([]any{}, args...), limit, offset)...); err != nil {
		return ListResult{}, fmt.Errorf("list users: %w", err)
	}

	docs := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		doc := map[string]any(row.Data)
		hydrateMeta(doc, "User", row.Version, row.CreatedAt, row.UpdatedAt)
		docs = append(docs, doc)
	}
	return ListResult{Documents: docs, Total: total}, nil
}

func (s *sqlStore) listUsersScanned(ctx context.Context, endpointID string, p *plan, q Query) (ListResult, error) {
	where := "endpoint_id = ?"
	args := []any{endpointID}
	if p.sqlWhere != "" {
		where += " AND " + p.sqlWhere
		args = append(args, p.sqlArgs...)
	}

	var matched []map[string]any
	scanned := 0
	offset := 0
	for {
		query := s.db.Rebind(`SELECT endpoint_id, id, username, display_name, external_id, version, data, created_at, updated_at
			FROM users WHERE ` + where + ` ORDER BY created_at ASC, id ASC LIMIT ? OFFSET ?`)
		var rows []userRow
		if err := s.db.SelectContext(ctx, &rows, query, append(append([]any{}, args...), MaxScanPage, offset)...); err != nil {
			return ListResult{}, fmt.Errorf("scan users: %w", err)
		}
		if len(rows) == 0 {
			break
		}
		for _, row := range rows {
			doc := map[string]any(row.Data)
			hydrateMeta(doc, "User", row.Version, row.CreatedAt, row.UpdatedAt)
			if p.remainder.Matches(doc) {
				matched = append(matched, doc)
			}
		}
		scanned += len(rows)
		offset += len(rows)
		if scanned >= MaxScanRows {
			if len(rows) == MaxScanPage {
				return ListResult{}, ErrTooManyRows
			}
			break
		}
		if len(rows) < MaxScanPage {
			break
		}
	}

	total := len(matched)
	start, limit := paginationBounds(q.StartIndex, q.Count)
	end := min(start+limit, total)
	start = min(start, total)
	return ListResult{Documents: matched[start:end], Total: total}, nil
}

func paginationBounds(startIndex, count int) (offset, limit int) {
	if startIndex < 1 {
		startIndex = 1
	}
	if count <= 0 {
		count = 100
	}
	return startIndex - 1, count
}

func (s *sqlStore) ReplaceUser(ctx context.Context, endpointID, id string, doc map[string]any) (map[string]any, error) {
	return s.UpdateUser(ctx, endpointID, id, func(existing map[string]any) error {
		for k := range existing {
			delete(existing, k)
		}
		for k, v := range doc {
			existing[k] = v
		}
		return nil
	})
}

func (s *sqlStore) UpdateUser(ctx context.Context, endpointID, id string, mutate func(doc map[string]any) error) (map[string]any, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() // nolint:errcheck

	var row userRow
	err = tx.GetContext(ctx, &row,
		s.db.Rebind(`SELECT endpoint_id, id, username, display_name, external_id, version, data, created_at, updated_at
			FROM users WHERE endpoint_id = ? AND id = ?`), endpointID, id)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user for update: %w", err)
	}

	doc := map[string]any(row.Data)
	if err := mutate(doc); err != nil {
		return nil, err
	}
	doc["id"] = id

	newUsername := docString(doc, "userName")
	if newUsername != "" && newUsername != row.Username {
		var exists bool
		if err := tx.GetContext(ctx, &exists,
			s.db.Rebind(`SELECT EXISTS(SELECT 1 FROM users WHERE endpoint_id = ? AND LOWER(username) = LOWER(?) AND id <> ?)`),
			endpointID, newUsername, id); err != nil {
			return nil, fmt.Errorf("check username uniqueness: %w", err)
		}
		if exists {
			return nil, ErrUniqueness
		}
	}

	now := time.Now()
	newVersion := row.Version + 1
	_, err = tx.ExecContext(ctx, s.db.Rebind(`UPDATE users SET username = ?, display_name = ?, external_id = ?, version = ?, data = ?, updated_at = ?
		WHERE endpoint_id = ? AND id = ?`),
		docString(doc, "userName"), docString(doc, "displayName"), docString(doc, "externalId"), newVersion, jsonDoc(doc), now,
		endpointID, id)
	if err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	hydrateMeta(doc, "User", newVersion, row.CreatedAt, now)
	return doc, nil
}

func (s *sqlStore) DeleteUser(ctx context.Context, endpointID, id string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM users WHERE endpoint_id = ? AND id = ?`), endpointID, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	_, err = s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM memberships WHERE endpoint_id = ? AND user_id = ?`), endpointID, id)
	return err
}

func (s *sqlStore) ResolveUserIDs(ctx context.Context, endpointID string, ids []string) (map[string]bool, error) {
	result := make(map[string]bool, len(ids))
	for _, id := range ids {
		var exists bool
		if err := s.db.GetContext(ctx, &exists,
			s.db.Rebind(`SELECT EXISTS(SELECT 1 FROM users WHERE endpoint_id = ? AND id = ?)`), endpointID, id); err != nil {
			return nil, fmt.Errorf("resolve user id %s: %w", id, err)
		}
		result[id] = exists
	}
	return result, nil
}

// --- Groups ---

func (s *sqlStore) CreateGroup(ctx context.Context, endpointID string, doc map[string]any, memberIDs []string) (map[string]any, error) {
	var exists bool
	displayName := docString(doc, "displayName")
	err := s.db.GetContext(ctx, &exists,
		s.db.Rebind(`SELECT EXISTS(SELECT 1 FROM groups WHERE endpoint_id = ? AND LOWER(display_name) = LOWER(?))`),
		endpointID, displayName)
	if err != nil {
		return nil, fmt.Errorf("check displayName uniqueness: %w", err)
	}
	if exists {
		return nil, ErrUniqueness
	}

	id := docString(doc, "id")
	if id == "" {
		id = uuid.New().String()
	}
	doc["id"] = id

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() // nolint:errcheck

	now := time.Now()
	_, err = tx.ExecContext(ctx, s.db.Rebind(`INSERT INTO groups (endpoint_id, id, display_name, external_id, version, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, 1, ?, ?, ?)`),
		endpointID, id, displayName, docString(doc, "externalId"), jsonDoc(doc), now, now)
	if err != nil {
		return nil, fmt.Errorf("insert group: %w", err)
	}

	if err := insertMemberships(ctx, tx, s.db, endpointID, id, doc); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	hydrateMeta(doc, "Group", 1, now, now)
	return doc, nil
}

// insertMemberships persists the members array already present on doc
// (resourcesvc.Groups.resolveMembers is responsible for having validated
// every member id exists *before* this transaction opened).
func insertMemberships(ctx context.Context, tx *sqlx.Tx, db *sqlx.DB, endpointID, groupID string, doc map[string]any) error {
	members, _ := doc["members"].([]any)
	for _, m := range members {
		mm, ok := m.(map[string]any)
		if !ok {
			continue
		}
		value, _ := mm["value"].(string)
		display, _ := mm["display"].(string)
		if value == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, db.Rebind(`INSERT INTO memberships (endpoint_id, group_id, user_id, display) VALUES (?, ?, ?, ?)
			ON CONFLICT DO NOTHING`), endpointID, groupID, value, display); err != nil {
			return fmt.Errorf("insert membership: %w", err)
		}
	}
	return nil
}

func (s *sqlStore) GetGroup(ctx context.Context, endpointID, id string) (map[string]any, error) {
	var row groupRow
	err := s.db.GetContext(ctx, &row,
		s.db.Rebind(`SELECT endpoint_id, id, display_name, external_id, version, data, created_at, updated_at
			FROM groups WHERE endpoint_id = ? AND id = ?`), endpointID, id)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get group: %w", err)
	}
	doc := map[string]any(row.Data)
	hydrateMeta(doc, "Group", row.Version, row.CreatedAt, row.UpdatedAt)
	return doc, nil
}

func (s *sqlStore) GetGroupByDisplayName(ctx context.Context, endpointID, displayName string) (map[string]any, error) {
	var row groupRow
	err := s.db.GetContext(ctx, &row,
		s.db.Rebind(`SELECT endpoint_id, id, display_name, external_id, version, data, created_at, updated_at
			FROM groups WHERE endpoint_id = ? AND LOWER(display_name) = LOWER(?)`), endpointID, displayName)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get group by displayName: %w", err)
	}
	doc := map[string]any(row.Data)
	hydrateMeta(doc, "Group", row.Version, row.CreatedAt, row.UpdatedAt)
	return doc, nil
}

func (s *sqlStore) ListGroups(ctx context.Context, endpointID string, q Query) (ListResult, error) {
	p, err := planFilter(q.Filter, groupAttrColumns)
	if err != nil {
		return ListResult{}, err
	}

	where := "endpoint_id = ?"
	args := []any{endpointID}
	if p.sqlWhere != "" {
		where += " AND " + p.sqlWhere
		args = append(args, p.sqlArgs...)
	}

	if p.pushedDown {
		var total int
		if err := s.db.GetContext(ctx, &total, s.db.Rebind(`SELECT COUNT(*) FROM groups WHERE `+where), args...); err != nil {
			return ListResult{}, fmt.Errorf("count groups: %w", err)
		}
		offset, limit := paginationBounds(q.StartIndex, q.Count)
		query := s.db.Rebind(`SELECT endpoint_id, id, display_name, external_id, version, data, created_at, updated_at
			FROM groups WHERE ` + where + ` ORDER BY created_at ASC, id ASC LIMIT ? OFFSET ?`)
		var rows []groupRow
		if err := s.db.SelectContext(ctx, &rows, query, append(append([]any{}, args...), limit, offset)...); err != nil {
			return ListResult{}, fmt.Errorf("list groups: %w", err)
		}
		docs := make([]map[string]any, 0, len(rows))
		for _, row := range rows {
			doc := map[string]any(row.Data)
			hydrateMeta(doc, "Group", row.Version, row.CreatedAt, row.UpdatedAt)
			docs = append(docs, doc)
		}
		return ListResult{Documents: docs, Total: total}, nil
	}

	var matched []map[string]any
	scanned, offset := 0, 0
	for {
		query := s.db.Rebind(`SELECT endpoint_id, id, display_name, external_id, version, data, created_at, updated_at
			FROM groups WHERE ` + where + ` ORDER BY created_at ASC, id ASC LIMIT ? OFFSET ?`)
		var rows []groupRow
		if err := s.db.SelectContext(ctx, &rows, query, append(append([]any{}, args...), MaxScanPage, offset)...); err != nil {
			return ListResult{}, fmt.Errorf("scan groups: %w", err)
		}
		if len(rows) == 0 {
			break
		}
		for _, row := range rows {
			doc := map[string]any(row.Data)
			hydrateMeta(doc, "Group", row.Version, row.CreatedAt, row.UpdatedAt)
			if p.remainder.Matches(doc) {
				matched = append(matched, doc)
			}
		}
		scanned += len(rows)
		offset += len(rows)
		if scanned >= MaxScanRows {
			if len(rows) == MaxScanPage {
				return ListResult{}, ErrTooManyRows
			}
			break
		}
		if len(rows) < MaxScanPage {
			break
		}
	}

	total := len(matched)
	start, limit := paginationBounds(q.StartIndex, q.Count)
	end := min(start+limit, total)
	start = min(start, total)
	return ListResult{Documents: matched[start:end], Total: total}, nil
}

func (s *sqlStore) ReplaceGroup(ctx context.Context, endpointID, id string, doc map[string]any, memberIDs []string) (map[string]any, error) {
	return s.UpdateGroup(ctx, endpointID, id, func(existing map[string]any) error {
		for k := range existing {
			delete(existing, k)
		}
		for k, v := range doc {
			existing[k] = v
		}
		return nil
	}, memberIDs, true)
}

func (s *sqlStore) UpdateGroup(ctx context.Context, endpointID, id string, mutate func(doc map[string]any) error, memberIDs []string, replaceMembers bool) (map[string]any, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() // nolint:errcheck

	var row groupRow
	err = tx.GetContext(ctx, &row,
		s.db.Rebind(`SELECT endpoint_id, id, display_name, external_id, version, data, created_at, updated_at
			FROM groups WHERE endpoint_id = ? AND id = ?`), endpointID, id)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get group for update: %w", err)
	}

	doc := map[string]any(row.Data)
	if err := mutate(doc); err != nil {
		return nil, err
	}
	doc["id"] = id

	newDisplayName := docString(doc, "displayName")
	if newDisplayName != "" && newDisplayName != row.DisplayName {
		var exists bool
		if err := tx.GetContext(ctx, &exists,
			s.db.Rebind(`SELECT EXISTS(SELECT 1 FROM groups WHERE endpoint_id = ? AND LOWER(display_name) = LOWER(?) AND id <> ?)`),
			endpointID, newDisplayName, id); err != nil {
			return nil, fmt.Errorf("check displayName uniqueness: %w", err)
		}
		if exists {
			return nil, ErrUniqueness
		}
	}

	now := time.Now()
	newVersion := row.Version + 1
	_, err = tx.ExecContext(ctx, s.db.Rebind(`UPDATE groups SET display_name = ?, external_id = ?, version = ?, data = ?, updated_at = ?
		WHERE endpoint_id = ? AND id = ?`),
		docString(doc, "displayName"), docString(doc, "externalId"), newVersion, jsonDoc(doc), now, endpointID, id)
	if err != nil {
		return nil, fmt.Errorf("update group: %w", err)
	}

	if replaceMembers {
		if _, err := tx.ExecContext(ctx, s.db.Rebind(`DELETE FROM memberships WHERE endpoint_id = ? AND group_id = ?`), endpointID, id); err != nil {
			return nil, fmt.Errorf("clear memberships: %w", err)
		}
		if err := insertMemberships(ctx, tx, s.db, endpointID, id, doc); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	hydrateMeta(doc, "Group", newVersion, row.CreatedAt, now)
	return doc, nil
}

func (s *sqlStore) DeleteGroup(ctx context.Context, endpointID, id string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM groups WHERE endpoint_id = ? AND id = ?`), endpointID, id)
	if err != nil {
		return fmt.Errorf("delete group: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	_, err = s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM memberships WHERE endpoint_id = ? AND group_id = ?`), endpointID, id)
	return err
}

// --- Endpoints ---

func (s *sqlStore) CreateEndpoint(ctx context.Context, ep Endpoint) (Endpoint, error) {
	var exists bool
	if err := s.db.GetContext(ctx, &exists,
		s.db.Rebind(`SELECT EXISTS(SELECT 1 FROM endpoints WHERE LOWER(name) = LOWER(?))`), ep.Name); err != nil {
		return Endpoint{}, fmt.Errorf("check endpoint name uniqueness: %w", err)
	}
	if exists {
		return Endpoint{}, ErrUniqueness
	}
	if ep.ID == "" {
		ep.ID = uuid.New().String()
	}
	now := time.Now()
	ep.CreatedAt, ep.UpdatedAt = now, now
	if ep.ConfigFlags == nil {
		ep.ConfigFlags = map[string]string{}
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`INSERT INTO endpoints (id, name, display_name, description, active, config_flags, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		ep.ID, ep.Name, ep.DisplayName, ep.Description, ep.Active, stringMap(ep.ConfigFlags), now, now)
	if err != nil {
		return Endpoint{}, fmt.Errorf("insert endpoint: %w", err)
	}
	return ep, nil
}

func endpointFromRow(row endpointRow) Endpoint {
	return Endpoint{
		ID: row.ID, Name: row.Name, DisplayName: row.DisplayName, Description: row.Description, Active: row.Active,
		ConfigFlags: map[string]string(row.ConfigFlags), CreatedAt: row.CreatedAt, UpdatedAt: row.UpdatedAt,
	}
}

func (s *sqlStore) GetEndpointByID(ctx context.Context, id string) (Endpoint, error) {
	var row endpointRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT id, name, display_name, description, active, config_flags, created_at, updated_at
		FROM endpoints WHERE id = ?`), id)
	if err == sql.ErrNoRows {
		return Endpoint{}, ErrNotFound
	}
	if err != nil {
		return Endpoint{}, fmt.Errorf("get endpoint: %w", err)
	}
	return endpointFromRow(row), nil
}

func (s *sqlStore) GetEndpointByName(ctx context.Context, name string) (Endpoint, error) {
	var row endpointRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT id, name, display_name, description, active, config_flags, created_at, updated_at
		FROM endpoints WHERE LOWER(name) = LOWER(?)`), name)
	if err == sql.ErrNoRows {
		return Endpoint{}, ErrNotFound
	}
	if err != nil {
		return Endpoint{}, fmt.Errorf("get endpoint by name: %w", err)
	}
	return endpointFromRow(row), nil
}

func (s *sqlStore) ListEndpoints(ctx context.Context) ([]Endpoint, error) {
	var rows []endpointRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT id, name, display_name, description, active, config_flags, created_at, updated_at
		FROM endpoints ORDER BY created_at ASC`); err != nil {
		return nil, fmt.Errorf("list endpoints: %w", err)
	}
	out := make([]Endpoint, 0, len(rows))
	for _, row := range rows {
		out = append(out, endpointFromRow(row))
	}
	return out, nil
}

func (s *sqlStore) UpdateEndpoint(ctx context.Context, ep Endpoint) (Endpoint, error) {
	now := time.Now()
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE endpoints SET name = ?, display_name = ?, description = ?, active = ?, config_flags = ?, updated_at = ?
		WHERE id = ?`), ep.Name, ep.DisplayName, ep.Description, ep.Active, stringMap(ep.ConfigFlags), now, ep.ID)
	if err != nil {
		return Endpoint{}, fmt.Errorf("update endpoint: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return Endpoint{}, ErrNotFound
	}
	ep.UpdatedAt = now
	return ep, nil
}

func (s *sqlStore) DeleteEndpoint(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM endpoints WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete endpoint: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqlStore) EndpointStats(ctx context.Context, id string) (EndpointStats, error) {
	var stats EndpointStats
	var row endpointRow
	if err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT id, name, display_name, description, active, config_flags, created_at, updated_at
		FROM endpoints WHERE id = ?`), id); err != nil {
		if err == sql.ErrNoRows {
			return stats, ErrNotFound
		}
		return stats, fmt.Errorf("get endpoint: %w", err)
	}
	stats.CreatedAt, stats.UpdatedAt = row.CreatedAt, row.UpdatedAt

	if err := s.db.GetContext(ctx, &stats.UserCount, s.db.Rebind(`SELECT COUNT(*) FROM users WHERE endpoint_id = ?`), id); err != nil {
		return stats, fmt.Errorf("count users: %w", err)
	}
	if err := s.db.GetContext(ctx, &stats.GroupCount, s.db.Rebind(`SELECT COUNT(*) FROM groups WHERE endpoint_id = ?`), id); err != nil {
		return stats, fmt.Errorf("count groups: %w", err)
	}
	return stats, nil
}

// --- Audit ---

func (s *sqlStore) InsertAuditRecords(ctx context.Context, records []AuditRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() // nolint:errcheck

	query := s.db.Rebind(`INSERT INTO audit_log (endpoint_id, ts, method, path, status, remote_addr, detail) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	for _, rec := range records {
		if _, err := tx.ExecContext(ctx, query, rec.EndpointID, rec.Timestamp, rec.Method, rec.Path, rec.Status, rec.RemoteAddr, rec.Detail); err != nil {
			return fmt.Errorf("insert audit record: %w", err)
		}
	}
	return tx.Commit()
}
