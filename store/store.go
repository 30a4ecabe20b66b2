// Package store persists endpoints, users, groups, and audit records behind
// one Store interface, backed by either an embedded SQLite database or a
// client-server PostgreSQL database (see sqlite.go and postgres.go).
package store

import (
	"context"
	"time"
)

// Endpoint is a tenant: an isolated directory of users and groups reachable
// under its own URL segment, with its own feature flags. It carries no auth
// secret: authentication is configured for the whole service.
type Endpoint struct {
	ID          string
	Name        string
	DisplayName string
	Description string
	Active      bool
	ConfigFlags map[string]string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// EndpointStats summarizes the size of one endpoint's directory.
type EndpointStats struct {
	UserCount  int
	GroupCount int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ListResult is the page of documents a List call returns, plus the total
// match count (pre-pagination) needed for a SCIM ListResponse.
type ListResult struct {
	Documents []map[string]any
	Total     int
}

// AuditRecord is one append-only audit log line.
type AuditRecord struct {
	EndpointID string
	Timestamp  time.Time
	Method     string
	Path       string
	Status     int
	RemoteAddr string
	Detail     string // redacted request/response summary
}

// ErrNotFound is returned by Get*/Update*/Delete* when no row matches.
var ErrNotFound = storeError("not found")

// ErrUniqueness is returned when a create/replace would violate a
// per-endpoint uniqueness constraint (userName, group displayName, or
// endpoint name).
var ErrUniqueness = storeError("uniqueness violation")

// ErrTooManyRows is returned by List* when an in-memory filter fallback
// would need to scan past the configured row ceiling.
var ErrTooManyRows = storeError("too many rows to scan for this filter")

type storeError string

func (e storeError) Error() string { return string(e) }

// Query describes one page of a list/search request against a single
// resource type within one endpoint.
type Query struct {
	Filter     string // raw SCIM filter expression, may be empty
	StartIndex int    // 1-based
	Count      int
}

// Store is the persistence boundary every resource/endpoint/audit operation
// goes through. Two concrete implementations exist: sqlite.go (embedded,
// single-writer, dev/default) and postgres.go (client-server,
// multi-writer, production). Both share schema.go's DDL and planner.go's
// filter-pushdown logic.
type Store interface {
	// Users
	CreateUser(ctx context.Context, endpointID string, doc map[string]any) (map[string]any, error)
	GetUser(ctx context.Context, endpointID, id string) (map[string]any, error)
	GetUserByUserName(ctx context.Context, endpointID, userName string) (map[string]any, error)
	ListUsers(ctx context.Context, endpointID string, q Query) (ListResult, error)
	ReplaceUser(ctx context.Context, endpointID, id string, doc map[string]any) (map[string]any, error)
	UpdateUser(ctx context.Context, endpointID, id string, mutate func(doc map[string]any) error) (map[string]any, error)
	DeleteUser(ctx context.Context, endpointID, id string) error

	// Groups
	CreateGroup(ctx context.Context, endpointID string, doc map[string]any, memberIDs []string) (map[string]any, error)
	GetGroup(ctx context.Context, endpointID, id string) (map[string]any, error)
	GetGroupByDisplayName(ctx context.Context, endpointID, displayName string) (map[string]any, error)
	ListGroups(ctx context.Context, endpointID string, q Query) (ListResult, error)
	ReplaceGroup(ctx context.Context, endpointID, id string, doc map[string]any, memberIDs []string) (map[string]any, error)
	UpdateGroup(ctx context.Context, endpointID, id string, mutate func(doc map[string]any) error, memberIDs []string, replaceMembers bool) (map[string]any, error)
	DeleteGroup(ctx context.Context, endpointID, id string) error

	// ResolveUserIDs reports, for each SCIM user id in ids, whether a user
	// with that id exists in the endpoint. Used by group membership
	// resolution before a membership write transaction opens.
	ResolveUserIDs(ctx context.Context, endpointID string, ids []string) (map[string]bool, error)

	// Endpoints
	CreateEndpoint(ctx context.Context, ep Endpoint) (Endpoint, error)
	GetEndpointByID(ctx context.Context, id string) (Endpoint, error)
	GetEndpointByName(ctx context.Context, name string) (Endpoint, error)
	ListEndpoints(ctx context.Context) ([]Endpoint, error)
	UpdateEndpoint(ctx context.Context, ep Endpoint) (Endpoint, error)
	DeleteEndpoint(ctx context.Context, id string) error
	EndpointStats(ctx context.Context, id string) (EndpointStats, error)

	// Audit
	InsertAuditRecords(ctx context.Context, records []AuditRecord) error

	Close() error
}

// Bounds on the in-memory filter fallback (see planner.go).
const (
	MaxScanPage = 1000
	MaxScanRows = 10000
)
