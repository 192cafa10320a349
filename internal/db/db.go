package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xtrntr/gridshare/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps a PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// NewDB initializes a new database connection pool
func NewDB(ctx context.Context, connString string) (*DB, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close closes the database connection pool
func (db *DB) Close(ctx context.Context) error {
	db.Pool.Close()
	return nil
}

// mapErr classifies a store error: row absence becomes ErrNotFound, timeouts
// and connection failures become ErrStoreUnavailable so callers can tell
// transient store trouble apart from domain failures.
func mapErr(op string, err error) error {
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return fmt.Errorf("%s: %w", op, models.ErrNotFound)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return fmt.Errorf("%s: %w: %v", op, models.ErrStoreUnavailable, err)
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return fmt.Errorf("%s: %w: %v", op, models.ErrStoreUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

const resourceColumns = "id, name, type, capacity, credits_per_hour, status, owner_id, borrowed_by, specifications, created_at, last_active"

func scanResource(row pgx.Row) (*models.Resource, error) {
	r := &models.Resource{}
	err := row.Scan(&r.ID, &r.Name, &r.Type, &r.Capacity, &r.CreditsPerHour, &r.Status,
		&r.OwnerID, &r.BorrowedBy, &r.Specifications, &r.CreatedAt, &r.LastActive)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func collectResources(rows pgx.Rows) ([]models.Resource, error) {
	defer rows.Close()

	var resources []models.Resource
	for rows.Next() {
		r, err := scanResource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan resource: %w", err)
		}
		resources = append(resources, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr("read resources", err)
	}
	return resources, nil
}

const transactionColumns = "id, resource_id, provider_id, consumer_id, credits, start_time, end_time, status"

func scanTransaction(row pgx.Row) (*models.Transaction, error) {
	t := &models.Transaction{}
	err := row.Scan(&t.ID, &t.ResourceID, &t.ProviderID, &t.ConsumerID, &t.Credits,
		&t.StartTime, &t.EndTime, &t.Status)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func collectTransactions(rows pgx.Rows) ([]models.Transaction, error) {
	defer rows.Close()

	var transactions []models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		transactions = append(transactions, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr("read transactions", err)
	}
	return transactions, nil
}

// CreateUser inserts a new user. Balance starts at the schema default.
func (db *DB) CreateUser(ctx context.Context, username, email, passwordHash string) (*models.User, error) {
	user := &models.User{}
	err := db.Pool.QueryRow(ctx,
		"INSERT INTO users (username, email, password_hash) VALUES ($1, $2, $3) RETURNING id, username, email, password_hash, credits, reputation, created_at",
		username, email, passwordHash).Scan(
		&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.Credits, &user.Reputation, &user.CreatedAt)
	if err != nil {
		return nil, mapErr("create user", err)
	}
	return user, nil
}

// GetUserByUsername retrieves a user by username
func (db *DB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	user := &models.User{}
	err := db.Pool.QueryRow(ctx,
		"SELECT id, username, email, password_hash, credits, reputation, created_at FROM users WHERE username = $1",
		username).Scan(
		&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.Credits, &user.Reputation, &user.CreatedAt)
	if err != nil {
		return nil, mapErr(fmt.Sprintf("get user %q", username), err)
	}
	return user, nil
}

// GetUser retrieves a user by id
func (db *DB) GetUser(ctx context.Context, userID int) (*models.User, error) {
	user := &models.User{}
	err := db.Pool.QueryRow(ctx,
		"SELECT id, username, email, password_hash, credits, reputation, created_at FROM users WHERE id = $1",
		userID).Scan(
		&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.Credits, &user.Reputation, &user.CreatedAt)
	if err != nil {
		return nil, mapErr(fmt.Sprintf("get user %d", userID), err)
	}
	return user, nil
}

// CreateResource inserts a new resource listing
func (db *DB) CreateResource(ctx context.Context, resource *models.Resource) (*models.Resource, error) {
	// Validate listing
	if resource.Name == "" || resource.Type == "" {
		return nil, fmt.Errorf("name and type are required: %w", models.ErrInvalidArgument)
	}
	if resource.Capacity <= 0 {
		return nil, fmt.Errorf("capacity must be positive: %w", models.ErrInvalidArgument)
	}
	if resource.CreditsPerHour < 0 {
		return nil, fmt.Errorf("credits per hour cannot be negative: %w", models.ErrInvalidArgument)
	}

	// Verify owner exists
	var exists bool
	err := db.Pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)", resource.OwnerID).Scan(&exists)
	if err != nil {
		return nil, mapErr("check owner existence", err)
	}
	if !exists {
		return nil, fmt.Errorf("owner %d: %w", resource.OwnerID, models.ErrNotFound)
	}

	row := db.Pool.QueryRow(ctx,
		"INSERT INTO resources (name, type, capacity, credits_per_hour, specifications, owner_id) VALUES ($1, $2, $3, $4, $5, $6) RETURNING "+resourceColumns,
		resource.Name, resource.Type, resource.Capacity, resource.CreditsPerHour, resource.Specifications, resource.OwnerID)
	created, err := scanResource(row)
	if err != nil {
		return nil, mapErr("create resource", err)
	}
	return created, nil
}

// GetResource retrieves a resource by id
func (db *DB) GetResource(ctx context.Context, resourceID int) (*models.Resource, error) {
	row := db.Pool.QueryRow(ctx,
		"SELECT "+resourceColumns+" FROM resources WHERE id = $1", resourceID)
	resource, err := scanResource(row)
	if err != nil {
		return nil, mapErr(fmt.Sprintf("get resource %d", resourceID), err)
	}
	return resource, nil
}

// ResourceFilter narrows an availability query. Zero values mean "no filter".
type ResourceFilter struct {
	Type              string
	MinCapacity       float64
	MaxCreditsPerHour float64
	ExcludeOwner      int
}

// AvailableResources lists available resources matching the filter, ordered by
// unit price (credits per hour per unit of capacity) ascending, ties broken by
// id so results are reproducible.
func (db *DB) AvailableResources(ctx context.Context, filter ResourceFilter) ([]models.Resource, error) {
	query := "SELECT " + resourceColumns + " FROM resources WHERE status = 'available'"
	var args []interface{}

	if filter.Type != "" {
		args = append(args, filter.Type)
		query += fmt.Sprintf(" AND type = $%d", len(args))
	}
	if filter.MinCapacity > 0 {
		args = append(args, filter.MinCapacity)
		query += fmt.Sprintf(" AND capacity >= $%d", len(args))
	}
	if filter.MaxCreditsPerHour > 0 {
		args = append(args, filter.MaxCreditsPerHour)
		query += fmt.Sprintf(" AND credits_per_hour <= $%d", len(args))
	}
	if filter.ExcludeOwner != 0 {
		args = append(args, filter.ExcludeOwner)
		query += fmt.Sprintf(" AND owner_id <> $%d", len(args))
	}
	query += " ORDER BY credits_per_hour / capacity ASC, id ASC"

	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapErr("list available resources", err)
	}
	return collectResources(rows)
}

// AvailableByType lists up to limit available resources of one type, cheapest
// unit price first, excluding those owned by excludeOwner.
func (db *DB) AvailableByType(ctx context.Context, resourceType string, excludeOwner, limit int) ([]models.Resource, error) {
	rows, err := db.Pool.Query(ctx,
		"SELECT "+resourceColumns+" FROM resources WHERE status = 'available' AND type = $1 AND owner_id <> $2 ORDER BY credits_per_hour / capacity ASC, id ASC LIMIT $3",
		resourceType, excludeOwner, limit)
	if err != nil {
		return nil, mapErr("list available by type", err)
	}
	return collectResources(rows)
}

// PopularAvailable lists up to limit available resources ordered by how many
// transactions they have accumulated, most transacted first, excluding those
// owned by excludeOwner. Resources with no transactions are not included.
func (db *DB) PopularAvailable(ctx context.Context, excludeOwner, limit int) ([]models.Resource, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT r.id, r.name, r.type, r.capacity, r.credits_per_hour, r.status, r.owner_id, r.borrowed_by, r.specifications, r.created_at, r.last_active
		FROM resources r
		JOIN transactions t ON t.resource_id = r.id
		WHERE r.status = 'available' AND r.owner_id <> $1
		GROUP BY r.id
		ORDER BY COUNT(t.id) DESC, r.id ASC
		LIMIT $2`,
		excludeOwner, limit)
	if err != nil {
		return nil, mapErr("list popular resources", err)
	}
	return collectResources(rows)
}

// TypeCount pairs a resource type with how often a consumer has borrowed it.
type TypeCount struct {
	Type  string
	Count int
}

// ConsumerTypeCounts groups a consumer's past transactions by resource type,
// most frequently borrowed type first.
func (db *DB) ConsumerTypeCounts(ctx context.Context, consumerID int) ([]TypeCount, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT r.type, COUNT(t.id)
		FROM transactions t
		JOIN resources r ON r.id = t.resource_id
		WHERE t.consumer_id = $1
		GROUP BY r.type
		ORDER BY COUNT(t.id) DESC, r.type ASC`,
		consumerID)
	if err != nil {
		return nil, mapErr("count consumer types", err)
	}
	defer rows.Close()

	var counts []TypeCount
	for rows.Next() {
		var tc TypeCount
		if err := rows.Scan(&tc.Type, &tc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan type count: %w", err)
		}
		counts = append(counts, tc)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr("count consumer types", err)
	}
	return counts, nil
}

// AverageUnitPrice returns the market average of credits_per_hour / capacity
// across all resources of the given type, regardless of status. The second
// return is false when no such resource exists.
func (db *DB) AverageUnitPrice(ctx context.Context, resourceType string) (float64, bool, error) {
	var avg *float64
	err := db.Pool.QueryRow(ctx,
		"SELECT AVG(credits_per_hour / capacity) FROM resources WHERE type = $1 AND capacity > 0",
		resourceType).Scan(&avg)
	if err != nil {
		return 0, false, mapErr("average unit price", err)
	}
	if avg == nil {
		return 0, false, nil
	}
	return *avg, true, nil
}

// UsageRow aggregates one resource's transactions over a window.
type UsageRow struct {
	ResourceID    int
	HoursUsed     float64
	CreditsEarned float64
}

// UsageTotalsSince sums loan durations and earnings per resource for all
// transactions started at or after the cutoff. A transaction without an end
// time counts up to now.
func (db *DB) UsageTotalsSince(ctx context.Context, resourceIDs []int, since time.Time) ([]UsageRow, error) {
	ids := make([]int32, len(resourceIDs))
	for i, id := range resourceIDs {
		ids[i] = int32(id)
	}

	rows, err := db.Pool.Query(ctx, `
		SELECT resource_id,
		       COALESCE(SUM(EXTRACT(EPOCH FROM (COALESCE(end_time, NOW()) - start_time)) / 3600), 0),
		       COALESCE(SUM(credits), 0)
		FROM transactions
		WHERE resource_id = ANY($1) AND start_time >= $2
		GROUP BY resource_id`,
		ids, since)
	if err != nil {
		return nil, mapErr("usage totals", err)
	}
	defer rows.Close()

	var totals []UsageRow
	for rows.Next() {
		var row UsageRow
		if err := rows.Scan(&row.ResourceID, &row.HoursUsed, &row.CreditsEarned); err != nil {
			return nil, fmt.Errorf("failed to scan usage row: %w", err)
		}
		totals = append(totals, row)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr("usage totals", err)
	}
	return totals, nil
}

// ResourcesByOwner retrieves all resources owned by a user
func (db *DB) ResourcesByOwner(ctx context.Context, ownerID int) ([]models.Resource, error) {
	rows, err := db.Pool.Query(ctx,
		"SELECT "+resourceColumns+" FROM resources WHERE owner_id = $1 ORDER BY id ASC", ownerID)
	if err != nil {
		return nil, mapErr("list owned resources", err)
	}
	return collectResources(rows)
}

// ResourcesBorrowedBy retrieves the resources a user is currently borrowing
func (db *DB) ResourcesBorrowedBy(ctx context.Context, userID int) ([]models.Resource, error) {
	rows, err := db.Pool.Query(ctx,
		"SELECT "+resourceColumns+" FROM resources WHERE borrowed_by = $1 ORDER BY id ASC", userID)
	if err != nil {
		return nil, mapErr("list borrowed resources", err)
	}
	return collectResources(rows)
}

// TransactionsByConsumer retrieves a user's loans as the borrowing side
func (db *DB) TransactionsByConsumer(ctx context.Context, consumerID int) ([]models.Transaction, error) {
	rows, err := db.Pool.Query(ctx,
		"SELECT "+transactionColumns+" FROM transactions WHERE consumer_id = $1 ORDER BY id ASC", consumerID)
	if err != nil {
		return nil, mapErr("list consumed transactions", err)
	}
	return collectTransactions(rows)
}

// TransactionsByProvider retrieves a user's loans as the lending side
func (db *DB) TransactionsByProvider(ctx context.Context, providerID int) ([]models.Transaction, error) {
	rows, err := db.Pool.Query(ctx,
		"SELECT "+transactionColumns+" FROM transactions WHERE provider_id = $1 ORDER BY id ASC", providerID)
	if err != nil {
		return nil, mapErr("list provided transactions", err)
	}
	return collectTransactions(rows)
}
