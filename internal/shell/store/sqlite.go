package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/artpar/nubo/internal/core/domain"
	"github.com/artpar/nubo/internal/shell/stack"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// =============================================================================
// Executor Interface - Shared by DB and Transaction
// =============================================================================

// executor abstracts database operations that can be performed on both
// a database connection and a transaction.
type executor interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	NamedExecContext(ctx context.Context, query string, arg any) (sql.Result, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// =============================================================================
// SQLiteStore
// =============================================================================

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore creates a new SQLite store and runs migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite3", dsn+"?_foreign_keys=on")
	if err != nil {
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to open database", ErrConnectionFailed)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to ping database", ErrConnectionFailed)
	}

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", err.Error(), ErrMigrationFailed)
	}

	return &SQLiteStore{db: db}, nil
}

// runMigrations runs database migrations using embedded SQL files.
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// Helpers
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func classifyError(op, entity, id string, err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint"):
		return NewStoreError(op, entity, id, "already exists", ErrDuplicate)
	case strings.Contains(msg, "FOREIGN KEY constraint"):
		return NewStoreError(op, entity, id, "foreign key violated", ErrForeignKey)
	default:
		return NewStoreError(op, entity, id, msg, err)
	}
}

// =============================================================================
// User Operations
// =============================================================================

type userRow struct {
	ID        int    `db:"id"`
	Email     string `db:"email"`
	Name      string `db:"name"`
	CreatedAt string `db:"created_at"`
}

func resolveUser(ctx context.Context, e executor, email, name string) (int, error) {
	var row userRow
	err := e.GetContext(ctx, &row, `SELECT * FROM users WHERE email = ?`, email)
	if err == nil {
		return row.ID, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, classifyError("ResolveUser", "user", email, err)
	}

	res, err := e.ExecContext(ctx,
		`INSERT INTO users (email, name, created_at) VALUES (?, ?, ?)`,
		email, name, formatTime(time.Now()))
	if err != nil {
		return 0, classifyError("ResolveUser", "user", email, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, NewStoreError("ResolveUser", "user", email, "failed to read inserted id", err)
	}
	return int(id), nil
}

func getUserEmail(ctx context.Context, e executor, userID int) (string, error) {
	var email string
	err := e.GetContext(ctx, &email, `SELECT email FROM users WHERE id = ?`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", NewStoreError("GetUserEmail", "user", fmt.Sprint(userID), "not found", ErrNotFound)
	}
	if err != nil {
		return "", classifyError("GetUserEmail", "user", fmt.Sprint(userID), err)
	}
	return email, nil
}

func (s *SQLiteStore) ResolveUser(ctx context.Context, email, name string) (int, error) {
	return resolveUser(ctx, s.db, email, name)
}

func (s *SQLiteStore) GetUserEmail(ctx context.Context, userID int) (string, error) {
	return getUserEmail(ctx, s.db, userID)
}

// =============================================================================
// Environment Operations
// =============================================================================

type environmentRow struct {
	ID         int     `db:"id"`
	Name       string  `db:"name"`
	Path       string  `db:"path"`
	Subdomains *string `db:"subdomains"`
}

func (r *environmentRow) toDomain() (*domain.Environment, error) {
	env := &domain.Environment{
		ID:   r.ID,
		Name: r.Name,
		Path: r.Path,
	}
	if r.Subdomains != nil && *r.Subdomains != "" {
		if err := json.Unmarshal([]byte(*r.Subdomains), &env.Subdomains); err != nil {
			return nil, NewStoreError("toDomain", "environment", fmt.Sprint(r.ID), "malformed subdomains", ErrInvalidData)
		}
	}
	return env, nil
}

func createEnvironment(ctx context.Context, e executor, env *domain.Environment) error {
	var subdomains *string
	if len(env.Subdomains) > 0 {
		raw, err := json.Marshal(env.Subdomains)
		if err != nil {
			return NewStoreError("CreateEnvironment", "environment", "", "failed to encode subdomains", ErrInvalidData)
		}
		s := string(raw)
		subdomains = &s
	}

	res, err := e.ExecContext(ctx,
		`INSERT INTO environments (name, path, subdomains) VALUES (?, ?, ?)`,
		env.Name, env.Path, subdomains)
	if err != nil {
		return classifyError("CreateEnvironment", "environment", env.Name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return NewStoreError("CreateEnvironment", "environment", env.Name, "failed to read inserted id", err)
	}
	env.ID = int(id)
	return nil
}

func getEnvironment(ctx context.Context, e executor, id int) (*domain.Environment, error) {
	var row environmentRow
	err := e.GetContext(ctx, &row, `SELECT * FROM environments WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NewStoreError("GetEnvironment", "environment", fmt.Sprint(id), "not found", ErrNotFound)
	}
	if err != nil {
		return nil, classifyError("GetEnvironment", "environment", fmt.Sprint(id), err)
	}
	return row.toDomain()
}

func listEnvironments(ctx context.Context, e executor, opts ListOptions) ([]domain.Environment, error) {
	opts = opts.Normalize()
	var rows []environmentRow
	err := e.SelectContext(ctx, &rows,
		`SELECT * FROM environments ORDER BY id LIMIT ? OFFSET ?`, opts.Limit, opts.Offset)
	if err != nil {
		return nil, classifyError("ListEnvironments", "environment", "", err)
	}

	envs := make([]domain.Environment, 0, len(rows))
	for i := range rows {
		env, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		envs = append(envs, *env)
	}
	return envs, nil
}

func deleteEnvironment(ctx context.Context, e executor, id int) error {
	res, err := e.ExecContext(ctx, `DELETE FROM environments WHERE id = ?`, id)
	if err != nil {
		return classifyError("DeleteEnvironment", "environment", fmt.Sprint(id), err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return NewStoreError("DeleteEnvironment", "environment", fmt.Sprint(id), "not found", ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) CreateEnvironment(ctx context.Context, env *domain.Environment) error {
	return createEnvironment(ctx, s.db, env)
}

func (s *SQLiteStore) GetEnvironment(ctx context.Context, id int) (*domain.Environment, error) {
	return getEnvironment(ctx, s.db, id)
}

func (s *SQLiteStore) ListEnvironments(ctx context.Context, opts ListOptions) ([]domain.Environment, error) {
	return listEnvironments(ctx, s.db, opts)
}

func (s *SQLiteStore) DeleteEnvironment(ctx context.Context, id int) error {
	return deleteEnvironment(ctx, s.db, id)
}

// =============================================================================
// Instance Operations
// =============================================================================

type instanceRow struct {
	ID               int    `db:"id"`
	Hash             string `db:"hash"`
	Name             string `db:"name"`
	Provider         string `db:"provider"`
	Region           string `db:"region"`
	Zone             string `db:"zone"`
	Type             string `db:"type"`
	Image            string `db:"image"`
	Status           string `db:"status"`
	IPAddress        string `db:"ip_address"`
	UserID           int    `db:"user_id"`
	ProjectID        *int   `db:"project_id"`
	EnvironmentID    *int   `db:"environment_id"`
	RootDNSZone      string `db:"root_dns_zone"`
	IsProtected      bool   `db:"is_protected"`
	CreatedAt        string `db:"created_at"`
	ModificationDate string `db:"modification_date"`
}

func (r *instanceRow) toDomain() *domain.Instance {
	return &domain.Instance{
		ID:               r.ID,
		Hash:             r.Hash,
		Name:             r.Name,
		Provider:         domain.Provider(r.Provider),
		Region:           r.Region,
		Zone:             r.Zone,
		Type:             r.Type,
		Image:            r.Image,
		Status:           domain.ResourceStatus(r.Status),
		IPAddress:        r.IPAddress,
		UserID:           r.UserID,
		ProjectID:        r.ProjectID,
		EnvironmentID:    r.EnvironmentID,
		RootDNSZone:      r.RootDNSZone,
		IsProtected:      r.IsProtected,
		CreatedAt:        parseTime(r.CreatedAt),
		ModificationDate: parseTime(r.ModificationDate),
	}
}

func createInstance(ctx context.Context, e executor, inst *domain.Instance) error {
	res, err := e.ExecContext(ctx, `
		INSERT INTO instances (
			hash, name, provider, region, zone, type, image, status,
			ip_address, user_id, project_id, environment_id,
			root_dns_zone, is_protected, created_at, modification_date
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inst.Hash, inst.Name, string(inst.Provider), inst.Region, inst.Zone,
		inst.Type, inst.Image, string(inst.Status), inst.IPAddress,
		inst.UserID, inst.ProjectID, inst.EnvironmentID,
		inst.RootDNSZone, inst.IsProtected,
		formatTime(inst.CreatedAt), formatTime(inst.ModificationDate))
	if err != nil {
		return classifyError("CreateInstance", "instance", inst.CompositeName(), err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return NewStoreError("CreateInstance", "instance", inst.CompositeName(), "failed to read inserted id", err)
	}
	inst.ID = int(id)
	return nil
}

func getInstance(ctx context.Context, e executor, id int) (*domain.Instance, error) {
	var row instanceRow
	err := e.GetContext(ctx, &row, `SELECT * FROM instances WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NewStoreError("GetInstance", "instance", fmt.Sprint(id), "not found", ErrNotFound)
	}
	if err != nil {
		return nil, classifyError("GetInstance", "instance", fmt.Sprint(id), err)
	}
	return row.toDomain(), nil
}

func updateInstanceStatus(ctx context.Context, e executor, id int, status domain.ResourceStatus, modifiedAt time.Time) error {
	res, err := e.ExecContext(ctx,
		`UPDATE instances SET status = ?, modification_date = ? WHERE id = ?`,
		string(status), formatTime(modifiedAt), id)
	if err != nil {
		return classifyError("UpdateInstanceStatus", "instance", fmt.Sprint(id), err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return NewStoreError("UpdateInstanceStatus", "instance", fmt.Sprint(id), "not found", ErrNotFound)
	}
	return nil
}

func updateInstanceIP(ctx context.Context, e executor, id int, ip string) error {
	res, err := e.ExecContext(ctx, `UPDATE instances SET ip_address = ? WHERE id = ?`, ip, id)
	if err != nil {
		return classifyError("UpdateInstanceIP", "instance", fmt.Sprint(id), err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return NewStoreError("UpdateInstanceIP", "instance", fmt.Sprint(id), "not found", ErrNotFound)
	}
	return nil
}

func updateInstanceType(ctx context.Context, e executor, id int, instanceType string) error {
	res, err := e.ExecContext(ctx, `UPDATE instances SET type = ? WHERE id = ?`, instanceType, id)
	if err != nil {
		return classifyError("UpdateInstanceType", "instance", fmt.Sprint(id), err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return NewStoreError("UpdateInstanceType", "instance", fmt.Sprint(id), "not found", ErrNotFound)
	}
	return nil
}

func updateInstanceOwner(ctx context.Context, e executor, id int, userID int) error {
	res, err := e.ExecContext(ctx, `UPDATE instances SET user_id = ? WHERE id = ?`, userID, id)
	if err != nil {
		return classifyError("UpdateInstanceOwner", "instance", fmt.Sprint(id), err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return NewStoreError("UpdateInstanceOwner", "instance", fmt.Sprint(id), "not found", ErrNotFound)
	}
	return nil
}

func listInstances(ctx context.Context, e executor, userID int, opts ListOptions) ([]domain.Instance, error) {
	opts = opts.Normalize()
	var rows []instanceRow
	err := e.SelectContext(ctx, &rows, `
		SELECT * FROM instances
		WHERE user_id = ? AND status != 'deleted'
		ORDER BY id LIMIT ? OFFSET ?`,
		userID, opts.Limit, opts.Offset)
	if err != nil {
		return nil, classifyError("ListInstances", "instance", "", err)
	}

	instances := make([]domain.Instance, 0, len(rows))
	for i := range rows {
		instances = append(instances, *rows[i].toDomain())
	}
	return instances, nil
}

func listProvisioningInstances(ctx context.Context, e executor) ([]domain.Instance, error) {
	var rows []instanceRow
	err := e.SelectContext(ctx, &rows,
		`SELECT * FROM instances WHERE status = 'starting' AND ip_address = '' ORDER BY id`)
	if err != nil {
		return nil, classifyError("ListProvisioningInstances", "instance", "", err)
	}

	instances := make([]domain.Instance, 0, len(rows))
	for i := range rows {
		instances = append(instances, *rows[i].toDomain())
	}
	return instances, nil
}

func (s *SQLiteStore) CreateInstance(ctx context.Context, inst *domain.Instance) error {
	return createInstance(ctx, s.db, inst)
}

func (s *SQLiteStore) GetInstance(ctx context.Context, id int) (*domain.Instance, error) {
	return getInstance(ctx, s.db, id)
}

func (s *SQLiteStore) UpdateInstanceStatus(ctx context.Context, id int, status domain.ResourceStatus, modifiedAt time.Time) error {
	return updateInstanceStatus(ctx, s.db, id, status, modifiedAt)
}

func (s *SQLiteStore) UpdateInstanceIP(ctx context.Context, id int, ip string) error {
	return updateInstanceIP(ctx, s.db, id, ip)
}

func (s *SQLiteStore) UpdateInstanceType(ctx context.Context, id int, instanceType string) error {
	return updateInstanceType(ctx, s.db, id, instanceType)
}

func (s *SQLiteStore) UpdateInstanceOwner(ctx context.Context, id int, userID int) error {
	return updateInstanceOwner(ctx, s.db, id, userID)
}

func (s *SQLiteStore) ListInstances(ctx context.Context, userID int, opts ListOptions) ([]domain.Instance, error) {
	return listInstances(ctx, s.db, userID, opts)
}

func (s *SQLiteStore) ListProvisioningInstances(ctx context.Context) ([]domain.Instance, error) {
	return listProvisioningInstances(ctx, s.db)
}

// =============================================================================
// Bucket Operations
// =============================================================================

type bucketRow struct {
	ID               int    `db:"id"`
	Hash             string `db:"hash"`
	Name             string `db:"name"`
	Provider         string `db:"provider"`
	Region           string `db:"region"`
	Type             string `db:"type"`
	Status           string `db:"status"`
	Endpoint         string `db:"endpoint"`
	AccessKey        string `db:"access_key"`
	SecretKey        string `db:"secret_key"`
	UserID           int    `db:"user_id"`
	CreatedAt        string `db:"created_at"`
	ModificationDate string `db:"modification_date"`
}

func (r *bucketRow) toDomain() *domain.Bucket {
	return &domain.Bucket{
		ID:               r.ID,
		Hash:             r.Hash,
		Name:             r.Name,
		Provider:         domain.Provider(r.Provider),
		Region:           r.Region,
		Type:             r.Type,
		Status:           domain.ResourceStatus(r.Status),
		Endpoint:         r.Endpoint,
		AccessKey:        r.AccessKey,
		SecretKey:        r.SecretKey,
		UserID:           r.UserID,
		CreatedAt:        parseTime(r.CreatedAt),
		ModificationDate: parseTime(r.ModificationDate),
	}
}

func createBucket(ctx context.Context, e executor, bucket *domain.Bucket) error {
	res, err := e.ExecContext(ctx, `
		INSERT INTO buckets (
			hash, name, provider, region, type, status, endpoint,
			access_key, secret_key, user_id, created_at, modification_date
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		bucket.Hash, bucket.Name, string(bucket.Provider), bucket.Region,
		bucket.Type, string(bucket.Status), bucket.Endpoint,
		bucket.AccessKey, bucket.SecretKey, bucket.UserID,
		formatTime(bucket.CreatedAt), formatTime(bucket.ModificationDate))
	if err != nil {
		return classifyError("CreateBucket", "bucket", bucket.CompositeName(), err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return NewStoreError("CreateBucket", "bucket", bucket.CompositeName(), "failed to read inserted id", err)
	}
	bucket.ID = int(id)
	return nil
}

func getBucket(ctx context.Context, e executor, id int) (*domain.Bucket, error) {
	var row bucketRow
	err := e.GetContext(ctx, &row, `SELECT * FROM buckets WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NewStoreError("GetBucket", "bucket", fmt.Sprint(id), "not found", ErrNotFound)
	}
	if err != nil {
		return nil, classifyError("GetBucket", "bucket", fmt.Sprint(id), err)
	}
	return row.toDomain(), nil
}

func updateBucketStatus(ctx context.Context, e executor, id int, status domain.ResourceStatus, modifiedAt time.Time) error {
	res, err := e.ExecContext(ctx,
		`UPDATE buckets SET status = ?, modification_date = ? WHERE id = ?`,
		string(status), formatTime(modifiedAt), id)
	if err != nil {
		return classifyError("UpdateBucketStatus", "bucket", fmt.Sprint(id), err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return NewStoreError("UpdateBucketStatus", "bucket", fmt.Sprint(id), "not found", ErrNotFound)
	}
	return nil
}

func updateBucketCredentials(ctx context.Context, e executor, id int, endpoint, accessKey, secretKey string) error {
	res, err := e.ExecContext(ctx,
		`UPDATE buckets SET endpoint = ?, access_key = ?, secret_key = ? WHERE id = ?`,
		endpoint, accessKey, secretKey, id)
	if err != nil {
		return classifyError("UpdateBucketCredentials", "bucket", fmt.Sprint(id), err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return NewStoreError("UpdateBucketCredentials", "bucket", fmt.Sprint(id), "not found", ErrNotFound)
	}
	return nil
}

func updateBucketType(ctx context.Context, e executor, id int, bucketType string) error {
	res, err := e.ExecContext(ctx, `UPDATE buckets SET type = ? WHERE id = ?`, bucketType, id)
	if err != nil {
		return classifyError("UpdateBucketType", "bucket", fmt.Sprint(id), err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return NewStoreError("UpdateBucketType", "bucket", fmt.Sprint(id), "not found", ErrNotFound)
	}
	return nil
}

func updateBucketOwner(ctx context.Context, e executor, id int, userID int) error {
	res, err := e.ExecContext(ctx, `UPDATE buckets SET user_id = ? WHERE id = ?`, userID, id)
	if err != nil {
		return classifyError("UpdateBucketOwner", "bucket", fmt.Sprint(id), err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return NewStoreError("UpdateBucketOwner", "bucket", fmt.Sprint(id), "not found", ErrNotFound)
	}
	return nil
}

func listBuckets(ctx context.Context, e executor, userID int, opts ListOptions) ([]domain.Bucket, error) {
	opts = opts.Normalize()
	var rows []bucketRow
	err := e.SelectContext(ctx, &rows, `
		SELECT * FROM buckets
		WHERE user_id = ? AND status != 'deleted'
		ORDER BY id LIMIT ? OFFSET ?`,
		userID, opts.Limit, opts.Offset)
	if err != nil {
		return nil, classifyError("ListBuckets", "bucket", "", err)
	}

	buckets := make([]domain.Bucket, 0, len(rows))
	for i := range rows {
		buckets = append(buckets, *rows[i].toDomain())
	}
	return buckets, nil
}

func listProvisioningBuckets(ctx context.Context, e executor) ([]domain.Bucket, error) {
	var rows []bucketRow
	err := e.SelectContext(ctx, &rows, `SELECT * FROM buckets WHERE status = 'starting' ORDER BY id`)
	if err != nil {
		return nil, classifyError("ListProvisioningBuckets", "bucket", "", err)
	}

	buckets := make([]domain.Bucket, 0, len(rows))
	for i := range rows {
		buckets = append(buckets, *rows[i].toDomain())
	}
	return buckets, nil
}

func (s *SQLiteStore) CreateBucket(ctx context.Context, bucket *domain.Bucket) error {
	return createBucket(ctx, s.db, bucket)
}

func (s *SQLiteStore) GetBucket(ctx context.Context, id int) (*domain.Bucket, error) {
	return getBucket(ctx, s.db, id)
}

func (s *SQLiteStore) UpdateBucketStatus(ctx context.Context, id int, status domain.ResourceStatus, modifiedAt time.Time) error {
	return updateBucketStatus(ctx, s.db, id, status, modifiedAt)
}

func (s *SQLiteStore) UpdateBucketCredentials(ctx context.Context, id int, endpoint, accessKey, secretKey string) error {
	return updateBucketCredentials(ctx, s.db, id, endpoint, accessKey, secretKey)
}

func (s *SQLiteStore) UpdateBucketType(ctx context.Context, id int, bucketType string) error {
	return updateBucketType(ctx, s.db, id, bucketType)
}

func (s *SQLiteStore) UpdateBucketOwner(ctx context.Context, id int, userID int) error {
	return updateBucketOwner(ctx, s.db, id, userID)
}

func (s *SQLiteStore) ListBuckets(ctx context.Context, userID int, opts ListOptions) ([]domain.Bucket, error) {
	return listBuckets(ctx, s.db, userID, opts)
}

func (s *SQLiteStore) ListProvisioningBuckets(ctx context.Context) ([]domain.Bucket, error) {
	return listProvisioningBuckets(ctx, s.db)
}

// =============================================================================
// Registry Operations
// =============================================================================

type registryRow struct {
	ID               int    `db:"id"`
	Hash             string `db:"hash"`
	Name             string `db:"name"`
	Provider         string `db:"provider"`
	Region           string `db:"region"`
	Type             string `db:"type"`
	Status           string `db:"status"`
	Endpoint         string `db:"endpoint"`
	AccessKey        string `db:"access_key"`
	SecretKey        string `db:"secret_key"`
	UserID           int    `db:"user_id"`
	CreatedAt        string `db:"created_at"`
	ModificationDate string `db:"modification_date"`
}

func (r *registryRow) toDomain() *domain.Registry {
	return &domain.Registry{
		ID:               r.ID,
		Hash:             r.Hash,
		Name:             r.Name,
		Provider:         domain.Provider(r.Provider),
		Region:           r.Region,
		Type:             r.Type,
		Status:           domain.ResourceStatus(r.Status),
		Endpoint:         r.Endpoint,
		AccessKey:        r.AccessKey,
		SecretKey:        r.SecretKey,
		UserID:           r.UserID,
		CreatedAt:        parseTime(r.CreatedAt),
		ModificationDate: parseTime(r.ModificationDate),
	}
}

func createRegistry(ctx context.Context, e executor, registry *domain.Registry) error {
	res, err := e.ExecContext(ctx, `
		INSERT INTO registries (
			hash, name, provider, region, type, status, endpoint,
			access_key, secret_key, user_id, created_at, modification_date
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		registry.Hash, registry.Name, string(registry.Provider), registry.Region,
		registry.Type, string(registry.Status), registry.Endpoint,
		registry.AccessKey, registry.SecretKey, registry.UserID,
		formatTime(registry.CreatedAt), formatTime(registry.ModificationDate))
	if err != nil {
		return classifyError("CreateRegistry", "registry", registry.CompositeName(), err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return NewStoreError("CreateRegistry", "registry", registry.CompositeName(), "failed to read inserted id", err)
	}
	registry.ID = int(id)
	return nil
}

func getRegistry(ctx context.Context, e executor, id int) (*domain.Registry, error) {
	var row registryRow
	err := e.GetContext(ctx, &row, `SELECT * FROM registries WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NewStoreError("GetRegistry", "registry", fmt.Sprint(id), "not found", ErrNotFound)
	}
	if err != nil {
		return nil, classifyError("GetRegistry", "registry", fmt.Sprint(id), err)
	}
	return row.toDomain(), nil
}

func updateRegistryStatus(ctx context.Context, e executor, id int, status domain.ResourceStatus, modifiedAt time.Time) error {
	res, err := e.ExecContext(ctx,
		`UPDATE registries SET status = ?, modification_date = ? WHERE id = ?`,
		string(status), formatTime(modifiedAt), id)
	if err != nil {
		return classifyError("UpdateRegistryStatus", "registry", fmt.Sprint(id), err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return NewStoreError("UpdateRegistryStatus", "registry", fmt.Sprint(id), "not found", ErrNotFound)
	}
	return nil
}

func updateRegistryCredentials(ctx context.Context, e executor, id int, endpoint, accessKey, secretKey string) error {
	res, err := e.ExecContext(ctx,
		`UPDATE registries SET endpoint = ?, access_key = ?, secret_key = ? WHERE id = ?`,
		endpoint, accessKey, secretKey, id)
	if err != nil {
		return classifyError("UpdateRegistryCredentials", "registry", fmt.Sprint(id), err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return NewStoreError("UpdateRegistryCredentials", "registry", fmt.Sprint(id), "not found", ErrNotFound)
	}
	return nil
}

func updateRegistryType(ctx context.Context, e executor, id int, registryType string) error {
	res, err := e.ExecContext(ctx, `UPDATE registries SET type = ? WHERE id = ?`, registryType, id)
	if err != nil {
		return classifyError("UpdateRegistryType", "registry", fmt.Sprint(id), err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return NewStoreError("UpdateRegistryType", "registry", fmt.Sprint(id), "not found", ErrNotFound)
	}
	return nil
}

func updateRegistryOwner(ctx context.Context, e executor, id int, userID int) error {
	res, err := e.ExecContext(ctx, `UPDATE registries SET user_id = ? WHERE id = ?`, userID, id)
	if err != nil {
		return classifyError("UpdateRegistryOwner", "registry", fmt.Sprint(id), err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return NewStoreError("UpdateRegistryOwner", "registry", fmt.Sprint(id), "not found", ErrNotFound)
	}
	return nil
}

func listRegistries(ctx context.Context, e executor, userID int, opts ListOptions) ([]domain.Registry, error) {
	opts = opts.Normalize()
	var rows []registryRow
	err := e.SelectContext(ctx, &rows, `
		SELECT * FROM registries
		WHERE user_id = ? AND status != 'deleted'
		ORDER BY id LIMIT ? OFFSET ?`,
		userID, opts.Limit, opts.Offset)
	if err != nil {
		return nil, classifyError("ListRegistries", "registry", "", err)
	}

	registries := make([]domain.Registry, 0, len(rows))
	for i := range rows {
		registries = append(registries, *rows[i].toDomain())
	}
	return registries, nil
}

func listProvisioningRegistries(ctx context.Context, e executor) ([]domain.Registry, error) {
	var rows []registryRow
	err := e.SelectContext(ctx, &rows, `SELECT * FROM registries WHERE status = 'starting' ORDER BY id`)
	if err != nil {
		return nil, classifyError("ListProvisioningRegistries", "registry", "", err)
	}

	registries := make([]domain.Registry, 0, len(rows))
	for i := range rows {
		registries = append(registries, *rows[i].toDomain())
	}
	return registries, nil
}

func (s *SQLiteStore) CreateRegistry(ctx context.Context, registry *domain.Registry) error {
	return createRegistry(ctx, s.db, registry)
}

func (s *SQLiteStore) GetRegistry(ctx context.Context, id int) (*domain.Registry, error) {
	return getRegistry(ctx, s.db, id)
}

func (s *SQLiteStore) UpdateRegistryStatus(ctx context.Context, id int, status domain.ResourceStatus, modifiedAt time.Time) error {
	return updateRegistryStatus(ctx, s.db, id, status, modifiedAt)
}

func (s *SQLiteStore) UpdateRegistryCredentials(ctx context.Context, id int, endpoint, accessKey, secretKey string) error {
	return updateRegistryCredentials(ctx, s.db, id, endpoint, accessKey, secretKey)
}

func (s *SQLiteStore) UpdateRegistryType(ctx context.Context, id int, registryType string) error {
	return updateRegistryType(ctx, s.db, id, registryType)
}

func (s *SQLiteStore) UpdateRegistryOwner(ctx context.Context, id int, userID int) error {
	return updateRegistryOwner(ctx, s.db, id, userID)
}

func (s *SQLiteStore) ListRegistries(ctx context.Context, userID int, opts ListOptions) ([]domain.Registry, error) {
	return listRegistries(ctx, s.db, userID, opts)
}

func (s *SQLiteStore) ListProvisioningRegistries(ctx context.Context) ([]domain.Registry, error) {
	return listProvisioningRegistries(ctx, s.db)
}

// =============================================================================
// Consumption Operations
// =============================================================================

type consumptionRow struct {
	ID           string  `db:"id"`
	UserID       int     `db:"user_id"`
	ResourceType string  `db:"resource_type"`
	ResourceID   int     `db:"resource_id"`
	Provider     string  `db:"provider"`
	InstanceType string  `db:"instance_type"`
	FromDate     string  `db:"from_date"`
	ToDate       string  `db:"to_date"`
	PriceHourly  float64 `db:"price_hourly"`
	Amount       float64 `db:"amount"`
	ReportedAt   *string `db:"reported_at"`
	CreatedAt    string  `db:"created_at"`
}

func (r *consumptionRow) toDomain() *domain.Consumption {
	c := &domain.Consumption{
		ID:           r.ID,
		UserID:       r.UserID,
		ResourceType: r.ResourceType,
		ResourceID:   r.ResourceID,
		Provider:     domain.Provider(r.Provider),
		InstanceType: r.InstanceType,
		FromDate:     parseTime(r.FromDate),
		ToDate:       parseTime(r.ToDate),
		PriceHourly:  r.PriceHourly,
		Amount:       r.Amount,
		CreatedAt:    parseTime(r.CreatedAt),
	}
	if r.ReportedAt != nil {
		t := parseTime(*r.ReportedAt)
		c.ReportedAt = &t
	}
	return c
}

func createConsumption(ctx context.Context, e executor, c *domain.Consumption) error {
	_, err := e.ExecContext(ctx, `
		INSERT INTO consumptions (
			id, user_id, resource_type, resource_id, provider, instance_type,
			from_date, to_date, price_hourly, amount, reported_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, ?)`,
		c.ID, c.UserID, c.ResourceType, c.ResourceID, string(c.Provider),
		c.InstanceType, formatTime(c.FromDate), formatTime(c.ToDate),
		c.PriceHourly, c.Amount, formatTime(c.CreatedAt))
	if err != nil {
		return classifyError("CreateConsumption", "consumption", c.ID, err)
	}
	return nil
}

func listConsumptions(ctx context.Context, e executor, userID int, opts ListOptions) ([]domain.Consumption, error) {
	opts = opts.Normalize()
	var rows []consumptionRow
	err := e.SelectContext(ctx, &rows, `
		SELECT * FROM consumptions WHERE user_id = ?
		ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		userID, opts.Limit, opts.Offset)
	if err != nil {
		return nil, classifyError("ListConsumptions", "consumption", "", err)
	}

	consumptions := make([]domain.Consumption, 0, len(rows))
	for i := range rows {
		consumptions = append(consumptions, *rows[i].toDomain())
	}
	return consumptions, nil
}

func getUnreportedConsumptions(ctx context.Context, e executor, limit int) ([]domain.Consumption, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []consumptionRow
	err := e.SelectContext(ctx, &rows, `
		SELECT * FROM consumptions WHERE reported_at IS NULL
		ORDER BY created_at LIMIT ?`, limit)
	if err != nil {
		return nil, classifyError("GetUnreportedConsumptions", "consumption", "", err)
	}

	consumptions := make([]domain.Consumption, 0, len(rows))
	for i := range rows {
		consumptions = append(consumptions, *rows[i].toDomain())
	}
	return consumptions, nil
}

func markConsumptionsReported(ctx context.Context, e executor, ids []string, reportedAt time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	query, args, err := sqlx.In(`UPDATE consumptions SET reported_at = ? WHERE id IN (?)`,
		formatTime(reportedAt), ids)
	if err != nil {
		return NewStoreError("MarkConsumptionsReported", "consumption", "", "failed to build query", err)
	}
	if _, err := e.ExecContext(ctx, query, args...); err != nil {
		return classifyError("MarkConsumptionsReported", "consumption", "", err)
	}
	return nil
}

func (s *SQLiteStore) CreateConsumption(ctx context.Context, c *domain.Consumption) error {
	return createConsumption(ctx, s.db, c)
}

func (s *SQLiteStore) ListConsumptions(ctx context.Context, userID int, opts ListOptions) ([]domain.Consumption, error) {
	return listConsumptions(ctx, s.db, userID, opts)
}

func (s *SQLiteStore) GetUnreportedConsumptions(ctx context.Context, limit int) ([]domain.Consumption, error) {
	return getUnreportedConsumptions(ctx, s.db, limit)
}

func (s *SQLiteStore) MarkConsumptionsReported(ctx context.Context, ids []string, reportedAt time.Time) error {
	return markConsumptionsReported(ctx, s.db, ids, reportedAt)
}

// =============================================================================
// Teardown Operations
// =============================================================================

type teardownRow struct {
	ID            int    `db:"id"`
	ResourceType  string `db:"resource_type"`
	ResourceID    int    `db:"resource_id"`
	CompositeName string `db:"composite_name"`
	Provider      string `db:"provider"`
	Region        string `db:"region"`
	Zone          string `db:"zone"`
	OwnerEmail    string `db:"owner_email"`
	Attempts      int    `db:"attempts"`
	CreatedAt     string `db:"created_at"`
}

func (r *teardownRow) toDomain() *domain.Teardown {
	return &domain.Teardown{
		ID:            r.ID,
		ResourceType:  r.ResourceType,
		ResourceID:    r.ResourceID,
		CompositeName: r.CompositeName,
		Provider:      domain.Provider(r.Provider),
		Region:        r.Region,
		Zone:          r.Zone,
		OwnerEmail:    r.OwnerEmail,
		Attempts:      r.Attempts,
		CreatedAt:     parseTime(r.CreatedAt),
	}
}

func createTeardown(ctx context.Context, e executor, td *domain.Teardown) error {
	res, err := e.ExecContext(ctx, `
		INSERT INTO teardowns (
			resource_type, resource_id, composite_name, provider,
			region, zone, owner_email, attempts, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		td.ResourceType, td.ResourceID, td.CompositeName, string(td.Provider),
		td.Region, td.Zone, td.OwnerEmail, td.Attempts, formatTime(td.CreatedAt))
	if err != nil {
		return classifyError("CreateTeardown", "teardown", td.CompositeName, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return NewStoreError("CreateTeardown", "teardown", td.CompositeName, "failed to read inserted id", err)
	}
	td.ID = int(id)
	return nil
}

func listPendingTeardowns(ctx context.Context, e executor, limit int) ([]domain.Teardown, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []teardownRow
	err := e.SelectContext(ctx, &rows, `SELECT * FROM teardowns ORDER BY id LIMIT ?`, limit)
	if err != nil {
		return nil, classifyError("ListPendingTeardowns", "teardown", "", err)
	}

	teardowns := make([]domain.Teardown, 0, len(rows))
	for i := range rows {
		teardowns = append(teardowns, *rows[i].toDomain())
	}
	return teardowns, nil
}

func updateTeardownAttempts(ctx context.Context, e executor, id int, attempts int) error {
	res, err := e.ExecContext(ctx, `UPDATE teardowns SET attempts = ? WHERE id = ?`, attempts, id)
	if err != nil {
		return classifyError("UpdateTeardownAttempts", "teardown", fmt.Sprint(id), err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return NewStoreError("UpdateTeardownAttempts", "teardown", fmt.Sprint(id), "not found", ErrNotFound)
	}
	return nil
}

func deleteTeardown(ctx context.Context, e executor, id int) error {
	if _, err := e.ExecContext(ctx, `DELETE FROM teardowns WHERE id = ?`, id); err != nil {
		return classifyError("DeleteTeardown", "teardown", fmt.Sprint(id), err)
	}
	return nil
}

func (s *SQLiteStore) CreateTeardown(ctx context.Context, td *domain.Teardown) error {
	return createTeardown(ctx, s.db, td)
}

func (s *SQLiteStore) ListPendingTeardowns(ctx context.Context, limit int) ([]domain.Teardown, error) {
	return listPendingTeardowns(ctx, s.db, limit)
}

func (s *SQLiteStore) UpdateTeardownAttempts(ctx context.Context, id int, attempts int) error {
	return updateTeardownAttempts(ctx, s.db, id, attempts)
}

func (s *SQLiteStore) DeleteTeardown(ctx context.Context, id int) error {
	return deleteTeardown(ctx, s.db, id)
}

// =============================================================================
// Stack Operations
// =============================================================================

type stackRow struct {
	Name      string `db:"name"`
	Provider  string `db:"provider"`
	Data      string `db:"data"`
	CreatedAt string `db:"created_at"`
	UpdatedAt string `db:"updated_at"`
}

type stackPayload struct {
	Resources []stack.Resource  `json:"resources"`
	Outputs   map[string]string `json:"outputs"`
}

func getStack(ctx context.Context, e executor, name string) (*stack.Stack, error) {
	var row stackRow
	err := e.GetContext(ctx, &row, `SELECT * FROM stacks WHERE name = ?`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classifyError("GetStack", "stack", name, err)
	}

	var payload stackPayload
	if err := json.Unmarshal([]byte(row.Data), &payload); err != nil {
		return nil, NewStoreError("GetStack", "stack", name, "malformed stack payload", ErrInvalidData)
	}

	return &stack.Stack{
		Name:      row.Name,
		Provider:  row.Provider,
		Resources: payload.Resources,
		Outputs:   payload.Outputs,
		CreatedAt: parseTime(row.CreatedAt),
		UpdatedAt: parseTime(row.UpdatedAt),
	}, nil
}

func saveStack(ctx context.Context, e executor, st *stack.Stack) error {
	raw, err := json.Marshal(stackPayload{
		Resources: st.Resources,
		Outputs:   st.Outputs,
	})
	if err != nil {
		return NewStoreError("SaveStack", "stack", st.Name, "failed to encode stack payload", ErrInvalidData)
	}

	_, err = e.ExecContext(ctx, `
		INSERT INTO stacks (name, provider, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			provider = excluded.provider,
			data = excluded.data,
			updated_at = excluded.updated_at`,
		st.Name, st.Provider, string(raw),
		formatTime(st.CreatedAt), formatTime(st.UpdatedAt))
	if err != nil {
		return classifyError("SaveStack", "stack", st.Name, err)
	}
	return nil
}

func deleteStack(ctx context.Context, e executor, name string) error {
	if _, err := e.ExecContext(ctx, `DELETE FROM stacks WHERE name = ?`, name); err != nil {
		return classifyError("DeleteStack", "stack", name, err)
	}
	return nil
}

func (s *SQLiteStore) GetStack(ctx context.Context, name string) (*stack.Stack, error) {
	return getStack(ctx, s.db, name)
}

func (s *SQLiteStore) SaveStack(ctx context.Context, st *stack.Stack) error {
	return saveStack(ctx, s.db, st)
}

func (s *SQLiteStore) DeleteStack(ctx context.Context, name string) error {
	return deleteStack(ctx, s.db, name)
}

// =============================================================================
// Transaction Support
// =============================================================================

func (s *SQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return NewStoreError("WithTx", "", "", "failed to begin transaction", ErrTxFailed)
	}

	txS := &txSQLiteStore{tx: tx}

	if err := fn(txS); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return NewStoreError("WithTx", "", "", fmt.Sprintf("rollback failed after error: %v", err), ErrTxFailed)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return NewStoreError("WithTx", "", "", "failed to commit transaction", ErrTxFailed)
	}

	return nil
}

// =============================================================================
// Transaction Store
// =============================================================================

// txSQLiteStore implements Store within a transaction.
type txSQLiteStore struct {
	tx *sqlx.Tx
}

func (s *txSQLiteStore) ResolveUser(ctx context.Context, email, name string) (int, error) {
	return resolveUser(ctx, s.tx, email, name)
}

func (s *txSQLiteStore) GetUserEmail(ctx context.Context, userID int) (string, error) {
	return getUserEmail(ctx, s.tx, userID)
}

func (s *txSQLiteStore) CreateEnvironment(ctx context.Context, env *domain.Environment) error {
	return createEnvironment(ctx, s.tx, env)
}

func (s *txSQLiteStore) GetEnvironment(ctx context.Context, id int) (*domain.Environment, error) {
	return getEnvironment(ctx, s.tx, id)
}

func (s *txSQLiteStore) ListEnvironments(ctx context.Context, opts ListOptions) ([]domain.Environment, error) {
	return listEnvironments(ctx, s.tx, opts)
}

func (s *txSQLiteStore) DeleteEnvironment(ctx context.Context, id int) error {
	return deleteEnvironment(ctx, s.tx, id)
}

func (s *txSQLiteStore) CreateInstance(ctx context.Context, inst *domain.Instance) error {
	return createInstance(ctx, s.tx, inst)
}

func (s *txSQLiteStore) GetInstance(ctx context.Context, id int) (*domain.Instance, error) {
	return getInstance(ctx, s.tx, id)
}

func (s *txSQLiteStore) UpdateInstanceStatus(ctx context.Context, id int, status domain.ResourceStatus, modifiedAt time.Time) error {
	return updateInstanceStatus(ctx, s.tx, id, status, modifiedAt)
}

func (s *txSQLiteStore) UpdateInstanceIP(ctx context.Context, id int, ip string) error {
	return updateInstanceIP(ctx, s.tx, id, ip)
}

func (s *txSQLiteStore) UpdateInstanceType(ctx context.Context, id int, instanceType string) error {
	return updateInstanceType(ctx, s.tx, id, instanceType)
}

func (s *txSQLiteStore) UpdateInstanceOwner(ctx context.Context, id int, userID int) error {
	return updateInstanceOwner(ctx, s.tx, id, userID)
}

func (s *txSQLiteStore) ListInstances(ctx context.Context, userID int, opts ListOptions) ([]domain.Instance, error) {
	return listInstances(ctx, s.tx, userID, opts)
}

func (s *txSQLiteStore) ListProvisioningInstances(ctx context.Context) ([]domain.Instance, error) {
	return listProvisioningInstances(ctx, s.tx)
}

func (s *txSQLiteStore) CreateBucket(ctx context.Context, bucket *domain.Bucket) error {
	return createBucket(ctx, s.tx, bucket)
}

func (s *txSQLiteStore) GetBucket(ctx context.Context, id int) (*domain.Bucket, error) {
	return getBucket(ctx, s.tx, id)
}

func (s *txSQLiteStore) UpdateBucketStatus(ctx context.Context, id int, status domain.ResourceStatus, modifiedAt time.Time) error {
	return updateBucketStatus(ctx, s.tx, id, status, modifiedAt)
}

func (s *txSQLiteStore) UpdateBucketCredentials(ctx context.Context, id int, endpoint, accessKey, secretKey string) error {
	return updateBucketCredentials(ctx, s.tx, id, endpoint, accessKey, secretKey)
}

func (s *txSQLiteStore) UpdateBucketType(ctx context.Context, id int, bucketType string) error {
	return updateBucketType(ctx, s.tx, id, bucketType)
}

func (s *txSQLiteStore) UpdateBucketOwner(ctx context.Context, id int, userID int) error {
	return updateBucketOwner(ctx, s.tx, id, userID)
}

func (s *txSQLiteStore) ListBuckets(ctx context.Context, userID int, opts ListOptions) ([]domain.Bucket, error) {
	return listBuckets(ctx, s.tx, userID, opts)
}

func (s *txSQLiteStore) ListProvisioningBuckets(ctx context.Context) ([]domain.Bucket, error) {
	return listProvisioningBuckets(ctx, s.tx)
}

func (s *txSQLiteStore) CreateRegistry(ctx context.Context, registry *domain.Registry) error {
	return createRegistry(ctx, s.tx, registry)
}

func (s *txSQLiteStore) GetRegistry(ctx context.Context, id int) (*domain.Registry, error) {
	return getRegistry(ctx, s.tx, id)
}

func (s *txSQLiteStore) UpdateRegistryStatus(ctx context.Context, id int, status domain.ResourceStatus, modifiedAt time.Time) error {
	return updateRegistryStatus(ctx, s.tx, id, status, modifiedAt)
}

func (s *txSQLiteStore) UpdateRegistryCredentials(ctx context.Context, id int, endpoint, accessKey, secretKey string) error {
	return updateRegistryCredentials(ctx, s.tx, id, endpoint, accessKey, secretKey)
}

func (s *txSQLiteStore) UpdateRegistryType(ctx context.Context, id int, registryType string) error {
	return updateRegistryType(ctx, s.tx, id, registryType)
}

func (s *txSQLiteStore) UpdateRegistryOwner(ctx context.Context, id int, userID int) error {
	return updateRegistryOwner(ctx, s.tx, id, userID)
}

func (s *txSQLiteStore) ListRegistries(ctx context.Context, userID int, opts ListOptions) ([]domain.Registry, error) {
	return listRegistries(ctx, s.tx, userID, opts)
}

func (s *txSQLiteStore) ListProvisioningRegistries(ctx context.Context) ([]domain.Registry, error) {
	return listProvisioningRegistries(ctx, s.tx)
}

func (s *txSQLiteStore) CreateConsumption(ctx context.Context, c *domain.Consumption) error {
	return createConsumption(ctx, s.tx, c)
}

func (s *txSQLiteStore) ListConsumptions(ctx context.Context, userID int, opts ListOptions) ([]domain.Consumption, error) {
	return listConsumptions(ctx, s.tx, userID, opts)
}

func (s *txSQLiteStore) GetUnreportedConsumptions(ctx context.Context, limit int) ([]domain.Consumption, error) {
	return getUnreportedConsumptions(ctx, s.tx, limit)
}

func (s *txSQLiteStore) MarkConsumptionsReported(ctx context.Context, ids []string, reportedAt time.Time) error {
	return markConsumptionsReported(ctx, s.tx, ids, reportedAt)
}

func (s *txSQLiteStore) CreateTeardown(ctx context.Context, td *domain.Teardown) error {
	return createTeardown(ctx, s.tx, td)
}

func (s *txSQLiteStore) ListPendingTeardowns(ctx context.Context, limit int) ([]domain.Teardown, error) {
	return listPendingTeardowns(ctx, s.tx, limit)
}

func (s *txSQLiteStore) UpdateTeardownAttempts(ctx context.Context, id int, attempts int) error {
	return updateTeardownAttempts(ctx, s.tx, id, attempts)
}

func (s *txSQLiteStore) DeleteTeardown(ctx context.Context, id int) error {
	return deleteTeardown(ctx, s.tx, id)
}

func (s *txSQLiteStore) GetStack(ctx context.Context, name string) (*stack.Stack, error) {
	return getStack(ctx, s.tx, name)
}

func (s *txSQLiteStore) SaveStack(ctx context.Context, st *stack.Stack) error {
	return saveStack(ctx, s.tx, st)
}

func (s *txSQLiteStore) DeleteStack(ctx context.Context, name string) error {
	return deleteStack(ctx, s.tx, name)
}

func (s *txSQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	// Already in a transaction, just run the function
	return fn(s)
}

func (s *txSQLiteStore) Close() error {
	// No-op for tx store
	return nil
}
