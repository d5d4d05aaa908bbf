package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

type mysqlStorage struct {
	db *sql.DB
}

// NewMySQL opens a MySQL connection pool and verifies it.
func NewMySQL(ctx context.Context, cfg MySQLConfig) (Storage, error) {
	driverCfg, err := parseMySQLDSN(cfg.DSN)
	if err != nil {
		return nil, err
	}

	connector, err := mysql.NewConnector(driverCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create MySQL connector: %w", err)
	}
	db := sql.OpenDB(connector)

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = DefaultMySQLConns
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(max(1, maxOpen/2))
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	return &mysqlStorage{db: db}, nil
}

// parseMySQLDSN parses dsn and pins the session to UTC with DATETIME values
// scanned as time.Time.
func parseMySQLDSN(dsn string) (*mysql.Config, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("MySQL DSN is required")
	}
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse MySQL DSN: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	return cfg, nil
}

func (s *mysqlStorage) Type() string { return TypeMySQL }

func (s *mysqlStorage) SQLiteDB() *sql.DB { return nil }

func (s *mysqlStorage) PostgreSQLPool() *pgxpool.Pool { return nil }

func (s *mysqlStorage) MySQLDB() *sql.DB { return s.db }

func (s *mysqlStorage) MongoDatabase() *mongo.Database { return nil }

func (s *mysqlStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *mysqlStorage) Close() error {
	return s.db.Close()
}
