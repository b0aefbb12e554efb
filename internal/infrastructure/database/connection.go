package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Пул расчитан на профиль нагрузки бота: минутный свип делает пачку
// конкурентных чтений по алертам, поверх него идет трафик хендлеров.
const (
	maxOpenConns    = 20
	maxIdleConns    = 4
	connMaxLifetime = 10 * time.Minute
	pingTimeout     = 5 * time.Second
)

type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

func (c Config) ConnectString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// DB оборачивает *sql.DB; репозитории джоб, алертов и пользователей
// делят один пул.
type DB struct {
	*sql.DB
}

// NewConnection открывает пул к Postgres и проверяет его пингом,
// чтобы бот падал на старте, а не на первом тике свипера.
func NewConnection(cfg Config) (*DB, error) {
	db, err := sql.Open("postgres", cfg.ConnectString())
	if err != nil {
		return nil, fmt.Errorf("failed to open connection: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{db}, nil
}

func (db *DB) Close() error {
	return db.DB.Close()
}
