package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"wallet-ledger/internal/config"

	"github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog"
)

func InitDB(cfg config.StoreConfig, logger zerolog.Logger) (*sql.DB, error) {
	dsn, err := mysql.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_URL: %w", err)
	}
	dsn.ParseTime = true
	dsn.Loc = time.UTC

	connector, err := mysql.NewConnector(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connector: %w", err)
	}

	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("database is not responding: %w", err)
	}

	logger.Info().Str("addr", dsn.Addr).Str("db", dsn.DBName).Msg("Connected to database")
	return db, nil
}

func RunMigrations(db *sql.DB, logger zerolog.Logger) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			username VARCHAR(50) NOT NULL,
			email VARCHAR(100) NOT NULL,
			phone_number VARCHAR(20),
			balance DECIMAL(20,2) NOT NULL DEFAULT 0.00,
			created_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
			updated_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
			UNIQUE KEY uq_users_username (username),
			UNIQUE KEY uq_users_email (email),
			CONSTRAINT chk_users_balance CHECK (balance >= 0)
		) ENGINE=InnoDB;`,
		`CREATE TABLE IF NOT EXISTS transactions (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			user_id BIGINT NOT NULL,
			transaction_type VARCHAR(20) NOT NULL,
			amount DECIMAL(20,2) NOT NULL,
			description VARCHAR(255),
			recipient_user_id BIGINT,
			reference_transaction_id BIGINT,
			created_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
			INDEX idx_transactions_user_created (user_id, created_at, id),
			CONSTRAINT fk_transactions_user FOREIGN KEY (user_id) REFERENCES users(id),
			CONSTRAINT fk_transactions_recipient FOREIGN KEY (recipient_user_id) REFERENCES users(id),
			CONSTRAINT fk_transactions_reference FOREIGN KEY (reference_transaction_id) REFERENCES transactions(id),
			CONSTRAINT chk_transactions_type CHECK (transaction_type IN ('CREDIT', 'DEBIT', 'TRANSFER_IN', 'TRANSFER_OUT')),
			CONSTRAINT chk_transactions_amount CHECK (amount > 0),
			CONSTRAINT chk_transactions_recipient CHECK (
				(transaction_type IN ('TRANSFER_IN', 'TRANSFER_OUT')) = (recipient_user_id IS NOT NULL)
			)
		) ENGINE=InnoDB;`,
		`CREATE TABLE IF NOT EXISTS balance_history (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			user_id BIGINT NOT NULL,
			balance DECIMAL(20,2) NOT NULL,
			change_amount DECIMAL(20,2) NOT NULL,
			transaction_id BIGINT,
			created_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
			INDEX idx_balance_history_user_created (user_id, created_at, id),
			FOREIGN KEY (user_id) REFERENCES users(id),
			FOREIGN KEY (transaction_id) REFERENCES transactions(id)
		) ENGINE=InnoDB;`,
	}

	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	logger.Info().Msg("Migrations completed")
	return nil
}
