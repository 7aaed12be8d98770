package storage

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"ureka/internal/config"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Open connects to the configured database for the given driver.
func Open(dbType string, cfg *config.Config) (*sql.DB, error) {
	dbCfg, ok := cfg.Databases[dbType]
	if !ok {
		return nil, fmt.Errorf("database config for %s not found", dbType)
	}

	var (
		db  *sql.DB
		err error
	)

	switch Normalize(dbType) {
	case "sqlite3":
		if dbCfg.DSN == "" {
			return nil, fmt.Errorf("sqlite dsn must be provided")
		}
		db, err = sql.Open("sqlite3", dbCfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}
		if strings.Contains(dbCfg.DSN, ":memory:") {
			// every pooled connection would otherwise get its own empty database
			db.SetMaxOpenConns(1)
		}
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable sqlite foreign keys: %w", err)
		}
	case "mysql":
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
			dbCfg.Username,
			dbCfg.Password,
			dbCfg.Host,
			dbCfg.Port,
			dbCfg.DBName,
			dbCfg.Params,
		)
		db, err = sql.Open("mysql", dsn)
		if err != nil {
			return nil, fmt.Errorf("open mysql database: %w", err)
		}
	case "postgres":
		dsn := dbCfg.DSN
		if dsn == "" {
			dsn = fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
				dbCfg.Host, dbCfg.Port, dbCfg.Username, dbCfg.Password, dbCfg.DBName)
		}
		db, err = sql.Open("postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres database: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", dbType)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Normalize maps driver aliases onto the registered driver names.
func Normalize(driver string) string {
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		return "sqlite3"
	case "postgres", "postgresql", "pg":
		return "postgres"
	default:
		return strings.ToLower(driver)
	}
}

// Rebind rewrites ? placeholders into $n for postgres.
func Rebind(driver, query string) string {
	if Normalize(driver) != "postgres" {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// Migrate ensures the required tables are present.
func Migrate(db *sql.DB, driver string) error {
	var stmts []string
	switch Normalize(driver) {
	case "sqlite3":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS folders (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				name TEXT NOT NULL,
				created_at DATETIME NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS chats (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				name TEXT NOT NULL,
				folder_id TEXT,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS messages (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				chat_id TEXT NOT NULL,
				type TEXT NOT NULL,
				content TEXT NOT NULL,
				is_error INTEGER NOT NULL DEFAULT 0,
				attachments TEXT,
				analysis_data TEXT,
				created_at DATETIME NOT NULL,
				FOREIGN KEY(chat_id) REFERENCES chats(id) ON DELETE CASCADE
			)`,
			`CREATE TABLE IF NOT EXISTS files (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				name TEXT NOT NULL,
				size INTEGER NOT NULL,
				mime_type TEXT NOT NULL,
				upload_id TEXT NOT NULL,
				extension TEXT NOT NULL,
				status TEXT NOT NULL,
				created_at DATETIME NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS chat_files (
				chat_id TEXT NOT NULL,
				file_id TEXT NOT NULL,
				user_id TEXT NOT NULL,
				name TEXT NOT NULL,
				size INTEGER NOT NULL,
				mime_type TEXT NOT NULL,
				upload_id TEXT NOT NULL,
				extension TEXT NOT NULL,
				attached_at DATETIME NOT NULL,
				PRIMARY KEY (chat_id, file_id),
				FOREIGN KEY(chat_id) REFERENCES chats(id) ON DELETE CASCADE
			)`,
			`CREATE INDEX IF NOT EXISTS idx_chats_user ON chats(user_id, updated_at DESC)`,
			`CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id, created_at)`,
			`CREATE INDEX IF NOT EXISTS idx_files_user ON files(user_id)`,
			`CREATE INDEX IF NOT EXISTS idx_folders_user ON folders(user_id)`,
		}
	case "mysql":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS folders (
				id VARCHAR(64) NOT NULL,
				user_id VARCHAR(128) NOT NULL,
				name VARCHAR(255) NOT NULL,
				created_at DATETIME NOT NULL,
				PRIMARY KEY (id),
				INDEX idx_folders_user (user_id)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS chats (
				id VARCHAR(64) NOT NULL,
				user_id VARCHAR(128) NOT NULL,
				name VARCHAR(255) NOT NULL,
				folder_id VARCHAR(64),
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL,
				PRIMARY KEY (id),
				INDEX idx_chats_user (user_id, updated_at)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS messages (
				id VARCHAR(64) NOT NULL,
				user_id VARCHAR(128) NOT NULL,
				chat_id VARCHAR(64) NOT NULL,
				type VARCHAR(16) NOT NULL,
				content MEDIUMTEXT NOT NULL,
				is_error TINYINT(1) NOT NULL DEFAULT 0,
				attachments MEDIUMTEXT,
				analysis_data MEDIUMTEXT,
				created_at DATETIME(6) NOT NULL,
				PRIMARY KEY (id),
				INDEX idx_messages_chat (chat_id, created_at),
				CONSTRAINT fk_messages_chat FOREIGN KEY (chat_id) REFERENCES chats(id) ON DELETE CASCADE
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS files (
				id VARCHAR(64) NOT NULL,
				user_id VARCHAR(128) NOT NULL,
				name VARCHAR(255) NOT NULL,
				size BIGINT NOT NULL,
				mime_type VARCHAR(255) NOT NULL,
				upload_id VARCHAR(255) NOT NULL,
				extension VARCHAR(32) NOT NULL,
				status VARCHAR(16) NOT NULL,
				created_at DATETIME NOT NULL,
				PRIMARY KEY (id),
				INDEX idx_files_user (user_id)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS chat_files (
				chat_id VARCHAR(64) NOT NULL,
				file_id VARCHAR(64) NOT NULL,
				user_id VARCHAR(128) NOT NULL,
				name VARCHAR(255) NOT NULL,
				size BIGINT NOT NULL,
				mime_type VARCHAR(255) NOT NULL,
				upload_id VARCHAR(255) NOT NULL,
				extension VARCHAR(32) NOT NULL,
				attached_at DATETIME NOT NULL,
				PRIMARY KEY (chat_id, file_id),
				CONSTRAINT fk_chat_files_chat FOREIGN KEY (chat_id) REFERENCES chats(id) ON DELETE CASCADE
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		}
	case "postgres":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS folders (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				name TEXT NOT NULL,
				created_at TIMESTAMPTZ NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS chats (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				name TEXT NOT NULL,
				folder_id TEXT,
				created_at TIMESTAMPTZ NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS messages (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				chat_id TEXT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
				type TEXT NOT NULL,
				content TEXT NOT NULL,
				is_error BOOLEAN NOT NULL DEFAULT FALSE,
				attachments TEXT,
				analysis_data TEXT,
				created_at TIMESTAMPTZ NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS files (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				name TEXT NOT NULL,
				size BIGINT NOT NULL,
				mime_type TEXT NOT NULL,
				upload_id TEXT NOT NULL,
				extension TEXT NOT NULL,
				status TEXT NOT NULL,
				created_at TIMESTAMPTZ NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS chat_files (
				chat_id TEXT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
				file_id TEXT NOT NULL,
				user_id TEXT NOT NULL,
				name TEXT NOT NULL,
				size BIGINT NOT NULL,
				mime_type TEXT NOT NULL,
				upload_id TEXT NOT NULL,
				extension TEXT NOT NULL,
				attached_at TIMESTAMPTZ NOT NULL,
				PRIMARY KEY (chat_id, file_id)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_chats_user ON chats(user_id, updated_at DESC)`,
			`CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id, created_at)`,
			`CREATE INDEX IF NOT EXISTS idx_files_user ON files(user_id)`,
			`CREATE INDEX IF NOT EXISTS idx_folders_user ON folders(user_id)`,
		}
	default:
		return fmt.Errorf("unsupported driver for migration: %s", driver)
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate (%s): %w", driver, err)
		}
	}
	return nil
}
