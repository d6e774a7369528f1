package database

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"
)

//go:embed migrations/*.up.sql
var migrationFiles embed.FS

// MigrationStatus represents an applied migration
type MigrationStatus struct {
	Version   string    `json:"version"`
	AppliedAt time.Time `json:"applied_at"`
}

// Migrate applies the embedded migrations
func Migrate(db *gorm.DB) error {
	sub, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		return err
	}
	return RunMigrations(db, sub)
}

// RunMigrations applies every *.up.sql file in fsys not yet recorded in
// schema_migrations, in file name order
func RunMigrations(db *gorm.DB, fsys fs.FS) error {
	files, err := fs.Glob(fsys, "*.up.sql")
	if err != nil {
		return fmt.Errorf("failed to glob migration files: %w", err)
	}
	sort.Strings(files)

	if err := createMigrationsTable(db); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	for _, file := range files {
		if err := runMigration(db, fsys, file); err != nil {
			return fmt.Errorf("failed to run migration %s: %w", file, err)
		}
	}
	return nil
}

// GetMigrationStatus returns the applied migrations, oldest first
func GetMigrationStatus(db *gorm.DB) ([]MigrationStatus, error) {
	var migrations []MigrationStatus
	err := db.Table("schema_migrations").
		Select("version, applied_at").
		Order("applied_at ASC").
		Find(&migrations).Error
	return migrations, err
}

func createMigrationsTable(db *gorm.DB) error {
	return db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
	id SERIAL PRIMARY KEY,
	version VARCHAR(255) NOT NULL UNIQUE,
	applied_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
)`).Error
}

func runMigration(db *gorm.DB, fsys fs.FS, file string) error {
	version := strings.TrimSuffix(path.Base(file), ".up.sql")

	var count int64
	if err := db.Table("schema_migrations").Where("version = ?", version).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to check migration: %w", err)
	}
	if count > 0 {
		return nil
	}

	content, err := fs.ReadFile(fsys, file)
	if err != nil {
		return fmt.Errorf("failed to read migration file: %w", err)
	}

	for _, statement := range parseSQLStatements(string(content)) {
		statement = strings.TrimSpace(statement)
		if statement == "" {
			continue
		}
		if err := db.Exec(statement).Error; err != nil {
			if strings.Contains(err.Error(), "already exists") {
				continue
			}
			return fmt.Errorf("failed to execute statement: %w", err)
		}
	}

	if err := db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version).Error; err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}
	return nil
}

// parseSQLStatements splits content on statement-terminating semicolons,
// keeping dollar-quoted function bodies intact
func parseSQLStatements(content string) []string {
	var statements []string
	var current strings.Builder
	var inFunction bool
	var dollarQuotes int

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "--") {
			continue
		}

		upper := strings.ToUpper(trimmed)
		if strings.Contains(upper, "CREATE OR REPLACE FUNCTION") || strings.Contains(upper, "CREATE FUNCTION") {
			inFunction = true
			dollarQuotes = 0
		}
		if inFunction {
			dollarQuotes += strings.Count(trimmed, "$$")
		}

		current.WriteString(line)
		current.WriteString("\n")

		switch {
		case !inFunction && strings.HasSuffix(trimmed, ";"):
			statements = append(statements, current.String())
			current.Reset()
		case inFunction && dollarQuotes > 0 && dollarQuotes%2 == 0 && strings.HasSuffix(trimmed, ";"):
			statements = append(statements, current.String())
			current.Reset()
			inFunction = false
		}
	}

	if strings.TrimSpace(current.String()) != "" {
		statements = append(statements, current.String())
	}
	return statements
}
