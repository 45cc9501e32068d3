package migrations

import (
	"embed"
	"fmt"
	"io/fs"
	"os"

	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed sql/*.sql
var embedded embed.FS

// Files returns the bundled migrations.
func Files() fs.FS {
	sub, err := fs.Sub(embedded, "sql")
	if err != nil {
		panic(err)
	}
	return sub
}

// MigrateStore applies the goose migrations found in migrationFolder, or the
// bundled ones when migrationFolder is empty. Only postgres is supported.
func MigrateStore(db *gorm.DB, migrationFolder string) error {
	if name := db.Dialector.Name(); name != "postgres" {
		return fmt.Errorf("goose migrations are not supported on %s", name)
	}

	goose.SetLogger(&logger{})

	migrations := Files()
	if migrationFolder != "" {
		fi, err := os.Stat(migrationFolder)
		if err != nil {
			return err
		}

		if !fi.Mode().IsDir() {
			return fmt.Errorf("failed to open migration folder: %s is not a folder", migrationFolder)
		}
		migrations = os.DirFS(migrationFolder)
	}

	goose.SetBaseFS(migrations)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return err
	}

	return goose.Up(sqlDB, ".")
}

/*
logger implements goose.Logger interface

	type Logger interface {
		Fatalf(format string, v ...interface{})
		Printf(format string, v ...interface{})
	}
*/
type logger struct{}

func (m *logger) Printf(format string, v ...interface{}) { zap.S().Named("migrations").Infof(format, v...) }
func (m *logger) Fatalf(format string, v ...interface{}) { zap.S().Named("migrations").Fatalf(format, v...) }
