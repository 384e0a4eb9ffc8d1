package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/joeycumines/go-sitemigrate/config"
	"github.com/joeycumines/go-sitemigrate/migrate"
	"github.com/joeycumines/go-sitemigrate/sql/export/mysql"
	"github.com/joeycumines/go-sitemigrate/sql/export/sqlite"
	_ "github.com/mattn/go-sqlite3"
)

// openDatabase connects using driver and dsn, detecting the server version, and (for MySQL) the escaping mode.
// The caller must close the returned DB.
func openDatabase(ctx context.Context, driver, dsn string) (*migrate.Database, error) {
	if dsn == `` {
		return nil, fmt.Errorf(`no %s configured`, config.KeyDSN)
	}

	var (
		database migrate.Database
		err      error
	)

	switch driver {
	case config.DriverMySQL:
		var cfg *mysqldriver.Config
		if cfg, err = mysqldriver.ParseDSN(dsn); err != nil {
			return nil, err
		}
		// raw bytes are exported as-is, and statements are executed one at a time
		cfg.ParseTime = false
		cfg.MultiStatements = false
		var connector *mysqldriver.Connector
		if connector, err = mysqldriver.NewConnector(cfg); err != nil {
			return nil, err
		}
		database.DB = sql.OpenDB(connector)
		database.Name = cfg.Addr + `/` + cfg.DBName

		var sqlMode string
		if err = database.DB.QueryRowContext(ctx, `SELECT VERSION(), @@SESSION.sql_mode`).Scan(&database.Version, &sqlMode); err == nil {
			database.Dialect = &mysql.Dialect{
				NoBackslashEscapes: strings.Contains(strings.ToUpper(sqlMode), `NO_BACKSLASH_ESCAPES`),
			}
		}

	case config.DriverSQLite:
		if database.DB, err = sql.Open(config.DriverSQLite, dsn); err != nil {
			return nil, err
		}
		database.Name = filepath.Base(dsn)
		database.Dialect = &sqlite.Dialect{}
		err = database.DB.QueryRowContext(ctx, `SELECT sqlite_version()`).Scan(&database.Version)

	default:
		return nil, fmt.Errorf(`unsupported %s: %q`, config.KeyDriver, driver)
	}

	if err != nil {
		return nil, errors.Join(fmt.Errorf(`connect to %s: %w`, database.Name, err), database.DB.Close())
	}

	return &database, nil
}

func (x *command) openDatabase(ctx context.Context) (*migrate.Database, error) {
	return openDatabase(ctx, x.config.Driver, x.config.DSN)
}

func closeDatabase(database *migrate.Database, err *error) {
	if e := database.DB.Close(); *err == nil {
		*err = e
	}
}
