package database

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/tidesync/tidesync/pkg/errors"
)

// dialect abstracts the driver-level differences between supported source
// databases: DSN layout, identifier quoting and placeholder style. The
// introspection queries all run against information_schema, which both
// engines provide.
type dialect interface {
	driverName() string
	dsn(cfg Config) string
	quoteIdent(ident string) string
	rebind(query string) string
}

func dialectFor(dbType string) (dialect, error) {
	switch strings.ToLower(dbType) {
	case "postgres", "postgresql":
		return postgresDialect{}, nil
	case "mysql":
		return mysqlDialect{}, nil
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unsupported source database type %q", dbType)
	}
}

type postgresDialect struct{}

func (postgresDialect) driverName() string { return "pgx" }

func (postgresDialect) dsn(cfg Config) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.User, cfg.Password),
		Host:   fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Path:   "/" + cfg.Database,
	}
	return u.String()
}

func (postgresDialect) quoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// rebind rewrites ? placeholders into the $n style pgx expects.
func (postgresDialect) rebind(query string) string {
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type mysqlDialect struct{}

func (mysqlDialect) driverName() string { return "mysql" }

func (mysqlDialect) dsn(cfg Config) string {
	mc := mysql.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	mc.DBName = cfg.Database
	mc.ParseTime = true
	return mc.FormatDSN()
}

func (mysqlDialect) quoteIdent(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
}

func (mysqlDialect) rebind(query string) string { return query }
