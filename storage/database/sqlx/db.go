package sqlxrepos

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"net"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-grad/core"
	"github.com/trezcool/masomo-grad/core/modality"
)

// NewDB wraps a postgres connection opened by database.Open.
func NewDB(db *sql.DB) *sqlx.DB {
	return sqlx.NewDb(db, "postgres")
}

// unavailable tells whether err means the database cannot be reached right now.
func unavailable(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", "53", "57": // connection exception, insufficient resources, operator intervention
			return true
		}
		return false
	}
	var netErr net.Error
	return errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.As(err, &netErr)
}

func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505" && (constraint == "" || pqErr.Constraint == constraint)
}

// wrapErr wraps connectivity failures in modality.ErrStorageUnavailable.
func wrapErr(err error, msg string) error {
	if err == nil {
		return nil
	}
	if unavailable(err) {
		return errors.Wrapf(modality.ErrStorageUnavailable, "%s: %v", msg, err)
	}
	return errors.Wrap(err, msg)
}

// orderBy builds the ORDER BY clause. Fields are qualified with table when it is set.
func orderBy(orderings []core.DBOrdering, table, fallback string) string {
	if len(orderings) == 0 {
		return " ORDER BY " + fallback
	}
	terms := make([]string, 0, len(orderings))
	for _, ord := range orderings {
		if table != "" {
			ord.Field = table + "." + ord.Field
		}
		terms = append(terms, ord.String())
	}
	return " ORDER BY " + strings.Join(terms, ", ")
}
