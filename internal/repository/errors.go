package repository

import (
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

// invalidTextRepresentation is raised by Postgres when a value cannot be cast
// to the column type, such as a malformed uuid.
const invalidTextRepresentation = "22P02"

// isMalformedID reports whether err came from an id that is not a valid uuid.
// No row can match such an id.
func isMalformedID(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == invalidTextRepresentation
}

// isMissing reports whether a single-row lookup found nothing.
func isMissing(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || isMalformedID(err)
}
