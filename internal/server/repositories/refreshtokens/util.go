package refreshtokens

import (
	"errors"
	"fmt"
	"io"

	"github.com/dmitrijs2005/authgate/internal/common"
	"github.com/dmitrijs2005/authgate/internal/dbx"
	"github.com/google/uuid"
)

func newID() string { return uuid.NewString() }

type dbError struct{ err error }

func (e *dbError) Error() string { return "db error: " + e.err.Error() }
func (e *dbError) Unwrap() error { return e.err }

// storeErr wraps err, tagging transient failures with ErrStoreUnavailable.
func storeErr(err error) error {
	if dbx.IsTransient(err) || errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %w", common.ErrStoreUnavailable, err)
	}
	return &dbError{err: err}
}

// storeErrOnce wraps err unless a repository method already did.
func storeErrOnce(err error) error {
	var de *dbError
	if errors.Is(err, common.ErrStoreUnavailable) || errors.As(err, &de) {
		return err
	}
	return storeErr(err)
}
