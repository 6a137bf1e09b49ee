package dberror

import (
	"fmt"

	"github.com/corralhq/corral-internal/internal/common/apperrors"
	"github.com/corralhq/corral-internal/internal/storagesrv/db/models"
)

// UnicityError reports a write that would duplicate the value of a declared
// unique field. It carries the conflicting record fully materialized so the
// caller can present it. errors.Is matches ErrUnicityViolation; errors.As
// recovers the record.
// appError is an alias so the embedded field below is not named Error,
// which would shadow the promoted Error() method.
type appError = apperrors.Error

type UnicityError struct {
	appError
	Field    string
	Existing *models.Record
}

func NewUnicityError(field string, existing *models.Record) *UnicityError {
	return &UnicityError{
		appError: ErrUnicityViolation.Msg(fmt.Sprintf("field %q is not unique", field)),
		Field:    field,
		Existing: existing,
	}
}
