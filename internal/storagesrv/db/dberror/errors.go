// Package dberror defines the error taxonomy of the storage engine. All
// driver-level faults are folded into ErrDatabase at the transaction
// boundary; domain outcomes (not found, unicity conflicts) are raised by the
// record store after inspecting results.
package dberror

import (
	"net/http"

	"github.com/corralhq/corral-internal/internal/common/apperrors"
)

var (
	ErrDatabase          apperrors.Error = apperrors.New("db error").SetStatusCode(http.StatusServiceUnavailable)
	ErrNotFound          apperrors.Error = ErrDatabase.New("record not found").SetStatusCode(http.StatusNotFound)
	ErrAlreadyExists     apperrors.Error = ErrDatabase.New("already exists").SetStatusCode(http.StatusConflict)
	ErrUnicityViolation  apperrors.Error = ErrDatabase.New("unicity constraint violated").SetStatusCode(http.StatusConflict)
	ErrInvalidInput      apperrors.Error = ErrDatabase.New("invalid input").SetStatusCode(http.StatusBadRequest)
	ErrMissingTenantID   apperrors.Error = ErrInvalidInput.New("missing tenant ID").SetStatusCode(http.StatusBadRequest)
	ErrMigrationConflict apperrors.Error = ErrDatabase.New("concurrent schema migration detected").SetStatusCode(http.StatusInternalServerError)
	ErrSchemaEncoding    apperrors.Error = ErrDatabase.New("unexpected database encoding").SetStatusCode(http.StatusInternalServerError)
)
