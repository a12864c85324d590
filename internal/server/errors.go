package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jonathan/careercraft/internal/pipeline"
)

// ErrRecordNotFound indicates no record has the requested id
type ErrRecordNotFound struct {
	ID string
}

func (e *ErrRecordNotFound) Error() string {
	return fmt.Sprintf("record not found: %s", e.ID)
}

// ErrRecordBusy indicates the record belongs to the run in flight
type ErrRecordBusy struct {
	ID string
}

func (e *ErrRecordBusy) Error() string {
	return fmt.Sprintf("record %s is still being processed", e.ID)
}

// ErrRunNotFound indicates the journal has no run with the requested id
type ErrRunNotFound struct {
	ID string
}

func (e *ErrRunNotFound) Error() string {
	return fmt.Sprintf("run not found: %s", e.ID)
}

// ErrValidation indicates request validation failure
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// ErrJournalDisabled indicates run history was requested without a database
var ErrJournalDisabled = errors.New("run history requires a database")

// HTTPStatus returns the appropriate HTTP status code for an error
func HTTPStatus(err error) int {
	var (
		validation     *ErrValidation
		fileRejected   *pipeline.ValidationError
		busy           *pipeline.BusyError
		recordBusy     *ErrRecordBusy
		recordNotFound *ErrRecordNotFound
		runNotFound    *ErrRunNotFound
	)

	switch {
	case errors.As(err, &validation), errors.As(err, &fileRejected):
		return http.StatusBadRequest
	case errors.As(err, &busy), errors.As(err, &recordBusy):
		return http.StatusConflict
	case errors.As(err, &recordNotFound), errors.As(err, &runNotFound),
		errors.Is(err, pipeline.ErrRunNotActive):
		return http.StatusNotFound
	case errors.Is(err, ErrJournalDisabled):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}
