package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"

	"github.com/jonathan/careercraft/internal/format"
	"github.com/jonathan/careercraft/internal/ingestion"
)

// DefaultMaxFileSize is the upload size limit (10 MB).
const DefaultMaxFileSize int64 = 10 * 1024 * 1024

// uploadRequest carries the fields checked by struct tags
type uploadRequest struct {
	Name        string `validate:"required,max=255"`
	ContentType string `validate:"required,oneof=application/pdf application/msword application/vnd.openxmlformats-officedocument.wordprocessingml.document"`
	Size        int64  `validate:"gt=0"`
}

// Validator rejects files before a run is created.
type Validator struct {
	validate    *validator.Validate
	maxFileSize int64
}

// NewValidator creates a Validator. A non-positive limit uses DefaultMaxFileSize.
func NewValidator(maxFileSize int64) *Validator {
	if maxFileSize <= 0 {
		maxFileSize = DefaultMaxFileSize
	}
	return &Validator{
		validate:    validator.New(),
		maxFileSize: maxFileSize,
	}
}

// MaxFileSize returns the configured size limit in bytes.
func (v *Validator) MaxFileSize() int64 {
	return v.maxFileSize
}

// Validate checks name, declared type, size and content signature and
// returns the document kind. Missing or generic content types are inferred
// from the file extension.
func (v *Validator) Validate(doc ingestion.Document) (DocumentKind, error) {
	contentType := normalizeContentType(doc.ContentType)
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = ContentTypeFromName(doc.Name)
	}

	req := uploadRequest{
		Name:        strings.TrimSpace(doc.Name),
		ContentType: contentType,
		Size:        doc.Size(),
	}
	if err := v.validate.Struct(req); err != nil {
		return "", toValidationError(err)
	}

	if req.Size > v.maxFileSize {
		return "", &ValidationError{
			Field:   "size",
			Message: fmt.Sprintf("file is %s, limit is %s", format.FormatSize(req.Size), format.FormatSize(v.maxFileSize)),
		}
	}

	kind, _ := KindFromContentType(contentType)
	sniffed, ok := sniffKind(doc.Data)
	if !ok || sniffed != kind {
		return "", &ValidationError{
			Field:   "content",
			Message: fmt.Sprintf("content does not look like a %s document (detected %s)", kind, mimetype.Detect(doc.Data).String()),
		}
	}

	return kind, nil
}

// sniffKind classifies content by its signature. DOCX files are zip
// containers and legacy DOC files are OLE storage, so both parents count.
func sniffKind(data []byte) (DocumentKind, bool) {
	for m := mimetype.Detect(data); m != nil; m = m.Parent() {
		switch {
		case m.Is(ContentTypePDF):
			return KindPDF, true
		case m.Is(ContentTypeDOCX), m.Is(ContentTypeDOC), m.Is("application/zip"), m.Is("application/x-ole-storage"):
			return KindWord, true
		}
	}
	return "", false
}

// toValidationError converts the first validator failure into a ValidationError
func toValidationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &ValidationError{Field: "file", Message: err.Error()}
	}

	fe := fieldErrs[0]
	field := strings.ToLower(fe.Field())
	switch fe.Field() {
	case "ContentType":
		return &ValidationError{Field: "content_type", Message: "please upload a PDF or Word document"}
	case "Size":
		return &ValidationError{Field: field, Message: "file is empty"}
	case "Name":
		if fe.Tag() == "required" {
			return &ValidationError{Field: field, Message: "file name is required"}
		}
		return &ValidationError{Field: field, Message: "file name is too long"}
	default:
		return &ValidationError{Field: field, Message: fmt.Sprintf("failed on '%s'", fe.Tag())}
	}
}
