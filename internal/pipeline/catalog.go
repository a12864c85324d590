package pipeline

import (
	"path/filepath"
	"strings"
	"time"
)

// DocumentKind selects the extraction branch of the stage catalog.
type DocumentKind string

const (
	KindPDF  DocumentKind = "pdf"
	KindWord DocumentKind = "word"
)

// Content types accepted for upload.
const (
	ContentTypePDF  = "application/pdf"
	ContentTypeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	ContentTypeDOC  = "application/msword"
)

// Stage identifiers
const (
	// Universal prefix
	StageUpload     = "upload"
	StageValidation = "validation"

	// PDF branch
	StagePDFParsing     = "pdf-parsing"
	StageTextProcessing = "text-processing"

	// Word branch
	StageDocParsing = "doc-parsing"

	// Universal suffix
	StageChunking     = "chunking"
	StageEmbedding    = "embedding"
	StageIndexing     = "indexing"
	StageFinalization = "finalization"
)

// Stage is one named step of an ingestion run.
// EstimatedDurationMs only feeds progress estimation; real completion is
// signaled by the orchestrator advancing the run.
type Stage struct {
	ID                  string `json:"id"`
	Name                string `json:"name"`
	Description         string `json:"description"`
	EstimatedDurationMs int64  `json:"estimated_duration_ms"`
	Completed           bool   `json:"completed"`
}

// Estimate returns the stage estimate as a duration.
func (s Stage) Estimate() time.Duration {
	return time.Duration(s.EstimatedDurationMs) * time.Millisecond
}

var (
	prefixStages = []Stage{
		{ID: StageUpload, Name: "Uploading File", Description: "Transferring file to server...", EstimatedDurationMs: 2000},
		{ID: StageValidation, Name: "File Validation", Description: "Checking file format and integrity...", EstimatedDurationMs: 1000},
	}

	pdfStages = []Stage{
		{ID: StagePDFParsing, Name: "PDF Text Extraction", Description: "Extracting text content from PDF pages...", EstimatedDurationMs: 8080},
		{ID: StageTextProcessing, Name: "Text Processing", Description: "Cleaning and preparing text content...", EstimatedDurationMs: 3000},
	}

	wordStages = []Stage{
		{ID: StageDocParsing, Name: "Document Processing", Description: "Extracting text from Word document...", EstimatedDurationMs: 5000},
	}

	// embedding dominates: it stands in for the collaborator's whole
	// parse/embed/index call.
	suffixStages = []Stage{
		{ID: StageChunking, Name: "Text Chunking", Description: "Splitting text into optimal segments...", EstimatedDurationMs: 2000},
		{ID: StageEmbedding, Name: "AI Embedding Generation", Description: "Creating semantic embeddings for each chunk...", EstimatedDurationMs: 85000},
		{ID: StageIndexing, Name: "Vector Indexing", Description: "Storing embeddings in search index...", EstimatedDurationMs: 4000},
		{ID: StageFinalization, Name: "Finalization", Description: "Completing setup for AI assistance...", EstimatedDurationMs: 1000},
	}
)

// BuildStages returns the ordered stages for a document kind. Unknown kinds
// take the Word branch. The returned slice is freshly allocated on every call.
func BuildStages(kind DocumentKind) []Stage {
	branch := wordStages
	if kind == KindPDF {
		branch = pdfStages
	}

	stages := make([]Stage, 0, len(prefixStages)+len(branch)+len(suffixStages))
	stages = append(stages, prefixStages...)
	stages = append(stages, branch...)
	stages = append(stages, suffixStages...)
	return stages
}

// TotalEstimate sums the estimates of all stages.
func TotalEstimate(stages []Stage) time.Duration {
	var total time.Duration
	for _, s := range stages {
		total += s.Estimate()
	}
	return total
}

// KindFromContentType maps a MIME type to a document kind.
func KindFromContentType(contentType string) (DocumentKind, bool) {
	switch normalizeContentType(contentType) {
	case ContentTypePDF:
		return KindPDF, true
	case ContentTypeDOCX, ContentTypeDOC:
		return KindWord, true
	default:
		return "", false
	}
}

// KindFromName maps a file extension to a document kind.
func KindFromName(name string) (DocumentKind, bool) {
	return KindFromContentType(ContentTypeFromName(name))
}

// ContentTypeFromName guesses the MIME type from a file extension.
// Returns empty string for unsupported extensions.
func ContentTypeFromName(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return ContentTypePDF
	case ".docx":
		return ContentTypeDOCX
	case ".doc":
		return ContentTypeDOC
	default:
		return ""
	}
}

// normalizeContentType strips parameters and case from a MIME type.
func normalizeContentType(contentType string) string {
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	return strings.ToLower(strings.TrimSpace(contentType))
}
