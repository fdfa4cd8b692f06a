package embedding

import (
	"strings"

	"starcore/internal/logging"
)

// =============================================================================
// TASK TYPE SELECTION
// =============================================================================

// ContentType classifies text handed to the embedder, mirroring the
// molecule types the atomizer produces plus the two query-side shapes.
type ContentType string

const (
	ContentTypeProse    ContentType = "prose"    // Narrative text, notes
	ContentTypeCode     ContentType = "code"     // Source code
	ContentTypeData     ContentType = "data"     // Structured records (YAML/JSON blocks)
	ContentTypeQuery    ContentType = "query"    // Search queries
	ContentTypeQuestion ContentType = "question" // Direct questions
)

// SelectTaskType picks the GenAI task type for a piece of content. Query
// and document sides of the same retrieval deployment must use the paired
// task types (RETRIEVAL_QUERY vs RETRIEVAL_DOCUMENT) or similarity scores
// degrade.
func SelectTaskType(contentType ContentType, isQuery bool) string {
	var taskType string

	switch contentType {
	case ContentTypeCode:
		if isQuery {
			taskType = "CODE_RETRIEVAL_QUERY"
		} else {
			taskType = "RETRIEVAL_DOCUMENT"
		}
	case ContentTypeQuestion:
		taskType = "QUESTION_ANSWERING"
	case ContentTypeQuery:
		taskType = "RETRIEVAL_QUERY"
	case ContentTypeProse, ContentTypeData:
		taskType = "RETRIEVAL_DOCUMENT"
	default:
		if isQuery {
			taskType = "RETRIEVAL_QUERY"
		} else {
			taskType = "RETRIEVAL_DOCUMENT"
		}
	}

	logging.Get(logging.CategoryEmbedding).Debug("SelectTaskType: content_type=%s is_query=%v -> %s", contentType, isQuery, taskType)
	return taskType
}

// codeIndicators are cheap lexical markers; three or more hits classify
// the text as code.
var codeIndicators = []string{
	"func ", "function ", "class ", "def ", "import ", "package ",
	"const ", "var ", "let ", "interface ", "struct ", "type ",
	"{", "}", "=>", "->", "//", "/*", "*/",
}

// DetectContentType classifies text by lexical heuristics: code markers,
// question prefixes, structured-record shapes, else prose.
func DetectContentType(text string, isQuery bool) ContentType {
	lowered := strings.ToLower(strings.TrimSpace(text))

	codeScore := 0
	for _, indicator := range codeIndicators {
		if strings.Contains(lowered, indicator) {
			codeScore++
		}
	}
	if codeScore >= 3 {
		return ContentTypeCode
	}

	if isQuery {
		if strings.HasPrefix(lowered, "what ") || strings.HasPrefix(lowered, "how ") ||
			strings.HasPrefix(lowered, "why ") || strings.HasPrefix(lowered, "when ") ||
			strings.HasPrefix(lowered, "where ") || strings.HasSuffix(lowered, "?") {
			return ContentTypeQuestion
		}
		return ContentTypeQuery
	}

	if strings.HasPrefix(lowered, "{") || strings.HasPrefix(lowered, "- ") ||
		strings.HasPrefix(lowered, "---") {
		return ContentTypeData
	}
	return ContentTypeProse
}

// GetOptimalTaskType combines detection and selection: the task type the
// GenAI backend should request for this text when no explicit override is
// configured.
func GetOptimalTaskType(text string, isQuery bool) string {
	return SelectTaskType(DetectContentType(text, isQuery), isQuery)
}
