package services

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/velvetwardrobe/storefront/internal/domain"
)

// SearchEmptyMessage is shown when the search box is submitted blank.
const SearchEmptyMessage = "Enter a keyword to search VelvetWardrobe."

type searchService struct {
	policy *bluemonday.Policy
}

// NewSearchService constructs the search box service.
func NewSearchService() SearchService {
	return &searchService{policy: bluemonday.StrictPolicy()}
}

// Query echoes the trimmed keyword back as an info toast. Markup is removed when text
// remains without it; a query made only of markup is echoed as typed, since toasts render
// as plain text.
func (s *searchService) Query(raw string) SearchResult {
	query := strings.TrimSpace(raw)
	if query != "" {
		// the strict policy escapes text; toasts carry plain text
		if stripped := strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(query))); stripped != "" {
			query = stripped
		}
	}
	if query == "" {
		return SearchResult{Toast: Toast{Message: SearchEmptyMessage, Tone: domain.ToastError}}
	}
	return SearchResult{
		Query:    query,
		Accepted: true,
		Toast:    Toast{Message: "Searching for “" + query + "”...", Tone: domain.ToastInfo},
	}
}
