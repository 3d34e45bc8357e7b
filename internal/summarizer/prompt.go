package summarizer

import (
	"fmt"
	"strings"

	"github.com/ryosukesatoh/news-digest/internal/fetcher"
)

// NoDescription stands in for articles the provider returned without a description.
const NoDescription = "No description available."

// BuildPrompt renders the single user message sent for an article. The output
// depends only on the article's title, description and URL.
func BuildPrompt(a fetcher.Article) string {
	description := strings.TrimSpace(a.Description)
	if description == "" {
		description = NoDescription
	}

	var sb strings.Builder
	sb.WriteString("Summarize the following news story in 2-3 email-friendly bullet points:\n\n")
	sb.WriteString(fmt.Sprintf("Title: %s\n\n", a.Title))
	sb.WriteString(fmt.Sprintf("Description: %s\n\n", description))
	sb.WriteString(fmt.Sprintf("Link: %s\n\n", a.URL))
	sb.WriteString("Keep it professional and concise.")
	return sb.String()
}
