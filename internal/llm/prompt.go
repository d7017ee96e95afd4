// internal/llm/prompt.go
package llm

import (
	"fmt"
	"strings"
)

const blogSystemPreamble = `You are a research-communication writer. ` +
	`Write a short, accessible blog post summarizing the paper below for ` +
	`a technical audience that has not read it. Explain the problem, the ` +
	`approach, and why the result matters. Do not invent results that ` +
	`are not in the abstract.`

// blogPrompt renders the single-prompt template for one paper.
func blogPrompt(input BlogInput) string {
	var b strings.Builder
	b.WriteString(blogSystemPreamble)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Title: %s\n", input.Title)
	fmt.Fprintf(&b, "Abstract: %s\n", input.Abstract)
	return b.String()
}
