package core

import (
	"fmt"
	"strings"
)

func planPrompt(query, historyContext string) string {
	return fmt.Sprintf("%s\n\nBased on the conversation history and the latest query, create a detailed, actionable plan with numbered steps (e.g., 1., 2.) to comprehensively answer: \"%s\". Outline the key areas/topics/questions to research.",
		historyContext, query)
}

func branchPrompt(searchQuery, originalQuery, historyContext string) string {
	return fmt.Sprintf("Using Google Search results for the query \"%s\", provide the relevant factual information found. Keep it concise and focused on answering that specific query. Context: The overall user goal relates to: \"%s\". History:\n%s",
		searchQuery, originalQuery, historyContext)
}

func synthesisPrompt(originalQuery, historyContext string, outcomes []SearchOutcome) string {
	findings := make([]string, 0, len(outcomes))
	for i, o := range outcomes {
		findings = append(findings, fmt.Sprintf("Search Query %d: \"%s\"\nResult: %s", i+1, o.Query, o.Result))
	}
	var b strings.Builder
	b.WriteString(historyContext)
	fmt.Fprintf(&b, "\n\nOriginal Query: \"%s\"\n\n", originalQuery)
	b.WriteString("Research Findings (based on specific searches):\n")
	b.WriteString(strings.Join(findings, "\n\n"))
	b.WriteString("\n\nSynthesize a comprehensive, well-structured answer in Markdown format based *only* on the provided research findings and the conversation history. Address the original query directly, integrating the information logically.")
	return b.String()
}
