package pipeline

import (
	"fmt"
	"strings"
)

const (
	planHeading     = "## Execution Plan"
	critiqueHeading = "## Critique Context"
	refinedHeading  = "## Refined Responses"
	selfLabel       = "My Initial Response"
)

func plannedTurnText(query, plan string) string {
	var sb strings.Builder
	sb.WriteString(query)
	sb.WriteString("\n\n")
	sb.WriteString(planHeading)
	sb.WriteString("\n\n")
	sb.WriteString(plan)
	return sb.String()
}

// refinementTurnText lists initial[slot] as the agent's own draft and the
// other drafts as peers 1..3 in ascending index order.
func refinementTurnText(planned string, initial []string, slot int) string {
	var sb strings.Builder
	sb.WriteString(planned)
	sb.WriteString("\n\n")
	sb.WriteString(critiqueHeading)
	writeSection(&sb, selfLabel, initial[slot])
	peer := 0
	for j, text := range initial {
		if j == slot {
			continue
		}
		peer++
		writeSection(&sb, fmt.Sprintf("Peer Response %d", peer), text)
	}
	return sb.String()
}

func synthesisTurnText(planned string, refined []string) string {
	var sb strings.Builder
	sb.WriteString(planned)
	sb.WriteString("\n\n")
	sb.WriteString(refinedHeading)
	for k, text := range refined {
		writeSection(&sb, fmt.Sprintf("Refined Response %d", k+1), text)
	}
	return sb.String()
}

func writeSection(sb *strings.Builder, label, body string) {
	sb.WriteString("\n\n### ")
	sb.WriteString(label)
	sb.WriteString("\n\n")
	sb.WriteString(body)
}
