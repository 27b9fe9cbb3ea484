package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"quorum/internal/gateway/repository/conversation"
	llmclient "quorum/internal/llm/client"
)

const (
	TranscriptName        = "transcript.md"
	transcriptContentType = "text/markdown; charset=utf-8"
	transcriptURLExpiry   = 15 * time.Minute
)

// Transcript is a downloadable rendering of a session. URL is set when the
// artifact store can serve the file itself; otherwise Content holds it.
type Transcript struct {
	Name    string
	URL     string
	Content []byte
}

// Transcript renders the current conversation, stores it and returns either
// a presigned link or the bytes.
func (s *Service) Transcript(ctx context.Context, sessionID string) (Transcript, error) {
	body, err := s.saveTranscript(ctx, sessionID)
	if err != nil {
		return Transcript{}, err
	}
	out := Transcript{Name: TranscriptName, Content: body}
	if s.artifacts == nil {
		return out, nil
	}
	u, err := s.artifacts.URL(ctx, sessionID, TranscriptName, transcriptURLExpiry)
	if err != nil {
		s.logger.Printf("chat: presign transcript for %s: %v", sessionID, err)
		return out, nil
	}
	out.URL = u
	return out, nil
}

// Artifacts lists the files stored for a session.
func (s *Service) Artifacts(ctx context.Context, sessionID string) ([]string, error) {
	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	if s.artifacts == nil {
		return []string{}, nil
	}
	names, err := s.artifacts.List(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	if names == nil {
		names = []string{}
	}
	return names, nil
}

func (s *Service) saveTranscript(ctx context.Context, sessionID string) ([]byte, error) {
	msgs, err := s.store.Messages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	body := []byte(RenderTranscript(sessionID, msgs))
	if s.artifacts != nil {
		if err := s.artifacts.Put(ctx, sessionID, TranscriptName, body, transcriptContentType); err != nil {
			return nil, fmt.Errorf("store transcript: %w", err)
		}
	}
	return body, nil
}

// RenderTranscript formats msgs as markdown, one section per message.
func RenderTranscript(sessionID string, msgs []conversation.Message) string {
	var sb strings.Builder
	sb.WriteString("# Chat transcript\n\n")
	fmt.Fprintf(&sb, "Session: `%s`\n", sessionID)
	for _, m := range msgs {
		title := "User"
		if m.Role == llmclient.RoleAssistant {
			title = "Assistant"
			if m.Failed {
				title = "Assistant (error)"
			}
		}
		fmt.Fprintf(&sb, "\n## %s\n\n", title)
		sb.WriteString(strings.TrimRight(m.Text, "\n"))
		sb.WriteString("\n")
	}
	return sb.String()
}
