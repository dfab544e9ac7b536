package agents

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/flitsinc/datalab/internal/llm"
	"github.com/flitsinc/datalab/internal/session"
	"github.com/flitsinc/datalab/internal/store"
)

const presentationFinalMessage = "I've created the presentation based on the analysis. Use the download button to export it."

// NewPresentationAgent builds the slide flavor of the generation loop. The
// notebook transcript for the session rides along as analysis context.
func NewPresentationAgent(st *store.Store, sessions *session.Manager, resolver llm.Resolver, stepLimit int, logger *zap.Logger) *LoopAgent {
	if stepLimit <= 0 {
		stepLimit = 15
	}
	return &LoopAgent{
		Store:    st,
		Sessions: sessions,
		Resolver: resolver,
		Logger:   logger,
		Config: LoopConfig{
			Name:            "Presentation Agent",
			AgentKind:       session.KindPresentation,
			UnitNoun:        "slide",
			TranscriptLabel: "Slide",
			AllowedKinds:    []string{"title", "content", "chart", "conclusion"},
			StepLimit:       stepLimit,
			FinalMessage:    presentationFinalMessage,
			AnalysisContext: notebookTranscript,
			BuildInstructions: func(_ store.Session, analysisContext string) string {
				return fmt.Sprintf(`Create a presentation summarizing the analysis.
Return exactly one JSON object per turn keyed by the slide kind:
- {"title": {...}} or {"content": {...}} or {"chart": {...}} or {"conclusion": {...}}
Slide fields: title, subtitle, bullets, content.
Stop after emitting a "conclusion" slide. No extra text.
---
NOTEBOOK CONTEXT:
%s`, analysisContext)
			},
		},
	}
}

// notebookTranscript renders the session's notebook cells for the slide
// prompt, the same linear form the notebook loop uses as memory.
func notebookTranscript(ctx context.Context, st *store.Store, sessionID string) (string, error) {
	cells, err := st.ListUnits(ctx, sessionID, session.KindNotebook)
	if err != nil {
		return "", fmt.Errorf("read notebook context: %w", err)
	}
	if len(cells) == 0 {
		return "No notebook available for this session.", nil
	}
	var out strings.Builder
	for i, cell := range cells {
		if i > 0 {
			out.WriteString("\n\n")
		}
		fmt.Fprintf(&out, "### Cell %d (%s)\n%s", cell.Index, cell.Kind, cell.Content)
	}
	return out.String(), nil
}
