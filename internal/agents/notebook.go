package agents

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/flitsinc/datalab/internal/llm"
	"github.com/flitsinc/datalab/internal/session"
	"github.com/flitsinc/datalab/internal/store"
)

const notebookFinalMessage = "I've completed the analysis. You can now review the generated notebook."

// NewNotebookAgent builds the notebook flavor of the generation loop: one
// cell per invocation, markdown/code/conclusion kinds, code cells executed
// in the sandbox.
func NewNotebookAgent(st *store.Store, sessions *session.Manager, resolver llm.Resolver, executors func() CodeExecutor, stepLimit int, logger *zap.Logger) *LoopAgent {
	if stepLimit <= 0 {
		stepLimit = 20
	}
	return &LoopAgent{
		Store:     st,
		Sessions:  sessions,
		Resolver:  resolver,
		Executors: executors,
		Logger:    logger,
		Config: LoopConfig{
			Name:            "Notebook Agent",
			AgentKind:       session.KindNotebook,
			UnitNoun:        "cell",
			TranscriptLabel: "Cell",
			AllowedKinds:    []string{"markdown", "code", "conclusion"},
			StepLimit:       stepLimit,
			FinalMessage:    notebookFinalMessage,
			ExecuteCode:     true,
			BuildInstructions: func(sess store.Session, _ string) string {
				plan := sess.Plan
				if plan == "" {
					plan = "No plan provided. Proceed with general analysis."
				}
				return fmt.Sprintf(`Create a data analysis notebook step by step.
Task list: %s
Return exactly one JSON object per turn representing the next cell:
- {"markdown": "..."} or {"code": "..."} or {"conclusion": "..."}
Do not include extra text.`, plan)
			},
		},
	}
}
