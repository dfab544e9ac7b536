package sandbox

import (
	"context"
	"strings"
)

// FileReadErrorMessage replaces raw tracebacks when a dataset read fails.
const FileReadErrorMessage = "Failed to read the dataset. Please reupload the file or check the format."

const fileReadSuccessPrefix = "File read successfully. Here are the first few rows:\n\n"

// datasetReadPatterns is the documented set of load-from-path constructs
// that mark a snippet as a dataset read.
var datasetReadPatterns = []string{
	"pd.read_csv",
	"open(",
	"with open(",
}

// ReadsDataset reports whether the submitted code contains a dataset-read
// construct.
func ReadsDataset(code string) bool {
	for _, pattern := range datasetReadPatterns {
		if strings.Contains(code, pattern) {
			return true
		}
	}
	return false
}

// Outcome is the classified, user-facing result of one execution.
type Outcome struct {
	Output           string `json:"output"`
	Failed           bool   `json:"failed"`
	FileReadingError bool   `json:"file_reading_error,omitempty"`
}

// Classify turns a raw execution result into the message agents surface.
// A failed dataset read always yields the fixed friendly message, never the
// raw stderr; other failures keep their error text behind a fixed prefix.
func Classify(code string, result Result, execErr error) Outcome {
	reads := ReadsDataset(code)
	failed := execErr != nil || strings.TrimSpace(result.Stderr) != ""

	if failed {
		if reads {
			return Outcome{Output: FileReadErrorMessage, Failed: true, FileReadingError: true}
		}
		reason := strings.TrimSpace(result.Stderr)
		if reason == "" && execErr != nil {
			reason = execErr.Error()
		}
		return Outcome{Output: "Execution failed: " + reason, Failed: true}
	}

	if reads {
		return Outcome{Output: fileReadSuccessPrefix + result.Stdout}
	}
	return Outcome{Output: result.Stdout}
}

// Run is the full setup/execute/cleanup sequence for one snippet; cleanup
// runs unconditionally.
func (r *Runner) Run(ctx context.Context, code string) Outcome {
	defer func() {
		_ = r.Cleanup()
	}()
	if err := r.Setup(); err != nil {
		return Classify(code, Result{}, err)
	}
	result, err := r.ExecutePython(ctx, code)
	return Classify(code, result, err)
}
