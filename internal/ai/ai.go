// Package ai defines the evaluation contract the worker depends on. The
// gemini subpackage provides the production implementation.
package ai

import (
	"context"

	"github.com/hireloop/cv-screener/internal/evaluation"
)

// CVInput is everything the CV evaluation step needs: the extracted CV text,
// the job title it is scored against and retrieved reference snippets.
type CVInput struct {
	JobTitle string
	CVText   string
	Context  []string
}

// ProjectInput mirrors CVInput for the project report step.
type ProjectInput struct {
	JobTitle   string
	ReportText string
	Context    []string
}

// Evaluator runs the three sequential evaluation steps. Implementations must
// return results that already pass their Validate contract.
type Evaluator interface {
	EvaluateCV(ctx context.Context, input CVInput) (*evaluation.CVResult, error)
	EvaluateProject(ctx context.Context, input ProjectInput) (*evaluation.ProjectResult, error)
	SynthesizeOverall(ctx context.Context, jobTitle string, cv *evaluation.CVResult, project *evaluation.ProjectResult) (*evaluation.OverallResult, error)
}
