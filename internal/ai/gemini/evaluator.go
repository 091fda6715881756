package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	_ "embed"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/hireloop/cv-screener/internal/ai"
	"github.com/hireloop/cv-screener/internal/evaluation"
	"github.com/hireloop/cv-screener/internal/retry"
	"github.com/hireloop/cv-screener/internal/utils"
)

//go:embed cv_prompt.md
var cvPromptTemplate string

//go:embed project_prompt.md
var projectPromptTemplate string

//go:embed overall_prompt.md
var overallPromptTemplate string

const defaultMaxLogLength = 200

type jsonGenerator interface {
	GenerateJSON(ctx context.Context, prompt string, schema *genai.Schema) (string, error)
}

// Evaluator runs the three evaluation steps against Gemini. Every call is
// wrapped in the generation retry policy; a parseable response with
// out-of-contract values is retried once before the step fails.
type Evaluator struct {
	generator jsonGenerator
	policy    retry.Policy
	logger    *zap.Logger
	maxLogLen int
}

func NewEvaluator(generator jsonGenerator, logger *zap.Logger, maxLogLength int) *Evaluator {
	if maxLogLength <= 0 {
		maxLogLength = defaultMaxLogLength
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Evaluator{
		generator: generator,
		policy:    retry.Generation(),
		logger:    logger,
		maxLogLen: maxLogLength,
	}
}

var cvSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"technical_skills_match": {Type: genai.TypeInteger},
		"experience_level":       {Type: genai.TypeInteger},
		"relevant_achievements":  {Type: genai.TypeInteger},
		"cultural_fit":           {Type: genai.TypeInteger},
		"cv_match_rate":          {Type: genai.TypeNumber},
		"cv_feedback":            {Type: genai.TypeString},
		"detailed_scores":        {Type: genai.TypeString},
	},
	Required: []string{
		"technical_skills_match", "experience_level", "relevant_achievements",
		"cultural_fit", "cv_match_rate", "cv_feedback",
	},
}

var projectSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"correctness":      {Type: genai.TypeInteger},
		"code_quality":     {Type: genai.TypeInteger},
		"resilience":       {Type: genai.TypeInteger},
		"documentation":    {Type: genai.TypeInteger},
		"creativity_bonus": {Type: genai.TypeInteger},
		"project_score":    {Type: genai.TypeNumber},
		"project_feedback": {Type: genai.TypeString},
		"detailed_scores":  {Type: genai.TypeString},
	},
	Required: []string{
		"correctness", "code_quality", "resilience", "documentation",
		"creativity_bonus", "project_score", "project_feedback",
	},
}

var overallSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"overall_summary":      {Type: genai.TypeString},
		"final_recommendation": {Type: genai.TypeString},
	},
	Required: []string{"overall_summary", "final_recommendation"},
}

// EvaluateCV scores the CV text against the job title.
func (e *Evaluator) EvaluateCV(ctx context.Context, input ai.CVInput) (*evaluation.CVResult, error) {
	if e == nil || e.generator == nil {
		return nil, retry.Errorf(retry.KindUnavailable, "evaluation service is not configured")
	}
	if strings.TrimSpace(input.JobTitle) == "" {
		return nil, retry.Errorf(retry.KindInvalidInput, "job title is required")
	}
	if strings.TrimSpace(input.CVText) == "" {
		return nil, retry.Errorf(retry.KindInvalidInput, "cv text is required")
	}

	prompt := renderPrompt(cvPromptTemplate, map[string]string{
		"{{JOB_TITLE}}": input.JobTitle,
		"{{CONTEXT}}":   renderContext(input.Context),
		"{{CV_TEXT}}":   input.CVText,
	})

	return retry.Do(ctx, e.logger, e.policy, "evaluate cv",
		func(ctx context.Context) (*evaluation.CVResult, error) {
			var result evaluation.CVResult
			if err := e.generate(ctx, prompt, cvSchema, &result); err != nil {
				return nil, err
			}
			return &result, nil
		},
		func(r *evaluation.CVResult) error { return r.Validate() },
	)
}

// EvaluateProject scores the project report text against the job title.
func (e *Evaluator) EvaluateProject(ctx context.Context, input ai.ProjectInput) (*evaluation.ProjectResult, error) {
	if e == nil || e.generator == nil {
		return nil, retry.Errorf(retry.KindUnavailable, "evaluation service is not configured")
	}
	if strings.TrimSpace(input.JobTitle) == "" {
		return nil, retry.Errorf(retry.KindInvalidInput, "job title is required")
	}
	if strings.TrimSpace(input.ReportText) == "" {
		return nil, retry.Errorf(retry.KindInvalidInput, "report text is required")
	}

	prompt := renderPrompt(projectPromptTemplate, map[string]string{
		"{{JOB_TITLE}}":   input.JobTitle,
		"{{CONTEXT}}":     renderContext(input.Context),
		"{{REPORT_TEXT}}": input.ReportText,
	})

	return retry.Do(ctx, e.logger, e.policy, "evaluate project",
		func(ctx context.Context) (*evaluation.ProjectResult, error) {
			var result evaluation.ProjectResult
			if err := e.generate(ctx, prompt, projectSchema, &result); err != nil {
				return nil, err
			}
			return &result, nil
		},
		func(r *evaluation.ProjectResult) error { return r.Validate() },
	)
}

// SynthesizeOverall combines the two prior step results into a narrative
// summary. Both inputs must already pass their own Validate contract.
func (e *Evaluator) SynthesizeOverall(ctx context.Context, jobTitle string, cv *evaluation.CVResult, project *evaluation.ProjectResult) (*evaluation.OverallResult, error) {
	if e == nil || e.generator == nil {
		return nil, retry.Errorf(retry.KindUnavailable, "evaluation service is not configured")
	}
	if err := cv.Validate(); err != nil {
		return nil, retry.Mark(retry.KindInvalidInput, fmt.Errorf("cv result: %w", err))
	}
	if err := project.Validate(); err != nil {
		return nil, retry.Mark(retry.KindInvalidInput, fmt.Errorf("project result: %w", err))
	}

	cvJSON, err := json.MarshalIndent(cv, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal cv result: %w", err)
	}
	projectJSON, err := json.MarshalIndent(project, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal project result: %w", err)
	}

	prompt := renderPrompt(overallPromptTemplate, map[string]string{
		"{{JOB_TITLE}}":      jobTitle,
		"{{CV_RESULT}}":      string(cvJSON),
		"{{PROJECT_RESULT}}": string(projectJSON),
	})

	return retry.Do(ctx, e.logger, e.policy, "synthesize overall",
		func(ctx context.Context) (*evaluation.OverallResult, error) {
			var result evaluation.OverallResult
			if err := e.generate(ctx, prompt, overallSchema, &result); err != nil {
				return nil, err
			}
			return &result, nil
		},
		func(r *evaluation.OverallResult) error { return r.Validate() },
	)
}

// generate runs one prompt through the generator and decodes the JSON reply.
// A reply that does not decode counts as a validation failure, not a
// transport one.
func (e *Evaluator) generate(ctx context.Context, prompt string, schema *genai.Schema, out any) error {
	e.logger.Debug("gemini generate content request",
		zap.Int("prompt_length", utf8.RuneCountInString(prompt)),
		zap.String("prompt_preview", utils.TruncateForLog(prompt, e.maxLogLen)),
	)

	raw, err := e.generator.GenerateJSON(ctx, prompt, schema)
	if err != nil {
		return err
	}

	e.logger.Debug("gemini generate content response",
		zap.Int("response_length", utf8.RuneCountInString(raw)),
		zap.String("response_preview", utils.TruncateForLog(raw, e.maxLogLen)),
	)

	if err := json.Unmarshal([]byte(extractJSON(raw)), out); err != nil {
		return retry.Mark(retry.KindValidation, fmt.Errorf("parse gemini response: %w", err))
	}
	return nil
}

func renderPrompt(template string, replacements map[string]string) string {
	prompt := template
	for placeholder, value := range replacements {
		prompt = strings.ReplaceAll(prompt, placeholder, value)
	}
	return prompt
}

func renderContext(snippets []string) string {
	var kept []string
	for _, s := range snippets {
		if s = strings.TrimSpace(s); s != "" {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		return "none"
	}
	return strings.Join(kept, "\n---\n")
}

// extractJSON strips markdown code fences some models still wrap around
// JSON replies.
func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSpace(raw)
		if idx := strings.LastIndex(raw, "```"); idx != -1 {
			raw = raw[:idx]
		}
	}
	raw = strings.Trim(raw, "`")
	return strings.TrimSpace(raw)
}
