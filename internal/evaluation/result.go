package evaluation

import (
	"fmt"
	"strings"
)

// CVResult is the structured outcome of the CV evaluation step. The per-axis
// scores use a 1-5 scale; CVMatchRate is their average normalized to 0..1.
type CVResult struct {
	TechnicalSkillsMatch int     `json:"technical_skills_match"`
	ExperienceLevel      int     `json:"experience_level"`
	RelevantAchievements int     `json:"relevant_achievements"`
	CulturalFit          int     `json:"cultural_fit"`
	CVMatchRate          float64 `json:"cv_match_rate"`
	CVFeedback           string  `json:"cv_feedback"`
	DetailedScores       string  `json:"detailed_scores"`
}

// Validate checks the CV result against its contract. A result that fails
// validation must never complete a job.
func (r *CVResult) Validate() error {
	if r == nil {
		return fmt.Errorf("cv result is nil")
	}
	for name, score := range map[string]int{
		"technical_skills_match": r.TechnicalSkillsMatch,
		"experience_level":       r.ExperienceLevel,
		"relevant_achievements":  r.RelevantAchievements,
		"cultural_fit":           r.CulturalFit,
	} {
		if score < 1 || score > 5 {
			return fmt.Errorf("%s %d is outside 1..5", name, score)
		}
	}
	if r.CVMatchRate < 0.0 || r.CVMatchRate > 1.0 {
		return fmt.Errorf("cv_match_rate %v is outside 0..1", r.CVMatchRate)
	}
	if strings.TrimSpace(r.CVFeedback) == "" {
		return fmt.Errorf("cv_feedback is empty")
	}
	return nil
}

// ProjectResult is the structured outcome of the project report evaluation
// step. ProjectScore stays on the 1-5 scale.
type ProjectResult struct {
	Correctness     int     `json:"correctness"`
	CodeQuality     int     `json:"code_quality"`
	Resilience      int     `json:"resilience"`
	Documentation   int     `json:"documentation"`
	CreativityBonus int     `json:"creativity_bonus"`
	ProjectScore    float64 `json:"project_score"`
	ProjectFeedback string  `json:"project_feedback"`
	DetailedScores  string  `json:"detailed_scores"`
}

// Validate checks the project result against its contract.
func (r *ProjectResult) Validate() error {
	if r == nil {
		return fmt.Errorf("project result is nil")
	}
	for name, score := range map[string]int{
		"correctness":      r.Correctness,
		"code_quality":     r.CodeQuality,
		"resilience":       r.Resilience,
		"documentation":    r.Documentation,
		"creativity_bonus": r.CreativityBonus,
	} {
		if score < 1 || score > 5 {
			return fmt.Errorf("%s %d is outside 1..5", name, score)
		}
	}
	if r.ProjectScore < 1.0 || r.ProjectScore > 5.0 {
		return fmt.Errorf("project_score %v is outside 1..5", r.ProjectScore)
	}
	if strings.TrimSpace(r.ProjectFeedback) == "" {
		return fmt.Errorf("project_feedback is empty")
	}
	return nil
}

// OverallResult is the narrative synthesis of the two prior steps.
type OverallResult struct {
	OverallSummary      string `json:"overall_summary"`
	FinalRecommendation string `json:"final_recommendation"`
}

// Validate checks the synthesis result against its contract.
func (r *OverallResult) Validate() error {
	if r == nil {
		return fmt.Errorf("overall result is nil")
	}
	if strings.TrimSpace(r.OverallSummary) == "" {
		return fmt.Errorf("overall_summary is empty")
	}
	if strings.TrimSpace(r.FinalRecommendation) == "" {
		return fmt.Errorf("final_recommendation is empty")
	}
	return nil
}

// Result is the combined record embedded into a completed job. There is no
// partial-result state: all fields are populated or the job is failed.
type Result struct {
	CVMatchRate         float64 `json:"cv_match_rate"`
	CVFeedback          string  `json:"cv_feedback"`
	ProjectScore        float64 `json:"project_score"`
	ProjectFeedback     string  `json:"project_feedback"`
	OverallSummary      string  `json:"overall_summary"`
	FinalRecommendation string  `json:"final_recommendation"`

	CV      *CVResult      `json:"cv_result,omitempty"`
	Project *ProjectResult `json:"project_result,omitempty"`
}

// Combine assembles the persisted result from the three validated step
// results.
func Combine(cv *CVResult, project *ProjectResult, overall *OverallResult) *Result {
	return &Result{
		CVMatchRate:         cv.CVMatchRate,
		CVFeedback:          cv.CVFeedback,
		ProjectScore:        project.ProjectScore,
		ProjectFeedback:     project.ProjectFeedback,
		OverallSummary:      overall.OverallSummary,
		FinalRecommendation: overall.FinalRecommendation,
		CV:                  cv,
		Project:             project,
	}
}
