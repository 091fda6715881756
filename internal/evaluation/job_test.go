package evaluation

import (
	"strings"
	"testing"
)

func TestCanTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from, to Status
		allowed  bool
	}{
		{StatusQueued, StatusProcessing, true},
		{StatusQueued, StatusFailed, true},
		{StatusQueued, StatusCompleted, false},
		{StatusProcessing, StatusCompleted, true},
		{StatusProcessing, StatusFailed, true},
		{StatusProcessing, StatusQueued, false},
		{StatusCompleted, StatusFailed, false},
		{StatusCompleted, StatusProcessing, false},
		{StatusFailed, StatusQueued, false},
		{StatusFailed, StatusCompleted, false},
	}

	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.allowed {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.allowed)
		}
	}
}

func TestStatusTerminal(t *testing.T) {
	t.Parallel()

	if StatusQueued.Terminal() || StatusProcessing.Terminal() {
		t.Fatalf("queued and processing must not be terminal")
	}
	if !StatusCompleted.Terminal() || !StatusFailed.Terminal() {
		t.Fatalf("completed and failed must be terminal")
	}
}

func TestIsValidStatus(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"queued", "processing", "completed", "failed"} {
		if !IsValidStatus(s) {
			t.Errorf("expected %q to be valid", s)
		}
	}
	if IsValidStatus("paused") {
		t.Errorf("paused is not part of the state machine")
	}
}

func validCVResult() *CVResult {
	return &CVResult{
		TechnicalSkillsMatch: 4,
		ExperienceLevel:      3,
		RelevantAchievements: 4,
		CulturalFit:          5,
		CVMatchRate:          0.8,
		CVFeedback:           "solid backend background",
		DetailedScores:       "4/3/4/5",
	}
}

func validProjectResult() *ProjectResult {
	return &ProjectResult{
		Correctness:     4,
		CodeQuality:     4,
		Resilience:      3,
		Documentation:   4,
		CreativityBonus: 2,
		ProjectScore:    3.4,
		ProjectFeedback: "handles retries well",
		DetailedScores:  "4/4/3/4/2",
	}
}

func TestCVResultValidate(t *testing.T) {
	t.Parallel()

	if err := validCVResult().Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	outOfRange := validCVResult()
	outOfRange.CVMatchRate = 1.7
	err := outOfRange.Validate()
	if err == nil {
		t.Fatalf("expected error for cv_match_rate 1.7")
	}
	if !strings.Contains(err.Error(), "cv_match_rate") {
		t.Fatalf("expected cv_match_rate in error, got: %v", err)
	}

	noFeedback := validCVResult()
	noFeedback.CVFeedback = "   "
	if err := noFeedback.Validate(); err == nil {
		t.Fatalf("expected error for empty feedback")
	}

	badAxis := validCVResult()
	badAxis.CulturalFit = 0
	if err := badAxis.Validate(); err == nil {
		t.Fatalf("expected error for out-of-range axis score")
	}
}

func TestProjectResultValidate(t *testing.T) {
	t.Parallel()

	if err := validProjectResult().Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	low := validProjectResult()
	low.ProjectScore = 0.5
	if err := low.Validate(); err == nil {
		t.Fatalf("expected error for project_score below 1")
	}

	high := validProjectResult()
	high.ProjectScore = 5.2
	if err := high.Validate(); err == nil {
		t.Fatalf("expected error for project_score above 5")
	}
}

func TestCombine(t *testing.T) {
	t.Parallel()

	cv := validCVResult()
	project := validProjectResult()
	overall := &OverallResult{OverallSummary: "a capable candidate", FinalRecommendation: "consider"}

	result := Combine(cv, project, overall)
	if result.CVMatchRate != cv.CVMatchRate {
		t.Fatalf("cv_match_rate not carried over")
	}
	if result.ProjectScore != project.ProjectScore {
		t.Fatalf("project_score not carried over")
	}
	if result.OverallSummary != overall.OverallSummary {
		t.Fatalf("overall_summary not carried over")
	}
	if result.CV == nil || result.Project == nil {
		t.Fatalf("expected embedded step results")
	}
}
