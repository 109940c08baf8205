package assessment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/knowledge-brain/internal/llm"
	"github.com/jonathan/knowledge-brain/internal/llm/llmtest"
	"github.com/jonathan/knowledge-brain/internal/types"
)

func testConfig() Config {
	return Config{
		Tier: llm.TierAdvanced,
		Retry: llm.RetryPolicy{
			MaxAttempts:     2,
			InitialInterval: time.Millisecond,
			MaxInterval:     2 * time.Millisecond,
			CallTimeout:     time.Second,
		},
	}
}

func testBrain() *types.Brain {
	return &types.Brain{
		SubjectID: uuid.New(),
		Version:   2,
		Sections: map[string]types.DocumentAnalysis{
			"policy":   {Rules: []string{"Applicants must be based in the UK"}},
			"criteria": {Rules: []string{"Budgets must be itemised"}},
		},
		ScoringConfig: &types.ScoringConfig{Criteria: []types.Criterion{
			{Name: "Impact", Weight: 0.5, Description: "Expected community benefit"},
			{Name: "Feasibility", Weight: 0.3},
			{Name: "Value for money", Weight: 0.2},
		}},
	}
}

func TestScore_WeightedAverage(t *testing.T) {
	client := &llmtest.MockLLMClient{
		GenerateJSONFunc: func(context.Context, llm.Request) (string, error) {
			return "```json\n" + `{
				"criterion_scores": [
					{"name": "impact", "score": 80, "feedback": "Clear outcomes"},
					{"name": "Feasibility", "score": 70, "feedback": "Plausible plan"},
					{"name": "Value for money", "score": 65}
				],
				"summary": "Solid application",
				"strengths": ["Clear outcomes"],
				"weaknesses": ["Thin budget"],
				"recommendations": ["Itemise the budget"]
			}` + "\n```", nil
		},
	}

	got, err := NewEngine(client, testConfig(), nil).Score(context.Background(), testBrain(), "Our project will ...")

	require.NoError(t, err)
	require.Len(t, got.CriterionScores, 3)
	assert.Equal(t, "Impact", got.CriterionScores[0].Name)
	assert.Equal(t, 80.0, got.CriterionScores[0].Score)
	assert.Equal(t, "Clear outcomes", got.CriterionScores[0].Feedback)
	assert.Equal(t, 74.0, got.OverallScore)
	assert.Equal(t, "Solid application", got.Feedback.Summary)
	assert.Equal(t, []string{"Itemise the budget"}, got.Feedback.Recommendations)

	reqs := client.Requests()
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].Content, "Impact | 0.5000 | Expected community benefit")
	assert.Contains(t, reqs[0].Content, "Applicants must be based in the UK")
	assert.Contains(t, reqs[0].Content, "Our project will ...")
	assert.Equal(t, llm.TierAdvanced, reqs[0].Tier)
}

func TestScore_ClampsAndFillsMissingCriteria(t *testing.T) {
	client := &llmtest.MockLLMClient{
		GenerateJSONFunc: func(context.Context, llm.Request) (string, error) {
			return `{"criterion_scores": [{"name": "Impact", "score": 140}, {"name": "Feasibility", "score": -5}]}`, nil
		},
	}

	got, err := NewEngine(client, testConfig(), nil).Score(context.Background(), testBrain(), "text")

	require.NoError(t, err)
	assert.Equal(t, 100.0, got.CriterionScores[0].Score)
	assert.Equal(t, 0.0, got.CriterionScores[1].Score)
	assert.Equal(t, 0.0, got.CriterionScores[2].Score)
	assert.Equal(t, NotAssessed, got.CriterionScores[2].Feedback)
	assert.Equal(t, 50.0, got.OverallScore)
	assert.NotNil(t, got.Feedback.Strengths)
}

func TestScore_RoundsToTwoDecimals(t *testing.T) {
	brain := testBrain()
	brain.ScoringConfig.Criteria = []types.Criterion{{Name: "A", Weight: 1}, {Name: "B", Weight: 2}}
	client := &llmtest.MockLLMClient{
		GenerateJSONFunc: func(context.Context, llm.Request) (string, error) {
			return `{"criterion_scores": [{"name": "A", "score": 100}, {"name": "B", "score": 0}]}`, nil
		},
	}

	got, err := NewEngine(client, testConfig(), nil).Score(context.Background(), brain, "text")

	require.NoError(t, err)
	assert.Equal(t, 33.33, got.OverallScore)
}

func TestScore_RequiresScoringConfig(t *testing.T) {
	client := &llmtest.MockLLMClient{}
	brain := testBrain()
	brain.ScoringConfig = nil

	_, err := NewEngine(client, testConfig(), nil).Score(context.Background(), brain, "text")

	var assessErr *AssessmentError
	require.ErrorAs(t, err, &assessErr)
	assert.Equal(t, brain.SubjectID, assessErr.SubjectID)
	assert.Empty(t, client.Requests())
}

func TestScore_RequiresText(t *testing.T) {
	client := &llmtest.MockLLMClient{}

	_, err := NewEngine(client, testConfig(), nil).Score(context.Background(), testBrain(), "  \n\t")

	var assessErr *AssessmentError
	require.ErrorAs(t, err, &assessErr)
	assert.Contains(t, assessErr.Error(), "no extractable text")
	assert.Empty(t, client.Requests())
}

func TestScore_MalformedReply(t *testing.T) {
	client := &llmtest.MockLLMClient{
		GenerateJSONFunc: func(context.Context, llm.Request) (string, error) {
			return `{"criterion_scores": "excellent"}`, nil
		},
	}

	_, err := NewEngine(client, testConfig(), nil).Score(context.Background(), testBrain(), "text")

	var assessErr *AssessmentError
	require.ErrorAs(t, err, &assessErr)
	assert.Equal(t, "malformed scoring reply", assessErr.Message)
}

func TestScore_CollaboratorFailure(t *testing.T) {
	boom := errors.New("invalid api key")
	client := &llmtest.MockLLMClient{
		GenerateJSONFunc: func(context.Context, llm.Request) (string, error) { return "", boom },
	}

	_, err := NewEngine(client, testConfig(), nil).Score(context.Background(), testBrain(), "text")

	var assessErr *AssessmentError
	require.ErrorAs(t, err, &assessErr)
	assert.ErrorIs(t, err, boom)
}

func TestAssess_RendersBrainTemplate(t *testing.T) {
	brain := testBrain()
	brain.Sections["template"] = types.DocumentAnalysis{Placeholders: []string{"overall_score", "{{summary}}"}}
	client := &llmtest.MockLLMClient{
		GenerateJSONFunc: func(context.Context, llm.Request) (string, error) {
			return `{"criterion_scores": [{"name": "Impact", "score": 90}, {"name": "Feasibility", "score": 90}, {"name": "Value for money", "score": 90}], "summary": "Strong"}`, nil
		},
	}

	got, err := NewEngine(client, testConfig(), nil).Assess(context.Background(), brain, "text", nil)

	require.NoError(t, err)
	assert.Equal(t, brain.SubjectID, got.SubjectID)
	assert.Equal(t, 2, got.BrainVersion)
	assert.NotEqual(t, uuid.Nil, got.ID)
	assert.Equal(t, "overall_score: 90.00\nsummary: Strong\n", got.TemplateOutput)
}

func TestAssess_ExplicitTemplateWins(t *testing.T) {
	client := &llmtest.MockLLMClient{
		GenerateJSONFunc: func(context.Context, llm.Request) (string, error) {
			return `{"criterion_scores": [{"name": "Impact", "score": 60}]}`, nil
		},
	}
	tmpl := "Impact: {{criterion.Impact.score}}"

	got, err := NewEngine(client, testConfig(), nil).Assess(context.Background(), testBrain(), "text", &tmpl)

	require.NoError(t, err)
	assert.Equal(t, "Impact: 60.00", got.TemplateOutput)
}

func TestAssess_DoesNotModifyBrain(t *testing.T) {
	brain := testBrain()
	before := *brain.ScoringConfig
	client := &llmtest.MockLLMClient{
		GenerateJSONFunc: func(context.Context, llm.Request) (string, error) {
			return `{"criterion_scores": []}`, nil
		},
	}

	_, err := NewEngine(client, testConfig(), nil).Assess(context.Background(), brain, "text", nil)

	require.NoError(t, err)
	assert.Equal(t, before, *brain.ScoringConfig)
	assert.Len(t, brain.Sections, 2)
}
