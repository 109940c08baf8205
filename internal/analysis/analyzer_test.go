package analysis

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/knowledge-brain/internal/llm"
	"github.com/jonathan/knowledge-brain/internal/llm/llmtest"
	"github.com/jonathan/knowledge-brain/internal/types"
)

func testConfig() Config {
	return Config{
		MaxChunkChars: 80000,
		Tier:          llm.TierStandard,
		Retry: llm.RetryPolicy{
			MaxAttempts:     3,
			InitialInterval: time.Millisecond,
			MaxInterval:     2 * time.Millisecond,
			CallTimeout:     time.Second,
		},
	}
}

func TestAnalyze_LargeDocumentIsAnalyzedInThreeChunks(t *testing.T) {
	calls := 0
	client := &llmtest.MockLLMClient{
		GenerateJSONFunc: func(_ context.Context, req llm.Request) (string, error) {
			calls++
			return fmt.Sprintf(`{"rules": ["rule from chunk %d", "shared rule"], "keywords": ["k%d"]}`, calls, calls), nil
		},
	}
	var progress [][2]int

	got, err := NewAnalyzer(client, testConfig(), nil).Analyze(context.Background(), types.DocumentTypeCriteria,
		strings.Repeat("x", 200000), func(done, total int) {
			progress = append(progress, [2]int{done, total})
		})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, [][2]int{{1, 3}, {2, 3}, {3, 3}}, progress)
	assert.Equal(t, []string{"rule from chunk 1", "shared rule", "rule from chunk 2", "rule from chunk 3"}, got.Rules)
	assert.Equal(t, 3, got.ChunkCount)

	reqs := client.Requests()
	require.Len(t, reqs, 3)
	assert.Contains(t, reqs[1].Content, "Chunk 2 of 3")
	assert.Contains(t, reqs[0].Content, "assessment criteria")
	assert.NotEmpty(t, reqs[0].SystemInstructions)
}

func TestAnalyze_MalformedReplyDegrades(t *testing.T) {
	client := &llmtest.MockLLMClient{
		GenerateJSONFunc: func(context.Context, llm.Request) (string, error) {
			return "Sorry, I could not read that document.", nil
		},
	}

	got, err := NewAnalyzer(client, testConfig(), nil).Analyze(context.Background(), types.DocumentTypeTemplate, "Dear {{name}}", nil)

	require.NoError(t, err)
	assert.True(t, got.Degraded)
	assert.Equal(t, "Sorry, I could not read that document.", got.RawResponse)
	assert.Empty(t, got.Rules)
	assert.NotNil(t, got.Criteria)
}

func TestAnalyze_WrongShapeDegrades(t *testing.T) {
	client := &llmtest.MockLLMClient{
		GenerateJSONFunc: func(context.Context, llm.Request) (string, error) {
			return `{"rules": "one string instead of a list"}`, nil
		},
	}

	got, err := NewAnalyzer(client, testConfig(), nil).Analyze(context.Background(), types.DocumentTypePolicy, "text", nil)

	require.NoError(t, err)
	assert.True(t, got.Degraded)
}

func TestAnalyze_RetriesTransientFailures(t *testing.T) {
	calls := 0
	client := &llmtest.MockLLMClient{
		GenerateJSONFunc: func(context.Context, llm.Request) (string, error) {
			calls++
			if calls == 1 {
				return "", &llm.APICallError{Provider: llm.ProviderGemini, StatusCode: http.StatusTooManyRequests, Message: "quota"}
			}
			return `{"title": "Application Form", "requirements": ["Project budget"]}`, nil
		},
	}

	got, err := NewAnalyzer(client, testConfig(), nil).Analyze(context.Background(), types.DocumentTypeApplicationForm, "Budget?", nil)

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, "Application Form", got.Title)
	assert.Equal(t, []string{"Project budget"}, got.Requirements)
}

func TestAnalyze_ExhaustedRetriesReturnTransientError(t *testing.T) {
	client := &llmtest.MockLLMClient{
		GenerateJSONFunc: func(context.Context, llm.Request) (string, error) {
			return "", &llm.APICallError{Provider: llm.ProviderOpenAI, StatusCode: http.StatusBadGateway, Message: "bad gateway"}
		},
	}

	_, err := NewAnalyzer(client, testConfig(), nil).Analyze(context.Background(), types.DocumentTypeCriteria, "criteria", nil)

	var transient *TransientError
	require.True(t, errors.As(err, &transient))
	assert.Equal(t, 1, transient.Chunk)
	assert.Len(t, client.Requests(), 3)
}

func TestAnalyze_RejectedRequestReturnsCollaboratorError(t *testing.T) {
	client := &llmtest.MockLLMClient{
		GenerateJSONFunc: func(context.Context, llm.Request) (string, error) {
			return "", &llm.APICallError{Provider: llm.ProviderOpenAI, StatusCode: http.StatusUnauthorized, Message: "bad key"}
		},
	}

	_, err := NewAnalyzer(client, testConfig(), nil).Analyze(context.Background(), types.DocumentTypeCriteria, "criteria", nil)

	var rejected *CollaboratorError
	require.True(t, errors.As(err, &rejected))
	assert.Len(t, client.Requests(), 1)
}

func TestAnalyze_PolicyRulesArePreExtracted(t *testing.T) {
	client := &llmtest.MockLLMClient{
		GenerateJSONFunc: func(context.Context, llm.Request) (string, error) {
			return `{"rules": ["Keep records for seven years"]}`, nil
		},
	}
	policy := "**3. Registration**\n- Applicants must be registered\n- **Source**: Regulations 2.1"

	got, err := NewAnalyzer(client, testConfig(), nil).Analyze(context.Background(), types.DocumentTypePolicy, policy, nil)

	require.NoError(t, err)
	require.Len(t, got.Rules, 2)
	assert.Equal(t, "[CRITICAL] 3. Registration: Applicants must be registered (Source: Regulations 2.1)", got.Rules[0])
	assert.Equal(t, "Keep records for seven years", got.Rules[1])
}

func TestAnalyze_EmptyTextMakesNoCalls(t *testing.T) {
	client := &llmtest.MockLLMClient{}

	got, err := NewAnalyzer(client, testConfig(), nil).Analyze(context.Background(), types.DocumentTypeSupporting, "", nil)

	require.NoError(t, err)
	assert.Empty(t, client.Requests())
	assert.Equal(t, 0, got.ChunkCount)
}
