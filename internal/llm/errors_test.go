package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/api/googleapi"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), true},
		{"canceled", context.Canceled, false},
		{"gemini throttled", &APICallError{Provider: ProviderGemini, Cause: &googleapi.Error{Code: http.StatusTooManyRequests}}, true},
		{"gemini bad request", &APICallError{Provider: ProviderGemini, Cause: &googleapi.Error{Code: http.StatusBadRequest}}, false},
		{"openai 503", &APICallError{Provider: ProviderOpenAI, StatusCode: http.StatusServiceUnavailable}, true},
		{"openai 401", &APICallError{Provider: ProviderOpenAI, StatusCode: http.StatusUnauthorized}, false},
		{"transport failure", &APICallError{Provider: ProviderOpenAI, Message: "request failed", Cause: errors.New("connection reset")}, true},
		{"plain error", errors.New("no candidates in response"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestAPICallError_Message(t *testing.T) {
	err := &APICallError{Provider: ProviderOpenAI, StatusCode: 500, Message: "upstream"}
	assert.Contains(t, err.Error(), "status 500")

	cause := errors.New("dial tcp")
	err = &APICallError{Provider: ProviderGemini, Message: "failed", Cause: cause}
	assert.ErrorIs(t, err, cause)
}
