package oracle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkgrade/inkgrade-backend/internal/config"
)

func testClient(t *testing.T, handler http.HandlerFunc) *ChatClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewChatClient(&config.Config{
		OracleBaseURL: srv.URL,
		OracleAPIKey:  "test-key",
		OracleModel:   "test-model",
		OracleTimeout: 5 * time.Second,
	}, zerolog.Nop())
}

func chatReply(t *testing.T, w http.ResponseWriter, verdict string) {
	t.Helper()
	resp := map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": verdict}},
		},
		"usage": map[string]any{"total_tokens": 321},
	}
	require.NoError(t, json.NewEncoder(w).Encode(resp))
}

func sampleRequest() *GradeRequest {
	return &GradeRequest{
		SubmissionID: uuid.New(),
		ExamTitle:    "Stoichiometry Midterm",
		MaxScore:     40,
		Tasks: []TaskContext{
			{Task: "Balancing", Variant: "B", Statement: "Balance the equation", ReferenceSolution: "2H2 + O2 -> 2H2O", Rubric: "method 5, result 5", MaxScore: 10},
			{Task: "Molarity", Statement: "Compute molarity", MaxScore: 30},
		},
		ImageURLs: []string{"https://blob.test/page1", "https://blob.test/page2"},
	}
}

func TestGradeParsesVerdict(t *testing.T) {
	var captured chatRequest
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		chatReply(t, w, `{
			"unreadable": false,
			"unreadable_reason": null,
			"total_score": 31.5,
			"max_score": 40,
			"criteria_scores": [
				{"criterion_name": "method", "score": 4, "max_score": 5, "comment": "minor slip"}
			],
			"feedback": "solid work",
			"per_page_transcriptions": ["page one text", "page two text"]
		}`)
	})

	result, err := client.Grade(context.Background(), sampleRequest())
	require.NoError(t, err)

	assert.False(t, result.Unreadable)
	assert.Equal(t, 31.5, result.TotalScore)
	assert.Equal(t, "solid work", result.Feedback)
	require.Len(t, result.CriteriaScores, 1)
	assert.Equal(t, "method", result.CriteriaScores[0].CriterionName)
	assert.Equal(t, []string{"page one text", "page two text"}, result.PageTranscriptions)
	assert.NotEmpty(t, result.Raw)

	// The request carries the model, strict-JSON mode, and one image part per page.
	assert.Equal(t, "test-model", captured.Model)
	require.NotNil(t, captured.ResponseFormat)
	assert.Equal(t, "json_object", captured.ResponseFormat.Type)
	require.Len(t, captured.Messages, 2)

	parts, ok := captured.Messages[1].Content.([]any)
	require.True(t, ok)
	require.Len(t, parts, 3) // text + 2 images

	text, ok := parts[0].(map[string]any)
	require.True(t, ok)
	prompt, _ := text["text"].(string)
	assert.Contains(t, prompt, "Stoichiometry Midterm")
	assert.Contains(t, prompt, "Reference solution")
	assert.Contains(t, prompt, "variant B")
}

func TestGradeUnreadableIsNotAnError(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		chatReply(t, w, `{"unreadable": true, "unreadable_reason": "photo is blurred", "total_score": null}`)
	})

	result, err := client.Grade(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.True(t, result.Unreadable)
	assert.Equal(t, "photo is blurred", result.UnreadableReason)
}

func TestGradeMalformedVerdict(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		chatReply(t, w, "Sure! Here is the grade: 35/40.")
	})

	_, err := client.Grade(context.Background(), sampleRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse oracle verdict")
}

func TestGradeUpstreamFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantErr string
	}{
		{
			name: "http error status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusServiceUnavailable)
			},
			wantErr: "status 503",
		},
		{
			name: "api error payload",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"error":{"message":"invalid image","type":"invalid_request_error"}}`))
			},
			wantErr: "invalid image",
		},
		{
			name: "empty choices",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"choices":[]}`))
			},
			wantErr: "no choices",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := testClient(t, tt.handler)
			_, err := client.Grade(context.Background(), sampleRequest())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestGradeHonorsContextCancel(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Grade(ctx, sampleRequest())
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "context deadline exceeded") ||
		strings.Contains(err.Error(), "oracle request"))
}
