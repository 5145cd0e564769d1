package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/inkgrade/inkgrade-backend/internal/config"
)

const gradingSystemPrompt = `You are an expert examiner grading handwritten exam work from photographs.
Score the student's solution against the provided rubric and reference solution.

IMPORTANT: if you cannot read the handwriting or the images are unusable, you MUST
return "unreadable": true together with a concrete description of the problem.

Respond with strict JSON only, exactly this shape:
{
  "unreadable": false,
  "unreadable_reason": null,
  "total_score": <number>,
  "max_score": <number>,
  "criteria_scores": [
    {"criterion_name": "...", "score": <number>, "max_score": <number>, "comment": "..."}
  ],
  "feedback": "overall feedback for the student",
  "recommendations": ["..."],
  "full_transcription_md": "verbatim transcription of the student's work, Markdown with LaTeX ($...$), no corrections",
  "per_page_transcriptions": ["verbatim transcription of page 1", "page 2", "..."]
}`

// ChatClient implements Client against an OpenAI-compatible chat completions
// endpoint. One request per submission: all pages travel as image_url parts
// of a single user message.
type ChatClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	log        zerolog.Logger
}

func NewChatClient(cfg *config.Config, log zerolog.Logger) *ChatClient {
	return &ChatClient{
		httpClient: &http.Client{Timeout: cfg.OracleTimeout},
		baseURL:    strings.TrimRight(cfg.OracleBaseURL, "/"),
		apiKey:     cfg.OracleAPIKey,
		model:      cfg.OracleModel,
		log:        log.With().Str("component", "oracle").Logger(),
	}
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role string `json:"role"`
	// Content is a plain string for the system message and a []contentPart
	// for the multimodal user message.
	Content any `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageRef `json:"image_url,omitempty"`
}

type imageRef struct {
	URL string `json:"url"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Grade sends one grading request and parses the verdict. Any transport
// error, API error, empty choice list, or malformed verdict JSON is returned
// as an error; the caller decides whether to retry.
func (c *ChatClient) Grade(ctx context.Context, req *GradeRequest) (*GradeResult, error) {
	parts := []contentPart{{Type: "text", Text: buildUserPrompt(req)}}
	for _, url := range req.ImageURLs {
		parts = append(parts, contentPart{Type: "image_url", ImageURL: &imageRef{URL: url}})
	}

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: gradingSystemPrompt},
			{Role: "user", Content: parts},
		},
		ResponseFormat: &responseFormat{Type: "json_object"},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("oracle request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("oracle returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, fmt.Errorf("decode oracle response: %w", err)
	}
	if chatResp.Error != nil {
		return nil, fmt.Errorf("oracle error (%s): %s", chatResp.Error.Type, chatResp.Error.Message)
	}
	if len(chatResp.Choices) == 0 {
		return nil, fmt.Errorf("oracle response has no choices")
	}

	verdict := json.RawMessage(chatResp.Choices[0].Message.Content)
	result := &GradeResult{}
	if err := json.Unmarshal(verdict, result); err != nil {
		return nil, fmt.Errorf("parse oracle verdict: %w", err)
	}
	result.Raw = verdict

	logEvt := c.log.Info().
		Str("submission_id", req.SubmissionID.String()).
		Dur("duration", time.Since(start)).
		Bool("unreadable", result.Unreadable)
	if chatResp.Usage != nil {
		logEvt = logEvt.Int("tokens", chatResp.Usage.TotalTokens)
	}
	logEvt.Msg("Oracle verdict received")

	return result, nil
}

// buildUserPrompt renders the exam context: every assigned variant with its
// statement, reference solution and rubric, plus the score ceiling.
func buildUserPrompt(req *GradeRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Exam: %s\nMaximum total score: %g\n", req.ExamTitle, req.MaxScore)

	for i, t := range req.Tasks {
		fmt.Fprintf(&b, "\n--- Task %d: %s", i+1, t.Task)
		if t.Variant != "" {
			fmt.Fprintf(&b, " (variant %s)", t.Variant)
		}
		fmt.Fprintf(&b, " — max %g points ---\n", t.MaxScore)
		fmt.Fprintf(&b, "Statement:\n%s\n", t.Statement)
		if t.ReferenceSolution != "" {
			fmt.Fprintf(&b, "Reference solution:\n%s\n", t.ReferenceSolution)
		}
		if t.Rubric != "" {
			fmt.Fprintf(&b, "Grading rubric:\n%s\n", t.Rubric)
		}
	}

	b.WriteString("\nGrade the student's handwritten solution shown in the attached images against the rubric.")
	b.WriteString("\nYou MUST answer with the JSON format described in the system prompt.")
	return b.String()
}
