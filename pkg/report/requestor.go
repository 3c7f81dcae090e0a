package report

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/teslashibe/go-esol/internal/httpc"
	"github.com/teslashibe/go-esol/pkg/transcript"
)

// Generator produces a report from a finished transcript.
type Generator interface {
	Generate(ctx context.Context, turns []transcript.Turn) (*Report, error)
}

// Requestor issues the assessment request against the Gemini
// generateContent endpoint.
type Requestor struct {
	config *Config
	http   *http.Client
	logger *slog.Logger
}

// New creates a Requestor.
func New(opts ...Option) (*Requestor, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = httpc.NewClient(cfg.Timeout)
	}

	return &Requestor{
		config: cfg,
		http:   hc,
		logger: cfg.Logger.With("component", "report"),
	}, nil
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	ResponseMIMEType string  `json:"responseMimeType"`
	ResponseSchema   *schema `json:"responseSchema"`
}

type generateRequest struct {
	SystemInstruction content          `json:"systemInstruction"`
	Contents          []content        `json:"contents"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

// geminiResponse is the generateContent response format.
type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	Error struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
		Status  string `json:"status"`
	} `json:"error"`
}

func newGenerateRequest(turns []transcript.Turn) generateRequest {
	return generateRequest{
		SystemInstruction: content{Parts: []part{{Text: FeedbackPrompt}}},
		Contents: []content{{
			Role:  "user",
			Parts: []part{{Text: UserPrompt(turns)}},
		}},
		GenerationConfig: generationConfig{
			ResponseMIMEType: "application/json",
			ResponseSchema:   responseSchema(),
		},
	}
}

// Generate makes exactly one request. Any failure is returned wrapped in
// ErrReportGenerationFailed and no report is produced.
func (r *Requestor) Generate(ctx context.Context, turns []transcript.Turn) (*Report, error) {
	start := time.Now()
	rep, err := r.generate(ctx, turns)
	if err != nil {
		r.logger.Warn("report generation failed", "error", err, "turns", len(turns))
		return nil, fail(err)
	}
	r.logger.Info("report generated",
		"criteria", len(rep.Criteria),
		"latency_ms", time.Since(start).Milliseconds())
	return rep, nil
}

func (r *Requestor) generate(ctx context.Context, turns []transcript.Turn) (*Report, error) {
	if len(turns) == 0 {
		return nil, ErrEmptyTranscript
	}

	body, err := json.Marshal(newGenerateRequest(turns))
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		strings.TrimRight(r.config.BaseURL, "/"), r.config.Model, url.QueryEscape(r.config.APIKey))

	resp, err := httpc.PostJSON(ctx, r.http, endpoint, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, parseError(resp)
	}

	var result geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if result.Error.Message != "" {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    result.Error.Message,
			Status:     result.Error.Status,
		}
	}
	if len(result.Candidates) == 0 || len(result.Candidates[0].Content.Parts) == 0 {
		return nil, ErrEmptyResponse
	}

	text := result.Candidates[0].Content.Parts[0].Text
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyResponse
	}
	return Parse([]byte(text))
}

func parseError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Code    int    `json:"code"`
			Status  string `json:"status"`
		} `json:"error"`
	}

	apiErr := &APIError{StatusCode: resp.StatusCode, Message: string(body)}
	if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
		apiErr.Message = errResp.Error.Message
		apiErr.Status = errResp.Error.Status
	}
	return apiErr
}
