package grading

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/JaimeStill/go-agents/pkg/agent"
	gaconfig "github.com/JaimeStill/go-agents/pkg/config"
	"github.com/JaimeStill/go-agents/pkg/format"

	"github.com/inkwell-ai/bluebook/internal/rubric"
	"github.com/inkwell-ai/bluebook/pkg/formatting"
)

// PageImage is one submitted page handed to a grading worker.
type PageImage struct {
	Index int
	Data  []byte
	Blank bool
}

// Service grades a single page image against a rubric. The production
// implementation drives a vision-capable model; tests substitute fakes.
type Service interface {
	GradePage(ctx context.Context, r *rubric.Rubric, page PageImage) (*PageResult, error)
}

type pointResponse struct {
	Description string  `json:"description"`
	Value       float64 `json:"value"`
	Awarded     float64 `json:"awarded"`
	Comment     string  `json:"comment,omitempty"`
}

type questionResponse struct {
	QuestionID     string          `json:"question_id"`
	Confidence     float64         `json:"confidence"`
	AnswerComplete bool            `json:"answer_complete"`
	Points         []pointResponse `json:"scoring_points"`
}

type pageGradeResponse struct {
	BlankPage   bool               `json:"blank_page"`
	StudentName string             `json:"student_name,omitempty"`
	StudentID   string             `json:"student_id,omitempty"`
	StudentConf float64            `json:"student_confidence,omitempty"`
	Questions   []questionResponse `json:"questions"`
}

type agentService struct {
	cfg    gaconfig.AgentConfig
	logger *slog.Logger

	// newAgent is replaced in tests with a mock agent constructor.
	newAgent func() (agent.Agent, error)
}

// NewAgentService creates a Service backed by a vision agent. A fresh agent
// is constructed per call so concurrent workers never share client state.
func NewAgentService(cfg gaconfig.AgentConfig, logger *slog.Logger) Service {
	s := &agentService{
		cfg:    cfg,
		logger: logger.With("system", "grading-service"),
	}
	s.newAgent = func() (agent.Agent, error) {
		return agent.New(&s.cfg)
	}
	return s
}

func (s *agentService) GradePage(ctx context.Context, r *rubric.Rubric, page PageImage) (*PageResult, error) {
	a, err := s.newAgent()
	if err != nil {
		return nil, fmt.Errorf("%w: create agent: %w", ErrServiceFailed, err)
	}

	prompt, err := composePrompt(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrServiceFailed, err)
	}

	images := []format.Image{{Data: page.Data, Format: imageFormat(page.Data)}}
	resp, err := a.Vision(ctx, prompt, images)
	if err != nil {
		return nil, fmt.Errorf("%w: vision call: %w", ErrServiceFailed, err)
	}

	parsed, err := formatting.Parse[pageGradeResponse](resp.Text())
	if err != nil {
		return nil, fmt.Errorf("%w: parse response: %w", ErrServiceFailed, err)
	}

	return buildPageResult(page.Index, r, parsed), nil
}

// composePrompt builds the grading system prompt: fixed instructions plus
// the rubric serialized as JSON. Prompt wording is deliberately minimal;
// the scoring standard itself carries the grading intent.
func composePrompt(r *rubric.Rubric) (string, error) {
	rubricJSON, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("serialize rubric: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("You are grading one scanned exam page against the scoring standard below.\n")
	sb.WriteString("Award each scoring point independently. Report detected student identity if present.\n")
	sb.WriteString("Respond with JSON only: {blank_page, student_name, student_id, student_confidence, questions:[{question_id, confidence, answer_complete, scoring_points:[{description, value, awarded, comment}]}]}.\n\n")
	sb.WriteString("Scoring standard:\n\n")
	sb.Write(rubricJSON)

	return sb.String(), nil
}

func buildPageResult(pageIndex int, r *rubric.Rubric, resp pageGradeResponse) *PageResult {
	result := &PageResult{
		PageIndex: pageIndex,
		Blank:     resp.BlankPage,
		Results:   make([]QuestionResult, 0, len(resp.Questions)),
	}

	if resp.StudentName != "" || resp.StudentID != "" {
		result.StudentInfo = &StudentInfo{
			Name:       resp.StudentName,
			StudentID:  resp.StudentID,
			Confidence: resp.StudentConf,
		}
	}

	for _, q := range resp.Questions {
		qr := QuestionResult{
			ID:                  uuid.NewString(),
			QuestionID:          q.QuestionID,
			MaxScore:            r.MaxScore(q.QuestionID),
			Confidence:          clamp01(q.Confidence),
			PageIndices:         []int{pageIndex},
			AnswerComplete:      q.AnswerComplete,
			ScoringPointResults: make([]PointResult, 0, len(q.Points)),
		}

		for _, p := range q.Points {
			qr.ScoringPointResults = append(qr.ScoringPointResults, PointResult{
				Description: p.Description,
				Value:       p.Value,
				Awarded:     clampAward(p.Awarded, p.Value),
				Comment:     p.Comment,
			})
		}

		qr.RecomputeScore()
		result.Results = append(result.Results, qr)
	}

	return result
}

// imageFormat sniffs the encoding so the provider receives an accurate
// media type. Pages arrive as PNG except for legacy JPEG scans.
func imageFormat(data []byte) string {
	if len(data) >= 2 && data[0] == 0xFF && data[1] == 0xD8 {
		return "jpeg"
	}
	return "png"
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// clampAward keeps a model-awarded value within [0, point value].
func clampAward(awarded, value float64) float64 {
	if awarded < 0 {
		return 0
	}
	if value > 0 && awarded > value {
		return value
	}
	return awarded
}
