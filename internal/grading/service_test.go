package grading

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/JaimeStill/go-agents/pkg/agent"
	gaconfig "github.com/JaimeStill/go-agents/pkg/config"
	"github.com/JaimeStill/go-agents/pkg/mock"
	"github.com/JaimeStill/go-agents/pkg/response"

	"github.com/inkwell-ai/bluebook/internal/rubric"
)

func serviceLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func serviceRubric() *rubric.Rubric {
	return &rubric.Rubric{
		Title: "Quiz",
		Questions: []rubric.Question{
			{ID: "1", MaxScore: 5, ScoringPoints: []rubric.ScoringPoint{
				{Description: "setup", Value: 3},
				{Description: "conclusion", Value: 2},
			}},
		},
	}
}

// visionService wires the agent service to a mock agent that answers every
// vision call with the given text.
func visionService(text string, visionErr error) *agentService {
	svc := NewAgentService(gaconfig.AgentConfig{}, serviceLogger()).(*agentService)
	resp := &response.Response{
		Content: []response.ContentBlock{response.TextBlock{Text: text}},
	}
	mocked := mock.NewMockAgent(mock.WithVisionResponse(resp, visionErr))
	svc.newAgent = func() (agent.Agent, error) { return mocked, nil }
	return svc
}

func TestGradePageParsesVisionResponse(t *testing.T) {
	svc := visionService("```json\n"+`{
		"blank_page": false,
		"student_name": "Alice Moreau",
		"student_id": "am-17",
		"student_confidence": 0.85,
		"questions": [{
			"question_id": "1",
			"confidence": 1.2,
			"answer_complete": true,
			"scoring_points": [
				{"description": "setup", "value": 3, "awarded": 2},
				{"description": "conclusion", "value": 2, "awarded": 5}
			]
		}]
	}`+"\n```", nil)

	result, err := svc.GradePage(context.Background(), serviceRubric(), PageImage{Index: 3, Data: []byte("scan")})
	if err != nil {
		t.Fatalf("grade page: %v", err)
	}

	if result.PageIndex != 3 {
		t.Errorf("page index: got %d, want 3", result.PageIndex)
	}
	if result.StudentInfo == nil || result.StudentInfo.StudentID != "am-17" {
		t.Fatalf("student info: %+v", result.StudentInfo)
	}
	if len(result.Results) != 1 {
		t.Fatalf("questions: got %d, want 1", len(result.Results))
	}

	qr := result.Results[0]
	if qr.MaxScore != 5 {
		t.Errorf("max score: got %g, want the rubric value 5", qr.MaxScore)
	}
	// Over-awarded points clamp to their value: 2 + min(5, 2) = 4.
	if qr.Score != 4 {
		t.Errorf("score: got %g, want 4", qr.Score)
	}
	if qr.Confidence != 1 {
		t.Errorf("confidence: got %g, want clamped to 1", qr.Confidence)
	}
}

func TestGradePageVisionError(t *testing.T) {
	svc := visionService("", errors.New("model unavailable"))

	_, err := svc.GradePage(context.Background(), serviceRubric(), PageImage{Index: 0, Data: []byte("scan")})
	if !errors.Is(err, ErrServiceFailed) {
		t.Errorf("got %v, want ErrServiceFailed", err)
	}
}

func TestGradePageUnparsableResponse(t *testing.T) {
	svc := visionService("I could not find any JSON to produce.", nil)

	_, err := svc.GradePage(context.Background(), serviceRubric(), PageImage{Index: 0, Data: []byte("scan")})
	if !errors.Is(err, ErrServiceFailed) {
		t.Errorf("got %v, want ErrServiceFailed", err)
	}
}

func TestImageFormat(t *testing.T) {
	if got := imageFormat([]byte{0xFF, 0xD8, 0xFF}); got != "jpeg" {
		t.Errorf("jpeg magic: got %q", got)
	}
	if got := imageFormat([]byte{0x89, 'P', 'N', 'G'}); got != "png" {
		t.Errorf("png magic: got %q", got)
	}
}
