package verdict

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/miradorstack/mirador-triage/internal/models"
	"github.com/miradorstack/mirador-triage/internal/utils"
)

type fakeModel struct {
	answers []string
	errs    []error
	prompts []string
}

func (f *fakeModel) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	for _, m := range messages {
		for _, part := range m.Parts {
			if text, ok := part.(llms.TextContent); ok {
				f.prompts = append(f.prompts, text.Text)
			}
		}
	}
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	answer := f.answers[0]
	if len(f.answers) > 1 {
		f.answers = f.answers[1:]
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: answer}}}, nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func payloads(lines ...string) []models.PromptPayload {
	out := make([]models.PromptPayload, 0, len(lines))
	for _, l := range lines {
		out = append(out, models.PromptPayload{Line: l, Examples: []models.Example{}, Graph: models.EmptyGraph()})
	}
	return out
}

func TestHeuristicVerdicts(t *testing.T) {
	got, err := HeuristicService{}.Analyse(context.Background(), payloads(
		"GET /login?id=1 OR 1=1 from 10.0.0.1 user=mallory",
		"GET /etc/passwd",
		"Nmap scan report for 10.0.0.9",
		"disk error",
	))
	require.NoError(t, err)
	require.Len(t, got, 4)

	assert.Equal(t, AttackSQLInjection, got[0].AttackType)
	assert.True(t, got[0].IsAttack)
	require.Len(t, got[0].Entities, 2)
	assert.Equal(t, []models.Relation{{StartID: "ip_10.0.0.1", EndID: "user_mallory", Type: "RELATED"}}, got[0].Relations)

	assert.Equal(t, AttackSensitiveFile, got[1].AttackType)
	assert.Equal(t, AttackPortScan, got[2].AttackType)
	assert.Empty(t, got[2].Relations)
	assert.False(t, got[3].IsAttack)
	assert.Equal(t, AttackUnknown, got[3].AttackType)
}

func TestLLMServiceParsesBatch(t *testing.T) {
	model := &fakeModel{answers: []string{"```json\n[{\"is_attack\":true,\"attack_type\":\"Port Scan\"},{\"is_attack\":false,\"attack_type\":\"Unknown\"}]\n```"}}
	svc := NewLLMServiceFromModel("fake", model, Config{}, nil)

	got, err := svc.Analyse(context.Background(), payloads("nmap error", "disk error"))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].IsAttack)
	assert.Equal(t, "Port Scan", got[0].AttackType)

	require.Len(t, model.prompts, 1)
	assert.Contains(t, model.prompts[0], `"log": "nmap error"`)
	assert.Contains(t, model.prompts[0], `"log": "disk error"`)
}

func TestLLMServiceDoesNotPadShortAnswers(t *testing.T) {
	model := &fakeModel{answers: []string{`[{"is_attack":true,"attack_type":"X"}]`}}
	svc := NewLLMServiceFromModel("fake", model, Config{}, nil)

	got, err := svc.Analyse(context.Background(), payloads("a", "b", "c"))
	require.NoError(t, err)
	assert.Len(t, got, 1, "alignment is checked by the caller")
}

func TestLLMServiceRetriesTransportErrors(t *testing.T) {
	model := &fakeModel{
		errs:    []error{errors.New("429 quota"), nil},
		answers: []string{`[{"is_attack":false,"attack_type":"Unknown"}]`},
	}
	svc := NewLLMServiceFromModel("fake", model, Config{MaxRetries: 1}, nil)

	got, err := svc.Analyse(context.Background(), payloads("a"))
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Len(t, model.prompts, 2)
}

func TestLLMServiceMalformedAnswer(t *testing.T) {
	model := &fakeModel{answers: []string{"I cannot help with that."}}
	svc := NewLLMServiceFromModel("fake", model, Config{}, nil)

	_, err := svc.Analyse(context.Background(), payloads("a"))
	assert.ErrorIs(t, err, utils.ErrServiceError)
}

func TestLLMServiceExhaustedRetries(t *testing.T) {
	model := &fakeModel{errs: []error{errors.New("boom")}, answers: []string{"[]"}}
	svc := NewLLMServiceFromModel("fake", model, Config{}, nil)

	_, err := svc.Analyse(context.Background(), payloads("a"))
	assert.ErrorIs(t, err, utils.ErrServiceError)
}

func TestParseVerdicts(t *testing.T) {
	got, err := ParseVerdicts(`Here you go: {"is_attack":true,"attack_type":"SQL Injection","entities":[{"id":"ip_1.1.1.1","label":"IP"}]}`)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "ip_1.1.1.1", got[0].Entities[0].ID)

	_, err = ParseVerdicts("[{")
	assert.Error(t, err)
	_, err = ParseVerdicts("nothing")
	assert.Error(t, err)
}

func TestBuildPrompt(t *testing.T) {
	prompt, err := BuildPrompt(payloads("x"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(prompt, "You are a security analyst"))
	assert.Contains(t, prompt, `"graph"`)
}

func TestNewDefaultsToHeuristic(t *testing.T) {
	svc, err := New(context.Background(), Config{}, nil)
	require.NoError(t, err)
	assert.Equal(t, ProviderHeuristic, svc.Name())

	_, err = New(context.Background(), Config{Provider: "gpt"}, nil)
	assert.Error(t, err)
}
