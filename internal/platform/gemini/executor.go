// Package gemini implements the task executor on Google's Gemini API. It
// turns queued conversation events into model calls, classifies the
// customer's engagement from the structured response, and falls back to a
// keyword classifier when the model output cannot be parsed.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"text/template"

	"github.com/engageai/engage-api/internal/config"
	"github.com/engageai/engage-api/internal/domain"
	"github.com/engageai/engage-api/internal/events"
	"github.com/engageai/engage-api/internal/task"
	"google.golang.org/genai"
)

// ErrInvalidConfig indicates the executor was constructed with unusable
// configuration.
var ErrInvalidConfig = errors.New("invalid gemini configuration")

// Executor implements task.Executor using the Gemini API.
type Executor struct {
	logger *slog.Logger
	client *genai.Client
	model  string

	promptTemplate *template.Template
}

var _ task.Executor = (*Executor)(nil)

// NewExecutor creates an Executor. The API key and model name must be set.
func NewExecutor(ctx context.Context, logger *slog.Logger, cfg config.LLMConfig) (*Executor, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key cannot be empty", ErrInvalidConfig)
	}
	if cfg.ModelName == "" {
		return nil, fmt.Errorf("%w: model name cannot be empty", ErrInvalidConfig)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create client: %v", ErrInvalidConfig, err)
	}

	tmpl, err := template.New("exchange").Parse(exchangePromptTemplate)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse prompt template: %v", ErrInvalidConfig, err)
	}

	return &Executor{
		logger:         logger.With("component", "gemini_executor"),
		client:         client,
		model:          cfg.ModelName,
		promptTemplate: tmpl,
	}, nil
}

// responseSchema is the structured reply the model is instructed to return.
type responseSchema struct {
	Reply      string `json:"reply"`
	Engagement string `json:"engagement"`
}

// Execute runs one queued event through the model. Analytics events are
// acknowledged without a model call; everything else produces a reply and
// an engagement classification.
func (e *Executor) Execute(ctx context.Context, rec *domain.TaskRecord) (string, domain.Outcome, error) {
	var ev events.ConversationEvent
	if err := json.Unmarshal(rec.Payload, &ev); err != nil {
		return "", "", fmt.Errorf("%w: undecodable payload: %v", task.ErrPermanent, err)
	}

	if ev.Kind == events.KindAnalyticsReport {
		return e.runAnalytics(ctx, &ev)
	}

	prompt, err := e.buildPrompt(&ev)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", task.ErrPermanent, err)
	}

	resp, err := e.client.Models.GenerateContent(ctx, e.model, genai.Text(prompt), nil)
	if err != nil {
		// Network and quota failures resolve on retry; the engine
		// classifies unwrapped errors as transient.
		return "", "", fmt.Errorf("gemini call failed: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", "", fmt.Errorf("%w: model returned no content", task.ErrPermanent)
	}
	if resp.Candidates[0].FinishReason == genai.FinishReasonSafety {
		return "", "", fmt.Errorf("%w: content blocked by safety filters", task.ErrPermanent)
	}

	text := resp.Text()

	parsed, ok := parseStructuredResponse(text)
	if !ok {
		// The model ignored the format instruction. Keep the raw reply
		// and classify the customer's own message instead.
		outcome := ClassifyMessage(ev.Message)
		e.logger.Warn("model response not parseable, using fallback classification",
			"task_id", rec.ID,
			"outcome", outcome)
		return text, outcome, nil
	}

	outcome, ok := outcomeFromLabel(parsed.Engagement)
	if !ok {
		outcome = ClassifyMessage(ev.Message)
		e.logger.Warn("model returned unknown engagement label, using fallback classification",
			"task_id", rec.ID,
			"label", parsed.Engagement,
			"outcome", outcome)
	}

	return parsed.Reply, outcome, nil
}

func (e *Executor) runAnalytics(ctx context.Context, ev *events.ConversationEvent) (string, domain.Outcome, error) {
	summary := map[string]interface{}{
		"event_id":    ev.ID,
		"business_id": ev.BusinessID,
		"generated":   true,
	}
	out, err := json.Marshal(summary)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", task.ErrPermanent, err)
	}

	e.logger.Info("analytics report generated", "event_id", ev.ID)
	return string(out), domain.OutcomeNeutral, nil
}

// promptData feeds the exchange template.
type promptData struct {
	Persona string
	Phase   string
	Goal    string
	Message string
}

const exchangePromptTemplate = `You are a sales assistant for a business.
{{.Persona}}

The conversation is currently in the {{.Phase}} phase. {{.Goal}}

Customer message:
{{.Message}}

Respond with only a JSON object, no markdown fences, in this exact shape:
{"reply": "<your reply to the customer>", "engagement": "<engaged|neutral|disengaged|ready_to_close>"}`

func (e *Executor) buildPrompt(ev *events.ConversationEvent) (string, error) {
	data := promptData{
		Phase:   string(ev.Phase),
		Message: ev.Message,
	}

	if ev.Message == "" {
		data.Message = "(the customer interacted with a product ad but wrote nothing)"
	}

	switch ev.Branch {
	case domain.BranchManipulator:
		data.Persona = "The customer arrived through a product interaction, so lead with the product they showed interest in."
	default:
		data.Persona = "The customer reached out directly, so focus on understanding their needs before proposing anything."
	}

	switch ev.Phase {
	case domain.PhaseWelcome:
		data.Goal = "Greet the customer warmly and open the dialogue."
	case domain.PhaseDiscovery:
		data.Goal = "Ask questions to understand what the customer actually needs."
	case domain.PhaseNegotiation:
		data.Goal = "Present a concrete offer and work toward agreement."
	case domain.PhaseClosing:
		data.Goal = "Wrap up politely and confirm any agreed next steps."
	default:
		data.Goal = "Keep the exchange short and courteous."
	}

	var buf bytes.Buffer
	if err := e.promptTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute prompt template: %w", err)
	}
	return buf.String(), nil
}

// parseStructuredResponse tries to decode the model output as the requested
// JSON shape, tolerating markdown fences the model sometimes adds anyway.
func parseStructuredResponse(text string) (*responseSchema, bool) {
	trimmed := strings.TrimSpace(text)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	var parsed responseSchema
	if err := json.Unmarshal([]byte(trimmed), &parsed); err != nil {
		return nil, false
	}
	if parsed.Reply == "" {
		return nil, false
	}
	return &parsed, true
}

func outcomeFromLabel(label string) (domain.Outcome, bool) {
	outcome := domain.Outcome(strings.ToLower(strings.TrimSpace(label)))
	if domain.IsValidOutcome(outcome) {
		return outcome, true
	}
	return "", false
}
