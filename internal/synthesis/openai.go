package synthesis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ballotd/internal/stance"
)

// Config holds configuration for the OpenAI-compatible synthesizer.
type Config struct {
	// BaseURL is the chat completion endpoint. Any OpenAI-compatible
	// server works (OpenAI, a local vLLM, a test stub).
	BaseURL string

	// APIKey authenticates against the provider.
	APIKey string

	// Model is the chat model name.
	Model string
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("%w: API key required", ErrInvalidConfig)
	}
	if c.Model == "" {
		return fmt.Errorf("%w: model required", ErrInvalidConfig)
	}
	return nil
}

// Service implements Synthesizer using an OpenAI-compatible chat model via
// langchaingo.
type Service struct {
	llm    llms.Model
	logger *zap.Logger
}

// NewService creates a synthesizer backed by the configured chat model.
func NewService(cfg Config, logger *zap.Logger) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []openai.Option{
		openai.WithToken(cfg.APIKey),
		openai.WithModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}

	return &Service{llm: llm, logger: logger}, nil
}

const systemPrompt = "You are a JSON generator producing political stance analysis. " +
	"Output only a JSON array, no markdown fences, no prose."

// Synthesize asks the model to judge the request's issue from the provided
// sources and parses the reply into stance cards.
func (s *Service) Synthesize(ctx context.Context, req *Request) ([]stance.StanceCard, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, buildPrompt(req)),
	}

	resp, err := s.llm.GenerateContent(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("synthesis request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices returned", ErrMalformedResponse)
	}

	cards, err := parseCards(resp.Choices[0].Content, req)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("synthesis completed",
		zap.String("issue", req.Issue),
		zap.Int("cards", len(cards)))
	return cards, nil
}

// buildPrompt assembles the source digest and output contract.
func buildPrompt(req *Request) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Issue under analysis: %s\n", req.Issue)
	fmt.Fprintf(&sb, "Candidates researched: %s\n\n", strings.Join(req.Subjects, ", "))

	sb.WriteString("Known candidate field:\n")
	for _, c := range req.Roster {
		fmt.Fprintf(&sb, "- %s (%s): %s\n", c.Name, c.Party, c.Bio)
	}

	sb.WriteString("\nCollected sources:\n")
	for i, src := range req.Sources {
		fmt.Fprintf(&sb, "Source %d: %s\nURL: %s\nExcerpt: %s\n\n", i+1, src.Title, src.URL, src.Summary)
	}

	sb.WriteString(`Based on the sources, produce stance cards for this issue.
Return a JSON array with this exact shape:
[
  {
    "question": "A controversial yes/no policy question",
    "context": "One sentence of objective context",
    "analysis": "Two or three plain-language sentences explaining the question",
    "alignments": [
      {"candidate": "Exact candidate name from the field", "alignment": "supports", "source_url": "https://...", "confidence": 0.8}
    ]
  }
]
Rules:
- alignment must be exactly "supports" or "opposes".
- Cover at least 3 distinct candidates per card when the sources allow it.
- Only use candidate names from the known field.
- Omit cards you cannot ground in the sources.`)

	return sb.String()
}

// cardPayload mirrors the JSON contract the model is instructed to emit.
type cardPayload struct {
	Question   string `json:"question"`
	Context    string `json:"context"`
	Analysis   string `json:"analysis"`
	Alignments []struct {
		Candidate  string  `json:"candidate"`
		Alignment  string  `json:"alignment"`
		SourceURL  string  `json:"source_url"`
		Confidence float64 `json:"confidence"`
	} `json:"alignments"`
}

// parseCards validates model output into strict stance cards. Any shape
// violation fails the whole response.
func parseCards(content string, req *Request) ([]stance.StanceCard, error) {
	clean := strings.TrimSpace(content)
	clean = strings.TrimPrefix(clean, "```json")
	clean = strings.TrimPrefix(clean, "```")
	clean = strings.TrimSuffix(clean, "```")
	clean = strings.TrimSpace(clean)

	var payloads []cardPayload
	if err := json.Unmarshal([]byte(clean), &payloads); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	known := make(map[string]string, len(req.Roster))
	for _, c := range req.Roster {
		known[strings.ToLower(c.Name)] = c.Name
	}

	cards := make([]stance.StanceCard, 0, len(payloads))
	for i, p := range payloads {
		if p.Question == "" {
			return nil, fmt.Errorf("%w: card %d missing question", ErrMalformedResponse, i)
		}

		card := stance.StanceCard{
			ID:       cardID(req, i),
			Question: p.Question,
			Context:  p.Context,
			Analysis: p.Analysis,
		}

		seen := make(map[string]struct{}, len(p.Alignments))
		for _, a := range p.Alignments {
			alignment := stance.Alignment(a.Alignment)
			if !alignment.Valid() {
				return nil, fmt.Errorf("%w: card %d has alignment %q", ErrMalformedResponse, i, a.Alignment)
			}
			canonical, ok := known[strings.ToLower(a.Candidate)]
			if !ok {
				// The model invented a candidate; drop the judgment
				// rather than fail the card.
				continue
			}
			if _, dup := seen[canonical]; dup {
				continue
			}
			seen[canonical] = struct{}{}

			confidence := a.Confidence
			if confidence < 0 || confidence > 1 {
				confidence = 0
			}

			card.Alignments = append(card.Alignments, stance.CandidateAlignment{
				Candidate:  canonical,
				Alignment:  alignment,
				SourceURL:  a.SourceURL,
				Confidence: confidence,
			})
		}

		cards = append(cards, card)
	}

	return cards, nil
}

// cardID derives a stable, readable card id from the request subject and
// issue, e.g. "london-breed-housing-01" or "compare-housing-02".
func cardID(req *Request, idx int) string {
	prefix := "compare"
	if len(req.Subjects) == 1 {
		prefix = slugify(req.Subjects[0])
	}
	return fmt.Sprintf("%s-%s-%02d", prefix, req.Issue, idx+1)
}

func slugify(s string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), " ", "-"))
}
