// Package llm wraps the structured-completion calls the pipeline driver and
// adaptive batch processor depend on: query expansion (stage 1) and resume
// match scoring (stage 4). Every call runs in Gemini's JSON response mode
// with an explicit schema, so the caller only ever unmarshals, never parses
// free text.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/genai"

	"github.com/nthiel/jobwatch/pkg/config"
	"github.com/nthiel/jobwatch/pkg/orcherrors"
)

// Client is a thin wrapper over genai.Client binding the model, sampling
// parameters, and retry budget configured for the orchestrator process.
type Client struct {
	genai       *genai.Client
	model       string
	temperature float32
	maxTokens   int32
	timeout     time.Duration
	maxRetries  int
}

// NewClient dials the Gemini API per cfg.
func NewClient(ctx context.Context, cfg config.LLMConfig) (*Client, error) {
	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("llm: create genai client: %w", err)
	}
	return &Client{
		genai:       gc,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   int32(cfg.MaxOutputTokens),
		timeout:     cfg.Timeout,
		maxRetries:  cfg.MaxRetries,
	}, nil
}

// ExpansionResult is the Query-Expansion agent's response.
type ExpansionResult struct {
	ExpandedTitles        []string `json:"expanded_titles"`
	ResumeSuggestedTitles []string `json:"resume_suggested_titles"`
}

var expansionSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"expanded_titles":         {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
		"resume_suggested_titles": {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
	},
	Required: []string{"expanded_titles", "resume_suggested_titles"},
}

// ExpandTitles asks the model for related job titles and, if a resume is
// present, titles the resume itself suggests. Callers must enforce the hard
// caps (expanded ≤ 2×|titles|, suggested ≤ 5); this client does not.
func (c *Client) ExpandTitles(ctx context.Context, titles []string, resumeText string) (*ExpansionResult, error) {
	prompt := fmt.Sprintf(`You expand a job search. Given the titles %v and the following resume
excerpt, return additional closely related job titles a recruiter would also
search for, and (if the resume suggests a different role) up to 5 titles the
resume itself supports.

Resume:
%s`, titles, truncateRunes(resumeText, 4000))

	var out ExpansionResult
	if err := c.generateJSON(ctx, "llm.expand_titles", prompt, expansionSchema, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MatchResult is the resume/job scoring agent's response.
type MatchResult struct {
	Score         float64  `json:"score"`
	Reasoning     string   `json:"reasoning"`
	MatchedSkills []string `json:"matched_skills"`
	MissingSkills []string `json:"missing_skills"`
	Pros          []string `json:"pros"`
	Cons          []string `json:"cons"`
}

var matchSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"score":          {Type: genai.TypeInteger},
		"reasoning":      {Type: genai.TypeString},
		"matched_skills": {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
		"missing_skills": {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
		"pros":           {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
		"cons":           {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
	},
	Required: []string{"score", "reasoning", "matched_skills", "missing_skills", "pros", "cons"},
}

// ScoreMatch scores one job posting against one resume, returning an
// integer score in [1,100]. Any fractional score the model emits anyway is
// rounded by the caller before it reaches the store.
func (c *Client) ScoreMatch(ctx context.Context, resumeText, jobTitle, jobCompany, jobDescription string) (*MatchResult, error) {
	prompt := fmt.Sprintf(`Score how well this candidate's resume matches the job posting below, on
an integer scale from 1 to 100. List the skills from the resume that match
the posting, the skills the posting asks for that the resume lacks, and a
short list of pros and cons of this candidate for this role.

Job title: %s
Company: %s
Job description:
%s

Resume:
%s`, jobTitle, jobCompany, truncateRunes(jobDescription, 6000), truncateRunes(resumeText, 4000))

	var out MatchResult
	if err := c.generateJSON(ctx, "llm.score_match", prompt, matchSchema, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) generateJSON(ctx context.Context, op, prompt string, schema *genai.Schema, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cfg := &genai.GenerateContentConfig{
		Temperature:      &c.temperature,
		MaxOutputTokens:  c.maxTokens,
		ResponseMIMEType: "application/json",
		ResponseSchema:   schema,
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			case <-ctx.Done():
				return orcherrors.New(orcherrors.Transient, op, ctx.Err())
			}
		}

		result, err := c.genai.Models.GenerateContent(ctx, c.model, genai.Text(prompt), cfg)
		if err != nil {
			lastErr = classifyGenaiError(op, err)
			if !orcherrors.Retryable(lastErr) {
				return lastErr
			}
			continue
		}

		text, err := extractText(result)
		if err != nil {
			lastErr = orcherrors.New(orcherrors.InvalidInput, op, err)
			continue
		}
		if err := json.Unmarshal([]byte(text), out); err != nil {
			lastErr = orcherrors.New(orcherrors.InvalidInput, op, fmt.Errorf("malformed structured response: %w", err))
			continue
		}
		return nil
	}
	return lastErr
}

func extractText(result *genai.GenerateContentResponse) (string, error) {
	if len(result.Candidates) == 0 || result.Candidates[0].Content == nil {
		return "", fmt.Errorf("empty response")
	}
	var text string
	for _, part := range result.Candidates[0].Content.Parts {
		text += part.Text
	}
	if text == "" {
		return "", fmt.Errorf("no text in response")
	}
	return text, nil
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
