// internal/fallback/gemini.go
package fallback

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/xkilldash9x/cartpilot/api/schemas"
	"github.com/xkilldash9x/cartpilot/internal/browser/selector"
	"github.com/xkilldash9x/cartpilot/internal/config"
)

// snapshotSelector matches the elements a plan may operate on.
const snapshotSelector = `a[href], button, input:not([type="hidden"]), select, textarea, [role="button"], [role="link"], [role="checkbox"]`

// snapshotAttributes are read for every snapshot entry, in this order.
var snapshotAttributes = []string{"type", "name", "id", "placeholder", "aria-label"}

const systemPrompt = `You operate a web page on behalf of a test runner.
You receive an instruction and a numbered list of the page's interactive elements.
Reply with JSON only: an array of steps, each {"op": ..., "ref": ..., "value": ...}.
ops: "click", "fill" (value = text to enter), "scroll", "assert_visible",
"assert_text" (value = expected text), "done".
ref must be one of the listed element ids (e1, e2, ...). Use as few steps as possible.
If the instruction cannot be carried out on this page reply with [].`

// contentGenerator is the part of the genai Models service the executor uses.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiExecutor is an NLExecutor backed by a Gemini model. It snapshots the
// page's interactive elements, asks the model for a plan and runs the plan
// with the Page primitives.
type GeminiExecutor struct {
	models     contentGenerator
	model      string
	logger     *zap.Logger
	limiter    *rate.Limiter
	maxRetries int
	maxItems   int
	maxElapsed time.Duration
}

var _ schemas.NLExecutor = (*GeminiExecutor)(nil)

// NewGeminiExecutor creates a Gemini API client from the fallback configuration.
func NewGeminiExecutor(ctx context.Context, cfg config.FallbackConfig, logger *zap.Logger) (*GeminiExecutor, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Gemini API Key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return newGeminiExecutor(client.Models, cfg, logger), nil
}

func newGeminiExecutor(models contentGenerator, cfg config.FallbackConfig, logger *zap.Logger) *GeminiExecutor {
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 30
	}
	maxItems := cfg.MaxSnapshotItems
	if maxItems <= 0 {
		maxItems = 80
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	maxElapsed := cfg.Timeout
	if maxElapsed <= 0 {
		maxElapsed = 2 * time.Minute
	}
	return &GeminiExecutor{
		models:     models,
		model:      cfg.Model,
		logger:     logger.Named("llm_client.gemini"),
		limiter:    rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1),
		maxRetries: maxRetries,
		maxItems:   maxItems,
		maxElapsed: maxElapsed,
	}
}

// snapshotEntry is one interactive element as shown to the model.
type snapshotEntry struct {
	Ref   string
	Index int
	Text  string
	Attrs map[string]string
}

// Execute implements schemas.NLExecutor.
func (g *GeminiExecutor) Execute(ctx context.Context, instruction string, ec schemas.ExecContext) error {
	if ec.Page == nil {
		return errors.New("no page to operate on")
	}
	entries, err := g.snapshot(ctx, ec.Page)
	if err != nil {
		return fmt.Errorf("failed to snapshot page: %w", err)
	}

	plan, err := g.plan(ctx, instruction, renderSnapshot(entries))
	if err != nil {
		return err
	}

	byRef := make(map[string]snapshotEntry, len(entries))
	for _, e := range entries {
		byRef[e.Ref] = e
	}
	for i, step := range plan {
		if step.Op == OpDone {
			break
		}
		entry, ok := byRef[step.Ref]
		if !ok {
			return fmt.Errorf("plan step %d references unknown element %q", i, step.Ref)
		}
		g.logger.Debug("Applying plan step.",
			zap.Int("run_step", ec.Test.StepIndex),
			zap.String("op", step.Op),
			zap.String("ref", step.Ref))
		if err := apply(ctx, ec.Page, entry, step); err != nil {
			return fmt.Errorf("plan step %d (%s %s): %w", i, step.Op, step.Ref, err)
		}
	}
	return nil
}

// plan asks the model for a plan, retrying transient failures.
func (g *GeminiExecutor) plan(ctx context.Context, instruction, snapshot string) ([]PlanStep, error) {
	temperature := float32(0)
	genConfig := &genai.GenerateContentConfig{
		ResponseMIMEType:  "application/json",
		Temperature:       &temperature,
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: systemPrompt}}},
	}
	contents := []*genai.Content{{
		Role: "user",
		Parts: []*genai.Part{{
			Text: fmt.Sprintf("Instruction: %s\n\nElements:\n%s", instruction, snapshot),
		}},
	}}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = g.maxElapsed
	b.MaxInterval = 10 * time.Second

	var steps []PlanStep
	operation := func() error {
		if err := g.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		start := time.Now()
		resp, err := g.models.GenerateContent(ctx, g.model, contents, genConfig)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			g.logger.Warn("Error during LLM request, retrying...", zap.Error(err))
			return fmt.Errorf("failed to generate content: %w", err)
		}

		text, err := responseText(resp)
		if err != nil {
			return err
		}
		g.logger.Info("LLM generation complete (Gemini)", zap.Duration("duration", time.Since(start)))

		parsed, err := ParsePlan(text)
		if err != nil {
			return backoff.Permanent(err)
		}
		steps = parsed
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(g.maxRetries)), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return steps, nil
}

// responseText joins the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", backoff.Permanent(fmt.Errorf("gemini API returned no candidates"))
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		reason := string(candidate.FinishReason)
		if reason == "SAFETY" || reason == "BLOCKLIST" {
			return "", backoff.Permanent(fmt.Errorf("gemini API blocked the request (Reason: %s)", reason))
		}
		return "", fmt.Errorf("gemini API returned empty content parts (Reason: %s)", reason)
	}
	var b strings.Builder
	for _, part := range candidate.Content.Parts {
		if part != nil {
			b.WriteString(part.Text)
		}
	}
	return b.String(), nil
}

// snapshot lists the visible interactive elements, capped at maxItems.
func (g *GeminiExecutor) snapshot(ctx context.Context, page schemas.Page) ([]snapshotEntry, error) {
	n, err := page.Count(ctx, snapshotSelector)
	if err != nil {
		return nil, err
	}
	var entries []snapshotEntry
	for i := 0; i < n && len(entries) < g.maxItems; i++ {
		if visible, err := page.IsVisible(ctx, snapshotSelector, i); err != nil || !visible {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		text, _ := page.Text(ctx, snapshotSelector, i)
		attrs := make(map[string]string, len(snapshotAttributes))
		for _, name := range snapshotAttributes {
			if v, err := page.Attribute(ctx, snapshotSelector, i, name); err == nil && v != "" {
				attrs[name] = v
			}
		}
		entries = append(entries, snapshotEntry{
			Ref:   fmt.Sprintf("e%d", len(entries)+1),
			Index: i,
			Text:  truncate(text, 80),
			Attrs: attrs,
		})
	}
	return entries, nil
}

func renderSnapshot(entries []snapshotEntry) string {
	if len(entries) == 0 {
		return "(no interactive elements)"
	}
	var b strings.Builder
	for _, e := range entries {
		b.WriteString(e.Ref)
		for _, name := range snapshotAttributes {
			if v, ok := e.Attrs[name]; ok {
				fmt.Fprintf(&b, " %s=%q", name, v)
			}
		}
		if e.Text != "" {
			fmt.Fprintf(&b, " text=%q", e.Text)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// apply runs one plan step on its element.
func apply(ctx context.Context, page schemas.Page, e snapshotEntry, step PlanStep) error {
	switch step.Op {
	case OpClick:
		if err := page.Click(ctx, snapshotSelector, e.Index); err != nil {
			if ctx.Err() != nil {
				return err
			}
			return page.DispatchClick(ctx, snapshotSelector, e.Index)
		}
		return nil
	case OpFill:
		if err := page.Fill(ctx, snapshotSelector, e.Index, step.Value); err != nil {
			return err
		}
		got, err := page.Value(ctx, snapshotSelector, e.Index)
		if err != nil {
			return err
		}
		if got != step.Value {
			return &schemas.VerificationMismatchError{Selector: e.Ref, Expected: step.Value, Actual: got}
		}
		return nil
	case OpScroll:
		return page.ScrollIntoView(ctx, snapshotSelector, e.Index)
	case OpAssertVisible:
		visible, err := page.IsVisible(ctx, snapshotSelector, e.Index)
		if err != nil {
			return err
		}
		if !visible {
			return &schemas.ElementNotVisibleError{Selector: e.Ref}
		}
		return nil
	case OpAssertText:
		text, err := page.Text(ctx, snapshotSelector, e.Index)
		if err != nil {
			return err
		}
		if !strings.Contains(strings.ToLower(selector.NormalizeText(text)), strings.ToLower(selector.NormalizeText(step.Value))) {
			return &schemas.VerificationMismatchError{Selector: e.Ref, Expected: step.Value, Actual: text}
		}
		return nil
	}
	return fmt.Errorf("unknown op %q", step.Op)
}

func truncate(s string, n int) string {
	s = selector.NormalizeText(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
