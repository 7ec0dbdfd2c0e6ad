package pattern

import (
	"context"
	"fmt"
	"strings"

	"github.com/neuroguard/neuroguard/pkg/apperrors"
	"github.com/neuroguard/neuroguard/pkg/completion"
	"github.com/neuroguard/neuroguard/pkg/logger"
	"github.com/neuroguard/neuroguard/pkg/record"
)

// SummaryMaxRunes bounds derived summaries.
const SummaryMaxRunes = 160

// Config configures the Interpreter.
type Config struct {
	// ContextSize is how many recent interpretations are consulted.
	ContextSize int
	Temperature float64
	Decode      DecodeConfig
}

// DefaultConfig returns the standard interpreter configuration.
func DefaultConfig() Config {
	return Config{
		ContextSize: 3,
		Temperature: 0.3,
		Decode:      DefaultDecodeConfig(),
	}
}

// Result is the outcome of one interpretation.
type Result struct {
	Record   *record.Record
	Payload  *record.InterpretationPayload
	Features Features
	Degraded bool
}

// Interpreter turns raw patterns into persisted pattern_interpretation
// records. It carries no ethics guarantee; callers that need one go
// through the orchestrator.
type Interpreter struct {
	store     *record.Store
	completer completion.Completer
	cfg       Config
	logger    logger.Logger
}

// NewInterpreter creates an Interpreter over explicit store and collaborator
// handles.
func NewInterpreter(store *record.Store, completer completion.Completer, cfg Config, log logger.Logger) *Interpreter {
	if log == nil {
		log = logger.Nop()
	}
	if completer == nil {
		completer = completion.Unavailable()
	}
	return &Interpreter{
		store:     store,
		completer: completer,
		cfg:       cfg,
		logger:    log.With("component", "interpreter"),
	}
}

// InterpretPattern decodes, consults recent context, asks the collaborator
// and persists the interpretation. Collaborator failures degrade the result
// instead of failing it.
func (i *Interpreter) InterpretPattern(ctx context.Context, pattern string) (*Result, error) {
	features, err := i.Decode(pattern)
	if err != nil {
		return nil, err
	}
	contextRecs := i.Context(ctx)
	return i.InterpretDecoded(ctx, pattern, features, contextRecs)
}

// Decode applies the configured decode rules.
func (i *Interpreter) Decode(pattern string) (Features, error) {
	return Decode(pattern, i.cfg.Decode)
}

// Context returns the most recent interpretations. Read failures are logged
// and yield no context.
func (i *Interpreter) Context(ctx context.Context) []*record.Record {
	if i.cfg.ContextSize <= 0 {
		return nil
	}
	recs, err := i.store.RecentContext(ctx, record.KindPatternInterpretation, i.cfg.ContextSize)
	if err != nil {
		i.logger.WarnContext(ctx, "context retrieval failed; interpreting without context", "error", err)
		return nil
	}
	return recs
}

// InterpretDecoded runs the collaborator step and persists the record.
func (i *Interpreter) InterpretDecoded(ctx context.Context, pattern string, features Features, contextRecs []*record.Record) (*Result, error) {
	payload := &record.InterpretationPayload{
		Pattern:          pattern,
		Features:         features,
		ContextRecordIDs: make([]uint64, 0, len(contextRecs)),
	}
	for _, rec := range contextRecs {
		payload.ContextRecordIDs = append(payload.ContextRecordIDs, rec.ID)
	}

	text, err := i.completer.Complete(ctx, buildPrompt(pattern, features, contextRecs), i.cfg.Temperature)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if err == nil {
		payload.Interpretation, payload.Summary, err = parseInterpretation(text)
	}
	if err != nil {
		i.logger.WarnContext(ctx, "interpretation degraded to feature-only fallback",
			"degraded", true, "low_confidence", features.LowConfidence, "error", err)
		payload.Interpretation = FeatureSummary(features)
		payload.Summary = ""
		payload.Degraded = true
	}
	if payload.Summary == "" {
		payload.Summary = FirstSentence(payload.Interpretation, SummaryMaxRunes)
	}

	rec, err := i.store.Append(ctx, record.KindPatternInterpretation, payload)
	if err != nil {
		return nil, err
	}
	i.logger.InfoContext(ctx, "pattern interpreted",
		"record_id", rec.ID, "degraded", payload.Degraded, "low_confidence", features.LowConfidence)

	return &Result{
		Record:   rec,
		Payload:  payload,
		Features: features,
		Degraded: payload.Degraded,
	}, nil
}

func buildPrompt(pattern string, f Features, contextRecs []*record.Record) string {
	var b strings.Builder
	b.WriteString("You interpret encoded neural signal patterns.\n\n")
	fmt.Fprintf(&b, "Pattern: %s\n", pattern)
	fmt.Fprintf(&b, "Decoded features: bits=%d ones=%d density=%.2f longest_run=%d transitions=%d burst=%t oscillating=%t polarity=%s low_confidence=%t\n",
		f.BitLength, f.Ones, f.Density, f.LongestRun, f.Transitions, f.Burst, f.Oscillating, f.Polarity, f.LowConfidence)
	if f.Label != "" {
		fmt.Fprintf(&b, "Label: %s\n", f.Label)
	}

	if len(contextRecs) > 0 {
		b.WriteString("\nRecent interpretations, most recent first:\n")
		for _, rec := range contextRecs {
			p, err := rec.Interpretation()
			if err != nil {
				continue
			}
			summary := p.Summary
			if summary == "" {
				summary = FirstSentence(p.Interpretation, SummaryMaxRunes)
			}
			fmt.Fprintf(&b, "- #%d %s: %s\n", rec.ID, p.Pattern, summary)
		}
	}

	b.WriteString("\nRespond with a JSON object only: ")
	b.WriteString(`{"interpretation": "<what the pattern most likely encodes>", "summary": "<one sentence>"}`)
	return b.String()
}

// parseInterpretation accepts the requested JSON object or, failing that,
// plain prose. Empty text and broken JSON are collaborator errors.
func parseInterpretation(text string) (string, string, error) {
	cleaned := completion.StripCodeFence(text)
	if cleaned == "" {
		return "", "", &apperrors.CollaboratorError{Op: "interpret", Cause: fmt.Errorf("empty response")}
	}

	var out struct {
		Interpretation string `json:"interpretation"`
		Summary        string `json:"summary"`
	}
	if err := completion.DecodeJSON(cleaned, &out); err == nil {
		interp := strings.TrimSpace(out.Interpretation)
		if interp == "" {
			return "", "", &apperrors.CollaboratorError{Op: "interpret", Cause: fmt.Errorf("response has no interpretation")}
		}
		return interp, FirstSentence(out.Summary, SummaryMaxRunes), nil
	}
	if strings.HasPrefix(cleaned, "{") {
		return "", "", &apperrors.CollaboratorError{Op: "interpret", Cause: fmt.Errorf("malformed JSON response")}
	}
	return cleaned, "", nil
}
