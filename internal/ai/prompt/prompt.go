// Package prompt holds what every classify provider shares: the sentinel
// errors, the label vocabulary, the instruction block, and the response
// parser. Providers depend on this package, never on each other.
package prompt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/Korner-san/bevisible/pkg/models"
)

var (
	ErrProviderUnavailable = errors.New("ai provider unavailable")
	ErrInferenceTimeout    = errors.New("ai inference timeout")
	ErrInvalidResponse     = errors.New("ai provider returned invalid response")
)

// Labels the classifier may assign to an answer.
var Labels = []string{
	"recommendation", // the answer actively recommends the brand
	"mention",        // the brand appears without judgement
	"comparison",     // the brand is weighed against competitors
	"negative",       // the answer advises against the brand
	"absent",         // the brand does not appear at all
}

// BuildClassify renders the instruction block sent to any provider.
// Answers travel as a JSON array so ids survive the round trip verbatim.
func BuildClassify(req models.ClassifyRequest) (string, error) {
	payload, err := json.Marshal(req.Answers)
	if err != nil {
		return "", fmt.Errorf("encoding answers: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You label how AI chat answers treat the brand %q.\n\n", req.BrandName)
	b.WriteString("For every answer below, pick exactly one label from this list:\n")
	for _, l := range Labels {
		fmt.Fprintf(&b, "- %s\n", l)
	}
	b.WriteString("\nRespond with a JSON array only, no prose, one object per answer:\n")
	b.WriteString(`[{"answer_id": "<id>", "label": "<label>", "confidence": <0..1>}]`)
	b.WriteString("\n\nAnswers:\n")
	b.Write(payload)
	return b.String(), nil
}

// ParseClassify decodes a provider's completion into one result per
// requested answer. Answers the model skipped or mislabeled come back with
// Error set instead of failing the batch.
func ParseClassify(raw string, req models.ClassifyRequest) ([]models.ClassifyResult, error) {
	raw = stripFences(raw)

	var decoded []models.ClassifyResult
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	valid := make(map[string]bool, len(Labels))
	for _, l := range Labels {
		valid[l] = true
	}
	byID := make(map[string]models.ClassifyResult, len(decoded))
	for _, r := range decoded {
		byID[r.AnswerID] = r
	}

	results := make([]models.ClassifyResult, 0, len(req.Answers))
	for _, a := range req.Answers {
		r, ok := byID[a.ID]
		switch {
		case !ok:
			results = append(results, models.ClassifyResult{AnswerID: a.ID, Error: "no label returned"})
		case !valid[r.Label]:
			results = append(results, models.ClassifyResult{AnswerID: a.ID, Error: fmt.Sprintf("unknown label %q", r.Label)})
		default:
			if r.Confidence < 0 {
				r.Confidence = 0
			}
			if r.Confidence > 1 {
				r.Confidence = 1
			}
			results = append(results, r)
		}
	}
	return results, nil
}

// ClassifyTransportError maps transport-level errors to sentinel errors.
func ClassifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrInferenceTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrInferenceTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
}

// stripFences removes a markdown code fence if the model wrapped its JSON
// in one.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
