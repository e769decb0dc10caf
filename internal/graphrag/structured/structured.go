package structured

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/paladugusuresh/graphrag/internal/graphrag/types"
	"github.com/paladugusuresh/graphrag/internal/platform/apierr"
	"github.com/paladugusuresh/graphrag/internal/platform/logger"
	"github.com/paladugusuresh/graphrag/internal/platform/openai"
)

// MaxAttempts is the total number of structured calls before giving up.
const MaxAttempts = 3

// Normalize renames known alias keys in an LLM output object. When both the
// alias and the canonical key are present the canonical one wins and the
// alias is dropped. Applying it twice is a no-op.
func Normalize(obj map[string]any, aliases map[string]string) map[string]any {
	if obj == nil {
		return nil
	}
	for alias, canonical := range aliases {
		v, ok := obj[alias]
		if !ok {
			continue
		}
		if _, exists := obj[canonical]; !exists {
			obj[canonical] = v
		}
		delete(obj, alias)
	}
	return obj
}

// Call runs a structured LLM call with up to MaxAttempts tries. After each
// failed validation the violation is appended to the prompt so the model can
// correct itself. validate must return a descriptive error on shape
// violations; its message becomes the machine-readable diff.
func Call(
	ctx context.Context,
	llm openai.Client,
	log *logger.Logger,
	system, user, schemaName string,
	schema map[string]any,
	aliases map[string]string,
	validate func(map[string]any) error,
) (map[string]any, error) {
	return CallN(ctx, llm, log, system, user, schemaName, schema, aliases, validate, MaxAttempts)
}

// CallN is Call with a caller-chosen attempt budget.
func CallN(
	ctx context.Context,
	llm openai.Client,
	log *logger.Logger,
	system, user, schemaName string,
	schema map[string]any,
	aliases map[string]string,
	validate func(map[string]any) error,
	attempts int,
) (map[string]any, error) {
	if attempts < 1 {
		attempts = 1
	}
	prompt := user
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		obj, err := llm.GenerateJSON(ctx, system, prompt, schemaName, schema)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return nil, apierr.FromReason(types.ReasonUpstreamUnavailable, ctx.Err())
			}
			// A denied rate-limit token will not clear within the retry
			// window; surface it straight away.
			var apiErr *apierr.Error
			if errors.As(err, &apiErr) && apiErr.Code == types.ReasonLLMRateLimited {
				return nil, err
			}
			log.Warn("structured call failed", "schema", schemaName, "attempt", attempt, "error", err)
			continue
		}

		obj = Normalize(obj, aliases)
		if validate != nil {
			if vErr := validate(obj); vErr != nil {
				lastErr = vErr
				log.Warn("structured output rejected", "schema", schemaName, "attempt", attempt, "violation", vErr.Error())
				prompt = appendViolation(user, vErr)
				continue
			}
		}
		return obj, nil
	}

	return nil, apierr.FromReason(types.ReasonLLMStructuredFailure,
		fmt.Errorf("structured output failed after %d attempts: %w", attempts, lastErr))
}

func appendViolation(user string, violation error) string {
	var b strings.Builder
	b.WriteString(user)
	b.WriteString("\n\nYour previous response violated the output contract:\n")
	b.WriteString(violation.Error())
	b.WriteString("\nRespond again with a JSON object that satisfies the contract exactly.")
	return b.String()
}
