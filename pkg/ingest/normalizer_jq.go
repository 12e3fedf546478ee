package ingest

import (
	"context"
	"fmt"

	"github.com/itchyny/gojq"
)

// JQRule describes how to extract an event from a provider body with jq
// expressions. Empty expressions are skipped; Payload defaults to ".".
type JQRule struct {
	EventType string `yaml:"event_type"`
	EventID   string `yaml:"event_id"`
	Account   string `yaml:"account"`
	Payload   string `yaml:"payload"`
}

// JQNormalizer evaluates compiled jq expressions against the raw body.
type JQNormalizer struct {
	eventType *gojq.Code
	eventID   *gojq.Code
	account   *gojq.Code
	payload   *gojq.Code
}

// NewJQNormalizer compiles the rule. EventType is required unless the caller
// always sets RawEvent.EventType.
func NewJQNormalizer(rule JQRule) (*JQNormalizer, error) {
	if rule.Payload == "" {
		rule.Payload = "."
	}

	n := &JQNormalizer{}

	for _, target := range []struct {
		expression string
		code       **gojq.Code
	}{
		{rule.EventType, &n.eventType},
		{rule.EventID, &n.eventID},
		{rule.Account, &n.account},
		{rule.Payload, &n.payload},
	} {
		if target.expression == "" {
			continue
		}

		code, err := compileJQ(target.expression)
		if err != nil {
			return nil, err
		}

		*target.code = code
	}

	return n, nil
}

func (n *JQNormalizer) Normalize(ctx context.Context, raw RawEvent) (*Normalized, error) {
	eventType, err := n.evalString(ctx, n.eventType, raw.Body)
	if err != nil {
		return nil, err
	}

	eventID, err := n.evalString(ctx, n.eventID, raw.Body)
	if err != nil {
		return nil, err
	}

	account, err := n.evalString(ctx, n.account, raw.Body)
	if err != nil {
		return nil, err
	}

	value, err := evalJQ(ctx, n.payload, raw.Body)
	if err != nil {
		return nil, err
	}

	payload, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: jq payload must be an object, got %T", ErrInvalidEvent, value)
	}

	return &Normalized{
		EventType:         firstNonEmpty(raw.EventType, eventType),
		EventID:           firstNonEmpty(raw.EventID, eventID),
		ExternalAccountID: firstNonEmpty(raw.ExternalAccountID, account),
		Payload:           payload,
	}, nil
}

func (n *JQNormalizer) evalString(ctx context.Context, code *gojq.Code, body map[string]any) (string, error) {
	if code == nil {
		return "", nil
	}

	value, err := evalJQ(ctx, code, body)
	if err != nil {
		return "", err
	}

	switch v := value.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	default:
		return fmt.Sprint(v), nil
	}
}

func compileJQ(expression string) (*gojq.Code, error) {
	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("jq parse error in %q: %w", expression, err)
	}

	code, err := gojq.Compile(query, gojq.WithEnvironLoader(func() []string { return nil }))
	if err != nil {
		return nil, fmt.Errorf("jq compile error in %q: %w", expression, err)
	}

	return code, nil
}

// evalJQ returns the first output of code, or nil when it yields nothing.
func evalJQ(ctx context.Context, code *gojq.Code, body map[string]any) (any, error) {
	iter := code.RunWithContext(ctx, body)

	value, ok := iter.Next()
	if !ok {
		return nil, nil
	}

	if err, isErr := value.(error); isErr {
		return nil, fmt.Errorf("%w: jq evaluation failed: %w", ErrInvalidEvent, err)
	}

	return value, nil
}
