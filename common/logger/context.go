package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields contains structured fields automatically added to all logs within
// a context. Fields flow through context enrichment, so every log statement in
// a job pipeline carries the conversation and message identity without each
// call site repeating them.
type LogFields struct {
	ConversationID   *string // stable conversation key (transport address)
	MessageID        *string // transport-level message ID
	JobID            *string // Redis stream entry ID
	RegistrationStep *string // current FSM step
	Attempt          *int    // delivery attempt
	Component        string  // component name, e.g. "concierge.worker.processor"
}

// WithLogFields enriches context with structured log fields.
// Multiple calls merge fields, with newer non-nil/non-empty values taking
// precedence. Context timeouts and cancellation are preserved.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	existing := GetLogFields(ctx)
	merged := mergeFields(existing, fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields retrieves log fields from context.
// Returns empty LogFields if none are set.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

func mergeFields(existing, next LogFields) LogFields {
	result := existing

	if next.ConversationID != nil {
		result.ConversationID = next.ConversationID
	}
	if next.MessageID != nil {
		result.MessageID = next.MessageID
	}
	if next.JobID != nil {
		result.JobID = next.JobID
	}
	if next.RegistrationStep != nil {
		result.RegistrationStep = next.RegistrationStep
	}
	if next.Attempt != nil {
		result.Attempt = next.Attempt
	}
	if next.Component != "" {
		result.Component = next.Component
	}

	return result
}
