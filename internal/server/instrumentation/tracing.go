package instrumentation

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys. Token secrets and digests never go into spans or metrics;
// only identifiers do.
const (
	AttrUserID    = "sessionkeeper.user_id"
	AttrTokenID   = "sessionkeeper.token.id"
	AttrReason    = "reason"
	AttrScope     = "scope"
	AttrOperation = "sessionkeeper.operation"
)

// RecordError marks the span as failed with err.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func SetSpanSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// AddTokenAttributes tags span with the owning user and token id.
// Empty values are skipped.
func AddTokenAttributes(span trace.Span, userID, tokenID string) {
	var attrs []attribute.KeyValue
	if userID != "" {
		attrs = append(attrs, attribute.String(AttrUserID, userID))
	}
	if tokenID != "" {
		attrs = append(attrs, attribute.String(AttrTokenID, tokenID))
	}
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
}
