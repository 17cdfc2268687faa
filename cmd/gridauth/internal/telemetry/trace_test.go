package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func TestStartSpan_NoopProvider(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "gridauth/test", "test.Op",
		attribute.String(AttrPrincipalName, "alice"),
	)
	defer span.End()

	assert.NotNil(t, ctx)
	// Neither helper may panic on a non-recording span.
	RecordError(span, errors.New("boom"))
	RecordError(span, nil)
	AddEvent(span, "verify.failed", attribute.String(AttrVerifyFailure, "bad password"))
	assert.False(t, span.IsRecording())
}
