package otel

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestParseHeaders(t *testing.T) {
	headers := ParseHeaders(" api-key = abc ,broken, =skip,tenant=market")
	require.Equal(t, map[string]string{"api-key": "abc", "tenant": "market"}, headers)
}

func TestInitRequiresServiceName(t *testing.T) {
	_, err := Init(context.Background(), Config{})
	require.Error(t, err)
}

func TestInitWithoutExportersInstallsPropagator(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "marketd"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestSpanHelpersAreSafeWithoutProvider(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "market.buy", attribute.Int64("listing.id", 1))
	require.NotNil(t, ctx)
	EndSpan(span, errors.New("boom"))
	EndSpan(nil, nil)
}
