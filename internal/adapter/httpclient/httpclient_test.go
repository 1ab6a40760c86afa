package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"project-companion/internal/domain"
	"project-companion/internal/infra/config"
	"project-companion/internal/infra/logger"
)

func TestMapStatus(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusBadRequest, domain.ErrInvalidInput},
		{http.StatusUnauthorized, domain.ErrAuthInvalid},
		{http.StatusForbidden, domain.ErrForbidden},
		{http.StatusNotFound, domain.ErrNotFound},
		{http.StatusConflict, domain.ErrDuplicate},
		{http.StatusTooManyRequests, domain.ErrRateLimit},
		{http.StatusInternalServerError, domain.ErrProviderError},
		{http.StatusBadGateway, domain.ErrProviderError},
	}
	for _, tt := range tests {
		err := MapStatus(tt.status, []byte(" project missing \n"))
		assert.ErrorIs(t, err, tt.want, "status %d", tt.status)
		assert.Contains(t, err.Error(), fmt.Sprintf("HTTP %d: project missing", tt.status))
	}

	err := MapStatus(http.StatusTeapot, nil)
	require.Error(t, err)
	assert.Equal(t, "HTTP 418", err.Error())
	assert.Equal(t, domain.CodeUnknown, domain.ErrorCodeOf(err))
}

func TestCheckResponse(t *testing.T) {
	ok := &http.Response{StatusCode: http.StatusNoContent, Body: io.NopCloser(strings.NewReader(""))}
	assert.NoError(t, CheckResponse(ok))

	big := strings.Repeat("x", maxErrorBody*2)
	bad := &http.Response{StatusCode: http.StatusServiceUnavailable, Body: io.NopCloser(strings.NewReader(big))}
	err := CheckResponse(bad)
	assert.ErrorIs(t, err, domain.ErrProviderError)
	assert.Less(t, len(err.Error()), maxErrorBody+100)
}

func TestBreakerOpensAfterFailures(t *testing.T) {
	b := NewBreaker("api", config.CircuitBreakerConfig{
		Enabled:     true,
		MaxFailures: 3,
		Timeout:     5 * time.Second,
	}, logger.Discard())

	calls := 0
	failing := func() (int, error) {
		calls++
		return 0, fmt.Errorf("%w: HTTP 502", domain.ErrProviderError)
	}

	for i := 0; i < 3; i++ {
		_, err := Do(b, failing)
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, b.State())

	_, err := Do(b, failing)
	assert.ErrorIs(t, err, domain.ErrCircuitOpen)
	assert.Equal(t, 3, calls, "open circuit must not reach the backend")
}

func TestBreakerIgnoresClientErrors(t *testing.T) {
	b := NewBreaker("api", config.CircuitBreakerConfig{Enabled: true, MaxFailures: 1}, logger.Discard())

	for _, e := range []error{
		fmt.Errorf("%w: HTTP 401", domain.ErrAuthInvalid),
		fmt.Errorf("%w: HTTP 404", domain.ErrNotFound),
		context.Canceled,
	} {
		_, err := Do(b, func() (string, error) { return "", e })
		assert.ErrorIs(t, err, e)
	}
	assert.Equal(t, gobreaker.StateClosed, b.State())
}

func TestBreakerPassThroughWhenDisabled(t *testing.T) {
	b := NewBreaker("api", config.CircuitBreakerConfig{Enabled: false}, nil)
	boom := errors.New("boom")
	for i := 0; i < 10; i++ {
		_, err := Do(b, func() (int, error) { return 0, boom })
		assert.ErrorIs(t, err, boom)
	}
	assert.Equal(t, gobreaker.StateClosed, b.State())

	v, err := Do[int](nil, func() (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestClients(t *testing.T) {
	cfg := config.APIConfig{ConnTimeout: time.Second, RespTimeout: 2 * time.Second}

	rest := NewRESTClient(cfg)
	assert.Equal(t, 3*time.Second, rest.Timeout)

	stream := NewStreamClient(cfg)
	assert.Zero(t, stream.Timeout)
	tr, ok := stream.Transport.(*http.Transport)
	require.True(t, ok)
	assert.Equal(t, 2*time.Second, tr.ResponseHeaderTimeout)
	assert.Equal(t, defaultMaxIdleConnsPerHost, tr.MaxIdleConnsPerHost)
}
