package matching

import (
	"net/http"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func assertHTTPStatus(t *testing.T, err error, status int) {
	t.Helper()
	require.Error(t, err)
	require.True(t, httperror.IsHTTPError(err), "expected an HTTP error, got %v", err)
	assert.Equal(t, status, httperror.GetStatusCode(err))
}

func assertConflict(t *testing.T, err error) {
	t.Helper()
	assertHTTPStatus(t, err, http.StatusConflict)
}
