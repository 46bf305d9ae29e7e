package daemon

import (
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanscout/lanscout/internal/db"
)

func newTestListener(t *testing.T) (*listener, sqlmock.Sqlmock) {
	t.Helper()
	sdb, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sdb.Close() })
	return newListener("127.0.0.1:0", db.NewFromSQL(sdb)), mock
}

func TestHealthEndpoint(t *testing.T) {
	l, _ := newTestListener(t)

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	l.server.Handler.ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

func TestReadyEndpointDatabaseUp(t *testing.T) {
	l, mock := newTestListener(t)
	mock.ExpectPing()

	req := httptest.NewRequest("GET", "/readyz", nil)
	rec := httptest.NewRecorder()
	l.server.Handler.ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ready"`)
}

func TestMetricsEndpoint(t *testing.T) {
	l, _ := newTestListener(t)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	l.server.Handler.ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "lanscout_")
}

func TestMethodNotAllowed(t *testing.T) {
	l, _ := newTestListener(t)

	req := httptest.NewRequest("POST", "/healthz", nil)
	rec := httptest.NewRecorder()
	l.server.Handler.ServeHTTP(rec, req)

	assert.Equal(t, 405, rec.Code)
}
