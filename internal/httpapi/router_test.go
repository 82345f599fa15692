package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jfima/amanu/internal/cost"
	"github.com/jfima/amanu/internal/jobstore"
	"github.com/jfima/amanu/internal/models"
)

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	root := t.TempDir()
	store := jobstore.New(root)
	idx, err := cost.Open(filepath.Join(root, "index.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	const plaintext = "test-token"
	hash, err := HashToken(plaintext)
	require.NoError(t, err)

	srv := New(store, idx, NewBroadcaster(), hash, []byte("test-secret"))
	return srv, plaintext
}

func TestHealthEndpointRequiresNoAuth(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestJobsEndpointRejectsMissingBearerToken(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/jobs", nil)
	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestJobsEndpointRejectsWrongBearerToken(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/jobs", nil)
	req.Header.Set("Authorization", "Bearer wrong-token")
	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestJobsEndpointListsJobsWithValidToken(t *testing.T) {
	srv, token := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/jobs", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Jobs []models.Job `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Empty(t, body.Jobs)
}

func TestShowJobReturnsNotFoundForUnknownJob(t *testing.T) {
	srv, token := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/jobs/does-not-exist", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIssueGrantThenStreamSucceedsWithMatchingJobID(t *testing.T) {
	root := t.TempDir()
	store := jobstore.New(root)
	job, err := store.Create("source.mp3", models.Configuration{})
	require.NoError(t, err)

	idx, err := cost.Open(filepath.Join(root, "index.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	const plaintext = "test-token"
	hash, err := HashToken(plaintext)
	require.NoError(t, err)
	srv := New(store, idx, NewBroadcaster(), hash, []byte("test-secret"))

	req := httptest.NewRequest(http.MethodPost, "/jobs/"+job.ID+"/stream-grant", nil)
	req.Header.Set("Authorization", "Bearer "+plaintext)
	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var grantResp struct {
		Grant string `json:"grant"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &grantResp))
	assert.NotEmpty(t, grantResp.Grant)
}

func TestStreamRejectsGrantForDifferentJobID(t *testing.T) {
	srv, token := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/jobs/some-job/stream-grant", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code, "grant issuance for an unknown job should 404")
}
