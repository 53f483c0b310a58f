package visualgrid

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kidandcat/bankcheck/pkg/eyes"
)

type apiTest struct {
	t      *testing.T
	server *Server
	http   *httptest.Server
}

func newAPITest(t *testing.T, opts ...Option) *apiTest {
	s := New(opts...)
	h := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		h.Close()
		s.Wait()
	})
	return &apiTest{t: t, server: s, http: h}
}

func (a *apiTest) call(method, path, key string, body any, out any) int {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, a.http.URL+"/api/v1"+path, &buf)
	require.NoError(a.t, err)
	if key != "" {
		req.Header.Set(eyes.APIKeyHeader, key)
	}
	resp, err := a.http.Client().Do(req)
	require.NoError(a.t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(a.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (a *apiTest) start(key string) string {
	var info eyes.SessionInfo
	status := a.call(http.MethodPost, "/sessions", key, eyes.StartSessionRequest{
		AppName:  "Applitools Demo App",
		TestName: "Login",
		Target:   eyes.RenderTarget{Browser: eyes.Chrome, Width: 800, Height: 600},
	}, &info)
	require.Equal(a.t, http.StatusCreated, status)
	require.NotEmpty(a.t, info.ID)
	return info.ID
}

func (a *apiTest) resolved(id, key string) eyes.TestResults {
	a.server.Wait()
	var res eyes.TestResults
	require.Equal(a.t, http.StatusOK, a.call(http.MethodGet, "/sessions/"+id+"/results", key, nil, &res))
	return res
}

func TestAPIKeyRequired(t *testing.T) {
	api := newAPITest(t, WithAPIKey("secret"))

	status := api.call(http.MethodPost, "/sessions", "wrong", eyes.StartSessionRequest{}, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	api.start("secret")
}

func TestStartValidation(t *testing.T) {
	api := newAPITest(t)

	status := api.call(http.MethodPost, "/sessions", "", eyes.StartSessionRequest{AppName: "a", TestName: "b"}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	status = api.call(http.MethodGet, "/sessions/nope/results", "", nil, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestBaselineThenComparison(t *testing.T) {
	api := newAPITest(t)
	cp := eyes.Checkpoint{Name: "Login page", DOM: page}

	first := api.start("")
	require.Equal(t, http.StatusAccepted, api.call(http.MethodPost, "/sessions/"+first+"/checkpoints", "", cp, nil))
	var closing eyes.TestResults
	require.Equal(t, http.StatusOK, api.call(http.MethodPost, "/sessions/"+first+"/close", "", nil, &closing))
	assert.Equal(t, first, closing.SessionID)

	res := api.resolved(first, "")
	assert.Equal(t, eyes.Passed, res.Status)
	assert.True(t, res.IsNew)
	require.Len(t, res.Checkpoints, 1)
	assert.True(t, res.Checkpoints[0].IsNew)

	second := api.start("")
	cp.DOM = `<html><body><p>changed</p></body></html>`
	api.call(http.MethodPost, "/sessions/"+second+"/checkpoints", "", cp, nil)
	api.call(http.MethodPost, "/sessions/"+second+"/close", "", nil, nil)

	res = api.resolved(second, "")
	assert.Equal(t, eyes.Unresolved, res.Status)
	assert.False(t, res.IsNew)
	assert.Equal(t, 1, res.Mismatches())
}

func TestUploadAfterClose(t *testing.T) {
	api := newAPITest(t)
	id := api.start("")
	api.call(http.MethodPost, "/sessions/"+id+"/close", "", nil, nil)

	status := api.call(http.MethodPost, "/sessions/"+id+"/checkpoints", "", eyes.Checkpoint{Name: "late"}, nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, http.StatusConflict, api.call(http.MethodDelete, "/sessions/"+id, "", nil, nil))
}

func TestAbortedSessionFails(t *testing.T) {
	api := newAPITest(t)
	id := api.start("")

	assert.Equal(t, http.StatusNoContent, api.call(http.MethodDelete, "/sessions/"+id, "", nil, nil))
	assert.Equal(t, http.StatusNoContent, api.call(http.MethodDelete, "/sessions/"+id, "", nil, nil))
	res := api.resolved(id, "")
	assert.Equal(t, eyes.Failed, res.Status)
	assert.True(t, res.Aborted)
	assert.Equal(t, http.StatusConflict, api.call(http.MethodPost, "/sessions/"+id+"/close", "", nil, nil))
}

func TestEvaluationIsAsynchronous(t *testing.T) {
	api := newAPITest(t, WithEvaluationDelay(100*time.Millisecond))
	id := api.start("")
	api.call(http.MethodPost, "/sessions/"+id+"/checkpoints", "", eyes.Checkpoint{Name: "c", DOM: page}, nil)

	var res eyes.TestResults
	api.call(http.MethodPost, "/sessions/"+id+"/close", "", nil, &res)
	assert.Equal(t, eyes.Running, res.Status)
	assert.False(t, res.Resolved())

	assert.Equal(t, eyes.Passed, api.resolved(id, "").Status)
}
