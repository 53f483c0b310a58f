package cli

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kidandcat/bankcheck/internal/visualgrid"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd("test")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func demoSite(t *testing.T) string {
	srv := httptest.NewServer(http.FileServer(http.Dir("../../pkg/demobank/testdata/site")))
	t.Cleanup(srv.Close)
	return srv.URL
}

func staticRun(base string, extra ...string) []string {
	args := []string{"run", "--driver", "static", "--base-url", base, "--expect-timeout", "100ms"}
	return append(args, extra...)
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "bankcheck test\n", out)
}

func TestRunFunctionalSuite(t *testing.T) {
	t.Setenv("DEMO_SITE", "")
	out, err := execute(t, staticRun(demoSite(t), "--suite", "functional")...)
	require.NoError(t, err, out)
	assert.Contains(t, out, "✓ PASS A traditional test/should log into the demo app")
	assert.Contains(t, out, "1 passed, 0 failed, 0 infra")
}

func TestRunReportsFailures(t *testing.T) {
	t.Setenv("DEMO_SITE", "v2")
	out, err := execute(t, staticRun(demoSite(t), "--suite", "functional")...)
	require.ErrorIs(t, err, ErrCasesFailed)
	assert.Contains(t, out, "✗ FAIL A traditional test/should log into the demo app")
	assert.Contains(t, out, `"Bogus"`)
	assert.Contains(t, out, "0 passed, 1 failed, 0 infra")
	assert.Contains(t, out, "bankcheck run --run '^A traditional test$/^should log into the demo app$'")
}

func TestRunSuiteFile(t *testing.T) {
	t.Setenv("DEMO_SITE", "original")
	out, err := execute(t, staticRun(demoSite(t), "../../suites/functional.test")...)
	require.NoError(t, err, out)
	assert.Contains(t, out, "Running 1 cases from 1 files")
}

func TestRunVisualSuite(t *testing.T) {
	t.Setenv("DEMO_SITE", "")
	t.Setenv("BANKCHECK_VISUAL_API_KEY", "secret")
	service := visualgrid.New(visualgrid.WithAPIKey("secret"))
	srv := httptest.NewServer(service.Handler())
	defer func() {
		srv.Close()
		service.Wait()
	}()

	out, err := execute(t, staticRun(demoSite(t), "--suite", "visual", "--visual-url", srv.URL)...)
	require.NoError(t, err, out)
	assert.Contains(t, out, "✓ PASS A visual test/should log into the demo app")
}

func TestRunFilters(t *testing.T) {
	out, err := execute(t, staticRun(demoSite(t), "--skip", "visual", "--run", "^A t", "--skip", "traditional")...)
	require.NoError(t, err)
	assert.Contains(t, out, "Running 0 cases")
}

func TestRunErrors(t *testing.T) {
	_, err := execute(t, "run", "--suite", "bogus", "--driver", "static")
	assert.ErrorContains(t, err, "unknown suite")

	_, err = execute(t, "run", "--driver", "netscape")
	assert.ErrorContains(t, err, "unknown driver")

	_, err = execute(t, "run", "--driver", "static", t.TempDir())
	assert.ErrorContains(t, err, "no suite files")

	_, err = execute(t, "run", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to load config file")
}

func TestFindSuiteFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.test", "b.test", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0644))
	}

	files, err := findSuiteFiles("*.test", []string{dir, "extra.test"})
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.test"),
		filepath.Join(dir, "b.test"),
		"extra.test",
	}, files)
}
