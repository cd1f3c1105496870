package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"entityportal/internal/portal"
	"entityportal/internal/tracker"
	"entityportal/pkg/domain"
)

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand(portal.NewViper())
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func sqliteArgs(t *testing.T) []string {
	t.Helper()
	return []string{
		"--storage-driver", "sqlite",
		"--storage-dsn", filepath.Join(t.TempDir(), "portal.db"),
		"--log-level", "error",
	}
}

var asAdmin = []string{"--user", "ada", "--roles", tracker.RoleAdministrator}

func TestRootCommand(t *testing.T) {
	cmd := newRootCommand(portal.NewViper())
	require.NotNil(t, cmd)
	assert.Equal(t, "portal", cmd.Use)

	for _, path := range [][]string{
		{"serve"},
		{"roles", "list"}, {"roles", "add"}, {"roles", "import"},
		{"project", "add"}, {"project", "show"}, {"project", "exists"},
	} {
		t.Run(strings.Join(path, " "), func(t *testing.T) {
			sub, _, err := cmd.Find(path)
			require.NoError(t, err)
			assert.Equal(t, path[len(path)-1], sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := newRootCommand(portal.NewViper())
	for name, def := range map[string]string{
		portal.KeyAuthMode:      "custom",
		portal.KeyProxy:         "local",
		portal.KeyStorageDriver: "memory",
		portal.KeyLogFormat:     "json",
		keyOutput:               "text",
	} {
		f := cmd.PersistentFlags().Lookup(name)
		require.NotNil(t, f, name)
		assert.Equal(t, def, f.DefValue, name)
	}
	assert.Equal(t, "o", cmd.PersistentFlags().Lookup(keyOutput).Shorthand)

	serve, _, err := cmd.Find([]string{"serve"})
	require.NoError(t, err)
	assert.Equal(t, ":8080", serve.Flags().Lookup(portal.KeyListen).DefValue)
}

func TestInvalidSettingsAreRejected(t *testing.T) {
	_, _, err := execute(t, "roles", "list", "--output", "yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid output")

	_, _, err = execute(t, "roles", "list", "--proxy", "http")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "endpoint is required")

	_, _, err = execute(t, "roles", "list", "--auth-mode", "kerberos")
	require.Error(t, err)

	_, _, err = execute(t, "roles", "list", "--storage-driver", "oracle")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown storage driver")
}

func TestRolesAddAndListPersist(t *testing.T) {
	base := sqliteArgs(t)

	out, _, err := execute(t, append(append([]string{"roles", "add", "Developer"}, base...), asAdmin...)...)
	require.NoError(t, err)
	assert.Equal(t, "1\tDeveloper\n", out)

	out, _, err = execute(t, append(append([]string{"roles", "add", "Lead", "-o", "json"}, base...), asAdmin...)...)
	require.NoError(t, err)
	var added tracker.RoleInfo
	require.NoError(t, json.Unmarshal([]byte(out), &added))
	assert.Equal(t, tracker.RoleInfo{ID: 2, Name: "Lead"}, added)

	out, _, err = execute(t, append([]string{"roles", "list"}, base...)...)
	require.NoError(t, err)
	assert.Equal(t, "1\tDeveloper\n2\tLead\n", out)
}

func TestRolesAddRequiresAdministrator(t *testing.T) {
	base := sqliteArgs(t)
	_, _, err := execute(t, append([]string{"roles", "add", "Developer", "--user", "pat", "--roles", tracker.RoleProjectManager}, base...)...)
	require.Error(t, err)
	assert.True(t, domain.IsSecurityViolation(err), "got %v", err)
}

func TestRolesImport(t *testing.T) {
	base := sqliteArgs(t)
	_, _, err := execute(t, append(append([]string{"roles", "add", "Dev"}, base...), asAdmin...)...)
	require.NoError(t, err)

	file := filepath.Join(t.TempDir(), "roles.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`roles:
  - id: 1
    name: Developer
  - id: 5
    name: Tester
  - name: Lead
`), 0o600))

	out, _, err := execute(t, append(append([]string{"roles", "import", file}, base...), asAdmin...)...)
	require.NoError(t, err)
	assert.Equal(t, "3 roles\n", out)

	out, _, err = execute(t, append([]string{"roles", "list"}, base...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "1\tDeveloper\n")
	assert.Contains(t, out, "5\tTester\n")
	assert.Contains(t, out, "6\tLead\n")
}

func TestRolesImportRejectsBadFiles(t *testing.T) {
	_, _, err := execute(t, "roles", "import", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	file := filepath.Join(t.TempDir(), "roles.yaml")
	require.NoError(t, os.WriteFile(file, []byte("roles: [\n"), 0o600))
	_, _, err = execute(t, "roles", "import", file)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse")
}

func TestProjectAddShowExists(t *testing.T) {
	base := append(sqliteArgs(t), "--user", "pat", "--roles", tracker.RoleProjectManager)

	out, _, err := execute(t, append([]string{"project", "add", "Portal",
		"--description", "remote data portal",
		"--started", "2024-05-01", "--ended", "2024-06-30",
		"--assign", "10=1", "-o", "json"}, base...)...)
	require.NoError(t, err)
	var created projectView
	require.NoError(t, json.Unmarshal([]byte(out), &created))
	assert.NotEqual(t, uuid.Nil, created.ID)
	assert.Equal(t, "Portal", created.Name)
	require.NotNil(t, created.Ended)
	require.Len(t, created.Resources, 1)
	assert.Equal(t, 10, created.Resources[0].ResourceID)

	out, _, err = execute(t, append([]string{"project", "show", created.ID.String()}, base...)...)
	require.NoError(t, err)
	assert.Contains(t, out, created.ID.String()+"\tPortal\n")
	assert.Contains(t, out, "  started: 2024-05-01\n")
	assert.Contains(t, out, "  ended: 2024-06-30\n")
	assert.Contains(t, out, "  resource 10 role 1\n")

	out, _, err = execute(t, append([]string{"project", "exists", created.ID.String()}, base...)...)
	require.NoError(t, err)
	assert.Equal(t, "true\n", out)

	out, _, err = execute(t, append([]string{"project", "exists", uuid.NewString()}, base...)...)
	require.NoError(t, err)
	assert.Equal(t, "false\n", out)
}

func TestProjectAddValidation(t *testing.T) {
	base := append(sqliteArgs(t), "--user", "pat", "--roles", tracker.RoleProjectManager)

	_, _, err := execute(t, append([]string{"project", "add", "Portal", "--started", "2024-07-01", "--ended", "2024-06-30"}, base...)...)
	require.Error(t, err)
	assert.True(t, domain.IsValidationFailed(err), "got %v", err)

	_, _, err = execute(t, append([]string{"project", "add", "Portal", "--started", "May 1"}, base...)...)
	require.Error(t, err)

	_, _, err = execute(t, append([]string{"project", "add", "Portal", "--assign", "x=1"}, base...)...)
	require.Error(t, err)

	_, _, err = execute(t, append([]string{"project", "show", "not-a-uuid"}, base...)...)
	require.Error(t, err)
}

func TestProjectAddRequiresProjectRole(t *testing.T) {
	_, _, err := execute(t, "project", "add", "Portal", "--user", "rae", "--roles", "Reader")
	require.Error(t, err)
	assert.True(t, domain.IsSecurityViolation(err), "got %v", err)
}

func newTestSession(t *testing.T, args ...string) (*rootOptions, *session) {
	t.Helper()
	opts := &rootOptions{v: portal.NewViper()}
	cmd := &cobra.Command{Use: "serve"}
	opts.addFlags(cmd.Flags())
	require.NoError(t, cmd.ParseFlags(args))
	require.NoError(t, opts.load(cmd))
	cmd.SetErr(io.Discard)
	s, err := opts.open(context.Background(), cmd)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return opts, s
}

func TestHostHandlerServesRemoteClients(t *testing.T) {
	_, host := newTestSession(t, "--log-level", "error")
	reg := prometheus.NewRegistry()
	trace := portal.NewJSONTracer(io.Discard)
	handler, err := host.hostHandler(metricsPrometheus, reg, trace)
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	base := append([]string{"--proxy", "http", "--endpoint", srv.URL, "--log-level", "error"}, asAdmin...)
	out, _, err := execute(t, append([]string{"roles", "add", "Developer"}, base...)...)
	require.NoError(t, err)
	assert.Equal(t, "1\tDeveloper\n", out)

	out, _, err = execute(t, append([]string{"roles", "list"}, base...)...)
	require.NoError(t, err)
	assert.Equal(t, "1\tDeveloper\n", out)
	assert.NotEmpty(t, trace.Entries())

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "entityportal_calls_total")
}

func TestHostHandlerExpvarMetrics(t *testing.T) {
	_, host := newTestSession(t, "--log-level", "error")
	handler, err := host.hostHandler(metricsExpvar, prometheus.NewRegistry(), nil)
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	defer srv.Close()

	base := append([]string{"--proxy", "http", "--endpoint", srv.URL, "--log-level", "error"}, asAdmin...)
	_, _, err = execute(t, append([]string{"roles", "list"}, base...)...)
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/debug/vars")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"fetch.success"`)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.NotEqual(t, http.StatusOK, resp.StatusCode, "prometheus is not mounted")

	_, err = host.hostHandler("statsd", prometheus.NewRegistry(), nil)
	assert.ErrorContains(t, err, "unknown metrics backend")
}

func TestServeShutsDownWithContext(t *testing.T) {
	cmd := newRootCommand(portal.NewViper())
	var errOut bytes.Buffer
	cmd.SetOut(io.Discard)
	cmd.SetErr(&errOut)
	cmd.SetArgs([]string{"serve", "--listen", "127.0.0.1:0", "--log-format", "console"})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	require.NoError(t, cmd.ExecuteContext(ctx))
	assert.Contains(t, errOut.String(), "portal listening")
	assert.Contains(t, errOut.String(), "shutting down")
}

func TestConfigFile(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "portal.db")
	cfg := filepath.Join(dir, "portal.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("storage-driver: sqlite\nstorage-dsn: "+db+"\nlog-level: error\n"), 0o600))

	_, _, err := execute(t, append([]string{"roles", "add", "Developer", "--config", cfg}, asAdmin...)...)
	require.NoError(t, err)
	_, err = os.Stat(db)
	require.NoError(t, err, "the config file selected the sqlite store")

	_, _, err = execute(t, "roles", "list", "--config", filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
}
