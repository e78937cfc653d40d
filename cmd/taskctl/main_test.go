package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vinayprograms/taskgate/apitest"
	"github.com/vinayprograms/taskgate/credentials"
	"github.com/vinayprograms/taskgate/logging"
	"github.com/vinayprograms/taskgate/shutdown"
)

const (
	email    = "ada@example.com"
	password = "analytical-engine"
)

// setup starts a fake API with one account and points taskctl at it through
// the environment. The working directory and home are empty temp dirs so no
// stray config or account files are picked up.
func setup(t *testing.T) *apitest.Server {
	srv := apitest.New(t)
	srv.AddUser(email, password, "Ada Lovelace")

	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())
	t.Setenv("TASKGATE_BASE_URL", srv.URL)
	t.Setenv("TASKGATE_EMAIL", email)
	t.Setenv("TASKGATE_PASSWORD", password)
	t.Setenv("TASKGATE_TIMEOUT", "")
	t.Setenv("TASKGATE_LOG_LEVEL", "")
	t.Setenv("TASKGATE_NATS_URL", "")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	return srv
}

func runCmd(t *testing.T, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := run(ctx, args, &stdout, &stderr)
	return stdout.String(), err
}

func TestLogin(t *testing.T) {
	setup(t)

	out, err := runCmd(t, "login")
	require.NoError(t, err)
	assert.Equal(t, "Signed in as ada@example.com (Ada Lovelace)\n", out)
}

func TestLogin_BadPassword(t *testing.T) {
	setup(t)
	t.Setenv("TASKGATE_PASSWORD", "wrong")

	_, err := runCmd(t, "login")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid email or password")
}

func TestLogin_NoAccount(t *testing.T) {
	setup(t)
	t.Setenv("TASKGATE_EMAIL", "")

	_, err := runCmd(t, "login")
	assert.ErrorIs(t, err, credentials.ErrNoAccount)
}

func TestLogin_AccountFile(t *testing.T) {
	setup(t)
	t.Setenv("TASKGATE_EMAIL", "")

	path := filepath.Join(t.TempDir(), "account.toml")
	content := "[account]\nemail = \"ada@example.com\"\npassword = \"analytical-engine\"\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0400))

	out, err := runCmd(t, "--account", path, "login")
	require.NoError(t, err)
	assert.Contains(t, out, "Signed in as ada@example.com")
}

func TestVerify_JSON(t *testing.T) {
	setup(t)

	out, err := runCmd(t, "verify", "--json")
	require.NoError(t, err)

	var got struct {
		Phase         string `json:"phase"`
		Authenticated bool   `json:"authenticated"`
		User          struct {
			Email string `json:"email"`
		} `json:"user"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "authenticated", got.Phase)
	assert.True(t, got.Authenticated)
	assert.Equal(t, email, got.User.Email)
}

func TestMissingBaseURL(t *testing.T) {
	setup(t)
	t.Setenv("TASKGATE_BASE_URL", "")

	_, err := runCmd(t, "login")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base_url")
}

func TestConfigFile(t *testing.T) {
	srv := setup(t)
	t.Setenv("TASKGATE_BASE_URL", "")
	srv.AddTask(email, "from config", "", "")

	path := filepath.Join(t.TempDir(), "taskgate.toml")
	content := "base_url = \"" + srv.URL + "\"\n[store]\npage_size = 5\n[ratelimit]\nrequests = 100\nwindow = \"1s\"\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	out, err := runCmd(t, "--config", path, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "from config")
	assert.Equal(t, "5", srv.LastQuery(apitest.RouteList).Get("limit"))
}

func TestList(t *testing.T) {
	srv := setup(t)
	srv.AddTask(email, "Write report", "pending", "high")
	srv.AddTask(email, "Buy milk", "completed", "low")

	out, err := runCmd(t, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Write report")
	assert.Contains(t, out, "Buy milk")
	assert.Contains(t, out, "Page 1 of 1 (2 tasks)")

	out, err = runCmd(t, "list", "--status", "pending", "--priority", "high")
	require.NoError(t, err)
	assert.Contains(t, out, "Write report")
	assert.NotContains(t, out, "Buy milk")
	q := srv.LastQuery(apitest.RouteList)
	assert.Equal(t, "pending", q.Get("status_filter"))
	assert.Equal(t, "high", q.Get("priority_filter"))

	out, err = runCmd(t, "list", "--search", "milk")
	require.NoError(t, err)
	assert.Contains(t, out, "Buy milk")
	assert.NotContains(t, out, "Write report")
}

func TestList_Pagination(t *testing.T) {
	srv := setup(t)
	for i := 0; i < 45; i++ {
		srv.AddTask(email, "task", "", "")
	}

	out, err := runCmd(t, "list", "--page", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "Page 3 of 3 (45 tasks)")
	assert.Equal(t, "40", srv.LastQuery(apitest.RouteList).Get("skip"))
}

func TestList_InvalidFilter(t *testing.T) {
	srv := setup(t)

	_, err := runCmd(t, "list", "--status", "done")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid status")
	assert.Equal(t, 0, srv.Hits(apitest.RouteLogin))
}

func TestCreateGetUpdateDelete(t *testing.T) {
	srv := setup(t)

	out, err := runCmd(t, "create", "Plan trip", "--priority", "high", "--description", "book flights", "--due", "2026-12-01", "--json")
	require.NoError(t, err)
	var created struct {
		ID       string `json:"id"`
		Title    string `json:"title"`
		Priority string `json:"priority"`
		DueDate  string `json:"due_date"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &created))
	assert.Equal(t, "Plan trip", created.Title)
	assert.Equal(t, "high", created.Priority)
	assert.True(t, strings.HasPrefix(created.DueDate, "2026-12-01"))

	out, err = runCmd(t, "get", created.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "Plan trip")
	assert.Contains(t, out, "book flights")
	assert.Contains(t, out, "2026-12-01")

	out, err = runCmd(t, "update", created.ID, "--title", "Plan holiday", "--priority", "low")
	require.NoError(t, err)
	assert.Contains(t, out, "Plan holiday")
	stored, ok := srv.Task(created.ID)
	require.True(t, ok)
	assert.Equal(t, "low", stored.Priority)

	out, err = runCmd(t, "complete", created.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "completed")
	assert.Contains(t, out, "Completed:")

	out, err = runCmd(t, "reopen", created.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "pending")
	assert.NotContains(t, out, "Completed:")

	out, err = runCmd(t, "delete", created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Deleted "+created.ID+"\n", out)
	assert.Equal(t, 0, srv.TaskCount())
}

func TestUpdate_NothingToUpdate(t *testing.T) {
	setup(t)

	_, err := runCmd(t, "update", "some-id")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nothing to update")
}

func TestCreate_InvalidDue(t *testing.T) {
	setup(t)

	_, err := runCmd(t, "create", "x", "--due", "tomorrow")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid due date")
}

func TestGet_NotFound(t *testing.T) {
	setup(t)

	_, err := runCmd(t, "get", "missing")
	require.Error(t, err)
	assert.Equal(t, "Task not found", err.Error())
}

func TestWatch(t *testing.T) {
	srv := setup(t)
	srv.AddTask(email, "watched", "", "")

	out, err := runCmd(t, "watch", "--count", "2")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "session.changed")
	assert.Contains(t, lines[0], "taskgate.session")
	assert.Contains(t, lines[1], "tasks.listed")
	assert.Equal(t, 1, srv.Hits(apitest.RouteList))
}

func TestParseDue(t *testing.T) {
	d, err := parseDue("2026-03-04")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC), d)

	d, err = parseDue("2026-03-04T10:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, 10, d.Hour())

	_, err = parseDue("03/04/2026")
	assert.Error(t, err)
}

func TestWiringFailure(t *testing.T) {
	setup(t)
	t.Setenv("TASKGATE_NATS_URL", "nats://127.0.0.1:1")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://127.0.0.1:1")

	_, err := runCmd(t, "verify")
	require.Error(t, err)
}

func TestTeardownLogsFailedHandlers(t *testing.T) {
	var stderr bytes.Buffer
	logger := logging.New()
	logger.SetOutput(&stderr)

	a := &app{logger: logger, coord: shutdown.New(shutdown.WithLogger(logger))}
	a.coord.RegisterFunc("bus", shutdown.PhaseTransport, func(context.Context) error {
		return fmt.Errorf("connection reset")
	})
	a.teardown()

	assert.Contains(t, stderr.String(), "shutdown_incomplete")
	assert.Contains(t, stderr.String(), "bus")
}
