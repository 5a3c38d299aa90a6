package cli_test

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/bursar/internal/cli"
)

// env is a config file pointing at a fresh SQLite database.
type env struct {
	dir    string
	config string
}

func newEnv(t *testing.T) env {
	t.Helper()
	dir := t.TempDir()
	config := filepath.Join(dir, "bursar.yaml")
	body := "driver: sqlite\n" +
		"dsn: file:" + filepath.Join(dir, "bursar.db") + "?_pragma=busy_timeout(10000)\n" +
		"currency: bdt\n" +
		"default_fee: 500\n" +
		"poll_interval: 50ms\n"
	require.NoError(t, os.WriteFile(config, []byte(body), 0o600))
	return env{dir: dir, config: config}
}

func (e env) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := cli.NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--config", e.config}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func decode(t *testing.T, out string, data any) {
	t.Helper()
	var resp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.Equal(t, "ok", resp.Status)
	require.NoError(t, json.Unmarshal(resp.Data, data))
}

func (e env) writeSheet(t *testing.T) string {
	t.Helper()
	path := filepath.Join(e.dir, "marks.csv")
	src := "Student ID,Subject,Marks\n" +
		"s1,Math,91\n" +
		"s2,Math,78\n" +
		"s3,Math,ninety\n"
	require.NoError(t, os.WriteFile(path, []byte(src), 0o600))
	return path
}

func TestImportRankAndMerit(t *testing.T) {
	e := newEnv(t)
	sheet := e.writeSheet(t)

	for range 2 {
		out, err := e.run(t, "import-results", sheet, "--exam", "term-1", "--class", "Class 5", "--format", "json")
		require.Error(t, err, "the bad row fails the command")
		assert.Equal(t, cli.ExitFailure, cli.GetExitCode(err))

		var report struct {
			Total, Succeeded, Failed int
			Errors                   []string
		}
		decode(t, out, &report)
		assert.Equal(t, 3, report.Total)
		assert.Equal(t, 2, report.Succeeded)
		assert.Equal(t, 1, report.Failed)
		require.Len(t, report.Errors, 1)
		assert.Contains(t, report.Errors[0], "line 4")
	}

	out, err := e.run(t, "rank", "term-1", "--format", "json")
	require.NoError(t, err)
	var ranked []struct {
		StudentID string `json:"studentId"`
		Position  *int   `json:"position"`
	}
	decode(t, out, &ranked)
	require.Len(t, ranked, 2, "re-importing the sheet does not duplicate results")
	assert.Equal(t, "s1", ranked[0].StudentID)
	require.NotNil(t, ranked[0].Position)
	assert.Equal(t, 1, *ranked[0].Position)

	xlsx := filepath.Join(e.dir, "merit.xlsx")
	out, err = e.run(t, "merit", "term-1", "--out", xlsx)
	require.NoError(t, err)
	assert.Contains(t, out, "wrote 2 standing(s)")
	info, err := os.Stat(xlsx)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestResolveFeeFallsBackToDefault(t *testing.T) {
	e := newEnv(t)

	out, err := e.run(t, "resolve-fee", "--class", "Class 5", "--format", "json")
	require.NoError(t, err)

	var res struct {
		Source string `json:"source"`
		Amount struct {
			Amount int64 `json:"amount"`
		} `json:"amount"`
	}
	decode(t, out, &res)
	assert.Equal(t, "default", res.Source)
	assert.Equal(t, int64(50000), res.Amount.Amount)
}

func TestNextVoucher(t *testing.T) {
	e := newEnv(t)

	out, err := e.run(t, "next-voucher", "--year", "2025")
	require.NoError(t, err)
	assert.Equal(t, "2025-001", strings.TrimSpace(out))
}

func TestSummaryCommands(t *testing.T) {
	e := newEnv(t)

	out, err := e.run(t, "summary", "--from", "2025-01-01", "--to", "2026-01-01")
	require.NoError(t, err)
	assert.Contains(t, out, "INCOME")

	_, err = e.run(t, "summary", "--from", "yesterday")
	assert.Error(t, err)

	out, err = e.run(t, "class-summary", "--format", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"status":"ok"`)

	out, err = e.run(t, "watch-summary", "--for", "500ms", "--format", "json")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.NotEmpty(t, lines)
	assert.Contains(t, lines[0], "transactionCount")
}

func TestSweepOverdueAndMigrate(t *testing.T) {
	e := newEnv(t)

	out, err := e.run(t, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "migrated sqlite store")

	out, err = e.run(t, "sweep-overdue", "--at", "2025-06-01")
	require.NoError(t, err)
	assert.Contains(t, out, "0 fee collection(s) marked overdue")
}

func TestRootValidation(t *testing.T) {
	e := newEnv(t)

	_, err := e.run(t, "summary", "--format", "xml")
	assert.ErrorContains(t, err, "invalid format")

	_, err = e.run(t, "summary", "--driver", "cassandra")
	assert.Error(t, err)
	assert.Equal(t, cli.ExitCommandError, cli.GetExitCode(err))
}

func TestLoadConfig(t *testing.T) {
	e := newEnv(t)

	cfg, err := cli.LoadConfig(e.config)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Driver)
	assert.Equal(t, 500.0, cfg.DefaultFee)
	assert.Equal(t, "@hourly", cfg.OverdueSweep, "unset keys keep their defaults")

	_, err = cli.LoadConfig(filepath.Join(e.dir, "missing.yaml"))
	assert.Error(t, err)
}
