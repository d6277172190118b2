package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	perrors "github.com/johnayoung/go-ohlcv-pipeline/internal/errors"
	"github.com/johnayoung/go-ohlcv-pipeline/internal/modelstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeDailyCSV writes days of smooth daily bars starting at from.
func writeDailyCSV(t *testing.T, dir, name string, from time.Time, days int) {
	t.Helper()
	var b strings.Builder
	b.WriteString("date,open,high,low,close,volume\n")
	for i := 0; i < days; i++ {
		ts := from.AddDate(0, 0, i)
		price := 100 + 10*math.Sin(float64(i)/5)
		fmt.Fprintf(&b, "%s,%g,%g,%g,%g,%g\n",
			ts.Format("2006-01-02"), price, price+2+math.Cos(float64(i)), price-2, price+math.Sin(float64(i)/3), 1000+100*math.Sin(float64(i)/7))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(b.String()), 0o644))
}

type fixture struct {
	data   string
	out    string
	config string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	root := t.TempDir()
	f := fixture{
		data:   filepath.Join(root, "data"),
		out:    filepath.Join(root, "out"),
		config: filepath.Join(root, "ohlcvpipe.yaml"),
	}
	require.NoError(t, os.MkdirAll(f.data, 0o755))

	cfg := fmt.Sprintf(`source:
  kind: file
  directory: %s
export:
  kind: csv
  directory: %s
model_store:
  type: duckdb
  database_url: %s
logging:
  level: error
  format: text
`, f.data, f.out, filepath.Join(root, "models.db"))
	require.NoError(t, os.WriteFile(f.config, []byte(cfg), 0o644))
	return f
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := execute(context.Background(), args, &out, &out)
	return out.String(), err
}

func TestFetchCommand(t *testing.T) {
	f := newFixture(t)
	from := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	writeDailyCSV(t, f.data, "f-btcusd-day.csv", from, 10)
	writeDailyCSV(t, f.data, "f-ethusd-day.csv", from, 10)

	out, err := run(t, "fetch", "-c", f.config, "--env-file", "",
		"--symbols", "btcusd,ETHUSD", "--interval", "day", "--start", "2022-01-02", "--end", "2022-01-05")
	require.NoError(t, err)
	assert.Contains(t, out, "BTCUSD: 4 rows 2022-01-02T00:00:00Z..2022-01-05T00:00:00Z columns=open,high,low,close,volume")
	assert.Contains(t, out, "ETHUSD: 4 rows")
	assert.FileExists(t, filepath.Join(f.out, "f-btcusd-day.csv"))
	assert.FileExists(t, filepath.Join(f.out, "f-ethusd-day.csv"))
}

func TestFetchCommand_MissingSymbolFails(t *testing.T) {
	f := newFixture(t)
	writeDailyCSV(t, f.data, "f-btcusd-day.csv", time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC), 10)

	_, err := run(t, "fetch", "-c", f.config, "--env-file", "",
		"--symbols", "BTCUSD,SOLUSD", "--interval", "day", "--start", "2022-01-02", "--end", "2022-01-05")
	require.Error(t, err)
	assert.True(t, errors.Is(err, perrors.ErrDataNotAvailable))
	assert.Equal(t, ExitDataError, exitCode(err))
	assert.NoFileExists(t, filepath.Join(f.out, "f-btcusd-day.csv"), "no partial export")
}

func TestFetchCommand_UnreachableVendorIsConnectionError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream unavailable", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	root := t.TempDir()
	config := filepath.Join(root, "ohlcvpipe.yaml")
	require.NoError(t, os.WriteFile(config, []byte(fmt.Sprintf(`source:
  kind: polygon
  endpoint: %s
  api_key: secret
  rate_limit: 0
export:
  kind: csv
  directory: %s
retry:
  max_attempts: 1
logging:
  level: error
`, server.URL, filepath.Join(root, "out"))), 0o644))

	_, err := run(t, "fetch", "-c", config, "--env-file", "",
		"--symbols", "BTCUSD", "--interval", "day", "--start", "2022-01-02", "--end", "2022-01-05")
	require.Error(t, err)
	assert.True(t, errors.Is(err, perrors.ErrDataNotAvailable))
	assert.Equal(t, ExitConnectionErr, exitCode(err))
}

func TestTransformCommand(t *testing.T) {
	f := newFixture(t)
	from := time.Date(2021, 6, 1, 0, 0, 0, 0, time.UTC)
	writeDailyCSV(t, f.data, "f-btcusd-day.csv", from, 220)
	writeDailyCSV(t, f.data, "f-ethusd-day.csv", from, 220)

	out, err := run(t, "transform", "-c", f.config, "--env-file", "",
		"--symbols", "BTCUSD,ETHUSD", "--interval", "day", "--start", "2021-12-01", "--end", "2021-12-20")
	require.NoError(t, err)
	assert.Contains(t, out, "BTCUSD: 20 rows 2021-12-01T00:00:00Z..2021-12-20T00:00:00Z columns=open,high,low,close,volume,")
	assert.Contains(t, out, "momentum_rsi")

	data, err := os.ReadFile(filepath.Join(f.out, "f-ethusd-day.csv"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "date,open,high,low,close,volume,"))
}

func TestSymbolsCommand(t *testing.T) {
	f := newFixture(t)
	from := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	writeDailyCSV(t, f.data, "f-ethusd-day.csv", from, 3)
	writeDailyCSV(t, f.data, "f-btcusd-day.csv", from, 3)
	writeDailyCSV(t, f.data, "f-solusd-hour.csv", from, 3)

	out, err := run(t, "symbols", "-c", f.config, "--env-file", "", "--interval", "day")
	require.NoError(t, err)
	assert.Equal(t, "BTCUSD\nETHUSD\n", out)
}

func TestModelsCommands(t *testing.T) {
	f := newFixture(t)
	artifact := filepath.Join(t.TempDir(), "model.bin")
	require.NoError(t, os.WriteFile(artifact, []byte("weights"), 0o644))

	out, err := run(t, "models", "put", "-c", f.config, "--env-file", "",
		"--artifact", artifact, "--id", "m1", "--tags", "btc,prod", "--performance", "0.8",
		"--columns", "open,close", "--meta", `{"epochs":10}`)
	require.NoError(t, err)
	assert.Equal(t, "m1\n", out)

	_, err = run(t, "models", "put", "-c", f.config, "--env-file", "",
		"--artifact", artifact, "--id", "m2", "--tags", "eth", "--performance", "0.5")
	require.NoError(t, err)

	out, err = run(t, "models", "list", "-c", f.config, "--env-file", "", "--filter", "tag=btc", "--json")
	require.NoError(t, err)
	var found []modelstore.MetaModel
	require.NoError(t, json.Unmarshal([]byte(out), &found))
	require.Len(t, found, 1)
	assert.Equal(t, "m1", found[0].ID)
	assert.Equal(t, []byte("weights"), found[0].Artifact)
	assert.Equal(t, []string{"btc", "prod"}, found[0].Tags)
	assert.Equal(t, map[string]interface{}{"epochs": float64(10)}, found[0].Meta)

	out, err = run(t, "models", "list", "-c", f.config, "--env-file", "")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "ID"))

	_, err = run(t, "models", "list", "-c", f.config, "--env-file", "", "--filter", "owner=me")
	assert.ErrorIs(t, err, modelstore.ErrUnsupportedFilter)
	assert.Equal(t, ExitUsageError, exitCode(err))

	_, err = run(t, "models", "put", "-c", f.config, "--env-file", "",
		"--artifact", artifact, "--performance", "1.5")
	assert.True(t, errors.Is(err, perrors.ErrArgument))
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"argument", perrors.NewArgumentError("interval", "bad"), ExitUsageError},
		{"config", &configError{err: errors.New("bad yaml")}, ExitConfigError},
		{"canceled", fmt.Errorf("fetch failed: %w", context.Canceled), ExitInterrupt},
		{"server", &perrors.TransportError{Endpoint: "x", StatusCode: 503}, ExitConnectionErr},
		{"schema", &perrors.SchemaError{Check: "columns", Message: "missing close"}, ExitDataError},
		{"fetch failed on the wire", perrors.NewDataNotAvailable("BTCUSD", time.Time{}, time.Time{},
			fmt.Errorf("failed to fetch page 0 of BTCUSD: %w", &perrors.TransportError{Endpoint: "x", StatusCode: 502})), ExitConnectionErr},
		{"fetch timed out", perrors.NewDataNotAvailable("BTCUSD", time.Time{}, time.Time{}, context.DeadlineExceeded), ExitConnectionErr},
		{"fetch rejected", perrors.NewDataNotAvailable("BTCUSD", time.Time{}, time.Time{},
			&perrors.TransportError{Endpoint: "x", StatusCode: 404}), ExitDataError},
		{"no rows", perrors.NewDataNotAvailable("BTCUSD", time.Time{}, time.Time{}, errors.New("source returned no rows")), ExitDataError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}

	bad := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(bad, []byte("title = 'x'"), 0o644))
	_, err := run(t, "fetch", "--config", bad, "--env-file", "",
		"--symbols", "BTCUSD", "--start", "2022-01-01", "--end", "2022-01-05")
	assert.Equal(t, ExitConfigError, exitCode(err))
}
