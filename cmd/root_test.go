package cmd

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Isagog/copertinefull/internal/app"
	"github.com/Isagog/copertinefull/internal/clock/system"
	"github.com/Isagog/copertinefull/internal/config"
	"github.com/Isagog/copertinefull/internal/edition"
	"github.com/Isagog/copertinefull/internal/pipeline"
	"github.com/Isagog/copertinefull/internal/storage/memory"
)

// useMemoryApp points config at in-memory stores and swaps the app factory.
// Tests using it mutate package state and must not run in parallel.
func useMemoryApp(t *testing.T, docs *memory.DocumentStore) {
	t.Helper()
	t.Setenv("COP_STORE_PROVIDER", "memory")
	t.Setenv("COP_ASSETS_DIR", t.TempDir())

	prev := newApp
	newApp = func(_ context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
		return app.WithStore(cfg, docs, memory.NewBlobStore(), logger), nil
	}
	t.Cleanup(func() { newApp = prev })
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestIngestRequiresOneSelector(t *testing.T) {
	useMemoryApp(t, memory.NewDocumentStore())

	_, err := execute(t, "ingest")
	require.Error(t, err)

	_, err = execute(t, "ingest", "--date", "2024-01-15", "-n", "3")
	require.Error(t, err)
}

func TestIngestRejectsUnknownSource(t *testing.T) {
	useMemoryApp(t, memory.NewDocumentStore())

	_, err := execute(t, "ingest", "--date", "2024-01-15", "--source", "rss")
	require.ErrorContains(t, err, "unknown source")
}

func TestIngestMissingDateFileIsFatal(t *testing.T) {
	useMemoryApp(t, memory.NewDocumentStore())

	_, err := execute(t, "ingest", "--date-file", t.TempDir()+"/absent.txt")
	require.Error(t, err)
}

func TestIngestMalformedDateCompletes(t *testing.T) {
	useMemoryApp(t, memory.NewDocumentStore())

	out, err := execute(t, "ingest", "--date", "15/01/2024")
	require.NoError(t, err)
	require.Contains(t, out, "attempted=0")
}

func TestInvalidConfigAborts(t *testing.T) {
	useMemoryApp(t, memory.NewDocumentStore())
	t.Setenv("COP_HTTP_TIMEOUT_SECONDS", "5")

	_, err := execute(t, "gaps")
	require.ErrorContains(t, err, "invalid config")
}

func TestGapsPrintsMissingDates(t *testing.T) {
	docs := memory.NewDocumentStore()
	useMemoryApp(t, docs)

	loc, err := time.LoadLocation("Europe/Rome")
	require.NoError(t, err)
	today := system.NewIn(loc).Today()
	for _, day := range []time.Time{today.AddDate(0, 0, -3), today} {
		ed := edition.Edition{BusinessKey: edition.BusinessKey(day), PublicationDate: day, PublisherName: "Il Manifesto"}
		_, err := docs.Insert(context.Background(), "Copertine", "", ed.Properties())
		require.NoError(t, err)
	}

	cfg, err := config.Load("")
	require.NoError(t, err)
	cal, err := app.WithStore(cfg, docs, memory.NewBlobStore(), nil).Calendar()
	require.NoError(t, err)
	var want []string
	for _, day := range []time.Time{today.AddDate(0, 0, -2), today.AddDate(0, 0, -1)} {
		if cal.Expected(day) {
			want = append(want, day.Format(edition.ISODateLayout))
		}
	}

	out, err := execute(t, "gaps")
	require.NoError(t, err)
	got := strings.Fields(out)
	if len(want) == 0 {
		require.Empty(t, got)
		return
	}
	require.Equal(t, want, got)
}

func TestIngestOptionsSelector(t *testing.T) {
	t.Parallel()

	require.Equal(t, pipeline.SelectSingle, ingestOptions{date: "2024-01-15"}.selector().Kind)
	require.Equal(t, pipeline.SelectFile, ingestOptions{dateFile: "dates.txt"}.selector().Kind)
	sel := ingestOptions{days: 7}.selector()
	require.Equal(t, pipeline.SelectWindow, sel.Kind)
	require.Equal(t, 7, sel.Days)
}

func TestPrintSummary(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	printSummary(&buf, pipeline.RunStats{
		Attempted: 3, Skipped: 1, Succeeded: 1, Failed: 1,
		Failures:    []pipeline.Failure{{Key: "15-01-2024", Kind: edition.KindNetwork, Err: context.DeadlineExceeded}},
		Interrupted: true,
	})
	out := buf.String()
	require.Contains(t, out, "attempted=3 skipped=1 succeeded=1 failed=1")
	require.Contains(t, out, "15-01-2024")
	require.Contains(t, out, "interrupted")
}
