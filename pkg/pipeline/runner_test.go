package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"pgregory.net/rapid"

	"github.com/polisai/kvcopy/pkg/directive"
	"github.com/polisai/kvcopy/pkg/domain"
	"github.com/polisai/kvcopy/pkg/engine"
	"github.com/polisai/kvcopy/pkg/telemetry"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func assertCounter(t *testing.T, metrics *telemetry.Metrics, name, help, samples string) {
	t.Helper()
	expected := "# HELP " + name + " " + help + "\n# TYPE " + name + " counter\n" + samples
	require.NoError(t, testutil.GatherAndCompare(metrics.Registry(), strings.NewReader(expected), name))
}

func newRunner(t *testing.T, metrics *telemetry.Metrics, configs ...domain.StageConfig) *Runner {
	t.Helper()
	r := NewRunner(Config{PipelineID: "test", Logger: discardLogger(), Metrics: metrics})
	require.NoError(t, r.Reload(configs))
	return r
}

func TestProcess_StagesRunInOrder(t *testing.T) {
	r := newRunner(t, nil,
		domain.StageConfig{ID: "copy", Directives: map[string]any{"from": "email", "to": "contact"}},
		domain.StageConfig{ID: "mark", Directives: []any{
			map[string]any{"from": "contact", "to": "backup"},
			map[string]any{"write": "done", "to": "state"},
		}},
	)

	entry, err := r.Process(context.Background(), domain.Entry{"email": "a@b"})
	require.NoError(t, err)
	assert.Equal(t, domain.Entry{
		"email":   "a@b",
		"contact": "a@b",
		"backup":  "a@b",
		"state":   "done",
	}, entry)
}

func TestProcess_MatchFiltersStages(t *testing.T) {
	r := newRunner(t, nil,
		domain.StageConfig{
			ID:         "contacts-only",
			Match:      map[string]any{"kind": map[string]any{"equals": "contact"}},
			Directives: map[string]any{"write": true, "to": "seen"},
		},
	)

	contact, err := r.Process(context.Background(), domain.Entry{"kind": "contact"})
	require.NoError(t, err)
	assert.Equal(t, true, contact["seen"])

	other, err := r.Process(context.Background(), domain.Entry{"kind": "invoice"})
	require.NoError(t, err)
	assert.NotContains(t, other, "seen")
}

func TestProcess_Errors(t *testing.T) {
	r := NewRunner(Config{Logger: discardLogger()})

	_, err := r.Process(context.Background(), domain.Entry{})
	assert.ErrorIs(t, err, domain.ErrConfigInvalid)

	r = newRunner(t, nil, domain.StageConfig{ID: "s", Directives: map[string]any{"write": 1, "to": "a"}})
	_, err = r.Process(context.Background(), nil)
	assert.ErrorIs(t, err, domain.ErrMalformedEntry)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Process(ctx, domain.Entry{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReload_InvalidKeepsPreviousStages(t *testing.T) {
	metrics := telemetry.NewMetrics()
	r := newRunner(t, metrics, domain.StageConfig{ID: "first", Directives: map[string]any{"write": 1, "to": "a"}})

	err := r.Reload([]domain.StageConfig{
		{ID: "broken", Directives: map[string]any{"from": "a", "write": 1, "to": "b"}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, directive.ErrAmbiguousSource)
	assert.ErrorIs(t, err, domain.ErrConfigInvalid)

	var stageErr *domain.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, "broken", stageErr.StageID)

	require.Len(t, r.Stages(), 1)
	assert.Equal(t, "first", r.Stages()[0].Handler.ID())

	assertCounter(t, metrics, "kvcopy_config_reloads_total",
		"Total number of configuration reload attempts by status", `
		kvcopy_config_reloads_total{status="success"} 1
		kvcopy_config_reloads_total{status="validation_failed"} 1
	`)
}

func TestReload_RejectsBadMatchAndDuplicates(t *testing.T) {
	r := newRunner(t, nil, domain.StageConfig{ID: "keep", Directives: map[string]any{"write": 1, "to": "a"}})

	err := r.Reload([]domain.StageConfig{{
		ID:         "bad-match",
		Match:      map[string]any{"kind": map[string]any{"between": 1}},
		Directives: map[string]any{"write": 1, "to": "a"},
	}})
	assert.ErrorIs(t, err, domain.ErrConfigInvalid)

	err = r.Reload([]domain.StageConfig{
		{ID: "dup", Directives: map[string]any{"write": 1, "to": "a"}},
		{ID: "dup", Directives: map[string]any{"write": 2, "to": "b"}},
	})
	assert.ErrorIs(t, err, domain.ErrConfigInvalid)

	err = r.Reload(nil)
	assert.ErrorIs(t, err, domain.ErrConfigInvalid)

	_, err = r.Stage("keep")
	assert.NoError(t, err)
}

func TestLoad_RejectsUnvalidatedHandler(t *testing.T) {
	r := NewRunner(Config{Logger: discardLogger()})
	e := engine.New(domain.StageConfig{ID: "raw", Directives: []any{}}, engine.WithLogger(discardLogger()))

	err := r.Load([]Stage{{Handler: e}})
	assert.ErrorIs(t, err, directive.ErrNoDirectives)
	assert.Empty(t, r.Stages())
}

func TestStage_Lookup(t *testing.T) {
	r := newRunner(t, nil, domain.StageConfig{ID: "known", Directives: map[string]any{"write": 1, "to": "a"}})

	stage, err := r.Stage("known")
	require.NoError(t, err)
	assert.Equal(t, "known", stage.Handler.ID())

	_, err = r.Stage("unknown")
	assert.True(t, errors.Is(err, domain.ErrStageNotFound))
}

func TestProcess_RecordsSpansAndMetrics(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	metrics := telemetry.NewMetrics()
	r := newRunner(t, metrics,
		domain.StageConfig{ID: "copy", Directives: map[string]any{"from": "a", "to": "b"}},
		domain.StageConfig{
			ID:         "never",
			Match:      map[string]any{"a": map[string]any{"exists": false}},
			Directives: map[string]any{"write": 1, "to": "c"},
		},
	)

	_, err := r.Process(context.Background(), domain.Entry{"a": 1})
	require.NoError(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "pipeline.process", spans[0].Name())

	var outcomes []string
	for _, event := range spans[0].Events() {
		require.Equal(t, "stage.result", event.Name)
		for _, attr := range event.Attributes {
			if attr.Key == "stage.outcome" {
				outcomes = append(outcomes, attr.Value.AsString())
			}
		}
	}
	assert.Equal(t, []string{"applied", "filtered"}, outcomes)

	assertCounter(t, metrics, "kvcopy_stage_outcomes_total", "Stage executions by outcome", `
		kvcopy_stage_outcomes_total{outcome="applied",stage="copy"} 1
		kvcopy_stage_outcomes_total{outcome="filtered",stage="never"} 1
	`)
}

func TestRun_JSONLines(t *testing.T) {
	metrics := telemetry.NewMetrics()
	r := newRunner(t, metrics, domain.StageConfig{ID: "copy", Directives: []any{
		map[string]any{"from": "id", "to": "ref"},
		map[string]any{"from": "tmp", "to": "tmp_copy", "overwrite": true},
	}})

	input := strings.Join([]string{
		`{"id": 7, "tmp_copy": "stale"}`,
		``,
		`not json`,
		`[1, 2]`,
		`{"id": "x<y", "tmp": "keep"}`,
	}, "\n")

	var out strings.Builder
	var lineErrs []*LineError
	stats, err := r.Run(context.Background(), strings.NewReader(input), &out, func(e *LineError) {
		lineErrs = append(lineErrs, e)
	})
	require.NoError(t, err)

	assert.Equal(t, StreamStats{Entries: 2, Failed: 2}, stats)
	assert.Equal(t,
		`{"id":7,"ref":7}`+"\n"+`{"id":"x<y","ref":"x<y","tmp":"keep","tmp_copy":"keep"}`+"\n",
		out.String())

	require.Len(t, lineErrs, 2)
	assert.Equal(t, 3, lineErrs[0].Line)
	assert.Equal(t, 4, lineErrs[1].Line)
	assert.ErrorIs(t, lineErrs[0], domain.ErrMalformedEntry)

	assertCounter(t, metrics, "kvcopy_entry_errors_total", "Total number of entries that could not be processed", `
		kvcopy_entry_errors_total{pipeline="test",reason="decode"} 2
	`)
}

func TestRun_AbortsWithoutErrorHandler(t *testing.T) {
	r := newRunner(t, nil, domain.StageConfig{ID: "s", Directives: map[string]any{"write": 1, "to": "a"}})

	var out strings.Builder
	stats, err := r.Run(context.Background(), strings.NewReader("{}\n{bad\n{}\n"), &out, nil)

	var lineErr *LineError
	require.ErrorAs(t, err, &lineErr)
	assert.Equal(t, 2, lineErr.Line)
	assert.Equal(t, StreamStats{Entries: 1, Failed: 1}, stats)
	assert.Equal(t, `{"a":1}`+"\n", out.String())
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf strings.Builder
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type runOutcome struct {
	stats StreamStats
	err   error
}

func TestRun_WritesEachEntryBeforeInputEnds(t *testing.T) {
	r := newRunner(t, nil, domain.StageConfig{ID: "copy", Directives: map[string]any{"from": "foo", "to": "bar"}})

	in, feed := io.Pipe()
	t.Cleanup(func() { _ = feed.Close() })
	out := &lockedBuffer{}

	finished := make(chan runOutcome, 1)
	go func() {
		stats, err := r.Run(context.Background(), in, out, nil)
		finished <- runOutcome{stats, err}
	}()

	_, err := io.WriteString(feed, `{"foo":"baz"}`+"\n")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return out.String() == `{"bar":"baz","foo":"baz"}`+"\n"
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, feed.Close())
	select {
	case res := <-finished:
		require.NoError(t, res.err)
		assert.Equal(t, StreamStats{Entries: 1}, res.stats)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after input closed")
	}
}

func TestRun_ReturnsOnCancelWhileWaitingForInput(t *testing.T) {
	r := newRunner(t, nil, domain.StageConfig{ID: "s", Directives: map[string]any{"write": 1, "to": "a"}})

	in, feed := io.Pipe()
	t.Cleanup(func() { _ = feed.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan runOutcome, 1)
	go func() {
		stats, err := r.Run(ctx, in, io.Discard, nil)
		finished <- runOutcome{stats, err}
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case res := <-finished:
		assert.ErrorIs(t, res.err, context.Canceled)
		assert.Equal(t, StreamStats{}, res.stats)
	case <-time.After(time.Second):
		t.Fatal("Run ignored context cancellation")
	}
}

// A single-stage pipeline must behave exactly like applying the directive set.
func TestProcess_MatchesDirectSetApplication(t *testing.T) {
	fields := []string{"a", "b", "c", "d", "e"}

	rapid.Check(t, func(t *rapid.T) {
		var raw []any
		used := map[string]bool{}
		n := rapid.IntRange(1, len(fields)).Draw(t, "n")
		for i := 0; i < n; i++ {
			to := rapid.SampledFrom(fields).Draw(t, "to")
			if used[to] {
				continue
			}
			used[to] = true
			d := map[string]any{"to": to, "overwrite": rapid.Bool().Draw(t, "overwrite")}
			if rapid.Bool().Draw(t, "literal") {
				d["write"] = rapid.IntRange(0, 9).Draw(t, "value")
			} else {
				d["from"] = rapid.SampledFrom(fields).Draw(t, "from")
			}
			raw = append(raw, d)
		}

		entry := domain.Entry{}
		for _, f := range fields {
			if rapid.Bool().Draw(t, "present-"+f) {
				entry[f] = rapid.IntRange(0, 9).Draw(t, "v-"+f)
			}
		}

		set, err := directive.Parse(raw)
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		want, _ := set.Apply(entry.Clone())

		r := NewRunner(Config{Logger: discardLogger()})
		stages, err := BuildStages([]domain.StageConfig{{ID: "s", Directives: raw}}, discardLogger())
		if err != nil {
			t.Fatalf("build: %v", err)
		}
		if err := r.Load(stages); err != nil {
			t.Fatalf("load: %v", err)
		}
		got, err := r.Process(context.Background(), entry.Clone())
		if err != nil {
			t.Fatalf("process: %v", err)
		}
		if len(got) != len(want) {
			t.Fatalf("got %v, want %v", got, want)
		}
		for k, v := range want {
			if got[k] != v {
				t.Fatalf("field %s: got %v, want %v", k, got[k], v)
			}
		}
	})
}
