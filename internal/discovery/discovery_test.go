package discovery_test

import (
	"context"
	"errors"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"applypilot/internal/discovery"
	"applypilot/internal/jobs"
	"applypilot/internal/retry"
	"applypilot/internal/services"
	"applypilot/internal/testsupport"
)

func TestFileSourceReadsJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "postings.jsonl")
	content := strings.Join([]string{
		`{"url":"https://x/1","title":"Go Engineer","site":"remote_ok"}`,
		``,
		`# comment`,
		`{"url":"https://x/2","title":"Chef","site":"indeed"}`,
		`{not json}`,
		`{"title":"no url"}`,
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	src := discovery.NewFileSource("fixture", path)
	var (
		urls   []string
		failed int
	)
	for posting, err := range src.Postings(context.Background(), discovery.Search{Sites: []string{"remote_ok"}}) {
		if err != nil {
			if services.Classify(err) != services.ClassPermanent {
				t.Fatalf("expected permanent line error, got %v", err)
			}
			failed++
			continue
		}
		urls = append(urls, posting.URL)
	}
	if len(urls) != 1 || urls[0] != "https://x/1" {
		t.Fatalf("unexpected postings %v", urls)
	}
	if failed != 2 {
		t.Fatalf("expected 2 bad lines, got %d", failed)
	}
}

func TestFileSourceMissingFileIsFatal(t *testing.T) {
	src := discovery.NewFileSource("missing", filepath.Join(t.TempDir(), "nope.jsonl"))
	for _, err := range src.Postings(context.Background(), discovery.Search{}) {
		if services.Classify(err) != services.ClassFatal {
			t.Fatalf("expected fatal, got %v", err)
		}
		return
	}
	t.Fatal("expected an error")
}

func TestCommandSourceStreams(t *testing.T) {
	script := `cat >/dev/null; printf '{"url":"https://c/1","site":"board"}\n{"url":"https://c/2","site":"board"}\n'`
	src, err := discovery.NewCommandSource("cmd", []string{"sh", "-c", script})
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for posting, err := range src.Postings(context.Background(), discovery.Search{Query: "go"}) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got = append(got, posting.URL)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 postings, got %v", got)
	}
}

func TestCommandSourceEarlyBreak(t *testing.T) {
	script := `cat >/dev/null; i=0; while [ $i -lt 1000 ]; do printf '{"url":"https://c/%d"}\n' $i; i=$((i+1)); done`
	src, err := discovery.NewCommandSource("cmd", []string{"sh", "-c", script})
	if err != nil {
		t.Fatal(err)
	}
	count := 0
	for _, err := range src.Postings(context.Background(), discovery.Search{}) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		count++
		if count == 3 {
			break
		}
	}
	if count != 3 {
		t.Fatalf("count = %d", count)
	}
}

// flakySource fails transiently a fixed number of times before succeeding.
type flakySource struct {
	mu       sync.Mutex
	failures int
	calls    int
	postings []jobs.Posting
	failWith error
}

func (f *flakySource) Name() string { return "flaky" }

func (f *flakySource) Postings(context.Context, discovery.Search) iter.Seq2[jobs.Posting, error] {
	return func(yield func(jobs.Posting, error) bool) {
		f.mu.Lock()
		f.calls++
		fail := f.calls <= f.failures
		f.mu.Unlock()
		for i, p := range f.postings {
			if fail && i == 1 {
				yield(jobs.Posting{}, f.failWith)
				return
			}
			if !yield(p, nil) {
				return
			}
		}
	}
}

func TestSeedRetriesTransientAndDeduplicates(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	clock := testsupport.NewFakeClock(time.Time{})

	src := &flakySource{
		failures: 2,
		failWith: services.Wrap(services.ErrTransient, "discover", "fetch", "502", nil),
		postings: []jobs.Posting{{URL: "https://x/y", Site: "board"}, {URL: "https://x/z", Site: "board"}},
	}
	runner := discovery.NewRunner([]discovery.Source{src}, nil, discovery.Options{
		Policy:      retry.Policy{Base: time.Second, Max: 10 * time.Second},
		Clock:       clock,
		MaxAttempts: 3,
	})

	result, err := runner.Seed(context.Background(), store.Upsert)
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if result.Inserted != 2 || result.Duplicates != 2 {
		t.Fatalf("unexpected result %+v", result)
	}
	if sleeps := clock.Sleeps(); len(sleeps) != 2 || sleeps[0] != time.Second || sleeps[1] != 2*time.Second {
		t.Fatalf("unexpected sleeps %v", sleeps)
	}

	// A second discovery pass with overlapping results creates nothing new.
	result, err = runner.Seed(context.Background(), store.Upsert)
	if err != nil {
		t.Fatalf("second Seed: %v", err)
	}
	if result.Inserted != 0 || result.Duplicates != 2 {
		t.Fatalf("unexpected second result %+v", result)
	}
	all, err := store.List(context.Background(), jobs.Filter{})
	if err != nil || len(all) != 2 {
		t.Fatalf("expected 2 jobs, got %d (%v)", len(all), err)
	}
	if all[0].Strategy != "flaky" {
		t.Fatalf("strategy not defaulted to source name: %q", all[0].Strategy)
	}
}

func TestSeedGivesUpAfterMaxAttempts(t *testing.T) {
	clock := testsupport.NewFakeClock(time.Time{})
	src := &flakySource{
		failures: 10,
		failWith: services.Wrap(services.ErrTimeout, "discover", "fetch", "", nil),
		postings: []jobs.Posting{{URL: "https://a"}, {URL: "https://b"}},
	}
	runner := discovery.NewRunner([]discovery.Source{src}, nil, discovery.Options{Clock: clock, MaxAttempts: 2})
	sink := func(context.Context, jobs.Posting) (bool, error) { return true, nil }

	result, err := runner.Seed(context.Background(), sink)
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if result.Failed != 1 || src.calls != 2 {
		t.Fatalf("result=%+v calls=%d", result, src.calls)
	}
}

func TestSeedAbortsOnFatal(t *testing.T) {
	src := &flakySource{
		failures: 1,
		failWith: services.Wrap(services.ErrConfiguration, "discover", "auth", "invalid api key", nil),
		postings: []jobs.Posting{{URL: "https://a"}, {URL: "https://b"}},
	}
	runner := discovery.NewRunner([]discovery.Source{src}, nil, discovery.Options{MaxAttempts: 3})
	sink := func(context.Context, jobs.Posting) (bool, error) { return true, nil }

	_, err := runner.Seed(context.Background(), sink)
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if src.calls != 1 {
		t.Fatalf("fatal must not retry, calls=%d", src.calls)
	}
}

func TestSeedWithoutSources(t *testing.T) {
	runner := discovery.NewRunner(nil, nil, discovery.Options{})
	if _, err := runner.Seed(context.Background(), nil); services.Classify(err) != services.ClassFatal {
		t.Fatalf("expected fatal, got %v", err)
	}
	if runner.HealthCheck(context.Background()).Ready {
		t.Fatal("expected unhealthy runner")
	}
}
