package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"applypilot/internal/api"
	"applypilot/internal/config"
	"applypilot/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	baseDir    string
}

func setupCLITestEnv(t *testing.T, opts ...testsupport.ConfigOption) *cliTestEnv {
	t.Helper()
	cfg := testsupport.NewConfig(t, append([]testsupport.ConfigOption{testsupport.WithApplicant()}, opts...)...)
	base := testsupport.BaseDir(cfg)
	t.Setenv("HOME", filepath.Join(base, "home"))
	t.Setenv("APPLYPILOT_API_TOKEN", "")
	configPath := filepath.Join(base, "config.toml")
	writeTestConfig(t, configPath, cfg)
	return &cliTestEnv{cfg: cfg, configPath: configPath, baseDir: base}
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

func TestConfigInitAndValidate(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"config", "validate"}, env.configPath)
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")
	requireContains(t, out, env.configPath)

	target := filepath.Join(t.TempDir(), "config.toml")
	out, _, err = runCLI(t, []string{"config", "init", "--path", target}, "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}

	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}, ""); err == nil {
		t.Fatal("expected init to refuse overwriting without --overwrite")
	}
	if _, _, err := runCLI(t, []string{"config", "validate"}, target); err != nil {
		t.Fatalf("sample config should validate: %v", err)
	}
}

func TestConfigShowMasksToken(t *testing.T) {
	env := setupCLITestEnv(t)
	env.cfg.Paths.APIToken = "hunter2"
	writeTestConfig(t, env.configPath, env.cfg)

	out, _, err := runCLI(t, []string{"config", "show"}, env.configPath)
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if strings.Contains(out, "hunter2") {
		t.Fatalf("token leaked: %s", out)
	}
	requireContains(t, out, "min_score")
}

func TestJobsImportListAndStatus(t *testing.T) {
	env := setupCLITestEnv(t)
	postings := filepath.Join(env.baseDir, "import.jsonl")
	testsupport.WriteText(t, postings, strings.Join([]string{
		`{"url":"https://jobs.example/1","title":"Go Engineer","site":"remote_ok"}`,
		`{"url":"https://jobs.example/2","title":"SRE","site":"hn"}`,
		`{"url":"https://jobs.example/1","title":"Go Engineer","site":"remote_ok"}`,
		`{"title":"no url"}`,
		`not json`,
	}, "\n")+"\n")

	out, stderr, err := runCLI(t, []string{"jobs", "import", postings}, env.configPath)
	if err != nil {
		t.Fatalf("jobs import: %v (%s)", err, stderr)
	}
	requireContains(t, out, "Imported 2 new, 1 duplicate, 2 failed")

	out, _, err = runCLI(t, []string{"jobs", "list", "--json", "--sort", "title"}, env.configPath)
	if err != nil {
		t.Fatalf("jobs list: %v", err)
	}
	var list api.JobListResponse
	if err := json.Unmarshal([]byte(out), &list); err != nil {
		t.Fatalf("decode list %q: %v", out, err)
	}
	if len(list.Jobs) != 2 || list.Jobs[0].Title != "Go Engineer" || list.Jobs[0].Phase != "discovered" {
		t.Fatalf("jobs = %+v", list.Jobs)
	}

	out, _, err = runCLI(t, []string{"jobs", "list", "--site", "hn"}, env.configPath)
	if err != nil {
		t.Fatalf("jobs list table: %v", err)
	}
	requireContains(t, out, "https://jobs.example/2")
	if strings.Contains(out, "https://jobs.example/1") {
		t.Fatalf("site filter ignored: %s", out)
	}

	if _, _, err := runCLI(t, []string{"jobs", "list", "--phase", "interviewing"}, env.configPath); err == nil {
		t.Fatal("expected unknown phase error")
	}

	out, _, err = runCLI(t, []string{"jobs", "show", "https://jobs.example/2"}, env.configPath)
	if err != nil {
		t.Fatalf("jobs show: %v", err)
	}
	requireContains(t, out, "SRE")
	if _, _, err := runCLI(t, []string{"jobs", "show", "https://jobs.example/missing"}, env.configPath); err == nil {
		t.Fatal("expected missing job error")
	}

	out, _, err = runCLI(t, []string{"status", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	var status api.Status
	if err := json.Unmarshal([]byte(out), &status); err != nil {
		t.Fatalf("decode status %q: %v", out, err)
	}
	if status.Stats.Total != 2 || status.Stats.Phases["discovered"] != 2 || status.MinScore != env.cfg.Pipeline.MinScore {
		t.Fatalf("status = %+v", status)
	}

	out, _, err = runCLI(t, []string{"status"}, env.configPath)
	if err != nil {
		t.Fatalf("status text: %v", err)
	}
	requireContains(t, out, "Total jobs")
	requireContains(t, out, "Collaborators")
}

func TestRunPreviewAndRetry(t *testing.T) {
	env := setupCLITestEnv(t)
	postings := filepath.Join(env.baseDir, "import.jsonl")
	testsupport.WriteText(t, postings, `{"url":"https://jobs.example/1","title":"Go Engineer"}`+"\n")
	if _, _, err := runCLI(t, []string{"jobs", "import", postings}, env.configPath); err != nil {
		t.Fatalf("jobs import: %v", err)
	}

	out, _, err := runCLI(t, []string{"run", "enrich", "score", "--preview", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("run preview: %v", err)
	}
	var plan []api.PreviewEntry
	if err := json.Unmarshal([]byte(out), &plan); err != nil {
		t.Fatalf("decode plan %q: %v", out, err)
	}
	if len(plan) != 2 || plan[0].Stage != "enrich" || plan[0].Eligible != 1 || plan[1].Configured {
		t.Fatalf("plan = %+v", plan)
	}

	if _, _, err := runCLI(t, []string{"run", "interview"}, env.configPath); err == nil {
		t.Fatal("expected unknown stage error")
	}
	if _, _, err := runCLI(t, []string{"run", "score", "--min-score", "11"}, env.configPath); err == nil {
		t.Fatal("expected min-score range error")
	}

	out, _, err = runCLI(t, []string{"jobs", "retry", "--all"}, env.configPath)
	if err != nil {
		t.Fatalf("jobs retry: %v", err)
	}
	requireContains(t, out, "No errored jobs")
	if _, _, err := runCLI(t, []string{"jobs", "retry"}, env.configPath); err == nil {
		t.Fatal("expected retry without urls or --all to fail")
	}
}

func TestDoctorReportsMissingCollaborators(t *testing.T) {
	env := setupCLITestEnv(t)
	env.cfg.Collaborators.Score = []string{"sh"}
	env.cfg.Collaborators.Tailor = []string{"sh"}
	env.cfg.Collaborators.Cover = []string{"sh"}
	writeTestConfig(t, env.configPath, env.cfg)

	out, _, err := runCLI(t, []string{"doctor"}, env.configPath)
	if err == nil {
		t.Fatalf("expected doctor failure without a submit command: %s", out)
	}
	requireContains(t, out, "Collaborator apply")
	requireContains(t, out, "command not configured")
	requireContains(t, out, "[OK] sh")

	env.cfg.Collaborators.Submit = []string{"sh"}
	writeTestConfig(t, env.configPath, env.cfg)
	out, _, err = runCLI(t, []string{"doctor"}, env.configPath)
	if err != nil {
		t.Fatalf("doctor: %v\n%s", err, out)
	}
	requireContains(t, out, "Applicant profile")
}

func TestLogsShowsTrailingLines(t *testing.T) {
	env := setupCLITestEnv(t)
	testsupport.WriteText(t, env.cfg.LogPath(), "first\nsecond stage=score\nthird\n")

	out, _, err := runCLI(t, []string{"logs", "-n", "2"}, env.configPath)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if out != "second stage=score\nthird\n" {
		t.Fatalf("logs output = %q", out)
	}

	out, _, err = runCLI(t, []string{"logs", "--grep", "score"}, env.configPath)
	if err != nil {
		t.Fatalf("logs grep: %v", err)
	}
	if strings.TrimSpace(out) != "second stage=score" {
		t.Fatalf("grep output = %q", out)
	}
}

func TestNotifyRequiresTopic(t *testing.T) {
	env := setupCLITestEnv(t)
	_, _, err := runCLI(t, []string{"notify"}, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "ntfy_topic") {
		t.Fatalf("notify err = %v", err)
	}
}

func setupStubbedPipeline(t *testing.T) *cliTestEnv {
	t.Helper()
	env := setupCLITestEnv(t,
		testsupport.WithoutRateLimits(),
		testsupport.WithStubbedCommand("fake-enrich", `cat >/dev/null
echo '{"full_description":"Build reliable services in Go.","application_url":"https://apply.example/form"}'`),
		testsupport.WithStubbedCommand("fake-score", `cat >/dev/null
echo '{"score":9,"keywords":"go","reasoning":"strong fit"}'`),
		testsupport.WithStubbedCommand("fake-submit", `cat >/dev/null
printf '{"status":"Applied","duration_ms":1200}'`),
	)
	env.cfg.Collaborators.EnrichHTTP = false
	env.cfg.Collaborators.Enrich = []string{"fake-enrich"}
	env.cfg.Collaborators.Score = []string{"fake-score"}
	env.cfg.Paths.APIBind = ""
	writeTestConfig(t, env.configPath, env.cfg)

	postings := filepath.Join(env.baseDir, "import.jsonl")
	testsupport.WriteText(t, postings, strings.Join([]string{
		`{"url":"https://jobs.example/1","title":"Go Engineer"}`,
		`{"url":"https://jobs.example/2","title":"Platform Engineer"}`,
	}, "\n")+"\n")
	if _, _, err := runCLI(t, []string{"jobs", "import", postings}, env.configPath); err != nil {
		t.Fatalf("jobs import: %v", err)
	}
	return env
}

func runSummary(t *testing.T, env *cliTestEnv, args ...string) api.RunSummary {
	t.Helper()
	out, stderr, err := runCLI(t, append([]string{"run", "--json"}, args...), env.configPath)
	if err != nil {
		t.Fatalf("run %v: %v (%s)", args, err, stderr)
	}
	var summary api.RunSummary
	if err := json.Unmarshal([]byte(out), &summary); err != nil {
		t.Fatalf("decode summary %q: %v", out, err)
	}
	return summary
}

func stageCounts(summary api.RunSummary, stage string) api.StageCounts {
	for _, st := range summary.Stages {
		if st.Stage == stage {
			return st
		}
	}
	return api.StageCounts{}
}

func TestRunModes(t *testing.T) {
	env := setupStubbedPipeline(t)
	summary := runSummary(t, env, "enrich", "score", "--limit", "1")
	if got := stageCounts(summary, "enrich").Succeeded; got != 1 {
		t.Fatalf("sequential enrich succeeded = %d, want 1", got)
	}
	if got := stageCounts(summary, "score").Succeeded; got != 1 {
		t.Fatalf("sequential score succeeded = %d, want 1", got)
	}

	summary = runSummary(t, env, "enrich", "score", "--stream", "--limit", "1")
	if summary.Outcome != "completed" {
		t.Fatalf("streaming outcome = %s (%s)", summary.Outcome, summary.Error)
	}
	if got := stageCounts(summary, "score").Succeeded; got != 1 {
		t.Fatalf("streaming score succeeded = %d, want the remaining job", got)
	}

	out, _, err := runCLI(t, []string{"jobs", "list", "--json", "--phase", "scored"}, env.configPath)
	if err != nil {
		t.Fatalf("jobs list: %v", err)
	}
	var list api.JobListResponse
	if err := json.Unmarshal([]byte(out), &list); err != nil {
		t.Fatalf("decode list %q: %v", out, err)
	}
	if len(list.Jobs) != 2 {
		t.Fatalf("scored jobs = %+v", list.Jobs)
	}

	if _, _, err := runCLI(t, []string{"run", "enrich", "--chain", "--stream"}, env.configPath); err == nil {
		t.Fatal("expected --chain and --stream to be rejected together")
	}
}

func TestOptedOutJobReachesSubmission(t *testing.T) {
	env := setupStubbedPipeline(t)
	env.cfg.Collaborators.Submit = []string{"fake-submit"}
	writeTestConfig(t, env.configPath, env.cfg)

	if summary := runSummary(t, env, "enrich", "score"); summary.Outcome != "completed" {
		t.Fatalf("enrich+score outcome = %s (%s)", summary.Outcome, summary.Error)
	}
	if _, _, err := runCLI(t, []string{"jobs", "opt-out", "https://jobs.example/1"}, env.configPath); err == nil {
		t.Fatal("expected opt-out without --tailor or --cover to fail")
	}
	out, _, err := runCLI(t, []string{"jobs", "opt-out", "https://jobs.example/1", "--tailor", "--cover"}, env.configPath)
	if err != nil {
		t.Fatalf("jobs opt-out: %v", err)
	}
	requireContains(t, out, "Opted out https://jobs.example/1")
	if _, _, err := runCLI(t, []string{"jobs", "opt-out", "https://jobs.example/missing", "--cover"}, env.configPath); err == nil {
		t.Fatal("expected opt-out of an unknown job to fail")
	}

	summary := runSummary(t, env, "apply")
	if got := stageCounts(summary, "apply"); got.Succeeded != 1 || got.Processed != 1 {
		t.Fatalf("apply summary = %+v", got)
	}

	out, _, err = runCLI(t, []string{"jobs", "show", "https://jobs.example/1", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("jobs show: %v", err)
	}
	var job api.Job
	if err := json.Unmarshal([]byte(out), &job); err != nil {
		t.Fatalf("decode job %q: %v", out, err)
	}
	if job.Phase != "applied" || !job.SkipTailor || !job.SkipCover || job.TailoredResume != "" {
		t.Fatalf("opted-out job = %+v", job)
	}

	out, _, err = runCLI(t, []string{"jobs", "show", "https://jobs.example/2", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("jobs show: %v", err)
	}
	job = api.Job{}
	if err := json.Unmarshal([]byte(out), &job); err != nil {
		t.Fatalf("decode job %q: %v", out, err)
	}
	if job.Phase != "scored" || job.AppliedAt != "" {
		t.Fatalf("job still waiting on documents was submitted: %+v", job)
	}
}
