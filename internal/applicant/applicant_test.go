package applicant_test

import (
	"encoding/json"
	"os"
	"strings"
	"testing"

	"applypilot/internal/applicant"
	"applypilot/internal/services"
	"applypilot/internal/testsupport"
)

func TestLoad(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	testsupport.WriteText(t, cfg.Paths.ProfilePath, `{"personal":{"full_name":"Ada Lovelace","email":"ada@example.com"},"resume_facts":{"preserved_companies":["Analytical Engines"]},"extra":{"keep":true}}`)
	testsupport.WriteText(t, cfg.Paths.ResumePath, "Ada Lovelace\nEngineer\n")

	app, err := applicant.Load(cfg)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if app.Profile.Personal.FullName != "Ada Lovelace" || app.Profile.ResumeFacts.PreservedCompanies[0] != "Analytical Engines" {
		t.Fatalf("unexpected profile: %+v", app.Profile)
	}
	if app.Resume != "Ada Lovelace\nEngineer" {
		t.Fatalf("unexpected resume: %q", app.Resume)
	}

	encoded, err := json.Marshal(app.Profile)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(encoded), `"extra"`) {
		t.Fatalf("expected raw profile to round trip, got %s", encoded)
	}
}

func TestLoadMissingFilesAreFatal(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	_, err := applicant.Load(cfg)
	if err == nil {
		t.Fatal("expected error for missing profile")
	}
	if services.Classify(err) != services.ClassFatal {
		t.Fatalf("expected fatal class, got %s", services.Classify(err))
	}

	testsupport.WriteText(t, cfg.Paths.ProfilePath, `{}`)
	_, err = applicant.Load(cfg)
	if err == nil || services.Classify(err) != services.ClassFatal {
		t.Fatalf("expected fatal missing resume, got %v", err)
	}
}

func TestLoadRejectsMalformedProfile(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithApplicant())
	if err := os.WriteFile(cfg.Paths.ProfilePath, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := applicant.Load(cfg); err == nil {
		t.Fatal("expected parse error")
	}
}
