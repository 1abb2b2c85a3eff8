package main

import (
	"bytes"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/dgallion1/docscan/internal/config"
	"github.com/dgallion1/docscan/internal/preprocess"
)

func TestBuildJob_DefaultsFromConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.OutputDir = "/srv/out"

	job, err := buildJob(cfg, runOptions{keywords: []string{"Rechnung", " betrag", "rechnung"}}, []string{"scan.pdf"})
	if err != nil {
		t.Fatalf("buildJob() error = %v", err)
	}
	if want := []string{"rechnung", "betrag"}; !reflect.DeepEqual(job.Keywords, want) {
		t.Errorf("keywords = %v, want %v", job.Keywords, want)
	}
	if job.Language != "deu" || job.Strategy != preprocess.StrategyNone || job.OutputDir != "/srv/out" {
		t.Errorf("job = %+v", job)
	}
	if !filepath.IsAbs(job.Files[0]) || filepath.Base(job.Files[0]) != "scan.pdf" {
		t.Errorf("file not made absolute: %s", job.Files[0])
	}
}

func TestBuildJob_FlagsOverride(t *testing.T) {
	job, err := buildJob(config.Defaults(), runOptions{
		keywords:   []string{"x"},
		language:   "eng",
		strategy:   "denoise",
		output:     "/tmp/o",
		transcript: true,
		highlight:  true,
	}, []string{"/a.png"})
	if err != nil {
		t.Fatal(err)
	}
	if job.Language != "eng" || job.Strategy != preprocess.StrategyDenoise || job.OutputDir != "/tmp/o" {
		t.Errorf("job = %+v", job)
	}
	if !job.FullTranscript || !job.Highlight {
		t.Errorf("flags lost: %+v", job)
	}
}

func TestBuildJob_BadStrategy(t *testing.T) {
	if _, err := buildJob(config.Defaults(), runOptions{strategy: "sepia"}, []string{"/a.png"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestRunCmd_RequiresKeywords(t *testing.T) {
	t.Setenv("DOCSCAN_CONFIG", "")
	root := rootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"run", "/tmp/a.png"})
	if err := root.Execute(); err == nil {
		t.Fatal("expected missing --keywords error")
	}
}

func TestRunCmd_RejectsUnsupportedFile(t *testing.T) {
	t.Setenv("DOCSCAN_CONFIG", "")
	root := rootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"run", "-k", "x", "/tmp/notes.txt"})
	if err := root.Execute(); err == nil {
		t.Fatal("expected unsupported file error")
	}
}
