package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/w1xm/servo_interface/servo"
	"github.com/w1xm/servo_interface/store"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRecordingCommands(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "recordings")
	d, err := store.OpenDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.New(d).Save("S1", s1); err != nil {
		t.Fatal(err)
	}
	flags := []string{"--recordings_dir", dir}

	out, err := run(t, append([]string{"list"}, flags...)...)
	if err != nil {
		t.Fatal(err)
	}
	if want := "S1\t2 commands\t0.05s\n"; out != want {
		t.Errorf("list = %q, want %q", out, want)
	}

	out, err = run(t, append([]string{"show", "S1"}, flags...)...)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, `"command": "u"`) {
		t.Errorf("show = %q", out)
	}

	if _, err := run(t, append([]string{"show", "nope"}, flags...)...); !errors.Is(err, servo.ErrUnknownRecording) {
		t.Errorf("show nope = %v", err)
	}

	out, err = run(t, append([]string{"delete", "S1"}, flags...)...)
	if err != nil {
		t.Fatal(err)
	}
	if out != "Recording 'S1' deleted.\n" {
		t.Errorf("delete = %q", out)
	}
	if _, err := os.Stat(filepath.Join(dir, "S1.json")); !os.IsNotExist(err) {
		t.Errorf("S1.json still present: %v", err)
	}
}

func TestConfigFlag(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "servo.yaml")
	if err := os.WriteFile(cfgPath, []byte("recordings: {backend: s3}\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := run(t, "list", "--config", cfgPath); err == nil {
		t.Error("list with invalid backend succeeded")
	}
	if _, err := run(t, "list", "--config", filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("list with missing explicit config succeeded")
	}
	dbPath := filepath.Join(t.TempDir(), "rec.db")
	if _, err := run(t, "list", "--backend", "sqlite", "--sqlite", dbPath); err != nil {
		t.Errorf("list on sqlite: %v", err)
	}
}
