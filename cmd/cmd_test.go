package cmd

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

func executeCommand(root *cobra.Command, args ...string) (output string, err error) {
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	_, err = root.ExecuteC()
	return buf.String(), err
}

// isolate points every path the commands touch at a temp dir and returns a
// config path that does not exist, so defaults apply.
func isolate(t *testing.T) string {
	t.Helper()
	tmp := t.TempDir()
	t.Setenv("HOME", tmp)
	t.Setenv("XDG_DATA_HOME", filepath.Join(tmp, "data"))
	return filepath.Join(tmp, "dailycapture.yaml")
}

func TestConfigShow_Formats(t *testing.T) {
	conf := isolate(t)

	out, err := executeCommand(rootCmd, "config", "show", "--config", conf, "--format", "yaml")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if !strings.Contains(out, "extension: m4a") || !strings.Contains(out, "06:00") {
		t.Errorf("Unexpected yaml output:\n%s", out)
	}

	out, err = executeCommand(rootCmd, "config", "show", "--config", conf, "--format", "toml")
	if err != nil {
		t.Fatalf("config show toml: %v", err)
	}
	if !strings.Contains(out, "[output]") || !strings.Contains(out, "extension = ") {
		t.Errorf("Unexpected toml output:\n%s", out)
	}

	_, err = executeCommand(rootCmd, "config", "show", "--config", conf, "--format", "ini")
	if err == nil || !strings.Contains(err.Error(), "unsupported format") {
		t.Errorf("Expected unsupported format error, got %v", err)
	}
}

func TestConfigValidate_RejectsBadEnv(t *testing.T) {
	conf := isolate(t)
	t.Setenv("DAILYCAPTURE_OUTPUT_EXTENSION", "aiff")

	_, err := executeCommand(rootCmd, "config", "validate", "--config", conf)
	if err == nil || !strings.Contains(err.Error(), "unsupported extension 'aiff'") {
		t.Errorf("Expected unsupported extension error, got %v", err)
	}
}

func TestScheduleNext_From(t *testing.T) {
	conf := isolate(t)

	out, err := executeCommand(rootCmd, "schedule", "next", "--config", conf, "--from", "2026-05-10 08:00")
	if err != nil {
		t.Fatalf("schedule next: %v", err)
	}
	if !strings.Contains(out, "2026-05-11T06:00:00") || !strings.Contains(out, "(in 22h0m0s)") {
		t.Errorf("Unexpected output: %s", out)
	}

	out, err = executeCommand(rootCmd, "schedule", "next", "--config", conf, "--from", "2026-05-10 05:30")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "2026-05-10T06:00:00") || !strings.Contains(out, "(in 30m0s)") {
		t.Errorf("Unexpected output: %s", out)
	}

	if _, err := executeCommand(rootCmd, "schedule", "next", "--config", conf, "--from", "tomorrow"); err == nil {
		t.Error("Expected error for an invalid --from")
	}
}

func TestScheduleStatus_FreshInstall(t *testing.T) {
	conf := isolate(t)

	out, err := executeCommand(rootCmd, "schedule", "status", "--config", conf)
	if err != nil {
		t.Fatalf("schedule status: %v", err)
	}
	for _, want := range []string{"trigger_time: 06:00", "last_record: never", "recorded_today: false", "armed_trigger: never", "session: none"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in output:\n%s", want, out)
		}
	}
}

func TestEngines_MarksConfiguredExtension(t *testing.T) {
	conf := isolate(t)

	out, err := executeCommand(rootCmd, "engines", "--config", conf)
	if err != nil {
		t.Fatalf("engines: %v", err)
	}
	if !strings.Contains(out, "* m4a   codec") {
		t.Errorf("Expected m4a marked as current:\n%s", out)
	}
	if !strings.Contains(out, "  wav   pcm") {
		t.Errorf("Expected wav on the pcm engine:\n%s", out)
	}
}

func TestInfo_ShowsPaths(t *testing.T) {
	conf := isolate(t)

	out, err := executeCommand(rootCmd, "info", "--config", conf)
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if !strings.Contains(out, "protected: ") || !strings.Contains(out, "AutoRecord_") {
		t.Errorf("Expected protected path in output:\n%s", out)
	}
	if !strings.Contains(out, "extension: m4a (codec engine)") {
		t.Errorf("Expected engine line in output:\n%s", out)
	}
}
