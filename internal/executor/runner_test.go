package executor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

// shRunner builds a runner whose command is an inline sh script. The
// runner appends flag/id/flag/params which the script sees as $1..$4.
func shRunner(script string, timeout time.Duration) *Runner {
	return NewRunner(Config{
		Command:    []string{"sh", "-c", script, "runner"},
		ScriptFlag: "-ScriptID",
		ParamsFlag: "-ParamsStr",
		Timeout:    timeout,
	}, nil)
}

func TestValidateToolID(t *testing.T) {
	bad := []string{"", "  ", "../etc/passwd", `..\x`, "a/b", `a\b`, "a..b"}
	for _, id := range bad {
		var ve *ValidationError
		if err := ValidateToolID(id); !errors.As(err, &ve) {
			t.Errorf("ValidateToolID(%q) = %v, want *ValidationError", id, err)
		}
	}
	for _, id := range []string{"open-calculator", "get_ip", "a.b"} {
		if err := ValidateToolID(id); err != nil {
			t.Errorf("ValidateToolID(%q) = %v", id, err)
		}
	}
}

func TestRun_RejectsBeforeSpawning(t *testing.T) {
	r := shRunner(`touch should-not-exist; echo '{}'`, time.Second)
	_, err := r.Run(context.Background(), "../evil", nil)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want *ValidationError", err)
	}
}

func TestFormatParams(t *testing.T) {
	got := FormatParams(map[string]any{"level": 50.0, "device": "speakers", "mute": true})
	if got != "device=speakers,level=50,mute=true" {
		t.Errorf("FormatParams = %q", got)
	}
	if FormatParams(nil) != "" {
		t.Error("empty args should format as empty string")
	}
}

func TestRun_Envelope(t *testing.T) {
	r := shRunner(`printf '{"exit_code":0,"stdout":"%s %s","stderr":""}' "$2" "$4"`, 5*time.Second)

	res, err := r.Run(context.Background(), "set-volume", map[string]any{"level": 30})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitCode != 0 || res.Stdout != "set-volume level=30" {
		t.Errorf("Result = %+v", res)
	}
	if !res.OK() {
		t.Error("OK() = false")
	}
}

func TestRun_EnvelopeNonZero(t *testing.T) {
	r := shRunner(`echo '{"exit_code":3,"stdout":"","stderr":"device busy"}'`, 5*time.Second)
	res, _ := r.Run(context.Background(), "x", nil)
	if res.ExitCode != 3 || res.Stderr != "device busy" {
		t.Errorf("Result = %+v", res)
	}
}

func TestRun_EnvelopeMissingExitCode(t *testing.T) {
	r := shRunner(`echo '{"stdout":"hi"}'`, 5*time.Second)
	res, _ := r.Run(context.Background(), "x", nil)
	if res.ExitCode != -1 || res.Stdout != "hi" {
		t.Errorf("Result = %+v", res)
	}
}

func TestRun_EmptyStdout(t *testing.T) {
	r := shRunner(`echo "  boom  " >&2; exit 4`, 5*time.Second)
	res, _ := r.Run(context.Background(), "x", nil)
	if res.ExitCode != 4 || res.Stdout != "" || res.Stderr != "boom" {
		t.Errorf("Result = %+v", res)
	}
}

func TestRun_InvalidJSON(t *testing.T) {
	r := shRunner(`echo 'not json'`, 5*time.Second)
	res, _ := r.Run(context.Background(), "x", nil)
	if res.ExitCode != -1 || res.Stderr != MsgInvalidJSON {
		t.Errorf("Result = %+v", res)
	}

	r = shRunner(`echo 'not json'; echo 'traceback' >&2`, 5*time.Second)
	res, _ = r.Run(context.Background(), "x", nil)
	if res.ExitCode != -1 || res.Stderr != "Executor failed: traceback" {
		t.Errorf("Result = %+v", res)
	}
}

func TestRun_Timeout(t *testing.T) {
	r := shRunner(`exec sleep 5`, 100*time.Millisecond)

	start := time.Now()
	res, err := r.Run(context.Background(), "slow", nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.ExitCode != -1 || !res.TimedOut || res.Stderr != MsgTimedOut {
		t.Errorf("Result = %+v", res)
	}
	if res.Stdout != "" {
		t.Error("no partial output should be salvaged")
	}
	if time.Since(start) > 3*time.Second {
		t.Error("timeout not enforced")
	}
}

func TestRun_MissingBinary(t *testing.T) {
	r := NewRunner(Config{Command: []string{"/nonexistent/runner"}}, nil)
	res, err := r.Run(context.Background(), "x", nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.ExitCode != -1 || !strings.HasPrefix(res.Stderr, "Executor failed:") {
		t.Errorf("Result = %+v", res)
	}
}

func TestTruncate(t *testing.T) {
	r := NewRunner(Config{MaxOutputBytes: 4}, nil)
	if got := r.truncate("abcdefgh"); !strings.HasPrefix(got, "abcd") || !strings.Contains(got, "truncated") {
		t.Errorf("truncate = %q", got)
	}
}
