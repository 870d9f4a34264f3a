package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("LOQA_RENDER_TEMP_ROOT", dir)
	t.Setenv("LOQA_EVENT_STORE_PATH", filepath.Join(dir, "renders.db"))
	t.Setenv("LOQA_ENGINE_MODE", "mock")
	t.Setenv("LOQA_G2P_MODE", "mock")

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestChunkCommand(t *testing.T) {
	out, err := execute(t, "", "chunk", "--max-length", "12", "One two. Three four.")
	if err != nil {
		t.Fatalf("chunk: %v", err)
	}
	want := "000 [8] One two.\n001 [11] Three four.\n"
	if out != want {
		t.Fatalf("output = %q, want %q", out, want)
	}
}

func TestChunkCommandReadsStdin(t *testing.T) {
	out, err := execute(t, "Hello there.", "chunk")
	if err != nil {
		t.Fatalf("chunk: %v", err)
	}
	if !strings.Contains(out, "Hello there.") {
		t.Fatalf("output = %q", out)
	}
}

func TestChunkCommandRejectsEmptyText(t *testing.T) {
	if _, err := execute(t, "   ", "chunk"); err == nil {
		t.Fatal("expected error for blank input")
	}
}

func TestRenderCommandWritesOutput(t *testing.T) {
	output := filepath.Join(t.TempDir(), "speech.wav")
	out, err := execute(t, "", "render", "-o", output, "First sentence here. Second one.")
	if err != nil {
		t.Fatalf("render: %v\n%s", err, out)
	}
	if _, err := os.Stat(output); err != nil {
		t.Fatalf("output missing: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) < 3 || !strings.HasPrefix(lines[0], "session ") {
		t.Fatalf("unexpected output %q", out)
	}
	if last := lines[len(lines)-1]; !strings.Contains(last, output) {
		t.Fatalf("last line = %q", last)
	}
	chunk := lines[1]
	if filepath.Base(chunk) != "chunk_000.wav" {
		t.Fatalf("first chunk = %q", chunk)
	}
	if _, err := os.Stat(filepath.Dir(chunk)); !os.IsNotExist(err) {
		t.Fatalf("session directory still present: %v", err)
	}
}

func TestRenderCommandRejectsUnknownLanguage(t *testing.T) {
	output := filepath.Join(t.TempDir(), "speech.wav")
	if _, err := execute(t, "", "render", "-o", output, "-l", "Klingon", "Hello."); err == nil {
		t.Fatal("expected error for unknown language")
	}
}

func TestRenderFlagsBlendBalance(t *testing.T) {
	cmd := &cobra.Command{Use: "render"}
	flags := &renderFlags{}
	flags.bind(cmd)

	usage := cmd.Flags().Lookup("blend-balance").Usage
	if !strings.Contains(usage, "--blend-voice") {
		t.Fatalf("blend-balance usage = %q", usage)
	}

	if err := cmd.ParseFlags([]string{"-o", "out.wav", "--voice", "af_sky", "--blend-voice", "am_adam"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if req := flags.request("Hello.", cmd); req.BlendBalance != nil {
		t.Fatalf("balance set without --blend-balance: %d", *req.BlendBalance)
	}

	if err := cmd.ParseFlags([]string{"--blend-balance", "30"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	req := flags.request("Hello.", cmd)
	if req.BlendBalance == nil || *req.BlendBalance != 30 || req.BlendVoice != "am_adam" {
		t.Fatalf("unexpected blend request %+v", req)
	}
}
