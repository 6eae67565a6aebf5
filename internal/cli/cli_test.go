package cli

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"starstep/internal/config"
	"starstep/internal/engine"
	"starstep/internal/storage"
	"starstep/internal/transform"
)

type fileFrame struct{ data []byte }

func (f *fileFrame) Save(path string) error { return os.WriteFile(path, f.data, 0o644) }
func (f *fileFrame) Close()                 {}

type fileOpener struct{}

func (fileOpener) Open(path string) (transform.Frame, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return &fileFrame{data: data}, nil
}

type mark struct{}

func (mark) Name() string                                       { return "Mark" }
func (mark) Apply(ctx context.Context, f transform.Frame) error { return nil }

type session struct {
	input        string
	instructions string
	output       string
}

func newSession(t *testing.T) session {
	t.Helper()
	base := t.TempDir()
	s := session{
		input:        filepath.Join(base, "m42"),
		instructions: filepath.Join(base, "steps.yaml"),
		output:       filepath.Join(base, "out"),
	}
	touch(t, filepath.Join(s.input, "lights", "a.fits"), "a")
	touch(t, filepath.Join(s.input, "lights", "b.fits"), "b")
	touch(t, s.instructions, "name: steps\nchildren:\n  - description: step=onPreProcessEnd\n    process: mark\n")
	return s
}

func touch(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

type serveCall struct {
	httpAddr, grpcAddr string
}

func newTestRoot(t *testing.T) (*Root, *bytes.Buffer, *[]serveCall) {
	t.Helper()
	store, err := storage.New(filepath.Join(t.TempDir(), "starstep.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	reg := transform.NewRegistry()
	reg.Register("mark", func(transform.Params) (transform.Transform, error) { return mark{}, nil })
	cfg := &config.Config{
		Engine: config.Engine{DefaultFrameSize: 1},
		Server: config.Server{HTTPAddr: ":8080", GRPCAddr: ":9090"},
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng := engine.New(cfg, reg, fileOpener{}, log, store)

	root := NewRoot(eng, cfg, log, store)
	out := &bytes.Buffer{}
	root.out = out
	calls := &[]serveCall{}
	root.serve = func(ctx context.Context, httpAddr, grpcAddr string, store *storage.Store, eng *engine.Engine, log *slog.Logger) error {
		*calls = append(*calls, serveCall{httpAddr, grpcAddr})
		return nil
	}
	return root, out, calls
}

func execute(t *testing.T, root *Root, args ...string) error {
	t.Helper()
	cmd := newRootCmd(root)
	cmd.SetArgs(args)
	cmd.SetErr(io.Discard)
	return cmd.Execute()
}

func TestPhasesCommand(t *testing.T) {
	root, out, _ := newTestRoot(t)
	if err := execute(t, root, "phases"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "17  onPostProcessEnd (master files)") {
		t.Fatalf("unexpected output:\n%s", out)
	}
	if strings.Count(out.String(), "\n") != 17 {
		t.Fatalf("expected one line per phase:\n%s", out)
	}
}

func TestPlanCommandPrintsOperations(t *testing.T) {
	root, out, _ := newTestRoot(t)
	s := newSession(t)
	if err := execute(t, root, "plan", s.input, "-i", s.instructions, "-o", s.output); err != nil {
		t.Fatalf("plan: %v", err)
	}
	text := out.String()
	for _, want := range []string{"Custom onPreProcessEnd step(s)", "onPreProcessEnd #1: Mark", "Custom Operations:"} {
		if !strings.Contains(text, want) {
			t.Fatalf("plan output missing %q:\n%s", want, text)
		}
	}
	if _, err := os.Stat(s.output); !os.IsNotExist(err) {
		t.Fatalf("plan must not create outputs")
	}
}

func TestRunCommandExecutesAndRecords(t *testing.T) {
	root, out, _ := newTestRoot(t)
	s := newSession(t)
	if err := execute(t, root, "run", s.input, "-i", s.instructions, "-o", s.output); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out.String(), "2 operation(s), 0 failed") {
		t.Fatalf("unexpected run output:\n%s", out)
	}
	matches, _ := filepath.Glob(filepath.Join(s.output, "onPreProcessEnd", "*", "a.fits"))
	if len(matches) != 1 {
		t.Fatalf("expected one processed copy of a.fits, got %v", matches)
	}

	out.Reset()
	if err := execute(t, root, "history"); err != nil {
		t.Fatalf("history: %v", err)
	}
	if !strings.Contains(out.String(), "done") || !strings.Contains(out.String(), s.input) {
		t.Fatalf("history should list the run:\n%s", out)
	}
}

func TestRunRejectsUnknownPhase(t *testing.T) {
	root, _, _ := newTestRoot(t)
	s := newSession(t)
	err := execute(t, root, "run", s.input, "-i", s.instructions, "--phase", "onLunch")
	if err == nil || !strings.Contains(err.Error(), "unknown phase") {
		t.Fatalf("expected unknown phase error, got %v", err)
	}
}

func TestServeCommandUsesConfiguredAddresses(t *testing.T) {
	root, _, calls := newTestRoot(t)
	if err := execute(t, root, "serve"); err != nil {
		t.Fatal(err)
	}
	if err := execute(t, root, "serve", "--grpc", ""); err != nil {
		t.Fatal(err)
	}
	want := []serveCall{{":8080", ":9090"}, {":8080", ""}}
	if len(*calls) != 2 || (*calls)[0] != want[0] || (*calls)[1] != want[1] {
		t.Fatalf("serve calls = %+v, want %+v", *calls, want)
	}
}

func TestConfigValidate(t *testing.T) {
	root, out, _ := newTestRoot(t)
	s := newSession(t)
	if err := execute(t, root, "config", "validate", s.instructions); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !strings.Contains(out.String(), "1 instruction(s)") {
		t.Fatalf("unexpected output:\n%s", out)
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	touch(t, bad, "name: x\nchildren:\n  - process: nope\n")
	if err := execute(t, root, "config", "validate", bad); err == nil {
		t.Fatalf("expected unknown transform kind to fail validation")
	}
}
