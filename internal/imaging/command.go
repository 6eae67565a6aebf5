package imaging

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"starstep/internal/transform"

	"gopkg.in/gographics/imagick.v3/imagick"
)

// Command runs an external tool on the frame. Arguments may reference the
// temporary input and output files as {in} and {out}.
type Command struct {
	Tool string
	Args []string
	Ext  string
}

func newCommand(p transform.Params) (transform.Transform, error) {
	tool := p["tool"]
	if tool == "" {
		return nil, fmt.Errorf("command requires a tool parameter")
	}
	ext := p["ext"]
	if ext == "" {
		ext = ".tif"
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	args := strings.Fields(p["args"])
	if len(args) == 0 {
		args = []string{"{in}", "{out}"}
	}
	return &Command{Tool: tool, Args: args, Ext: ext}, nil
}

func (c *Command) Name() string { return "Command:" + filepath.Base(c.Tool) }

func (c *Command) Apply(ctx context.Context, f transform.Frame) error {
	im, err := asImage(f)
	if err != nil {
		return err
	}
	if !commandExists(c.Tool) {
		return fmt.Errorf("tool %s not found in PATH", c.Tool)
	}

	tmp, err := os.MkdirTemp("", "starstep-cmd-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmp)

	in := filepath.Join(tmp, "in"+c.Ext)
	out := filepath.Join(tmp, "out"+c.Ext)
	if err := im.Save(in); err != nil {
		return err
	}

	args := make([]string, len(c.Args))
	for i, a := range c.Args {
		a = strings.ReplaceAll(a, "{in}", in)
		args[i] = strings.ReplaceAll(a, "{out}", out)
	}
	cmd := exec.CommandContext(ctx, c.Tool, args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s failed: %w: %s", c.Tool, err, strings.TrimSpace(string(output)))
	}

	mw := imagick.NewMagickWand()
	if err := mw.ReadImage(out); err != nil {
		mw.Destroy()
		return fmt.Errorf("read %s output: %w", c.Tool, err)
	}
	im.replace(mw)
	return nil
}

// commandExists checks presence of an executable in PATH.
func commandExists(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}
