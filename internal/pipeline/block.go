package pipeline

import (
	"context"
	"log/slog"
	"strings"
)

const blockWidth = 60

// Block is a queued log banner opening or closing a stage of the run, so
// the log reads in execution order rather than scheduling order.
type Block struct {
	Title  string
	Footer bool
	log    *slog.Logger
}

// NewHeader returns a block opening the stage title.
func NewHeader(title string, logger *slog.Logger) *Block {
	return &Block{Title: title, log: logger}
}

// NewFooter returns a block closing the stage title.
func NewFooter(title string, logger *slog.Logger) *Block {
	return &Block{Title: title, Footer: true, log: logger}
}

func (b *Block) Name() string {
	if b.Footer {
		return "End of " + b.Title
	}
	return b.Title
}

func (b *Block) Kind() string { return "block" }

func (b *Block) Run(ctx context.Context) Result {
	logger := b.log
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info(Banner(b.Name()))
	return Result{Status: StatusDone}
}

// Banner centers title in a fixed-width rule.
func Banner(title string) string {
	title = " " + strings.TrimSpace(title) + " "
	pad := blockWidth - len(title)
	if pad < 2 {
		return "*" + title + "*"
	}
	left := pad / 2
	return strings.Repeat("*", left) + title + strings.Repeat("*", pad-left)
}
