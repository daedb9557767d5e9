package processor

import (
	"context"
	"fmt"
	"strings"

	execute "github.com/alexellis/go-execute/v2"
	"github.com/disintegration/imaging"

	"tiedye/internal/models"
)

// Result is what a conversion reported besides success.
type Result struct {
	Output   string // combined diagnostics, possibly empty
	ExitCode int
}

// Converter turns the queued input into the published output file. An error
// wrapping models.ErrConversionFailed means the conversion ran and failed on
// this input; any other error means it could not be carried out at all.
type Converter interface {
	Convert(ctx context.Context, input, output string) (Result, error)
}

// CommandConverter runs an operator supplied executable as
// "argv... <input> <output>". Its exit status is reported, never judged.
type CommandConverter struct {
	argv []string
}

func NewCommandConverter(argv []string) (*CommandConverter, error) {
	if len(argv) == 0 || argv[0] == "" {
		return nil, fmt.Errorf("processor.NewCommandConverter: empty command")
	}
	return &CommandConverter{argv: append([]string(nil), argv...)}, nil
}

func (c *CommandConverter) Convert(ctx context.Context, input, output string) (Result, error) {
	args := append(append([]string(nil), c.argv[1:]...), input, output)
	task := execute.ExecTask{
		Command: c.argv[0],
		Args:    args,
	}
	res, err := task.Execute(ctx)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Output:   strings.TrimSpace(strings.Join(nonEmpty(res.Stdout, res.Stderr), "\n")),
		ExitCode: res.ExitCode,
	}, nil
}

func nonEmpty(parts ...string) []string {
	out := parts[:0]
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out
}

// ResizeConverter is the built-in conversion used when no command is
// configured: honour EXIF orientation and fit within MaxWidth.
type ResizeConverter struct {
	MaxWidth int
}

func (c *ResizeConverter) Convert(_ context.Context, input, output string) (Result, error) {
	img, err := imaging.Open(input, imaging.AutoOrientation(true))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", models.ErrConversionFailed, err)
	}
	if c.MaxWidth > 0 && img.Bounds().Dx() > c.MaxWidth {
		img = imaging.Resize(img, c.MaxWidth, 0, imaging.Lanczos)
	}
	if err := imaging.Save(img, output); err != nil {
		return Result{}, fmt.Errorf("%w: %v", models.ErrConversionFailed, err)
	}
	return Result{}, nil
}
