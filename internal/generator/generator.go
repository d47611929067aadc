// Package generator provides stage generators backed by pre-produced text.
package generator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/yejikwon7/multi-agent/internal/domain"
	"github.com/yejikwon7/multi-agent/internal/pipeline"
)

var ErrNoOutput = errors.New("no output for stage")

// Dir reads each stage's output from <Path>/<stage>.txt.
type Dir struct {
	Path string
}

// Begin checks that the stage directory exists and holds it open for the run.
func (d Dir) Begin(ctx context.Context) (io.Closer, error) {
	f, err := os.Open(d.Path)
	if err != nil {
		return nil, fmt.Errorf("open stage dir: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if !info.IsDir() {
		f.Close()
		return nil, fmt.Errorf("stage dir %s is not a directory", d.Path)
	}
	return f, nil
}

func (d Dir) Generate(ctx context.Context, stage domain.Stage, prior []domain.RawStageOutput) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := os.ReadFile(filepath.Join(d.Path, string(stage)+".txt"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNoOutput, stage)
		}
		return "", err
	}
	return string(data), nil
}

// Static serves outputs held in memory.
type Static map[domain.Stage]string

func (s Static) Generate(ctx context.Context, stage domain.Stage, prior []domain.RawStageOutput) (string, error) {
	text, ok := s[stage]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNoOutput, stage)
	}
	return text, nil
}

var (
	_ pipeline.Generator = Dir{}
	_ pipeline.Session   = Dir{}
	_ pipeline.Generator = Static{}
)
