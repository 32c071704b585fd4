// Package processors provides the built-in processor types.
package processors

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	apperrors "github.com/duynguyendang/kbfuse/pkg/common/errors"
	"github.com/duynguyendang/kbfuse/pkg/processor"
	"github.com/duynguyendang/kbfuse/pkg/rdf"
)

// SourceParams configures the source processor.
type SourceParams struct {
	Path   string `json:"path" validate:"required"`
	Format string `json:"format,omitempty" validate:"omitempty,oneof=ntriples nt turtle ttl rdfxml xml"`
}

// Source loads one RDF document for its knowledge base.
var Source = processor.Define("source", processor.KindSource,
	"load an RDF document (N-Triples, Turtle or RDF/XML) for one knowledge base",
	func(p SourceParams) (processor.Computer, error) {
		var format rdf.Format
		if p.Format != "" {
			f, err := rdf.ParseFormat(p.Format)
			if err != nil {
				return nil, &processor.ParameterError{Field: "format", Reason: err.Error(), Cause: err}
			}
			format = f
		}
		return processor.ComputeFunc(func(ctx context.Context, in *processor.Input) (*processor.Output, error) {
			if in.Opener == nil {
				return nil, errors.New("no source opener configured")
			}
			rc, detected, err := in.Opener.Open(ctx, p.Path)
			if err != nil {
				return nil, fmt.Errorf("open %s: %w", p.Path, err)
			}
			defer rc.Close()
			f := format
			if f == "" {
				f = detected
			}

			g, err := rdf.DecodeContext(ctx, rc, f, func(n int) {
				if n%1000 == 0 {
					in.ReportProgress(int64(n), -1)
				}
			})
			if err != nil {
				return nil, fmt.Errorf("load %s: %w", p.Path, err)
			}
			in.ReportProgress(int64(g.Len()), int64(g.Len()))
			in.Log().Info("source loaded", "path", p.Path, "format", f, "triples", g.Len())
			return &processor.Output{Graph: g}, nil
		}), nil
	})

// FileOpener opens sources from the local file system. Relative paths
// resolve against Root. When Root is set no path may escape it, absolute
// ones included.
type FileOpener struct {
	Root string
}

type fileReader struct {
	*bufio.Reader
	f *os.File
}

func (r fileReader) Close() error { return r.f.Close() }

// Open implements processor.SourceOpener.
func (o FileOpener) Open(ctx context.Context, location string) (io.ReadCloser, rdf.Format, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	path, err := o.resolve(location)
	if err != nil {
		return nil, "", err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, "", fmt.Errorf("%s: %w", location, apperrors.ErrNotFound)
		}
		return nil, "", err
	}
	br := bufio.NewReader(f)
	head, _ := br.Peek(512)
	return fileReader{Reader: br, f: f}, rdf.DetectFormat(path, head), nil
}

func (o FileOpener) resolve(location string) (string, error) {
	if o.Root == "" {
		return filepath.Clean(location), nil
	}
	root, err := filepath.Abs(o.Root)
	if err != nil {
		return "", fmt.Errorf("source root %s: %w", o.Root, err)
	}
	path := filepath.Clean(location)
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, location)
	}
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("source path %q escapes %s: %w", location, root, apperrors.ErrInvalidInput)
	}
	return path, nil
}

// InlineParams configures the inline processor.
type InlineParams struct {
	Triples string `json:"triples" validate:"required"`
	Format  string `json:"format,omitempty" validate:"omitempty,oneof=ntriples nt turtle ttl"`
}

// Inline parses RDF embedded in the plan itself.
var Inline = processor.Define("inline", processor.KindSource,
	"parse RDF text embedded in the plan",
	func(p InlineParams) (processor.Computer, error) {
		format := rdf.FormatTurtle
		if p.Format != "" {
			f, err := rdf.ParseFormat(p.Format)
			if err != nil {
				return nil, &processor.ParameterError{Field: "format", Reason: err.Error(), Cause: err}
			}
			format = f
		}
		// Parse now so malformed text fails at plan time.
		g, err := rdf.Decode(strings.NewReader(p.Triples), format)
		if err != nil {
			return nil, &processor.ParameterError{Field: "triples", Reason: err.Error(), Cause: err}
		}
		return processor.ComputeFunc(func(ctx context.Context, in *processor.Input) (*processor.Output, error) {
			in.ReportProgress(int64(g.Len()), int64(g.Len()))
			return &processor.Output{Graph: g}, nil
		}), nil
	})
