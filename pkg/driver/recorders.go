package driver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/openfroyo/mdao/pkg/cases"
	"github.com/openfroyo/mdao/pkg/config"
	"github.com/openfroyo/mdao/pkg/stores"
)

// Stdout is where dump recorders without a path write.
var Stdout io.Writer = os.Stdout

// OpenRecorders opens one recorder per configuration. db recorders append
// to runID in store. On failure the recorders opened so far are closed.
func OpenRecorders(cfgs []config.RecorderConfig, store stores.Store, runID string) ([]cases.Recorder, error) {
	var out []cases.Recorder
	for i, cfg := range cfgs {
		rec, err := openRecorder(cfg, store, runID)
		if err != nil {
			_ = closeRecorders(out)
			return nil, fmt.Errorf("recorder %d (%s): %w", i, cfg.Type, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func openRecorder(cfg config.RecorderConfig, store stores.Store, runID string) (cases.Recorder, error) {
	switch cfg.Type {
	case "list":
		return cases.NewListRecorder(), nil
	case "dump":
		if cfg.Path == "" {
			return cases.NewDumpRecorder(Stdout), nil
		}
		f, err := os.Create(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to create dump file: %w", err)
		}
		return &fileDumpRecorder{DumpRecorder: cases.NewDumpRecorder(f), file: f}, nil
	case "csv":
		var opts []cases.CSVOption
		if cfg.Delimiter != "" {
			opts = append(opts, cases.WithDelimiter([]rune(cfg.Delimiter)[0]))
		}
		return cases.NewCSVRecorder(cfg.Path, opts...)
	case "db":
		if store == nil {
			return nil, errors.New("db recorder requires a store")
		}
		return cases.NewDBRecorder(store, runID), nil
	default:
		return nil, fmt.Errorf("unknown recorder type %q", cfg.Type)
	}
}

// fileDumpRecorder is a dump recorder that owns its file.
type fileDumpRecorder struct {
	*cases.DumpRecorder
	file *os.File
}

func (r *fileDumpRecorder) Close() error {
	return r.file.Close()
}

func recordAll(ctx context.Context, recorders []cases.Recorder, c *cases.Case) error {
	for _, rec := range recorders {
		if err := rec.Record(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

func closeRecorders(recorders []cases.Recorder) error {
	var errs []error
	for _, rec := range recorders {
		if err := rec.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
