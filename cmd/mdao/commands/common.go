package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/openfroyo/mdao/pkg/cases"
	"github.com/openfroyo/mdao/pkg/config"
	"github.com/openfroyo/mdao/pkg/driver"
	"github.com/openfroyo/mdao/pkg/policy"
	"github.com/openfroyo/mdao/pkg/stores"
	"github.com/openfroyo/mdao/pkg/telemetry"
)

// studyEnv is a loaded study with its driver and cases.
type studyEnv struct {
	study  *config.Study
	driver *driver.Driver
	cases  []*cases.Case
}

// loadStudy loads the study file at path and builds its driver and cases.
func loadStudy(ctx context.Context, path string, logger zerolog.Logger, opts ...driver.Option) (*studyEnv, error) {
	study, err := config.NewLoader(logger).LoadFile(ctx, path)
	if err != nil {
		return nil, err
	}
	return buildStudy(ctx, study, logger, opts...)
}

func buildStudy(ctx context.Context, study *config.Study, logger zerolog.Logger, opts ...driver.Option) (*studyEnv, error) {
	opts = append([]driver.Option{driver.WithLogger(logger)}, opts...)
	drv, err := driver.FromStudy(ctx, study, opts...)
	if err != nil {
		return nil, err
	}

	all, err := driver.LoadCases(study)
	if err != nil {
		return nil, err
	}

	return &studyEnv{study: study, driver: drv, cases: all}, nil
}

// newPolicyEngine creates an engine with the built-in policies and those
// under the study's policy paths.
func newPolicyEngine(ctx context.Context, study *config.Study, logger zerolog.Logger, maxCases int) (*policy.Engine, error) {
	eng, err := policy.NewEngine(logger)
	if err != nil {
		return nil, err
	}
	if maxCases > 0 {
		if err := eng.SetMaxCases(ctx, maxCases); err != nil {
			return nil, err
		}
	}
	if paths := policyPaths(study); len(paths) > 0 {
		if err := eng.LoadPolicies(ctx, paths); err != nil {
			return nil, err
		}
	}
	return eng, nil
}

func policyPaths(study *config.Study) []string {
	if study.Policy == nil {
		return nil
	}
	return study.Policy.Paths
}

func onViolation(study *config.Study) string {
	if study.Policy != nil && study.Policy.OnViolation != "" {
		return study.Policy.OnViolation
	}
	return driver.ViolationFail
}

// openStore opens and migrates the run database at path.
func openStore(ctx context.Context, path string) (*stores.SQLiteStore, error) {
	store, err := stores.NewSQLiteStore(stores.Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// storePath picks the run database: the --store flag, then the study's
// store section.
func storePath(study *config.Study) string {
	if storeFlag != "" {
		return storeFlag
	}
	if study != nil && study.Store != nil {
		return study.Store.Path
	}
	return ""
}

// telemetryConfig applies the study's telemetry overrides to the defaults.
func telemetryConfig(study *config.Study) *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = buildVersion
	if verbose {
		cfg.Logging.Level = "debug"
	}

	t := study.Telemetry
	if t == nil {
		return cfg
	}
	if t.LogLevel != "" {
		cfg.Logging.Level = t.LogLevel
	}
	if t.LogFormat != "" {
		cfg.Logging.Format = t.LogFormat
	}
	if t.TraceExporter != "" && t.TraceExporter != "none" {
		cfg.Tracing.Enabled = true
		cfg.Tracing.Exporter = t.TraceExporter
		cfg.Tracing.Endpoint = t.TraceEndpoint
	}
	if t.SamplingRate > 0 {
		cfg.Tracing.SamplingRate = t.SamplingRate
	}
	if t.MetricsAddress != "" {
		cfg.Metrics.ListenAddress = t.MetricsAddress
	}
	return cfg
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatBound(b *float64) string {
	if b == nil {
		return "-"
	}
	return strconv.FormatFloat(*b, 'g', -1, 64)
}

func printViolations(w io.Writer, result *policy.Result) {
	if result == nil || (len(result.Violations) == 0 && len(result.Failures) == 0) {
		fmt.Fprintln(w, "Policy: no violations")
		return
	}
	fmt.Fprintln(w, "Policy:")
	for _, v := range result.Violations {
		fmt.Fprintf(w, "  %s\n", v)
	}
	for _, f := range result.Failures {
		fmt.Fprintf(w, "  [failure] %s\n", f)
	}
}
