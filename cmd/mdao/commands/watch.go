package commands

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/mdao/pkg/config"
	"github.com/openfroyo/mdao/pkg/policy"
)

// watchDelay debounces bursts of file events into a single validation.
const watchDelay = 500 * time.Millisecond

func newWatchCommand() *cobra.Command {
	var maxCases int

	cmd := &cobra.Command{
		Use:   "watch <study>",
		Short: "Re-validate a study whenever its files change",
		Long: `Watch a study file, its model, its case file and its policies, and
validate the study again after every change.

Policies are reloaded in place; a policy that fails to compile leaves the
previous set active.`,
		Example: `  # Watch a study while editing it
  mdao watch study.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			path, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			study, err := config.NewLoader(log.Logger).LoadFile(ctx, path)
			if err != nil {
				return err
			}

			eng, err := policy.NewEngine(log.Logger)
			if err != nil {
				return err
			}
			if maxCases > 0 {
				if err := eng.SetMaxCases(ctx, maxCases); err != nil {
					return err
				}
			}

			changed := make(chan struct{}, 1)
			notify := func() {
				select {
				case changed <- struct{}{}:
				default:
				}
			}

			if paths := policyPaths(study); len(paths) > 0 {
				pw, err := eng.Watch(ctx, paths, func(err error) {
					if err != nil {
						log.Error().Err(err).Msg("Policy reload failed, keeping previous policies")
						return
					}
					notify()
				})
				if err != nil {
					return err
				}
				defer pw.Close()
			}

			watcher, err := fsnotify.NewWatcher()
			if err != nil {
				return fmt.Errorf("failed to create watcher: %w", err)
			}
			defer watcher.Close()

			files := watchStudyFiles(watcher, path, study)
			revalidate := func() {
				s := validateOnce(ctx, cmd.OutOrStdout(), path, eng)
				if s != nil {
					files = watchStudyFiles(watcher, path, s)
				}
			}

			log.Info().Str("study", path).Msg("Watching study")
			revalidate()

			var timer *time.Timer
			defer func() {
				if timer != nil {
					timer.Stop()
				}
			}()

			for {
				select {
				case <-ctx.Done():
					return nil

				case event, ok := <-watcher.Events:
					if !ok {
						return nil
					}
					if !files[event.Name] {
						continue
					}
					if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
						continue
					}
					log.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("Study file changed")
					if timer != nil {
						timer.Stop()
					}
					timer = time.AfterFunc(watchDelay, notify)

				case err, ok := <-watcher.Errors:
					if !ok {
						return nil
					}
					log.Error().Err(err).Msg("Watcher error")

				case <-changed:
					revalidate()
				}
			}
		},
	}

	cmd.Flags().IntVar(&maxCases, "max-cases", 0, "case limit enforced by the case-limits policy (0 keeps the default)")

	return cmd
}

// validateOnce validates the study at path and prints the outcome. It
// returns the loaded study, or nil when the study file itself is invalid.
func validateOnce(ctx context.Context, w io.Writer, path string, eng *policy.Engine) *config.Study {
	study, err := config.NewLoader(log.Logger).LoadFile(ctx, path)
	if err != nil {
		fmt.Fprintf(w, "%s: %v\n", time.Now().Format(time.TimeOnly), err)
		return nil
	}

	env, err := buildStudy(ctx, study, log.Logger)
	if err != nil {
		fmt.Fprintf(w, "%s: %v\n", time.Now().Format(time.TimeOnly), err)
		return study
	}

	report, err := checkStudy(ctx, env, eng)
	fmt.Fprintf(w, "%s: validated %s\n", time.Now().Format(time.TimeOnly), path)
	if report != nil {
		printReport(w, report)
	}
	if err != nil {
		fmt.Fprintf(w, "%v\n", err)
	}
	return study
}

// watchStudyFiles watches the directories of the study's files and returns
// the set of files whose changes trigger a validation.
func watchStudyFiles(watcher *fsnotify.Watcher, path string, study *config.Study) map[string]bool {
	files := map[string]bool{path: true}
	if study.Model != "" {
		files[study.Model] = true
	}
	if study.Cases.File != "" {
		files[study.Cases.File] = true
	}

	// Editors replace files on save, so watch the parent directories.
	for f := range files {
		dir := filepath.Dir(f)
		if err := watcher.Add(dir); err != nil {
			log.Warn().Err(err).Str("path", dir).Msg("Failed to watch directory")
		}
	}
	return files
}
