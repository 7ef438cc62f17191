package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/andresmejia3/facevote/internal/config"
	"github.com/andresmejia3/facevote/internal/types"
	"github.com/andresmejia3/facevote/internal/utils"
	"github.com/andresmejia3/facevote/internal/worker"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// Version is the application version.
const Version = "0.1.0"

// Exit codes returned by Execute.
const (
	exitOK       = 0
	exitFailure  = 1
	exitUsage    = 2
	exitNotFound = 3
	exitCorrupt  = 4
	exitDecode   = 5
)

// detectorFactory builds the per-worker detector constructor; tests swap in fakes.
var detectorFactory = worker.NewFactory

// usageError marks mistakes in how the command was invoked.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func usagef(format string, args ...any) error {
	return usageError{fmt.Errorf(format, args...)}
}

// rootOptions holds the raw flag values before they are layered onto the config.
type rootOptions struct {
	configPath    string
	dbURL         string
	encodingsPath string
	verbose       bool

	train   bool
	test    bool
	use     bool
	file    string
	mode    string
	force   bool
	workers int
	skipBad bool
}

// app is the state shared by the root command and its subcommands.
type app struct {
	opts rootOptions
	cfg  config.Config
	log  zerolog.Logger
}

var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:   "facevote",
		Short: "Face recognition by plurality vote over a labeled photo database",
		Long: `facevote builds a database of face encodings from training/<name>/ folders,
then labels every face in new images by letting the matching training faces vote.`,
		Example: `  facevote --train -m hog
  facevote --test
  facevote --use -f group.jpg`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return usagef("unexpected arguments: %v", args)
			}
			return nil
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd)
		},
	}
	cmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err}
	})

	pf := cmd.PersistentFlags()
	pf.StringVar(&a.opts.configPath, "config", "", "YAML config file")
	pf.StringVar(&a.opts.dbURL, "db", "", "PostgreSQL connection string (stores encodings in the database instead of a file)")
	pf.StringVar(&a.opts.encodingsPath, "encodings", "", "Encodings file (default output/encodings.gob)")
	pf.BoolVarP(&a.opts.verbose, "verbose", "v", false, "Debug logging")

	f := cmd.Flags()
	f.BoolVar(&a.opts.train, "train", false, "Build the encodings from the training directory")
	f.BoolVar(&a.opts.test, "test", false, "Recognize every image in the validation directory")
	f.BoolVar(&a.opts.use, "use", false, "Recognize the single image given with -f")
	f.StringVarP(&a.opts.file, "file", "f", "", "Image to recognize with --use")
	f.StringVarP(&a.opts.mode, "model", "m", "", "Face detection model: hog (CPU) or cnn (GPU)")
	f.BoolVar(&a.opts.force, "force", false, "Retrain even if encodings already exist")
	f.IntVar(&a.opts.workers, "workers", 0, "Parallel face detectors while training (default 1)")
	f.BoolVar(&a.opts.skipBad, "skip-bad", false, "Skip unreadable training images instead of aborting")

	cmd.AddCommand(newListCmd(a), newResetCmd(a))
	return cmd
}

// setup resolves configuration: defaults, then the YAML file, then the
// environment (.env included), then explicitly set flags.
func (a *app) setup(cmd *cobra.Command) error {
	// .env file is optional
	_ = godotenv.Load()

	cfg, err := config.Load(a.opts.configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("db") {
		cfg.DatabaseURL = a.opts.dbURL
	}
	if flags.Changed("encodings") {
		cfg.EncodingsPath = a.opts.encodingsPath
	}
	if flags.Changed("model") {
		cfg.Mode = a.opts.mode
	}
	if flags.Changed("workers") {
		cfg.Workers = a.opts.workers
	}

	level := zerolog.InfoLevel
	if a.opts.verbose {
		level = zerolog.DebugLevel
	}
	a.log = zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr(), TimeFormat: time.Kitchen}).
		Level(level).With().Timestamp().Logger()

	if err := cfg.Validate(); err != nil {
		return usageError{err}
	}
	a.cfg = cfg
	a.log.Debug().Interface("config", cfg.Redacted()).Msg("configuration resolved")
	return nil
}

func (a *app) run(cmd *cobra.Command) error {
	selected := 0
	for _, on := range []bool{a.opts.train, a.opts.test, a.opts.use} {
		if on {
			selected++
		}
	}
	switch {
	case selected == 0:
		return usagef("choose one of --train, --test or --use")
	case selected > 1:
		return usagef("--train, --test and --use are mutually exclusive")
	case a.opts.use && a.opts.file == "":
		return usagef("--use needs an image: -f <path>")
	case !a.opts.use && a.opts.file != "":
		return usagef("-f is only used with --use")
	}

	ctx := cmd.Context()
	switch {
	case a.opts.train:
		return a.runTrain(ctx, cmd)
	case a.opts.test:
		return a.runTest(ctx, cmd)
	default:
		return a.runUse(ctx, cmd)
	}
}

func (a *app) detectorConfig() worker.Config {
	d := a.cfg.Detector
	return worker.Config{
		Backend:     d.Backend,
		Mode:        a.cfg.Mode,
		Python:      d.Python,
		Script:      d.Script,
		ModelsDir:   d.ModelsDir,
		ReadTimeout: d.ReadTimeout,
	}
}

// exitCode maps an error returned by the command tree to the process exit status.
func exitCode(err error) int {
	var ue usageError
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &ue), errors.Is(err, types.ErrUnsupportedMode):
		return exitUsage
	case errors.Is(err, types.ErrNotFound):
		return exitNotFound
	case errors.Is(err, types.ErrCorruptData):
		return exitCorrupt
	case errors.Is(err, types.ErrDecode):
		return exitDecode
	}
	return exitFailure
}

func errorHeadline(err error) string {
	switch exitCode(err) {
	case exitUsage:
		return "Invalid usage"
	case exitNotFound:
		return "Not found"
	case exitCorrupt:
		return "Encodings are corrupt, retrain with --train --force"
	case exitDecode:
		return "Image could not be decoded"
	}
	if errors.Is(err, context.Canceled) {
		return "Interrupted"
	}
	return "Command failed"
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err == nil {
		return
	}

	var crash *worker.CrashError
	if errors.As(err, &crash) {
		utils.ShowError(errorHeadline(err), err, crash.Cmd)
	} else {
		utils.ShowError(errorHeadline(err), err, nil)
	}
	if exitCode(err) == exitUsage {
		fmt.Fprintln(os.Stderr, "Run 'facevote --help' for usage.")
	}
	os.Exit(exitCode(err))
}
