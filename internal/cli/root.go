// Package cli wires the enfra commands to the port authority.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"enfra/internal/blob"
	"enfra/internal/config"
	"enfra/internal/infra/digitalocean"
	"enfra/internal/logbook"
	"enfra/internal/port"
	"enfra/internal/sshkey"
)

// App holds the collaborators commands are built from. Tests replace the
// Open* hooks with in-memory implementations.
type App struct {
	OpenStore   func(ctx context.Context, cfg config.Config) (blob.Store, error)
	OpenCloud   func(cfg config.Config) (port.Cloud, error)
	OpenKeys    func(file string) (port.KeyResolver, error)
	OpenLogbook func(ctx context.Context, location string, logger *slog.Logger) (logbook.Store, error)

	opts          globalOptions
	sshKeyFile    string
	registry      *prometheus.Registry
	promMetrics   *port.PrometheusMetricsRecorder
	expvarMetrics *port.ExpvarMetricsRecorder
}

type globalOptions struct {
	ocean       string
	sea         string
	portName    string
	bucket      string
	envFile     string
	blobDriver  string
	logbook     string
	metrics     string
	metricsFile string
	trace       string
	verbose     bool
	optimistic  bool
}

// NewApp returns an App backed by Spaces, the DigitalOcean API and the
// operator's local SSH key.
func NewApp() *App {
	return &App{
		OpenStore: func(ctx context.Context, cfg config.Config) (blob.Store, error) {
			opts, err := cfg.BlobOptions()
			if err != nil {
				return nil, err
			}
			return blob.OpenWith(ctx, opts)
		},
		OpenCloud: func(cfg config.Config) (port.Cloud, error) {
			c, err := digitalocean.NewFromToken(cfg.Token)
			if err != nil {
				return nil, fmt.Errorf("%w (set %s in the environment or .env file)", err, config.EnvToken)
			}
			return c, nil
		},
		OpenKeys: func(file string) (port.KeyResolver, error) {
			r, err := sshkey.NewLocalResolver(file)
			if err != nil {
				return nil, err
			}
			return r, nil
		},
		OpenLogbook: logbook.Open,
	}
}

// RootCmd builds the enfra command tree.
func (a *App) RootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "enfra",
		Short: "Provision DigitalOcean infrastructure from a port's configuration",
		Long: `enfra keeps each port's desired state in a JSON document on Spaces and
provisions fleets (autoscale pools behind load balancers) from it.

Credentials are read from a .env file: ACCESS_ID and SECRET_KEY for Spaces,
DIGITALOCEAN_TOKEN for the API.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	f := rootCmd.PersistentFlags()
	f.StringVarP(&a.opts.ocean, "ocean", "o", "", "Region slug (e.g. nyc3)")
	f.StringVarP(&a.opts.sea, "sea", "s", "", "Spaces name holding port documents")
	f.StringVarP(&a.opts.portName, "port-name", "p", "", "Port to operate on")
	f.StringVar(&a.opts.bucket, "bucket", "", "Bucket holding port documents (default enfra)")
	f.StringVar(&a.opts.envFile, "env-file", "", "Credentials file (default ./.env)")
	f.StringVar(&a.opts.blobDriver, "blob-driver", "", "Object store driver: s3, fs or memory")
	f.StringVar(&a.opts.logbook, "logbook", "", "Logbook location: sqlite[:path], postgres://... or none")
	f.StringVar(&a.opts.metrics, "metrics", metricsPrometheus, "Metrics exporter: prometheus or expvar")
	f.StringVar(&a.opts.metricsFile, "metrics-file", "", "Write metrics to this file on exit (prometheus textfile or expvar JSON)")
	f.StringVar(&a.opts.trace, "trace", "", "Write JSON trace spans to this file ('-' for stderr)")
	f.BoolVarP(&a.opts.verbose, "verbose", "v", false, "Debug logging")
	f.BoolVar(&a.opts.optimistic, "optimistic", false, "Reject writes when the port document changed since it was read")

	rootCmd.AddCommand(a.createCmd())
	rootCmd.AddCommand(a.configureCmd())
	rootCmd.AddCommand(a.storeCmd())
	rootCmd.AddCommand(a.manifestCmd())
	rootCmd.AddCommand(a.showCmd())
	rootCmd.AddCommand(a.cargoCmd())
	rootCmd.AddCommand(a.logbookCmd())
	rootCmd.AddCommand(a.applyCmd())

	return rootCmd
}

// FormatError renders a command failure for stderr.
func FormatError(err error) string {
	return color.New(color.FgRed).Sprint("✗ ") + err.Error()
}

func (o globalOptions) apply(c *config.Config) {
	overrides := []struct {
		flag string
		dst  *string
	}{
		{o.ocean, &c.Ocean},
		{o.sea, &c.Sea},
		{o.portName, &c.PortName},
		{o.bucket, &c.Bucket},
		{o.blobDriver, &c.BlobDriver},
		{o.logbook, &c.Logbook},
	}
	for _, ov := range overrides {
		if ov.flag != "" {
			*ov.dst = ov.flag
		}
	}
}

// session is everything one command invocation needs.
type session struct {
	cfg       config.Config
	authority *port.Authority
	logbook   logbook.Store
	logger    *slog.Logger
	trace     io.Closer
}

// withSession opens a session around fn and always releases it, writing the
// metrics textfile even when fn fails.
func (a *App) withSession(cloud bool, fn func(cmd *cobra.Command, args []string, s *session) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		s, err := a.open(cmd, cloud)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := a.close(s); err == nil {
				err = cerr
			}
		}()
		return fn(cmd, args, s)
	}
}

func (a *App) open(cmd *cobra.Command, withCloud bool) (*session, error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(a.opts.envFile)
	if err != nil {
		return nil, err
	}
	a.opts.apply(&cfg)
	if cfg.PortName == "" {
		return nil, fmt.Errorf("port name required (--port-name or %s)", config.EnvPort)
	}

	level := slog.LevelWarn
	if a.opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	metrics, err := a.metricsRecorder()
	if err != nil {
		return nil, err
	}
	store, err := a.OpenStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open object store: %w", err)
	}
	s := &session{cfg: cfg, logger: logger}
	opts := []port.Option{
		port.WithLogger(logger),
		port.WithOcean(cfg.Ocean),
		port.WithOptimisticConcurrency(a.opts.optimistic),
		port.WithMetrics(metrics),
	}
	if withCloud {
		cloud, err := a.OpenCloud(cfg)
		if err != nil {
			return nil, err
		}
		keys := &lazyKeys{open: func() (port.KeyResolver, error) { return a.OpenKeys(a.sshKeyFile) }}
		opts = append(opts, port.WithCloud(cloud), port.WithKeyResolver(keys))
	}
	book, err := a.OpenLogbook(ctx, cfg.Logbook, logger)
	if err != nil {
		return nil, fmt.Errorf("open logbook: %w", err)
	}
	if book != nil {
		s.logbook = book
		opts = append(opts, port.WithLogbook(book))
	}
	switch a.opts.trace {
	case "":
	case "-":
		opts = append(opts, port.WithTracer(port.NewJSONTracer(cmd.ErrOrStderr())))
	default:
		f, err := os.OpenFile(a.opts.trace, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			a.closeQuietly(s)
			return nil, fmt.Errorf("open trace file: %w", err)
		}
		s.trace = f
		opts = append(opts, port.WithTracer(port.NewJSONTracer(f)))
	}

	s.authority, err = port.NewAuthority(cfg.PortName, store, opts...)
	if err != nil {
		a.closeQuietly(s)
		return nil, err
	}
	return s, nil
}

func (a *App) close(s *session) error {
	var errs []error
	if s.logbook != nil {
		errs = append(errs, s.logbook.Close())
	}
	if s.trace != nil {
		errs = append(errs, s.trace.Close())
	}
	if err := a.writeMetricsFile(); err != nil {
		errs = append(errs, fmt.Errorf("write metrics file: %w", err))
	}
	return errors.Join(errs...)
}

const (
	metricsPrometheus = "prometheus"
	metricsExpvar     = "expvar"
)

// metricsRecorder returns the exporter chosen with --metrics. Recorders are
// created once per App so repeated invocations keep accumulating.
func (a *App) metricsRecorder() (port.MetricsRecorder, error) {
	switch a.opts.metrics {
	case metricsPrometheus, "":
		if a.promMetrics == nil {
			reg := prometheus.NewRegistry()
			rec, err := port.NewPrometheusMetricsRecorder(reg)
			if err != nil {
				return nil, err
			}
			a.registry, a.promMetrics = reg, rec
		}
		return a.promMetrics, nil
	case metricsExpvar:
		if a.expvarMetrics == nil {
			a.expvarMetrics = port.NewExpvarMetricsRecorder("")
		}
		return a.expvarMetrics, nil
	default:
		return nil, fmt.Errorf("unknown metrics exporter %q (want prometheus or expvar)", a.opts.metrics)
	}
}

func (a *App) writeMetricsFile() error {
	if a.opts.metricsFile == "" {
		return nil
	}
	if a.opts.metrics == metricsExpvar {
		if a.expvarMetrics == nil {
			return nil
		}
		return os.WriteFile(a.opts.metricsFile, []byte(a.expvarMetrics.String()+"\n"), 0o640)
	}
	if a.registry == nil {
		return nil
	}
	return prometheus.WriteToTextfile(a.opts.metricsFile, a.registry)
}

// lazyKeys opens the local key resolver on first use, so commands that never
// resolve a "local" captain do not depend on ~/.ssh.
type lazyKeys struct {
	open func() (port.KeyResolver, error)

	once sync.Once
	keys port.KeyResolver
	err  error
}

func (l *lazyKeys) ResolveFingerprint(ctx context.Context) (string, error) {
	l.once.Do(func() { l.keys, l.err = l.open() })
	if l.err != nil {
		return "", l.err
	}
	return l.keys.ResolveFingerprint(ctx)
}

func (a *App) closeQuietly(s *session) {
	if err := a.close(s); err != nil {
		s.logger.Warn("release session", "error", err)
	}
}

func success(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, "%s %s\n", color.New(color.FgGreen).Sprint("✓"), fmt.Sprintf(format, args...))
}

func notice(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, "%s %s\n", color.New(color.FgYellow).Sprint("!"), fmt.Sprintf(format, args...))
}
