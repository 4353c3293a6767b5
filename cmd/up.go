package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/bronystylecrazy/suitekit/config"
	"github.com/bronystylecrazy/suitekit/log"
	"github.com/bronystylecrazy/suitekit/resource"
	"github.com/bronystylecrazy/suitekit/resourcefx"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

type UpCommand struct {
	root     *Root
	watch    bool
	env      bool
	debounce time.Duration
}

func NewUpCommand(root *Root) *UpCommand {
	return &UpCommand{root: root}
}

func (s *UpCommand) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "up",
		Short: "Start suite-scoped resources, print their properties and wait for a signal",
		Args:  cobra.NoArgs,
		RunE:  s.Run,
	}
	cmd.Flags().BoolVarP(&s.watch, "watch", "w", false, "restart resources when the config file changes")
	cmd.Flags().BoolVar(&s.env, "env", false, "print properties as environment variables")
	cmd.Flags().DurationVar(&s.debounce, "debounce", 500*time.Millisecond, "delay before reacting to config changes")
	return cmd
}

// session is one running resource set.
type session struct {
	app    *fx.App
	broker *resource.Broker
	stop   time.Duration
}

func (s *UpCommand) Run(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	path := s.root.ConfigPath()
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	logger, err := log.NewLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	current, err := s.start(ctx, cfg, logger)
	if err != nil {
		return err
	}
	s.print(cmd.OutOrStdout(), current.broker.Properties())

	var mu sync.Mutex
	if s.watch {
		err := config.Watch(ctx, path, s.debounce, func(next config.Config, err error) {
			if err != nil {
				logger.Warn("config reload failed, keeping current resources", zap.Error(err))
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if ctx.Err() != nil {
				return
			}
			logger.Info("config changed, restarting resources", zap.String("path", path))
			if current != nil {
				if err := current.close(); err != nil {
					logger.Error("stop resources", zap.Error(err))
				}
				current = nil
			}
			fresh, err := s.start(ctx, next, logger)
			if err != nil {
				logger.Error("start resources", zap.Error(err))
				return
			}
			current = fresh
			s.print(cmd.OutOrStdout(), current.broker.Properties())
		})
		if err != nil {
			_ = current.close()
			return err
		}
	}

	<-ctx.Done()
	logger.Info("stopping resources")

	mu.Lock()
	defer mu.Unlock()
	if current == nil {
		return nil
	}
	return current.close()
}

func (s *UpCommand) start(ctx context.Context, cfg config.Config, logger *zap.Logger) (*session, error) {
	if len(cfg.Enabled()) == 0 {
		return nil, ErrNoResources
	}
	var broker *resource.Broker
	app := fx.New(
		fx.WithLogger(func() fxevent.Logger { return log.NewEventLogger(logger.Named("fx")) }),
		fx.Supply(logger),
		resourcefx.FromConfig(cfg),
		fx.Populate(&broker),
	)
	if err := app.Err(); err != nil {
		return nil, err
	}
	if err := app.Start(ctx); err != nil {
		return nil, err
	}
	return &session{app: app, broker: broker, stop: stopBudget(cfg)}, nil
}

func (ss *session) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), ss.stop)
	defer cancel()
	return ss.app.Stop(ctx)
}

// stopBudget gives StopAll room to run every stop timeout in sequence.
func stopBudget(cfg config.Config) time.Duration {
	total := time.Duration(0)
	for _, r := range cfg.Enabled() {
		total += timeoutOr(r.StopTimeout, cfg.Suite.StopTimeout)
	}
	if total <= 0 {
		return config.DefaultStopTimeout
	}
	return total + 5*time.Second
}

func (s *UpCommand) print(w io.Writer, props map[string]string) {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		name := k
		if s.env {
			name = envName(k)
		}
		fmt.Fprintf(w, "%s=%s\n", name, props[k])
	}
}

var envReplacer = strings.NewReplacer(".", "_", "-", "_", "/", "_")

func envName(property string) string {
	return strings.ToUpper(envReplacer.Replace(property))
}

func timeoutOr(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}
