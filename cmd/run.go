package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/onwardai/keith-agent/internal/agent"
	"github.com/onwardai/keith-agent/internal/ai"
	"github.com/onwardai/keith-agent/internal/ai/gemini"
	"github.com/onwardai/keith-agent/internal/catalog"
	"github.com/onwardai/keith-agent/internal/identity"
	"github.com/onwardai/keith-agent/internal/logger"
	"github.com/onwardai/keith-agent/internal/metrics"
	"github.com/onwardai/keith-agent/internal/provision"
	"github.com/onwardai/keith-agent/internal/retrieval"
	"github.com/onwardai/keith-agent/internal/secrets"
	"github.com/onwardai/keith-agent/internal/session"
	"github.com/onwardai/keith-agent/internal/taskqueue"
	"github.com/onwardai/keith-agent/internal/transport"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the keith agent main loop",
	Run: func(cmd *cobra.Command, _ []string) {
		run(cmd)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("metrics-addr", "", "listen address for the prometheus endpoint. Default is unset (disabled).")

	viper.BindPFlag("metrics.addr", runCmd.Flags().Lookup("metrics-addr"))
}

// run is the main command for the cli.
func run(_ *cobra.Command) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	logger.Info("starting the keith agent", zap.String("version", version))

	// do not bother error since there is a valid parseable config
	pretty, _ := json.MarshalIndent(config, "", "  ")
	logger.Debug(fmt.Sprintf("starting with config: \n %s", pretty))

	if config == nil {
		logger.Fatal("config is required")
	}

	store, err := openCatalog(config, logger)
	if err != nil {
		logger.Fatal("connecting to the resource catalog", zap.Error(err))
	}

	m := metrics.New()

	pipeline := retrieval.NewPipeline(store, logger).WithMetrics(m)

	assistant, err := newAssistant(ctx, config.AI, logger)
	if err != nil {
		logger.Fatal("building the assistant", zap.Error(err))
	}

	provisioner, err := newProvisioner(config, store, logger)
	if err != nil {
		logger.Fatal("building the provisioner", zap.Error(err))
	}
	provisioner.WithMetrics(m)

	factory := func(id string) *session.Session {
		return session.New(id, assistant, pipeline, provisioner, logger)
	}

	if config.Redis == nil || config.Redis.Addr == "" {
		logger.Fatal("redis address is required under redis.addr")
	}

	tr, err := transport.NewRedis(ctx, &redis.Options{
		Addr:     config.Redis.Addr,
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
	}, logger)
	if err != nil {
		logger.Fatal("connecting to redis", zap.Error(err))
	}
	defer tr.Close()

	grace := agent.DefaultGracePeriod
	var pollInterval time.Duration
	agentName := ""
	if config.Agent != nil {
		if config.Agent.GracePeriod > 0 {
			grace = config.Agent.GracePeriod
		}
		pollInterval = config.Agent.PollInterval
		agentName = config.Agent.Name
	}

	a := agent.New(tr, agent.SessionFactory(factory), grace, m, logger)

	poller := taskqueue.New(store.DB(), store, taskqueue.SessionFactory(factory), pollInterval, logger).
		WithAgentName(agentName).
		WithMetrics(m)

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return a.Run(ctx)
	})

	group.Go(func() error {
		return poller.Run(ctx)
	})

	if addr := viper.GetString("metrics.addr"); addr != "" {
		group.Go(func() error {
			return m.Serve(ctx, addr, logger)
		})
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("exiting", zap.Error(err))
	}

	logger.Info("exiting", zap.String("reason", "shutdown requested"))
}

func openCatalog(config *Config, logger *zap.Logger) (*catalog.Store, error) {
	if config.Database == nil {
		return nil, errors.New("database configuration is required")
	}

	dsn, err := secrets.Load(secrets.Source{
		Name:  "database dsn",
		Value: config.Database.DSN,
		File:  config.Database.DSNFile,
	})
	if err != nil {
		return nil, fmt.Errorf("%w (set database.dsn, database.dsn-file or DATABASE_DSN)", err)
	}

	return catalog.Open(dsn, logger)
}

func newAssistant(ctx context.Context, cfg *AIConfig, logger *zap.Logger) (ai.Assistant, error) {
	if cfg == nil || cfg.Gemini == nil {
		return nil, errors.New("gemini configuration is required under ai.gemini")
	}

	provider := strings.TrimSpace(strings.ToLower(cfg.Provider))
	if provider != "" && provider != "gemini" {
		return nil, fmt.Errorf("unsupported ai provider: %s", cfg.Provider)
	}

	apiKey, err := secrets.Load(secrets.Source{
		Name: "gemini api key",
		File: cfg.Gemini.APIKeyFile,
	})
	if err != nil {
		return nil, fmt.Errorf("%w (set ai.gemini.api-key-file or GEMINI_API_KEY_FILE)", err)
	}

	return gemini.NewClient(ctx, apiKey, cfg.Gemini.Model, cfg.Gemini.MaxRetries, logger)
}

func newProvisioner(config *Config, store *catalog.Store, logger *zap.Logger) (*provision.Provisioner, error) {
	if config.Identity == nil || config.Identity.BaseURL == "" {
		return nil, errors.New("identity base url is required under identity.base-url")
	}

	serviceKey, err := secrets.Load(secrets.Source{
		Name: "identity service key",
		File: config.Identity.ServiceKeyFile,
	})
	if err != nil {
		return nil, fmt.Errorf("%w (set identity.service-key-file or IDENTITY_SERVICE_KEY_FILE)", err)
	}

	identities := identity.NewClient(config.Identity.BaseURL, serviceKey, logger)

	magicLinkBase := ""
	if config.Agent != nil {
		magicLinkBase = config.Agent.MagicLinkBase
	}

	return provision.New(store, identities, magicLinkBase, logger), nil
}
