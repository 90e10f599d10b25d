package cmd

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"strings"
	"syscall"

	"github.com/onwardai/keith-agent/internal/logger"
	"github.com/onwardai/keith-agent/internal/retrieval"
	"github.com/onwardai/keith-agent/internal/session"

	"github.com/google/uuid"
	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	chatExitWord = "exit"

	chatGreeting = "Hey, I'm Keith. I can help you find food, housing, legal aid and other " +
		"local resources, and apply for you when you're ready. What do you need today?"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the agent in an interactive terminal session",
	Run: func(cmd *cobra.Command, _ []string) {
		chat(cmd)
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)

	chatCmd.Flags().Bool("authenticated", false, "mark the session as a logged-in user")
}

// chat runs a single local session against the same stack the run command
// wires, with the terminal standing in for the redis transport.
func chat(cmd *cobra.Command) {
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

	if config == nil {
		logger.Fatal("config is required")
	}

	store, err := openCatalog(config, logger)
	if err != nil {
		logger.Fatal("connecting to the resource catalog", zap.Error(err))
	}

	pipeline := retrieval.NewPipeline(store, logger)

	assistant, err := newAssistant(ctx, config.AI, logger)
	if err != nil {
		logger.Fatal("building the assistant", zap.Error(err))
	}

	provisioner, err := newProvisioner(config, store, logger)
	if err != nil {
		logger.Fatal("building the provisioner", zap.Error(err))
	}

	sess := session.New("chat-"+uuid.NewString(), assistant, pipeline, provisioner, logger)

	if cmd.Flag("authenticated").Value.String() == "true" {
		sess.SetAuthenticated(true)
	}

	fmt.Println(chatGreeting)

	input := promptui.Prompt{Label: "you"}

	for {
		text, err := input.Run()
		if err != nil {
			logger.Info("exiting", zap.Error(err))
			return
		}

		if strings.EqualFold(strings.TrimSpace(text), chatExitWord) {
			return
		}

		for _, reply := range sess.Respond(ctx, text) {
			fmt.Println(reply)
		}

		if sess.Done() {
			logger.Info("exiting", zap.String("reason", "application settled"))
			return
		}
	}
}
