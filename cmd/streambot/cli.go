package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/dotsetgreg/streambot/pkg/bus"
	"github.com/dotsetgreg/streambot/pkg/config"
	"github.com/dotsetgreg/streambot/pkg/dispatch"
	"github.com/dotsetgreg/streambot/pkg/engine"
	"github.com/dotsetgreg/streambot/pkg/janitor"
	"github.com/dotsetgreg/streambot/pkg/logger"
	"github.com/dotsetgreg/streambot/pkg/openrouter"
	"github.com/dotsetgreg/streambot/pkg/store"
	"github.com/dotsetgreg/streambot/pkg/twitch"
)

var configPath string

func executeCLI() error {
	return buildRootCommand().Execute()
}

func buildRootCommand() *cobra.Command {
	var showVersion bool

	root := &cobra.Command{
		Use:   appName,
		Short: "AI chat companion for Twitch streams",
		Long: strings.TrimSpace(`streambot joins a Twitch channel, remembers conversations in a local
SQLite database, and answers viewers through an OpenRouter-backed AI
pipeline with rate limiting and response sanitization.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				printVersion()
				return nil
			}
			_ = cmd.Help()
			return fmt.Errorf("a subcommand is required")
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.Flags().BoolVarP(&showVersion, "version", "v", false, "Show build/version metadata")
	root.PersistentFlags().StringVar(&configPath, "config", "", "Config file path (default ~/.streambot/config.json)")

	root.AddCommand(newOnboardCommand())
	root.AddCommand(newRunCommand())
	root.AddCommand(newChatCommand())
	root.AddCommand(newPersonalityCommand())
	root.AddCommand(newPurgeCommand())
	root.AddCommand(newModelsCommand())
	root.AddCommand(newStatusCommand())
	root.AddCommand(newVersionCommand())

	return root
}

func getConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultPath()
}

func loadConfig() (*config.Config, error) {
	return config.LoadConfig(getConfigPath())
}

func newOnboardCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "onboard",
		Short:   "Initialize ~/.streambot config",
		Long:    "Create the default configuration file for a new streambot installation.",
		Example: "  streambot onboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := getConfigPath()

			if _, err := os.Stat(path); err == nil {
				fmt.Printf("Config already exists at %s\n", path)
				fmt.Print("Overwrite? (y/n): ")
				reader := bufio.NewReader(os.Stdin)
				response, readErr := reader.ReadString('\n')
				if readErr != nil {
					fmt.Println("Aborted.")
					return nil
				}
				response = strings.ToLower(strings.TrimSpace(response))
				if response != "y" && response != "yes" {
					fmt.Println("Aborted.")
					return nil
				}
			}

			cfg := config.DefaultConfig()
			if err := config.SaveConfig(path, cfg); err != nil {
				return fmt.Errorf("saving config: %w", err)
			}

			fmt.Printf("%s is ready!\n", appName)
			fmt.Println("\nNext steps:")
			fmt.Println("  1. Add your OpenRouter API key to", path)
			fmt.Println("     Get one at: https://openrouter.ai/keys")
			fmt.Println("  2. Add your Twitch bot account, OAuth token, and channel to the twitch section")
			fmt.Println("  3. Try it locally: streambot chat")
			fmt.Println("  4. Join your channel: streambot run")
			fmt.Println("  5. Check readiness: streambot status")
			return nil
		},
	}
}

func newRunCommand() *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Connect to Twitch chat and serve AI responses",
		Long:    "Start the Twitch IRC connection, the response pipeline, and the retention schedule.",
		Example: "  streambot run --debug",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if debug {
				cfg.Log.Level = "debug"
			}
			return runGateway(cfg)
		},
	}

	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func runGateway(cfg *config.Config) error {
	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	st, err := store.Open(cfg.DBPath())
	if err != nil {
		return fmt.Errorf("opening conversation store: %w", err)
	}
	defer st.Close()

	var completer engine.Completer
	if cfg.AIConfigured() {
		client := openrouter.NewClient(openrouter.Config{
			APIKey:  cfg.AI.APIKey,
			APIBase: cfg.AI.APIBase,
			Model:   cfg.AI.Model,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		if err := client.TestConnection(pingCtx); err != nil {
			log.Warnw("AI connection test failed, responses may not work", "error", err)
		} else {
			log.Infow("AI connection verified", "model", cfg.AI.Model)
		}
		cancel()
		completer = client
	} else {
		log.Warn("AI not configured (api_key or model missing), bot will log chat but never respond")
	}

	eng := engine.New(engine.Config{
		Personality:       cfg.AI.Personality,
		MemoryDepth:       cfg.AI.MemoryDepth,
		MaxResponseLength: cfg.AI.MaxResponseLength,
	}, completer, st, log)
	defer eng.Close()

	msgBus := bus.NewMessageBus()
	defer msgBus.Close()

	chat, err := twitch.New(cfg.Twitch, msgBus, log)
	if err != nil {
		return fmt.Errorf("configuring twitch connection: %w", err)
	}

	dispatcher := dispatch.New(cfg.AI, msgBus, st, eng, log)

	jan, err := janitor.New(cfg.Retention, st, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := chat.Start(ctx); err != nil {
		return fmt.Errorf("connecting to twitch: %w", err)
	}

	go dispatcher.Run(ctx)
	go jan.Run(ctx)
	go func() {
		for {
			reply, ok := msgBus.ConsumeReply(ctx)
			if !ok {
				return
			}
			if err := chat.Send(reply.Channel, reply.Content); err != nil {
				log.Errorw("failed to send chat message", "channel", reply.Channel, "error", err)
			}
		}
	}()

	fmt.Printf("✓ Connected to #%s as %s\n", cfg.Twitch.Channel, cfg.Twitch.BotUser)
	fmt.Println("Press Ctrl+C to stop")

	<-ctx.Done()

	fmt.Println("\nShutting down...")
	chat.Stop()
	if dropped := msgBus.DroppedInbound() + msgBus.DroppedOutbound(); dropped > 0 {
		log.Warnw("bus dropped events during this session", "count", dropped)
	}
	fmt.Println("✓ Stopped")
	return nil
}

func newChatCommand() *cobra.Command {
	var username string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the bot locally without Twitch",
		Long:  "Run an interactive console session against the same response pipeline the bot uses in chat.",
		Example: strings.Join([]string{
			"  streambot chat",
			"  streambot chat --user testviewer",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if !cfg.AIConfigured() {
				return fmt.Errorf("ai.api_key and ai.model must be set in %s (or STREAMBOT_AI_* env)", getConfigPath())
			}
			return consoleChat(cfg, username)
		},
	}

	cmd.Flags().StringVarP(&username, "user", "u", "console", "Username to chat as")
	return cmd
}

func consoleChat(cfg *config.Config, username string) error {
	st, err := store.Open(cfg.DBPath())
	if err != nil {
		return fmt.Errorf("opening conversation store: %w", err)
	}
	defer st.Close()

	client := openrouter.NewClient(openrouter.Config{
		APIKey:  cfg.AI.APIKey,
		APIBase: cfg.AI.APIBase,
		Model:   cfg.AI.Model,
	})

	eng := engine.New(engine.Config{
		Personality:       cfg.AI.Personality,
		MemoryDepth:       cfg.AI.MemoryDepth,
		MaxResponseLength: cfg.AI.MaxResponseLength,
	}, client, st, logger.Nop())
	defer eng.Close()

	fmt.Printf("%s Interactive mode (Ctrl+C to exit)\n\n", appName)

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          fmt.Sprintf("%s You: ", appName),
		HistoryFile:     filepath.Join(os.TempDir(), ".streambot_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("initializing readline: %w", err)
	}
	defer rl.Close()

	rc := engine.ResponseContext{
		Channel:     "console",
		IsCommand:   true,
		DisplayName: username,
	}

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				fmt.Println("\nGoodbye!")
				return nil
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Println("Goodbye!")
			return nil
		}

		response, ok := eng.Generate(context.Background(), input, username, rc)
		if !ok {
			fmt.Println("\n(no response - rate limited or API unavailable)")
			continue
		}
		fmt.Printf("\n%s %s\n\n", appName, response)
	}
}

func newPersonalityCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "personality <description>",
		Short: "Condense a personality description into a system prompt",
		Long:  "Send a free-form personality description through the AI and print the concise version suitable for ai.personality.",
		Args:  cobra.MinimumNArgs(1),
		Example: strings.Join([]string{
			`  streambot personality "sarcastic but kind retro-gaming nerd who loves speedruns"`,
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if !cfg.AIConfigured() {
				return fmt.Errorf("ai.api_key and ai.model must be set in %s (or STREAMBOT_AI_* env)", getConfigPath())
			}

			client := openrouter.NewClient(openrouter.Config{
				APIKey:  cfg.AI.APIKey,
				APIBase: cfg.AI.APIBase,
				Model:   cfg.AI.Model,
			})
			defer client.Close()

			eng := engine.New(engine.Config{}, client, nil, logger.Nop())

			ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
			defer cancel()

			summary, ok := eng.SummarizePersonality(ctx, strings.Join(args, " "))
			if !ok {
				return fmt.Errorf("personality summarization failed, check API key and connectivity")
			}
			fmt.Println(summary)
			return nil
		},
	}
}

func newPurgeCommand() *cobra.Command {
	var (
		maxAgeDays     int
		relevanceFloor float64
	)

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete old messages and stale low-relevance memory",
		Long:  "Run one retention pass immediately instead of waiting for the schedule.",
		Example: strings.Join([]string{
			"  streambot purge",
			"  streambot purge --max-age-days 7 --relevance-floor 0.5",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if maxAgeDays <= 0 {
				maxAgeDays = cfg.Retention.MaxAgeDays
			}
			if !cmd.Flags().Changed("relevance-floor") {
				relevanceFloor = cfg.Retention.RelevanceFloor
			}

			st, err := store.Open(cfg.DBPath())
			if err != nil {
				return fmt.Errorf("opening conversation store: %w", err)
			}
			defer st.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			result, err := st.PurgeOlderThan(ctx, time.Duration(maxAgeDays)*24*time.Hour, relevanceFloor)
			if err != nil {
				return fmt.Errorf("purging: %w", err)
			}
			fmt.Printf("✓ Deleted %d messages and %d memory entries older than %d days\n",
				result.Messages, result.Memories, maxAgeDays)
			return nil
		},
	}

	cmd.Flags().IntVar(&maxAgeDays, "max-age-days", 0, "Delete rows older than this many days (default from config)")
	cmd.Flags().Float64Var(&relevanceFloor, "relevance-floor", 0, "Memory at or above this relevance survives the age cutoff (default from config)")
	return cmd
}

func newModelsCommand() *cobra.Command {
	var filter string

	cmd := &cobra.Command{
		Use:   "models",
		Short: "List models available through the API",
		Example: strings.Join([]string{
			"  streambot models",
			"  streambot models --filter claude",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if strings.TrimSpace(cfg.AI.APIKey) == "" {
				return fmt.Errorf("ai.api_key must be set in %s (or STREAMBOT_AI_API_KEY)", getConfigPath())
			}

			client := openrouter.NewClient(openrouter.Config{
				APIKey:  cfg.AI.APIKey,
				APIBase: cfg.AI.APIBase,
			})
			defer client.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			models, err := client.ListModels(ctx)
			if err != nil {
				return fmt.Errorf("listing models: %w", err)
			}

			shown := 0
			for _, m := range models {
				if filter != "" && !strings.Contains(strings.ToLower(m.ID), strings.ToLower(filter)) {
					continue
				}
				marker := " "
				if m.ID == cfg.AI.Model {
					marker = "*"
				}
				fmt.Printf("%s %s", marker, m.ID)
				if m.ContextLength > 0 {
					fmt.Printf(" (context: %d)", m.ContextLength)
				}
				fmt.Println()
				shown++
			}
			fmt.Printf("\n%d models", shown)
			if filter != "" {
				fmt.Printf(" matching %q", filter)
			}
			fmt.Println()
			return nil
		},
	}

	cmd.Flags().StringVarP(&filter, "filter", "f", "", "Only show model IDs containing this substring")
	return cmd
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		Short:   "Show configuration and runtime readiness",
		Example: "  streambot status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			path := getConfigPath()

			fmt.Printf("%s Status\n", appName)
			fmt.Printf("Version: %s\n\n", formatVersion())

			if _, err := os.Stat(path); err == nil {
				fmt.Println("Config:", path, "✓")
			} else {
				fmt.Println("Config:", path, "✗ (run 'streambot onboard')")
			}

			dbPath := cfg.DBPath()
			if _, err := os.Stat(dbPath); err == nil {
				fmt.Println("Database:", dbPath, "✓")
			} else {
				fmt.Println("Database:", dbPath, "not initialized")
			}

			status := func(ok bool) string {
				if ok {
					return "✓"
				}
				return "not set"
			}
			apiReady := cfg.AIConfigured()
			twitchReady := strings.TrimSpace(cfg.Twitch.Token) != "" &&
				strings.TrimSpace(cfg.Twitch.Channel) != "" &&
				strings.TrimSpace(cfg.Twitch.BotUser) != ""

			fmt.Printf("Model: %s\n", cfg.AI.Model)
			fmt.Println("OpenRouter API:", status(strings.TrimSpace(cfg.AI.APIKey) != ""))
			fmt.Println("Twitch credentials:", status(twitchReady))
			fmt.Println("Chat ready:", status(apiReady))
			fmt.Println("Gateway ready:", status(apiReady && twitchReady))
			return nil
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "version",
		Short:   "Show build/version metadata",
		Example: "  streambot version",
		RunE: func(cmd *cobra.Command, args []string) error {
			printVersion()
			return nil
		},
	}
}
