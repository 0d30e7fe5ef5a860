package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuemby/kitbash/pkg/config"
	"github.com/cuemby/kitbash/pkg/httpapi"
	"github.com/cuemby/kitbash/pkg/ingest"
	"github.com/cuemby/kitbash/pkg/log"
	"github.com/cuemby/kitbash/pkg/metrics"
	"github.com/cuemby/kitbash/pkg/system"
	"github.com/cuemby/kitbash/pkg/types"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "kitbash",
	Short:   "Kitbash - a crystallising reflex cache for fact-grounded queries",
	Long:    `Kitbash answers queries from a cascade of increasingly expensive engines, promoting frequently-hit facts into cheap ternary-compressed grains as it goes.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("kitbash version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().String("env-file", ".env", "Path to a .env file")
	rootCmd.PersistentFlags().String("cartridges-dir", "", "Override the cartridges directory")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(ingestCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOutput, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOutput})
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	yamlPath, _ := cmd.Flags().GetString("config")
	envPath, _ := cmd.Flags().GetString("env-file")
	cfg, err := config.Load(yamlPath, envPath)
	if err != nil {
		return cfg, err
	}
	if dir, _ := cmd.Flags().GetString("cartridges-dir"); dir != "" {
		cfg.CartridgesDir = dir
	}
	return cfg, nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP query API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		sys, err := system.Open(cfg)
		if err != nil {
			return fmt.Errorf("starting system: %w", err)
		}
		defer sys.Close()

		server := httpapi.New(sys.Orchestrator, sys, Version)

		collector := metrics.NewCollector(sys)
		collector.Start()
		defer collector.Stop()

		metrics.SetVersion(Version)
		metrics.RegisterComponent("cartridge_store", true, "")
		metrics.RegisterComponent("grain_router", true, "")
		metrics.RegisterComponent("orchestrator", true, "")

		errCh := make(chan error, 1)
		go func() {
			log.Info(fmt.Sprintf("starting http api on %s", cfg.HTTPAddr))
			errCh <- server.ListenAndServe(cfg.HTTPAddr)
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case err := <-errCh:
			return err
		case sig := <-sigCh:
			log.Info(fmt.Sprintf("shutting down on signal %s", sig))
			return nil
		}
	},
}

var queryCmd = &cobra.Command{
	Use:   "query [text]",
	Short: "Run a single query through the cascade and print the result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		sys, err := system.Open(cfg)
		if err != nil {
			return fmt.Errorf("starting system: %w", err)
		}
		defer sys.Close()

		result := sys.Orchestrator.ProcessQuery(context.Background(), args[0], nil)
		fmt.Printf("answer: %s\nconfidence: %.4f\nengine: %s\nlatency_ms: %.3f\n",
			result.Answer, result.Confidence, result.EngineName, result.TotalLatencyMS)
		return nil
	},
}

var ingestCmd = &cobra.Command{
	Use:   "ingest [cartridge] [markdown-file]",
	Short: "Parse a markdown fact document into a cartridge",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		data, err := os.ReadFile(args[1])
		if err != nil {
			return fmt.Errorf("reading %s: %w", args[1], err)
		}

		doc, err := ingest.Parse(string(data))
		if err != nil {
			return fmt.Errorf("parsing %s: %w", args[1], err)
		}

		sys, err := system.Open(cfg)
		if err != nil {
			return fmt.Errorf("starting system: %w", err)
		}
		defer sys.Close()

		c, ok := sys.Cartridges[args[0]]
		if !ok {
			return fmt.Errorf("cartridge %q not loaded (create its directory under %s first)", args[0], cfg.CartridgesDir)
		}

		var ingested int
		for _, f := range doc.Facts {
			ann := types.Annotation{
				Confidence: f.Confidence,
				Level:      doc.Header.EpistemicLevel,
				Domain:     f.Domain,
			}
			if f.Source != "" {
				ann.Sources = []string{f.Source}
			}
			if f.Temporal != nil {
				ann.Temporal = f.Temporal
			}
			if _, err := c.AddFact(f.Content, ann); err != nil {
				return fmt.Errorf("adding fact %q: %w", f.Content, err)
			}
			ingested++
		}

		if err := c.Save(); err != nil {
			return fmt.Errorf("saving cartridge: %w", err)
		}

		fmt.Printf("ingested %d facts into %s\n", ingested, args[0])
		return nil
	},
}
