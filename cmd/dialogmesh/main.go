// Command dialogmesh boots the conversation mediation core: the
// Session & Turn Store, the real-time messaging fabric, and the
// frequency-aware proactive expression pipeline.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hrygo/dialogmesh/core"
	"github.com/hrygo/dialogmesh/internal/profile"
	"github.com/hrygo/dialogmesh/internal/version"
)

var terminationSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}

var rootCmd = &cobra.Command{
	Use:   "dialogmesh",
	Short: "Core engine for a multi-party human/AI conversation platform.",
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		if !isRunningAsSystemdService() {
			_ = godotenv.Load()
		}
		return nil
	},
	RunE: func(_ *cobra.Command, _ []string) error {
		return run()
	},
}

func run() error {
	p := &profile.Profile{
		Mode:          viper.GetString("mode"),
		Driver:        viper.GetString("driver"),
		DSN:           viper.GetString("dsn"),
		AllowDegraded: viper.GetBool("allow-degraded"),
		LLMProvider:   viper.GetString("llm-provider"),
		LLMAPIKey:     viper.GetString("llm-api-key"),
		LLMBaseURL:    viper.GetString("llm-base-url"),
		LLMModel:      viper.GetString("llm-model"),
		Version:       version.GetCurrentVersion(viper.GetString("mode")),
	}
	p.FromEnv()
	if err := p.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, err := core.New(ctx, p)
	if err != nil {
		slog.Error("failed to assemble dialogmesh core", "error", err)
		return err
	}
	defer svc.Close()

	if health, err := svc.Store.HealthCheck(ctx); err != nil {
		slog.Warn("storage health check failed at boot", "error", err)
	} else {
		slog.Info("storage health", "status", health.Status, "detail", health.Detail)
	}

	printGreetings(p)

	c := make(chan os.Signal, 1)
	signal.Notify(c, terminationSignals...)

	select {
	case <-c:
		slog.Info("shutting down")
	case <-ctx.Done():
	}
	return nil
}

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("driver", "sqlite")

	rootCmd.PersistentFlags().String("mode", "dev", `mode of the process, "prod", "dev", or "demo"`)
	rootCmd.PersistentFlags().String("driver", "sqlite", "storage driver (sqlite, postgres, memory)")
	rootCmd.PersistentFlags().String("dsn", "", "storage data source name")
	rootCmd.PersistentFlags().Bool("allow-degraded", false, "fall back to the in-memory driver if the configured backend is unreachable at boot")
	rootCmd.PersistentFlags().String("llm-provider", "", "LLM provider name (deepseek, siliconflow, openrouter, ollama, or empty for the default OpenAI endpoint)")
	rootCmd.PersistentFlags().String("llm-api-key", "", "LLM API key")
	rootCmd.PersistentFlags().String("llm-base-url", "", "LLM base URL override")
	rootCmd.PersistentFlags().String("llm-model", "gpt-4o-mini", "LLM model name")

	for _, name := range []string{"mode", "driver", "dsn", "allow-degraded", "llm-provider", "llm-api-key", "llm-base-url", "llm-model"} {
		if err := viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("dialogmesh")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

func printGreetings(p *profile.Profile) {
	fmt.Printf("dialogmesh %s started\n", p.Version)
	fmt.Printf("Mode: %s\n", p.Mode)
	fmt.Printf("Storage driver: %s\n", p.Driver)
}

func isRunningAsSystemdService() bool {
	return os.Getenv("INVOCATION_ID") != "" || os.Getenv("WATCHDOG_USEC") != ""
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("dialogmesh exited with error", "error", err)
		os.Exit(1)
	}
}
