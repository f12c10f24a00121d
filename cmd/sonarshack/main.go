package main

//  ____                                  ____    _                      _
// / ___|    ___    _ __     __ _   _ __ / ___|  | |__     __ _    ___  | | __
// \___ \   / _ \  | '_ \   / _` | | '__|\___ \  | '_ \   / _` |  / __| | |/ /
//  ___) | | (_) | | | | | | (_| | | |    ___) | | | | | | (_| | | (__  |   <
// |____/   \___/  |_| |_|  \__,_| |_|   |____/  |_| |_|  \__,_|  \___| |_|\_\
//  .  .  .  sonar  tools  on  the  other  end  of  a  pipe

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mazznoer/colorgrad"
	"github.com/urfave/cli/v3"

	"pkdindustries/sonarshack/internal/auditlog"
	"pkdindustries/sonarshack/internal/config"
	"pkdindustries/sonarshack/internal/server"
)

func main() {
	// stdout is the protocol channel; the banner goes to stderr.
	fmt.Fprintf(os.Stderr, "%s\n", getBanner())

	cmd := &cli.Command{
		Name:    "sonarshack",
		Usage:   "perplexity sonar tools over mcp stdio",
		Version: server.Version + " - http://github.com/pkdindustries/sonarshack",
		Flags:   config.GetFlags(),
		Action:  run,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, c *cli.Command) error {
	cfg := config.NewConfiguration(c)
	if err := cfg.VerifyConfig(); err != nil {
		return err
	}

	level := slog.LevelInfo
	if cfg.Log.Verbose {
		level = slog.LevelDebug
	}
	log := slog.New(auditlog.NewHandler(cfg.Log.Path, level))

	fmt.Fprintf(os.Stderr, "Log file will be written at: %s\n", cfg.Log.Path)
	log.Info("starting sonarshack MCP server")
	log.Info("using Perplexity model", "model", cfg.Model.Model)
	log.Info("using Perplexity reasoning model", "model", cfg.Model.ReasoningModel)
	if cfg.Log.Verbose {
		cfg.PrintConfig(os.Stderr)
		cfg.LogAvailableModels(log)
	}

	return server.Run(ctx, cfg, log)
}

func getBanner() string {
	banner := `
 ____                                  ____    _                      _
/ ___|    ___    _ __     __ _   _ __ / ___|  | |__     __ _    ___  | | __
\___ \   / _ \  | '_ \   / _' | | '__|\___ \  | '_ \   / _' |  / __| | |/ /
 ___) | | (_) | | | | | | (_| | | |    ___) | | | | | | (_| | | (__  |   <
|____/   \___/  |_| |_|  \__,_| |_|   |____/  |_| |_|  \__,_|  \___| |_|\_\
 .  .  .  sonar  tools  on  the  other  end  of  a  pipe  [v` + server.Version + `]
`
	grad, _ := colorgrad.NewGradient().
		HtmlColors("#1115f0ff", "#fdfdfdff").
		Build()

	lines := strings.Split(banner, "\n")

	maxLen := 0
	for _, line := range lines {
		if len(line) > maxLen {
			maxLen = len(line)
		}
	}

	colors := grad.Colors(uint(maxLen))
	var coloredBanner strings.Builder

	for _, line := range lines {
		for i, ch := range line {
			r, g, b, _ := colors[i].RGBA255()
			coloredBanner.WriteString(fmt.Sprintf("\x1b[38;2;%d;%d;%dm%c", r, g, b, ch))
		}
		coloredBanner.WriteString("\x1b[0m\n")
	}

	return coloredBanner.String()
}
