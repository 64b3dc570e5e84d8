package main

import (
	"context"
	"fmt"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/mailroom/internal"
	"github.com/starford/mailroom/internal/logging"
	pkgconfig "github.com/starford/mailroom/pkg/config"
)

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadOptional(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// quietOptions logs to stderr so command output on stdout stays clean.
func quietOptions(cmd *cli.Command) ([]internal.Option, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	level := cfg.App.LogLevel
	if !cmd.Bool("verbose") {
		level = "warn"
	}
	log, err := logging.NewStderr(level)
	if err != nil {
		return nil, err
	}
	return []internal.Option{internal.WithConfig(cfg), internal.WithLogger(log)}, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, internal.WithConfig(cfg)); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func serveMCP(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log, err := logging.NewStderr(cfg.App.LogLevel)
	if err != nil {
		return err
	}
	return internal.ServeMCP(ctx, internal.WithConfig(cfg), internal.WithLogger(log))
}

func login(ctx context.Context, cmd *cli.Command) error {
	token := cmd.String("token")
	if token == "" {
		token = cmd.Args().First()
	}
	if token == "" {
		return cli.Exit("an identity token is required (--token or MAILROOM_TOKEN)", 2)
	}
	opts, err := quietOptions(cmd)
	if err != nil {
		return err
	}
	return internal.Login(ctx, token, os.Stdout, opts...)
}

func logout(ctx context.Context, cmd *cli.Command) error {
	opts, err := quietOptions(cmd)
	if err != nil {
		return err
	}
	return internal.Logout(ctx, os.Stdout, opts...)
}

func whoami(ctx context.Context, cmd *cli.Command) error {
	opts, err := quietOptions(cmd)
	if err != nil {
		return err
	}
	return internal.WhoAmI(ctx, os.Stdout, opts...)
}

func verifyEmail(ctx context.Context, cmd *cli.Command) error {
	token := cmd.Args().First()
	if token == "" {
		return cli.Exit("usage: mailroom verify-email <token>", 2)
	}
	opts, err := quietOptions(cmd)
	if err != nil {
		return err
	}
	return internal.VerifyEmail(ctx, token, os.Stdout, opts...)
}

func exportTemplates(ctx context.Context, cmd *cli.Command) error {
	opts, err := quietOptions(cmd)
	if err != nil {
		return err
	}
	return internal.ExportTemplates(ctx, os.Stdout, opts...)
}

func main() {
	cmd := &cli.Command{
		Name:   "mailroom",
		Usage:  "Local companion for a contact, group and email template service",
		Action: serve,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Log at the configured level in one-shot commands",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the local HTTP API and template drop watcher",
				Action: serve,
			},
			{
				Name:   "mcp",
				Usage:  "Serve the MCP tools over stdio",
				Action: serveMCP,
			},
			{
				Name:      "login",
				Usage:     "Sign in with an identity provider token",
				ArgsUsage: "[token]",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "token",
						Aliases: []string{"t"},
						Usage:   "Identity provider access token",
						Sources: cli.EnvVars("MAILROOM_TOKEN"),
					},
				},
				Action: login,
			},
			{
				Name:   "logout",
				Usage:  "Clear the stored session",
				Action: logout,
			},
			{
				Name:   "whoami",
				Usage:  "Show the signed-in user",
				Action: whoami,
			},
			{
				Name:      "verify-email",
				Usage:     "Redeem an email verification token",
				ArgsUsage: "<token>",
				Action:    verifyEmail,
			},
			{
				Name:  "templates",
				Usage: "Template drop folder utilities",
				Commands: []*cli.Command{
					{
						Name:   "export",
						Usage:  "Write the account's templates into the drop folder",
						Action: exportTemplates,
					},
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
