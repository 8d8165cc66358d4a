package main

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"aide/internal/config"
	"aide/internal/google"
	"aide/internal/intent"
	"aide/internal/models"
	"aide/internal/server"
	"aide/internal/session"
)

func main() {
	// Load .env file first, but don't error if it doesn't exist.
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "aide",
		Usage: "Personal assistant that books, moves and cancels appointments from chat, email and calls.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Value: "aide.yaml", EnvVars: []string{"AIDE_CONFIG"}, Usage: "Path to the optional YAML config file."},
		},
		Commands: []*cli.Command{
			authCommand(),
			serveCommand(),
			scheduleCommand(),
			cancelCommand(),
			eventsCommand(),
			digestCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("Application failed", "error", err)
		os.Exit(1)
	}
}

func loadConfig(c *cli.Context) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, setupLogger(cfg.LogLevel), nil
}

func authCommand() *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Authenticate with a Google account to get an API token.",
		Action: func(c *cli.Context) error {
			cfg, logger, err := loadConfig(c)
			if err != nil {
				return err
			}
			logger.Info("Starting Google authentication flow.")
			if accounts, err := google.GetTokenAccounts("."); err == nil && len(accounts) > 0 {
				logger.Info("Existing Google accounts found, re-using a name replaces its token.", "accounts", accounts)
			}

			oauthConfig, err := google.GetOAuthConfigForAuthFlow(cfg.Google.ClientID, cfg.Google.ClientSecret)
			if err != nil {
				return fmt.Errorf("failed to get google oauth config: %w", err)
			}

			authURL := oauthConfig.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
			fmt.Printf("Go to the following link in your browser then type the "+
				"authorization code: \n%v\n", authURL)

			fmt.Print("Enter Authorization Code: ")
			reader := bufio.NewReader(os.Stdin)
			authCode, _ := reader.ReadString('\n')
			authCode = strings.TrimSpace(authCode)

			token, err := google.TokenFromWeb(c.Context, oauthConfig, authCode)
			if err != nil {
				return fmt.Errorf("unable to retrieve token from web: %w", err)
			}

			fmt.Printf("Enter a name for this account (default %q): ", cfg.Google.Account)
			accountName, _ := reader.ReadString('\n')
			accountName = strings.TrimSpace(accountName)
			if accountName == "" {
				accountName = cfg.Google.Account
			}
			tokenFile := "token-" + accountName + ".json"

			if err := google.SaveToken(tokenFile, token); err != nil {
				return fmt.Errorf("failed to save token: %w", err)
			}
			logger.Info("Successfully authenticated and saved token.", "file", tokenFile)

			client, err := google.NewClient(c.Context, logger, cfg.Google.ClientID, cfg.Google.ClientSecret, accountName, cfg.Google.CalendarID, nil)
			if err != nil {
				return err
			}
			ids, err := client.DiscoverCalendars(c.Context)
			if err != nil {
				logger.Warn("Could not list calendars", "error", err)
				return nil
			}
			fmt.Println("Calendars available to this account (set GOOGLE_CALENDAR_ID):")
			for _, id := range ids {
				fmt.Println("  " + id)
			}
			return nil
		},
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP webhooks, the daily digest and the weekly health report.",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "no-digest", Usage: "Do not schedule the daily digest or the health report."},
			&cli.BoolFlag{Name: "dry-run", Usage: "Log the digest instead of sending it."},
		},
		Action: func(c *cli.Context) error {
			cfg, logger, err := loadConfig(c)
			if err != nil {
				return err
			}
			if cfg.OpenAIKey == "" {
				return errors.New("OPENAI_API_KEY is required to serve")
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			deps, err := build(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer deps.Close()

			history, closeHistory, err := newHistory(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer closeHistory()
			sessions := session.NewManager(logger, history)

			srv := server.New(logger, deps.router, deps.synchronizer, deps.store, sessions, deps.loc, cfg.ChannelPrefix)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return srv.Run(gctx, cfg.ListenAddr)
			})
			g.Go(func() error {
				return sessions.RunSweeper(gctx, cfg.SessionTTL, time.Minute)
			})
			if !c.Bool("no-digest") {
				d := deps.digester(c.Bool("dry-run"))
				g.Go(func() error {
					return d.Start(gctx, cfg.DigestCron, cfg.ReportCron)
				})
			}

			logger.Info("Assistant started.", "addr", cfg.ListenAddr, "backend", cfg.Backend, "timezone", cfg.Timezone)
			return g.Wait()
		},
	}
}

func scheduleCommand() *cli.Command {
	return &cli.Command{
		Name:      "schedule",
		Usage:     "Book an appointment for the owner.",
		ArgsUsage: "<what>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "when", Required: true, Usage: "Requested start, e.g. 2024-05-01T10:00."},
			&cli.StringFlag{Name: "where", Usage: "Location of the appointment."},
			&cli.StringFlag{Name: "with", Usage: "Who the appointment is with."},
		},
		Action: func(c *cli.Context) error {
			return dispatch(c, func(loc *time.Location) (intent.Request, error) {
				when, err := intent.ParseTime(c.String("when"), loc)
				if err != nil {
					return nil, err
				}
				return intent.ScheduleRequest{Tasks: []models.TaskDetails{{
					What:     strings.Join(c.Args().Slice(), " "),
					When:     &when,
					Where:    c.String("where"),
					WithWhom: c.String("with"),
				}}}, nil
			})
		},
	}
}

func cancelCommand() *cli.Command {
	return &cli.Command{
		Name:  "cancel",
		Usage: "Cancel a booking by task id or start time.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "task", Usage: "Task id of the booking."},
			&cli.StringFlag{Name: "when", Usage: "Start time or day of the booking."},
		},
		Action: func(c *cli.Context) error {
			return dispatch(c, func(loc *time.Location) (intent.Request, error) {
				req := intent.CancelRequest{TaskID: c.String("task")}
				if s := c.String("when"); s != "" {
					when, err := intent.ParseTime(s, loc)
					if err != nil {
						return nil, err
					}
					req.When = &when
				}
				if req.TaskID == "" && req.When == nil {
					return nil, errors.New("either --task or --when is required")
				}
				return req, nil
			})
		},
	}
}

func eventsCommand() *cli.Command {
	return &cli.Command{
		Name:  "events",
		Usage: "List bookings by task id or day.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "task", Usage: "Task id of the booking."},
			&cli.StringFlag{Name: "when", Usage: "Start time, or a day to list the whole day."},
		},
		Action: func(c *cli.Context) error {
			return dispatch(c, func(loc *time.Location) (intent.Request, error) {
				req := intent.SearchRequest{TaskID: c.String("task")}
				if s := c.String("when"); s != "" {
					when, err := intent.ParseTime(s, loc)
					if err != nil {
						return nil, err
					}
					req.When = &when
				}
				return req, nil
			})
		},
	}
}

func digestCommand() *cli.Command {
	return &cli.Command{
		Name:  "digest",
		Usage: "Send today's digest to the owner now.",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "dry-run", Usage: "Log the digest without sending it."},
			&cli.BoolFlag{Name: "health", Usage: "Send the weekly health report instead."},
		},
		Action: func(c *cli.Context) error {
			cfg, logger, err := loadConfig(c)
			if err != nil {
				return err
			}
			deps, err := build(c.Context, cfg, logger)
			if err != nil {
				return err
			}
			defer deps.Close()

			d := deps.digester(c.Bool("dry-run"))
			if c.Bool("health") {
				if err := d.RunHealthReport(c.Context); err != nil {
					return fmt.Errorf("health report failed: %w", err)
				}
				return nil
			}
			if err := d.Run(c.Context); err != nil {
				return fmt.Errorf("digest failed: %w", err)
			}
			return nil
		},
	}
}

// dispatch routes a request built from flags as the owner and prints the reply.
func dispatch(c *cli.Context, makeRequest func(*time.Location) (intent.Request, error)) error {
	cfg, logger, err := loadConfig(c)
	if err != nil {
		return err
	}
	deps, err := build(c.Context, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	req, err := makeRequest(deps.loc)
	if err != nil {
		return err
	}
	reply, err := deps.router.Dispatch(c.Context, req, models.Identifier{
		Source:    models.SourceCLI,
		Sender:    models.SelfSender,
		Timestamp: time.Now(),
	})
	if err != nil {
		return err
	}
	printReply(reply, deps.loc)
	if reply.Status == intent.StatusError || reply.Status == intent.StatusUnavailable {
		return errors.New(reply.Text)
	}
	return nil
}

func printReply(reply *intent.Reply, loc *time.Location) {
	fmt.Printf("%s: %s\n", reply.Status, reply.Text)
	if len(reply.Events) > 0 {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "START\tEND\tSUMMARY\tTASK\tSENDER")
		for _, ev := range reply.Events {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				ev.Start.In(loc).Format(time.DateTime), ev.End.In(loc).Format("15:04"), ev.Summary, ev.TaskID, ev.Sender)
		}
		w.Flush()
	}
	for _, t := range reply.Tasks {
		fmt.Printf("task %s [%s] %s\n", t.ID, t.Status, t.What)
	}
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}
