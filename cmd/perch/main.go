package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"

	"github.com/perchmail/perch/internal/config"
	"github.com/perchmail/perch/internal/listener"
	"github.com/perchmail/perch/internal/session"
	"github.com/perchmail/perch/internal/telemetry"
	"github.com/perchmail/perch/internal/web"
)

var tracer = otel.Tracer("github.com/perchmail/perch/cmd/perch")

func main() {
	// A .env file is a convenience for local runs, not a requirement.
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		log.Printf("Skipping .env file: %s", err)
	}

	app := &cli.App{
		Name:  "perch",
		Usage: "watch one IMAP mailbox and hand every new message to a handler",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the YAML config file",
				EnvVars: []string{"PERCH_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "listen",
				Usage:  "connect, lock the mailbox, and poll until stopped",
				Action: runListen,
			},
			{
				Name:   "validate",
				Usage:  "check config and environment without connecting",
				Action: runValidate,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runListen(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.Setup(ctx)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			log.Printf("Telemetry shutdown: %v", err)
		}
	}()

	logger := slog.New(otelslog.NewHandler("perch"))

	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}
	env, err := config.IMAPEnvFromEnv()
	if err != nil {
		return err
	}
	delay, err := cfg.PollDelayDuration()
	if err != nil {
		return err
	}

	ctx, span := tracer.Start(ctx, "listen")
	defer span.End()

	l, err := listener.New(
		session.Credentials{
			Host:     env.Addr(),
			Username: env.User,
			Password: env.Pass,
		},
		logEnvelope(logger),
		listener.WithLogger(logger),
		listener.WithMailbox(cfg.MailboxName()),
		listener.WithPollDelay(delay),
	)
	if err != nil {
		return err
	}

	if addr := cfg.StatusAddr; addr != "" {
		statusServer, err := web.New(logger, l.Snapshot)
		if err != nil {
			return err
		}
		go func() {
			if err := statusServer.Listen(addr); err != nil {
				logger.Error("status server stopped", slog.Any("error", err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := statusServer.Shutdown(shutdownCtx); err != nil {
				logger.Warn("status server shutdown", slog.Any("error", err))
			}
		}()
	}

	return l.Run(ctx)
}

// logEnvelope is the default handler: it logs each delivered message.
// Real deployments swap this for an application handler built on
// listener.OnMail.
func logEnvelope(logger *slog.Logger) listener.Handler {
	return func(ctx context.Context, envelope *imap.Envelope, bodies []string) error {
		subject := ""
		from := ""
		if envelope != nil {
			subject = envelope.Subject
			if len(envelope.From) > 0 {
				from = envelope.From[0].Addr()
			}
		}
		logger.InfoContext(ctx, "message received",
			slog.String("from", from),
			slog.String("subject", subject),
			slog.Int("parts", len(bodies)))
		return nil
	}
}

func runValidate(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if _, err := config.IMAPEnvFromEnv(); err != nil {
		return err
	}
	fmt.Println(config.Summary(cfg))
	return nil
}
