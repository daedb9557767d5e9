package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"tiedye/internal/claim"
	"tiedye/internal/mail"
	"tiedye/internal/models"
	"tiedye/internal/server"
	"tiedye/internal/storage"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "tiedye",
		Short:        "Receive photos by email and publish them",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML config file")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the SMTP server, queue scanner and admin server",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runServe(cmd.Context(), configPath)
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply database migrations and exit",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runMigrate(cmd.Context(), configPath)
			},
		},
		&cobra.Command{
			Use:   "scan",
			Short: "Process everything currently queued and exit",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runScan(cmd.Context(), configPath)
			},
		},
		newTokenCmd(&configPath),
	)
	return root
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := models.LoadConfig(configPath)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	resolver := claim.NewResolver(a.runner, a.logger.WithPrefix("claim"))
	assembler := mail.NewAssembler(resolver, a.dir, a.scanner, a.logger.WithPrefix("mail"))
	smtpSrv := mail.NewServer(cfg.SMTP, assembler, a.logger.WithPrefix("smtp"), a.metrics)

	if err := a.scanner.Start(ctx); err != nil {
		return err
	}

	errs := make(chan error, 2)
	go func() {
		errs <- smtpSrv.ListenAndServe()
	}()

	var admin *server.Server
	if cfg.Admin.Addr != "" {
		gin.SetMode(gin.ReleaseMode)
		admin = server.NewServer(cfg, a.store, a.runner, a.dir, a.scanner, a.registry, a.logger.WithPrefix("admin"))
		go func() {
			errs <- admin.Start()
		}()
	}

	// Graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)

	var runErr error
	select {
	case s := <-sig:
		a.logger.Info("shutting down", "signal", s.String())
	case runErr = <-errs:
		if runErr != nil {
			a.logger.Error("server stopped", "err", runErr)
		}
	case <-ctx.Done():
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if err := smtpSrv.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("smtp shutdown", "err", err)
	}
	a.scanner.Stop()
	if admin != nil {
		if err := admin.Stop(shutdownCtx); err != nil {
			a.logger.Warn("admin shutdown", "err", err)
		}
	}
	return runErr
}

func runMigrate(ctx context.Context, configPath string) error {
	cfg, err := models.LoadConfig(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	s, err := storage.New(ctx, cfg.Database)
	if err != nil {
		return err
	}
	s.Close()
	logger.Info("migrations applied", "driver", cfg.Database.Driver)
	return nil
}

func runScan(ctx context.Context, configPath string) error {
	cfg, err := models.LoadConfig(configPath)
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	n, err := a.scanner.Scan(ctx)
	if err != nil {
		return err
	}
	a.scanner.Wait()
	a.logger.Info("scan finished", "dispatched", n)
	return nil
}

func newTokenCmd(configPath *string) *cobra.Command {
	var (
		kind      string
		ownerID   int64
		requester string
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Create a pending photo for an owner and print its mail link",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := models.LoadConfig(*configPath)
			if err != nil {
				return err
			}
			ownerKind, err := models.ParseOwnerKind(kind)
			if err != nil {
				return err
			}
			if requester == "" {
				return errors.New("--requester is required")
			}
			return runToken(cmd, cfg, models.Owner{Kind: ownerKind, ID: ownerID}, requester)
		},
	}
	cmd.Flags().StringVar(&kind, "kind", string(models.OwnerShirt), "owner kind: shirt or wearing")
	cmd.Flags().Int64Var(&ownerID, "owner", 0, "owner id")
	cmd.Flags().StringVar(&requester, "requester", "", "identity of the person asking to upload")
	return cmd
}

func runToken(cmd *cobra.Command, cfg *models.Config, owner models.Owner, requester string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	p := &models.PendingPhoto{
		Token:     uuid.NewString(),
		Owner:     owner,
		Requester: requester,
	}
	err = a.runner.Run(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		return storage.CreatePendingPhoto(ctx, tx, p)
	})
	if err != nil {
		return err
	}
	a.logger.Info("pending photo created", "pending", p.ID, "owner_kind", p.Kind, "owner_id", p.Owner.ID)

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, p.Token)
	fmt.Fprintf(out, "mailto:%s?subject=%s\n", cfg.SMTP.Recipient, url.QueryEscape(p.Token))
	return nil
}
