package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/matheus3301/socialchat/internal/app"
	"github.com/matheus3301/socialchat/internal/config"
	"github.com/matheus3301/socialchat/internal/logging"
	"github.com/matheus3301/socialchat/internal/profile"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var (
	profileFlag string
	envFile     string
	debug       bool
	timeout     time.Duration

	// Resolved in PersistentPreRunE.
	profileName string
	cfg         *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:           "chat",
	Short:         "Terminal client for the social chat backend",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		profileName = profile.Resolve(profileFlag)
		if err := profile.ValidateName(profileName); err != nil {
			return err
		}
		loaded, err := config.LoadEffective(profile.ConfigPath(), envFile)
		if err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&profileFlag, "profile", "p", "", "profile name (overrides config default)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file with CHAT_* overrides")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "log at debug level")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Minute, "timeout for one-shot commands")

	rootCmd.AddCommand(signupCmd, signinCmd, signoutCmd, whoamiCmd, profileCmd)
	rootCmd.AddCommand(openCmd, outboxCmd, statusCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// runApp starts the client graph, populates targets and runs fn. The app is
// stopped when fn returns.
func runApp(ctx context.Context, exclusive bool, fn func(ctx context.Context) error, targets ...any) error {
	p := app.Params{
		Profile:   profileName,
		Config:    cfg,
		Logging:   logging.Options{Quiet: true, Debug: debug},
		Exclusive: exclusive,
		Present:   presentAuthURL,
	}
	fxApp := fx.New(
		app.Module(p),
		fx.Populate(targets...),
		fx.NopLogger,
	)
	if err := fxApp.Err(); err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := fxApp.Start(startCtx); err != nil {
		return err
	}

	runErr := fn(ctx)

	stopCtx, cancelStop := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelStop()
	if err := fxApp.Stop(stopCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// oneShot bounds a non-interactive command by --timeout.
func oneShot(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, timeout)
}
