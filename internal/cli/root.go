// Package cli implements boardctl, a terminal client for board sessions.
package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Qualiasolutions/qualia-erp-sub000/board"
	"github.com/Qualiasolutions/qualia-erp-sub000/client"
	"github.com/Qualiasolutions/qualia-erp-sub000/config"
	"github.com/Qualiasolutions/qualia-erp-sub000/domain"
)

type App struct {
	API        string
	Token      string
	BoardsFile string
	Filters    []string
	Timeout    time.Duration
	JSON       bool

	logger *log.Logger
}

func NewRootCmd() *cobra.Command {
	app := &App{}

	cmd := &cobra.Command{
		Use:          "boardctl",
		Short:        "Inspect and rearrange boards from the terminal",
		SilenceUsage: true,
		Example: strings.TrimSpace(`
  # List the configured boards
  boardctl boards

  # Show the issue columns of one project
  boardctl columns issues --filter projectId=p1

  # Move a card to another column, or in front of another card
  boardctl move issues 42 --to done
  boardctl move issues 42 --before 17
`),
	}

	cmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		app.logger = log.New()
		app.logger.SetOutput(cmd.ErrOrStderr())
		if config.EnvBool("DEBUG") {
			app.logger.SetLevel(log.DebugLevel)
		} else {
			app.logger.SetLevel(log.WarnLevel)
		}
		return nil
	}

	cmd.PersistentFlags().StringVar(&app.API, "api", envOr("BOARD_API_URL", "http://localhost:8080"), "Board API base URL")
	cmd.PersistentFlags().StringVar(&app.Token, "token", envOr("BOARD_TOKEN", ""), "Bearer token")
	cmd.PersistentFlags().StringVar(&app.BoardsFile, "boards", envOr("BOARDS_FILE", ""), "Board definitions file (default: built-in boards)")
	cmd.PersistentFlags().StringArrayVar(&app.Filters, "filter", nil, "Filter as field=value (repeatable)")
	cmd.PersistentFlags().DurationVar(&app.Timeout, "timeout", 30*time.Second, "Request timeout")
	cmd.PersistentFlags().BoolVar(&app.JSON, "json", false, "Print JSON instead of text")

	cmd.AddCommand(newBoardsCmd(app))
	cmd.AddCommand(newColumnsCmd(app))
	cmd.AddCommand(newMoveCmd(app))
	cmd.AddCommand(newWatchCmd(app))
	cmd.AddCommand(newTokenCmd(app))

	return cmd
}

func envOr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func writeErr(cmd *cobra.Command, err error) error {
	fmt.Fprintln(cmd.ErrOrStderr(), err.Error())
	return err
}

func (app *App) filter() (domain.Filter, error) {
	f := domain.Filter{}
	for _, raw := range app.Filters {
		k, v, ok := strings.Cut(raw, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("bad filter %q, want field=value", raw)
		}
		f[k] = v
	}
	return f, f.Validate()
}

func (app *App) board(name string) (domain.Board, error) {
	cfg, err := config.Load(app.BoardsFile)
	if err != nil {
		return domain.Board{}, err
	}
	b, ok := cfg.Find(name)
	if !ok {
		return domain.Board{}, fmt.Errorf("unknown board %q", name)
	}
	return b, nil
}

func (app *App) client() *client.Client {
	return client.New(app.API, app.Token, client.WithLogger(app.logger))
}

// openSession loads the named board. With live set the session also
// follows the change stream.
func (app *App) openSession(ctx context.Context, name string, live bool) (*board.Session, error) {
	b, err := app.board(name)
	if err != nil {
		return nil, err
	}
	f, err := app.filter()
	if err != nil {
		return nil, err
	}
	c := app.client()
	opts := board.Options{Board: b, Filter: f, Store: c, Logger: app.logger}
	if live {
		opts.Feed = c
	}
	return board.Open(ctx, opts)
}
