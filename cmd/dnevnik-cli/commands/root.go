package commands

import (
	"context"
	"fmt"
	"os"

	"dnevniksync/lib/configutil"
	"dnevniksync/lib/scrapers/dnevnik"
	"dnevniksync/lib/serviceutil"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "dnevnik-cli",
	Short: "dnevnik-cli pokes the portal scraper by hand: login checks, raw page pulls, one-off syncs.",
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type Config struct {
	Login    string `json:"login"`
	Password string `json:"password"`

	Portal struct {
		BaseUrl    string `json:"base_url"`
		LoginUrl   string `json:"login_url"`
		SchoolsUrl string `json:"schools_url"`
	} `json:"portal"`
}

func readConfig() Config {
	cfg, err := configutil.ReadConfig[Config]("config.json5")
	if err != nil {
		serviceutil.Fatal("failed to read config", err)
	}
	return cfg
}

func (c Config) portalOptions() dnevnik.ClientOptions {
	return dnevnik.ClientOptions{
		BaseUrl:    c.Portal.BaseUrl,
		LoginUrl:   c.Portal.LoginUrl,
		SchoolsUrl: c.Portal.SchoolsUrl,
	}
}

// login builds an authenticated session from the config credentials.
func login(ctx context.Context, cfg Config) *dnevnik.Session {
	client, err := dnevnik.NewClient(ctx, cfg.portalOptions())
	if err != nil {
		serviceutil.Fatal("failed to initialize portal client", err)
	}
	id, err := client.LoginUsernamePassword(ctx, cfg.Login, cfg.Password)
	if err != nil {
		serviceutil.Fatal("failed to login to the portal", err)
	}
	return &dnevnik.Session{Client: client, Identity: id}
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(os.Stdout)
	return t
}
