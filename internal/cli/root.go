package cli

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"passe/internal/client"
)

// NewRootCommand builds the passe command tree around app. Settings resolve
// from flags, then PASSE_* environment variables, then defaults.
func NewRootCommand(app *App) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("PASSE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	v.SetDefault("server", client.DefaultServer)

	cmd := &cobra.Command{
		Use:   "passe <domain>",
		Short: "Generate per-domain passwords from one master password.",
		Long: `passe derives a reproducible password for each domain from your master
password and a small per-domain configuration (length, suffix, note).
The configuration can be synced between devices through a passe server.

Running with a domain prints its settings and copies the password to the clipboard.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if v.GetBool("verbose") {
				app.Log.SetLevel(logrus.DebugLevel)
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Help()
			}
			return app.withStore(v, func(store *client.Store) error {
				return app.generate(store, args[0])
			})
		},
	}

	flags := cmd.PersistentFlags()
	flags.String("config", "", "client state file (default ~/.config/passe/user.json)")
	flags.String("server", client.DefaultServer, "sync server URL")
	flags.BoolP("verbose", "v", false, "enable debug logging")
	for _, name := range []string{"config", "server", "verbose"} {
		_ = v.BindPFlag(name, flags.Lookup(name))
	}

	cmd.AddCommand(
		newEditCommand(app, v),
		newDeleteCommand(app, v),
		newListCommand(app, v),
		newSyncCommand(app, v),
		newRegisterCommand(app, v),
		newLoginCommand(app, v),
	)
	return cmd
}

// withStore loads the client state, runs fn and saves whatever fn changed.
// The store is saved even when fn fails so a freshly cached credential survives.
func (a *App) withStore(v *viper.Viper, fn func(*client.Store) error) error {
	path := v.GetString("config")
	if path == "" {
		var err error
		if path, err = client.DefaultPath(); err != nil {
			return err
		}
	}
	store, err := client.Load(path)
	if err != nil {
		return err
	}
	a.Log.Debugf("using state file %s", path)

	runErr := fn(store)
	if err := store.Save(); err != nil {
		if runErr != nil {
			return fmt.Errorf("%w (and saving state failed: %v)", runErr, err)
		}
		return err
	}
	return runErr
}

func (a *App) syncer(v *viper.Viper, store *client.Store) *client.Syncer {
	return client.NewSyncer(store, client.SyncerConfig{
		ServerURL:  v.GetString("server"),
		HTTPClient: a.HTTPClient,
		Prompter:   a,
		Logger:     a.Log,
	})
}
