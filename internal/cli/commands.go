package cli

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"passe/internal/client"
	"passe/internal/domain"
	"passe/internal/password"
)

func (a *App) generate(store *client.Store, name string) error {
	fmt.Fprintf(a.Out, "Domain: %s\n", name)
	resolved := store.ForDomain(name)
	cfg := resolved.Value()
	printConfig(a, cfg)
	if resolved.IsDefault() {
		a.Log.Warn("** This is a new domain **")
	}

	master, err := a.ReadSecret("Master password: ")
	if err != nil {
		return err
	}
	generated, err := password.Generate(name, master, cfg)
	if err != nil {
		return err
	}

	if err := a.Clipboard.WriteAll(generated); err != nil {
		a.Log.Errorf("clipboard failed: %v", err)
		if _, err := a.ReadSecret("Press return to print password ..."); err != nil {
			return err
		}
		fmt.Fprintln(a.Out, generated)
		return nil
	}
	fmt.Fprintln(a.Out, "(copied to your clipboard)")
	return nil
}

func printConfig(a *App, cfg domain.DomainConfig) {
	if cfg.Suffix != "" {
		fmt.Fprintf(a.Out, "Suffix: %s\n", cfg.Suffix)
	}
	if cfg.Note != "" {
		fmt.Fprintf(a.Out, "Note: %s\n", cfg.Note)
	}
	if cfg.Length != domain.DefaultLength {
		fmt.Fprintf(a.Out, "Length: %d\n", cfg.Length)
	}
}

func newEditCommand(app *App, v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "edit <domain>",
		Short: "Edit the note, suffix and length of a domain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.withStore(v, func(store *client.Store) error {
				cfg := store.ForDomain(args[0]).Value()

				var err error
				if cfg.Note, err = app.editSetting("Note", cfg.Note); err != nil {
					return err
				}
				if cfg.Suffix, err = app.editSetting("Suffix", cfg.Suffix); err != nil {
					return err
				}
				length, err := app.editSetting("Length", strconv.Itoa(cfg.Length))
				if err != nil {
					return err
				}
				if cfg.Length, err = strconv.Atoi(length); err != nil {
					return fmt.Errorf("length %q is not a number", length)
				}
				return store.Stage(args[0], cfg)
			})
		},
	}
}

func newDeleteCommand(app *App, v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <domain>",
		Short: "Forget a domain's configuration on the next sync",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.withStore(v, func(store *client.Store) error {
				store.StageDelete(args[0])
				return nil
			})
		},
	}
}

func newListCommand(app *App, v *viper.Viper) *cobra.Command {
	var remote bool
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List known domains",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.withStore(v, func(store *client.Store) error {
				names := store.Domains()
				if remote {
					domains, err := app.syncer(v, store).Pull(cmd.Context())
					if err != nil {
						return err
					}
					names = sortedNames(domains)
				}
				for _, name := range names {
					fmt.Fprintln(app.Out, name)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&remote, "remote", false, "list the server's domains instead of the local ones")
	return cmd
}

func newSyncCommand(app *App, v *viper.Viper) *cobra.Command {
	var full bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Send local changes to the server and adopt its domain list",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.withStore(v, func(store *client.Store) error {
				app.Log.Info("syncing ...")
				domains, err := app.syncer(v, store).Sync(cmd.Context(), full)
				if err != nil {
					return err
				}
				fmt.Fprintf(app.Out, "synced, %d domains\n", len(domains))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "send every known domain, not only local changes")
	return cmd
}

func newRegisterCommand(app *App, v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "register",
		Short: "Create an account on the sync server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.withStore(v, func(store *client.Store) error {
				req, err := app.PromptCredentials(cmd.Context(), "")
				if err != nil {
					return err
				}
				confirm, err := app.ReadSecret("Repeat sync password: ")
				if err != nil {
					return err
				}
				if confirm != req.Password {
					return fmt.Errorf("passwords do not match")
				}
				a, err := app.syncer(v, store).Register(cmd.Context(), req)
				if err != nil {
					return err
				}
				fmt.Fprintf(app.Out, "registered as %s\n", a.User)
				return nil
			})
		},
	}
}

func newLoginCommand(app *App, v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Log in to the sync server and cache the token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.withStore(v, func(store *client.Store) error {
				return app.login(cmd.Context(), v, store)
			})
		},
	}
}

func (a *App) login(ctx context.Context, v *viper.Viper, store *client.Store) error {
	cached, _ := store.Credential()
	req, err := a.PromptCredentials(ctx, cached.User)
	if err != nil {
		return err
	}
	auth, err := a.syncer(v, store).Login(ctx, req)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "logged in as %s\n", auth.User)
	return nil
}

func sortedNames(domains domain.Domains) []string {
	names := make([]string, 0, len(domains))
	for name := range domains {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
