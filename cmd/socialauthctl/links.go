package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	socialauth "github.com/goliatone/go-socialauth"
)

// accountRef stands in for an account when only its ID is needed.
type accountRef string

func (a accountRef) GetID() string           { return string(a) }
func (a accountRef) HasUsablePassword() bool { return false }

func newLinksCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "links",
		Short: "Inspect and remove identity links",
	}
	cmd.AddCommand(newLinksListCmd(a), newLinksDisconnectCmd(a))
	return cmd
}

func newLinksListCmd(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list ACCOUNT_ID",
		Short: "List the links of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			b, err := a.backends(cmd)
			if err != nil {
				return err
			}
			defer b.Close(ctx)

			links, err := b.linker(a).LinksForAccount(ctx, accountRef(args[0]))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(links)
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tPROVIDER\tUID\tCREATED")
			for _, link := range links {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", link.ID, link.Provider, link.UID, link.CreatedAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print links as JSON")
	return cmd
}

func newLinksDisconnectCmd(a *app) *cobra.Command {
	var linkID string

	cmd := &cobra.Command{
		Use:   "disconnect ACCOUNT_ID PROVIDER",
		Short: "Remove a provider link when the account keeps another way to log in",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			b, err := a.backends(cmd)
			if err != nil {
				return err
			}
			defer b.Close(ctx)

			if b.accounts == nil {
				return errors.New("disconnect needs an account store, the " + a.cfg.Storage.Driver + " driver has none")
			}
			account, err := b.accounts.GetAccount(ctx, args[0])
			if err != nil {
				return err
			}
			if account == nil {
				return fmt.Errorf("account %s not found", args[0])
			}

			provider := args[1]
			if err := b.linker(a).Disconnect(ctx, account, provider, linkID); err != nil {
				b.metrics.ObserveOutcome(err)
				if socialauth.IsKind(err, socialauth.KindNotAllowedToDisconnect) {
					return fmt.Errorf("%s is the last way account %s can log in", provider, account.GetID())
				}
				return err
			}

			a.log.Info().Str("account", account.GetID()).Str("provider", provider).Str("link", linkID).Msg("disconnected")
			fmt.Fprintf(cmd.OutOrStdout(), "disconnected %s from %s\n", provider, account.GetID())
			return nil
		},
	}

	cmd.Flags().StringVar(&linkID, "link", "", "remove only this link ID")
	return cmd
}
