package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/umredir/umredir/internal/config"
	"github.com/umredir/umredir/internal/mapping"
	"github.com/umredir/umredir/internal/normalize"
	"github.com/umredir/umredir/internal/store"
)

func newMappingsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "mappings",
		Short: "Inspect and edit the stored host mappings",
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	cmd.AddCommand(newMappingsListCmd(&configPath))
	cmd.AddCommand(newMappingsAddCmd(&configPath))
	cmd.AddCommand(newMappingsRemoveCmd(&configPath))
	cmd.AddCommand(newMappingsActivateCmd(&configPath))
	cmd.AddCommand(newMappingsTabCmd(&configPath))

	return cmd
}

func newMappingsListCmd(configPath *string) *cobra.Command {
	var host string
	var current bool
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List mappings in rule order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, *configPath, func(ctx context.Context, cfg *config.Config, st store.Store) error {
				raw, err := readDocument(ctx, st, cfg.Store.Key)
				if err != nil {
					return err
				}
				doc, err := mapping.Decode(raw)
				if err != nil {
					return err
				}

				if current {
					if doc.State.CurrentTabURL == "" {
						return errors.New("no current tab recorded")
					}
					host = doc.State.CurrentTabURL
				}
				if host != "" {
					h, err := normalize.Host(host)
					if err != nil {
						return err
					}
					m, ok := mapping.Lookup(doc.State.Pages, h)
					if !ok {
						return fmt.Errorf("no redirect for %s", host)
					}
					_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", m.MatchHost, m.DestinationHost)
					return err
				}

				if asJSON {
					data, err := json.MarshalIndent(doc, "", "  ")
					if err != nil {
						return err
					}
					_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
					return err
				}
				return writeMappings(cmd, doc)
			})
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Show only the mapping for this host")
	cmd.Flags().BoolVar(&current, "current", false, "Show only the mapping for the recorded current tab")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the whole stored document")

	return cmd
}

func writeMappings(cmd *cobra.Command, doc mapping.Document) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "activated: %t\n", doc.State.Activated)
	if len(doc.State.Pages) == 0 {
		fmt.Fprintln(w, "no mappings")
		return w.Flush()
	}
	fmt.Fprintln(w, "RULE\tMATCH\tDESTINATION")
	for i, m := range doc.State.Pages {
		fmt.Fprintf(w, "%d\t%s\t%s\n", i+1, m.MatchHost, m.DestinationHost)
	}
	return w.Flush()
}

func newMappingsAddCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "add <match-host> <destination-host>",
		Short: "Redirect media requests for a host",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			host, err := normalize.Host(args[0])
			if err != nil {
				return fmt.Errorf("invalid match host %q: %w", args[0], err)
			}
			m := mapping.Mapping{MatchHost: host, DestinationHost: args[1]}
			return withStore(cmd, *configPath, func(ctx context.Context, cfg *config.Config, st store.Store) error {
				if err := editDocument(ctx, st, cfg.Store.Key, func(raw []byte) ([]byte, error) {
					return mapping.AddPage(raw, m)
				}); err != nil {
					return err
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "added %s -> %s\n", strings.TrimSpace(m.MatchHost), strings.TrimSpace(m.DestinationHost))
				return err
			})
		},
	}
}

func newMappingsRemoveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <destination-host>",
		Short: "Remove every mapping that redirects to a destination",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, *configPath, func(ctx context.Context, cfg *config.Config, st store.Store) error {
				removed := 0
				if err := editDocument(ctx, st, cfg.Store.Key, func(raw []byte) ([]byte, error) {
					out, n, err := mapping.RemovePage(raw, args[0])
					removed = n
					return out, err
				}); err != nil {
					return err
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "removed %d mapping(s)\n", removed)
				return err
			})
		},
	}
}

func newMappingsActivateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:       "activate <on|off>",
		Short:     "Set the stored activation flag",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			activated, err := parseToggle(args[0])
			if err != nil {
				return err
			}
			return withStore(cmd, *configPath, func(ctx context.Context, cfg *config.Config, st store.Store) error {
				return editDocument(ctx, st, cfg.Store.Key, func(raw []byte) ([]byte, error) {
					return mapping.SetActivated(raw, activated)
				})
			})
		},
	}
}

func newMappingsTabCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "tab <url>",
		Short: "Record the URL of the current tab",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := normalize.Host(args[0]); err != nil {
				return fmt.Errorf("invalid tab url %q: %w", args[0], err)
			}
			return withStore(cmd, *configPath, func(ctx context.Context, cfg *config.Config, st store.Store) error {
				return editDocument(ctx, st, cfg.Store.Key, func(raw []byte) ([]byte, error) {
					return mapping.SetCurrentTab(raw, args[0])
				})
			})
		},
	}
}

func parseToggle(v string) (bool, error) {
	switch strings.ToLower(v) {
	case "on", "true", "yes", "1":
		return true, nil
	case "off", "false", "no", "0":
		return false, nil
	default:
		return false, fmt.Errorf("expected on or off, got %q", v)
	}
}
