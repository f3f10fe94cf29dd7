package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/umredir/umredir/internal/config"
	"github.com/umredir/umredir/internal/engine"
	"github.com/umredir/umredir/internal/mapping"
	"github.com/umredir/umredir/internal/rules"
	"github.com/umredir/umredir/internal/store"
)

func newCompileCmd() *cobra.Command {
	var configPath string
	var inputPath string
	var check bool

	cmd := &cobra.Command{
		Use:   "compile",
		Short: "Print the redirect rules compiled from the stored mappings",
		RunE: func(cmd *cobra.Command, args []string) error {
			var raw []byte
			var err error
			if inputPath != "" {
				raw, err = os.ReadFile(inputPath)
			} else {
				err = withStore(cmd, configPath, func(ctx context.Context, cfg *config.Config, st store.Store) error {
					raw, err = readDocument(ctx, st, cfg.Store.Key)
					return err
				})
			}
			if err != nil {
				return err
			}

			pages, err := mapping.Pages(raw)
			if err != nil {
				return err
			}
			compiled := rules.Compile(pages)

			if check {
				table := engine.NewTable(0)
				if err := table.AddRules(cmd.Context(), compiled); err != nil {
					return err
				}
			}

			data, err := json.MarshalIndent(compiled, "", "  ")
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return err
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	cmd.Flags().StringVar(&inputPath, "in", "", "Read the mapping document from this file instead of the store")
	cmd.Flags().BoolVar(&check, "check", false, "Also install the rules into a scratch engine to surface rejections")

	return cmd
}
