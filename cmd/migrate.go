package cmd

import (
	"fmt"

	"github.com/deemkeen/pubengine/docstore"
	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Bring the configured storage up to date",
		Long: `For the sql backend this applies pending schema migrations. For the
document backend it loads and rewrites the snapshot in the current format.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStorage(conf)
			if err != nil {
				return err
			}
			if doc, ok := store.(*docstore.Store); ok {
				if err := doc.Flush(); err != nil {
					store.Close()
					return err
				}
			}
			if err := store.Close(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render("Storage up to date"), labelStyle.Render(conf.Conf.Storage.Type+" "+conf.Conf.Storage.Path))
			return nil
		},
	}
}
