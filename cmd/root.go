// Package cmd holds the pubengine command line.
package cmd

import (
	"fmt"
	"os"

	"github.com/deemkeen/pubengine/db"
	"github.com/deemkeen/pubengine/docstore"
	"github.com/deemkeen/pubengine/storage"
	"github.com/deemkeen/pubengine/util"
	"github.com/spf13/cobra"
)

var configPath string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           util.Name,
		Short:         "ActivityPub federation engine",
		Long:          `A single-instance ActivityPub server: signed inboxes, follower delivery and local timelines.`,
		Version:       util.GetVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default: ./config.yaml, then the user config dir)")

	root.AddCommand(
		serveCmd(),
		setupCmd(),
		actorsCmd(),
		migrateCmd(),
	)
	return root
}

// Execute runs the command line and exits non-zero on failure.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*util.AppConfig, error) {
	if configPath == "" {
		return util.ReadConf()
	}
	buf, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return util.ParseConf(buf)
}

// openStorage opens the backend selected by storage.type.
func openStorage(conf *util.AppConfig) (storage.Storage, error) {
	path := conf.Conf.Storage.Path
	switch conf.Conf.Storage.Type {
	case util.StorageSQL:
		return db.Open(path, conf.Logger("db"))
	case util.StorageDocument:
		return docstore.Open(path, conf.Logger("docstore"))
	}
	return nil, fmt.Errorf("unknown storage type %q", conf.Conf.Storage.Type)
}
