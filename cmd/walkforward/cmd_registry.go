package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/quantlab/walkforward/internal/config"
	"github.com/quantlab/walkforward/internal/registry"
)

var registryCmd = &cobra.Command{
	Use:   "registry",
	Short: "Inspect the model artifact registry",
	Long: `Query artifact families, versions, and metadata from the registry
configured in the YAML config.

Examples:
  walkforward registry list gbst
  walkforward registry show gbst latest
  walkforward registry show gbst 3 --blob model.bin`,
}

var registryListCmd = &cobra.Command{
	Use:   "list <family>",
	Short: "List a family's artifact metadata in version order",
	Args:  cobra.ExactArgs(1),
	RunE:  runRegistryList,
}

var registryShowCmd = &cobra.Command{
	Use:   "show <family> <version|latest>",
	Short: "Show one artifact's metadata",
	Args:  cobra.ExactArgs(2),
	RunE:  runRegistryShow,
}

var registryBlobOut string

func init() {
	rootCmd.AddCommand(registryCmd)
	registryCmd.AddCommand(registryListCmd)
	registryCmd.AddCommand(registryShowCmd)

	registryShowCmd.Flags().StringVar(&registryBlobOut, "blob", "", "Write the serialized model state to this file")
}

func openStore() (*registry.FSStore, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return registry.Open(cfg.Registry.Dir)
}

func runRegistryList(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}

	metas, err := store.List(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	return printJSON(metas)
}

func runRegistryShow(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}

	family := args[0]
	var artifact *registry.Artifact
	if args[1] == "latest" {
		artifact, err = store.Latest(cmd.Context(), family)
	} else {
		version, convErr := strconv.Atoi(args[1])
		if convErr != nil {
			return fmt.Errorf("version must be a positive integer or \"latest\"")
		}
		artifact, err = store.Get(cmd.Context(), family, version)
	}
	if err != nil {
		return err
	}

	if registryBlobOut != "" {
		if err := os.WriteFile(registryBlobOut, artifact.Blob, 0o644); err != nil {
			return fmt.Errorf("failed to write blob: %w", err)
		}
		log.Info().
			Str("path", registryBlobOut).
			Int("bytes", len(artifact.Blob)).
			Msg("blob written")
	}

	return printJSON(artifact.Meta)
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
