package cli

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"cord/platform/internal/gitrepo"
	"cord/platform/internal/providers"
)

// ProviderCmd returns the provider command
func ProviderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "provider",
		Short: "Manage URL providers for the browser extension",
	}
	cmd.AddCommand(providerImportCmd())
	cmd.AddCommand(providerPublishCmd())
	cmd.AddCommand(providerMatchCmd())
	return cmd
}

func loadProviderFile(path string) ([]providers.Provider, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()
	return providers.LoadYAML(file)
}

func providerImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import [file.yaml]",
		Short: "Upsert providers from a seed file",
		Long: `Upsert every provider of a YAML seed file. Imported providers are marked
dirty until they are published.

The file holds a top-level "providers" list:
  providers:
    - id: 2b0a...
      name: Docs
      domains: [docs.example.com]
      rules: [...]`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := loadProviderFile(args[0])
			if err != nil {
				return err
			}
			ctx := newContext()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			dataStore, db, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			for _, item := range items {
				row, err := providers.ToStore(item)
				if err != nil {
					return err
				}
				saved, err := dataStore.UpsertProvider(ctx, row)
				if err != nil {
					return fmt.Errorf("save provider %s: %w", item.ID, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s (%d rules)\n", okMark(), saved.ID, saved.Name, len(saved.Rules))
			}
			return nil
		},
	}
}

func providerPublishCmd() *cobra.Command {
	var author, message string

	cmd := &cobra.Command{
		Use:   "publish [provider-id]",
		Short: "Commit a provider to its history and publish it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := newContext()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			dataStore, db, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			row, err := dataStore.GetProvider(ctx, args[0])
			if err != nil {
				return fmt.Errorf("load provider %s: %w", args[0], err)
			}
			provider, err := providers.FromStore(row)
			if err != nil {
				return err
			}
			ruleSet, err := providers.RuleSet(provider)
			if err != nil {
				return err
			}
			if message == "" {
				message = "Publish " + row.Name
			}
			if err := os.MkdirAll(cfg.ProvidersDir, 0o755); err != nil {
				return fmt.Errorf("create providers dir: %w", err)
			}
			result, err := gitrepo.New(cfg.ProvidersDir).Publish(row.ID, ruleSet, author, message)
			if err != nil {
				return fmt.Errorf("commit provider: %w", err)
			}
			out := cmd.OutOrStdout()
			if result.Unchanged && !row.Dirty {
				fmt.Fprintf(out, "%s %s already published at %s\n", color.New(color.FgYellow).Sprint("="), row.Name, result.Commit.Hash)
				return nil
			}
			if _, err := dataStore.PublishProvider(ctx, row.ID, ruleSet, result.Commit.FullHash); err != nil {
				return fmt.Errorf("publish provider: %w", err)
			}
			fmt.Fprintf(out, "%s Published %s at %s\n", okMark(), row.Name, result.Commit.Hash)
			return nil
		},
	}
	cmd.Flags().StringVar(&author, "author", "cordctl", "Commit author")
	cmd.Flags().StringVarP(&message, "message", "m", "", "Commit message")
	return cmd
}

func providerMatchCmd() *cobra.Command {
	var seedFile string

	cmd := &cobra.Command{
		Use:   "match [provider-id] [url]",
		Short: "Show the page context a provider derives from a URL",
		Long: `Run a provider's rules against a URL.

Examples:
  cordctl provider match 2b0a... "https://docs.example.com/guides/setup#install"
  cordctl provider match 2b0a... "https://docs.example.com/a" --file providers.yaml`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			provider, err := findProvider(args[0], seedFile)
			if err != nil {
				return err
			}
			result, err := providers.Match(provider, args[1])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
	cmd.Flags().StringVarP(&seedFile, "file", "f", "", "Read the provider from a seed file instead of the database")
	return cmd
}

func findProvider(id, seedFile string) (providers.Provider, error) {
	if seedFile != "" {
		items, err := loadProviderFile(seedFile)
		if err != nil {
			return providers.Provider{}, err
		}
		for _, item := range items {
			if item.ID == id {
				return item, nil
			}
		}
		return providers.Provider{}, fmt.Errorf("provider %s not in %s", id, seedFile)
	}
	ctx := newContext()
	cfg, err := loadConfig()
	if err != nil {
		return providers.Provider{}, err
	}
	dataStore, db, err := openStore(ctx, cfg)
	if err != nil {
		return providers.Provider{}, err
	}
	defer db.Close()
	row, err := dataStore.GetProvider(ctx, id)
	if err != nil {
		return providers.Provider{}, fmt.Errorf("load provider %s: %w", id, err)
	}
	return providers.FromStore(row)
}
