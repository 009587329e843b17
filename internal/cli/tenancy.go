package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"cord/platform/internal/auth"
	"cord/platform/internal/store"
)

// CustomerCmd returns the customer command
func CustomerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "customer",
		Short: "Manage customers",
	}
	cmd.AddCommand(customerCreateCmd())
	return cmd
}

func customerCreateCmd() *cobra.Command {
	var projectTokenTTL time.Duration

	cmd := &cobra.Command{
		Use:   "create [name]",
		Short: "Create a customer",
		Long: `Create a customer and print its ID and shared secret.

Examples:
  cordctl customer create "Acme"
  cordctl customer create "Acme" --project-token 24h`,
		Args: cobra.ExactArgs(1),
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

			customer, err := dataStore.InsertCustomer(ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to create customer: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s Created customer %s: %s\n", okMark(), customer.ID, customer.Name)
			fmt.Fprintf(out, "  Secret: %s\n", customer.SharedSecret)
			if projectTokenTTL > 0 {
				token, err := auth.IssueProjectToken(customer.ID, []byte(customer.SharedSecret), projectTokenTTL)
				if err != nil {
					return fmt.Errorf("issue project token: %w", err)
				}
				fmt.Fprintf(out, "  Project token: %s\n", token)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&projectTokenTTL, "project-token", 0, "Also print a project management token valid this long (at most 24h)")
	return cmd
}

// ProjectCmd returns the project command
func ProjectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Manage projects (applications)",
	}
	cmd.AddCommand(projectCreateCmd())
	cmd.AddCommand(projectListCmd())
	return cmd
}

func projectCreateCmd() *cobra.Command {
	var customerID, environment, webhookURL string

	cmd := &cobra.Command{
		Use:   "create [name]",
		Short: "Create a project for a customer",
		Long: `Create a project and print the credentials its server uses to sign tokens.

Examples:
  cordctl project create docs --customer 8d1c...
  cordctl project create docs-staging --customer 8d1c... --environment staging`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if customerID == "" {
				return fmt.Errorf("--customer is required")
			}
			switch environment {
			case "production", "staging", "sample", "sampletoken", "demo":
			default:
				return fmt.Errorf("unknown environment %q", environment)
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

			app, err := dataStore.InsertApplication(ctx, store.Application{
				CustomerID:      customerID,
				Name:            args[0],
				Environment:     environment,
				EventWebhookURL: webhookURL,
			})
			if err != nil {
				return fmt.Errorf("failed to create project: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s Created project %s: %s\n", okMark(), app.ID, app.Name)
			fmt.Fprintf(out, "  Environment: %s\n", app.Environment)
			fmt.Fprintf(out, "  Secret: %s\n", app.SharedSecret)
			return nil
		},
	}
	cmd.Flags().StringVar(&customerID, "customer", "", "Customer ID")
	cmd.Flags().StringVar(&environment, "environment", "production", "production, staging, sample, sampletoken or demo")
	cmd.Flags().StringVar(&webhookURL, "webhook-url", "", "Event webhook URL (not verified here)")
	return cmd
}

func projectListCmd() *cobra.Command {
	var customerID string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a customer's projects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if customerID == "" {
				return fmt.Errorf("--customer is required")
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

			apps, err := dataStore.ListApplications(ctx, customerID)
			if err != nil {
				return fmt.Errorf("failed to list projects: %w", err)
			}
			if len(apps) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No projects found.")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tENVIRONMENT\tCREATED")
			for _, app := range apps {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", app.ID, app.Name, app.Environment, dim(app.CreatedAt.Format("2006-01-02")))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&customerID, "customer", "", "Customer ID")
	return cmd
}
