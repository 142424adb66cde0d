package cmd

import (
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/storefront-labs/gateway/internal/db/bunx"
	"github.com/storefront-labs/gateway/internal/repository"
)

var pendingOlderThan time.Duration

var customersCmd = &cobra.Command{
	Use:   "customers",
	Short: "Customer registry commands",
}

var customersPendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List sign-ups that never completed",
	Long: `Lists customers still pending after sign-up. A pending row older than a few minutes
means the IdP account was created but could not be linked, or the gateway stopped
between the two steps; reconcile it against the IdP before deleting it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		db, err := openDB(ctx)
		if err != nil {
			return err
		}
		defer bunx.Close(db)

		cutoff := time.Now().Add(-pendingOlderThan)
		pending, err := repository.NewBunCustomerRepository(db).ListPending(ctx, cutoff)
		if err != nil {
			return err
		}

		if len(pending) == 0 {
			pterm.Success.Printf("No pending customers older than %s\n", pendingOlderThan)
			return nil
		}

		table := pterm.TableData{{"ID", "EMAIL", "NAME", "CREATED", "AGE"}}
		for _, c := range pending {
			table = append(table, []string{
				c.ID,
				c.Email,
				c.FirstName + " " + c.LastName,
				c.CreatedAt.Format(time.RFC3339),
				time.Since(c.CreatedAt).Round(time.Second).String(),
			})
		}
		pterm.Warning.Printf("%d pending customer(s):\n", len(pending))
		return pterm.DefaultTable.WithHasHeader().WithData(table).Render()
	},
}

func init() {
	customersPendingCmd.Flags().DurationVar(&pendingOlderThan, "older-than", 15*time.Minute, "Only list reservations older than this")
	customersCmd.AddCommand(customersPendingCmd)
}
