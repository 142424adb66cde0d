package cmd

import (
	"strconv"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/storefront-labs/gateway/internal/access"
	"github.com/storefront-labs/gateway/internal/auth"
	gwmiddleware "github.com/storefront-labs/gateway/internal/middleware"
)

var (
	explainToken string
	explainRoles []string
)

var explainCmd = &cobra.Command{
	Use:   "explain <path>",
	Short: "Show how the gateway would treat a request",
	Long: `Classifies a path and computes the access verdict for a caller, using the configured
routes and token settings.

Without flags the caller is anonymous. --roles simulates a signed-in caller holding the
given roles; --token decodes a real session token with the configured codec.`,
	Example: `  gatewayd explain /admin/business --roles customer
  gatewayd explain /my-orders --token "$ACCESS_TOKEN"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		classifier := access.NewClassifier(cfg.Routes.PublicPaths, cfg.Routes.AdminPrefix, cfg.Routes.ExcludedPrefixes)

		if classifier.Excluded(path) {
			pterm.Info.Printf("%s is excluded; requests pass through without a decision\n", path)
			return nil
		}

		var state gwmiddleware.TokenState
		switch {
		case explainToken != "":
			tokens := cfg.Tokens
			tokens.CacheSize = 0
			decoder, err := newDecoder(tokens, logger)
			if err != nil {
				return err
			}
			state = gwmiddleware.ResolveToken(cmd.Context(), decoder, explainToken, cfg.Tokens.EnforceExpiry, time.Now())
		case cmd.Flags().Changed("roles"):
			state = gwmiddleware.TokenState{
				HasToken: true,
				Claims:   &auth.Claims{UserID: "simulated", Roles: explainRoles},
			}
		}

		route := classifier.Classify(path)
		verdict := access.Decide(state.HasToken, state.Claims, route)

		pterm.DefaultSection.Println("Access decision")
		table := pterm.TableData{
			{"PATH", path},
			{"ROUTE", route.String()},
			{"TOKEN PRESENT", strconv.FormatBool(state.HasToken)},
		}
		if state.Failure != "" {
			table = append(table, []string{"TOKEN DEGRADED", state.Failure})
		}
		if state.Claims != nil {
			table = append(table,
				[]string{"USER", state.Claims.UserID},
				[]string{"ROLES", strings.Join(state.Claims.Roles, ", ")},
				[]string{"ADMIN", strconv.FormatBool(access.CapabilitiesFor(state.Claims).Admin)},
			)
		}
		if err := pterm.DefaultTable.WithData(table).Render(); err != nil {
			return err
		}

		if verdict == access.Allow {
			pterm.Success.Println("allow")
			return nil
		}
		target := gwmiddleware.RedirectTargetsFrom(cfg.Routes).Location(verdict)
		pterm.Warning.Printf("%s -> %s\n", verdict, target)
		return nil
	},
}

func init() {
	explainCmd.Flags().StringVar(&explainToken, "token", "", "Session token to decode")
	explainCmd.Flags().StringSliceVar(&explainRoles, "roles", nil, "Simulate a signed-in caller with these roles")
	explainCmd.MarkFlagsMutuallyExclusive("token", "roles")
}
