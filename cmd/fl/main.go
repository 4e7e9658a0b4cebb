package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"freightline/internal/app"
	"freightline/internal/config"
	"freightline/internal/db"
	"freightline/internal/domain"
	"freightline/internal/engine"
	"freightline/internal/migrate"
	"freightline/internal/repo"
	"freightline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "fl",
	Short: "Freightline CLI",
	Long: `Freightline runs a freight marketplace: shippers submit loads, admins price
and post them, carriers bid, and the winning bid turns into an invoice.
- Workspace: your .freightline directory holding the database; marketplace
  config lives in the DB and can be imported from freightline.yml.
- Loads: move draft -> pending -> priced -> posted_to_carriers -> open_for_bid
  -> awarded -> invoice_created -> ... -> closed. Cancel exits from any
  non-terminal state.
- Bids: carriers offer, admins counter, one bid wins. Every exchange lands
  in the negotiation thread, which is rebuildable from its messages.
- Invoices: drafted from the locked price, sent to the shipper, and settled
  in full; corrections are revisions, never edits.
- State log: every transition is recorded, view with 'fl load log'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("FREIGHTLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-admin", "actor identifier")
	rootCmd.PersistentFlags().String("marketplace", "", "marketplace id (overrides config default)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("marketplace", rootCmd.PersistentFlags().Lookup("marketplace"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(partyCmd())
	rootCmd.AddCommand(loadCmd())
	rootCmd.AddCommand(bidCmd())
	rootCmd.AddCommand(threadCmd())
	rootCmd.AddCommand(invoiceCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage marketplace config"}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configImportCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show marketplace config stored in DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
	return cmd
}

func configInitCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default freightline.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(id)), 0o644); err != nil {
				return err
			}
			fmt.Println("Wrote", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "default", "marketplace id")
	return cmd
}

func configImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import marketplace config from YAML into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(filePath)
			if err != nil {
				return err
			}
			cfg, err := config.FromYAML(data)
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.UpsertMarketplaceConfig(ctx, cfg.Marketplace.ID, cfg); err != nil {
					return err
				}
				return printJSONOrTable(cfg)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func partyCmd() *cobra.Command {
	party := &cobra.Command{Use: "party", Short: "Manage parties"}
	party.AddCommand(partyRegisterCmd())
	party.AddCommand(partyVerifyCmd())
	party.AddCommand(partyShowCmd())
	party.AddCommand(partyListCmd())
	return party
}

func partyRegisterCmd() *cobra.Command {
	var id, name, role, carrierType string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a party",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" || role == "" {
				return fmt.Errorf("--name and --role required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.RegisterParty(ctx, id, name, domain.PartyRole(role), domain.CarrierType(carrierType))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "party id (optional, UUID if omitted)")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&role, "role", "", "role (shipper, carrier, admin)")
	cmd.Flags().StringVar(&carrierType, "carrier-type", "", "carrier type (enterprise, solo)")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func partyVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify <id>",
		Short: "Mark a party verified",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.VerifyParty(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func partyShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a party",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				p, err := r.GetParty(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func partyListCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List parties",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListParties(ctx, domain.PartyRole(role))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Role", "Type", "Verified"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Name, p.Role, p.CarrierType, p.Verified})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "role filter")
	return cmd
}

func loadCmd() *cobra.Command {
	load := &cobra.Command{
		Use:   "load",
		Short: "Manage loads",
		Long:  "Loads flow draft -> pending -> priced -> posted_to_carriers -> open_for_bid -> awarded and onward through invoicing and transit. Admin-only steps need --actor-id of an admin party.",
	}
	load.AddCommand(loadSubmitCmd())
	load.AddCommand(loadListCmd())
	load.AddCommand(loadShowCmd())
	load.AddCommand(loadSubmitPricingCmd())
	load.AddCommand(loadSuggestPriceCmd())
	load.AddCommand(loadPriceCmd())
	load.AddCommand(loadUnlockPriceCmd())
	load.AddCommand(loadPostCmd())
	load.AddCommand(loadTransitionCmd())
	load.AddCommand(loadLogCmd())
	return load
}

func loadSubmitCmd() *cobra.Command {
	var opts engine.LoadSubmitOptions
	var pricePerTon int64
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a load",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.ShipperID == "" {
				opts.ShipperID = viper.GetString("actor-id")
			}
			if cmd.Flags().Changed("price-per-ton") {
				opts.ShipperPricePerTon = &pricePerTon
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				l, err := e.SubmitLoad(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(l)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "load id (optional, UUID if omitted)")
	cmd.Flags().StringVar(&opts.ShipperID, "shipper", "", "shipper party id (defaults to --actor-id)")
	cmd.Flags().StringVar(&opts.Origin, "origin", "", "origin city")
	cmd.Flags().StringVar(&opts.Destination, "destination", "", "destination city")
	cmd.Flags().StringVar(&opts.Cargo, "cargo", "", "cargo description")
	cmd.Flags().Float64Var(&opts.WeightTons, "weight", 0, "weight in tons")
	cmd.Flags().Int64Var(&pricePerTon, "price-per-ton", 0, "shipper's expected price per ton")
	_ = cmd.MarkFlagRequired("origin")
	_ = cmd.MarkFlagRequired("destination")
	_ = cmd.MarkFlagRequired("weight")
	return cmd
}

func loadListCmd() *cobra.Command {
	var status, shipper string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List loads",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListLoads(ctx, domain.LoadStatus(status), shipper, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Route", "Status", "Weight", "Final Price", "Version"})
				for _, l := range items {
					price := ""
					if l.AdminFinalPrice != nil {
						price = fmt.Sprintf("%d", *l.AdminFinalPrice)
					}
					tw.AppendRow(table.Row{l.ID, l.Origin + " -> " + l.Destination, l.Status, l.WeightTons, price, l.Version})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().StringVar(&shipper, "shipper", "", "shipper filter")
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows")
	return cmd
}

func loadShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a load",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				l, err := r.GetLoad(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(l)
			})
		},
	}
	return cmd
}

func loadSubmitPricingCmd() *cobra.Command {
	var expect int
	cmd := &cobra.Command{
		Use:   "submit-pricing <id>",
		Short: "Submit a draft load for pricing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				l, err := e.SubmitForPricing(ctx, args[0], viper.GetString("actor-id"), expect)
				if err != nil {
					return err
				}
				return printJSONOrTable(l)
			})
		},
	}
	cmd.Flags().IntVar(&expect, "expect-version", -1, "expected load version (-1 to skip)")
	return cmd
}

func loadSuggestPriceCmd() *cobra.Command {
	var amount int64
	cmd := &cobra.Command{
		Use:   "suggest-price <id>",
		Short: "Record an admin price suggestion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				l, err := e.SuggestPrice(ctx, args[0], amount, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(l)
			})
		},
	}
	cmd.Flags().Int64Var(&amount, "amount", 0, "suggested price")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func loadPriceCmd() *cobra.Command {
	var amount int64
	var expect int
	cmd := &cobra.Command{
		Use:   "price <id>",
		Short: "Lock the final price",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				l, err := e.PriceLoad(ctx, args[0], amount, viper.GetString("actor-id"), expect)
				if err != nil {
					return err
				}
				return printJSONOrTable(l)
			})
		},
	}
	cmd.Flags().Int64Var(&amount, "amount", 0, "final price")
	cmd.Flags().IntVar(&expect, "expect-version", -1, "expected load version (-1 to skip)")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func loadUnlockPriceCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "unlock-price <id>",
		Short: "Unlock a locked price",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				l, err := e.UnlockPrice(ctx, args[0], viper.GetString("actor-id"), reason)
				if err != nil {
					return err
				}
				return printJSONOrTable(l)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the price is being unlocked")
	return cmd
}

func loadPostCmd() *cobra.Command {
	var mode string
	var invited []string
	var expect int
	cmd := &cobra.Command{
		Use:   "post <id>",
		Short: "Post a priced load to carriers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				l, err := e.PostToCarriers(ctx, args[0], domain.PostingMode(mode), invited, viper.GetString("actor-id"), expect)
				if err != nil {
					return err
				}
				return printJSONOrTable(l)
			})
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "open", "posting mode (open, invited)")
	cmd.Flags().StringArrayVar(&invited, "invite", []string{}, "invited carrier id (repeatable)")
	cmd.Flags().IntVar(&expect, "expect-version", -1, "expected load version (-1 to skip)")
	return cmd
}

func loadTransitionCmd() *cobra.Command {
	var target, reason string
	var expect int
	cmd := &cobra.Command{
		Use:   "transition <id>",
		Short: "Apply a lifecycle transition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if target == "" {
				return fmt.Errorf("--to required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				l, err := e.Transition(ctx, args[0], domain.LoadStatus(target), viper.GetString("actor-id"), reason, expect)
				if err != nil {
					return err
				}
				return printJSONOrTable(l)
			})
		},
	}
	cmd.Flags().StringVar(&target, "to", "", "target status")
	cmd.Flags().StringVar(&reason, "reason", "", "reason for the transition")
	cmd.Flags().IntVar(&expect, "expect-version", -1, "expected load version (-1 to skip)")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func loadLogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log <id>",
		Short: "Show the load state log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListLoadStateLog(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"TS", "From", "To", "Actor", "Reason"})
				for _, c := range items {
					tw.AppendRow(table.Row{c.TS, c.FromState, c.ToState, c.ActorID, c.Reason})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func bidCmd() *cobra.Command {
	bid := &cobra.Command{
		Use:   "bid",
		Short: "Manage bids",
		Long:  "Carriers place bids on posted loads, admins counter or accept. Accepting one bid rejects all the others and awards the load in the same transaction.",
	}
	bid.AddCommand(bidPlaceCmd())
	bid.AddCommand(bidListCmd())
	bid.AddCommand(bidCounterCmd())
	bid.AddCommand(bidAcceptCmd())
	bid.AddCommand(bidRejectCmd())
	bid.AddCommand(bidExpireCmd())
	return bid
}

func bidPlaceCmd() *cobra.Command {
	var loadID, carrierID, notes string
	var amount int64
	cmd := &cobra.Command{
		Use:   "place",
		Short: "Place a bid on a load",
		RunE: func(cmd *cobra.Command, args []string) error {
			if carrierID == "" {
				carrierID = viper.GetString("actor-id")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				b, l, err := e.PlaceBid(ctx, engine.PlaceBidOptions{
					LoadID:    loadID,
					CarrierID: carrierID,
					ActorID:   viper.GetString("actor-id"),
					Amount:    amount,
					Notes:     notes,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"bid": b, "load": l})
			})
		},
	}
	cmd.Flags().StringVar(&loadID, "load", "", "load id")
	cmd.Flags().StringVar(&carrierID, "carrier", "", "carrier id (defaults to --actor-id)")
	cmd.Flags().Int64Var(&amount, "amount", 0, "bid amount")
	cmd.Flags().StringVar(&notes, "notes", "", "notes")
	_ = cmd.MarkFlagRequired("load")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func bidListCmd() *cobra.Command {
	var loadID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List bids for a load",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListBids(ctx, loadID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Carrier", "Amount", "Counter", "Status", "Type"})
				for _, b := range items {
					counter := ""
					if b.CounterAmount != nil {
						counter = fmt.Sprintf("%d", *b.CounterAmount)
					}
					tw.AppendRow(table.Row{b.ID, b.CarrierID, b.Amount, counter, b.Status, b.BidType})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&loadID, "load", "", "load id")
	_ = cmd.MarkFlagRequired("load")
	return cmd
}

func bidCounterCmd() *cobra.Command {
	var amount int64
	var body string
	cmd := &cobra.Command{
		Use:   "counter <bid-id>",
		Short: "Counter a bid",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				b, l, err := e.CounterOffer(ctx, args[0], viper.GetString("actor-id"), amount, body)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"bid": b, "load": l})
			})
		},
	}
	cmd.Flags().Int64Var(&amount, "amount", 0, "counter amount")
	cmd.Flags().StringVar(&body, "message", "", "message to attach")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func bidAcceptCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accept <bid-id>",
		Short: "Accept a bid and award the load",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				b, l, err := e.AcceptBid(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"bid": b, "load": l})
			})
		},
	}
	return cmd
}

func bidRejectCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "reject <bid-id>",
		Short: "Reject a bid",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				b, err := e.RejectBid(ctx, args[0], viper.GetString("actor-id"), reason)
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "rejection reason")
	return cmd
}

func bidExpireCmd() *cobra.Command {
	var loadID string
	cmd := &cobra.Command{
		Use:   "expire",
		Short: "Expire stale bids on a load",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				expired, err := e.ExpireBids(ctx, loadID, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(expired)
			})
		},
	}
	cmd.Flags().StringVar(&loadID, "load", "", "load id")
	_ = cmd.MarkFlagRequired("load")
	return cmd
}

func threadCmd() *cobra.Command {
	thread := &cobra.Command{Use: "thread", Short: "Negotiation threads"}
	thread.AddCommand(threadShowCmd())
	thread.AddCommand(threadMessagesCmd())
	thread.AddCommand(threadRebuildCmd())
	return thread
}

func threadShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <load-id>",
		Short: "Show the thread summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.GetThread(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func threadMessagesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "messages <load-id>",
		Short: "List the thread messages in order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				msgs, err := r.ListMessages(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(msgs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Seq", "Type", "Sender", "Amount", "Body"})
				for _, m := range msgs {
					amount := ""
					if m.Amount != nil {
						amount = fmt.Sprintf("%d", *m.Amount)
					}
					tw.AppendRow(table.Row{m.Seq, m.Type, m.SenderID, amount, m.Body})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func threadRebuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rebuild <load-id>",
		Short: "Rebuild the thread summary from its messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.RebuildThread(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func invoiceCmd() *cobra.Command {
	inv := &cobra.Command{
		Use:   "invoice",
		Short: "Manage invoices",
		Long:  "Invoices are issued from the locked price of an awarded load. They move draft -> sent -> viewed/approved/negotiating and settle at paid; corrections supersede, never edit.",
	}
	inv.AddCommand(invoiceCreateCmd())
	inv.AddCommand(invoiceListCmd())
	inv.AddCommand(invoiceShowCmd())
	inv.AddCommand(invoiceSendCmd())
	inv.AddCommand(invoiceViewCmd())
	inv.AddCommand(invoiceRespondCmd())
	inv.AddCommand(invoiceReviseCmd())
	inv.AddCommand(invoicePayCmd())
	inv.AddCommand(invoiceOverdueCmd())
	inv.AddCommand(invoiceCancelCmd())
	inv.AddCommand(invoiceHistoryCmd())
	return inv
}

func breakdownFlags(cmd *cobra.Command, b *domain.PriceBreakdown) {
	cmd.Flags().Int64Var(&b.BaseFreight, "base", 0, "base freight (defaults to the locked price)")
	cmd.Flags().Int64Var(&b.FuelSurcharge, "fuel", 0, "fuel surcharge")
	cmd.Flags().Int64Var(&b.Tolls, "tolls", 0, "tolls")
	cmd.Flags().Float64Var(&b.GSTPercent, "gst", 0, "GST percent (defaults to marketplace rate)")
	cmd.Flags().Int64Var(&b.Discount, "discount", 0, "discount")
}

func invoiceCreateCmd() *cobra.Command {
	var loadID, key string
	var breakdown domain.PriceBreakdown
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an invoice for an awarded load",
		RunE: func(cmd *cobra.Command, args []string) error {
			if key == "" {
				key = uuid.New().String()
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				inv, created, err := e.CreateInvoice(ctx, engine.InvoiceCreateOptions{
					LoadID:         loadID,
					Breakdown:      breakdown,
					IdempotencyKey: key,
					ActorID:        viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				if !created {
					fmt.Fprintf(cmd.OutOrStdout(), "invoice %s already exists for key %s\n", inv.ID, key)
				}
				return printJSONOrTable(inv)
			})
		},
	}
	cmd.Flags().StringVar(&loadID, "load", "", "load id")
	cmd.Flags().StringVar(&key, "key", "", "idempotency key (UUID if omitted)")
	breakdownFlags(cmd, &breakdown)
	_ = cmd.MarkFlagRequired("load")
	return cmd
}

func invoiceListCmd() *cobra.Command {
	var loadID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List invoices for a load",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListInvoices(ctx, loadID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Rev", "Status", "Total", "Due", "Version"})
				for _, inv := range items {
					due := ""
					if inv.DueAt != nil {
						due = *inv.DueAt
					}
					tw.AppendRow(table.Row{inv.ID, inv.Revision, inv.Status, inv.Total, due, inv.Version})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&loadID, "load", "", "load id")
	_ = cmd.MarkFlagRequired("load")
	return cmd
}

func invoiceShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show an invoice",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				inv, err := r.GetInvoice(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(inv)
			})
		},
	}
	return cmd
}

func invoiceSendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send <id>",
		Short: "Send an invoice to the shipper",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				inv, err := e.SendInvoice(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(inv)
			})
		},
	}
	return cmd
}

func invoiceViewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "view <id>",
		Short: "Mark an invoice viewed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				inv, err := e.MarkInvoiceViewed(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(inv)
			})
		},
	}
	return cmd
}

func invoiceRespondCmd() *cobra.Command {
	var response, message string
	var counter int64
	cmd := &cobra.Command{
		Use:   "respond <id>",
		Short: "Record the shipper's response",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var counterPtr *int64
			if cmd.Flags().Changed("counter") {
				counterPtr = &counter
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				inv, err := e.RespondToInvoice(ctx, args[0], viper.GetString("actor-id"),
					domain.ShipperResponse(response), counterPtr, message)
				if err != nil {
					return err
				}
				return printJSONOrTable(inv)
			})
		},
	}
	cmd.Flags().StringVar(&response, "response", "", "approve, negotiate, query or reject")
	cmd.Flags().Int64Var(&counter, "counter", 0, "counter amount (negotiate)")
	cmd.Flags().StringVar(&message, "message", "", "message to attach")
	_ = cmd.MarkFlagRequired("response")
	return cmd
}

func invoiceReviseCmd() *cobra.Command {
	var key string
	var breakdown domain.PriceBreakdown
	cmd := &cobra.Command{
		Use:   "revise <id>",
		Short: "Supersede a negotiating invoice with a new revision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if key == "" {
				key = uuid.New().String()
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				inv, err := e.ReviseInvoice(ctx, args[0], breakdown, key, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(inv)
			})
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "idempotency key (UUID if omitted)")
	breakdownFlags(cmd, &breakdown)
	_ = cmd.MarkFlagRequired("base")
	return cmd
}

func invoicePayCmd() *cobra.Command {
	var amount int64
	var reference string
	cmd := &cobra.Command{
		Use:   "pay <id>",
		Short: "Confirm payment in full",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				inv, err := e.ConfirmPayment(ctx, args[0], amount, reference, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(inv)
			})
		},
	}
	cmd.Flags().Int64Var(&amount, "amount", 0, "amount paid")
	cmd.Flags().StringVar(&reference, "reference", "", "payment reference")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func invoiceOverdueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "overdue <id>",
		Short: "Mark an invoice overdue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				inv, err := e.MarkInvoiceOverdue(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(inv)
			})
		},
	}
	return cmd
}

func invoiceCancelCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel an invoice",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				inv, err := e.CancelInvoice(ctx, args[0], viper.GetString("actor-id"), reason)
				if err != nil {
					return err
				}
				return printJSONOrTable(inv)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "cancellation reason")
	return cmd
}

func invoiceHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <id>",
		Short: "Show the invoice history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListInvoiceHistory(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"TS", "From", "To", "Actor", "Reason"})
				for _, c := range items {
					tw.AppendRow(table.Row{c.TS, c.FromState, c.ToState, c.ActorID, c.Reason})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func apikeyCmd() *cobra.Command {
	key := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	key.AddCommand(apikeyCreateCmd())
	key.AddCommand(apikeyDeleteCmd())
	return key
}

func apikeyCreateCmd() *cobra.Command {
	var partyID, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for a party",
		RunE: func(cmd *cobra.Command, args []string) error {
			if partyID == "" {
				return fmt.Errorf("--party required")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if _, err := r.GetParty(ctx, partyID); err != nil {
					return err
				}
				secret := uuid.New().String()
				k := domain.APIKey{
					ID:        uuid.New().String(),
					PartyID:   partyID,
					Name:      name,
					KeyHash:   repo.HashAPIKey(secret),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := r.InsertAPIKey(ctx, k); err != nil {
					return err
				}
				// The secret is printed once and never stored.
				return printJSONOrTable(map[string]any{"id": k.ID, "party_id": partyID, "key": secret})
			})
		},
	}
	cmd.Flags().StringVar(&partyID, "party", "", "party id")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowLegacy bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			r := repo.Repo{DB: conn}
			_, cfg, err := app.ResolveMarketplaceAndConfig(cmd.Context(), workspace, viper.GetString("marketplace"), viper.GetString("actor-id"), r)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("FREIGHTLINE_JWT_SECRET"),
				AllowLegacyActorHeader: allowLegacy,
			}
			if authCfg.JWTSecret == "" && !allowLegacy {
				return fmt.Errorf("FREIGHTLINE_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Freightline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowLegacy, "allow-legacy-actor-header", false, "accept X-Actor-Id without auth (dev only)")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	_, cfg, err := app.ResolveMarketplaceAndConfig(ctx, workspace, viper.GetString("marketplace"), viper.GetString("actor-id"), r)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	return fn(ctx, r)
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
