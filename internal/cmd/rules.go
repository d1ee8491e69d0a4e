package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/denniswebb/iptpanel/internal/client"
	"github.com/denniswebb/iptpanel/internal/iptables"
	"github.com/denniswebb/iptpanel/internal/logging"
	"github.com/denniswebb/iptpanel/internal/render"
	"github.com/denniswebb/iptpanel/internal/view"
)

// ListCmd prints a chain listing.
var ListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show the rules of a chain",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		interval, _ := cmd.Flags().GetDuration("watch")
		if interval > 0 {
			return watchList(cmd, interval)
		}
		return withView(cmd, func(ctx context.Context, v *view.View) error {
			return nil
		})
	},
}

// AddCmd appends a structured rule.
var AddCmd = &cobra.Command{
	Use:   "add",
	Short: "Append a rule built from match flags",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		spec := iptables.AddSpec{}
		spec.Protocol, _ = flags.GetString("protocol")
		spec.SrcIP, _ = flags.GetString("src")
		spec.DestIP, _ = flags.GetString("dst")
		spec.SrcPort, _ = flags.GetString("sport")
		spec.DestPort, _ = flags.GetString("dport")
		spec.Action, _ = flags.GetString("action")

		return withView(cmd, func(ctx context.Context, v *view.View) error {
			return v.AddRule(ctx, spec)
		})
	},
}

// DeleteCmd deletes a rule by number.
var DeleteCmd = &cobra.Command{
	Use:   "delete <rule-number>",
	Short: "Delete a rule by its number in the chain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withView(cmd, func(ctx context.Context, v *view.View) error {
			return v.DeleteRule(ctx, args[0])
		})
	},
}

// AddRawCmd sends a free-form rule.
var AddRawCmd = &cobra.Command{
	Use:   "add-raw -- <rule>",
	Short: "Append a rule written in iptables syntax",
	Long: `add-raw sends the rule text after "-t <table>" without further checks, e.g.

  iptpanel add-raw --table nat -- -A POSTROUTING -o eth0 -j MASQUERADE`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rule := strings.Join(args, " ")
		return withView(cmd, func(ctx context.Context, v *view.View) error {
			return v.AddRawRule(ctx, rule)
		})
	},
}

// withView loads the selected chain, runs action and prints the resulting
// view. The listing is printed even when action fails.
func withView(cmd *cobra.Command, action func(ctx context.Context, v *view.View) error) error {
	logger := logging.GetLogger()
	if logger == nil {
		logger = slog.Default()
	}

	v, err := newView(logger)
	if err != nil {
		return err
	}

	table, _ := cmd.Flags().GetString("table")
	chain, _ := cmd.Flags().GetString("chain")

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if err := v.Select(ctx, table, chain); err != nil {
		fmt.Fprint(cmd.OutOrStdout(), render.Snapshot(v.Snapshot()))
		return err
	}

	actionErr := action(ctx, v)
	fmt.Fprint(cmd.OutOrStdout(), render.Snapshot(v.Snapshot()))
	return actionErr
}

// watchList redraws the listing whenever it changes until interrupted.
func watchList(cmd *cobra.Command, interval time.Duration) error {
	logger := logging.GetLogger()
	if logger == nil {
		logger = slog.Default()
	}

	v, err := newView(logger)
	if err != nil {
		return err
	}
	table, _ := cmd.Flags().GetString("table")
	chain, _ := cmd.Flags().GetString("chain")
	// The watcher performs the first fetch as soon as it runs.
	if err := v.SetSelection(table, chain); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	watcher, err := view.NewWatcher(view.WatcherConfig{
		View:     v,
		Interval: interval,
		Logger:   logger,
		OnUpdate: func(_ context.Context, snap view.Snapshot) {
			fmt.Fprint(cmd.OutOrStdout(), render.Snapshot(snap))
		},
	})
	if err != nil {
		return err
	}
	watcher.Run(ctx)
	return nil
}

func newView(logger *slog.Logger) (*view.View, error) {
	address, err := serverAddress()
	if err != nil {
		return nil, err
	}
	c, err := client.New(address, nil, logger)
	if err != nil {
		return nil, err
	}
	return view.New(c, viper.GetInt("retries"), logger), nil
}

func addSelectionFlags(cmd *cobra.Command) {
	cmd.Flags().String("table", iptables.TableFilter, "Table: "+strings.Join(iptables.Tables, ", "))
	cmd.Flags().String("chain", "INPUT", "Built-in chain of the table")
}

func init() {
	for _, c := range []*cobra.Command{ListCmd, AddCmd, DeleteCmd, AddRawCmd} {
		addSelectionFlags(c)
	}

	ListCmd.Flags().Duration("watch", 0, "Refresh at this interval and redraw on change (e.g. 5s)")

	AddCmd.Flags().StringP("protocol", "p", "", "Protocol match (tcp, udp, icmp, ...)")
	AddCmd.Flags().StringP("src", "s", "", "Source address or CIDR")
	AddCmd.Flags().StringP("dst", "d", "", "Destination address or CIDR")
	AddCmd.Flags().String("sport", "", "Source port (tcp/udp only)")
	AddCmd.Flags().String("dport", "", "Destination port (tcp/udp only)")
	AddCmd.Flags().StringP("action", "j", "", "Target: "+strings.Join(iptables.Actions, ", "))
}
