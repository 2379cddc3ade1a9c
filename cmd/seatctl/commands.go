package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	seatbridge "github.com/opengovern/seat-bridge"
)

// EnvAdminPassword supplies the lock password when --password is not given.
const EnvAdminPassword = "SEATBRIDGE_ADMIN_PASSWORD"

func performance(args []string) seatbridge.Performance {
	return seatbridge.Performance{Group: args[0], Day: args[1], Timeslot: args[2]}
}

func (a *app) callCmd() *cobra.Command {
	var useCache bool
	cmd := &cobra.Command{
		Use:   "call <function> [params-json]",
		Short: "Invoke any operation by its wire name with a JSON parameter array",
		Example: `  seatctl call getSeatData '["見本演劇","1","A",false]'
  seatctl call testApi`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			op, ok := seatbridge.ParseOperation(args[0])
			if !ok {
				return fmt.Errorf("unknown function %q (see seatctl ops)", args[0])
			}
			var params []any
			if len(args) == 2 {
				if err := json.Unmarshal([]byte(args[1]), &params); err != nil {
					return fmt.Errorf("params must be a JSON array: %w", err)
				}
			}
			if err := a.open(true); err != nil {
				return err
			}
			return a.print(a.bridge.Call(cmd.Context(), op, useCache, params...))
		},
	}
	cmd.Flags().BoolVar(&useCache, "cache", false, "allow a cached answer for read operations")
	return cmd
}

func (a *app) seatsCmd() *cobra.Command {
	var admin bool
	cmd := &cobra.Command{
		Use:   "seats <group> <day> <timeslot>",
		Short: "List seat states of one showing",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(true); err != nil {
				return err
			}
			return a.print(a.bridge.GetSeatDataMinimal(cmd.Context(), performance(args), admin).Result)
		},
	}
	cmd.Flags().BoolVar(&admin, "admin", false, "include reservation names")
	return cmd
}

func (a *app) reserveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reserve <group> <day> <timeslot> <seat>...",
		Short: "Reserve one or more available seats",
		Args:  cobra.MinimumNArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(true); err != nil {
				return err
			}
			return a.print(a.bridge.ReserveSeats(cmd.Context(), performance(args), args[3:]))
		},
	}
}

func (a *app) checkInCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "checkin <group> <day> <timeslot> <seat>...",
		Short: "Check in reserved or walk-in seats",
		Args:  cobra.MinimumNArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(true); err != nil {
				return err
			}
			p, seats := performance(args), args[3:]
			if len(seats) == 1 {
				return a.print(a.bridge.CheckInSeat(cmd.Context(), p, seats[0]))
			}
			return a.print(a.bridge.CheckInMultipleSeats(cmd.Context(), p, seats))
		},
	}
}

func (a *app) walkInCmd() *cobra.Command {
	var (
		count       int
		consecutive bool
	)
	cmd := &cobra.Command{
		Use:   "walkin <group> <day> <timeslot>",
		Short: "Assign seats to walk-in guests",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(true); err != nil {
				return err
			}
			p := performance(args)
			switch {
			case consecutive:
				return a.print(a.bridge.AssignWalkInConsecutiveSeats(cmd.Context(), p, count))
			case count == 1:
				return a.print(a.bridge.AssignWalkInSeat(cmd.Context(), p))
			default:
				return a.print(a.bridge.AssignWalkInSeats(cmd.Context(), p, count))
			}
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 1, "number of seats")
	cmd.Flags().BoolVar(&consecutive, "consecutive", false, "seats must be adjacent in one row")
	return cmd
}

func (a *app) lockCmd() *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:       "lock [on|off]",
		Short:     "Show or change the system maintenance lock",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(true); err != nil {
				return err
			}
			if len(args) == 0 {
				return a.print(a.bridge.GetSystemLock(cmd.Context()))
			}
			if password == "" {
				password = os.Getenv(EnvAdminPassword)
			}
			return a.print(a.bridge.SetSystemLock(cmd.Context(), args[0] == "on", password))
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "admin password (default $"+EnvAdminPassword+")")
	return cmd
}

func (a *app) timeslotsCmd() *cobra.Command {
	var full bool
	cmd := &cobra.Command{
		Use:   "timeslots [group]",
		Short: "List the showings of a group, or every sold-out showing with --full",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if full {
				if err := a.open(true); err != nil {
					return err
				}
				return a.print(a.bridge.GetFullCapacityTimeslots(cmd.Context()))
			}
			if len(args) != 1 {
				return fmt.Errorf("a group is required unless --full is set")
			}
			if err := a.open(true); err != nil {
				return err
			}
			return a.print(a.bridge.GetAllTimeslotsForGroup(cmd.Context(), args[0]))
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "list sold-out showings")
	return cmd
}

func (a *app) testCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Probe the configured backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(false); err != nil {
				return err
			}
			return a.print(a.bridge.TestAPI(cmd.Context()))
		},
	}
}

func (a *app) opsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ops",
		Short: "List every operation with its routing and cache properties",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "FUNCTION\tMUTATING\tLEGACY ONLY\tPRIVILEGED\tNO DEADLINE")
			for _, op := range seatbridge.Operations() {
				fmt.Fprintf(w, "%s\t%t\t%t\t%t\t%t\n",
					op.FunctionName(), op.Mutating(), op.LegacyOnly(), op.Privileged(), op.LongRunning())
			}
			return w.Flush()
		},
	}
}

func (a *app) spoolCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "spool",
		Short: "Inspect or replay operations queued while the backends were unreachable",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if a.spoolPath == "" {
				return fmt.Errorf("--spool is required")
			}
			return nil
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Print the queued operations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ops, err := newSpool(a.spoolPath).Operations()
			if err != nil {
				return err
			}
			enc := json.NewEncoder(a.out)
			for _, op := range ops {
				if err := enc.Encode(op); err != nil {
					return err
				}
			}
			return nil
		},
	}, &cobra.Command{
		Use:   "replay",
		Short: "Send queued operations in order, keeping those that still cannot be delivered",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Replays run without the queue so a failed send is kept in
			// place instead of being queued a second time.
			if err := a.open(false); err != nil {
				return err
			}
			return a.replay(cmd)
		},
	})
	return cmd
}

func (a *app) replay(cmd *cobra.Command) error {
	ops, err := a.spool.Operations()
	if err != nil {
		return err
	}
	var (
		kept          []seatbridge.OfflineOperation
		sent, refused int
	)
	for _, queued := range ops {
		op, ok := seatbridge.ParseOperation(queued.FunctionName)
		if !ok {
			a.logger.Warn("dropping spooled operation with unknown function", "id", queued.ID, "function", queued.FunctionName)
			continue
		}
		res := a.bridge.Call(cmd.Context(), op, false, queued.Params...)
		switch {
		case res.Success:
			sent++
		case !res.Kind.FallbackWorthy():
			// The backend answered and refused; sending again cannot help.
			refused++
			a.logger.Warn("spooled operation refused", "id", queued.ID, "function", queued.FunctionName, "error", res.Error)
		default:
			kept = append(kept, queued)
		}
	}
	if err := a.spool.Replace(kept); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "sent %d, refused %d, still queued %d\n", sent, refused, len(kept))
	return nil
}
