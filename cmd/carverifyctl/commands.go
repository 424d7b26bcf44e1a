package main

import (
	"fmt"
	"io"
	"time"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/carverify/carverify/internal/maintenance"
	"github.com/carverify/carverify/internal/model"
	"github.com/carverify/carverify/internal/service"
	"github.com/carverify/carverify/internal/utils"
)

func maintenanceCmd() *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "maintenance",
		Short: "Show whether PPSR searches are paused for maintenance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			now := time.Now()
			if at != "" {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("--at: %w", err)
				}
				now = t
			}
			printMaintenance(cmd.OutOrStdout(), now, maintenance.Check(now))
			return nil
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "Check at this RFC3339 time instead of now")
	return cmd
}

func printMaintenance(w io.Writer, now time.Time, st maintenance.Status) {
	t := uitable.New()
	t.MaxColWidth = 80
	t.Wrap = true
	t.AddRow("CHECKED AT:", now.In(maintenance.Location()).Format(time.RFC1123))
	t.AddRow("BLOCKED:", st.Blocked)
	if st.Blocked {
		t.AddRow("WINDOW END:", st.WindowEnd.Format(time.RFC1123))
		t.AddRow("RETRY AFTER:", st.RetryAfter(now).String())
		t.AddRow("MESSAGE:", st.Message)
	}
	fmt.Fprintln(w, t)
}

func vinCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "vin <vin | plate state>",
		Short: "Validate a VIN, or resolve a registration plate to its VIN",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			if len(args) == 1 {
				id, err := model.NewVINIdentifier(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%s is a valid VIN\n", id.VIN)
				return nil
			}

			id, err := model.NewRegoIdentifier(args[0], args[1])
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			vin, ok := a.Gateway.LookupVIN(cmd.Context(), id.Plate, id.State)
			if !ok {
				return fmt.Errorf("no VIN found for %s", id)
			}
			fmt.Fprintf(w, "%s -> %s\n", id, vin)
			return nil
		},
	}
}

func pendingCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List orders that have not been completed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			reps, err := a.Reports.ListPending(cmd.Context(), limit)
			if err != nil {
				return err
			}
			printPending(cmd.OutOrStdout(), reps)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum orders to list")
	return cmd
}

func printPending(w io.Writer, reps []model.Report) {
	if len(reps) == 0 {
		fmt.Fprintln(w, "no pending orders")
		return
	}
	t := uitable.New()
	t.MaxColWidth = 40
	t.AddRow("ORDER", "VEHICLE", "TYPE", "ATTEMPTS", "CERT", "LAST ERROR", "CREATED")
	for i := range reps {
		r := &reps[i]
		lastErr := "-"
		if r.LastError != nil {
			lastErr = *r.LastError
		}
		t.AddRow(r.OrderID, r.Identifier().String(), r.Type, r.Attempts, r.HasCertificate(), lastErr, r.CreatedAt.Format(time.DateTime))
	}
	fmt.Fprintln(w, t)
}

func retryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <order-id>",
		Short: "Run fulfilment again for a pending order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			rep, err := a.Fulfiller.Fulfil(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("order %s still pending: %s", args[0], service.FailureCode(err))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "order %s is %s\n", rep.OrderID, rep.Status)
			return nil
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Opening the app applies the schema.
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "schema up to date (%s)\n", a.Cfg.DBDriver)
			return nil
		},
	}
}

func operatorKeyCmd() *cobra.Command {
	var cost int
	cmd := &cobra.Command{
		Use:   "operator-key",
		Short: "Generate an operator key and the hash for OPERATOR_KEY_HASH",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, hash, err := utils.NewOperatorKey(cost)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "key:  %s\n", key)
			fmt.Fprintf(w, "OPERATOR_KEY_HASH=%s\n", hash)
			return nil
		},
	}
	cmd.Flags().IntVar(&cost, "cost", 12, "bcrypt cost")
	return cmd
}
