// fleetctl is the operator CLI for the render fleet. It talks straight
// to the object store; there is no control-plane service to be up.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"renderfleet/internal/config"
	"renderfleet/internal/jobs"
	"renderfleet/internal/ports"
	"renderfleet/internal/storage"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

type app struct {
	configPath string
	store      ports.ObjectStore
}

func (a *app) connect(ctx context.Context) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	store, err := storage.NewStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	a.store = store
	return nil
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "fleetctl",
		Short:         "Operate the render fleet job queue",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.connect(cmd.Context())
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "path to YAML config file")

	root.AddCommand(
		newSubmitCmd(a),
		newListCmd(a),
		newShowCmd(a),
		newCancelCmd(a),
	)
	return root
}

func newSubmitCmd(a *app) *cobra.Command {
	var (
		channel    string
		jobID      string
		units      int
		configFile string
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a pending render job",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if jobID == "" {
				jobID = "job-" + uuid.NewString()
			}

			jobConfig := json.RawMessage(fmt.Sprintf(`{"total_units":%d}`, units))
			if configFile != "" {
				data, err := os.ReadFile(configFile)
				if err != nil {
					return err
				}
				jobConfig = data
			}
			if _, err := jobs.TotalUnits(jobConfig); err != nil {
				return err
			}

			paths := jobs.Paths{Channel: channel, JobID: jobID}
			rec := jobs.Record{
				JobID:   jobID,
				Channel: channel,
				Status:  jobs.StatusPending,
				Config:  jobConfig,
			}
			body, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			// create-if-absent so a retried submit cannot clobber a job
			// that already started rendering
			if err := a.store.CreateObject(ctx, paths.Status(), body); err != nil {
				if ports.IsExists(err) {
					return fmt.Errorf("job %s/%s already exists", channel, jobID)
				}
				return err
			}

			fmt.Printf("submitted %s/%s\n", channel, jobID)
			return nil
		},
	}

	cmd.Flags().StringVar(&channel, "channel", "", "channel the job belongs to")
	cmd.Flags().StringVar(&jobID, "job-id", "", "job id (generated when omitted)")
	cmd.Flags().IntVar(&units, "units", 0, "number of render units")
	cmd.Flags().StringVar(&configFile, "config-file", "", "full job config JSON (overrides --units)")
	_ = cmd.MarkFlagRequired("channel")
	return cmd
}

func newListCmd(a *app) *cobra.Command {
	var statusFilter string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs and their statuses",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			keys, err := a.store.ListObjects(ctx, jobs.ScanPrefix())
			if err != nil {
				return err
			}

			type row struct {
				paths jobs.Paths
				rec   jobs.Record
			}
			var rows []row
			for _, key := range keys {
				if !jobs.IsStatusKey(key) {
					continue
				}
				paths, ok := jobs.PathsFromStatusKey(key)
				if !ok {
					continue
				}
				data, err := a.store.ReadObject(ctx, key)
				if err != nil {
					continue
				}
				var rec jobs.Record
				if json.Unmarshal(data, &rec) != nil {
					continue
				}
				if statusFilter != "" && string(rec.Status) != statusFilter {
					continue
				}
				rows = append(rows, row{paths: paths, rec: rec})
			}
			sort.Slice(rows, func(i, j int) bool {
				if rows[i].paths.Channel != rows[j].paths.Channel {
					return rows[i].paths.Channel < rows[j].paths.Channel
				}
				return rows[i].paths.JobID < rows[j].paths.JobID
			})

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CHANNEL\tJOB\tSTATUS\tOWNER\tCOMPLETED")
			for _, r := range rows {
				completed := ""
				if r.rec.CompletedAt != nil {
					completed = r.rec.CompletedAt.Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					r.paths.Channel, r.paths.JobID, r.rec.Status, r.rec.OwnerWorkerID, completed)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&statusFilter, "status", "", "only show jobs with this status")
	return cmd
}

func newShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show CHANNEL JOB_ID",
		Short: "Show one job's record, checkpoint and lease",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			paths := jobs.Paths{Channel: args[0], JobID: args[1]}

			out := map[string]any{}

			data, err := a.store.ReadObject(ctx, paths.Status())
			if err != nil {
				if ports.IsNotFound(err) {
					return fmt.Errorf("job %s/%s not found", paths.Channel, paths.JobID)
				}
				return err
			}
			var rec jobs.Record
			if err := json.Unmarshal(data, &rec); err != nil {
				return fmt.Errorf("job record unparseable: %w", err)
			}
			out["record"] = rec

			if data, err := a.store.ReadObject(ctx, paths.Progress()); err == nil {
				var cp jobs.Checkpoint
				if json.Unmarshal(data, &cp) == nil {
					out["progress"] = cp
				}
			}
			if data, err := a.store.ReadObject(ctx, paths.Lease()); err == nil {
				var l jobs.Lease
				if json.Unmarshal(data, &l) == nil {
					out["lease"] = l
				}
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
}

func newCancelCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel CHANNEL JOB_ID",
		Short: "Request cancellation of a job",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			paths := jobs.Paths{Channel: args[0], JobID: args[1]}

			data, err := a.store.ReadObject(ctx, paths.Status())
			if err != nil {
				if ports.IsNotFound(err) {
					return fmt.Errorf("job %s/%s not found", paths.Channel, paths.JobID)
				}
				return err
			}
			var rec jobs.Record
			if err := json.Unmarshal(data, &rec); err != nil {
				return fmt.Errorf("job record unparseable: %w", err)
			}
			if rec.Status.Terminal() {
				return fmt.Errorf("job %s/%s is already %s", paths.Channel, paths.JobID, rec.Status)
			}

			// A running worker observes the cancelled record at its next
			// unit boundary and stops; a pending job just never starts.
			rec.Status = jobs.StatusCancelled
			now := time.Now().UTC()
			rec.CompletedAt = &now
			body, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			if err := a.store.PutObject(ctx, paths.Status(), body); err != nil {
				return err
			}

			fmt.Printf("cancelled %s/%s\n", paths.Channel, paths.JobID)
			return nil
		},
	}
}
