package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/confra/outreach/internal/config"
	"github.com/confra/outreach/internal/crm"
	"github.com/confra/outreach/internal/followup"
	"github.com/confra/outreach/internal/store"
)

var (
	jobsListStatus string
	jobsListStage  string
	jobsListClient string
	jobsListLimit  int
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Follow-up job management commands",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List follow-up jobs",
	RunE:  runJobsList,
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <job_id>",
	Short: "Show job details",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsShow,
}

var jobsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show job statistics",
	RunE:  runJobsStats,
}

var jobsPauseCmd = &cobra.Command{
	Use:   "pause <job_id>",
	Short: "Pause a follow-up job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsPause,
}

var jobsResumeCmd = &cobra.Command{
	Use:   "resume <job_id>",
	Short: "Resume a paused follow-up job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsResume,
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <job_id>",
	Short: "Cancel a follow-up job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsCancel,
}

func init() {
	jobsListCmd.Flags().StringVar(&jobsListStatus, "status", "", "Filter by status (active, paused, completed, failed)")
	jobsListCmd.Flags().StringVar(&jobsListStage, "stage", "", "Filter by stage (stage1, stage2)")
	jobsListCmd.Flags().StringVar(&jobsListClient, "client", "", "Filter by client ID")
	jobsListCmd.Flags().IntVar(&jobsListLimit, "limit", 50, "Maximum number of jobs to show")

	jobsCmd.AddCommand(jobsListCmd, jobsShowCmd, jobsStatsCmd, jobsPauseCmd, jobsResumeCmd, jobsCancelCmd)
	rootCmd.AddCommand(jobsCmd)
}

func openStore() (*store.Store, error) {
	if cfgFile == "" {
		return nil, fmt.Errorf("config file is required (use -c flag)")
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	st, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	return st, nil
}

func runJobsList(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()

	filter := followup.ListFilter{
		Status:   followup.JobStatus(jobsListStatus),
		Stage:    crm.Stage(jobsListStage),
		ClientID: jobsListClient,
		Limit:    jobsListLimit,
	}

	jobs, err := st.ListJobs(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to list jobs: %w", err)
	}

	if len(jobs) == 0 {
		fmt.Println("No jobs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCLIENT\tSTAGE\tSTATUS\tATTEMPT\tNEXT SEND")
	fmt.Fprintln(w, "--\t------\t-----\t------\t-------\t---------")

	for _, job := range jobs {
		status := string(job.Status)
		if job.Paused {
			status = "paused"
		}
		next := "-"
		if !job.Terminal() {
			next = job.NextSendAt.Format("2006-01-02 15:04")
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\t%s\n",
			truncateID(job.ID),
			job.ClientID,
			job.Stage,
			status,
			job.CurrentAttempt,
			job.MaxAttempts,
			next,
		)
	}

	w.Flush()
	fmt.Printf("\nTotal: %d jobs\n", len(jobs))

	return nil
}

func runJobsShow(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	job, err := st.GetJob(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("failed to get job: %w", err)
	}
	if job == nil {
		return fmt.Errorf("job not found: %s", args[0])
	}

	fmt.Printf("Job: %s\n\n", job.ID)
	fmt.Printf("Client:      %s\n", job.ClientID)
	fmt.Printf("Conference:  %s\n", job.ConferenceID)
	fmt.Printf("Template:    %s\n", job.TemplateID)
	fmt.Printf("Stage:       %s\n", job.Stage)
	fmt.Printf("Status:      %s\n", job.Status)
	fmt.Printf("Attempt:     %d/%d\n", job.CurrentAttempt, job.MaxAttempts)
	fmt.Printf("Next Send:   %s\n", job.NextSendAt.Format(time.RFC3339))
	fmt.Printf("Created:     %s\n", job.CreatedAt.Format(time.RFC3339))
	fmt.Printf("Updated:     %s\n", job.UpdatedAt.Format(time.RFC3339))

	if job.Paused {
		fmt.Printf("\nPaused:      %s\n", job.PauseReason)
	}
	if job.LastSentAt != nil {
		fmt.Printf("Last Sent:   %s\n", job.LastSentAt.Format(time.RFC3339))
	}
	if job.LastError != "" {
		fmt.Printf("\nLast Error:\n  %s\n", job.LastError)
	}
	if job.CompletedAt != nil {
		fmt.Printf("\nCompleted:   %s\n", job.CompletedAt.Format(time.RFC3339))
		fmt.Printf("Reason:      %s\n", job.CompletionReason)
	}

	return nil
}

func runJobsStats(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	stats, err := st.JobStats(context.Background())
	if err != nil {
		return fmt.Errorf("failed to get job stats: %w", err)
	}

	fmt.Println("Job Statistics")
	fmt.Println("==============")
	fmt.Printf("Total:     %d\n", stats.Total)
	fmt.Printf("Active:    %d\n", stats.Active)
	fmt.Printf("Paused:    %d\n", stats.Paused)
	fmt.Printf("Completed: %d\n", stats.Completed)
	fmt.Printf("Failed:    %d\n", stats.Failed)

	if len(stats.Breakdown) > 0 {
		fmt.Println("\nActive by Stage")
		fmt.Println("---------------")
		for stage, n := range stats.Breakdown {
			fmt.Printf("%-10s %d\n", stage+":", n)
		}
	}

	return nil
}

func runJobsPause(cmd *cobra.Command, args []string) error {
	return mutateJob(args[0], func(job *followup.Job) error {
		if job.Terminal() {
			return fmt.Errorf("job %s is already %s", job.ID, job.Status)
		}
		job.Paused = true
		job.PauseReason = "paused via CLI"
		if job.Status == followup.StatusActive {
			job.Status = followup.StatusPaused
		}
		fmt.Printf("Job %s paused\n", job.ID)
		return nil
	})
}

func runJobsResume(cmd *cobra.Command, args []string) error {
	return mutateJob(args[0], func(job *followup.Job) error {
		if job.Terminal() {
			return fmt.Errorf("job %s is already %s", job.ID, job.Status)
		}
		job.Paused = false
		job.PauseReason = ""
		if job.Status == followup.StatusPaused {
			job.Status = followup.StatusActive
		}
		fmt.Printf("Job %s resumed\n", job.ID)
		return nil
	})
}

func runJobsCancel(cmd *cobra.Command, args []string) error {
	return mutateJob(args[0], func(job *followup.Job) error {
		if job.Terminal() {
			return fmt.Errorf("job %s is already %s", job.ID, job.Status)
		}
		now := time.Now()
		job.Status = followup.StatusCompleted
		job.CompletedAt = &now
		job.CompletionReason = "cancelled via CLI"
		fmt.Printf("Job %s cancelled\n", job.ID)
		return nil
	})
}

// mutateJob loads a job, applies the mutation, and persists it.
func mutateJob(id string, fn func(*followup.Job) error) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()

	job, err := st.GetJob(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to get job: %w", err)
	}
	if job == nil {
		return fmt.Errorf("job not found: %s", id)
	}

	if err := fn(job); err != nil {
		return err
	}

	job.UpdatedAt = time.Now()
	if err := st.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}

	return nil
}

func truncateID(id string) string {
	if len(id) <= 12 {
		return id
	}
	return id[:12] + "..."
}
