package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/confra/outreach/internal/campaign"
)

var campaignsCmd = &cobra.Command{
	Use:   "campaigns",
	Short: "Campaign management commands",
}

var campaignsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List campaigns",
	RunE:  runCampaignsList,
}

var campaignsShowCmd = &cobra.Command{
	Use:   "show <campaign_id>",
	Short: "Show campaign details",
	Args:  cobra.ExactArgs(1),
	RunE:  runCampaignsShow,
}

func init() {
	campaignsCmd.AddCommand(campaignsListCmd, campaignsShowCmd)
	rootCmd.AddCommand(campaignsCmd)
}

func runCampaignsList(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	campaigns, err := st.ListCampaigns(context.Background())
	if err != nil {
		return fmt.Errorf("failed to list campaigns: %w", err)
	}

	if len(campaigns) == 0 {
		fmt.Println("No campaigns found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tSENT\tFAILED\tRECIPIENTS")
	fmt.Fprintln(w, "--\t----\t------\t----\t------\t----------")

	for _, c := range campaigns {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\n",
			truncateID(c.ID),
			c.Name,
			c.Status,
			c.SentCount,
			c.FailedCount,
			len(c.Recipients),
		)
	}

	w.Flush()
	fmt.Printf("\nTotal: %d campaigns\n", len(campaigns))

	return nil
}

func runCampaignsShow(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	c, err := st.GetCampaign(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("failed to get campaign: %w", err)
	}
	if c == nil {
		return fmt.Errorf("campaign not found: %s", args[0])
	}

	fmt.Printf("Campaign: %s\n\n", c.ID)
	fmt.Printf("Name:         %s\n", c.Name)
	fmt.Printf("Organization: %s\n", c.OrganizationID)
	fmt.Printf("Template:     %s\n", c.TemplateID)
	fmt.Printf("Status:       %s\n", c.Status)
	fmt.Printf("Recipients:   %d\n", len(c.Recipients))
	fmt.Printf("Sent:         %d\n", c.SentCount)
	fmt.Printf("Failed:       %d\n", c.FailedCount)
	fmt.Printf("Created:      %s\n", c.CreatedAt.Format(time.RFC3339))

	if c.StartedAt != nil {
		fmt.Printf("Started:      %s\n", c.StartedAt.Format(time.RFC3339))
	}
	if c.FinishedAt != nil {
		fmt.Printf("Finished:     %s\n", c.FinishedAt.Format(time.RFC3339))
	}

	if c.FailedCount > 0 {
		fmt.Println("\nFailed Recipients")
		fmt.Println("-----------------")
		for i := range c.Recipients {
			r := &c.Recipients[i]
			if r.Status == campaign.RecipientFailed {
				fmt.Printf("%s: %s\n", r.Email, r.Error)
			}
		}
	}

	return nil
}
