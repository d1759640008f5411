package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/foxzi/copymode/internal/app"
	"github.com/foxzi/copymode/internal/campaign"
	"github.com/foxzi/copymode/internal/config"
	"github.com/foxzi/copymode/internal/editor"
	"github.com/foxzi/copymode/internal/emailtable"
	"github.com/foxzi/copymode/internal/htmltable"
)

var (
	campaignListSearch string
	campaignListLimit  int
	campaignCreateTask string
	campaignCreateFile string
	campaignCreatePull bool
)

var campaignCmd = &cobra.Command{
	Use:   "campaign",
	Short: "Campaign management commands",
}

var campaignListCmd = &cobra.Command{
	Use:   "list",
	Short: "List campaigns",
	RunE:  runCampaignList,
}

var campaignShowCmd = &cobra.Command{
	Use:   "show <campaign_id>",
	Short: "Show a campaign and its copy table",
	Args:  cobra.ExactArgs(1),
	RunE:  runCampaignShow,
}

var campaignCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a campaign",
	Args:  cobra.ExactArgs(1),
	RunE:  runCampaignCreate,
}

var campaignPullCmd = &cobra.Command{
	Use:   "pull <campaign_id>",
	Short: "Replace the campaign copy with the tracker task description",
	Args:  cobra.ExactArgs(1),
	RunE:  runCampaignPull,
}

var campaignPushCmd = &cobra.Command{
	Use:   "push <campaign_id>",
	Short: "Write the campaign copy to the tracker task",
	Args:  cobra.ExactArgs(1),
	RunE:  runCampaignPush,
}

var campaignDeleteCmd = &cobra.Command{
	Use:   "delete <campaign_id>",
	Short: "Delete a campaign and its history",
	Args:  cobra.ExactArgs(1),
	RunE:  runCampaignDelete,
}

func init() {
	campaignListCmd.Flags().StringVar(&campaignListSearch, "search", "", "Filter by name or task id")
	campaignListCmd.Flags().IntVar(&campaignListLimit, "limit", 50, "Maximum number of campaigns to show")

	campaignCreateCmd.Flags().StringVar(&campaignCreateTask, "task", "", "Tracker task id")
	campaignCreateCmd.Flags().StringVarP(&campaignCreateFile, "file", "f", "", "Initial content file (markdown or HTML table, - for stdin)")
	campaignCreateCmd.Flags().BoolVar(&campaignCreatePull, "pull", false, "Pull the initial content from the tracker task")

	campaignCmd.AddCommand(campaignListCmd, campaignShowCmd, campaignCreateCmd,
		campaignPullCmd, campaignPushCmd, campaignDeleteCmd)
	rootCmd.AddCommand(campaignCmd)
}

// workspace is what the offline commands need from the storage file
type workspace struct {
	cfg     *config.Config
	stores  *app.Stores
	editors *editor.Manager
}

func openWorkspace() (*workspace, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	stores, err := app.OpenStores(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	// Commands print their own results; only problems are logged
	logger := app.SetupLogger(config.LoggingConfig{Level: "warn", Format: "text"})
	return &workspace{
		cfg:     cfg,
		stores:  stores,
		editors: app.NewEditors(cfg, stores, logger),
	}, nil
}

func (w *workspace) Close() error {
	return w.stores.Close()
}

func runCampaignList(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace()
	if err != nil {
		return err
	}
	defer ws.Close()

	campaigns, err := ws.stores.Campaigns.List(context.Background(), campaign.ListFilter{
		Search: campaignListSearch,
		Limit:  campaignListLimit,
	})
	if err != nil {
		return fmt.Errorf("failed to list campaigns: %w", err)
	}

	printCampaigns(cmd.OutOrStdout(), campaigns)
	return nil
}

func printCampaigns(out io.Writer, campaigns []*campaign.Campaign) {
	if len(campaigns) == 0 {
		fmt.Fprintln(out, "No campaigns")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tTASK\tROWS\tSTATE\tUPDATED")
	for _, c := range campaigns {
		task := c.TaskID
		if task == "" {
			task = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			c.ID,
			truncate(c.Name, 40),
			task,
			len(emailtable.Parse(c.Content)),
			syncState(c),
			humanize.Time(c.UpdatedAt),
		)
	}
	w.Flush()
}

func syncState(c *campaign.Campaign) string {
	switch {
	case c.SyncError != "":
		return "sync error"
	case c.Unsaved:
		return "unsaved"
	case c.LastSyncedAt != nil:
		return "synced"
	default:
		return "local"
	}
}

func runCampaignShow(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace()
	if err != nil {
		return err
	}
	defer ws.Close()

	c, err := ws.stores.Campaigns.Get(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("failed to get campaign: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "ID:       %s\n", c.ID)
	fmt.Fprintf(out, "Name:     %s\n", c.Name)
	if c.TaskID != "" {
		fmt.Fprintf(out, "Task:     %s\n", c.TaskID)
	}
	fmt.Fprintf(out, "State:    %s\n", syncState(c))
	fmt.Fprintf(out, "Created:  %s (%s)\n", c.CreatedAt.Format("2006-01-02 15:04:05"), humanize.Time(c.CreatedAt))
	fmt.Fprintf(out, "Updated:  %s (%s)\n", c.UpdatedAt.Format("2006-01-02 15:04:05"), humanize.Time(c.UpdatedAt))
	if c.LastSyncedAt != nil {
		fmt.Fprintf(out, "Synced:   %s\n", humanize.Time(*c.LastSyncedAt))
	}
	if c.SyncError != "" {
		fmt.Fprintf(out, "Error:    %s\n", c.SyncError)
	}
	fmt.Fprintln(out)

	rows := emailtable.Parse(c.Content)
	if len(rows) == 0 && c.Content != "" {
		fmt.Fprintln(out, c.Content)
		return nil
	}
	printRows(out, rows)
	return nil
}

func runCampaignCreate(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace()
	if err != nil {
		return err
	}
	defer ws.Close()

	var content string
	if campaignCreateFile != "" {
		content, err = readInput(cmd, campaignCreateFile)
		if err != nil {
			return err
		}
	}

	ctx := context.Background()
	c := &campaign.Campaign{
		Name:    args[0],
		TaskID:  campaignCreateTask,
		Content: htmltable.Normalize(content),
	}
	if err := ws.stores.Campaigns.Create(ctx, c); err != nil {
		return fmt.Errorf("failed to create campaign: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Campaign %s created\n", c.ID)

	if campaignCreatePull {
		if _, err := ws.editors.Pull(ctx, c.ID); err != nil {
			return fmt.Errorf("campaign created but pull failed: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Content pulled from tracker")
	}
	return nil
}

func runCampaignPull(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace()
	if err != nil {
		return err
	}
	defer ws.Close()

	sess, err := ws.editors.Pull(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("failed to pull campaign: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Pulled %d rows\n", len(sess.Table()))
	return nil
}

func runCampaignPush(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace()
	if err != nil {
		return err
	}
	defer ws.Close()

	if err := ws.editors.Save(context.Background(), args[0]); err != nil {
		return fmt.Errorf("failed to push campaign: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Campaign saved to tracker")
	return nil
}

func runCampaignDelete(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace()
	if err != nil {
		return err
	}
	defer ws.Close()

	ctx := context.Background()
	if err := ws.editors.Forget(ctx, args[0]); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: failed to delete history: %v\n", err)
	}
	if err := ws.stores.Campaigns.Delete(ctx, args[0]); err != nil {
		return fmt.Errorf("failed to delete campaign: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Campaign %s deleted\n", args[0])
	return nil
}
