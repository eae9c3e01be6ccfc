package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/stellarlinkco/nanoclaw/internal/config"
	"github.com/stellarlinkco/nanoclaw/internal/cron"
	"github.com/stellarlinkco/nanoclaw/internal/router"
	"github.com/stellarlinkco/nanoclaw/internal/state"
)

var rootCmd = &cobra.Command{
	Use:   "nanoclaw",
	Short: "nanoclaw - group chat AI assistant",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the router (channels + poll loop + cron)",
	RunE:  runRouter,
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize config and data directories",
	RunE:  runOnboard,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show nanoclaw status",
	RunE:  runStatus,
}

var groupsCmd = &cobra.Command{
	Use:   "groups",
	Short: "Manage registered groups",
}

var groupsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered groups",
	RunE:  runGroupsList,
}

var groupsAddCmd = &cobra.Command{
	Use:   "add <chat-jid> <name>",
	Short: "Register a group chat for routing",
	Args:  cobra.ExactArgs(2),
	RunE:  runGroupsAdd,
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Manage scheduled prompts",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List scheduled jobs",
	RunE:  runJobsList,
}

var jobsAddCmd = &cobra.Command{
	Use:   "add <name> <folder> <message>",
	Short: "Schedule a prompt against a group's session",
	Args:  cobra.ExactArgs(3),
	RunE:  runJobsAdd,
}

var jobsRemoveCmd = &cobra.Command{
	Use:   "rm <job-id>",
	Short: "Remove a scheduled job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsRemove,
}

var (
	triggerFlag  string
	channelFlag  string
	cronExprFlag string
	everyFlag    string
	deliverFlag  bool
)

func init() {
	groupsAddCmd.Flags().StringVar(&triggerFlag, "trigger", "", "Per-group trigger (defaults to @<assistant name>)")
	groupsAddCmd.Flags().StringVar(&channelFlag, "channel", "whatsapp", "Channel the group lives on (whatsapp or telegram)")
	groupsCmd.AddCommand(groupsListCmd, groupsAddCmd)

	jobsAddCmd.Flags().StringVar(&cronExprFlag, "cron", "", "Cron expression with seconds field, e.g. '0 0 9 * * *'")
	jobsAddCmd.Flags().StringVar(&everyFlag, "every", "", "Interval like 30m or 6h")
	jobsAddCmd.Flags().BoolVar(&deliverFlag, "deliver", true, "Deliver the result to the group's chat")
	jobsCmd.AddCommand(jobsListCmd, jobsAddCmd, jobsRemoveCmd)

	rootCmd.AddCommand(runCmd, onboardCmd, statusCmd, groupsCmd, jobsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runRouter(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	r, err := router.New(cfg)
	if err != nil {
		return fmt.Errorf("create router: %w", err)
	}
	return r.Run(context.Background())
}

func runOnboard(cmd *cobra.Command, args []string) error {
	if err := os.MkdirAll(config.ConfigDir(), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	cfgPath := config.ConfigPath()
	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		cfg := config.DefaultConfig()
		data, _ := json.MarshalIndent(cfg, "", "  ")
		if err := os.WriteFile(cfgPath, data, 0644); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Printf("Created config: %s\n", cfgPath)
	} else {
		fmt.Printf("Config already exists: %s\n", cfgPath)
	}

	for _, dir := range []string{config.DataDir(), config.StoreDir(), config.GroupsDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	fmt.Printf("Data directory ready: %s\n", config.DataDir())
	fmt.Println("\nNext steps:")
	fmt.Printf("  1. Edit %s (enable channels, set tokens)\n", cfgPath)
	fmt.Println("  2. Register a group: nanoclaw groups add <chat-jid> <name>")
	fmt.Println("  3. Start the router: nanoclaw run")
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Config: error (%v)\n", err)
		return nil
	}

	fmt.Printf("Config: %s\n", config.ConfigPath())
	fmt.Printf("Assistant: %s (trigger %q, reset %q)\n", cfg.Assistant.Name, cfg.Assistant.DefaultTrigger(), cfg.Assistant.ResetCommand)
	fmt.Printf("Agent runner: %s\n", runnerDisplay(cfg.Agent.Runner))
	fmt.Printf("Model: %s\n", cfg.Agent.Model)
	if cfg.Provider.APIKey != "" && len(cfg.Provider.APIKey) > 8 {
		masked := cfg.Provider.APIKey[:4] + "..." + cfg.Provider.APIKey[len(cfg.Provider.APIKey)-4:]
		fmt.Printf("API Key: %s\n", masked)
	} else if cfg.Provider.APIKey != "" {
		fmt.Println("API Key: set")
	} else {
		fmt.Println("API Key: not set")
	}
	fmt.Printf("WhatsApp: enabled=%v\n", cfg.Channels.WhatsApp.Enabled)
	fmt.Printf("Telegram: enabled=%v\n", cfg.Channels.Telegram.Enabled)

	groups, err := state.LoadGroups(config.DataDir())
	if err != nil {
		fmt.Printf("Groups: error (%v)\n", err)
		return nil
	}
	fmt.Printf("Groups: %d registered\n", len(groups))
	return nil
}

func runnerDisplay(r string) string {
	if r == "" {
		return "cli (default)"
	}
	return r
}

func runGroupsList(cmd *cobra.Command, args []string) error {
	groups, err := state.LoadGroups(config.DataDir())
	if err != nil {
		return fmt.Errorf("load groups: %w", err)
	}
	if len(groups) == 0 {
		fmt.Println("No groups registered. Use 'nanoclaw groups add <chat-jid> <name>'.")
		return nil
	}
	for _, jid := range state.SortedGroupJIDs(groups) {
		g := groups[jid]
		trigger := g.Trigger
		if trigger == "" {
			trigger = "(default)"
		}
		fmt.Printf("%s\n  name: %s  folder: %s  channel: %s  trigger: %s\n", jid, g.Name, g.Folder, g.Channel, trigger)
	}
	return nil
}

func runGroupsAdd(cmd *cobra.Command, args []string) error {
	jid, name := args[0], args[1]
	group := state.RegisteredGroup{
		Name:    name,
		Folder:  state.SanitizeFolder(name),
		Trigger: triggerFlag,
		Channel: channelFlag,
		AddedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if err := state.RegisterGroup(config.DataDir(), jid, group); err != nil {
		return fmt.Errorf("register group: %w", err)
	}

	if err := os.MkdirAll(filepath.Join(config.GroupsDir(), group.Folder), 0755); err != nil {
		return fmt.Errorf("create group folder: %w", err)
	}

	fmt.Printf("Registered %s as %q (folder %s)\n", jid, name, group.Folder)
	return nil
}

func jobsService() (*cron.Service, error) {
	s := cron.NewService(filepath.Join(config.DataDir(), "cron", "jobs.json"))
	if err := s.Load(); err != nil {
		return nil, fmt.Errorf("load jobs: %w", err)
	}
	return s, nil
}

func runJobsList(cmd *cobra.Command, args []string) error {
	s, err := jobsService()
	if err != nil {
		return err
	}
	jobs := s.List()
	if len(jobs) == 0 {
		fmt.Println("No jobs scheduled.")
		return nil
	}
	for _, j := range jobs {
		fmt.Printf("%s  %s\n  folder: %s  schedule: %s  enabled: %v  last: %s\n",
			j.ID, j.Name, j.Payload.Folder, scheduleDisplay(j.Schedule), j.Enabled, j.State.LastStatus)
	}
	return nil
}

func runJobsAdd(cmd *cobra.Command, args []string) error {
	name, folder, message := args[0], args[1], args[2]

	var schedule cron.Schedule
	switch {
	case cronExprFlag != "":
		schedule = cron.Schedule{Kind: "cron", Expr: cronExprFlag}
	case everyFlag != "":
		d, err := time.ParseDuration(everyFlag)
		if err != nil {
			return fmt.Errorf("parse --every: %w", err)
		}
		schedule = cron.Schedule{Kind: "every", EveryMs: d.Milliseconds()}
	default:
		return fmt.Errorf("one of --cron or --every is required")
	}

	s, err := jobsService()
	if err != nil {
		return err
	}
	job, err := s.Add(name, schedule, cron.Payload{
		Folder:  folder,
		Message: message,
		Deliver: deliverFlag,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Scheduled %s (%s)\n", job.Name, job.ID)
	return nil
}

func runJobsRemove(cmd *cobra.Command, args []string) error {
	s, err := jobsService()
	if err != nil {
		return err
	}
	if !s.Remove(args[0]) {
		return fmt.Errorf("job %s not found", args[0])
	}
	fmt.Println("Removed.")
	return nil
}

func scheduleDisplay(s cron.Schedule) string {
	switch s.Kind {
	case "cron":
		return "cron " + s.Expr
	case "every":
		return "every " + time.Duration(s.EveryMs*int64(time.Millisecond)).String()
	case "at":
		return "at " + strconv.FormatInt(s.AtMs, 10)
	}
	return s.Kind
}
