package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stellarlinkco/nanoclaw/internal/config"
	"github.com/stellarlinkco/nanoclaw/internal/cron"
	"github.com/stellarlinkco/nanoclaw/internal/state"
)

func isolateHome(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Setenv("USERPROFILE", tmpDir)
	t.Setenv("NANOCLAW_API_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	return tmpDir
}

func TestRunOnboard(t *testing.T) {
	isolateHome(t)

	if err := runOnboard(nil, nil); err != nil {
		t.Fatalf("runOnboard error: %v", err)
	}

	if _, err := os.Stat(config.ConfigPath()); err != nil {
		t.Errorf("config not created: %v", err)
	}
	for _, dir := range []string{config.DataDir(), config.StoreDir(), config.GroupsDir()} {
		if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
			t.Errorf("directory %s not created", dir)
		}
	}

	var cfg config.Config
	data, err := os.ReadFile(config.ConfigPath())
	if err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("config is not valid JSON: %v", err)
	}
}

func TestRunOnboard_AlreadyExists(t *testing.T) {
	isolateHome(t)

	if err := os.MkdirAll(config.ConfigDir(), 0755); err != nil {
		t.Fatal(err)
	}
	custom := []byte(`{"assistant":{"name":"Custom"}}`)
	if err := os.WriteFile(config.ConfigPath(), custom, 0644); err != nil {
		t.Fatal(err)
	}

	if err := runOnboard(nil, nil); err != nil {
		t.Fatalf("runOnboard error: %v", err)
	}

	data, err := os.ReadFile(config.ConfigPath())
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != string(custom) {
		t.Error("onboard must not overwrite an existing config")
	}
}

func TestRunStatus_NoConfig(t *testing.T) {
	isolateHome(t)

	// Status should report, not fail, when nothing is set up yet.
	if err := runStatus(nil, nil); err != nil {
		t.Errorf("runStatus error: %v", err)
	}
}

func TestGroupsAddAndList(t *testing.T) {
	isolateHome(t)
	triggerFlag = "@bot"
	channelFlag = "telegram"
	defer func() { triggerFlag = ""; channelFlag = "whatsapp" }()

	if err := runGroupsAdd(nil, []string{"tg:42", "Dev Team"}); err != nil {
		t.Fatalf("runGroupsAdd error: %v", err)
	}

	groups, err := state.LoadGroups(config.DataDir())
	if err != nil {
		t.Fatal(err)
	}
	g, ok := groups["tg:42"]
	if !ok {
		t.Fatal("group not registered")
	}
	if g.Folder != "dev-team" {
		t.Errorf("folder = %q, want dev-team", g.Folder)
	}
	if g.Trigger != "@bot" || g.Channel != "telegram" {
		t.Errorf("group = %+v", g)
	}
	if fi, err := os.Stat(filepath.Join(config.GroupsDir(), "dev-team")); err != nil || !fi.IsDir() {
		t.Error("group folder not created")
	}

	if err := runGroupsList(nil, nil); err != nil {
		t.Errorf("runGroupsList error: %v", err)
	}
}

func TestJobsAddAndRemove(t *testing.T) {
	isolateHome(t)
	everyFlag = "30m"
	defer func() { everyFlag = "" }()

	if err := runJobsAdd(nil, []string{"digest", "dev-team", "post the morning digest"}); err != nil {
		t.Fatalf("runJobsAdd error: %v", err)
	}

	s, err := jobsService()
	if err != nil {
		t.Fatal(err)
	}
	jobs := s.List()
	if len(jobs) != 1 {
		t.Fatalf("jobs = %d, want 1", len(jobs))
	}
	if jobs[0].Schedule.EveryMs != (30 * time.Minute).Milliseconds() {
		t.Errorf("every_ms = %d", jobs[0].Schedule.EveryMs)
	}
	if jobs[0].Payload.Folder != "dev-team" {
		t.Errorf("folder = %q", jobs[0].Payload.Folder)
	}

	if err := runJobsRemove(nil, []string{jobs[0].ID}); err != nil {
		t.Fatalf("runJobsRemove error: %v", err)
	}
	if err := runJobsRemove(nil, []string{"nonexistent"}); err == nil {
		t.Error("expected error removing nonexistent job")
	}
}

func TestJobsAdd_RequiresSchedule(t *testing.T) {
	isolateHome(t)
	cronExprFlag, everyFlag = "", ""

	if err := runJobsAdd(nil, []string{"x", "f", "m"}); err == nil {
		t.Error("expected error without --cron or --every")
	}
}

func TestScheduleDisplay(t *testing.T) {
	cases := []struct {
		in   cron.Schedule
		want string
	}{
		{cron.Schedule{Kind: "cron", Expr: "0 0 9 * * *"}, "cron 0 0 9 * * *"},
		{cron.Schedule{Kind: "every", EveryMs: 60000}, "every 1m0s"},
		{cron.Schedule{Kind: "at", AtMs: 12345}, "at 12345"},
	}
	for _, tc := range cases {
		if got := scheduleDisplay(tc.in); got != tc.want {
			t.Errorf("scheduleDisplay(%+v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestRunnerDisplay(t *testing.T) {
	if got := runnerDisplay(""); got != "cli (default)" {
		t.Errorf("runnerDisplay(\"\") = %q", got)
	}
	if got := runnerDisplay("sdk"); got != "sdk" {
		t.Errorf("runnerDisplay(sdk) = %q", got)
	}
}
