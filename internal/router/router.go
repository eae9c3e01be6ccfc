// Package router implements the watermark-based poll loop that turns the
// stored message stream into per-group agent conversations: fetch past
// the global watermark, dispatch each message in timestamp order, then
// checkpoint state.
package router

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/stellarlinkco/nanoclaw/internal/agent"
	"github.com/stellarlinkco/nanoclaw/internal/bus"
	"github.com/stellarlinkco/nanoclaw/internal/channel"
	"github.com/stellarlinkco/nanoclaw/internal/config"
	"github.com/stellarlinkco/nanoclaw/internal/cron"
	"github.com/stellarlinkco/nanoclaw/internal/state"
	"github.com/stellarlinkco/nanoclaw/internal/store"
)

// RunnerFactory creates the agent runner (allows injection in tests).
type RunnerFactory func(cfg *config.Config) (agent.Runner, error)

// Options for creating a Router with custom dependencies.
type Options struct {
	RunnerFactory RunnerFactory
	SignalChan    chan os.Signal
	DataDir       string
	StorePath     string
	GroupsDir     string
}

// DefaultRunnerFactory picks the runner the config asks for.
func DefaultRunnerFactory(cfg *config.Config) (agent.Runner, error) {
	switch cfg.Agent.Runner {
	case "sdk":
		return agent.NewSDKRunner(cfg, config.GroupsDir())
	case "cli", "":
		return agent.NewCLIRunner(cfg.Agent.Command, cfg.Agent.Model), nil
	default:
		return nil, fmt.Errorf("unknown agent runner %q", cfg.Agent.Runner)
	}
}

// Router owns the process-wide mutable state and the poll loop. One
// instance per process; dispatch is strictly sequential, so one agent
// call is in flight at a time.
type Router struct {
	cfg       *config.Config
	store     *store.Store
	state     *state.Manager
	groups    map[string]state.RegisteredGroup
	runner    agent.Runner
	invokeMu  sync.Mutex // one agent call in flight across poll loop and cron
	bus       *bus.MessageBus
	channels  *channel.ChannelManager
	cron      *cron.Service
	groupsDir string

	signalChan chan os.Signal // for testing
}

// New assembles a Router with default options.
func New(cfg *config.Config) (*Router, error) {
	return NewWithOptions(cfg, Options{})
}

// NewWithOptions assembles a Router with custom options for testing.
func NewWithOptions(cfg *config.Config, opts Options) (*Router, error) {
	dataDir := opts.DataDir
	if dataDir == "" {
		dataDir = config.DataDir()
	}
	storePath := opts.StorePath
	if storePath == "" {
		storePath = filepath.Join(config.StoreDir(), "messages.db")
	}
	groupsDir := opts.GroupsDir
	if groupsDir == "" {
		groupsDir = config.GroupsDir()
	}

	r := &Router{
		cfg:        cfg,
		bus:        bus.NewMessageBus(config.DefaultBufSize),
		groupsDir:  groupsDir,
		signalChan: opts.SignalChan,
	}

	msgStore, err := store.Open(storePath)
	if err != nil {
		return nil, fmt.Errorf("open message store: %w", err)
	}
	r.store = msgStore

	r.state = state.NewManager(dataDir)
	if err := r.state.Load(); err != nil {
		_ = msgStore.Close()
		return nil, fmt.Errorf("load state: %w", err)
	}

	groups, err := state.LoadGroups(dataDir)
	if err != nil {
		_ = msgStore.Close()
		return nil, fmt.Errorf("load groups: %w", err)
	}
	r.groups = groups
	log.Printf("[router] state loaded, %d registered groups", len(groups))

	factory := opts.RunnerFactory
	if factory == nil {
		factory = DefaultRunnerFactory
	}
	runner, err := factory(cfg)
	if err != nil {
		_ = msgStore.Close()
		return nil, err
	}
	r.runner = runner

	chMgr, err := channel.NewChannelManager(cfg.Channels, r.bus)
	if err != nil {
		_ = msgStore.Close()
		return nil, fmt.Errorf("create channel manager: %w", err)
	}
	r.channels = chMgr

	r.cron = cron.NewService(filepath.Join(dataDir, "cron", "jobs.json"))
	r.cron.OnJob = r.runCronJob

	return r, nil
}

// Run starts channels, ingestion, and the poll loop, then blocks until a
// shutdown signal arrives.
func (r *Router) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go r.bus.DispatchOutbound(ctx)
	go r.ingestLoop(ctx)

	if err := r.channels.StartAll(ctx); err != nil {
		return fmt.Errorf("start channels: %w", err)
	}
	log.Printf("[router] channels started: %v", r.channels.EnabledChannels())

	if err := r.cron.Start(ctx); err != nil {
		log.Printf("[router] cron start warning: %v", err)
	}

	go r.pollLoop(ctx)

	log.Printf("[router] running (trigger: %s)", r.cfg.Assistant.DefaultTrigger())

	sigCh := r.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	}
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	log.Printf("[router] shutting down...")
	return r.Shutdown()
}

// ingestLoop appends inbound transport events to the message store. It
// runs concurrently with the poll loop and never blocks on it.
func (r *Router) ingestLoop(ctx context.Context) {
	for {
		select {
		case msg := <-r.bus.Inbound:
			err := r.store.RecordMessage(store.IncomingMessage{
				ID:           msg.MessageID,
				ChatJID:      msg.ChatID,
				ChatName:     msg.ChatName,
				SenderID:     msg.SenderID,
				SenderName:   msg.SenderName,
				FromMe:       msg.FromMe,
				Timestamp:    msg.Timestamp,
				Text:         msg.Text,
				ExtendedText: msg.ExtendedText,
				ImageCaption: msg.ImageCaption,
				VideoCaption: msg.VideoCaption,
			})
			if errors.Is(err, store.ErrNoMessageID) {
				continue // not addressable, drop without noise
			}
			if err != nil {
				log.Printf("[router] record message failed: %v", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// pollLoop runs cycles forever at the configured interval. Cycle errors
// are logged and swallowed; the affected range is re-fetched next cycle.
func (r *Router) pollLoop(ctx context.Context) {
	interval := time.Duration(r.cfg.Router.PollIntervalMs) * time.Millisecond
	for {
		if err := r.runCycle(ctx); err != nil {
			log.Printf("[router] cycle error: %v", err)
		}

		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return
		}
	}
}

// runCycle is one Fetch → Dispatch → Checkpoint pass.
func (r *Router) runCycle(ctx context.Context) error {
	jids := state.SortedGroupJIDs(r.groups)

	msgs, newWatermark, err := r.store.MessagesSince(jids, r.state.GlobalWatermark())
	if err != nil {
		return fmt.Errorf("fetch new messages: %w", err)
	}

	if len(msgs) > 0 {
		log.Printf("[router] %d new messages", len(msgs))
	}
	for _, msg := range msgs {
		if err := r.dispatch(ctx, msg); err != nil {
			return err
		}
	}

	// The global watermark tracks scanned, not acted-upon: it advances
	// even when every fetched message was discarded.
	r.state.AdvanceGlobal(newWatermark)
	if err := r.state.Save(); err != nil {
		return fmt.Errorf("checkpoint state: %w", err)
	}
	return nil
}

// dispatch routes one fetched message. Agent failures are absorbed here;
// store and persistence failures propagate so the cycle retries them.
func (r *Router) dispatch(ctx context.Context, msg store.Message) error {
	group, ok := r.groups[msg.ChatJID]
	if !ok {
		return nil // traffic from unregistered chats is expected
	}

	content := strings.TrimSpace(msg.Content)

	if strings.EqualFold(content, r.cfg.Assistant.ResetCommand) {
		had, err := r.state.ResetSession(group.Folder, time.Now())
		if err != nil {
			return fmt.Errorf("reset session for %s: %w", group.Name, err)
		}
		if had {
			log.Printf("[router] session cleared for %s", group.Name)
		}
		r.sendReply(group, msg.ChatJID, "Conversation cleared. Starting fresh!")
		return nil
	}

	if !triggerMatches(content, r.triggerFor(group)) {
		return nil
	}

	// Catch-up window: everything in this chat since the last message
	// that reached the agent, not just the triggering message.
	missed, err := r.store.ChatMessagesSince(msg.ChatJID, r.state.ChatWatermark(msg.ChatJID))
	if err != nil {
		return fmt.Errorf("fetch catch-up for %s: %w", group.Name, err)
	}

	prompt := renderPrompt(missed)
	if prompt == "" {
		// Nothing to say; leave the watermark so the window stays
		// eligible for the next trigger.
		return nil
	}

	log.Printf("[router] processing trigger in %s (%d messages)", group.Name, len(missed))

	outcome, err := r.invokeAgent(ctx, group, prompt)
	if err != nil {
		if errors.Is(err, errPersistSession) {
			return err
		}
		// Non-fatal: the next trigger's catch-up window re-includes the
		// unanswered content. No automatic retry.
		log.Printf("[router] agent error for %s: %v", group.Name, err)
	}

	// The watermark takes the triggering message's own timestamp, even
	// on agent failure, so a bad prompt can never wedge the chat.
	r.state.AdvancePerChat(msg.ChatJID, msg.Timestamp)

	if outcome != nil && outcome.Result != "" {
		r.sendReply(group, msg.ChatJID, outcome.Result)
	}
	return nil
}

// errPersistSession marks a session-save failure inside invokeAgent.
// Dispatch aborts the cycle on it so the message is retried, where plain
// agent failures are absorbed.
var errPersistSession = errors.New("persist session")

// invokeAgent runs one agent call for a group and persists any newly
// issued session handle before releasing the lock. Invocations are
// serialized process-wide: the poll loop and cron fires may never run
// the agent, or rotate the same group's handle, concurrently.
func (r *Router) invokeAgent(ctx context.Context, group state.RegisteredGroup, prompt string) (*agent.Outcome, error) {
	r.invokeMu.Lock()
	defer r.invokeMu.Unlock()

	resume, _ := r.state.ResolveSession(group.Folder)
	outcome, err := r.runner.Invoke(ctx, agent.Request{
		Prompt: prompt,
		Dir:    filepath.Join(r.groupsDir, group.Folder),
		Resume: resume,
	})
	if err != nil {
		return nil, err
	}

	if outcome != nil && outcome.SessionID != "" {
		if err := r.state.UpdateSession(group.Folder, outcome.SessionID); err != nil {
			return nil, fmt.Errorf("%w for %s: %v", errPersistSession, group.Name, err)
		}
	}
	return outcome, nil
}

func (r *Router) triggerFor(group state.RegisteredGroup) string {
	if group.Trigger != "" {
		return group.Trigger
	}
	return r.cfg.Assistant.DefaultTrigger()
}

func triggerMatches(content, trigger string) bool {
	if trigger == "" {
		return false
	}
	return strings.Contains(strings.ToLower(content), strings.ToLower(trigger))
}

// renderPrompt formats the catch-up window as one line per message,
// ascending by timestamp.
func renderPrompt(msgs []store.Message) string {
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		lines = append(lines, fmt.Sprintf("[%s] %s: %s", localClock(m.Timestamp), m.SenderName, m.Content))
	}
	return strings.Join(lines, "\n")
}

func localClock(timestamp string) string {
	ts, err := store.ParseTimestamp(timestamp)
	if err != nil {
		return timestamp
	}
	return ts.Local().Format("15:04:05")
}

func (r *Router) sendReply(group state.RegisteredGroup, chatJID, text string) {
	r.bus.Outbound <- bus.OutboundMessage{
		Channel: group.Channel,
		ChatID:  chatJID,
		Content: r.cfg.Assistant.Name + ": " + text,
	}
}

// runCronJob executes one scheduled prompt against its group's live
// session and optionally delivers the result to the group's chat.
func (r *Router) runCronJob(job cron.Job) (string, error) {
	chatJID, group, ok := r.groupByFolder(job.Payload.Folder)
	if !ok {
		return "", fmt.Errorf("no registered group with folder %q", job.Payload.Folder)
	}

	outcome, err := r.invokeAgent(context.Background(), group, job.Payload.Message)
	if err != nil {
		return "", err
	}
	if outcome == nil {
		return "", nil
	}

	if job.Payload.Deliver && outcome.Result != "" {
		r.sendReply(group, chatJID, outcome.Result)
	}
	return outcome.Result, nil
}

func (r *Router) groupByFolder(folder string) (string, state.RegisteredGroup, bool) {
	for _, jid := range state.SortedGroupJIDs(r.groups) {
		if g := r.groups[jid]; g.Folder == folder {
			return jid, g, true
		}
	}
	return "", state.RegisteredGroup{}, false
}

// Cron exposes the schedule service to the CLI.
func (r *Router) Cron() *cron.Service {
	return r.cron
}

func (r *Router) Shutdown() error {
	r.cron.Stop()
	_ = r.channels.StopAll()
	if r.runner != nil {
		r.runner.Close()
	}
	if err := r.state.Save(); err != nil {
		log.Printf("[router] final state save warning: %v", err)
	}
	if err := r.store.Close(); err != nil {
		log.Printf("[router] close store warning: %v", err)
	}
	log.Printf("[router] shutdown complete")
	return nil
}
