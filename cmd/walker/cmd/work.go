package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/bryanowens-dev/walker/internal/adapters/browser"
	"github.com/bryanowens-dev/walker/internal/adapters/chat"
	"github.com/bryanowens-dev/walker/internal/adapters/cli"
	"github.com/bryanowens-dev/walker/internal/adapters/forge"
	"github.com/bryanowens-dev/walker/internal/adapters/git"
	"github.com/bryanowens-dev/walker/internal/adapters/llm"
	"github.com/bryanowens-dev/walker/internal/adapters/search"
	"github.com/bryanowens-dev/walker/internal/adapters/state"
	"github.com/bryanowens-dev/walker/internal/config"
	"github.com/bryanowens-dev/walker/internal/coord"
	"github.com/bryanowens-dev/walker/internal/core"
	"github.com/bryanowens-dev/walker/internal/logging"
	"github.com/bryanowens-dev/walker/internal/service/agent"
	"github.com/bryanowens-dev/walker/internal/service/costs"
	"github.com/bryanowens-dev/walker/internal/service/devserver"
	"github.com/bryanowens-dev/walker/internal/service/pipeline"
	"github.com/bryanowens-dev/walker/internal/service/queue"
	"github.com/bryanowens-dev/walker/internal/service/report"
	"github.com/bryanowens-dev/walker/internal/service/thread"
	"github.com/bryanowens-dev/walker/internal/service/validate"
	"github.com/bryanowens-dev/walker/internal/service/visualdiff"
	"github.com/bryanowens-dev/walker/internal/service/webctx"
)

var workCmd = &cobra.Command{
	Use:   "work",
	Short: "Run task pipelines from the queue",
	Long: `Start a worker process: consume queued tasks, and for each one clone
the repository, drive the coding agent through planning, implementation,
review and tests, and finalize the draft pull request.

A worker runs up to worker.concurrency tasks at once. Run more worker
processes to scale out; the queue's consumer group spreads tasks across
them.

Examples:
  # One worker with the default config
  walker work

  # Scale a single process to four concurrent tasks
  WALKER_WORKER_CONCURRENCY=4 walker work`,
	RunE: runWork,
}

func init() {
	rootCmd.AddCommand(workCmd)
}

func runWork(_ *cobra.Command, _ []string) error {
	logger := newLogger()

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	logger = configLogger(cfg)

	ctx, stop := signalContext()
	defer stop()

	rdb, store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	archive, err := state.OpenArchive(cfg.State.ArchivePath)
	if err != nil {
		return fmt.Errorf("opening task archive: %w", err)
	}
	defer archive.Close()

	textGen, err := llm.NewFromAPIKey(cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.MaxTokens, logger)
	if err != nil {
		return err
	}

	// Screenshots and web context degrade to off without a browser.
	var chromium *browser.Chromium
	if b, berr := browser.NewChromium("", logger); berr != nil {
		logger.Warn("no chromium found, screenshots and web context disabled", "error", berr)
	} else {
		chromium = b
	}

	env := &taskEnv{
		cfg:      cfg,
		store:    store,
		selector: coord.NewSelector(cfg.Dogs, store, logger),
		cancels:  coord.NewCancelManager(store, logger),
		chat:     chat.NewClient(cfg.Chat.BotToken, logger),
		textGen:  textGen,
		browser:  chromium,
		search:   search.New(logger),
		reports:  report.NewWriter(cfg.State.ReportDir, logger),
		clock:    core.SystemClock{},
		logger:   logger,
	}

	worker, err := queue.NewWorker(queue.WorkerDeps{
		Redis:       rdb,
		Stream:      cfg.Worker.Queue,
		Concurrency: cfg.Worker.Concurrency,
		Build:       env.newRunner,
		Chat:        env.chat,
		Archive:     archive,
		Clock:       env.clock,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	// Dogs that have not accepted their repo invitation cannot push;
	// one sweeper per worker process keeps the roster usable.
	sweeper := queue.NewInvitationSweeper(
		forge.NewClient(cfg.Forge.Repo, cfg.Forge.Token),
		cfg.Dogs,
		duration(cfg.Worker.InvitationInterval),
		logger,
	)

	logger.Info("worker started",
		"queue", cfg.Worker.Queue,
		"concurrency", cfg.Worker.Concurrency,
		"work_dir", cfg.Worker.WorkDir,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return worker.Run(gctx) })
	g.Go(func() error { return sweeper.Run(gctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("worker stopped")
	return nil
}

// taskEnv is the process-wide state shared by every task runner.
type taskEnv struct {
	cfg      *config.Config
	store    *coord.Store
	selector *coord.Selector
	cancels  *coord.CancelManager
	chat     *chat.Client
	textGen  *llm.Generator
	browser  *browser.Chromium // nil when none installed
	search   *search.DuckDuckGo
	reports  *report.Writer
	clock    core.Clock
	logger   *logging.Logger
}

// newRunner assembles the per-task object graph: workspace, forge
// client under the dog's credential, thread channel, agent façade and
// pipeline. The returned cleanup removes the working tree.
func (e *taskEnv) newRunner(_ context.Context, payload core.TaskPayload) (queue.Runner, func(), error) {
	cfg := e.cfg
	dog, ok := cfg.Dogs.ByName(payload.DogName)
	if !ok {
		return nil, nil, core.ErrValidation(core.CodeNoDogs,
			fmt.Sprintf("dog %q is not on the roster", payload.DogName))
	}

	dir := filepath.Join(cfg.Worker.WorkDir, payload.TaskID)
	shots := dir + ".shots"
	tree := git.NewWorkspace(dir, cfg.Forge.Repo, dog, cfg.Forge.BaseBranch, e.logger)

	// PR creation and pushes run as the dog, not as the orchestrator.
	dogForge := forge.NewClient(cfg.Forge.Repo, dog.Credential)
	media := forge.NewMedia(dogForge, cfg.Forge.MediaBranch, cfg.Forge.BaseBranch)

	ledger := costs.NewLedger(cfg.Costs.WarnPerTask, e.logger).
		WithDefaultModel(cfg.Costs.DefaultModel)
	channel := thread.NewChannel(e.chat, e.store, e.clock, e.logger,
		payload.ChannelID, payload.ThreadTS, dog.Name)

	editTimeout := duration(cfg.Agent.Timeout)
	editor := cli.NewClaudeAdapter(cli.AgentConfig{
		Path:    cfg.Agent.Path,
		Model:   cfg.Agent.Model,
		Timeout: editTimeout,
		WorkDir: tree.Dir(),
	}, e.logger)

	facadeDeps := agent.Deps{
		Editor:      editor,
		TextGen:     e.textGen,
		Gate:        validate.NewGate(tree.Dir(), e.logger),
		Tree:        tree,
		Thread:      channel,
		Ledger:      ledger,
		Search:      e.search,
		Logger:      e.logger,
		Model:       cfg.Agent.Model,
		EditTimeout: editTimeout,
	}
	if e.browser != nil {
		facadeDeps.Dev = devserver.NewController(tree.Dir(), devserver.Config{
			AltPorts:       cfg.DevServer.Ports,
			InstallTimeout: duration(cfg.DevServer.InstallTimeout),
			ReadyTimeout:   duration(cfg.DevServer.ReadyTimeout),
		}, e.logger)
		facadeDeps.Differ = visualdiff.NewDiffer(e.browser, media, shots, e.logger)
	}
	facade, err := agent.New(facadeDeps)
	if err != nil {
		return nil, nil, err
	}

	pdeps := pipeline.Deps{
		Dog:        dog,
		Tree:       tree,
		Forge:      dogForge,
		Agent:      facade,
		Channel:    channel,
		Assigner:   e.selector,
		Canceller:  e.cancels,
		Binder:     e.store,
		Ledger:     ledger,
		Report:     e.reports,
		Repo:       cfg.Forge.Repo,
		BaseBranch: cfg.Forge.BaseBranch,
		Clock:      e.clock,
		Logger:     e.logger,
	}
	if e.browser != nil {
		pdeps.Web = webctx.NewFetcher(e.browser, e.logger)
	}
	p, err := pipeline.New(pdeps)
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {
		if err := tree.Cleanup(); err != nil {
			e.logger.Warn("workspace cleanup failed",
				"task_id", payload.TaskID, "error", err)
		}
		_ = os.RemoveAll(shots)
	}
	return p, cleanup, nil
}
