// Package activities implements the pipeline steps. Each activity is a
// plain method usable by both execution strategies: the Temporal worker
// registers them under the shared activity names, and the local runner
// dispatches to them through Registry.
package activities

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/repopilot/internal/beads"
	"github.com/fyrsmithlabs/repopilot/internal/llm"
	"github.com/fyrsmithlabs/repopilot/internal/logging"
	"github.com/fyrsmithlabs/repopilot/internal/pipeline"
	"github.com/fyrsmithlabs/repopilot/internal/scanner"
	"github.com/fyrsmithlabs/repopilot/internal/store"
	"github.com/fyrsmithlabs/repopilot/internal/vcs"
)

// Deps are the collaborators an Activities instance needs.
type Deps struct {
	Scanner     *scanner.Scanner
	LLM         llm.Client
	Git         *vcs.Git
	Host        vcs.PRHost
	DB          *store.SQLite
	Files       *store.Files
	Logger      *logging.Logger
	TestCommand []string
	TestTimeout time.Duration
}

// Activities holds the step implementations.
type Activities struct {
	scanner     *scanner.Scanner
	llm         llm.Client
	git         *vcs.Git
	host        vcs.PRHost
	db          *store.SQLite
	files       *store.Files
	sink        *beads.MultiSink
	logger      *logging.Logger
	testCommand []string
	testTimeout time.Duration
}

// New wires the activities. The bead sink fans out to both stores.
func New(d Deps) *Activities {
	return &Activities{
		scanner:     d.Scanner,
		llm:         d.LLM,
		git:         d.Git,
		host:        d.Host,
		db:          d.DB,
		files:       d.Files,
		sink:        beads.NewMultiSink(d.Logger, d.DB, d.Files),
		logger:      d.Logger,
		testCommand: d.TestCommand,
		testTimeout: d.TestTimeout,
	}
}

// Registry exposes every activity to the local strategy, keyed by the
// shared activity names.
func (a *Activities) Registry() map[string]pipeline.LocalActivity {
	return map[string]pipeline.LocalActivity{
		pipeline.ActivityAnalyze:       wrap(a.Analyze),
		pipeline.ActivityInitialDocs:   wrap(a.WriteInitialDocs),
		pipeline.ActivitySuggest:       wrap(a.Suggest),
		pipeline.ActivityCreateBranch:  wrap(a.CreateBranch),
		pipeline.ActivityExecute:       wrap(a.ExecuteChanges),
		pipeline.ActivityCommit:        wrap(a.Commit),
		pipeline.ActivityReview:        wrap(a.Review),
		pipeline.ActivityGenerateTests: wrap(a.GenerateTests),
		pipeline.ActivityRunTests:      wrap(a.RunTests),
		pipeline.ActivityPushPR:        wrap(a.PushPR),
		pipeline.ActivityAutoMerge:     wrap(a.AutoMerge),
		pipeline.ActivityUpdateDocs:    wrap(a.UpdateDocs),
		pipeline.ActivitySaveLog:       wrap(a.SaveLog),
		pipeline.ActivityPersistBead:   wrapErr(a.PersistBead),
		pipeline.ActivityPersistRun:    wrapErr(a.PersistRun),
	}
}

func wrap[I, O any](fn func(context.Context, I) (O, error)) pipeline.LocalActivity {
	return func(ctx context.Context, input []byte) (any, error) {
		var in I
		if err := json.Unmarshal(input, &in); err != nil {
			return nil, fmt.Errorf("decoding activity input: %w", err)
		}
		return fn(ctx, in)
	}
}

func wrapErr[I any](fn func(context.Context, I) error) pipeline.LocalActivity {
	return func(ctx context.Context, input []byte) (any, error) {
		var in I
		if err := json.Unmarshal(input, &in); err != nil {
			return nil, fmt.Errorf("decoding activity input: %w", err)
		}
		return nil, fn(ctx, in)
	}
}
