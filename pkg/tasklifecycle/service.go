package tasklifecycle

import (
	"time"

	"github.com/cavendo/fleetctl/internal/apierr"
	"github.com/cavendo/fleetctl/internal/logging"
	"github.com/cavendo/fleetctl/pkg/activity"
	"github.com/cavendo/fleetctl/pkg/db"
	"github.com/cavendo/fleetctl/pkg/router"
)

// Service implements task creation, editing, self-assignment, and status
// transitions, threading every write through a single db.Handle.Tx so a
// task mutation and its active_task_count side effect commit or roll back
// together (spec §4.3, §4.4).
type Service struct {
	handle   *db.DB
	agents   router.AgentLookup
	cursor   router.Cursor
	projects ProjectProvider
	rules    RuleProvider
	activity *activity.Recorder
	emitter  EventEmitter
	logger   logging.Logger
	rngSeed  int64
}

// Config collects Service's dependencies. Emitter defaults to NopEmitter
// when nil, Activity to activity.NewRecorder(), Agents to
// router.SQLAgentLookup{}, Projects/Rules to their SQL implementations.
type Config struct {
	Handle   *db.DB
	Agents   router.AgentLookup
	Cursor   router.Cursor
	Projects ProjectProvider
	Rules    RuleProvider
	Activity *activity.Recorder
	Emitter  EventEmitter
	Logger   logging.Logger
	RNGSeed  int64
}

// NewService builds a Service, filling in the teacher-idiom defaults for
// any dependency the caller left zero-valued.
func NewService(cfg Config) *Service {
	if cfg.Agents == nil {
		cfg.Agents = router.SQLAgentLookup{}
	}
	if cfg.Cursor == nil {
		cfg.Cursor = router.NewMemoryCursor()
	}
	if cfg.Projects == nil {
		cfg.Projects = SQLProjectProvider{}
	}
	if cfg.Rules == nil {
		cfg.Rules = SQLRuleProvider{}
	}
	if cfg.Activity == nil {
		cfg.Activity = activity.NewRecorder()
	}
	if cfg.Emitter == nil {
		cfg.Emitter = NopEmitter{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NopLogger{}
	}
	if cfg.RNGSeed == 0 {
		cfg.RNGSeed = time.Now().UnixNano()
	}
	return &Service{
		handle: cfg.Handle, agents: cfg.Agents, cursor: cfg.Cursor,
		projects: cfg.Projects, rules: cfg.Rules, activity: cfg.Activity,
		emitter: cfg.Emitter, logger: cfg.Logger, rngSeed: cfg.RNGSeed,
	}
}

func (s *Service) evaluator() *router.Evaluator {
	return router.NewEvaluator(s.agents, s.cursor, s.rngSeed)
}

// taskNotFound is a small helper so every operation reports a missing task the
// same way.
func taskNotFound(id string) error {
	return apierr.New(apierr.KindNotFound, "task "+id+" not found")
}
