package live

import (
	"errors"
	"log/slog"
	"time"

	"github.com/vango-go/vai-callcenter/pkg/core/callstate"
	"github.com/vango-go/vai-callcenter/pkg/core/dialog"
	"github.com/vango-go/vai-callcenter/pkg/core/intent"
	"github.com/vango-go/vai-callcenter/pkg/core/voice/tts"
)

// Dependencies are the collaborators shared by every call.
type Dependencies struct {
	Store   callstate.Store
	Machine *dialog.Machine
	// Router defaults to the production keyword table.
	Router  *intent.Router
	Actions dialog.Actions

	STT STTProvider
	TTS tts.Provider

	Events  EventSink
	Metrics MetricsSink

	Logger *slog.Logger
	Config Config
	Now    func() time.Time
}

// Engine builds calls. It holds no per-call state and is safe for
// concurrent use.
type Engine struct {
	store   callstate.Store
	machine *dialog.Machine
	router  intent.Router
	actions dialog.Actions
	stt     STTProvider
	tts     tts.Provider
	events  EventSink
	metrics MetricsSink
	logger  *slog.Logger
	cfg     Config
	now     func() time.Time
}

func NewEngine(deps Dependencies) (*Engine, error) {
	if deps.Store == nil {
		return nil, errors.New("live: store is required")
	}
	if deps.STT == nil {
		return nil, errors.New("live: stt provider is required")
	}
	if deps.TTS == nil {
		return nil, errors.New("live: tts provider is required")
	}
	if deps.Machine == nil {
		deps.Machine = dialog.NewMachine(dialog.Menu{})
	}
	router := intent.NewRouter(intent.DefaultKeywords)
	if deps.Router != nil {
		router = *deps.Router
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Engine{
		store:   deps.Store,
		machine: deps.Machine,
		router:  router,
		actions: deps.Actions,
		stt:     deps.STT,
		tts:     deps.TTS,
		events:  deps.Events,
		metrics: deps.Metrics,
		logger:  deps.Logger,
		cfg:     deps.Config.withDefaults(),
		now:     deps.Now,
	}, nil
}

// NewCall prepares the pipeline for one media stream. Nothing runs until
// OnSessionStart.
func (e *Engine) NewCall(callID string, transport Transport) *Call {
	return newCall(e, callID, transport)
}

func (e *Engine) Config() Config {
	return e.cfg
}
