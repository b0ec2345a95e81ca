package conversation

import (
	"prefrontal/app/client/llm"
	"prefrontal/app/client/natsbus"
	"prefrontal/app/config"
	"prefrontal/app/service/knowledge"
	"prefrontal/app/service/observer"
	"prefrontal/app/service/reply"
	"prefrontal/app/service/sender"
	"prefrontal/app/util/clock"

	"github.com/samber/do"
	"github.com/samber/oops"
)

func New(di *do.Injector) (*Registry, error) {
	cfg := do.MustInvoke[*config.Config](di)
	observerSvc := do.MustInvoke[*observer.Service](di)

	plannerLLM, err := llm.New(cfg.LLM.Planner)
	if err != nil {
		return nil, oops.In("conversation").Wrapf(err, "failed to create planner model")
	}

	goalLLM, err := llm.New(cfg.LLM.Goal)
	if err != nil {
		return nil, oops.In("conversation").Wrapf(err, "failed to create goal model")
	}

	deps := Deps{
		Planner:   plannerLLM,
		Goal:      goalLLM,
		Generator: do.MustInvoke[*reply.Generator](di),
		Checker:   do.MustInvoke[*reply.Checker](di),
		Knowledge: do.MustInvoke[*knowledge.Service](di),
		Sender:    do.MustInvoke[*sender.Router](di),
		Recorder:  do.MustInvoke[*natsbus.Client](di),
		NewObserver: func(streamKey string) (Observer, error) {
			o, err := observerSvc.New(streamKey)
			if err != nil {
				return nil, err
			}

			return o, nil
		},
		Clock: clock.Real{},
	}

	return NewRegistry(cfg.Conversation, deps), nil
}
