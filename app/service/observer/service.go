package observer

import (
	"time"

	"prefrontal/app/config"
	"prefrontal/app/model"
	"prefrontal/app/service/archive"
	"prefrontal/app/util/clock"

	"github.com/samber/do"
	"github.com/samber/oops"
)

type Archive interface {
	Append(msgs ...model.Message) error
	Recent(streamKey string, n int) ([]model.Message, error)
}

type Settings struct {
	BotID         string
	HistorySize   int
	ColdChatAfter time.Duration
	PollInterval  time.Duration
}

// Service creates one Observer per stream, all backed by the same archive.
type Service struct {
	settings Settings
	archive  Archive
	clock    clock.Clock
}

func New(di *do.Injector) (*Service, error) {
	cfg := do.MustInvoke[*config.Config](di)

	return NewService(Settings{
		BotID:         cfg.Conversation.BotID,
		HistorySize:   cfg.Archive.HistorySize,
		ColdChatAfter: cfg.Conversation.ColdChatAfter,
		PollInterval:  cfg.Conversation.WaitPollInterval,
	}, do.MustInvoke[*archive.Service](di), clock.Real{}), nil
}

func NewService(settings Settings, archive Archive, clk clock.Clock) *Service {
	return &Service{
		settings: settings,
		archive:  archive,
		clock:    clk,
	}
}

func (s *Service) New(streamKey string) (*Observer, error) {
	if _, _, err := model.ParseStreamKey(streamKey); err != nil {
		return nil, oops.In("observer").Wrap(err)
	}

	return newObserver(streamKey, s.settings, s.archive, s.clock), nil
}
