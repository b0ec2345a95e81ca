package sender

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"prefrontal/app/client/natsbus"
	"prefrontal/app/client/twitch_irc"
	"prefrontal/app/config"
	"prefrontal/app/model"
	"prefrontal/app/util/metrics"

	"github.com/google/uuid"
	"github.com/samber/do"
	"github.com/samber/oops"
	"golang.org/x/time/rate"
)

var errTwitchDisabled = errors.New("twitch transport is disabled")

type ircReplier interface {
	Reply(channel, parentID, text string)
}

type outboundPublisher interface {
	Enabled() bool
	PublishOutbound(msg model.Message) error
}

// Router delivers bot messages to the platform named by the stream key.
type Router struct {
	twitchCfg config.Twitch
	senderCfg config.Sender
	botID     string
	botName   string
	irc       ircReplier
	bus       outboundPublisher

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func New(di *do.Injector) (*Router, error) {
	cfg := do.MustInvoke[*config.Config](di)

	var irc ircReplier
	if cfg.Twitch.Enabled {
		irc = do.MustInvoke[*twitch_irc.Client](di)
	}

	r := newRouter(cfg.Twitch, cfg.Sender, irc, do.MustInvoke[*natsbus.Client](di))
	r.botID = cfg.Conversation.BotID
	r.botName = cfg.Conversation.BotName

	return r, nil
}

func newRouter(twitchCfg config.Twitch, senderCfg config.Sender, irc ircReplier, bus outboundPublisher) *Router {
	return &Router{
		twitchCfg: twitchCfg,
		senderCfg: senderCfg,
		irc:       irc,
		bus:       bus,
		limiters:  make(map[string]*rate.Limiter),
	}
}

func (r *Router) limiter(streamKey string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	limiter, ok := r.limiters[streamKey]
	if !ok {
		r.pruneIdle(time.Now())
		limiter = rate.NewLimiter(rate.Limit(r.senderCfg.RatePerSecond), r.senderCfg.Burst)
		r.limiters[streamKey] = limiter
	}

	return limiter
}

// pruneIdle drops limiters whose bucket has refilled; they behave exactly
// like new ones. Callers hold r.mu.
func (r *Router) pruneIdle(now time.Time) {
	for key, limiter := range r.limiters {
		if limiter.TokensAt(now) >= float64(limiter.Burst()) {
			delete(r.limiters, key)
		}
	}
}

func (r *Router) Send(ctx context.Context, streamKey, content string, replyTo *model.Message) error {
	errb := oops.In("sender").With("stream", streamKey)

	platform, channel, err := model.ParseStreamKey(streamKey)
	if err != nil {
		return errb.Wrap(err)
	}

	if err = r.limiter(streamKey).Wait(ctx); err != nil {
		metrics.MessagesSentTotal.WithLabelValues(platform, "rate_limited").Inc()
		return errb.Wrapf(err, "rate limit wait aborted")
	}

	parentID := ""
	if replyTo != nil {
		parentID = replyTo.ID
	}

	switch platform {
	case model.PlatformTwitch:
		if r.twitchCfg.DisableNotifications {
			slog.Info("Replied to message (notifications disabled)", "stream", streamKey, "text", content, "telegram", true)
			metrics.MessagesSentTotal.WithLabelValues(platform, "disabled").Inc()
			return nil
		}

		if r.irc == nil {
			metrics.MessagesSentTotal.WithLabelValues(platform, "error").Inc()
			return errb.Wrap(errTwitchDisabled)
		}

		r.irc.Reply(channel, parentID, content)

	default:
		if r.bus == nil || !r.bus.Enabled() {
			slog.Info("Replied to message (no outbound transport)", "stream", streamKey, "text", content)
			metrics.MessagesSentTotal.WithLabelValues(platform, "log_only").Inc()
			return nil
		}

		err = r.bus.PublishOutbound(model.Message{
			ID:        uuid.NewString(),
			StreamKey: streamKey,
			Time:      time.Now(),
			UserID:    r.botID,
			Nickname:  r.botName,
			Text:      content,
			ReplyToID: parentID,
		})
		if err != nil {
			metrics.MessagesSentTotal.WithLabelValues(platform, "error").Inc()
			return errb.Wrapf(err, "failed to publish reply")
		}
	}

	metrics.MessagesSentTotal.WithLabelValues(platform, "success").Inc()
	slog.Info("Replied to message", "stream", streamKey, "text", content, "telegram", true)

	return nil
}
