package twitch_irc

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"prefrontal/app/client/twitch"
	"prefrontal/app/config"
	"prefrontal/app/model"

	irc "github.com/gempir/go-twitch-irc/v4"
	"github.com/samber/do"
	"github.com/samber/oops"
)

type MessageHandler func(msg model.Message)

type Client struct {
	cfg       *config.Config
	apiClient *twitch.Client
	ircClient *irc.Client

	mutex             sync.RWMutex
	connectedChannels map[string]bool
	messageHandler    MessageHandler
}

func NewClient(di *do.Injector) (*Client, error) {
	cfg := do.MustInvoke[*config.Config](di)
	apiClient := do.MustInvoke[*twitch.Client](di)

	client := &Client{
		cfg:               cfg,
		apiClient:         apiClient,
		connectedChannels: make(map[string]bool),
	}

	client.ircClient = irc.NewClient(apiClient.Login(), "oauth:"+apiClient.AccessToken())
	client.setupIRCListeners()
	client.JoinChannel(strings.ToLower(cfg.Twitch.Channel))

	return client, nil
}

func (c *Client) setupIRCListeners() {
	c.ircClient.OnPrivateMessage(func(message irc.PrivateMessage) {
		if c.cfg.Twitch.IgnoreChat {
			return
		}

		c.mutex.RLock()
		handler := c.messageHandler
		c.mutex.RUnlock()

		if handler == nil {
			return
		}

		handler(toMessage(message))
	})

	c.ircClient.OnConnect(func() {
		slog.Info("Connected to Twitch IRC")
	})

	c.ircClient.OnReconnectMessage(func(message irc.ReconnectMessage) {
		slog.Info("Reconnecting to Twitch IRC")
	})
}

// toMessage keys chat users by lowercase login so the bot can be recognized by name.
func toMessage(message irc.PrivateMessage) model.Message {
	channel := strings.ToLower(strings.TrimPrefix(message.Channel, "#"))

	at := message.Time
	if at.IsZero() {
		at = time.Now()
	}

	return model.Message{
		ID:        message.ID,
		StreamKey: model.StreamKey(model.PlatformTwitch, channel),
		Time:      at,
		UserID:    strings.ToLower(message.User.Name),
		Nickname:  message.User.DisplayName,
		Text:      strings.TrimSpace(message.Message),
	}
}

// Run connects and blocks until ctx ends or the connection fails for good.
func (c *Client) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = c.ircClient.Disconnect()
	}()

	err := c.ircClient.Connect()
	if errors.Is(err, irc.ErrClientDisconnected) {
		return nil
	}
	if err != nil {
		return oops.In("twitch_irc").Wrapf(err, "irc connection failed")
	}

	return nil
}

func (c *Client) JoinChannel(channel string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.connectedChannels[channel] {
		return
	}

	c.ircClient.Join(channel)
	c.connectedChannels[channel] = true
}

func (c *Client) LeaveChannel(channel string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if !c.connectedChannels[channel] {
		return
	}

	c.ircClient.Depart(channel)
	delete(c.connectedChannels, channel)
}

func (c *Client) SetListener(listener MessageHandler) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.messageHandler = listener
}

// Reply answers parentID in a thread, or says text plainly when there is no parent.
func (c *Client) Reply(channel, parentID, text string) {
	if parentID == "" {
		c.ircClient.Say(channel, text)
		return
	}

	c.ircClient.Reply(channel, parentID, text)
}

func (c *Client) RunRefreshLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.refreshToken()
		}
	}
}

func (c *Client) refreshToken() {
	c.ircClient.SetIRCToken("oauth:" + c.apiClient.AccessToken())
}
