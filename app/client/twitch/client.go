package twitch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"prefrontal/app/config"

	"github.com/nicklaw5/helix/v2"
	"github.com/samber/do"
	"github.com/samber/oops"
)

const refreshInterval = 30 * time.Minute

// Client keeps a fresh user access token for the bot account.
type Client struct {
	cfg         *config.Config
	helixClient *helix.Client

	mu           sync.RWMutex
	accessToken  string
	refreshToken string
	userID       string
	login        string
}

func NewClient(di *do.Injector) (*Client, error) {
	cfg := do.MustInvoke[*config.Config](di)

	return newClient(cfg, &helix.Options{
		ClientID:     cfg.Twitch.ClientID,
		ClientSecret: cfg.Twitch.ClientSecret,
	})
}

func newClient(cfg *config.Config, opts *helix.Options) (*Client, error) {
	helixClient, err := helix.NewClient(opts)
	if err != nil {
		return nil, oops.In("twitch").Wrapf(err, "failed to create helix client")
	}

	c := &Client{
		cfg:          cfg,
		helixClient:  helixClient,
		refreshToken: cfg.Twitch.RefreshToken,
	}

	if err = c.refresh(); err != nil {
		return nil, oops.In("twitch").Wrapf(err, "failed to obtain access token")
	}

	if err = c.resolveUser(); err != nil {
		return nil, oops.In("twitch").Wrapf(err, "failed to resolve bot user")
	}

	return c, nil
}

func (c *Client) refresh() error {
	c.mu.RLock()
	refreshToken := c.refreshToken
	c.mu.RUnlock()

	resp, err := c.helixClient.RefreshUserAccessToken(refreshToken)
	if err != nil {
		return fmt.Errorf("failed to refresh user access token: %w", err)
	}
	if resp.ErrorMessage != "" {
		return fmt.Errorf("failed to refresh user access token: %s", resp.ErrorMessage)
	}

	c.mu.Lock()
	c.accessToken = resp.Data.AccessToken
	if resp.Data.RefreshToken != "" {
		c.refreshToken = resp.Data.RefreshToken
	}
	c.mu.Unlock()

	c.helixClient.SetUserAccessToken(resp.Data.AccessToken)

	return nil
}

// resolveUser looks up the account the token belongs to.
func (c *Client) resolveUser() error {
	resp, err := c.helixClient.GetUsers(&helix.UsersParams{})
	if err != nil {
		return fmt.Errorf("failed to get users: %w", err)
	}
	if resp.ErrorMessage != "" {
		return errors.New(resp.ErrorMessage)
	}
	if len(resp.Data.Users) == 0 {
		return errors.New("token does not belong to any user")
	}

	user := resp.Data.Users[0]

	c.mu.Lock()
	c.userID = user.ID
	c.login = user.Login
	c.mu.Unlock()

	if c.cfg.Twitch.Username != "" && !strings.EqualFold(user.Login, c.cfg.Twitch.Username) {
		slog.Warn("Refresh token belongs to another account",
			"configured", c.cfg.Twitch.Username,
			"actual", user.Login,
		)
	}

	slog.Info("Twitch bot account resolved", "login", user.Login, "id", user.ID)

	return nil
}

func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.accessToken
}

func (c *Client) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.userID
}

func (c *Client) Login() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.login
}

func (c *Client) RunRefreshLoop(ctx context.Context) {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.refresh(); err != nil {
				slog.Error("Failed to refresh twitch token", "error", err, "telegram", true)
			}
		}
	}
}
