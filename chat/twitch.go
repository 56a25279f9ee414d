package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/codeGROOVE-dev/retry"
	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/onnwee/relay/ingest"
	"github.com/onnwee/relay/naming"
)

// DefaultRetryAttempts bounds reconnect attempts before a session fails.
const DefaultRetryAttempts = 10

// TwitchClient adapts go-twitch-irc to Client.
type TwitchClient struct {
	cfg ServerConfig
	h   Handler
	irc *twitch.Client
	rc  *reconnector

	ctx    context.Context
	cancel context.CancelFunc
}

// NewTwitchClient is a Dialer for Twitch chat. Without a token the session
// is read-only.
func NewTwitchClient(cfg ServerConfig, h Handler) Client {
	var irc *twitch.Client
	if cfg.Nickname == "" || cfg.Token == "" {
		irc = twitch.NewAnonymousClient()
	} else {
		token := cfg.Token
		if !strings.HasPrefix(token, "oauth:") {
			token = "oauth:" + token
		}
		irc = twitch.NewClient(strings.ToLower(cfg.Nickname), token)
	}
	// The library default is Twitch over TLS; the tls flag only applies to
	// custom addresses.
	if cfg.Address != "" {
		irc.IrcAddress = cfg.Address
		irc.TLS = cfg.TLS
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &TwitchClient{cfg: cfg, h: h, irc: irc, ctx: ctx, cancel: cancel}
	c.rc = &reconnector{
		attempts:  cfg.RetryAttempts,
		delay:     time.Second,
		maxDelay:  2 * time.Minute,
		maxJitter: 5 * time.Second,
		connect:   irc.Connect,
		onRetry: func(n uint, err error) {
			slog.Debug("twitch reconnect", slog.String("component", "chat"), slog.String("server", cfg.Name), slog.Uint64("attempt", uint64(n)), slog.Any("err", err))
			h.OnReconnecting(n, err)
		},
		retryable: func(err error) bool {
			return !errors.Is(err, twitch.ErrClientDisconnected) && !errors.Is(err, twitch.ErrLoginAuthenticationFailed)
		},
	}
	c.register()
	return c
}

func channelOf(name string) string { return naming.ChannelName(name) }

func (c *TwitchClient) register() {
	c.irc.OnConnect(func() {
		c.rc.connected()
		nick := strings.ToLower(c.cfg.Nickname)
		if c.cfg.Token == "" {
			nick = ""
		}
		c.h.OnRegistered(nick)
	})

	c.irc.OnPrivateMessage(func(m twitch.PrivateMessage) {
		c.h.OnMessage(ingest.Message{
			Nick:        m.User.Name,
			Target:      channelOf(m.Channel),
			Text:        m.Message,
			Action:      m.Action,
			DisplayName: m.User.DisplayName,
			Color:       m.User.Color,
			Tags:        m.Tags,
			Time:        m.Time,
		})
	})

	c.irc.OnWhisperMessage(func(m twitch.WhisperMessage) {
		c.h.OnMessage(ingest.Message{
			Nick:        m.User.Name,
			Target:      m.Target,
			Text:        m.Message,
			DisplayName: m.User.DisplayName,
			Color:       m.User.Color,
			Tags:        m.Tags,
		})
	})

	c.irc.OnNoticeMessage(func(m twitch.NoticeMessage) {
		if m.Channel == "" {
			return
		}
		c.h.OnMessage(ingest.Message{
			Nick:   "tmi.twitch.tv",
			Target: channelOf(m.Channel),
			Text:   m.Message,
			Notice: true,
			Tags:   m.Tags,
		})
	})

	c.irc.OnUserJoinMessage(func(m twitch.UserJoinMessage) {
		c.h.OnJoin(ingest.Join{Channel: channelOf(m.Channel), Nick: m.User})
	})
	c.irc.OnSelfJoinMessage(func(m twitch.UserJoinMessage) {
		c.h.OnJoin(ingest.Join{Channel: channelOf(m.Channel), Nick: m.User})
	})
	c.irc.OnUserPartMessage(func(m twitch.UserPartMessage) {
		c.h.OnPart(ingest.Part{Channel: channelOf(m.Channel), Nick: m.User})
	})
	c.irc.OnSelfPartMessage(func(m twitch.UserPartMessage) {
		c.h.OnPart(ingest.Part{Channel: channelOf(m.Channel), Nick: m.User})
	})

	c.irc.OnNamesMessage(func(m twitch.NamesMessage) {
		users := make(map[string]string, len(m.Users))
		for _, u := range m.Users {
			users[u] = ""
		}
		c.h.OnUserList(ingest.UserList{Channel: channelOf(m.Channel), Users: users})
	})

	// Timeouts and bans are the closest Twitch has to kicks.
	c.irc.OnClearChatMessage(func(m twitch.ClearChatMessage) {
		if m.TargetUsername == "" {
			return
		}
		reason := "banned"
		if m.BanDuration > 0 {
			reason = fmt.Sprintf("timed out for %ds", m.BanDuration)
		}
		c.h.OnKick(ingest.Kick{
			Channel: channelOf(m.Channel),
			Nick:    m.TargetUsername,
			By:      m.Channel,
			Reason:  reason,
			Time:    m.Time,
		})
	})

	c.irc.OnReconnectMessage(func(m twitch.ReconnectMessage) {
		c.h.OnRaw(m.Raw)
	})
	c.irc.OnUnsetMessage(func(m twitch.RawMessage) {
		c.h.OnRaw(m.Raw)
	})
}

// Connect connects and keeps reconnecting with backoff until Disconnect is
// called or one run of attempts is exhausted.
func (c *TwitchClient) Connect() error {
	err := c.rc.run(c.ctx)
	if c.ctx.Err() != nil {
		return twitch.ErrClientDisconnected
	}
	return err
}

// reconnector retries connect with backoff. A connection that registered and
// later dropped starts a fresh run of attempts, so only consecutive failures
// count against the budget.
type reconnector struct {
	attempts  uint
	delay     time.Duration
	maxDelay  time.Duration
	maxJitter time.Duration

	connect   func() error
	onRetry   func(attempt uint, err error)
	retryable func(error) bool

	up atomic.Bool
}

// connected marks the current attempt as registered.
func (r *reconnector) connected() { r.up.Store(true) }

func (r *reconnector) run(ctx context.Context) error {
	attempts := r.attempts
	if attempts == 0 {
		attempts = DefaultRetryAttempts
	}
	for {
		dropped := false
		err := retry.Do(
			func() error {
				err := r.connect()
				if r.up.Swap(false) {
					dropped = true
				}
				return err
			},
			retry.Attempts(attempts),
			retry.Delay(r.delay),
			retry.MaxDelay(r.maxDelay),
			retry.MaxJitter(r.maxJitter),
			retry.Context(ctx),
			retry.OnRetry(func(n uint, err error) { r.onRetry(n+1, err) }),
			retry.RetryIf(func(err error) bool { return !dropped && r.retryable(err) }),
		)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil || !dropped || !r.retryable(err) {
			return err
		}
		r.onRetry(1, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.delay):
		}
	}
}

// Disconnect stops the connection and any pending reconnect.
func (c *TwitchClient) Disconnect() error {
	c.cancel()
	err := c.irc.Disconnect()
	if errors.Is(err, twitch.ErrConnectionIsNotOpen) {
		return nil
	}
	return err
}

func (c *TwitchClient) Join(channel string) {
	c.irc.Join(strings.TrimPrefix(naming.ChannelName(channel), "#"))
}

func (c *TwitchClient) Part(channel string) {
	c.irc.Depart(strings.TrimPrefix(naming.ChannelName(channel), "#"))
}

func (c *TwitchClient) Say(target, text string) error {
	if !naming.IsChannel(target) {
		return ErrUnsupportedTarget
	}
	c.irc.Say(strings.TrimPrefix(naming.ChannelName(target), "#"), text)
	return nil
}

func (c *TwitchClient) Action(target, text string) error {
	return c.Say(target, "\x01ACTION "+text+"\x01")
}
