// Package telegram delivers chat messages through the Telegram Bot API.
//
// The Sender owns rate limiting, per-request timeouts, retry with
// exponential backoff and the transient/permanent error classification.
// It never reorders: Send returns only once a message is delivered or
// given up on, so a per-destination worker calling Send in a loop keeps
// queue order.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	"golang.org/x/time/rate"

	"github.com/nerrad567/gray-logic-relay/internal/backoff"
	"github.com/nerrad567/gray-logic-relay/internal/domain"
	"github.com/nerrad567/gray-logic-relay/internal/infrastructure/config"
)

// Defaults used when Options fields are zero.
const (
	DefaultMaxAttempts    = 5
	DefaultRequestTimeout = 10 * time.Second
)

// API is the subset of *telego.Bot the Sender needs.
type API interface {
	GetMe(ctx context.Context) (*telego.User, error)
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Options configures a Sender.
type Options struct {
	// MaxAttempts bounds attempts per message, the first one included.
	MaxAttempts int

	// Backoff computes the delay before retry n (0-based).
	Backoff backoff.Policy

	// RequestTimeout bounds a single sendMessage call.
	RequestTimeout time.Duration

	// PerChatInterval is the minimum spacing between sends to one chat.
	// 0 disables the per-chat limit.
	PerChatInterval time.Duration

	// GlobalPerSecond caps sends across chats. 0 disables the global limit.
	GlobalPerSecond float64

	ParseMode           string
	DisableNotification bool
}

// OptionsFromConfig builds Options from the telegram and delivery sections.
func OptionsFromConfig(tg config.TelegramConfig, d config.DeliveryConfig) Options {
	return Options{
		MaxAttempts:         d.MaxAttempts,
		Backoff:             backoff.New(d.InitialDelay, d.MaxDelay, d.Multiplier, d.Jitter),
		RequestTimeout:      tg.RequestTimeout,
		PerChatInterval:     tg.RateLimit.PerChatInterval,
		GlobalPerSecond:     tg.RateLimit.GlobalPerSecond,
		ParseMode:           tg.ParseMode,
		DisableNotification: tg.DisableNotification,
	}
}

// Sender delivers ChatMessages with rate limiting and retries.
//
// Thread Safety:
//   - Send is safe for concurrent use; the relay calls it from one
//     goroutine per destination.
type Sender struct {
	api    API
	opts   Options
	global *rate.Limiter

	mu      sync.Mutex
	perChat map[string]*rate.Limiter

	// sleep waits between attempts; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error

	logger Logger
}

// NewBot creates a telego Bot from config. The token format is checked
// locally; an invalid token is a startup error.
func NewBot(cfg config.TelegramConfig) (*telego.Bot, error) {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	opts := []telego.BotOption{
		telego.WithHTTPClient(&http.Client{Timeout: timeout}),
		telego.WithDiscardLogger(),
	}
	if cfg.APIURL != "" {
		opts = append(opts, telego.WithAPIServer(cfg.APIURL))
	}

	bot, err := telego.NewBot(cfg.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return bot, nil
}

// New creates a Sender over api.
func New(api API, opts Options) *Sender {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.Backoff.Initial <= 0 {
		opts.Backoff = backoff.New(0, 0, 0, 0)
	}

	global := rate.NewLimiter(rate.Inf, 1)
	if opts.GlobalPerSecond > 0 {
		global = rate.NewLimiter(rate.Limit(opts.GlobalPerSecond), int(math.Max(1, math.Ceil(opts.GlobalPerSecond))))
	}

	return &Sender{
		api:     api,
		opts:    opts,
		global:  global,
		perChat: make(map[string]*rate.Limiter),
		sleep:   sleepContext,
		logger:  noopLogger{},
	}
}

// SetLogger sets a logger for retry diagnostics.
func (s *Sender) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	s.logger = logger
}

// Connect verifies the bot session with getMe.
//
// Returns:
//   - *telego.User: The bot account
//   - error: Wraps ErrConnectFailed, and the classified SendError
func (s *Sender) Connect(ctx context.Context) (*telego.User, error) {
	reqCtx, cancel := context.WithTimeout(ctx, s.opts.RequestTimeout)
	defer cancel()

	me, err := s.api.GetMe(reqCtx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectFailed, Classify(err))
	}
	return me, nil
}

// Send delivers msg, retrying transient failures.
//
// Returns the number of attempts made and:
//   - nil on delivery
//   - a Permanent *SendError after the first permanent failure
//   - ErrRetriesExhausted wrapping the last *SendError after MaxAttempts
//   - ctx.Err() if ctx ends while waiting or sleeping
func (s *Sender) Send(ctx context.Context, msg domain.ChatMessage) (int, error) {
	var prevDelay time.Duration

	for attempt := 1; ; attempt++ {
		if err := s.wait(ctx, msg.ChatID); err != nil {
			return attempt - 1, err
		}

		err := s.post(ctx, msg)
		if err == nil {
			return attempt, nil
		}
		if isCancelled(ctx, err) {
			return attempt, ctx.Err()
		}

		se := Classify(err)
		if se.Kind == Permanent {
			return attempt, se
		}
		if attempt >= s.opts.MaxAttempts {
			return attempt, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempt, se)
		}

		delay := s.retryDelay(attempt, se, prevDelay)
		prevDelay = delay

		s.logger.Debug("telegram send failed, retrying",
			"chat_id", msg.ChatID,
			"seq", msg.Seq,
			"attempt", attempt,
			"delay", delay,
			"error", se,
		)

		if err := s.sleep(ctx, delay); err != nil {
			return attempt, err
		}
	}
}

// retryDelay returns the wait after failed attempt (1-based). A server
// retry_after lengthens the delay but never past the cap, and delays never
// shrink within one message.
func (s *Sender) retryDelay(attempt int, se *SendError, prev time.Duration) time.Duration {
	delay := s.opts.Backoff.Delay(attempt - 1)
	if se.RetryAfter > delay {
		delay = min(se.RetryAfter, s.opts.Backoff.Max)
	}
	return max(delay, prev)
}

func (s *Sender) post(ctx context.Context, msg domain.ChatMessage) error {
	reqCtx, cancel := context.WithTimeout(ctx, s.opts.RequestTimeout)
	defer cancel()

	_, err := s.api.SendMessage(reqCtx, &telego.SendMessageParams{
		ChatID:              ChatID(msg.ChatID),
		Text:                msg.Text,
		ParseMode:           s.opts.ParseMode,
		DisableNotification: s.opts.DisableNotification,
	})
	return err
}

// wait blocks on the per-chat and then the global limiter.
func (s *Sender) wait(ctx context.Context, chatID string) error {
	if err := s.limiter(chatID).Wait(ctx); err != nil {
		return waitError(ctx, err)
	}
	if err := s.global.Wait(ctx); err != nil {
		return waitError(ctx, err)
	}
	return nil
}

// waitError prefers ctx.Err so callers can use errors.Is on cancellation.
// rate.Limiter also fails early when the deadline is closer than the wait.
func waitError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if _, ok := ctx.Deadline(); ok {
		return fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
	}
	return err
}

func (s *Sender) limiter(chatID string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.perChat[chatID]
	if !ok {
		limit := rate.Inf
		if s.opts.PerChatInterval > 0 {
			limit = rate.Every(s.opts.PerChatInterval)
		}
		l = rate.NewLimiter(limit, 1)
		s.perChat[chatID] = l
	}
	return l
}

// ChatID converts a configured destination to a telego ChatID: numeric
// IDs ("12345", "-100123") or channel usernames ("@alerts").
func ChatID(id string) telego.ChatID {
	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		return tu.ID(n)
	}
	return tu.Username(id)
}

// IsSessionLost reports whether err from Send or Connect means the chat
// session must be re-established.
func IsSessionLost(err error) bool {
	var se *SendError
	return errors.As(err, &se) && se.SessionLost()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
