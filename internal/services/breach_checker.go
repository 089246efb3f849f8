package services

import (
	"bufio"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/quickstack/pos-auth/internal/models"
)

const (
	DefaultBreachBaseURL = "https://api.pwnedpasswords.com/range"
	breachUserAgent      = "QuickStack-POS"
	breachPrefixLen      = 5
	maxBreachResponse    = 2 << 20
)

// BreachCheckerConfig configures the k-anonymity range lookup
type BreachCheckerConfig struct {
	Enabled    bool
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	FailOpen   bool
}

// BreachChecker looks passwords up in the Have I Been Pwned range API.
// Only the first five hex characters of the SHA-1 digest leave the process.
type BreachChecker struct {
	client *http.Client
	config BreachCheckerConfig
	logger *slog.Logger

	// initialInterval and maxInterval bound the retry backoff
	initialInterval time.Duration
	maxInterval     time.Duration
}

// NewBreachChecker creates a new BreachChecker
func NewBreachChecker(config BreachCheckerConfig, client *http.Client, logger *slog.Logger) *BreachChecker {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBreachBaseURL
	}
	if config.Timeout <= 0 {
		config.Timeout = 3 * time.Second
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if client == nil {
		client = &http.Client{}
	}
	return &BreachChecker{
		client:          client,
		config:          config,
		logger:          logger,
		initialInterval: 100 * time.Millisecond,
		maxInterval:     time.Second,
	}
}

// Check returns a *models.CompromisedPasswordError when the password appears
// in the corpus. When the API cannot be reached it returns
// ErrBreachCheckUnavailable, or nil if the checker fails open.
func (c *BreachChecker) Check(ctx context.Context, password string) error {
	if !c.config.Enabled {
		return nil
	}

	count, err := c.Lookup(ctx, password)
	if err != nil {
		if c.config.FailOpen {
			c.logger.Warn("breach check unavailable, allowing password", slog.Any("error", err))
			return nil
		}
		return fmt.Errorf("%w: %v", models.ErrBreachCheckUnavailable, err)
	}
	if count > 0 {
		return &models.CompromisedPasswordError{Count: count}
	}
	return nil
}

// Lookup returns how many times the password appears in the corpus
func (c *BreachChecker) Lookup(ctx context.Context, password string) (int, error) {
	sum := sha1.Sum([]byte(password))
	digest := strings.ToUpper(hex.EncodeToString(sum[:]))
	prefix, suffix := digest[:breachPrefixLen], digest[breachPrefixLen:]

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.initialInterval
	bo.Multiplier = 2
	bo.MaxInterval = c.maxInterval
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0

	var body string
	attempt := 0
	op := func() error {
		attempt++
		b, err := c.fetchRange(ctx, prefix)
		if err != nil {
			c.logger.Debug("breach range request failed",
				slog.String("prefix", prefix),
				slog.Int("attempt", attempt),
				slog.Any("error", err))
			return err
		}
		body = b
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.config.MaxRetries)), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return 0, err
	}

	return matchSuffix(body, suffix), nil
}

func (c *BreachChecker) fetchRange(ctx context.Context, prefix string) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	url := strings.TrimRight(c.config.BaseURL, "/") + "/" + prefix
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return "", backoff.Permanent(err)
	}
	req.Header.Set("Add-Padding", "true")
	req.Header.Set("User-Agent", breachUserAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", backoff.Permanent(ctx.Err())
		}
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("breach API returned status %d", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return "", backoff.Permanent(err)
		}
		return "", err
	}

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBreachResponse))
	if err != nil {
		return "", fmt.Errorf("failed to read breach response: %w", err)
	}
	return string(b), nil
}

// matchSuffix scans SUFFIX:COUNT lines. Padding entries carry a zero count.
func matchSuffix(body, suffix string) int {
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		candidate, countText, ok := strings.Cut(line, ":")
		if !ok || !strings.EqualFold(strings.TrimSpace(candidate), suffix) {
			continue
		}
		count, err := strconv.Atoi(strings.TrimSpace(countText))
		if err != nil {
			return 1
		}
		return count
	}
	return 0
}
