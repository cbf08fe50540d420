package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Client Telegram Bot API 客户端
type Client struct {
	httpClient  *resty.Client
	token       string
	pollTimeout time.Duration
	logger      *zap.Logger
}

// NewClient 创建 Bot API 客户端. The token becomes part of every request path
// and is scrubbed from returned errors.
func NewClient(apiURL, token string, pollTimeout time.Duration, logger *zap.Logger) *Client {
	client := resty.New().
		SetBaseURL(strings.TrimRight(apiURL, "/")+"/bot"+token).
		SetTimeout(pollTimeout+15*time.Second). // long polling holds the request open
		SetRetryCount(3).
		SetRetryWaitTime(1*time.Second).
		SetRetryMaxWaitTime(5*time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return r != nil && (r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500)
		}).
		SetHeader("Accept", "application/json")

	return &Client{
		httpClient:  client,
		token:       token,
		pollTimeout: pollTimeout,
		logger:      logger,
	}
}

// APIError is an ok=false answer from the Bot API.
type APIError struct {
	Method      string
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s: %s (code: %d)", e.Method, e.Description, e.Code)
}

// GetUpdates long-polls for messages after offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64) ([]Update, error) {
	req := getUpdatesRequest{
		Offset:         offset,
		Timeout:        int(c.pollTimeout / time.Second),
		AllowedUpdates: []string{"message"},
	}

	var updates []Update
	if err := c.call(ctx, "getUpdates", c.httpClient.R().SetBody(req), &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

// SendMessage sends text with an optional keyboard change.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, markup *ReplyMarkup) error {
	req := sendMessageRequest{ChatID: chatID, Text: text, ReplyMarkup: markup}
	return c.call(ctx, "sendMessage", c.httpClient.R().SetBody(req), nil)
}

// SendDocument uploads the file at path as a document.
func (c *Client) SendDocument(ctx context.Context, chatID int64, path, caption string) error {
	form := map[string]string{"chat_id": strconv.FormatInt(chatID, 10)}
	if caption != "" {
		form["caption"] = caption
	}
	r := c.httpClient.R().
		SetFile("document", path).
		SetFormData(form)
	return c.call(ctx, "sendDocument", r, nil)
}

func (c *Client) call(ctx context.Context, method string, r *resty.Request, result any) error {
	var out APIResponse
	resp, err := r.
		SetContext(ctx).
		SetResult(&out).
		SetError(&out).
		Post("/" + method)
	if err != nil {
		err = c.scrub(err)
		if ctx.Err() == nil {
			c.logger.Error("Telegram API call failed",
				zap.String("method", method),
				zap.Error(err),
			)
		}
		return fmt.Errorf("failed to call telegram %s: %w", method, err)
	}

	if !out.OK {
		apiErr := &APIError{Method: method, Code: out.ErrorCode, Description: out.Description}
		if apiErr.Code == 0 {
			apiErr.Code = resp.StatusCode()
		}
		c.logger.Error("Telegram API returned error",
			zap.String("method", method),
			zap.Int("code", apiErr.Code),
			zap.String("description", apiErr.Description),
		)
		return apiErr
	}

	if result != nil && len(out.Result) > 0 {
		if err := json.Unmarshal(out.Result, result); err != nil {
			return fmt.Errorf("failed to unmarshal telegram %s result: %w", method, err)
		}
	}
	return nil
}

// scrub removes the bot token from transport errors, which embed the request URL.
func (c *Client) scrub(err error) error {
	if c.token == "" || !strings.Contains(err.Error(), c.token) {
		return err
	}
	return &scrubbedError{msg: strings.ReplaceAll(err.Error(), c.token, "<token>"), err: err}
}

type scrubbedError struct {
	msg string
	err error
}

func (e *scrubbedError) Error() string { return e.msg }
func (e *scrubbedError) Unwrap() error { return e.err }

