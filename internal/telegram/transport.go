// Package telegram implements the outbound transport over the Telegram Bot API
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bcmk/bkcoupons/internal/sender"
	"github.com/bcmk/bkcoupons/lib/cmdlib"
	tg "github.com/bcmk/telegram-bot-api"
)

// Transport sends, edits and deletes Telegram messages
type Transport struct {
	bot      *tg.BotAPI
	client   tg.HttpClient
	endpoint string
}

var _ sender.Transport = &Transport{}

// minRetryAfter applies when a flood error carries no delay
const minRetryAfter = time.Second

// NewTransport creates a transport over a bot
func NewTransport(bot *tg.BotAPI, endpoint string) *Transport {
	return &Transport{bot: bot, client: bot.Client, endpoint: endpoint}
}

type mediaPhoto struct {
	Type  string `json:"type"`
	Media string `json:"media"`
}

// SendText sends a text message
func (t *Transport) SendText(_ context.Context, msg sender.Message) (int, error) {
	resp, err := t.bot.MakeRequest("sendMessage", textParams(msg))
	if err != nil {
		return 0, mapError(err)
	}
	var result tg.Message
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return 0, fmt.Errorf("cannot parse sent message, %w", err)
	}
	return result.MessageID, nil
}

// EditText edits a text message
func (t *Transport) EditText(_ context.Context, messageID int, msg sender.Message) error {
	params := textParams(msg)
	params.Set("message_id", strconv.Itoa(messageID))
	_, err := t.bot.MakeRequest("editMessageText", params)
	return mapError(err)
}

// Delete deletes a message
func (t *Transport) Delete(_ context.Context, chatID string, messageID int) error {
	params := url.Values{}
	params.Set("chat_id", chatID)
	params.Set("message_id", strconv.Itoa(messageID))
	_, err := t.bot.MakeRequest("deleteMessage", params)
	return mapError(err)
}

// SendMediaGroup uploads photos as an album
func (t *Transport) SendMediaGroup(ctx context.Context, chatID string, photos []sender.Photo) ([]int, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	media := make([]mediaPhoto, 0, len(photos))
	for i, p := range photos {
		if p.Path == "" {
			media = append(media, mediaPhoto{Type: "photo", Media: p.URL})
			continue
		}
		name := "photo" + strconv.Itoa(i)
		if err := attachFile(writer, name, p.Path); err != nil {
			return nil, err
		}
		media = append(media, mediaPhoto{Type: "photo", Media: "attach://" + name})
	}
	mediaJSON, err := json.Marshal(media)
	if err != nil {
		return nil, err
	}
	if err := writer.WriteField("chat_id", chatID); err != nil {
		return nil, err
	}
	if err := writer.WriteField("media", string(mediaJSON)); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	link := fmt.Sprintf(t.endpoint, t.bot.Token, "sendMediaGroup")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, link, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	httpResp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cannot send media group, %w", err)
	}
	defer cmdlib.CloseBody(httpResp.Body)

	var resp tg.APIResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("cannot parse media group response, %w", err)
	}
	if !resp.Ok {
		apiErr := tg.Error{Code: resp.ErrorCode, Message: resp.Description}
		if resp.Parameters != nil {
			apiErr.ResponseParameters = *resp.Parameters
		}
		return nil, mapError(apiErr)
	}
	var messages []tg.Message
	if err := json.Unmarshal(resp.Result, &messages); err != nil {
		return nil, fmt.Errorf("cannot parse sent media group, %w", err)
	}
	ids := make([]int, 0, len(messages))
	for _, m := range messages {
		ids = append(ids, m.MessageID)
	}
	return ids, nil
}

func attachFile(writer *multipart.Writer, name, file string) error {
	f, err := os.Open(filepath.Clean(file))
	if err != nil {
		return fmt.Errorf("cannot open %s, %w", file, err)
	}
	defer func() { _ = f.Close() }()
	part, err := writer.CreateFormFile(name, filepath.Base(file))
	if err != nil {
		return err
	}
	_, err = io.Copy(part, f)
	return err
}

func textParams(msg sender.Message) url.Values {
	params := url.Values{}
	params.Set("chat_id", msg.ChatID)
	params.Set("text", msg.Text)
	if msg.HTML {
		params.Set("parse_mode", "HTML")
	}
	if msg.DisablePreview {
		params.Set("disable_web_page_preview", "true")
	}
	if msg.Silent {
		params.Set("disable_notification", "true")
	}
	return params
}

// mapError converts Telegram API errors into sender error kinds
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr tg.Error
	if ptr := (*tg.Error)(nil); errors.As(err, &ptr) {
		apiErr = *ptr
	} else if !errors.As(err, &apiErr) {
		return err
	}
	description := strings.ToLower(apiErr.Message)
	switch {
	case apiErr.Code == http.StatusTooManyRequests || apiErr.RetryAfter > 0:
		after := time.Duration(apiErr.RetryAfter) * time.Second
		if after < minRetryAfter {
			after = minRetryAfter
		}
		return &sender.RetryAfterError{After: after}
	case apiErr.Code == http.StatusForbidden:
		return fmt.Errorf("%w, %s", sender.ErrForbidden, apiErr.Message)
	case strings.Contains(description, "group send failed"):
		return sender.ErrGroupSendFailed
	case strings.Contains(description, "message is not modified"):
		return sender.ErrMessageNotModified
	case strings.Contains(description, "message to delete not found"),
		strings.Contains(description, "message to edit not found"):
		return sender.ErrMessageNotFound
	case strings.Contains(description, "message can't be deleted"),
		strings.Contains(description, "message can't be edited"):
		return sender.ErrMessageTooOld
	}
	return fmt.Errorf("telegram error %d, %s", apiErr.Code, apiErr.Message)
}
