package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/thedetect/universe-talk-bot/internal/dispatch"
)

// chattableSender is the part of *tgbotapi.BotAPI used for outgoing messages.
type chattableSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Notifier delivers daily messages through the Bot API.
type Notifier struct {
	api chattableSender
}

func NewNotifier(api chattableSender) *Notifier {
	return &Notifier{api: api}
}

// Send posts text to the chat. The Bot API client has no context support, so the call runs
// on its own goroutine and ctx only bounds how long we wait for it.
func (n *Notifier) Send(ctx context.Context, userID int64, text string) error {
	done := make(chan error, 1)
	go func() {
		_, err := n.api.Send(tgbotapi.NewMessage(userID, text))
		done <- err
	}()
	select {
	case err := <-done:
		return classify(err)
	case <-ctx.Done():
		return fmt.Errorf("send to %d: %w", userID, ctx.Err())
	}
}

// classify wraps errors the chat will keep returning with dispatch.ErrPermanent.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	if isPermanent(apiErr.Code, apiErr.Message) {
		return fmt.Errorf("%w: %d %s", dispatch.ErrPermanent, apiErr.Code, apiErr.Message)
	}
	return err
}

func isPermanent(code int, description string) bool {
	switch code {
	case http.StatusForbidden: // bot blocked, user deactivated, kicked from group
		return true
	case http.StatusBadRequest:
		d := strings.ToLower(description)
		return strings.Contains(d, "chat not found") || strings.Contains(d, "user not found")
	default:
		return false
	}
}
