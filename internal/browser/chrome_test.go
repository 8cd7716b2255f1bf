package browser

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"

	"autokite/internal/session"
)

func TestElementErr(t *testing.T) {
	assert.NoError(t, elementErr("input#pin", nil))

	err := elementErr("input#pin", fmt.Errorf("wait: %w", context.DeadlineExceeded))
	assert.ErrorIs(t, err, session.ErrElementNotFound)
	assert.Contains(t, err.Error(), "input#pin")

	err = elementErr("input#pin", errors.New("target closed"))
	assert.NotErrorIs(t, err, session.ErrElementNotFound)
}

func TestOnEvent_TracksDocumentRequests(t *testing.T) {
	c := &chrome{}

	c.onEvent(&network.EventRequestWillBeSent{
		Type:    network.ResourceTypeDocument,
		Request: &network.Request{URL: "https://127.0.0.1/?request_token=abc&action=login"},
	})
	c.onEvent(&network.EventRequestWillBeSent{
		Type:    network.ResourceTypeScript,
		Request: &network.Request{URL: "https://kite.zerodha.com/static/app.js"},
	})

	got, err := c.CurrentURL(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, "https://127.0.0.1/?request_token=abc&action=login", got)
}
