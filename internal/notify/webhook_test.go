package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTelegramSender_Send(t *testing.T) {
	var got telegramMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sender := &TelegramSender{sendURL: srv.URL, chatID: "42", client: srv.Client()}
	require.NoError(t, sender.Send(context.Background(), "Execution settled", "net profit 12.5"))

	assert.Equal(t, "42", got.ChatID)
	assert.Equal(t, "*Execution settled*\nnet profit 12.5", got.Text)
	assert.Equal(t, "Markdown", got.ParseMode)
	assert.Equal(t, "telegram", sender.Name())
}

func TestDiscordSender_Send(t *testing.T) {
	t.Run("posts a single embed", func(t *testing.T) {
		var got discordWebhookPayload
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			w.WriteHeader(http.StatusNoContent)
		}))
		defer srv.Close()

		sender := NewDiscordSender(srv.URL)
		sender.client = srv.Client()
		require.NoError(t, sender.Send(context.Background(), "Opportunity", "BTC/USDT 0.2%"))

		require.Len(t, got.Embeds, 1)
		assert.Equal(t, "Opportunity", got.Embeds[0].Title)
		assert.Equal(t, "BTC/USDT 0.2%", got.Embeds[0].Description)
		assert.Equal(t, discordEmbedColor, got.Embeds[0].Color)
	})

	t.Run("non-2xx is an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "bad webhook", http.StatusBadRequest)
		}))
		defer srv.Close()

		sender := NewDiscordSender(srv.URL)
		sender.client = srv.Client()
		err := sender.Send(context.Background(), "title", "body")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "status 400")
	})
}
