package dispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/storefront-bot/internal/domain"
)

func TestParseUpdate(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("command with bot suffix and args", func(t *testing.T) {
		ev, err := ParseUpdate([]byte(`{"update_id":5,"message":{"message_id":1,"from":{"id":9},"chat":{"id":3},"text":"/Start@ShopBot  ref42"}}`), now)
		require.NoError(t, err)
		assert.Equal(t, "5", ev.ID)
		assert.Equal(t, domain.KindCommand, ev.Kind)
		assert.Equal(t, "start", ev.Name)
		assert.Equal(t, "ref42", ev.Value(domain.PayloadArgs))
		assert.Equal(t, int64(3), ev.ChatID)
		assert.Equal(t, int64(9), ev.UserID)
		assert.Equal(t, now, ev.ReceivedAt)
	})

	t.Run("callback query", func(t *testing.T) {
		ev, err := ParseUpdate([]byte(buyUpdate), now)
		require.NoError(t, err)
		assert.Equal(t, domain.KindCallbackAction, ev.Kind)
		assert.Equal(t, "buy_1", ev.Name)
		assert.Equal(t, "cb-1", ev.Value(domain.PayloadCallbackID))
		assert.Equal(t, int64(-100), ev.ChatID)
		assert.Equal(t, domain.Buyer{UserID: 42, ChatID: -100}, ev.Buyer())
	})

	t.Run("callback on accessible message", func(t *testing.T) {
		ev, err := ParseUpdate([]byte(`{"update_id":7,"callback_query":{"id":"y","from":{"id":8},"message":{"message_id":12,"date":1700000000,"chat":{"id":-200,"type":"group"}},"data":"movie_1"}}`), now)
		require.NoError(t, err)
		assert.Equal(t, int64(-200), ev.ChatID)
		assert.Equal(t, "12", ev.Value(domain.PayloadMessageID))
	})

	t.Run("callback without message falls back to sender chat", func(t *testing.T) {
		ev, err := ParseUpdate([]byte(`{"update_id":6,"callback_query":{"id":"x","from":{"id":8},"data":"item_2"}}`), now)
		require.NoError(t, err)
		assert.Equal(t, int64(8), ev.ChatID)
	})

	malformed := map[string]string{
		"not json":           `{`,
		"no update id":       `{"message":{"from":{"id":1},"chat":{"id":1},"text":"/start"}}`,
		"empty update":       `{"update_id":1}`,
		"plain text":         `{"update_id":1,"message":{"from":{"id":1},"chat":{"id":1},"text":"hello"}}`,
		"bare slash":         `{"update_id":1,"message":{"from":{"id":1},"chat":{"id":1},"text":"/"}}`,
		"no chat":            `{"update_id":1,"message":{"from":{"id":1},"text":"/start"}}`,
		"callback no data":   `{"update_id":1,"callback_query":{"id":"x","from":{"id":1}}}`,
		"callback no id":     `{"update_id":1,"callback_query":{"from":{"id":1},"data":"buy_1"}}`,
		"callback no sender": `{"update_id":1,"callback_query":{"id":"x","data":"buy_1"}}`,
		"command no sender":  `{"update_id":1,"message":{"chat":{"id":1},"text":"/start"}}`,
		"wrong field types":  `{"update_id":"one"}`,
	}
	for name, raw := range malformed {
		t.Run(name, func(t *testing.T) {
			_, err := ParseUpdate([]byte(raw), now)
			assert.ErrorIs(t, err, domain.ErrMalformedEvent)
		})
	}
}
