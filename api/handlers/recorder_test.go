package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusRecorder_CapturesFirstStatus(t *testing.T) {
	w := httptest.NewRecorder()
	rec := NewStatusRecorder(w)

	rec.WriteHeader(http.StatusAccepted)
	rec.WriteHeader(http.StatusInternalServerError)
	_, err := rec.Write([]byte("ok"))
	require.NoError(t, err)

	assert.Equal(t, http.StatusAccepted, rec.Status())
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.False(t, rec.Hijacked())
}

func TestStatusRecorder_ImplicitOK(t *testing.T) {
	rec := NewStatusRecorder(httptest.NewRecorder())
	_, _ = rec.Write([]byte("{}"))
	assert.Equal(t, http.StatusOK, rec.Status())
}

// 升级穿过包装后记录为 101
func TestStatusRecorder_WebSocketUpgrade(t *testing.T) {
	recorded := make(chan *StatusRecorder, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := NewStatusRecorder(w)
		conn, err := websocket.Accept(rec, r, nil)
		if err != nil {
			return
		}
		recorded <- rec
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+srv.URL[len("http"):], nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	select {
	case rec := <-recorded:
		assert.True(t, rec.Hijacked())
		assert.Equal(t, http.StatusSwitchingProtocols, rec.Status())
	case <-time.After(2 * time.Second):
		t.Fatal("upgrade did not reach the handler")
	}
}
