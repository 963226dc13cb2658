package websocket

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/stretchr/testify/require"
)

func newEchoServer(t *testing.T) string {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			return
		}
		go func(conn net.Conn) {
			defer conn.Close()
			for {
				data, op, err := wsutil.ReadClientData(conn)
				if err != nil {
					return
				}
				if op == ws.OpText {
					if err := wsutil.WriteServerMessage(conn, ws.OpText, data); err != nil {
						return
					}
				}
			}
		}(conn)
	}))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestClient(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	received := make(chan map[string]string, 1)
	closed := make(chan struct{})

	client, err := Connect(ctx, ClientConfig{
		URL:         newEchoServer(t),
		DialTimeout: time.Second,
		OnText: Json(func(m map[string]string) error {
			received <- m
			return nil
		}),
		OnClose: func(code int, reason string) {
			close(closed)
		},
	})
	require.NoError(t, err)
	require.NotNil(t, client)

	client.WriteText([]byte(`{"hello":"world"}`))

	select {
	case m := <-received:
		require.Equal(t, map[string]string{"hello": "world"}, m)
	case <-ctx.Done():
		t.Fatal("timeout waiting for echo")
	}

	require.NoError(t, client.Close(ctx))

	select {
	case <-closed:
	case <-ctx.Done():
		t.Fatal("timeout waiting for close callback")
	}
}

func TestClient_DialFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := Connect(ctx, ClientConfig{
		URL:         "ws" + strings.TrimPrefix(srv.URL, "http"),
		DialTimeout: time.Second,
	})
	require.Error(t, err)
}
