package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectFrames(t *testing.T, frames <-chan Frame) []Frame {
	t.Helper()
	var out []Frame
	for {
		select {
		case frame, ok := <-frames:
			if !ok {
				return out
			}
			out = append(out, frame)
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for frames")
		}
	}
}

func TestStreamMessage(t *testing.T) {
	t.Run("should parse a full frame sequence", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/messages/stream", r.URL.Path)
			w.Write([]byte(`{"type":"start","user_id":"u1"}` + "\n"))
			w.Write([]byte(`{"type":"token","delta":"Hi"}` + "\n"))
			w.Write([]byte(`{"type":"token","delta":" there"}` + "\n"))
			w.Write([]byte(`{"type":"end","assistant_id":"a1","content":"Hi there"}` + "\n"))
		}))
		defer server.Close()

		frames, err := NewClient(server.URL).StreamMessage(context.Background(), MessageRequest{TreeID: "t1", Content: "hello"})
		require.NoError(t, err)

		got := collectFrames(t, frames)
		require.Len(t, got, 4)
		assert.Equal(t, FrameStart, got[0].Type)
		assert.Equal(t, "u1", got[0].UserID)
		assert.Equal(t, "Hi", got[1].Delta)
		assert.Equal(t, FrameEnd, got[3].Type)
		assert.Equal(t, "a1", got[3].AssistantID)
		assert.Equal(t, "Hi there", got[3].Content)
	})

	t.Run("should reassemble frames split across chunk boundaries", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			flusher := w.(http.Flusher)
			w.Write([]byte(`{"type":"start","user_id":"u1"}` + "\n" + `{"type":"tok`))
			flusher.Flush()
			w.Write([]byte(`en","delta":"Hi"}` + "\n"))
			flusher.Flush()
			w.Write([]byte(`{"type":"end","assistant_id":"a1","content":"Hi"}` + "\n"))
		}))
		defer server.Close()

		frames, err := NewClient(server.URL).StreamMessage(context.Background(), MessageRequest{TreeID: "t1", Content: "hello"})
		require.NoError(t, err)

		got := collectFrames(t, frames)
		require.Len(t, got, 3)
		assert.Equal(t, FrameToken, got[1].Type)
		assert.Equal(t, "Hi", got[1].Delta)
	})

	t.Run("should parse a trailing partial line at stream end", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// No trailing newline on the final frame.
			w.Write([]byte(`{"type":"start","user_id":"u1"}` + "\n"))
			w.Write([]byte(`{"type":"end","assistant_id":"a1","content":""}`))
		}))
		defer server.Close()

		frames, err := NewClient(server.URL).StreamMessage(context.Background(), MessageRequest{TreeID: "t1", Content: "x"})
		require.NoError(t, err)

		got := collectFrames(t, frames)
		require.Len(t, got, 2)
		assert.Equal(t, FrameEnd, got[1].Type)
	})

	t.Run("should report malformed frames as protocol errors", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"type":"start","user_id":"u1"}` + "\n"))
			w.Write([]byte("{not json}\n"))
		}))
		defer server.Close()

		frames, err := NewClient(server.URL).StreamMessage(context.Background(), MessageRequest{TreeID: "t1", Content: "x"})
		require.NoError(t, err)

		got := collectFrames(t, frames)
		require.Len(t, got, 2)
		require.Error(t, got[1].Err)

		var protoErr *ProtocolError
		assert.True(t, errors.As(got[1].Err, &protoErr))
	})

	t.Run("should deliver an explicit error frame verbatim", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"type":"error","message":"model unavailable"}` + "\n"))
		}))
		defer server.Close()

		frames, err := NewClient(server.URL).StreamMessage(context.Background(), MessageRequest{TreeID: "t1", Content: "x"})
		require.NoError(t, err)

		got := collectFrames(t, frames)
		require.Len(t, got, 1)
		assert.Equal(t, FrameError, got[0].Type)
		assert.Equal(t, "model unavailable", got[0].Message)
		assert.NoError(t, got[0].Err)
	})

	t.Run("should resolve cancellation into a context error frame", func(t *testing.T) {
		started := make(chan struct{})
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			flusher := w.(http.Flusher)
			w.Write([]byte(`{"type":"start","user_id":"u1"}` + "\n"))
			flusher.Flush()
			close(started)
			// Stall until the client goes away.
			<-r.Context().Done()
		}))
		defer server.Close()

		ctx, cancel := context.WithCancel(context.Background())
		frames, err := NewClient(server.URL).StreamMessage(ctx, MessageRequest{TreeID: "t1", Content: "x"})
		require.NoError(t, err)

		<-started
		cancel()

		got := collectFrames(t, frames)
		require.NotEmpty(t, got)
		last := got[len(got)-1]
		require.Error(t, last.Err)
		assert.True(t, errors.Is(last.Err, context.Canceled))
	})

	t.Run("should reject non-200 responses before streaming", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"detail":"no parent"}`))
		}))
		defer server.Close()

		_, err := NewClient(server.URL).StreamMessage(context.Background(), MessageRequest{TreeID: "t1", Content: "x"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no parent")
	})
}
