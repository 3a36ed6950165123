package chat

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// fakeServer answers each request with the given chunks. The last request
// seen is sent on reqs.
func fakeServer(t *testing.T, chunks []string, reqs chan<- Request) string {
	t.Helper()
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var req Request
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			if reqs != nil {
				reqs <- req
			}
			for _, c := range chunks {
				if err := conn.WriteMessage(websocket.TextMessage, []byte(c)); err != nil {
					return
				}
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestSend_StreamsAndRecordsHistory(t *testing.T) {
	reqs := make(chan Request, 2)
	s := NewSession(fakeServer(t, []string{"Hel", "lo", EndMarker}, reqs))
	defer s.Close()

	var chunks []string
	reply, err := s.Send(context.Background(), "hi", func(c string) { chunks = append(chunks, c) })
	if err != nil {
		t.Fatal(err)
	}
	if reply != "Hello" || len(chunks) != 2 {
		t.Errorf("reply = %q, chunks = %q", reply, chunks)
	}
	first := <-reqs
	if first.Message != "hi" || len(first.History) != 0 {
		t.Errorf("first request = %+v", first)
	}

	if _, err := s.Send(context.Background(), "again", nil); err != nil {
		t.Fatal(err)
	}
	second := <-reqs
	if len(second.History) != 2 || second.History[0].Role != RoleUser || second.History[1].Content != "Hello" {
		t.Errorf("second request history = %+v", second.History)
	}
	if h := s.History(); len(h) != 4 {
		t.Errorf("history = %+v", h)
	}
	s.Reset()
	if len(s.History()) != 0 {
		t.Error("reset should clear history")
	}
}

func TestSend_ErrorMarker(t *testing.T) {
	s := NewSession(fakeServer(t, []string{"partial", ErrorMarker}, nil))
	defer s.Close()
	_, err := s.Send(context.Background(), "hi", nil)
	if !errors.Is(err, ErrChatProtocol) {
		t.Errorf("err = %v, want ErrChatProtocol", err)
	}
	if len(s.History()) != 0 {
		t.Error("failed reply must not be recorded")
	}
}

func TestSend_EmptyMessage(t *testing.T) {
	s := NewSession("ws://127.0.0.1:1/ws/chat")
	if _, err := s.Send(context.Background(), "  \n", nil); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("err = %v, want ErrEmptyMessage", err)
	}
}

func TestSend_DialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()
	s := NewSession(url)
	if _, err := s.Send(context.Background(), "hi", nil); err == nil {
		t.Error("expected dial error")
	}
}

// TestSend_ContextCancel unblocks a reply that never ends.
func TestSend_ContextCancel(t *testing.T) {
	s := NewSession(fakeServer(t, []string{"never ends"}, nil))
	defer s.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := s.Send(ctx, "hi", nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

// TestClose_AbortsStreamingReply closes the session while a reply that
// never ends is being read; neither call may hang.
func TestClose_AbortsStreamingReply(t *testing.T) {
	s := NewSession(fakeServer(t, []string{"never ends"}, nil))

	chunk := make(chan struct{}, 1)
	done := make(chan error, 1)
	go func() {
		_, err := s.Send(context.Background(), "hi", func(string) {
			select {
			case chunk <- struct{}{}:
			default:
			}
		})
		done <- err
	}()
	<-chunk

	closed := make(chan struct{})
	go func() {
		s.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked on a streaming reply")
	}

	select {
	case err := <-done:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("err = %v, want ErrClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Send did not return after Close")
	}

	if _, err := s.Send(context.Background(), "again", nil); !errors.Is(err, ErrClosed) {
		t.Errorf("send after close: err = %v, want ErrClosed", err)
	}
}

func TestForwarder_Queue(t *testing.T) {
	f := NewForwarder(2)
	f.Forward("a")
	f.Forward("b")
	f.Forward("c") // dropped
	got := f.Pending()
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("pending = %q", got)
	}

	f.Forward("d")
	m, ok := f.Next(context.Background())
	if !ok || m != "d" {
		t.Errorf("next = %q, %v", m, ok)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, ok := f.Next(ctx); ok {
		t.Error("next on cancelled context should fail")
	}
}
