package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/zulandar/conductor/internal/logger"
	"github.com/zulandar/conductor/internal/telegraph"
)

// Compile-time interface compliance checks.
var (
	_ Notifier = Nop{}
	_ Notifier = Multi{}
	_ Notifier = (*Hub)(nil)
	_ Notifier = (*Publisher)(nil)
	_ Notifier = (*Chat)(nil)
)

type recorded struct {
	room, event string
	payload     any
}

type recorder struct {
	mu     sync.Mutex
	events []recorded
	err    error
}

func (r *recorder) Notify(_ context.Context, room, event string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recorded{room, event, payload})
	return r.err
}

func (r *recorder) all() []recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recorded(nil), r.events...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestRooms(t *testing.T) {
	if got := ProjectRoom(7); got != "project:7" {
		t.Errorf("ProjectRoom = %q", got)
	}
	if got := ManagerRoom(7); got != "project:7:manager" {
		t.Errorf("ManagerRoom = %q", got)
	}
	if IsManagerRoom(ProjectRoom(7)) || !IsManagerRoom(ManagerRoom(7)) {
		t.Error("IsManagerRoom misclassifies rooms")
	}
}

func TestMulti_JoinsErrors(t *testing.T) {
	a, b := &recorder{err: errors.New("a down")}, &recorder{}
	err := Multi{a, nil, b}.Notify(context.Background(), "r", "e", 1)
	if err == nil || !strings.Contains(err.Error(), "a down") {
		t.Errorf("err = %v", err)
	}
	if len(a.all()) != 1 || len(b.all()) != 1 {
		t.Error("every notifier should be tried")
	}
	if err := (Nop{}).Notify(context.Background(), "r", "e", nil); err != nil {
		t.Errorf("Nop: %v", err)
	}
}

func startHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(logger.Nop())
	go hub.Run(ctx)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rooms := strings.Split(r.URL.Query().Get("rooms"), ",")
		if err := hub.ServeWS(w, r, r.URL.Query().Get("user"), rooms); err != nil {
			t.Logf("ServeWS: %v", err)
		}
	}))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, user, rooms string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?user=" + user + "&rooms=" + rooms
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return m
}

func TestHub_DeliversToRoom(t *testing.T) {
	hub, srv := startHub(t)
	manager := dial(t, srv, "alice", "project:1,project:1:manager")
	dial(t, srv, "bob", "project:1")
	waitFor(t, func() bool { return hub.RoomSize("project:1") == 2 })

	ctx := context.Background()
	err := hub.Notify(ctx, ManagerRoom(1), EventNewPendingChanges, Submitted{ProjectID: 1, SubmissionID: "s1", ChangesCount: 2})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	m := readMessage(t, manager)
	if m.Room != "project:1:manager" || m.Event != EventNewPendingChanges {
		t.Errorf("message = %+v", m)
	}
	var p Submitted
	json.Unmarshal(m.Payload, &p)
	if p.SubmissionID != "s1" || p.ChangesCount != 2 {
		t.Errorf("payload = %+v", p)
	}
	if hub.ConnectionCount() != 2 {
		t.Errorf("ConnectionCount = %d, want 2", hub.ConnectionCount())
	}
}

func TestHub_UnregistersOnClose(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, srv, "bob", "project:1")
	waitFor(t, func() bool { return hub.RoomSize("project:1") == 1 })

	conn.Close()
	waitFor(t, func() bool { return hub.RoomSize("project:1") == 0 })
}

func TestHub_StoppedRejectsNotify(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(logger.Nop())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	// fill the buffer so the only ready case is the stopped hub
	for i := 0; i < cap(hub.broadcast); i++ {
		hub.broadcast <- delivery{}
	}
	if err := hub.Notify(context.Background(), "r", "e", nil); !errors.Is(err, ErrStopped) {
		t.Errorf("err = %v, want ErrStopped", err)
	}
}

func TestRedis_PublishAndSubscribe(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { client.Close() })

	sink := &recorder{}
	sub := NewSubscriber(client, "", sink, logger.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- sub.Run(ctx) }()
	waitFor(t, func() bool { return len(s.PubSubChannels("")) == 1 })

	pub := NewPublisher(client, "")
	if err := pub.Notify(ctx, ProjectRoom(3), EventDataChanged, DataChanged{ProjectID: 3, Reason: "row_update"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	client.Publish(ctx, DefaultChannel, "not json")

	waitFor(t, func() bool { return len(sink.all()) == 1 })
	got := sink.all()[0]
	if got.room != "project:3" || got.event != EventDataChanged {
		t.Errorf("forwarded = %+v", got)
	}
	raw, ok := got.payload.(json.RawMessage)
	if !ok || !strings.Contains(string(raw), `"reason":"row_update"`) {
		t.Errorf("payload = %v", got.payload)
	}

	cancel()
	if err := <-errc; err != nil {
		t.Errorf("Run: %v", err)
	}
}

func TestChat_PostsSubmissionsOnce(t *testing.T) {
	slack := telegraph.NewMockAdapter("slack")
	discord := telegraph.NewMockAdapter("discord")
	chat := NewChat(slack, discord)
	ctx := context.Background()

	p := Submitted{Project: "cutover", SubmissionID: "s1", SubmittedBy: "bob", SubmittedByRole: "Ops", Counts: map[string]int{"row_add": 1}}
	Multi{chat}.Notify(ctx, ProjectRoom(1), EventNewPendingChanges, p)
	chat.Notify(ctx, ManagerRoom(1), EventNewPendingChanges, p)
	chat.Notify(ctx, ProjectRoom(1), EventDataChanged, DataChanged{ProjectID: 1})

	for _, a := range []*telegraph.MockAdapter{slack, discord} {
		sent := a.Sent()
		if len(sent) != 1 {
			t.Fatalf("%s sent = %d, want 1", a.Name(), len(sent))
		}
		if sent[0].Text != "1 change submitted to cutover" {
			t.Errorf("%s text = %q", a.Name(), sent[0].Text)
		}
	}
}

func TestChat_ScriptFailuresOnly(t *testing.T) {
	slack := telegraph.NewMockAdapter("slack")
	chat := NewChat(slack)
	ctx := context.Background()

	chat.Notify(ctx, ProjectRoom(1), EventScriptExecuted, ScriptRun{Name: "disk", Passed: true})
	chat.Notify(ctx, ProjectRoom(1), EventScriptExecuted, ScriptRun{Name: "disk", Project: "p", Passed: false, Output: "full"})

	sent := slack.Sent()
	if len(sent) != 1 || sent[0].Events[0].Color != telegraph.ColorError {
		t.Errorf("sent = %+v", sent)
	}
}

func TestChat_ReportsAdapterErrors(t *testing.T) {
	slack := telegraph.NewMockAdapter("slack")
	slack.SetSendError(errors.New("invalid_auth"))
	err := NewChat(slack).Notify(context.Background(), ProjectRoom(1), EventNewPendingChanges, Submitted{Counts: map[string]int{}})
	if err == nil || !strings.Contains(err.Error(), "post to slack") {
		t.Errorf("err = %v", err)
	}
}
