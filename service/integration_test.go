package service

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ory/dockertest/v3"
	"github.com/pion/webrtc/v3"
	"golang.org/x/sync/errgroup"

	"github.com/dyadchat/dyad/auth"
	"github.com/dyadchat/dyad/cockroach"
	"github.com/dyadchat/dyad/cockroach/migrator"
	"github.com/dyadchat/dyad/pubsub"
	"github.com/dyadchat/dyad/ptr"
	"github.com/dyadchat/dyad/realtime"
	"github.com/dyadchat/dyad/types"
)

var (
	testDB        *pgxpool.Pool
	testCockroach *cockroach.Cockroach
)

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func testMain(m *testing.M) int {
	var skipIntegration bool
	flag.BoolVar(&skipIntegration, "skip-integration", false, "Skip integration tests docker setup")
	flag.Parse()

	if skipIntegration || testing.Short() {
		return m.Run()
	}

	pool, err := dockertest.NewPool("")
	if err != nil {
		fmt.Printf("could not create docker pool: %v\n", err)
		return 1
	}

	var cleanup func() error
	testDB, cleanup, err = setupTestDB(pool)
	if err != nil {
		fmt.Printf("could not setup test db: %v\n", err)
		return 1
	}
	testCockroach = cockroach.New(testDB)

	if err := migrator.Migrate(context.Background(), testDB, cockroach.MigrationsFS); err != nil {
		fmt.Printf("could not migrate schema: %v\n", err)
		return 1
	}

	defer func() {
		if err := cleanup(); err != nil {
			fmt.Printf("could not cleanup cockroach container: %v\n", err)
		}
	}()

	return m.Run()
}

func setupTestDB(pool *dockertest.Pool) (*pgxpool.Pool, func() error, error) {
	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "cockroachdb/cockroach",
		Tag:        "latest",
		Cmd:        []string{"start-single-node", "--insecure"},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("could not create cockroach resource: %w", err)
	}

	var db *pgxpool.Pool
	err = pool.Retry(func() (err error) {
		hostPort := resource.GetHostPort("26257/tcp")
		db, err = pgxpool.New(context.Background(), "postgresql://root@"+hostPort+"/defaultdb?sslmode=disable")
		if err != nil {
			return fmt.Errorf("could not open db: %w", err)
		}

		// do not close db

		if err = db.Ping(context.Background()); err != nil {
			return fmt.Errorf("could not ping db: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	return db, func() error {
		return pool.Purge(resource)
	}, nil
}

func skipIfNoDB(t *testing.T) {
	t.Helper()
	if testCockroach == nil {
		t.Skip("integration tests disabled")
	}
}

func newTestService(t *testing.T) *Service {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	hub := realtime.NewHub(pubsub.NewMemory(), logger, nil)

	var svc *Service
	presence := realtime.NewPresence(time.Millisecond, func(userID string, online bool) {
		svc.PresenceChanged(userID, online)
	})

	svc = New(&Config{
		Cockroach: testCockroach,
		Hub:       hub,
		Presence:  presence,
		Logger:    logger,

		TokenKey:    "supersecretkeyyoushouldnotcommit",
		RingTimeout: 45 * time.Second,

		BaseCtx:           context.Background(),
		BackgroundTimeout: 5 * time.Second,
	})
	t.Cleanup(func() {
		_ = svc.Close()
	})
	return svc
}

var userSeq atomic.Int64

func loginUser(t *testing.T, svc *Service) (types.User, context.Context) {
	t.Helper()

	username := fmt.Sprintf("user%d", userSeq.Add(1))
	out, err := svc.Login(context.Background(), types.Login{Username: username})
	if err != nil {
		t.Fatalf("login %s: %v", username, err)
	}

	return out.User, auth.ContextWithUser(context.Background(), out.User)
}

type testSession struct {
	id     string
	userID string
	got    chan types.Event
}

func newTestSession(id, userID string) *testSession {
	return &testSession{id: id, userID: userID, got: make(chan types.Event, 32)}
}

func (s *testSession) ID() string     { return s.id }
func (s *testSession) UserID() string { return s.userID }
func (s *testSession) Close()         {}

func (s *testSession) Send(ev types.Event) error {
	s.got <- ev
	return nil
}

func (s *testSession) next(t *testing.T) types.Event {
	t.Helper()
	select {
	case ev := <-s.got:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return types.Event{}
	}
}

func (s *testSession) expectNone(t *testing.T) {
	t.Helper()
	select {
	case ev := <-s.got:
		t.Fatalf("unexpected event: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestLogin_SameUsernameSameUser(t *testing.T) {
	skipIfNoDB(t)
	svc := newTestService(t)

	first, err := svc.Login(context.Background(), types.Login{Username: "returninguser"})
	if err != nil {
		t.Fatalf("first login: %v", err)
	}

	second, err := svc.Login(context.Background(), types.Login{Username: "returninguser"})
	if err != nil {
		t.Fatalf("second login: %v", err)
	}

	if first.User.ID != second.User.ID {
		t.Errorf("got two different users %s and %s for one username", first.User.ID, second.User.ID)
	}

	userID, err := svc.AuthUserIDFromToken(second.Token)
	if err != nil {
		t.Fatalf("decode token: %v", err)
	}
	if userID != first.User.ID {
		t.Errorf("token decodes to %s, want %s", userID, first.User.ID)
	}
}

func TestEnsureConversation_SamePairConverges(t *testing.T) {
	skipIfNoDB(t)
	svc := newTestService(t)

	alice, aliceCtx := loginUser(t, svc)
	bob, bobCtx := loginUser(t, svc)

	fromAlice, err := svc.EnsureConversation(aliceCtx, types.EnsureConversation{OtherUserID: bob.ID})
	if err != nil {
		t.Fatalf("ensure from alice: %v", err)
	}

	fromBob, err := svc.EnsureConversation(bobCtx, types.EnsureConversation{OtherUserID: alice.ID})
	if err != nil {
		t.Fatalf("ensure from bob: %v", err)
	}

	if fromAlice.ID != fromBob.ID {
		t.Errorf("pair produced two conversations %s and %s", fromAlice.ID, fromBob.ID)
	}

	if fromAlice.Participation == nil || fromAlice.Participation.OtherUserID != bob.ID {
		t.Errorf("alice's participation = %+v, want other user %s", fromAlice.Participation, bob.ID)
	}

	if _, err := svc.EnsureConversation(aliceCtx, types.EnsureConversation{OtherUserID: alice.ID}); err == nil {
		t.Error("self conversation should be rejected")
	}
}

func TestSendMessage_LedgerAndFanout(t *testing.T) {
	skipIfNoDB(t)
	svc := newTestService(t)

	alice, aliceCtx := loginUser(t, svc)
	bob, bobCtx := loginUser(t, svc)

	conv, err := svc.EnsureConversation(aliceCtx, types.EnsureConversation{OtherUserID: bob.ID})
	if err != nil {
		t.Fatalf("ensure conversation: %v", err)
	}

	alicePhone := newTestSession("alice-phone", alice.ID)
	aliceLaptop := newTestSession("alice-laptop", alice.ID)
	bobPhone := newTestSession("bob-phone", bob.ID)
	for _, sess := range []realtime.Session{alicePhone, aliceLaptop, bobPhone} {
		if err := svc.Hub.Register(sess); err != nil {
			t.Fatalf("register session: %v", err)
		}
	}

	sent, err := svc.SendMessage(aliceCtx, types.SendMessage{
		ConversationID: conv.ID,
		Content:        "hello bob",
		IdempotencyKey: "key-123",
	})
	if err != nil {
		t.Fatalf("send message: %v", err)
	}

	// the sender's own devices get the echo with the idempotency key
	for _, sess := range []*testSession{alicePhone, aliceLaptop, bobPhone} {
		ev := sess.next(t)
		if ev.Type != types.EventReceiveMessage {
			t.Fatalf("session %s: event type = %s", sess.id, ev.Type)
		}
		if ev.Message == nil || ev.Message.ID != sent.ID {
			t.Fatalf("session %s: message = %+v", sess.id, ev.Message)
		}
		if ev.IdempotencyKey != "key-123" {
			t.Errorf("session %s: idempotency key = %q", sess.id, ev.IdempotencyKey)
		}
	}

	// the recipient's unread counter moved, the sender's did not
	page, err := svc.Conversations(bobCtx, types.ListConversations{})
	if err != nil {
		t.Fatalf("list bob conversations: %v", err)
	}
	if len(page.Items) != 1 {
		t.Fatalf("bob has %d conversations, want 1", len(page.Items))
	}
	got := page.Items[0]
	if got.Participation.UnreadCount != 1 {
		t.Errorf("bob unread = %d, want 1", got.Participation.UnreadCount)
	}
	if got.LastMessage == nil || got.LastMessage.ID != sent.ID {
		t.Errorf("bob last message = %+v, want %s", got.LastMessage, sent.ID)
	}

	alicePage, err := svc.Conversations(aliceCtx, types.ListConversations{})
	if err != nil {
		t.Fatalf("list alice conversations: %v", err)
	}
	if alicePage.Items[0].Participation.UnreadCount != 0 {
		t.Errorf("alice unread = %d, want 0", alicePage.Items[0].Participation.UnreadCount)
	}

	if _, err := svc.SendMessage(bobCtx, types.SendMessage{ConversationID: conv.ID, Content: ""}); err == nil {
		t.Error("empty message should be rejected")
	}
}

func TestSendMessage_DeliveredForConnectedRecipient(t *testing.T) {
	skipIfNoDB(t)
	svc := newTestService(t)

	_, aliceCtx := loginUser(t, svc)
	bob, bobCtx := loginUser(t, svc)

	// connect bob before any conversation exists so no presence fan-out
	// interleaves with the message below
	bobPhone := newTestSession("bob-live", bob.ID)
	if err := svc.ConnectSession(bobCtx, bobPhone, "test"); err != nil {
		t.Fatalf("connect session: %v", err)
	}

	conv, err := svc.EnsureConversation(aliceCtx, types.EnsureConversation{OtherUserID: bob.ID})
	if err != nil {
		t.Fatalf("ensure conversation: %v", err)
	}

	sent, err := svc.SendMessage(aliceCtx, types.SendMessage{ConversationID: conv.ID, Content: "you there?"})
	if err != nil {
		t.Fatalf("send message: %v", err)
	}
	if sent.Status != types.MessageStatusDelivered {
		t.Errorf("status = %s, want delivered while the recipient is connected", sent.Status)
	}

	ev := bobPhone.next(t)
	if ev.Type != types.EventReceiveMessage || ev.Message == nil || ev.Message.ID != sent.ID {
		t.Fatalf("bob got %+v, want the message", ev)
	}
}

func TestSendMessage_AttachmentMetadata(t *testing.T) {
	skipIfNoDB(t)
	svc := newTestService(t)

	_, aliceCtx := loginUser(t, svc)
	bob, bobCtx := loginUser(t, svc)

	conv, err := svc.EnsureConversation(aliceCtx, types.EnsureConversation{OtherUserID: bob.ID})
	if err != nil {
		t.Fatalf("ensure conversation: %v", err)
	}

	sent, err := svc.SendMessage(aliceCtx, types.SendMessage{
		ConversationID: conv.ID,
		Content:        "look at this",
		Attachments: []types.AttachmentInput{{
			ContentType: "image/jpeg",
			URL:         "https://media.example.com/objects/abc123",
			Name:        "sunset.jpg",
			SizeBytes:   1 << 20,
		}},
	})
	if err != nil {
		t.Fatalf("send message: %v", err)
	}
	if len(sent.Attachments) != 1 {
		t.Fatalf("got %d attachments on the sent message, want 1", len(sent.Attachments))
	}
	if sent.Attachments[0].ID == "" || sent.Attachments[0].MessageID != sent.ID {
		t.Errorf("stored attachment = %+v", sent.Attachments[0])
	}

	// attachment-only messages are fine, the content requirement moves over
	if _, err := svc.SendMessage(aliceCtx, types.SendMessage{
		ConversationID: conv.ID,
		Attachments: []types.AttachmentInput{{
			ContentType: "audio/ogg",
			URL:         "https://media.example.com/objects/def456",
		}},
	}); err != nil {
		t.Fatalf("attachment-only message: %v", err)
	}

	if _, err := svc.SendMessage(aliceCtx, types.SendMessage{
		ConversationID: conv.ID,
		Attachments:    []types.AttachmentInput{{ContentType: "image/png"}},
	}); err == nil {
		t.Error("attachment without a URL should be rejected")
	}

	msgs, err := svc.Messages(bobCtx, types.ListMessages{ConversationID: conv.ID})
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	byID := make(map[string]types.Message, len(msgs.Items))
	for _, msg := range msgs.Items {
		byID[msg.ID] = msg
	}
	got, ok := byID[sent.ID]
	if !ok {
		t.Fatalf("message %s missing from listing", sent.ID)
	}
	if len(got.Attachments) != 1 || got.Attachments[0].URL != "https://media.example.com/objects/abc123" {
		t.Errorf("listed attachments = %+v", got.Attachments)
	}
	if got.Attachments[0].SizeBytes != 1<<20 || got.Attachments[0].ContentType != "image/jpeg" {
		t.Errorf("listed attachment metadata = %+v", got.Attachments[0])
	}
}

func TestMarkConversationRead_IdempotentFanout(t *testing.T) {
	skipIfNoDB(t)
	svc := newTestService(t)

	alice, aliceCtx := loginUser(t, svc)
	bob, bobCtx := loginUser(t, svc)

	conv, err := svc.EnsureConversation(aliceCtx, types.EnsureConversation{OtherUserID: bob.ID})
	if err != nil {
		t.Fatalf("ensure conversation: %v", err)
	}

	for _, content := range []string{"one", "two", "three"} {
		if _, err := svc.SendMessage(aliceCtx, types.SendMessage{ConversationID: conv.ID, Content: content}); err != nil {
			t.Fatalf("send %q: %v", content, err)
		}
	}

	aliceSess := newTestSession("alice-1", alice.ID)
	if err := svc.Hub.Register(aliceSess); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := svc.MarkConversationRead(bobCtx, types.MarkConversationRead{ConversationID: conv.ID}); err != nil {
		t.Fatalf("mark read: %v", err)
	}

	ev := aliceSess.next(t)
	if ev.Type != types.EventMessagesRead || ev.ConversationID != conv.ID || ev.UserID != bob.ID {
		t.Fatalf("got %+v, want messages read by bob", ev)
	}

	page, err := svc.Conversations(bobCtx, types.ListConversations{})
	if err != nil {
		t.Fatalf("list conversations: %v", err)
	}
	if n := page.Items[0].Participation.UnreadCount; n != 0 {
		t.Errorf("unread after read = %d, want 0", n)
	}

	msgs, err := svc.Messages(bobCtx, types.ListMessages{ConversationID: conv.ID})
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	for _, msg := range msgs.Items {
		if msg.Status != types.MessageStatusRead {
			t.Errorf("message %s status = %s, want read", msg.ID, msg.Status)
		}
	}

	// a retried mark-read has nothing to change and stays silent
	if err := svc.MarkConversationRead(bobCtx, types.MarkConversationRead{ConversationID: conv.ID}); err != nil {
		t.Fatalf("second mark read: %v", err)
	}
	aliceSess.expectNone(t)
}

func TestLedger_ConcurrentSendAndRead(t *testing.T) {
	skipIfNoDB(t)
	svc := newTestService(t)

	alice, aliceCtx := loginUser(t, svc)
	bob, bobCtx := loginUser(t, svc)

	conv, err := svc.EnsureConversation(aliceCtx, types.EnsureConversation{OtherUserID: bob.ID})
	if err != nil {
		t.Fatalf("ensure conversation: %v", err)
	}

	const (
		senders          = 4
		messagesPerGo    = 5
		concurrentReads  = 8
		expectedMessages = senders * messagesPerGo
	)

	g, gctx := errgroup.WithContext(context.Background())
	for s := range senders {
		g.Go(func() error {
			ctx := auth.ContextWithUser(gctx, alice)
			for i := range messagesPerGo {
				_, err := svc.SendMessage(ctx, types.SendMessage{
					ConversationID: conv.ID,
					Content:        fmt.Sprintf("sender %d message %d", s, i),
				})
				if err != nil {
					return fmt.Errorf("send: %w", err)
				}
			}
			return nil
		})
	}
	for range concurrentReads {
		g.Go(func() error {
			ctx := auth.ContextWithUser(gctx, bob)
			if err := svc.MarkConversationRead(ctx, types.MarkConversationRead{ConversationID: conv.ID}); err != nil {
				return fmt.Errorf("mark read: %w", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	// whatever the interleaving, the counter must equal the number of
	// messages the reads did not catch
	msgs, err := svc.Messages(bobCtx, types.ListMessages{
		ConversationID: conv.ID,
		PageArgs:       types.PageArgs{First: ptr.From(uint(100))},
	})
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs.Items) != expectedMessages {
		t.Fatalf("got %d messages, want %d", len(msgs.Items), expectedMessages)
	}

	var stillUnread int32
	for _, msg := range msgs.Items {
		if msg.Status != types.MessageStatusRead {
			stillUnread++
		}
	}

	page, err := svc.Conversations(bobCtx, types.ListConversations{})
	if err != nil {
		t.Fatalf("list conversations: %v", err)
	}
	if got := page.Items[0].Participation.UnreadCount; got != stillUnread {
		t.Errorf("unread counter = %d, but %d messages are unread", got, stillUnread)
	}

	// a final read settles everything to zero
	if err := svc.MarkConversationRead(bobCtx, types.MarkConversationRead{ConversationID: conv.ID}); err != nil {
		t.Fatalf("final mark read: %v", err)
	}
	page, err = svc.Conversations(bobCtx, types.ListConversations{})
	if err != nil {
		t.Fatalf("list conversations: %v", err)
	}
	if got := page.Items[0].Participation.UnreadCount; got != 0 {
		t.Errorf("unread after final read = %d, want 0", got)
	}
}

func TestDeleteMessage_SoftDeleteAndUnread(t *testing.T) {
	skipIfNoDB(t)
	svc := newTestService(t)

	_, aliceCtx := loginUser(t, svc)
	bob, bobCtx := loginUser(t, svc)

	conv, err := svc.EnsureConversation(aliceCtx, types.EnsureConversation{OtherUserID: bob.ID})
	if err != nil {
		t.Fatalf("ensure conversation: %v", err)
	}

	sent, err := svc.SendMessage(aliceCtx, types.SendMessage{ConversationID: conv.ID, Content: "oops"})
	if err != nil {
		t.Fatalf("send message: %v", err)
	}

	// only the author may delete
	if err := svc.DeleteMessage(bobCtx, types.DeleteMessage{MessageID: sent.ID}); err == nil {
		t.Fatal("bob deleted alice's message")
	}

	if err := svc.DeleteMessage(aliceCtx, types.DeleteMessage{MessageID: sent.ID}); err != nil {
		t.Fatalf("delete message: %v", err)
	}

	page, err := svc.Conversations(bobCtx, types.ListConversations{})
	if err != nil {
		t.Fatalf("list conversations: %v", err)
	}
	if n := page.Items[0].Participation.UnreadCount; n != 0 {
		t.Errorf("unread after delete = %d, want 0", n)
	}

	msgs, err := svc.Messages(bobCtx, types.ListMessages{ConversationID: conv.ID})
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs.Items) != 1 {
		t.Fatalf("got %d messages, want the tombstone", len(msgs.Items))
	}
	if !msgs.Items[0].Deleted || msgs.Items[0].Content != "" {
		t.Errorf("got %+v, want deleted with blank content", msgs.Items[0])
	}

	// deleting again is a no-op
	if err := svc.DeleteMessage(aliceCtx, types.DeleteMessage{MessageID: sent.ID}); err != nil {
		t.Fatalf("repeated delete: %v", err)
	}
}

func TestConnectSession_DeviceListing(t *testing.T) {
	skipIfNoDB(t)
	svc := newTestService(t)

	alice, aliceCtx := loginUser(t, svc)

	phone := newTestSession("alice-phone-conn", alice.ID)
	if err := svc.ConnectSession(aliceCtx, phone, "DyadMobile/1.0 (iPhone)"); err != nil {
		t.Fatalf("connect session: %v", err)
	}

	conns, err := svc.Connections(aliceCtx)
	if err != nil {
		t.Fatalf("list connections: %v", err)
	}
	if len(conns) != 1 {
		t.Fatalf("got %d connections, want 1", len(conns))
	}
	if conns[0].ID != phone.ID() || conns[0].UserAgent != "DyadMobile/1.0 (iPhone)" {
		t.Errorf("connection = %+v, want the phone with its user agent", conns[0])
	}
	if !conns[0].Active {
		t.Error("connection should be active")
	}

	svc.DisconnectSession(phone)

	conns, err = svc.Connections(aliceCtx)
	if err != nil {
		t.Fatalf("list connections after disconnect: %v", err)
	}
	if len(conns) != 0 {
		t.Fatalf("connection still listed after disconnect: %+v", conns)
	}
}

func TestPresence_DurableFlagArbitratesAcrossNodes(t *testing.T) {
	skipIfNoDB(t)

	// two services over one database stand in for two nodes of a cluster
	nodeA := newTestService(t)
	nodeB := newTestService(t)

	alice, aliceCtx := loginUser(t, nodeA)
	bob, _ := loginUser(t, nodeA)
	if _, err := nodeA.EnsureConversation(aliceCtx, types.EnsureConversation{OtherUserID: bob.ID}); err != nil {
		t.Fatalf("ensure conversation: %v", err)
	}

	bobOnA := newTestSession("bob-node-a", bob.ID)
	if err := nodeA.Hub.Register(bobOnA); err != nil {
		t.Fatalf("register: %v", err)
	}
	bobOnB := newTestSession("bob-node-b", bob.ID)
	if err := nodeB.Hub.Register(bobOnB); err != nil {
		t.Fatalf("register: %v", err)
	}

	phoneA := newTestSession("alice-node-a", alice.ID)
	if err := nodeA.ConnectSession(aliceCtx, phoneA, "node-a"); err != nil {
		t.Fatalf("connect on node a: %v", err)
	}

	ev := bobOnA.next(t)
	if ev.Type != types.EventUserOnline || ev.UserID != alice.ID {
		t.Fatalf("got %+v, want alice online", ev)
	}

	// a second device on another node finds the flag already set and
	// announces nothing
	phoneB := newTestSession("alice-node-b", alice.ID)
	if err := nodeB.ConnectSession(aliceCtx, phoneB, "node-b"); err != nil {
		t.Fatalf("connect on node b: %v", err)
	}
	bobOnB.expectNone(t)

	// closing the node B device leaves alice online through node A
	nodeB.DisconnectSession(phoneB)
	bobOnB.expectNone(t)

	u, err := testCockroach.User(context.Background(), alice.ID)
	if err != nil {
		t.Fatalf("fetch user: %v", err)
	}
	if !u.Online {
		t.Fatal("alice went offline while a connection was still open elsewhere")
	}

	// the last connection going away is the real offline transition
	nodeA.DisconnectSession(phoneA)
	ev = bobOnA.next(t)
	if ev.Type != types.EventUserOffline || ev.UserID != alice.ID {
		t.Fatalf("got %+v, want alice offline", ev)
	}

	u, err = testCockroach.User(context.Background(), alice.ID)
	if err != nil {
		t.Fatalf("fetch user: %v", err)
	}
	if u.Online || u.LastSeenAt == nil {
		t.Errorf("user after offline = online %v, last seen %v", u.Online, u.LastSeenAt)
	}
}

func TestCallLifecycle(t *testing.T) {
	skipIfNoDB(t)
	svc := newTestService(t)

	_, aliceCtx := loginUser(t, svc)
	bob, bobCtx := loginUser(t, svc)
	_, carolCtx := loginUser(t, svc)

	bobSess := newTestSession("bob-1", bob.ID)
	if err := svc.Hub.Register(bobSess); err != nil {
		t.Fatalf("register: %v", err)
	}

	call, err := svc.InitiateCall(aliceCtx, types.InitiateCall{ReceiverID: bob.ID, Type: types.CallTypeVideo})
	if err != nil {
		t.Fatalf("initiate call: %v", err)
	}
	if call.Status != types.CallStatusRinging {
		t.Fatalf("call status = %s, want ringing", call.Status)
	}

	ev := bobSess.next(t)
	if ev.Type != types.EventIncomingCall || ev.Call == nil || ev.Call.ID != call.ID {
		t.Fatalf("bob got %+v, want incoming call %s", ev, call.ID)
	}

	// both parties are busy while the call rings
	if _, err := svc.InitiateCall(aliceCtx, types.InitiateCall{ReceiverID: bob.ID, Type: types.CallTypeAudio}); !errors.Is(err, types.ErrAlreadyInCall) {
		t.Errorf("second dial by caller: got %v, want %v", err, types.ErrAlreadyInCall)
	}
	if _, err := svc.InitiateCall(carolCtx, types.InitiateCall{ReceiverID: bob.ID, Type: types.CallTypeAudio}); !errors.Is(err, types.ErrReceiverBusy) {
		t.Errorf("dialing busy receiver: got %v, want %v", err, types.ErrReceiverBusy)
	}

	// only the callee may answer
	if _, err := svc.AcceptCall(aliceCtx, types.CallAction{CallID: call.ID}); !errors.Is(err, types.ErrNotCallee) {
		t.Errorf("caller accepting: got %v, want %v", err, types.ErrNotCallee)
	}

	accepted, err := svc.AcceptCall(bobCtx, types.CallAction{CallID: call.ID})
	if err != nil {
		t.Fatalf("accept call: %v", err)
	}
	if accepted.Status != types.CallStatusActive || accepted.StartedAt == nil {
		t.Fatalf("accepted call = %+v, want active with start time", accepted)
	}

	// a client resending accept after a reconnect succeeds quietly
	again, err := svc.AcceptCall(bobCtx, types.CallAction{CallID: call.ID})
	if err != nil {
		t.Fatalf("duplicate accept: %v", err)
	}
	if again.Status != types.CallStatusActive {
		t.Fatalf("duplicate accept status = %s", again.Status)
	}

	ended, err := svc.EndCall(aliceCtx, types.CallAction{CallID: call.ID})
	if err != nil {
		t.Fatalf("end call: %v", err)
	}
	if ended.Status != types.CallStatusEnded || ended.EndedAt == nil {
		t.Fatalf("ended call = %+v", ended)
	}

	// the call is over; further transitions conflict
	if _, err := svc.EndCall(bobCtx, types.CallAction{CallID: call.ID}); !errors.Is(err, types.ErrCallOver) {
		t.Errorf("hangup after end: got %v, want %v", err, types.ErrCallOver)
	}

	// signals for a finished call are dropped without error
	if err := svc.RelaySignal(aliceCtx, types.RelaySignal{
		CallID: call.ID,
		Kind:   types.SignalICECandidate,
		Candidate: &webrtc.ICECandidateInit{
			Candidate: "candidate:0 1 UDP 2122252543 192.0.2.1 54400 typ host",
		},
	}); err != nil {
		t.Errorf("late signal: %v", err)
	}
}

func TestDeclineCall(t *testing.T) {
	skipIfNoDB(t)
	svc := newTestService(t)

	_, aliceCtx := loginUser(t, svc)
	bob, bobCtx := loginUser(t, svc)

	call, err := svc.InitiateCall(aliceCtx, types.InitiateCall{ReceiverID: bob.ID, Type: types.CallTypeAudio})
	if err != nil {
		t.Fatalf("initiate call: %v", err)
	}

	// only the callee may decline
	if _, err := svc.DeclineCall(aliceCtx, types.CallAction{CallID: call.ID}); !errors.Is(err, types.ErrNotCallee) {
		t.Errorf("caller declining: got %v, want %v", err, types.ErrNotCallee)
	}

	declined, err := svc.DeclineCall(bobCtx, types.CallAction{CallID: call.ID})
	if err != nil {
		t.Fatalf("decline call: %v", err)
	}
	if declined.Status != types.CallStatusDeclined {
		t.Fatalf("declined call status = %s", declined.Status)
	}

	// the pair is free again
	if _, err := svc.InitiateCall(aliceCtx, types.InitiateCall{ReceiverID: bob.ID, Type: types.CallTypeAudio}); err != nil {
		t.Fatalf("redial after decline: %v", err)
	}
}
