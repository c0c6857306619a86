package runtime

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"chat-relay/domain"
	"chat-relay/observability"

	"github.com/stretchr/testify/require"
)

func newTestRouter() (*Router, *ConnectionRegistry, *RoomDirectory) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := observability.NewMetrics()
	registry := NewConnectionRegistry()
	rooms := NewRoomDirectory()
	presence := NewPresenceBroadcaster(registry, metrics, log)
	return NewRouter(registry, rooms, presence, metrics, log), registry, rooms
}

func connect(router *Router, userID, username string) (*Session, *recordSink) {
	sink := &recordSink{}
	session := newTestSession(userID, username, sink)
	router.HandleConnect(context.Background(), session)
	return session, sink
}

func inbound(t *testing.T, event string, payload any) []byte {
	raw, err := domain.EncodeFrame(event, payload)
	require.NoError(t, err)
	return raw
}

func countEvent(sink *recordSink, event string) int {
	n := 0
	for _, name := range sink.events() {
		if name == event {
			n++
		}
	}
	return n
}

func TestRouter_Connect_Confirms_And_Announces(t *testing.T) {
	req := require.New(t)
	router, registry, _ := newTestRouter()

	// Given alice is already online
	_, aliceSink := connect(router, "u-alice", "alice")

	// When bob connects
	bob, bobSink := connect(router, "u-bob", "bob")

	// Then bob receives his connection confirmation
	var connected domain.ConnectedPayload
	req.True(bobSink.lastPayload(domain.EventConnected, &connected))
	req.Equal("u-bob", connected.UserID)
	req.Equal(bob.ConnectionID, connected.ConnectionID)

	// And alice is told bob came online, bob is not told about himself
	var online domain.PresencePayload
	req.True(aliceSink.lastPayload(domain.EventUserOnline, &online))
	req.Equal("u-bob", online.UserID)
	req.Zero(countEvent(bobSink, domain.EventUserOnline))

	req.True(registry.IsOnline("u-bob"))
}

func TestRouter_Connect_Supersedes_Previous_Session(t *testing.T) {
	req := require.New(t)
	router, registry, rooms := newTestRouter()
	ctx := context.Background()

	// Given alice is connected and sits in a room
	first, firstSink := connect(router, "u-alice", "alice")
	router.Dispatch(ctx, first, inbound(t, domain.EventJoinRoom, domain.JoinRoomPayload{RoomID: "general"}))
	_, observerSink := connect(router, "u-bob", "bob")

	// When alice connects again from another device
	second, _ := connect(router, "u-alice", "alice")

	// Then the first connection is force-closed and detached from its rooms
	req.True(firstSink.closed)
	req.Equal(CloseReplaced, firstSink.closeCode)
	req.Empty(rooms.Members("general"))

	connID, _ := registry.Lookup("u-alice")
	req.Equal(second.ConnectionID, connID)

	// And when the stale connection's disconnect finally fires, nobody
	// sees alice go offline because her newer session is live
	router.HandleDisconnect(ctx, first)
	req.True(registry.IsOnline("u-alice"))
	req.Zero(countEvent(observerSink, domain.EventUserOffline))
}

func TestRouter_Superseded_Connection_Late_Join_Is_Swept_On_Disconnect(t *testing.T) {
	req := require.New(t)
	router, registry, rooms := newTestRouter()
	ctx := context.Background()

	// Given alice's first connection was superseded by a second one
	first, _ := connect(router, "u-alice", "alice")
	connect(router, "u-alice", "alice")

	// When an event still in flight on the stale connection joins a
	// room after the replacement's cleanup already ran
	router.Dispatch(ctx, first, inbound(t, domain.EventJoinRoom, domain.JoinRoomPayload{RoomID: "general"}))
	req.Equal([]string{first.ConnectionID}, rooms.Members("general"))

	// And the stale connection finally disconnects
	router.HandleDisconnect(ctx, first)

	// Then its membership is gone even though the registry no longer
	// knew the connection, and the room is eagerly deleted
	req.Empty(rooms.Members("general"))
	req.Zero(rooms.Count())
	req.True(registry.IsOnline("u-alice"))
}

func TestRouter_JoinRoom_Acks_And_Notifies_Members(t *testing.T) {
	req := require.New(t)
	router, _, rooms := newTestRouter()
	ctx := context.Background()

	alice, aliceSink := connect(router, "u-alice", "alice")
	bob, bobSink := connect(router, "u-bob", "bob")

	// Given alice already sits in the room
	router.Dispatch(ctx, alice, inbound(t, domain.EventJoinRoom, domain.JoinRoomPayload{RoomID: "general"}))

	// When bob joins
	router.Dispatch(ctx, bob, inbound(t, domain.EventJoinRoom, domain.JoinRoomPayload{RoomID: "general"}))

	// Then bob gets the ack
	var ack domain.RoomAckPayload
	req.True(bobSink.lastPayload(domain.EventJoinedRoom, &ack))
	req.Equal("general", ack.RoomID)

	// And alice gets the join notice while bob does not see his own
	var notice domain.RoomPresencePayload
	req.True(aliceSink.lastPayload(domain.EventUserJoinedRoom, &notice))
	req.Equal("u-bob", notice.UserID)
	req.Zero(countEvent(bobSink, domain.EventUserJoinedRoom))

	req.Len(rooms.Members("general"), 2)
}

func TestRouter_LeaveRoom_Acks_And_Notifies_Remaining(t *testing.T) {
	req := require.New(t)
	router, _, rooms := newTestRouter()
	ctx := context.Background()

	alice, aliceSink := connect(router, "u-alice", "alice")
	bob, bobSink := connect(router, "u-bob", "bob")
	router.Dispatch(ctx, alice, inbound(t, domain.EventJoinRoom, domain.JoinRoomPayload{RoomID: "general"}))
	router.Dispatch(ctx, bob, inbound(t, domain.EventJoinRoom, domain.JoinRoomPayload{RoomID: "general"}))

	// When bob leaves
	router.Dispatch(ctx, bob, inbound(t, domain.EventLeaveRoom, domain.LeaveRoomPayload{RoomID: "general"}))

	// Then bob gets the ack and alice the departure notice
	req.Equal(1, countEvent(bobSink, domain.EventLeftRoom))

	var notice domain.RoomPresencePayload
	req.True(aliceSink.lastPayload(domain.EventUserLeftRoom, &notice))
	req.Equal("u-bob", notice.UserID)

	req.Equal([]string{alice.ConnectionID}, rooms.Members("general"))
}

func TestRouter_SendMessage_Delivers_To_Members_And_Acks(t *testing.T) {
	req := require.New(t)
	router, _, _ := newTestRouter()
	ctx := context.Background()

	alice, aliceSink := connect(router, "u-alice", "alice")
	bob, bobSink := connect(router, "u-bob", "bob")
	_, outsiderSink := connect(router, "u-carol", "carol")

	router.Dispatch(ctx, alice, inbound(t, domain.EventJoinRoom, domain.JoinRoomPayload{RoomID: "general"}))
	router.Dispatch(ctx, bob, inbound(t, domain.EventJoinRoom, domain.JoinRoomPayload{RoomID: "general"}))

	// When alice posts a message
	router.Dispatch(ctx, alice, inbound(t, domain.EventSendMessage, domain.SendMessagePayload{
		RoomID:  "general",
		Message: "hello there",
	}))

	// Then both members receive it, alice included via her membership
	var got domain.RoomMessagePayload
	req.True(bobSink.lastPayload(domain.EventRoomMessage, &got))
	req.Equal("hello there", got.Message)
	req.Equal("u-alice", got.UserID)
	req.Equal("alice", got.Username)
	req.Equal(domain.DefaultMessageType, got.Type)
	req.NotEmpty(got.ID)

	req.Equal(1, countEvent(aliceSink, domain.EventRoomMessage))

	// And alice gets an ack carrying the same message id
	var ack domain.MessageSentPayload
	req.True(aliceSink.lastPayload(domain.EventMessageSent, &ack))
	req.Equal(got.ID, ack.MessageID)

	// And the non-member sees nothing
	req.Zero(countEvent(outsiderSink, domain.EventRoomMessage))
}

func TestRouter_SendMessage_Missing_Room_Is_A_Validation_Error(t *testing.T) {
	req := require.New(t)
	router, _, _ := newTestRouter()

	alice, aliceSink := connect(router, "u-alice", "alice")

	// When the payload has no room id
	router.Dispatch(context.Background(), alice, inbound(t, domain.EventSendMessage, domain.SendMessagePayload{
		Message: "hello",
	}))

	// Then alice gets a single error naming the field
	var errPayload domain.ErrorPayload
	req.True(aliceSink.lastPayload(domain.EventError, &errPayload))
	req.Equal("roomId is required", errPayload.Message)
	req.Zero(countEvent(aliceSink, domain.EventMessageSent))
}

func TestRouter_PrivateMessage_Online_Target(t *testing.T) {
	req := require.New(t)
	router, _, _ := newTestRouter()

	alice, aliceSink := connect(router, "u-alice", "alice")
	_, bobSink := connect(router, "u-bob", "bob")

	// When alice messages bob directly
	router.Dispatch(context.Background(), alice, inbound(t, domain.EventSendPrivateMessage, domain.SendPrivateMessagePayload{
		TargetUserID: "u-bob",
		Message:      "psst",
	}))

	// Then bob receives it with full routing metadata
	var got domain.PrivateMessagePayload
	req.True(bobSink.lastPayload(domain.EventPrivateMessage, &got))
	req.Equal("u-alice", got.FromUserID)
	req.Equal("u-bob", got.ToUserID)
	req.Equal("psst", got.Message)

	// And alice gets the matching ack
	var ack domain.MessageSentPayload
	req.True(aliceSink.lastPayload(domain.EventPrivateMessageSent, &ack))
	req.Equal(got.ID, ack.MessageID)
}

func TestRouter_PrivateMessage_Offline_Target_Yields_Single_Error(t *testing.T) {
	req := require.New(t)
	router, _, _ := newTestRouter()

	alice, aliceSink := connect(router, "u-alice", "alice")

	// When alice messages someone who is not connected
	router.Dispatch(context.Background(), alice, inbound(t, domain.EventSendPrivateMessage, domain.SendPrivateMessagePayload{
		TargetUserID: "u-ghost",
		Message:      "anyone there?",
	}))

	// Then exactly one error comes back, no delivery and no ack
	req.Equal(1, countEvent(aliceSink, domain.EventError))

	var errPayload domain.ErrorPayload
	req.True(aliceSink.lastPayload(domain.EventError, &errPayload))
	req.Equal("Target user is offline", errPayload.Message)
	req.Zero(countEvent(aliceSink, domain.EventPrivateMessageSent))
}

func TestRouter_Typing_Notices_Are_Fire_And_Forget(t *testing.T) {
	req := require.New(t)
	router, _, _ := newTestRouter()
	ctx := context.Background()

	alice, aliceSink := connect(router, "u-alice", "alice")
	bob, bobSink := connect(router, "u-bob", "bob")
	router.Dispatch(ctx, alice, inbound(t, domain.EventJoinRoom, domain.JoinRoomPayload{RoomID: "general"}))
	router.Dispatch(ctx, bob, inbound(t, domain.EventJoinRoom, domain.JoinRoomPayload{RoomID: "general"}))

	// When alice starts typing in the room
	router.Dispatch(ctx, alice, inbound(t, domain.EventTypingStart, domain.TypingPayload{RoomID: "general"}))

	// Then bob sees it, alice does not see her own notice
	var notice domain.UserTypingPayload
	req.True(bobSink.lastPayload(domain.EventUserTypingStart, &notice))
	req.Equal("u-alice", notice.UserID)
	req.Zero(countEvent(aliceSink, domain.EventUserTypingStart))

	// When alice stops typing at bob directly
	router.Dispatch(ctx, alice, inbound(t, domain.EventTypingStop, domain.TypingPayload{TargetUserID: "u-bob"}))
	req.Equal(1, countEvent(bobSink, domain.EventUserTypingStop))

	// And typing at an offline user is silently dropped
	router.Dispatch(ctx, alice, inbound(t, domain.EventTypingStart, domain.TypingPayload{TargetUserID: "u-ghost"}))
	req.Zero(countEvent(aliceSink, domain.EventError))
}

func TestRouter_UpdateStatus_Broadcasts_Globally(t *testing.T) {
	req := require.New(t)
	router, registry, _ := newTestRouter()

	alice, aliceSink := connect(router, "u-alice", "alice")
	_, bobSink := connect(router, "u-bob", "bob")

	// When alice changes her status
	router.Dispatch(context.Background(), alice, inbound(t, domain.EventUpdateStatus, domain.UpdateStatusPayload{
		Status:       "away",
		CustomStatus: "brb",
	}))

	// Then everyone, alice included, sees the update
	var update domain.StatusUpdatedPayload
	req.True(bobSink.lastPayload(domain.EventUserStatusUpdated, &update))
	req.Equal("u-alice", update.UserID)
	req.Equal("away", update.Status)
	req.Equal("brb", update.CustomStatus)
	req.False(update.Timestamp.IsZero())
	req.Equal(1, countEvent(aliceSink, domain.EventUserStatusUpdated))

	// And the registry projection reflects the change
	info, ok := registry.Info(alice.ConnectionID)
	req.True(ok)
	req.Equal("away", info.Status)
}

func TestRouter_Ping_Returns_Pong(t *testing.T) {
	req := require.New(t)
	router, _, _ := newTestRouter()

	alice, aliceSink := connect(router, "u-alice", "alice")

	router.Dispatch(context.Background(), alice, inbound(t, domain.EventPing, nil))

	var pong domain.PongPayload
	req.True(aliceSink.lastPayload(domain.EventPong, &pong))
	req.False(pong.Timestamp.IsZero())
}

func TestRouter_Malformed_And_Unknown_Frames(t *testing.T) {
	req := require.New(t)
	router, _, _ := newTestRouter()
	ctx := context.Background()

	alice, aliceSink := connect(router, "u-alice", "alice")

	// When the frame is not valid JSON
	router.Dispatch(ctx, alice, []byte("{not json"))

	// Then a single error event comes back and the connection lives on
	req.Equal(1, countEvent(aliceSink, domain.EventError))

	var errPayload domain.ErrorPayload
	req.True(aliceSink.lastPayload(domain.EventError, &errPayload))
	req.Equal("invalid message format", errPayload.Message)

	// When the event name is unknown
	before := len(aliceSink.events())
	router.Dispatch(ctx, alice, inbound(t, "time_travel", nil))

	// Then it is ignored without any response
	req.Len(aliceSink.events(), before)

	// And the connection still processes events afterwards
	router.Dispatch(ctx, alice, inbound(t, domain.EventPing, nil))
	req.Equal(1, countEvent(aliceSink, domain.EventPong))
}

func TestRouter_Disconnect_Cleans_Up_Everything(t *testing.T) {
	req := require.New(t)
	router, registry, rooms := newTestRouter()
	ctx := context.Background()

	alice, _ := connect(router, "u-alice", "alice")
	_, bobSink := connect(router, "u-bob", "bob")
	router.Dispatch(ctx, alice, inbound(t, domain.EventJoinRoom, domain.JoinRoomPayload{RoomID: "x"}))
	router.Dispatch(ctx, alice, inbound(t, domain.EventJoinRoom, domain.JoinRoomPayload{RoomID: "y"}))

	// When alice disconnects
	router.HandleDisconnect(ctx, alice)

	// Then her memberships are gone and she is offline
	req.Empty(rooms.Members("x"))
	req.Empty(rooms.Members("y"))
	req.False(registry.IsOnline("u-alice"))

	// And bob is told she went offline
	var offline domain.PresencePayload
	req.True(bobSink.lastPayload(domain.EventUserOffline, &offline))
	req.Equal("u-alice", offline.UserID)

	// And a second disconnect is a no-op
	router.HandleDisconnect(ctx, alice)
	req.Equal(1, countEvent(bobSink, domain.EventUserOffline))
}

func TestRouter_Full_Sink_Counts_Dropped_Events(t *testing.T) {
	req := require.New(t)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := observability.NewMetrics()
	registry := NewConnectionRegistry()
	rooms := NewRoomDirectory()
	presence := NewPresenceBroadcaster(registry, metrics, log)
	router := NewRouter(registry, rooms, presence, metrics, log)

	// Given a connection whose sink refuses frames
	sink := &recordSink{fail: true}
	session := newTestSession("u-alice", "alice", sink)
	router.HandleConnect(context.Background(), session)

	// When an event targets it
	router.Dispatch(context.Background(), session, inbound(t, domain.EventPing, nil))

	// Then the drops are counted, not fatal
	snapshot := metrics.Snapshot()
	req.NotZero(snapshot.EventsDropped)
	req.True(registry.IsOnline("u-alice"))
}
