package internal_test

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/guess-number/internal"
)

// 創建測試用的 logger
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError, // 測試時只顯示錯誤
	}))
}

// 測試用配置：關閉速率限制、拉長清理間隔避免背景干擾
func testConfig() *internal.Config {
	cfg := internal.DefaultConfig()
	cfg.Game.GuessInterval = 0
	cfg.Game.SweepInterval = time.Hour
	return cfg
}

func newTestManager(t *testing.T) *internal.Manager {
	t.Helper()
	manager := internal.NewManager(testConfig(), nil, testLogger())
	t.Cleanup(manager.Stop)
	return manager
}

// broadcastEvent 記錄一次廣播
type broadcastEvent struct {
	RoomID string
	Event  string
	Data   any
}

// recordingBroadcaster 記錄所有廣播的 Broadcaster 假實現
type recordingBroadcaster struct {
	mu     sync.Mutex
	events []broadcastEvent
}

func (b *recordingBroadcaster) ToRoom(roomID, event string, data any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, broadcastEvent{RoomID: roomID, Event: event, Data: data})
}

func (b *recordingBroadcaster) eventsFor(roomID string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var names []string
	for _, e := range b.events {
		if e.RoomID == roomID {
			names = append(names, e.Event)
		}
	}
	return names
}

func TestNewManager(t *testing.T) {
	manager := newTestManager(t)
	require.NotNil(t, manager)

	stats := manager.Stats()
	assert.Equal(t, 0, stats["total_rooms"])
	assert.Equal(t, 0, stats["total_players"])
}

func TestManager_CreateRoom(t *testing.T) {
	tests := []struct {
		name       string
		roomID     string
		roomName   string
		maxPlayers int
		private    bool
		setup      func(m *internal.Manager)
		validate   func(t *testing.T, room *internal.Room, err error)
	}{
		{
			name:       "create valid room",
			roomID:     "room-1",
			roomName:   "測試房間",
			maxPlayers: 4,
			validate: func(t *testing.T, room *internal.Room, err error) {
				require.NoError(t, err)
				require.NotNil(t, room)
				assert.Equal(t, "room-1", room.ID)
				assert.Equal(t, "測試房間", room.Name)
				assert.Equal(t, 4, room.Capacity)
				assert.Equal(t, 1, room.RoundNumber)
			},
		},
		{
			name:       "zero max players uses config default",
			roomID:     "room-1",
			roomName:   "測試房間",
			maxPlayers: 0,
			validate: func(t *testing.T, room *internal.Room, err error) {
				require.NoError(t, err)
				assert.Equal(t, 10, room.Capacity)
			},
		},
		{
			name:     "room id too short",
			roomID:   "ab",
			roomName: "測試房間",
			validate: func(t *testing.T, room *internal.Room, err error) {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "房間 ID 長度")
			},
		},
		{
			name:     "room id with illegal characters",
			roomID:   "room/../etc",
			roomName: "測試房間",
			validate: func(t *testing.T, room *internal.Room, err error) {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "不合法字元")
			},
		},
		{
			name:     "room name too short",
			roomID:   "room-1",
			roomName: "x",
			validate: func(t *testing.T, room *internal.Room, err error) {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "房間名稱長度")
			},
		},
		{
			name:       "max players above config limit",
			roomID:     "room-1",
			roomName:   "測試房間",
			maxPlayers: 99,
			validate: func(t *testing.T, room *internal.Room, err error) {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "人數上限")
			},
		},
		{
			name:     "duplicate id is case-insensitive",
			roomID:   "Room-1",
			roomName: "測試房間",
			setup: func(m *internal.Manager) {
				_, err := m.CreateRoom("room-1", "已存在", 4, "", false)
				require.NoError(t, err)
			},
			validate: func(t *testing.T, room *internal.Room, err error) {
				require.ErrorIs(t, err, internal.ErrRoomExists)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manager := newTestManager(t)
			if tt.setup != nil {
				tt.setup(manager)
			}

			room, err := manager.CreateRoom(tt.roomID, tt.roomName, tt.maxPlayers, "", tt.private)
			tt.validate(t, room, err)
		})
	}
}

func TestManager_CreateRoom_GlobalLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Game.MaxRooms = 2
	manager := internal.NewManager(cfg, nil, testLogger())
	defer manager.Stop()

	for i := 0; i < 2; i++ {
		_, err := manager.CreateRoom(fmt.Sprintf("room-%d", i), "測試房間", 4, "", false)
		require.NoError(t, err)
	}

	_, err := manager.CreateRoom("room-over", "測試房間", 4, "", false)
	require.ErrorIs(t, err, internal.ErrTooManyRooms)
}

func TestManager_JoinRoom(t *testing.T) {
	tests := []struct {
		name       string
		roomID     string
		playerName string
		password   string
		setup      func(m *internal.Manager)
		validate   func(t *testing.T, room *internal.Room, err error)
	}{
		{
			name:       "join existing room",
			roomID:     "room-1",
			playerName: "alice",
			validate: func(t *testing.T, room *internal.Room, err error) {
				require.NoError(t, err)
				assert.Equal(t, 1, room.PlayerCount())
			},
		},
		{
			name:       "room id case-insensitive lookup",
			roomID:     "ROOM-1",
			playerName: "alice",
			validate: func(t *testing.T, room *internal.Room, err error) {
				require.NoError(t, err)
				assert.Equal(t, "room-1", room.ID)
			},
		},
		{
			name:       "empty player name",
			roomID:     "room-1",
			playerName: "   ",
			validate: func(t *testing.T, room *internal.Room, err error) {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "玩家名稱不能為空")
			},
		},
		{
			name:       "player name too long",
			roomID:     "room-1",
			playerName: "a-very-long-player-name-over-limit",
			validate: func(t *testing.T, room *internal.Room, err error) {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "玩家名稱長度")
			},
		},
		{
			name:       "room not found",
			roomID:     "no-such-room",
			playerName: "alice",
			validate: func(t *testing.T, room *internal.Room, err error) {
				require.ErrorIs(t, err, internal.ErrRoomNotFound)
				assert.True(t, internal.IsNotFound(err))
			},
		},
		{
			name:       "wrong password",
			roomID:     "private-room",
			playerName: "alice",
			password:   "wrong",
			setup: func(m *internal.Manager) {
				_, err := m.CreateRoom("private-room", "私人房間", 4, "secret", true)
				require.NoError(t, err)
			},
			validate: func(t *testing.T, room *internal.Room, err error) {
				require.ErrorIs(t, err, internal.ErrWrongPassword)
			},
		},
		{
			name:       "duplicate name in room",
			roomID:     "room-1",
			playerName: "alice",
			setup: func(m *internal.Manager) {
				_, _, err := m.JoinRoom("room-1", "alice", "other-conn", "")
				require.NoError(t, err)
			},
			validate: func(t *testing.T, room *internal.Room, err error) {
				require.ErrorIs(t, err, internal.ErrNameTaken)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manager := newTestManager(t)
			_, err := manager.CreateRoom("room-1", "測試房間", 4, "", false)
			require.NoError(t, err)
			if tt.setup != nil {
				tt.setup(manager)
			}

			room, _, err := manager.JoinRoom(tt.roomID, tt.playerName, "conn-1", tt.password)
			tt.validate(t, room, err)
		})
	}
}

// 同一連接加入新房間時自動離開舊房間
func TestManager_JoinRoom_SwitchesRoom(t *testing.T) {
	manager := newTestManager(t)
	broadcaster := &recordingBroadcaster{}
	manager.SetBroadcaster(broadcaster)

	roomA, err := manager.CreateRoom("room-a", "房間 A", 4, "", false)
	require.NoError(t, err)
	roomB, err := manager.CreateRoom("room-b", "房間 B", 4, "", false)
	require.NoError(t, err)

	_, _, err = manager.JoinRoom("room-a", "alice", "conn-1", "")
	require.NoError(t, err)
	_, _, err = manager.JoinRoom("room-b", "alice", "conn-1", "")
	require.NoError(t, err)

	assert.Equal(t, 0, roomA.PlayerCount())
	assert.Equal(t, 1, roomB.PlayerCount())
	assert.Contains(t, broadcaster.eventsFor("room-a"), "player_left")
	assert.Contains(t, broadcaster.eventsFor("room-b"), "player_joined")
}

func TestManager_LeaveRoom(t *testing.T) {
	manager := newTestManager(t)
	broadcaster := &recordingBroadcaster{}
	manager.SetBroadcaster(broadcaster)

	room, err := manager.CreateRoom("room-1", "測試房間", 4, "", false)
	require.NoError(t, err)
	_, _, err = manager.JoinRoom("room-1", "alice", "conn-1", "")
	require.NoError(t, err)

	roomID, name, left := manager.LeaveRoom("conn-1")
	assert.True(t, left)
	assert.Equal(t, "room-1", roomID)
	assert.Equal(t, "alice", name)
	assert.Equal(t, 0, room.PlayerCount())
	assert.Contains(t, broadcaster.eventsFor("room-1"), "player_left")

	// 未知連接為冪等 no-op
	_, _, left = manager.LeaveRoom("conn-1")
	assert.False(t, left)
}

func TestManager_MakeGuess(t *testing.T) {
	manager := newTestManager(t)
	broadcaster := &recordingBroadcaster{}
	manager.SetBroadcaster(broadcaster)

	room, err := manager.CreateRoom("room-1", "測試房間", 4, "", false)
	require.NoError(t, err)
	_, _, err = manager.JoinRoom("room-1", "alice", "conn-1", "")
	require.NoError(t, err)

	// 未加入的連接不能猜
	_, err = manager.MakeGuess("room-1", "ghost", 5)
	require.ErrorIs(t, err, internal.ErrPlayerNotFound)

	// 不存在的房間
	_, err = manager.MakeGuess("no-such-room", "conn-1", 5)
	require.ErrorIs(t, err, internal.ErrRoomNotFound)

	out, err := manager.MakeGuess("room-1", "conn-1", room.Current.Secret())
	require.NoError(t, err)
	require.True(t, out.Correct)

	events := broadcaster.eventsFor("room-1")
	assert.Contains(t, events, "scoreboard")
	assert.Contains(t, events, "new_round")
}

// 回合超時的 rollover 即使發生在被拒絕的猜測上也必須廣播出去
func TestManager_MakeGuess_BroadcastsRolloverOnRejectedGuess(t *testing.T) {
	cfg := testConfig()
	cfg.Game.RoundDuration = time.Millisecond
	manager := internal.NewManager(cfg, nil, testLogger())
	defer manager.Stop()
	broadcaster := &recordingBroadcaster{}
	manager.SetBroadcaster(broadcaster)

	_, err := manager.CreateRoom("room-1", "測試房間", 4, "", false)
	require.NoError(t, err)
	_, _, err = manager.JoinRoom("room-1", "alice", "conn-1", "")
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)

	// 9999 超出任何早期回合的範圍：猜測被拒絕，但 rollover 已經發生
	_, err = manager.MakeGuess("room-1", "conn-1", 9999)
	require.Error(t, err)
	assert.True(t, internal.IsOutOfRange(err))

	events := broadcaster.eventsFor("room-1")
	assert.Contains(t, events, "round_expired")
	assert.Contains(t, events, "new_round")
}

func TestManager_SendChat(t *testing.T) {
	cfg := testConfig()
	cfg.Game.MaxChatPerMinute = 2
	manager := internal.NewManager(cfg, nil, testLogger())
	defer manager.Stop()
	broadcaster := &recordingBroadcaster{}
	manager.SetBroadcaster(broadcaster)

	_, err := manager.CreateRoom("room-1", "測試房間", 4, "", false)
	require.NoError(t, err)
	_, _, err = manager.JoinRoom("room-1", "alice", "conn-1", "")
	require.NoError(t, err)

	// 空白訊息被拒絕
	_, err = manager.SendChat("room-1", "conn-1", "   ")
	require.Error(t, err)

	// 非成員被拒絕
	_, err = manager.SendChat("room-1", "ghost", "哈囉")
	require.ErrorIs(t, err, internal.ErrPlayerNotFound)

	msg, err := manager.SendChat("room-1", "conn-1", "  大家好  ")
	require.NoError(t, err)
	assert.Equal(t, "alice", msg.PlayerName)
	assert.Equal(t, "大家好", msg.Text)
	assert.Contains(t, broadcaster.eventsFor("room-1"), "chat_message")

	// 配額用盡
	_, err = manager.SendChat("room-1", "conn-1", "再來一句")
	require.NoError(t, err)
	_, err = manager.SendChat("room-1", "conn-1", "第三句")
	require.ErrorIs(t, err, internal.ErrChatQuota)
}

func TestManager_ResetRoom(t *testing.T) {
	manager := newTestManager(t)
	broadcaster := &recordingBroadcaster{}
	manager.SetBroadcaster(broadcaster)

	room, err := manager.CreateRoom("room-1", "測試房間", 4, "", false)
	require.NoError(t, err)
	_, _, err = manager.JoinRoom("room-1", "alice", "conn-1", "")
	require.NoError(t, err)

	// 推進幾個回合
	for i := 0; i < 2; i++ {
		out, err := manager.MakeGuess("room-1", "conn-1", room.Current.Secret())
		require.NoError(t, err)
		require.True(t, out.Correct)
	}
	require.Equal(t, 3, room.RoundNumber)

	// 非成員不能重置
	_, err = manager.ResetRoom("room-1", "ghost")
	require.ErrorIs(t, err, internal.ErrPlayerNotFound)

	payload, err := manager.ResetRoom("room-1", "conn-1")
	require.NoError(t, err)
	assert.Equal(t, 1, payload.RoundNumber)
	assert.Equal(t, 1, room.RoundNumber)
	assert.Empty(t, room.Scoreboard())
	assert.Contains(t, broadcaster.eventsFor("room-1"), "room_reset")
}

func TestManager_AvailableRooms(t *testing.T) {
	manager := newTestManager(t)

	_, err := manager.CreateRoom("room-b", "公開房間 B", 4, "", false)
	require.NoError(t, err)
	_, err = manager.CreateRoom("room-a", "公開房間 A", 4, "", false)
	require.NoError(t, err)
	_, err = manager.CreateRoom("room-secret", "私人房間", 4, "pw", true)
	require.NoError(t, err)

	rooms := manager.AvailableRooms()

	// 私人房間不出現在列表，結果按 ID 排序
	require.Len(t, rooms, 2)
	assert.Equal(t, "room-a", rooms[0].ID)
	assert.Equal(t, "room-b", rooms[1].ID)

	// 私人房間仍可直接查詢
	info, err := manager.RoomInfo("room-secret")
	require.NoError(t, err)
	assert.True(t, info.IsPrivate)
}

func TestManager_Sweep(t *testing.T) {
	cfg := testConfig()
	cfg.Game.EmptyGrace = time.Millisecond
	manager := internal.NewManager(cfg, nil, testLogger())
	defer manager.Stop()
	broadcaster := &recordingBroadcaster{}
	manager.SetBroadcaster(broadcaster)

	_, err := manager.CreateRoom("room-doomed", "空房間", 4, "", false)
	require.NoError(t, err)
	_, err = manager.CreateRoom("room-alive", "有人的房間", 4, "", false)
	require.NoError(t, err)
	_, _, err = manager.JoinRoom("room-alive", "alice", "conn-1", "")
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	manager.Sweep()

	// 空房間被回收，有人的房間存活
	_, err = manager.RoomInfo("room-doomed")
	require.ErrorIs(t, err, internal.ErrRoomNotFound)
	_, err = manager.RoomInfo("room-alive")
	require.NoError(t, err)

	assert.Contains(t, broadcaster.eventsFor("room-doomed"), "room_deleted")
}

// 容量邊界的併發加入：成功人數恰好等於容量
func TestManager_ConcurrentJoin(t *testing.T) {
	cfg := testConfig()
	cfg.Game.MaxPlayersPerRoom = 10
	manager := internal.NewManager(cfg, nil, testLogger())
	defer manager.Stop()

	const capacity = 5
	room, err := manager.CreateRoom("room-1", "測試房間", capacity, "", false)
	require.NoError(t, err)

	const attempts = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, _, err := manager.JoinRoom("room-1",
				fmt.Sprintf("player-%d", n),
				fmt.Sprintf("conn-%d", n), "")
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, internal.ErrRoomFull)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, capacity, succeeded)
	assert.Equal(t, capacity, room.PlayerCount())
}

// 併發猜測下每回合恰好一名贏家
func TestManager_ConcurrentGuess_SingleWinner(t *testing.T) {
	manager := newTestManager(t)

	room, err := manager.CreateRoom("room-1", "測試房間", 10, "", false)
	require.NoError(t, err)

	const players = 8
	for i := 0; i < players; i++ {
		_, _, err := manager.JoinRoom("room-1",
			fmt.Sprintf("player-%d", i),
			fmt.Sprintf("conn-%d", i), "")
		require.NoError(t, err)
	}

	secret := room.Current.Secret()
	startRound := room.RoundNumber

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0

	for i := 0; i < players; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			out, err := manager.MakeGuess("room-1", fmt.Sprintf("conn-%d", n), secret)
			// 只統計贏得原始回合的人（後來者評估的是新回合）
			if err == nil && out.Correct && out.NewRound.RoundNumber == startRound+1 {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
	assert.GreaterOrEqual(t, room.RoundNumber, startRound+1)
}
