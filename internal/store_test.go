package internal_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/guess-number/internal"
)

// memoryStore 記憶體版 Store 假實現（模擬 Redis hash 的整體覆蓋語義）
type memoryStore struct {
	mu    sync.Mutex
	rooms map[string]internal.RoomSnapshot
	saves int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{rooms: make(map[string]internal.RoomSnapshot)}
}

func (s *memoryStore) Save(_ context.Context, rooms map[string]internal.RoomSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms = make(map[string]internal.RoomSnapshot, len(rooms))
	for id, snap := range rooms {
		s.rooms[id] = snap
	}
	s.saves++
	return nil
}

func (s *memoryStore) Load(_ context.Context) (map[string]internal.RoomSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]internal.RoomSnapshot, len(s.rooms))
	for id, snap := range s.rooms {
		out[id] = snap
	}
	return out, nil
}

func (s *memoryStore) snapshot(id string) (internal.RoomSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.rooms[id]
	return snap, ok
}

func (s *memoryStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

func TestRoom_Snapshot(t *testing.T) {
	cfg := testGameConfig()
	base := time.Now()
	room := internal.NewRoom(cfg, "room-1", "測試房間", 4, "pw", true, base)

	_, _, err := room.AddPlayer("conn-1", "alice", "pw", base)
	require.NoError(t, err)
	out, err := room.Guess("conn-1", room.Current.Secret(), base)
	require.NoError(t, err)
	require.True(t, out.Correct)

	snap := room.Snapshot()

	assert.Equal(t, "room-1", snap.ID)
	assert.Equal(t, "測試房間", snap.Name)
	assert.Equal(t, 4, snap.MaxPlayers)
	assert.Equal(t, "pw", snap.Password)
	assert.True(t, snap.Private)
	assert.Equal(t, 2, snap.RoundNumber)
	assert.Equal(t, out.NewTotalScore, snap.Scores["alice"])
	require.Len(t, snap.History, 1)
	assert.Equal(t, 1, snap.History[0].RoundNumber)

	// 快照帶著當前回合的完整狀態（含秘密數字，供重啟後繼續）
	assert.Equal(t, room.Current.Secret(), snap.Round.Secret)
	assert.Equal(t, room.Current.Low, snap.Round.Low)
	assert.Equal(t, room.Current.High, snap.Round.High)
}

// 重啟恢復：房間回來，玩家不回來，榜單作為歷史保留
func TestManager_RestoreFromStore(t *testing.T) {
	store := newMemoryStore()

	first := internal.NewManager(testConfig(), store, testLogger())
	room, err := first.CreateRoom("room-1", "測試房間", 4, "pw", true)
	require.NoError(t, err)
	_, _, err = first.JoinRoom("room-1", "alice", "conn-1", "pw")
	require.NoError(t, err)
	out, err := first.MakeGuess("room-1", "conn-1", room.Current.Secret())
	require.NoError(t, err)
	require.True(t, out.Correct)

	first.Stop()

	snap, ok := store.snapshot("room-1")
	require.True(t, ok)
	assert.Equal(t, 2, snap.RoundNumber)

	second := internal.NewManager(testConfig(), store, testLogger())
	defer second.Stop()

	info, err := second.RoomInfo("room-1")
	require.NoError(t, err)
	assert.Equal(t, "room-1", info.ID)
	assert.Equal(t, 2, info.RoundNumber)
	assert.Equal(t, 0, info.PlayerCount)
	assert.False(t, info.IsActive)
	assert.Equal(t, out.NewTotalScore, info.Scores["alice"])

	// 恢復的房間可以正常重新加入（密碼仍然生效）
	_, _, err = second.JoinRoom("room-1", "alice", "conn-new", "wrong")
	require.ErrorIs(t, err, internal.ErrWrongPassword)
	restored, _, err := second.JoinRoom("room-1", "alice", "conn-new", "pw")
	require.NoError(t, err)
	assert.Equal(t, 1, restored.PlayerCount())
}

// 每次清理掃描後都持久化一份完整快照，不管有沒有刪除房間
func TestManager_SweepAlwaysPersists(t *testing.T) {
	store := newMemoryStore()
	manager := internal.NewManager(testConfig(), store, testLogger())
	defer manager.Stop()

	_, err := manager.CreateRoom("room-1", "測試房間", 4, "", false)
	require.NoError(t, err)
	_, _, err = manager.JoinRoom("room-1", "alice", "conn-1", "")
	require.NoError(t, err)

	before := store.saveCount()
	manager.Sweep()

	// 沒有任何房間被刪除，掃描仍然寫了一份快照
	assert.Greater(t, store.saveCount(), before)
	_, err = manager.RoomInfo("room-1")
	require.NoError(t, err)

	snap, ok := store.snapshot("room-1")
	require.True(t, ok)
	assert.Equal(t, "room-1", snap.ID)
}

// 儲存失敗不影響遊戲操作
func TestManager_SaveFailureIsNonFatal(t *testing.T) {
	store := &failingStore{}
	manager := internal.NewManager(testConfig(), store, testLogger())
	defer manager.Stop()

	room, err := manager.CreateRoom("room-1", "測試房間", 4, "", false)
	require.NoError(t, err)
	_, _, err = manager.JoinRoom("room-1", "alice", "conn-1", "")
	require.NoError(t, err)

	out, err := manager.MakeGuess("room-1", "conn-1", room.Current.Secret())
	require.NoError(t, err)
	assert.True(t, out.Correct)
}

type failingStore struct{}

func (s *failingStore) Save(context.Context, map[string]internal.RoomSnapshot) error {
	return assert.AnError
}

func (s *failingStore) Load(context.Context) (map[string]internal.RoomSnapshot, error) {
	return nil, assert.AnError
}
