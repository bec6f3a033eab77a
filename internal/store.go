package internal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// 持久化設計：
//   快照/恢復是盡力而為的副通道，不是事務性儲存。
//   - 每個房間序列化為一份扁平 JSON 文件，以房間 ID 為鍵
//     存入單一 Redis hash；時間戳一律存 epoch 秒
//   - 寫入失敗只記日誌，絕不影響遊戲正確性
//   - 恢復時不還原玩家成員（連接 ID 不跨重啟存活），
//     榜單照快照原樣保留（屬於歷史展示，不綁定活躍身份）

// RoundSnapshot 回合的持久化形狀（內嵌於房間快照）
type RoundSnapshot struct {
	Secret       int    `json:"secret"`
	Low          int    `json:"low"`
	High         int    `json:"high"`
	StartedAt    int64  `json:"started_at"`
	EndsAt       int64  `json:"ends_at"`
	Winner       string `json:"winner,omitempty"`
	TotalGuesses int    `json:"total_guesses"`
}

// RoomSnapshot 房間的持久化形狀
type RoomSnapshot struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	MaxPlayers  int            `json:"max_players"`
	Password    string         `json:"password,omitempty"`
	Private     bool           `json:"is_private"`
	CreatedAt   int64          `json:"created_at"`
	LastActive  int64          `json:"last_active"`
	RoundNumber int            `json:"round_number"`
	Round       RoundSnapshot  `json:"round"`
	Scores      map[string]int `json:"scores"`
	History     []RoundRecord  `json:"history,omitempty"`
}

// Store 房間狀態的快照儲存
type Store interface {
	// Save 整體覆蓋快照文件
	Save(ctx context.Context, rooms map[string]RoomSnapshot) error
	// Load 讀取全部房間快照（不存在時返回空映射）
	Load(ctx context.Context) (map[string]RoomSnapshot, error)
}

// RedisStore 以單一 Redis hash 實現 Store
//
// field = 房間 ID，value = JSON 文件。Save 以 pipeline 原子性地
// 清空再重寫整個 hash，讓快照始終反映最新的完整房間表。
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore 創建 Redis 快照儲存
func NewRedisStore(client *redis.Client, key string) *RedisStore {
	if key == "" {
		key = "guessnumber:rooms"
	}
	return &RedisStore{client: client, key: key}
}

// Save 實現 Store
func (s *RedisStore) Save(ctx context.Context, rooms map[string]RoomSnapshot) error {
	fields := make(map[string]string, len(rooms))
	for id, snap := range rooms {
		data, err := json.Marshal(snap)
		if err != nil {
			return err
		}
		fields[id] = string(data)
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.key)
	if len(fields) > 0 {
		pipe.HSet(ctx, s.key, fields)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Load 實現 Store
func (s *RedisStore) Load(ctx context.Context) (map[string]RoomSnapshot, error) {
	raw, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, err
	}

	rooms := make(map[string]RoomSnapshot, len(raw))
	for id, data := range raw {
		var snap RoomSnapshot
		if err := json.Unmarshal([]byte(data), &snap); err != nil {
			// 壞掉的條目直接跳過，剩餘的照常恢復
			continue
		}
		rooms[id] = snap
	}

	return rooms, nil
}

// Snapshot 獲取房間的持久化快照
func (r *Room) Snapshot() RoomSnapshot {
	r.Mu.RLock()
	defer r.Mu.RUnlock()

	history := make([]RoundRecord, len(r.History))
	copy(history, r.History)

	return RoomSnapshot{
		ID:          r.ID,
		Name:        r.Name,
		MaxPlayers:  r.Capacity,
		Password:    r.Password,
		Private:     r.Private,
		CreatedAt:   r.CreatedAt.Unix(),
		LastActive:  r.LastActive.Unix(),
		RoundNumber: r.RoundNumber,
		Round: RoundSnapshot{
			Secret:       r.Current.secret,
			Low:          r.Current.Low,
			High:         r.Current.High,
			StartedAt:    r.Current.StartedAt.Unix(),
			EndsAt:       r.Current.EndsAt.Unix(),
			Winner:       r.Current.Winner,
			TotalGuesses: r.Current.TotalGuesses,
		},
		Scores:  r.scoreboardLocked(),
		History: history,
	}
}

// roomFromSnapshot 由快照重建房間
//
// 玩家成員不恢復：重建出的房間從零玩家開始、標記為閒置，
// 等待老玩家重新加入或被清理掃描回收。
func roomFromSnapshot(cfg *GameConfig, snap RoomSnapshot) *Room {
	scores := snap.Scores
	if scores == nil {
		scores = make(map[string]int)
	}

	// 提示由回合編號與秘密數字唯一決定，不進快照，恢復時重算
	hint, kind := hintForRound(snap.RoundNumber, snap.Round.Secret)

	room := &Room{
		ID:          snap.ID,
		Name:        snap.Name,
		Capacity:    snap.MaxPlayers,
		Password:    snap.Password,
		Private:     snap.Private,
		CreatedAt:   time.Unix(snap.CreatedAt, 0),
		LastActive:  time.Unix(snap.LastActive, 0),
		RoundNumber: snap.RoundNumber,
		Current: &GameRound{
			secret:       snap.Round.Secret,
			Low:          snap.Round.Low,
			High:         snap.Round.High,
			StartedAt:    time.Unix(snap.Round.StartedAt, 0),
			EndsAt:       time.Unix(snap.Round.EndsAt, 0),
			Winner:       snap.Round.Winner,
			TotalGuesses: snap.Round.TotalGuesses,
			Hint:         hint,
			HintKind:     kind,
		},
		Players:  make(map[string]*Player),
		Scores:   scores,
		History:  snap.History,
		IsActive: false,
		cfg:      cfg,
	}

	return room
}
