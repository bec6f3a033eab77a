package internal

import (
	"math/rand/v2"
	"time"
)

// GameRound 一個回合：在時間窗內猜一個範圍內的秘密數字
//
// 不變量：
//   - secret 在回合創建時從 [Low, High] 均勻抽取，回合結束前不變
//   - EndsAt 恆晚於 StartedAt
//   - Winner 最多被設置一次
//
// 回合整體替換（rollover 時創建新實例），只有 Winner 和
// TotalGuesses 會就地更新。
type GameRound struct {
	secret       int       // 秘密數字（不對外序列化）
	Low          int       // 範圍下界（含）
	High         int       // 範圍上界（含）
	StartedAt    time.Time // 回合開始時間
	EndsAt       time.Time // 回合截止時間
	Winner       string    // 獲勝者名稱（未分出勝負時為空）
	TotalGuesses int       // 本回合累計猜測次數
	Hint         string    // 回合提示文字（第 1 回合為空）
	HintKind     string    // 提示種類（parity/prime/factors/mod/sumdiff/none）
}

// rangeForRound 計算指定回合的數字範圍
//
// 難度隨回合遞增：第 1 回合 [1, 10]，之後固定下界 10、
// 上界每 3 個回合擴大 100。fixed_range 配置開啟時一律使用預設範圍。
func rangeForRound(cfg *GameConfig, roundNumber int) (int, int) {
	if cfg.FixedRange {
		return cfg.DefaultLow, cfg.DefaultHigh
	}
	if roundNumber <= 1 {
		return 1, 10
	}
	blk := (roundNumber - 2) / 3
	return 10, 100 + 100*blk
}

// newGameRound 創建新回合、抽取秘密數字並計算提示
func newGameRound(cfg *GameConfig, roundNumber int, now time.Time) *GameRound {
	low, high := rangeForRound(cfg, roundNumber)
	secret := low + rand.IntN(high-low+1)
	hint, kind := hintForRound(roundNumber, secret)
	return &GameRound{
		secret:    secret,
		Low:       low,
		High:      high,
		StartedAt: now,
		EndsAt:    now.Add(cfg.RoundDuration),
		Hint:      hint,
		HintKind:  kind,
	}
}

// Secret 返回秘密數字（供測試與回合結算使用）
func (g *GameRound) Secret() int {
	return g.secret
}

// Expired 檢查回合是否已超時
func (g *GameRound) Expired(now time.Time) bool {
	return now.After(g.EndsAt)
}

// Contains 檢查猜測是否落在回合範圍內
func (g *GameRound) Contains(guess int) bool {
	return guess >= g.Low && guess <= g.High
}

// RoundRecord 回合歷史記錄（保存在房間的有界環形緩衝中）
type RoundRecord struct {
	RoundNumber  int     `json:"round_number"`
	Secret       int     `json:"secret"`
	Winner       string  `json:"winner"`
	TotalGuesses int     `json:"total_guesses"`
	Duration     float64 `json:"duration"` // 秒數
}

// RoundPayload 回合開始時廣播給房間成員的元數據（不含秘密數字）
type RoundPayload struct {
	RoomID      string `json:"room_id"`
	RoundNumber int    `json:"round_number"`
	Low         int    `json:"low"`
	High        int    `json:"high"`
	EndsAt      int64  `json:"ends_at"` // epoch 毫秒
	Duration    int64  `json:"duration_ms"`
	Hint        string `json:"hint,omitempty"`
	HintKind    string `json:"hint_type,omitempty"`
}
