package internal

import (
	"time"
)

// Player 每連接的玩家狀態
//
// 併發約定：Player 由其所屬 Room 獨佔擁有，所有讀寫都在
// 房間鎖的保護下進行，因此自身不需要鎖（見併發模型設計）。
// 速率限制計數器是玩家狀態的一部分，同樣落在房間鎖之下。
//
// 生命週期：加入成功時創建，離開/斷線時銷毀；
// 不脫離 Room 單獨持久化（連接 ID 不跨重啟存活）。
type Player struct {
	ConnID   string    `json:"-"`    // 連接 ID（不對外暴露）
	Name     string    `json:"name"` // 顯示名稱（房間內唯一）
	JoinedAt time.Time `json:"-"`

	Score          int `json:"score"`           // 累計得分
	Streak         int `json:"streak"`          // 當前連勝
	TotalGuesses   int `json:"total_guesses"`   // 累計猜測次數
	CorrectGuesses int `json:"correct_guesses"` // 累計猜中次數

	GuessesThisRound int       `json:"-"` // 本回合已猜次數（新回合歸零）
	LastGuessAt      time.Time `json:"-"` // 上次猜測時間

	chatTimes []time.Time // 最近一分鐘內的聊天時間戳（有界、時間有序）
}

// NewPlayer 創建玩家
func NewPlayer(connID, name string, now time.Time) *Player {
	return &Player{
		ConnID:   connID,
		Name:     name,
		JoinedAt: now,
	}
}

// CanGuess 檢查是否滿足猜測最小間隔
//
// 純時間戳比較，沒有獨立的計時器（見速率限制設計）。
func (p *Player) CanGuess(now time.Time, interval time.Duration) bool {
	return now.Sub(p.LastGuessAt) >= interval
}

// CanChat 檢查滾動一分鐘窗口內的聊天配額
//
// 調用時順便清理過期的時間戳，保證列表有界。
func (p *Player) CanChat(now time.Time, maxPerMinute int) bool {
	p.pruneChat(now)
	return len(p.chatTimes) < maxPerMinute
}

// RecordChat 記錄一次聊天
func (p *Player) RecordChat(now time.Time) {
	p.pruneChat(now)
	p.chatTimes = append(p.chatTimes, now)
}

// pruneChat 丟棄一分鐘前的聊天時間戳
func (p *Player) pruneChat(now time.Time) {
	cutoff := now.Add(-time.Minute)
	i := 0
	for i < len(p.chatTimes) && p.chatTimes[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		p.chatTimes = append(p.chatTimes[:0], p.chatTimes[i:]...)
	}
}

// ChatCount 返回窗口內的聊天計數（供測試驗證清理行為）
func (p *Player) ChatCount(now time.Time) int {
	p.pruneChat(now)
	return len(p.chatTimes)
}

// resetForNewRound 新回合開始時歸零本回合計數
func (p *Player) resetForNewRound() {
	p.GuessesThisRound = 0
}

// resetScores 管理員重置時清空所有累計數據
func (p *Player) resetScores() {
	p.Score = 0
	p.Streak = 0
	p.TotalGuesses = 0
	p.CorrectGuesses = 0
	p.GuessesThisRound = 0
	p.LastGuessAt = time.Time{}
}
