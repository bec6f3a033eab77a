package internal

import (
	"fmt"
	"sync"
	"time"
)

// 系統設計問題：
//   如何在多連接併發操作下，保證「每回合恰好一名贏家」「回合編號
//   單調遞增」「猜測/聊天速率有界」這三個核心不變量？
//
// 設計方案：
//   - 房間粒度互斥（RWMutex）：所有狀態變更操作以房間為單位互斥，
//     房間彼此獨立，不做跨房間排序保證
//   - 整個猜測事務（速率檢查 → 配額檢查 → 範圍檢查 → 記錄 → 結算
//     → rollover）在一次持鎖期間完成，天然排除雙贏家
//   - 回合超時採惰性檢測：下一次猜測/加入觸發 rollover，無需計時器

// Room 遊戲房間
//
// 擁有一組 Player 和當前回合，強制容量、私密性與命名規則。
// Scores 是 Player.Score 的衍生快取（以名稱為鍵），重啟恢復後
// 作為歷史榜單保留。History 是有界環形緩衝，最舊的記錄先被淘汰。
type Room struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Capacity  int       `json:"max_players"`
	Password  string    `json:"-"` // 明文比較即可，這裡不是安全邊界
	Private   bool      `json:"is_private"`
	CreatedAt time.Time `json:"created_at"`

	RoundNumber int        `json:"round_number"`
	Current     *GameRound `json:"-"`

	Players map[string]*Player `json:"-"` // connID -> Player
	Scores  map[string]int     `json:"-"` // 名稱 -> 累計得分
	History []RoundRecord      `json:"-"`

	HostID     string    `json:"-"` // 第一位加入者（目前僅資訊用途）
	IsActive   bool      `json:"is_active"`
	LastActive time.Time `json:"-"`

	Mu  sync.RWMutex `json:"-"`
	cfg *GameConfig
}

// NewRoom 創建房間並開啟第 1 回合
func NewRoom(cfg *GameConfig, id, name string, capacity int, password string, private bool, now time.Time) *Room {
	return &Room{
		ID:          id,
		Name:        name,
		Capacity:    capacity,
		Password:    password,
		Private:     private,
		CreatedAt:   now,
		RoundNumber: 1,
		Current:     newGameRound(cfg, 1, now),
		Players:     make(map[string]*Player),
		Scores:      make(map[string]int),
		IsActive:    true,
		LastActive:  now,
		cfg:         cfg,
	}
}

// AddPlayer 加入玩家
//
// 驗證順序（第一個失敗者勝出，短路返回）：
//  1. 私人房間密碼必須完全一致
//  2. 房間未滿
//  3. 名稱未被同房間其他連接使用（大小寫敏感的精確比較）
//
// 成功時：若當前回合已超時，先 rollover 再返回，
// 保證加入者看到的一定是活躍回合（返回值第二項非 nil 表示發生了 rollover）。
func (r *Room) AddPlayer(connID, name, password string, now time.Time) (*Player, *RoundPayload, error) {
	r.Mu.Lock()
	defer r.Mu.Unlock()

	if r.Private && r.Password != password {
		return nil, nil, ErrWrongPassword
	}

	if len(r.Players) >= r.Capacity {
		return nil, nil, ErrRoomFull
	}

	for _, p := range r.Players {
		if p.Name == name {
			return nil, nil, ErrNameTaken
		}
	}

	player := NewPlayer(connID, name, now)
	r.Players[connID] = player
	if r.HostID == "" {
		r.HostID = connID
	}
	r.IsActive = true
	r.LastActive = now

	var rolled *RoundPayload
	if r.Current.Expired(now) {
		rolled = r.startNewRoundLocked(false, now)
	}

	return player, rolled, nil
}

// RemovePlayer 移除玩家
//
// 返回玩家名稱與房間是否因此變空。房間變空時只標記為閒置，
// 不立即刪除（允許重新加入，刪除交給清理掃描）。
func (r *Room) RemovePlayer(connID string, now time.Time) (string, bool, bool) {
	r.Mu.Lock()
	defer r.Mu.Unlock()

	player, exists := r.Players[connID]
	if !exists {
		return "", false, false
	}

	delete(r.Players, connID)
	r.LastActive = now

	empty := len(r.Players) == 0
	if empty {
		r.IsActive = false
	}

	return player.Name, empty, true
}

// GuessOutcome 猜測事務的結算結果
//
// 事務成功時猜中與猜錯都返回 GuessOutcome（猜錯本身是合法操作，
// 結果只是資訊）；被拒絕的猜測返回具體的 AppError。
type GuessOutcome struct {
	Correct      bool   `json:"correct"`
	Message      string `json:"message"`
	Guess        int    `json:"guess"`
	PlayerName   string `json:"player_name"`
	Low          int    `json:"low"`
	High         int    `json:"high"`
	Streak       int    `json:"streak"`
	TotalGuesses int    `json:"total_guesses"` // 本回合累計猜測

	// 猜中時才有意義的計分明細
	ScoreGained   int `json:"score_gained,omitempty"`
	BaseScore     int `json:"base_score,omitempty"`
	TimeBonus     int `json:"time_bonus,omitempty"`
	StreakBonus   int `json:"streak_bonus,omitempty"`
	NewTotalScore int `json:"new_total_score,omitempty"`
	Secret        int `json:"secret,omitempty"` // 猜中時揭示

	// 以下供 Manager 決定廣播，不隨 guess_result 序列化
	NewRound      *RoundPayload  `json:"-"` // 猜中觸發的 rollover
	ExpiredRound  *RoundPayload  `json:"-"` // 超時自癒觸發的 rollover
	ExpiredSecret int            `json:"-"` // 超時回合的答案（用於通知）
	Scoreboard    map[string]int `json:"-"` // 猜中時的最新榜單
}

// Guess 猜測事務（核心操作）
//
// 整個序列在房間鎖內完成，每一步都是硬前置條件：
//  1. 玩家必須在房間內
//  2. 回合已超時 → 自癒：rollover 後用新回合繼續評估本次猜測
//     （單次重試，對玩家不可見為錯誤）
//  3. 速率檢查先於配額檢查（兩者互斥，訊息不同）
//  4. 範圍檢查不計入配額、不更新 last_guess_at（視為客戶端輸入錯誤）
//  5. 此後無論輸贏都記錄本次嘗試
//  6. 猜中：結算得分（時間加成用結算時刻、連勝加成用加成前的連勝值）、
//     寫入歷史環形緩衝、rollover；猜錯：連勝歸零、返回方向提示
func (r *Room) Guess(connID string, guess int, now time.Time) (*GuessOutcome, error) {
	r.Mu.Lock()
	defer r.Mu.Unlock()

	player, exists := r.Players[connID]
	if !exists {
		return nil, ErrPlayerNotFound
	}

	out := &GuessOutcome{
		Guess:      guess,
		PlayerName: player.Name,
	}

	// 惰性超時檢測：過期回合在此自癒，猜測繼續對新回合生效
	if r.Current.Expired(now) {
		out.ExpiredSecret = r.Current.secret
		out.ExpiredRound = r.startNewRoundLocked(false, now)
	}

	// 被拒絕的猜測仍返回 out：超時自癒可能已經改變了房間狀態，
	// 調用方需要 ExpiredRound/ExpiredSecret 來廣播與持久化
	if !player.CanGuess(now, r.cfg.GuessInterval) {
		return out, ErrGuessTooFast
	}

	if player.GuessesThisRound >= r.cfg.MaxGuessesPerRound {
		return out, ErrGuessQuota
	}

	round := r.Current
	if !round.Contains(guess) {
		return out, NewError(ErrCodeOutOfRange,
			fmt.Sprintf("數字必須在 %d 到 %d 之間", round.Low, round.High))
	}

	// 從這裡開始，無論輸贏都算一次正式猜測
	player.LastGuessAt = now
	player.TotalGuesses++
	player.GuessesThisRound++
	round.TotalGuesses++
	r.LastActive = now

	out.Low = round.Low
	out.High = round.High
	out.TotalGuesses = round.TotalGuesses

	if guess != round.secret {
		player.Streak = 0
		out.Streak = 0
		if guess < round.secret {
			out.Message = fmt.Sprintf("目標數字比 %d 大", guess)
		} else {
			out.Message = fmt.Sprintf("目標數字比 %d 小", guess)
		}
		return out, nil
	}

	// 猜中：連勝加成使用遞增前的連勝值
	timeBonus := 0
	if remaining := round.EndsAt.Sub(now); remaining > 0 {
		timeBonus = int(remaining.Seconds()) / 10
	}
	streakBonus := int(float64(player.Streak) * r.cfg.StreakMultiplier)
	gained := r.cfg.BaseScore + timeBonus + streakBonus

	player.Score += gained
	player.CorrectGuesses++
	player.Streak++
	round.Winner = player.Name
	r.Scores[player.Name] = player.Score

	r.appendHistory(RoundRecord{
		RoundNumber:  r.RoundNumber,
		Secret:       round.secret,
		Winner:       player.Name,
		TotalGuesses: round.TotalGuesses,
		Duration:     now.Sub(round.StartedAt).Seconds(),
	})

	out.Correct = true
	out.Message = fmt.Sprintf("恭喜！%s 猜中了數字 %d", player.Name, round.secret)
	out.Secret = round.secret
	out.ScoreGained = gained
	out.BaseScore = r.cfg.BaseScore
	out.TimeBonus = timeBonus
	out.StreakBonus = streakBonus
	out.NewTotalScore = player.Score
	out.Streak = player.Streak
	out.Scoreboard = r.scoreboardLocked()
	out.NewRound = r.startNewRoundLocked(false, now)

	return out, nil
}

// SendChat 檢查並記錄一次聊天（廣播由 Manager 決定）
func (r *Room) SendChat(connID string, now time.Time) (string, error) {
	r.Mu.Lock()
	defer r.Mu.Unlock()

	player, exists := r.Players[connID]
	if !exists {
		return "", ErrPlayerNotFound
	}

	if !player.CanChat(now, r.cfg.MaxChatPerMinute) {
		return "", ErrChatQuota
	}

	player.RecordChat(now)
	r.LastActive = now

	return player.Name, nil
}

// StartNewRound 開啟新回合
//
// 唯一的 rollover 入口，調用時機：猜中、超時惰性檢測、管理員重置。
func (r *Room) StartNewRound(reset bool, now time.Time) *RoundPayload {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	return r.startNewRoundLocked(reset, now)
}

// startNewRoundLocked 需要持有寫鎖
func (r *Room) startNewRoundLocked(reset bool, now time.Time) *RoundPayload {
	if reset {
		r.RoundNumber = 1
	} else {
		r.RoundNumber++
	}

	for _, p := range r.Players {
		p.resetForNewRound()
	}

	r.Current = newGameRound(r.cfg, r.RoundNumber, now)
	r.LastActive = now

	return &RoundPayload{
		RoomID:      r.ID,
		RoundNumber: r.RoundNumber,
		Low:         r.Current.Low,
		High:        r.Current.High,
		EndsAt:      r.Current.EndsAt.UnixMilli(),
		Duration:    r.cfg.RoundDuration.Milliseconds(),
		Hint:        r.Current.Hint,
		HintKind:    r.Current.HintKind,
	}
}

// Reset 管理員重置：清空所有計分與歷史，回合號回到 1
func (r *Room) Reset(now time.Time) *RoundPayload {
	r.Mu.Lock()
	defer r.Mu.Unlock()

	for _, p := range r.Players {
		p.resetScores()
	}
	r.Scores = make(map[string]int)
	r.History = nil

	return r.startNewRoundLocked(true, now)
}

// appendHistory 寫入有界環形緩衝，溢出時淘汰最舊的記錄
func (r *Room) appendHistory(rec RoundRecord) {
	r.History = append(r.History, rec)
	if len(r.History) > r.cfg.HistorySize {
		r.History = r.History[len(r.History)-r.cfg.HistorySize:]
	}
}

// Expired 清理掃描的刪除判定
//
// 兩條規則（見清理掃描設計）：
//   - 零玩家且創建已超過短寬限期
//   - 已標記閒置且持續超過長寬限期
func (r *Room) Expired(now time.Time) bool {
	r.Mu.RLock()
	defer r.Mu.RUnlock()

	if len(r.Players) == 0 && now.Sub(r.CreatedAt) > r.cfg.EmptyGrace {
		return true
	}
	if !r.IsActive && now.Sub(r.LastActive) > r.cfg.InactiveGrace {
		return true
	}
	return false
}

// PlayerCount 獲取玩家數量
func (r *Room) PlayerCount() int {
	r.Mu.RLock()
	defer r.Mu.RUnlock()
	return len(r.Players)
}

// HasConn 檢查連接是否在房間內
func (r *Room) HasConn(connID string) bool {
	r.Mu.RLock()
	defer r.Mu.RUnlock()
	_, exists := r.Players[connID]
	return exists
}

// scoreboardLocked 複製榜單，需要持有鎖
func (r *Room) scoreboardLocked() map[string]int {
	scores := make(map[string]int, len(r.Scores))
	for name, score := range r.Scores {
		scores[name] = score
	}
	return scores
}

// Scoreboard 獲取榜單快照
func (r *Room) Scoreboard() map[string]int {
	r.Mu.RLock()
	defer r.Mu.RUnlock()
	return r.scoreboardLocked()
}

// RoundView 當前回合的對外視圖（絕不包含秘密數字）
type RoundView struct {
	RoundNumber  int    `json:"round_number"`
	Low          int    `json:"low"`
	High         int    `json:"high"`
	EndsAt       int64  `json:"ends_at"`
	TotalGuesses int    `json:"total_guesses"`
	Hint         string `json:"hint,omitempty"`
	HintKind     string `json:"hint_type,omitempty"`
}

// RoomInfo 房間詳情快照（get_room_info 與 HTTP 查詢共用的形狀）
type RoomInfo struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	MaxPlayers   int            `json:"max_players"`
	PlayerCount  int            `json:"player_count"`
	IsPrivate    bool           `json:"is_private"`
	IsActive     bool           `json:"is_active"`
	CreatedAt    int64          `json:"created_at"`
	RoundNumber  int            `json:"round_number"`
	CurrentRound RoundView      `json:"current_round"`
	Players      []Player       `json:"players"`
	Scores       map[string]int `json:"scores"`
	History      []RoundRecord  `json:"history"`
}

// Info 獲取房間詳情快照
func (r *Room) Info() RoomInfo {
	r.Mu.RLock()
	defer r.Mu.RUnlock()

	players := make([]Player, 0, len(r.Players))
	for _, p := range r.Players {
		players = append(players, *p)
	}

	history := make([]RoundRecord, len(r.History))
	copy(history, r.History)

	return RoomInfo{
		ID:          r.ID,
		Name:        r.Name,
		MaxPlayers:  r.Capacity,
		PlayerCount: len(r.Players),
		IsPrivate:   r.Private,
		IsActive:    r.IsActive,
		CreatedAt:   r.CreatedAt.Unix(),
		RoundNumber: r.RoundNumber,
		CurrentRound: RoundView{
			RoundNumber:  r.RoundNumber,
			Low:          r.Current.Low,
			High:         r.Current.High,
			EndsAt:       r.Current.EndsAt.UnixMilli(),
			TotalGuesses: r.Current.TotalGuesses,
			Hint:         r.Current.Hint,
			HintKind:     r.Current.HintKind,
		},
		Players: players,
		Scores:  r.scoreboardLocked(),
		History: history,
	}
}

// RoomListing 公開房間列表項（get_available_rooms / HTTP 列表共用）
type RoomListing struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	PlayerCount int    `json:"player_count"`
	MaxPlayers  int    `json:"max_players"`
	RoundNumber int    `json:"round_number"`
}

// Listing 獲取列表項
func (r *Room) Listing() RoomListing {
	r.Mu.RLock()
	defer r.Mu.RUnlock()

	return RoomListing{
		ID:          r.ID,
		Name:        r.Name,
		PlayerCount: len(r.Players),
		MaxPlayers:  r.Capacity,
		RoundNumber: r.RoundNumber,
	}
}
