package internal

import (
	"context"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// Broadcaster 對外通知的出口（由傳輸層實現）
//
// Manager 只決定「通知誰、通知什麼」，訊息怎麼送達是傳輸層的事。
// 測試中注入記錄用的假實現即可驗證通知行為。
type Broadcaster interface {
	// ToRoom 向房間的所有當前成員廣播一個命名事件
	ToRoom(roomID, event string, data any)
}

// 名稱與 ID 的合法字元：Unicode 字母、數字、空格、底線、連字號
var validNamePattern = regexp.MustCompile(`^[\p{L}\p{N} _-]+$`)

const (
	roomIDMinLen   = 3
	roomIDMaxLen   = 30
	roomNameMinLen = 2
	roomNameMaxLen = 30
	playerNameMin  = 2
	playerNameMax  = 20
	chatMaxLen     = 200
)

// Manager 遊戲管理器（進程級協調者）
//
// 擁有所有房間與「連接 ID → 房間 ID」的反向索引（O(1) 處理離開/斷線）。
// 每個狀態變更操作都以單線程等價的事務執行：
//   - 房間表與反向索引由管理器級 RWMutex 保護
//   - 房間內部狀態由房間自己的鎖保護（鎖序恆為 管理器 → 房間）
//   - 加入與清理刪除共用管理器寫鎖，同一房間的加入和刪除絕不同時成功
//
// 持久化走 fire-and-forget 的緩衝通道（寫後台隊列），
// 慢磁碟/慢 Redis 永遠不會卡住遊戲操作。
type Manager struct {
	cfg    *Config
	logger *slog.Logger
	store  Store // nil 表示停用持久化

	rooms      map[string]*Room  // roomID -> Room
	playerRoom map[string]string // connID -> roomID
	mu         sync.RWMutex

	broadcaster Broadcaster

	saveCh chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewManager 創建遊戲管理器
//
// 啟動時先從快照恢復房間，再啟動清理掃描與持久化 worker。
func NewManager(cfg *Config, store Store, logger *slog.Logger) *Manager {
	m := &Manager{
		cfg:        cfg,
		logger:     logger,
		store:      store,
		rooms:      make(map[string]*Room),
		playerRoom: make(map[string]string),
		saveCh:     make(chan struct{}, 1),
		stopCh:     make(chan struct{}),
	}

	m.restore()

	m.wg.Add(2)
	go m.sweepLoop()
	go m.saveLoop()

	return m
}

// SetBroadcaster 注入通知出口（傳輸層啟動時調用一次）
func (m *Manager) SetBroadcaster(b Broadcaster) {
	m.mu.Lock()
	m.broadcaster = b
	m.mu.Unlock()
}

// notify 廣播事件（未注入傳輸層時為 no-op）
func (m *Manager) notify(roomID, event string, data any) {
	m.mu.RLock()
	b := m.broadcaster
	m.mu.RUnlock()

	if b != nil {
		b.ToRoom(roomID, event, data)
	}
}

// CreateRoom 創建房間
//
// 驗證 ID/名稱的長度與字元集，拒絕大小寫不敏感的重複 ID 與超出
// 全局上限的創建。成功時房間帶著第 1 回合誕生並觸發快照；
// 失敗時不留下任何部分狀態。
func (m *Manager) CreateRoom(id, name string, maxPlayers int, password string, private bool) (*Room, error) {
	id = strings.TrimSpace(id)
	name = strings.TrimSpace(name)

	if err := validateRoomID(id); err != nil {
		return nil, err
	}
	if err := validateRoomName(name); err != nil {
		return nil, err
	}

	if maxPlayers <= 0 {
		maxPlayers = m.cfg.Game.MaxPlayersPerRoom
	}
	if maxPlayers > m.cfg.Game.MaxPlayersPerRoom {
		return nil, invalidInput("單房間人數上限為 %d", m.cfg.Game.MaxPlayersPerRoom)
	}

	m.mu.Lock()
	if m.findRoomLocked(id) != nil {
		m.mu.Unlock()
		return nil, ErrRoomExists
	}
	if len(m.rooms) >= m.cfg.Game.MaxRooms {
		m.mu.Unlock()
		return nil, ErrTooManyRooms
	}

	room := NewRoom(&m.cfg.Game, id, name, maxPlayers, password, private, time.Now())
	m.rooms[id] = room
	m.mu.Unlock()

	m.logger.Info("房間已創建",
		"room_id", id,
		"name", name,
		"max_players", maxPlayers,
		"private", private)

	m.requestSave()

	return room, nil
}

// FindRoom 大小寫不敏感的房間查找
//
// 先精確匹配，再以小寫化去空白的形式匹配。所有以房間 ID 為參數的
// 操作都經由這裡，因此統一繼承大小寫不敏感性。
func (m *Manager) FindRoom(id string) *Room {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findRoomLocked(id)
}

// findRoomLocked 需要持有（讀或寫）鎖
func (m *Manager) findRoomLocked(id string) *Room {
	if room, exists := m.rooms[id]; exists {
		return room
	}

	normalized := strings.ToLower(strings.TrimSpace(id))
	for roomID, room := range m.rooms {
		if strings.ToLower(roomID) == normalized {
			return room
		}
	}
	return nil
}

// JoinRoom 加入房間
//
// 驗證順序（第一個失敗者勝出）：ID/名稱非空 → 名稱長度與字元集 →
// 房間存在 → 密碼 → 容量 → 名稱未被占用。整個加入過程持有管理器
// 寫鎖，與清理刪除互斥：同一房間的加入與刪除絕不可能都成功。
// 返回的 RoundPayload 非 nil 表示加入時回合已超時並觸發了 rollover。
func (m *Manager) JoinRoom(roomID, playerName, connID, password string) (*Room, *RoundPayload, error) {
	roomID = strings.TrimSpace(roomID)
	playerName = strings.TrimSpace(playerName)

	if roomID == "" {
		return nil, nil, invalidInput("房間 ID 不能為空")
	}
	if playerName == "" {
		return nil, nil, invalidInput("玩家名稱不能為空")
	}
	if err := validatePlayerName(playerName); err != nil {
		return nil, nil, err
	}

	now := time.Now()

	m.mu.Lock()
	room := m.findRoomLocked(roomID)
	if room == nil {
		m.mu.Unlock()
		return nil, nil, ErrRoomNotFound
	}

	// 同一連接換房間：先離開舊房間（冪等）
	var leftRoomID, leftName string
	if oldID, exists := m.playerRoom[connID]; exists {
		if oldRoom, ok := m.rooms[oldID]; ok {
			if name, _, removed := oldRoom.RemovePlayer(connID, now); removed {
				leftRoomID, leftName = oldID, name
			}
		}
		delete(m.playerRoom, connID)
	}

	player, rolled, err := room.AddPlayer(connID, playerName, password, now)
	if err != nil {
		m.mu.Unlock()
		return nil, nil, err
	}

	m.playerRoom[connID] = room.ID
	m.mu.Unlock()

	m.logger.Info("玩家加入房間",
		"room_id", room.ID,
		"player_name", playerName,
		"conn_id", connID)

	if leftRoomID != "" {
		m.notify(leftRoomID, "player_left", map[string]any{
			"room_id":     leftRoomID,
			"player_name": leftName,
		})
	}

	m.notify(room.ID, "player_joined", map[string]any{
		"room_id":     room.ID,
		"player_name": player.Name,
	})
	m.notify(room.ID, "scoreboard", map[string]any{
		"room_id": room.ID,
		"scores":  room.Scoreboard(),
	})
	if rolled != nil {
		m.notify(room.ID, "new_round", rolled)
	}

	m.requestSave()

	return room, rolled, nil
}

// LeaveRoom 離開房間（connID 未知時為冪等 no-op）
//
// 移除玩家與反向索引；房間變空時標記為閒置但不立即刪除
// （刪除是清理掃描的工作，允許玩家回來）。
func (m *Manager) LeaveRoom(connID string) (string, string, bool) {
	now := time.Now()

	m.mu.Lock()
	roomID, exists := m.playerRoom[connID]
	if !exists {
		m.mu.Unlock()
		return "", "", false
	}
	delete(m.playerRoom, connID)

	room, ok := m.rooms[roomID]
	if !ok {
		m.mu.Unlock()
		return roomID, "", false
	}

	name, empty, removed := room.RemovePlayer(connID, now)
	m.mu.Unlock()

	if !removed {
		return roomID, "", false
	}

	m.logger.Info("玩家離開房間",
		"room_id", roomID,
		"player_name", name,
		"room_empty", empty)

	m.notify(roomID, "player_left", map[string]any{
		"room_id":     roomID,
		"player_name": name,
	})

	m.requestSave()

	return roomID, name, true
}

// MakeGuess 猜測（核心事務，詳見 Room.Guess）
//
// 超時回合在這裡自癒：先通知舊回合的答案與新回合元數據，
// 再讓本次猜測對新回合生效。成功的結果（猜中或猜錯）都會觸發快照。
func (m *Manager) MakeGuess(roomID, connID string, guess int) (*GuessOutcome, error) {
	room := m.FindRoom(roomID)
	if room == nil {
		return nil, ErrRoomNotFound
	}

	outcome, err := room.Guess(connID, guess, time.Now())

	// 超時 rollover 即使在猜測被拒絕時也已經發生：照常通知並持久化
	if outcome != nil && outcome.ExpiredRound != nil {
		m.notify(room.ID, "round_expired", map[string]any{
			"room_id": room.ID,
			"secret":  outcome.ExpiredSecret,
		})
		m.notify(room.ID, "new_round", outcome.ExpiredRound)
		m.requestSave()
	}

	if err != nil {
		return nil, err
	}

	if outcome.Correct {
		m.logger.Info("玩家猜中",
			"room_id", room.ID,
			"player_name", outcome.PlayerName,
			"score_gained", outcome.ScoreGained,
			"streak", outcome.Streak)

		m.notify(room.ID, "scoreboard", map[string]any{
			"room_id": room.ID,
			"scores":  outcome.Scoreboard,
		})
		m.notify(room.ID, "new_round", outcome.NewRound)
	}

	m.requestSave()

	return outcome, nil
}

// ChatMessage 聊天廣播訊息
type ChatMessage struct {
	RoomID     string `json:"room_id"`
	PlayerName string `json:"player_name"`
	Text       string `json:"text"`
	Timestamp  int64  `json:"timestamp"`
}

// SendChat 聊天（發送者必須是房間成員且未超出每分鐘配額）
func (m *Manager) SendChat(roomID, connID, text string) (*ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, invalidInput("訊息不能為空")
	}
	if utf8.RuneCountInString(text) > chatMaxLen {
		runes := []rune(text)
		text = string(runes[:chatMaxLen])
	}

	room := m.FindRoom(roomID)
	if room == nil {
		return nil, ErrRoomNotFound
	}

	now := time.Now()
	name, err := room.SendChat(connID, now)
	if err != nil {
		return nil, err
	}

	msg := &ChatMessage{
		RoomID:     room.ID,
		PlayerName: name,
		Text:       text,
		Timestamp:  now.Unix(),
	}

	m.notify(room.ID, "chat_message", msg)

	return msg, nil
}

// ResetRoom 重置房間
//
// 授權檢查：請求者必須是房間的當前成員即可（刻意的簡化，
// 房間記錄了 HostID，需要更嚴格的授權時改為只允許房主）。
// 冪等：連續重置兩次結果相同。
func (m *Manager) ResetRoom(roomID, connID string) (*RoundPayload, error) {
	room := m.FindRoom(roomID)
	if room == nil {
		return nil, ErrRoomNotFound
	}
	if !room.HasConn(connID) {
		return nil, ErrPlayerNotFound
	}

	payload := room.Reset(time.Now())

	m.logger.Info("房間已重置", "room_id", room.ID, "conn_id", connID)

	m.notify(room.ID, "room_reset", map[string]any{
		"room_id": room.ID,
	})
	m.notify(room.ID, "scoreboard", map[string]any{
		"room_id": room.ID,
		"scores":  room.Scoreboard(),
	})
	m.notify(room.ID, "new_round", payload)

	m.requestSave()

	return payload, nil
}

// RoomInfo 房間詳情快照（只讀查詢）
func (m *Manager) RoomInfo(roomID string) (RoomInfo, error) {
	room := m.FindRoom(roomID)
	if room == nil {
		return RoomInfo{}, ErrRoomNotFound
	}
	return room.Info(), nil
}

// AvailableRooms 公開房間列表（私人房間不展示）
func (m *Manager) AvailableRooms() []RoomListing {
	m.mu.RLock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, room := range m.rooms {
		rooms = append(rooms, room)
	}
	m.mu.RUnlock()

	listings := make([]RoomListing, 0, len(rooms))
	for _, room := range rooms {
		if room.Private {
			continue
		}
		listings = append(listings, room.Listing())
	}

	sort.Slice(listings, func(i, j int) bool {
		return listings[i].ID < listings[j].ID
	})

	return listings
}

// Stats 獲取統計資訊
func (m *Manager) Stats() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()

	totalPlayers := 0
	activeRooms := 0
	for _, room := range m.rooms {
		totalPlayers += room.PlayerCount()
		room.Mu.RLock()
		if room.IsActive {
			activeRooms++
		}
		room.Mu.RUnlock()
	}

	return map[string]any{
		"total_rooms":   len(m.rooms),
		"active_rooms":  activeRooms,
		"total_players": totalPlayers,
	}
}

// sweepLoop 定期清理過期房間
func (m *Manager) sweepLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.Game.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Sweep()
		case <-m.stopCh:
			return
		}
	}
}

// Sweep 執行一次清理掃描（公開供測試與運維觸發）
//
// 與加入操作共用管理器寫鎖：掃描期間的刪除不可能與同一房間的
// 加入同時成功。掃描結束後持久化一次完整快照。
func (m *Manager) Sweep() {
	now := time.Now()

	m.mu.Lock()
	var removed []string
	for id, room := range m.rooms {
		if room.Expired(now) {
			removed = append(removed, id)
			delete(m.rooms, id)
		}
	}
	if len(removed) > 0 {
		// 防禦性清理反向索引（過期房間本應沒有玩家）
		for connID, roomID := range m.playerRoom {
			for _, id := range removed {
				if roomID == id {
					delete(m.playerRoom, connID)
				}
			}
		}
	}
	m.mu.Unlock()

	for _, id := range removed {
		m.logger.Info("房間已過期清理", "room_id", id)
		m.notify(id, "room_deleted", map[string]any{
			"room_id": id,
		})
	}

	// 每次掃描後都持久化一份完整快照，不只在有刪除時
	m.saveNow()
}

// saveLoop 持久化 worker（寫後台隊列）
func (m *Manager) saveLoop() {
	defer m.wg.Done()

	for {
		select {
		case <-m.saveCh:
			m.saveNow()
		case <-m.stopCh:
			return
		}
	}
}

// requestSave 非阻塞地請求一次快照
//
// 通道容量為 1：已有待處理請求時直接合併，遊戲操作永不等待 I/O。
func (m *Manager) requestSave() {
	if m.store == nil {
		return
	}
	select {
	case m.saveCh <- struct{}{}:
	default:
	}
}

// saveNow 立即持久化一次快照（盡力而為，失敗只記日誌）
//
// 只序列化有玩家的房間和創建未久的空房間，
// 早已無人的房間不值得佔用快照空間。
func (m *Manager) saveNow() {
	if m.store == nil {
		return
	}

	now := time.Now()

	m.mu.RLock()
	snapshots := make(map[string]RoomSnapshot)
	for id, room := range m.rooms {
		if room.PlayerCount() > 0 || now.Sub(room.CreatedAt) < m.cfg.Game.Retention {
			snapshots[id] = room.Snapshot()
		}
	}
	m.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := m.store.Save(ctx, snapshots); err != nil {
		m.logger.Error("持久化快照失敗", "error", err, "rooms", len(snapshots))
	}
}

// restore 啟動時從快照恢復房間
//
// 玩家成員不恢復（連接 ID 不跨重啟存活），榜單照快照原樣保留。
func (m *Manager) restore() {
	if m.store == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	snapshots, err := m.store.Load(ctx)
	if err != nil {
		m.logger.Error("讀取快照失敗", "error", err)
		return
	}

	for id, snap := range snapshots {
		m.rooms[id] = roomFromSnapshot(&m.cfg.Game, snap)
	}

	if len(snapshots) > 0 {
		m.logger.Info("已從快照恢復房間", "count", len(snapshots))
	}
}

// Stop 停止管理器（最後做一次快照）
func (m *Manager) Stop() {
	close(m.stopCh)
	m.wg.Wait()
	m.saveNow()
	m.logger.Info("遊戲管理器已停止")
}

// validateRoomID 驗證房間 ID（3-30 字元，限定字元集）
func validateRoomID(id string) error {
	n := utf8.RuneCountInString(id)
	if n < roomIDMinLen || n > roomIDMaxLen {
		return invalidInput("房間 ID 長度必須在 %d 到 %d 之間", roomIDMinLen, roomIDMaxLen)
	}
	if !validNamePattern.MatchString(id) {
		return invalidInput("房間 ID 含有不合法字元")
	}
	return nil
}

// validateRoomName 驗證房間名稱（2-30 字元，限定字元集）
func validateRoomName(name string) error {
	n := utf8.RuneCountInString(name)
	if n < roomNameMinLen || n > roomNameMaxLen {
		return invalidInput("房間名稱長度必須在 %d 到 %d 之間", roomNameMinLen, roomNameMaxLen)
	}
	if !validNamePattern.MatchString(name) {
		return invalidInput("房間名稱含有不合法字元")
	}
	return nil
}

// validatePlayerName 驗證玩家名稱（2-20 字元，限定字元集）
func validatePlayerName(name string) error {
	n := utf8.RuneCountInString(name)
	if n < playerNameMin || n > playerNameMax {
		return invalidInput("玩家名稱長度必須在 %d 到 %d 之間", playerNameMin, playerNameMax)
	}
	if !validNamePattern.MatchString(name) {
		return invalidInput("玩家名稱含有不合法字元")
	}
	return nil
}
