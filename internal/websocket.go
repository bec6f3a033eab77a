package internal

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// 系統設計問題：
//   如何實現多人遊戲的實時狀態同步？
//
// 核心挑戰：
//   1. 實時通信：房間狀態變更需要立即推送給所有玩家
//   2. 連接管理：處理斷線、換房、重複登入
//   3. 心跳機制：檢測死連接（網絡異常、客戶端崩潰）
//   4. 並發廣播：同時向多個客戶端發送消息
//
// 設計方案：
//   ✅ WebSocket - 全雙工通信（低延遲、服務器推送）
//   ✅ Hub 模式 - 集中管理所有連接
//   ✅ Ping/Pong 心跳 - 檢測死連接（54s/60s）
//   ✅ 緩衝 channel - 異步發送（不阻塞）
//
// 身份模型：每個連接在升級時獲得一個 UUID 連接 ID，整個會話期間
// 不變。遊戲層以連接 ID 識別玩家，斷線即離開房間。

// inboundMessage 客戶端消息信封
type inboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// outboundMessage 服務器消息信封
type outboundMessage struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// WebSocketHub WebSocket 連接中心
//
// 連接映射兩層：connID -> Connection（直接回覆）與
// roomID -> connID 集合（房間廣播）。讀多寫少，用 RWMutex。
// Hub 實現 Broadcaster，是 Manager 通知成員的唯一出口。
type WebSocketHub struct {
	manager  *Manager
	logger   *slog.Logger
	upgrader websocket.Upgrader

	conns     map[string]*Connection            // connID -> Connection
	roomConns map[string]map[string]*Connection // roomID -> connID -> Connection
	mu        sync.RWMutex
}

// Connection WebSocket 連接
type Connection struct {
	ID       string
	Conn     *websocket.Conn
	Send     chan []byte
	Hub      *WebSocketHub
	LastPing time.Time

	mu        sync.Mutex
	closeOnce sync.Once // 確保 channel 只關閉一次
}

// NewWebSocketHub 創建 WebSocket Hub
func NewWebSocketHub(manager *Manager, logger *slog.Logger) *WebSocketHub {
	hub := &WebSocketHub{
		manager: manager,
		logger:  logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// 在生產環境應該檢查來源
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		conns:     make(map[string]*Connection),
		roomConns: make(map[string]map[string]*Connection),
	}

	manager.SetBroadcaster(hub)

	return hub
}

// ServeWS 處理 WebSocket 連接
func (hub *WebSocketHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("升級 WebSocket 失敗", "error", err)
		return
	}

	connection := &Connection{
		ID:       uuid.NewString(),
		Conn:     conn,
		Send:     make(chan []byte, 256),
		Hub:      hub,
		LastPing: time.Now(),
	}

	hub.mu.Lock()
	hub.conns[connection.ID] = connection
	hub.mu.Unlock()

	go connection.writePump()
	go connection.readPump()

	connection.sendEvent("connected", map[string]any{
		"conn_id": connection.ID,
	})

	hub.logger.Info("WebSocket 連接建立", "conn_id", connection.ID)
}

// ToRoom 實現 Broadcaster：向房間所有連接廣播命名事件
func (hub *WebSocketHub) ToRoom(roomID, event string, data any) {
	message, err := json.Marshal(outboundMessage{Event: event, Data: data})
	if err != nil {
		hub.logger.Error("序列化事件失敗", "event", event, "error", err)
		return
	}

	hub.mu.RLock()
	defer hub.mu.RUnlock()

	for _, conn := range hub.roomConns[roomID] {
		select {
		case conn.Send <- message:
		default:
			// 連接緩衝區滿了，丟棄這條消息（慢客戶端不拖累整個房間）
			hub.logger.Warn("連接緩衝區滿",
				"room_id", roomID,
				"conn_id", conn.ID)
		}
	}
}

// addToRoom 將連接加入房間廣播索引
func (hub *WebSocketHub) addToRoom(roomID string, conn *Connection) {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	// 同一連接最多屬於一個房間
	for id, conns := range hub.roomConns {
		if id != roomID {
			delete(conns, conn.ID)
			if len(conns) == 0 {
				delete(hub.roomConns, id)
			}
		}
	}

	if hub.roomConns[roomID] == nil {
		hub.roomConns[roomID] = make(map[string]*Connection)
	}
	hub.roomConns[roomID][conn.ID] = conn
}

// removeFromRoom 將連接從房間廣播索引移除
func (hub *WebSocketHub) removeFromRoom(roomID string, conn *Connection) {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	if conns, exists := hub.roomConns[roomID]; exists {
		delete(conns, conn.ID)
		if len(conns) == 0 {
			delete(hub.roomConns, roomID)
		}
	}
}

// unregister 連接關閉時的清理（斷線等同離開房間）
func (hub *WebSocketHub) unregister(conn *Connection) {
	roomID, name, left := hub.manager.LeaveRoom(conn.ID)

	hub.mu.Lock()
	delete(hub.conns, conn.ID)
	for id, conns := range hub.roomConns {
		delete(conns, conn.ID)
		if len(conns) == 0 {
			delete(hub.roomConns, id)
		}
	}
	hub.mu.Unlock()

	conn.closeOnce.Do(func() {
		close(conn.Send)
	})

	if left {
		hub.logger.Info("連接斷開並離開房間",
			"conn_id", conn.ID,
			"room_id", roomID,
			"player_name", name)
	} else {
		hub.logger.Info("連接斷開", "conn_id", conn.ID)
	}
}

// Stop 停止 WebSocket Hub
func (hub *WebSocketHub) Stop() {
	hub.mu.Lock()
	for _, conn := range hub.conns {
		conn.closeOnce.Do(func() {
			close(conn.Send)
		})
		conn.Conn.Close()
	}
	hub.conns = make(map[string]*Connection)
	hub.roomConns = make(map[string]map[string]*Connection)
	hub.mu.Unlock()

	hub.logger.Info("WebSocket Hub 已停止")
}

// ConnectionCount 獲取當前連接數
func (hub *WebSocketHub) ConnectionCount() int {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	return len(hub.conns)
}

// readPump 讀取客戶端消息
//
// 心跳機制（讀取端）：60 秒內沒有收到任何消息（包括 Pong）即
// 關閉連接，配合 writePump 的 54 秒 Ping（留 6 秒余量）。
func (c *Connection) readPump() {
	defer func() {
		c.Hub.unregister(c)
		c.Conn.Close()
	}()

	if err := c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second)); err != nil {
		c.Hub.logger.Error("設置讀取期限失敗", "error", err)
	}

	c.Conn.SetPongHandler(func(string) error {
		if err := c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second)); err != nil {
			c.Hub.logger.Error("設置讀取期限失敗", "error", err)
		}
		c.mu.Lock()
		c.LastPing = time.Now()
		c.mu.Unlock()
		return nil
	})

	for {
		messageType, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.logger.Error("WebSocket 讀取錯誤",
					"error", err,
					"conn_id", c.ID)
			}
			break
		}

		if messageType == websocket.TextMessage {
			c.handleMessage(message)
		}
	}
}

// writePump 寫入消息到客戶端
//
// 心跳機制（發送端）：54 秒 Ping 間隔避開常見的 60 秒代理超時。
// 業務消息走緩衝 channel 異步發送，批量清空隊列減少系統調用。
func (c *Connection) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			if err := c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
				c.Hub.logger.Error("設置寫入期限失敗", "error", err)
			}
			if !ok {
				// Hub 關閉了通道，優雅關閉連接
				deadline := time.Now().Add(time.Second)
				if err := c.Conn.SetWriteDeadline(deadline); err == nil {
					_ = c.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				}
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			// 批量發送隊列中的消息
			n := len(c.Send)
			for i := 0; i < n; i++ {
				if err := c.Conn.WriteMessage(websocket.TextMessage, <-c.Send); err != nil {
					c.Hub.logger.Error("發送消息失敗", "error", err)
					return
				}
			}

		case <-ticker.C:
			if err := c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
				c.Hub.logger.Error("設置寫入期限失敗", "error", err)
			}
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// sendEvent 向本連接發送命名事件
func (c *Connection) sendEvent(event string, data any) {
	message, err := json.Marshal(outboundMessage{Event: event, Data: data})
	if err != nil {
		c.Hub.logger.Error("序列化事件失敗", "event", event, "error", err)
		return
	}
	select {
	case c.Send <- message:
	default:
	}
}

// sendError 向本連接發送錯誤事件（保留 AppError 的錯誤碼）
func (c *Connection) sendError(event string, err error) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		c.sendEvent(event, map[string]any{
			"code":    appErr.Code,
			"message": appErr.Message,
		})
		return
	}
	c.sendEvent(event, map[string]any{
		"code":    "INTERNAL",
		"message": err.Error(),
	})
}

// 客戶端請求結構

type createRoomRequest struct {
	RoomID     string `json:"room_id"`
	RoomName   string `json:"room_name"`
	MaxPlayers int    `json:"max_players"`
	Password   string `json:"password,omitempty"`
	IsPrivate  bool   `json:"is_private"`
}

type joinRoomRequest struct {
	RoomID     string `json:"room_id"`
	PlayerName string `json:"player_name"`
	Password   string `json:"password,omitempty"`
}

type guessRequest struct {
	RoomID string `json:"room_id"`
	Guess  int    `json:"guess"`
}

type chatRequest struct {
	RoomID string `json:"room_id"`
	Text   string `json:"text"`
}

type roomRefRequest struct {
	RoomID string `json:"room_id"`
}

// handleMessage 分發客戶端消息
func (c *Connection) handleMessage(message []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.sendError("error", invalidInput("無效的消息格式"))
		return
	}

	switch msg.Type {
	case "create_room":
		c.handleCreateRoom(msg.Data)
	case "join_room":
		c.handleJoinRoom(msg.Data)
	case "leave_room":
		c.handleLeaveRoom()
	case "make_guess":
		c.handleMakeGuess(msg.Data)
	case "chat_message":
		c.handleChat(msg.Data)
	case "reset_room":
		c.handleResetRoom(msg.Data)
	case "get_room_info":
		c.handleRoomInfo(msg.Data)
	case "get_available_rooms":
		c.handleAvailableRooms()
	case "ping":
		c.sendEvent("pong", nil)
	default:
		c.sendError("error", invalidInput("未知的消息類型 %q", msg.Type))
	}
}

func (c *Connection) handleCreateRoom(data json.RawMessage) {
	var req createRoomRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.sendError("error", invalidInput("無效的請求格式"))
		return
	}

	room, err := c.Hub.manager.CreateRoom(req.RoomID, req.RoomName, req.MaxPlayers, req.Password, req.IsPrivate)
	if err != nil {
		c.sendError("error", err)
		return
	}

	c.sendEvent("room_created", room.Listing())
}

func (c *Connection) handleJoinRoom(data json.RawMessage) {
	var req joinRoomRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.sendError("join_error", invalidInput("無效的請求格式"))
		return
	}

	room, _, err := c.Hub.manager.JoinRoom(req.RoomID, req.PlayerName, c.ID, req.Password)
	if err != nil {
		c.sendError("join_error", err)
		return
	}

	c.Hub.addToRoom(room.ID, c)

	// 加入房間的廣播發生在本連接進入廣播索引之前，
	// 完整的房間視圖由這條直接回覆補齊
	c.sendEvent("room_joined", room.Info())
}

func (c *Connection) handleLeaveRoom() {
	// 離開是冪等操作：不在任何房間時回覆空的確認而非錯誤
	roomID, name, left := c.Hub.manager.LeaveRoom(c.ID)
	if left {
		c.Hub.removeFromRoom(roomID, c)
	}

	c.sendEvent("left_room", map[string]any{
		"room_id":     roomID,
		"player_name": name,
	})
}

func (c *Connection) handleMakeGuess(data json.RawMessage) {
	var req guessRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.sendError("guess_error", invalidInput("無效的請求格式"))
		return
	}

	outcome, err := c.Hub.manager.MakeGuess(req.RoomID, c.ID, req.Guess)
	if err != nil {
		c.sendError("guess_error", err)
		return
	}

	c.sendEvent("guess_result", outcome)
}

func (c *Connection) handleChat(data json.RawMessage) {
	var req chatRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.sendError("error", invalidInput("無效的請求格式"))
		return
	}

	// 廣播（含發送者）由 Manager 完成，這裡不需要再回覆
	if _, err := c.Hub.manager.SendChat(req.RoomID, c.ID, req.Text); err != nil {
		c.sendError("error", err)
	}
}

func (c *Connection) handleResetRoom(data json.RawMessage) {
	var req roomRefRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.sendError("reset_error", invalidInput("無效的請求格式"))
		return
	}

	if _, err := c.Hub.manager.ResetRoom(req.RoomID, c.ID); err != nil {
		c.sendError("reset_error", err)
	}
}

func (c *Connection) handleRoomInfo(data json.RawMessage) {
	var req roomRefRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.sendError("error", invalidInput("無效的請求格式"))
		return
	}

	info, err := c.Hub.manager.RoomInfo(req.RoomID)
	if err != nil {
		c.sendError("error", err)
		return
	}

	c.sendEvent("room_info", info)
}

func (c *Connection) handleAvailableRooms() {
	c.sendEvent("available_rooms", map[string]any{
		"rooms": c.Hub.manager.AvailableRooms(),
	})
}
