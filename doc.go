// Package guessnumber 提供了一個多人即時猜數字遊戲服務器。
//
// 實現了一個支援多房間、多玩家的即時遊戲服務，包含以下核心功能：
//
// 房間管理系統
//
// 提供完整的房間生命週期管理：
//   - 房間創建與銷毀（含私人房間與密碼保護）
//   - 玩家加入與離開（斷線即離開）
//   - 過期房間的定期清理掃描
//   - 盡力而為的快照持久化（Redis）
//
// # 遊戲玩法
//
// 每個房間持續運行回合制猜數字遊戲：
//   - 每回合在時間窗內猜一個範圍內的秘密數字
//   - 難度隨回合遞增（範圍逐步擴大）
//   - 計分包含基礎分、時間加成與連勝加成
//   - 猜測受最小間隔與每回合配額限制
//
// # WebSocket 通訊
//
// 實現了即時雙向通訊機制：
//   - 所有遊戲操作走單一 WebSocket 入口（/ws）
//   - 支援心跳檢測（Ping/Pong）
//   - 房間級別的事件廣播與單連接回覆
//   - 房間內聊天（滾動窗口限流）
//
// 併發安全設計
//
// 採用了多層次的併發控制策略：
//   - 房間粒度讀寫鎖：猜測事務在單次持鎖期間完成，
//     天然排除同回合雙贏家
//   - 管理器級鎖保護房間表與反向索引，加入與清理刪除互斥
//   - 持久化走緩衝 channel 的後台隊列，不阻塞遊戲操作
//
// 使用範例
//
// 啟動服務器：
//
//	cfg, _ := internal.LoadConfig("config.yaml")
//	manager := internal.NewManager(cfg, store, logger)
//	hub := internal.NewWebSocketHub(manager, logger)
//	handler := internal.NewHandler(manager, hub, logger)
//	log.Fatal(http.ListenAndServe(":8080", handler.Routes()))
//
// 架構設計
//
// 系統採用分層架構設計：
//   - Handler 層：只讀 HTTP 查詢與健康檢查
//   - WebSocket 層：連接管理、事件分發與廣播
//   - Manager 層：房間表、全局操作與後台任務
//   - Room 層：回合狀態機、計分與限流
//
// 配置選項
//
// 支援 YAML 配置文件與命令行參數：
//   - -config：配置文件路徑（預設 config.yaml）
//   - -port：服務監聽端口（覆蓋配置）
//   - -log-level：日誌級別（debug/info/warn/error）
package guessnumber
