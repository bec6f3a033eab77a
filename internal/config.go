package internal

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 整個應用的配置
type Config struct {
	Server struct {
		Port         int           `yaml:"port"`
		ReadTimeout  time.Duration `yaml:"read_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
		IdleTimeout  time.Duration `yaml:"idle_timeout"`
	} `yaml:"server"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
	} `yaml:"redis"`

	Game GameConfig `yaml:"game"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// GameConfig 遊戲規則配置
//
// 每個欄位都直接對應一條遊戲規則，修改即生效（無需改代碼）：
//   - 範圍與回合：預設數字範圍、回合時長
//   - 容量：單房間人數上限、全局房間數上限
//   - 防刷：猜測最小間隔、每回合猜測上限、每分鐘聊天上限
//   - 計分：基礎分、連勝乘數
//   - 回收：空房/閒置房寬限期、清理掃描間隔
type GameConfig struct {
	DefaultLow  int  `yaml:"default_low"`  // 預設範圍下界
	DefaultHigh int  `yaml:"default_high"` // 預設範圍上界
	FixedRange  bool `yaml:"fixed_range"`  // true 時每回合固定使用預設範圍

	RoundDuration time.Duration `yaml:"round_duration"` // 單回合時長

	MaxPlayersPerRoom int `yaml:"max_players_per_room"` // 單房間人數上限
	MaxRooms          int `yaml:"max_rooms"`            // 全局房間數上限

	GuessInterval      time.Duration `yaml:"guess_interval"`        // 兩次猜測最小間隔
	MaxGuessesPerRound int           `yaml:"max_guesses_per_round"` // 每回合猜測上限
	MaxChatPerMinute   int           `yaml:"max_chat_per_minute"`   // 每分鐘聊天上限

	BaseScore        int     `yaml:"base_score"`        // 猜中基礎分
	StreakMultiplier float64 `yaml:"streak_multiplier"` // 連勝加成乘數

	HistorySize int `yaml:"history_size"` // 回合歷史保留數量

	EmptyGrace    time.Duration `yaml:"empty_grace"`    // 空房間自創建起的寬限期
	InactiveGrace time.Duration `yaml:"inactive_grace"` // 閒置房間的寬限期
	Retention     time.Duration `yaml:"retention"`      // 快照保留空房間的時間窗
	SweepInterval time.Duration `yaml:"sweep_interval"` // 清理掃描間隔
}

// DefaultConfig 返回預設配置
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Port = 8080
	cfg.Server.ReadTimeout = 15 * time.Second
	cfg.Server.WriteTimeout = 15 * time.Second
	cfg.Server.IdleTimeout = 60 * time.Second

	cfg.Redis.Enabled = false
	cfg.Redis.Addr = "localhost:6379"
	cfg.Redis.PoolSize = 10

	cfg.Log.Level = "info"
	cfg.Log.Format = "text"

	cfg.Game = GameConfig{
		DefaultLow:         1,
		DefaultHigh:        100,
		FixedRange:         false,
		RoundDuration:      60 * time.Second,
		MaxPlayersPerRoom:  10,
		MaxRooms:           50,
		GuessInterval:      time.Second,
		MaxGuessesPerRound: 10,
		MaxChatPerMinute:   10,
		BaseScore:          100,
		StreakMultiplier:   10,
		HistorySize:        10,
		EmptyGrace:         2 * time.Minute,
		InactiveGrace:      10 * time.Minute,
		Retention:          5 * time.Minute,
		SweepInterval:      time.Minute,
	}

	return cfg
}

// LoadConfig 載入配置檔案
//
// 以預設配置為基底，檔案中出現的欄位覆蓋預設值。
// 檔案不存在時直接使用預設配置（方便本地開發）。
// REDIS_ADDR 環境變數可覆蓋 redis 位址（生產環境常用）。
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("讀取配置檔案失敗: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("解析配置檔案失敗: %w", err)
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}

	return cfg, cfg.Validate()
}

// Validate 驗證配置合法性
func (c *Config) Validate() error {
	g := &c.Game

	if g.DefaultLow >= g.DefaultHigh {
		return fmt.Errorf("數字範圍不合法: [%d, %d]", g.DefaultLow, g.DefaultHigh)
	}
	if g.RoundDuration <= 0 {
		return fmt.Errorf("回合時長必須大於 0")
	}
	if g.MaxPlayersPerRoom < 1 {
		return fmt.Errorf("單房間人數上限必須至少為 1")
	}
	if g.MaxRooms < 1 {
		return fmt.Errorf("房間數量上限必須至少為 1")
	}
	if g.MaxGuessesPerRound < 1 {
		return fmt.Errorf("每回合猜測上限必須至少為 1")
	}
	if g.HistorySize < 1 {
		return fmt.Errorf("回合歷史數量必須至少為 1")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("端口必須在 1-65535 之間")
	}

	return nil
}
