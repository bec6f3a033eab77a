package internal

import (
	"errors"
	"fmt"
)

// 錯誤碼定義
//
// 錯誤分類（參考錯誤處理設計）：
//   - 驗證錯誤：輸入格式不合法，在任何狀態變更前拒絕
//   - 策略錯誤：容量、重複、密碼、速率等限制，拒絕且不變更狀態
//   - 未找到錯誤：房間或玩家不存在
//
// 所有錯誤都是非致命的：操作返回結構化結果，進程不會因壞輸入崩潰。
const (
	// ErrCodeInvalidInput 無效輸入
	ErrCodeInvalidInput = "INVALID_INPUT"
	// ErrCodeNotFound 資源未找到
	ErrCodeNotFound = "NOT_FOUND"
	// ErrCodeAlreadyExists 資源已存在
	ErrCodeAlreadyExists = "ALREADY_EXISTS"
	// ErrCodeRoomFull 房間已滿
	ErrCodeRoomFull = "ROOM_FULL"
	// ErrCodeWrongPassword 密碼錯誤
	ErrCodeWrongPassword = "WRONG_PASSWORD"
	// ErrCodeCapacityExceeded 全局房間數已達上限
	ErrCodeCapacityExceeded = "CAPACITY_EXCEEDED"
	// ErrCodeRateLimited 操作過於頻繁
	ErrCodeRateLimited = "RATE_LIMITED"
	// ErrCodeQuotaExceeded 配額超限
	ErrCodeQuotaExceeded = "QUOTA_EXCEEDED"
	// ErrCodeOutOfRange 猜測數字超出範圍
	ErrCodeOutOfRange = "OUT_OF_RANGE"
)

// AppError 應用程式錯誤
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// Error 實現 error 介面
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 實現 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is 以錯誤碼比較（支援 errors.Is）
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewError 創建新的應用程式錯誤
func NewError(code, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// 預定義錯誤
var (
	// ErrRoomNotFound 房間不存在
	ErrRoomNotFound = NewError(ErrCodeNotFound, "房間不存在")

	// ErrPlayerNotFound 玩家不在房間內
	ErrPlayerNotFound = NewError(ErrCodeNotFound, "玩家不在房間內")

	// ErrRoomExists 房間 ID 已被使用
	ErrRoomExists = NewError(ErrCodeAlreadyExists, "房間 ID 已存在")

	// ErrNameTaken 玩家名稱已被同房間的其他人使用
	ErrNameTaken = NewError(ErrCodeAlreadyExists, "玩家名稱已存在")

	// ErrRoomFull 房間人數已達上限
	ErrRoomFull = NewError(ErrCodeRoomFull, "房間已滿")

	// ErrWrongPassword 私人房間密碼不正確
	ErrWrongPassword = NewError(ErrCodeWrongPassword, "密碼錯誤")

	// ErrTooManyRooms 全局房間數已達上限
	ErrTooManyRooms = NewError(ErrCodeCapacityExceeded, "房間數量已達上限")

	// ErrGuessTooFast 兩次猜測間隔低於最小限制
	ErrGuessTooFast = NewError(ErrCodeRateLimited, "猜測太快，請稍候")

	// ErrGuessQuota 本回合猜測次數已用完
	ErrGuessQuota = NewError(ErrCodeQuotaExceeded, "本回合猜測次數已用完")

	// ErrChatQuota 每分鐘聊天訊息數已達上限
	ErrChatQuota = NewError(ErrCodeRateLimited, "聊天訊息太頻繁，請稍候")
)

// invalidInput 創建帶格式化訊息的驗證錯誤
func invalidInput(format string, args ...any) *AppError {
	return NewError(ErrCodeInvalidInput, fmt.Sprintf(format, args...))
}

// IsNotFound 檢查是否為未找到錯誤
func IsNotFound(err error) bool {
	return hasCode(err, ErrCodeNotFound)
}

// IsRateLimited 檢查是否為速率限制錯誤
func IsRateLimited(err error) bool {
	return hasCode(err, ErrCodeRateLimited)
}

// IsQuotaExceeded 檢查是否為配額超限錯誤
func IsQuotaExceeded(err error) bool {
	return hasCode(err, ErrCodeQuotaExceeded)
}

// IsOutOfRange 檢查是否為超出範圍錯誤
func IsOutOfRange(err error) bool {
	return hasCode(err, ErrCodeOutOfRange)
}

func hasCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}
