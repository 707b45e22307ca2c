package progression

import (
	"context"
	"time"

	"github.com/cyberguard/cyberguard-training/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Все записи одного завершения выполняются внутри одной транзакции (Tx).
// Реализации находятся в infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// ItemResolver находит элемент каталога для записи завершения.
type ItemResolver interface {
	// Resolve возвращает элемент вида kind.
	// Возвращает ошибку с ErrNotFound, если элемента нет.
	Resolve(ctx context.Context, kind ActivityKind, itemID int64) (ActivityItem, error)
}

// Ledger - XP-леджер: прогресс по категориям и глобальный баланс.
type Ledger interface {
	// GrantCategoryXP атомарно вставляет или увеличивает строку прогресса
	// (один оператор upsert, без read-modify-write).
	GrantCategoryXP(ctx context.Context, userID, categoryID int64, grant CategoryGrant) (CategoryProgress, error)

	// GrantGlobalXP добавляет amount (>= 0) к total_xp и возвращает новый
	// итог вместе с ранее сохранённым уровнем.
	GrantGlobalXP(ctx context.Context, userID int64, amount shared.XP) (Balance, error)

	// PromoteLevel сохраняет новый уровень. Уровень никогда не уменьшается.
	PromoteLevel(ctx context.Context, userID int64, level shared.Level) error

	// Balance читает текущий баланс без изменений.
	Balance(ctx context.Context, userID int64) (Balance, error)
}

// StreakStore хранит серии.
type StreakStore interface {
	// Touch применяет активность в день today одним условным upsert.
	Touch(ctx context.Context, userID int64, today time.Time) (StreakUpdate, error)

	// Get возвращает серию или пустую серию, если активности не было.
	Get(ctx context.Context, userID int64) (*Streak, error)
}

// CompletionStore хранит факты завершения.
type CompletionStore interface {
	// IsCompleted проверяет наличие завершения. Только оптимизация:
	// гарантом служит ограничение уникальности.
	IsCompleted(ctx context.Context, kind ActivityKind, userID, itemID int64) (bool, error)

	// Record вставляет завершение. Для видов с AtMostOnce возвращает false,
	// если запись уже существовала (конкурентный дубль).
	Record(ctx context.Context, c Completion) (bool, error)

	// Count возвращает число завершений вида kind.
	Count(ctx context.Context, kind ActivityKind, userID int64) (int, error)
}

// RewardStore - каталог наград и разблокировки.
type RewardStore interface {
	// Catalog возвращает все награды каталога.
	Catalog(ctx context.Context) ([]Reward, error)

	// Unlock создаёт запись (пользователь, награда). Возвращает false,
	// если награда уже была выдана.
	Unlock(ctx context.Context, userID int64, reward Reward) (bool, error)

	// Unlocked возвращает выданные пользователю награды.
	Unlocked(ctx context.Context, userID int64) ([]Reward, error)
}

// ActivityLog - журнал событий, только добавление.
type ActivityLog interface {
	Append(ctx context.Context, entry ActivityLogEntry) error
	Recent(ctx context.Context, userID int64, limit int) ([]ActivityLogEntry, error)
}

// StatsReader собирает показатели для оценщика наград.
type StatsReader interface {
	Stats(ctx context.Context, userID int64) (Stats, error)
}

// Tx - транзакционный контекст одного завершения.
type Tx interface {
	Ledger() Ledger
	Streaks() StreakStore
	Completions() CompletionStore
	Rewards() RewardStore
	ActivityLog() ActivityLog
	Stats() StatsReader

	// Savepoint выполняет fn во вложенной транзакции. Ошибка fn откатывает
	// только её записи; внешняя транзакция остаётся пригодной.
	Savepoint(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// UnitOfWork открывает транзакцию, фиксирует её при успехе fn и
// откатывает при ошибке или панике.
type UnitOfWork interface {
	Within(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
