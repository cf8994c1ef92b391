package infra

import "fmt"

const (
	// RedisNamespace — базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "map"
)

// Ключи состояния
const (
	// RedisKeyLoopState — зеркало снапшота петли автономии (пишет mapd,
	// читает Console API).
	RedisKeyLoopState = RedisNamespace + ":autonomy:state"

	// RedisKeyLockFederationCycle — SetNX-замок на цикл broadcast-а,
	// чтобы при нескольких инстансах снапшот слал ровно один.
	RedisKeyLockFederationCycle = RedisNamespace + ":lock:federation:cycle"
)

// Каналы Pub/Sub (управляющие сигналы)
const (
	// RedisChanAutonomyControl — канал команд pause/resume для петли.
	RedisChanAutonomyControl = RedisNamespace + ":autonomy:control"
)

// Управляющие сигналы петли.
const (
	AutonomySignalPause  = "pause"
	AutonomySignalResume = "resume"
)

// AutoPublishQuotaKey — счетчик дневной квоты автопубликаций организации.
// Сутки по UTC; атомарный INCR по этому ключу и есть резервирование квоты.
func AutoPublishQuotaKey(organizationID, utcDay string) string {
	return fmt.Sprintf("%s:quota:autopublish:%s:%s", RedisNamespace, organizationID, utcDay)
}
