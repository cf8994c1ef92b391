package domain

// RouteCategory — категория маршрута для правил governance.
type RouteCategory string

const (
	CategoryUI   RouteCategory = "UI"
	CategoryAPI  RouteCategory = "API"
	CategoryData RouteCategory = "DATA"
)

// PolicyStatus определяет, что делать с предложенным действием.
type PolicyStatus string

const (
	PolicyAllowed PolicyStatus = "ALLOWED" // Разрешить
	PolicyReview  PolicyStatus = "REVIEW"  // Требуется ручная проверка
	PolicyBlocked PolicyStatus = "BLOCKED" // Заблокировать
)

// PolicyEvaluation — эфемерный результат проверки действия.
// Reasons идут в том порядке, в котором сработали правила: вызывающая
// сторона показывает их оператору дословно.
type PolicyEvaluation struct {
	Status            PolicyStatus  `json:"status"`
	Reasons           []string      `json:"reasons"`
	MinimumConfidence float64       `json:"minimum_confidence"`
	AllowAutoApply    bool          `json:"allow_auto_apply"`
	Category          RouteCategory `json:"category"`
}
