package core

// ProjectStatus is the lifecycle stage of a project.
type ProjectStatus string

const (
	StatusContract     ProjectStatus = "contract"
	StatusAdvance      ProjectStatus = "advance"
	StatusOrder        ProjectStatus = "order"
	StatusShipment     ProjectStatus = "shipment"
	StatusLaunch       ProjectStatus = "launch"
	StatusClosing      ProjectStatus = "closing"
	StatusFinalPayment ProjectStatus = "final_payment"
	StatusCompleted    ProjectStatus = "completed"
	StatusCancelled    ProjectStatus = "cancelled"
)

// StatusInfo holds display metadata for a status.
type StatusInfo struct {
	Status   ProjectStatus `json:"status"`
	Label    string        `json:"label"`
	Color    string        `json:"color"`
	Icon     string        `json:"icon"`
	Progress int           `json:"progress"`
}

// statusTable is ordered by lifecycle. Colors are Tailwind palette names and
// icons are lucide names.
var statusTable = []StatusInfo{
	{StatusContract, "Договор", "blue", "file-text", 10},
	{StatusAdvance, "Аванс", "yellow", "dollar-sign", 20},
	{StatusOrder, "Заказ", "amber", "shopping-cart", 30},
	{StatusShipment, "Отгрузка", "orange", "truck", 50},
	{StatusLaunch, "Запуск", "cyan", "rocket", 65},
	{StatusClosing, "Закрывающие", "purple", "file-check", 80},
	{StatusFinalPayment, "Финальная оплата", "indigo", "banknote", 90},
	{StatusCompleted, "Завершено", "green", "check-circle-2", 100},
	{StatusCancelled, "Отменено", "red", "x-circle", 0},
}

// ExpenseCategories is the canonical list offered to users.
var ExpenseCategories = []string{
	"Стоимость товара",
	"Комиссия банка за перевод",
	"Доставка из-за рубежа",
	"Таможенное оформление",
	"Оформление ДС",
	"Пошлины",
	"Доставка Аэропорт-Склад",
	"Хранение на складе",
	"Доставка по РФ",
}

// Statuses returns the metadata for every status in lifecycle order.
func Statuses() []StatusInfo {
	out := make([]StatusInfo, len(statusTable))
	copy(out, statusTable)
	return out
}

func ParseStatus(s string) (ProjectStatus, error) {
	st := ProjectStatus(s)
	if !st.IsValid() {
		return "", ErrInvalidStatus
	}
	return st, nil
}

func (s ProjectStatus) IsValid() bool {
	_, ok := s.info()
	return ok
}

// IsActive is false for completed and cancelled projects.
func (s ProjectStatus) IsActive() bool {
	return s != StatusCompleted && s != StatusCancelled
}

func (s ProjectStatus) Label() string {
	if i, ok := s.info(); ok {
		return i.Label
	}
	return string(s)
}

func (s ProjectStatus) Color() string {
	if i, ok := s.info(); ok {
		return i.Color
	}
	return "gray"
}

func (s ProjectStatus) Icon() string {
	if i, ok := s.info(); ok {
		return i.Icon
	}
	return "circle"
}

// Progress is the completion percent shown on project cards.
func (s ProjectStatus) Progress() int {
	if i, ok := s.info(); ok {
		return i.Progress
	}
	return 0
}

func (s ProjectStatus) info() (StatusInfo, bool) {
	for _, i := range statusTable {
		if i.Status == s {
			return i, true
		}
	}
	return StatusInfo{}, false
}
