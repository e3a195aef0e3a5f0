package dialog

import (
	"fmt"
	"strings"

	"prokat-bot/internal/storage"
)

const orderListHeader = "Все заявки:"

var statusTitles = map[string]string{
	storage.StatusRecording:  "оформляется",
	storage.StatusInProgress: "в работе",
	storage.StatusDone:       "выполнена",
	storage.StatusCanceled:   "отменена",
}

// FormatOrderList renders every order with requester detail as one
// message. Zero orders yield the bare header.
func FormatOrderList(orders []storage.OrderWithUser) string {
	var b strings.Builder
	b.WriteString(orderListHeader)

	for _, order := range orders {
		status, ok := statusTitles[order.Status]
		if !ok {
			status = order.Status
		}
		fmt.Fprintf(&b, "\n\n#%d — %s / %s, %s\nСтатус: %s\nЗаказчик: %s, %s\nСоздана: %s",
			order.ID,
			order.Category,
			order.Subcategory,
			order.Duration,
			status,
			order.UserName,
			order.UserPhone,
			order.CreatedAt.Format("02.01.2006 15:04"),
		)
	}
	return b.String()
}

// FormatOrderPlaced is the admin notification sent on booking confirm.
func FormatOrderPlaced(user *storage.User, category, subcategory, duration, itemName, price string) string {
	return fmt.Sprintf(`Поступила заявка. Информация о заказчике:
Имя: %s.
Номер телефона: %s.
Рост: %s, вес: %s.
Заявка на следующий инвентарь: %s (%s / %s, %s).
Стоимость: %s.
Заказчик ждет вашего звонка!`,
		user.Name,
		user.PhoneNumber,
		user.Height,
		user.Weight,
		itemName,
		category,
		subcategory,
		duration,
		price,
	)
}
