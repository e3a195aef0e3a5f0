package bot

// BOT KEYBOARDS

import (
	"prokat-bot/internal/dialog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// categoryTitles maps catalog category codes to display names. Owned by
// the presentation layer; unknown codes fall through unchanged.
var categoryTitles = map[string]string{
	"BIKE":      "Велосипеды",
	"SUP":       "Сапборды",
	"SKI":       "Лыжи",
	"SNOWBOARD": "Сноуборды",
	"SKATE":     "Коньки",
	"SCOOTER":   "Самокаты",
}

func displayTitle(label string) string {
	if title, ok := categoryTitles[label]; ok {
		return title
	}
	return label
}

func buildInlineKeyboard(choices [][]dialog.Choice) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(choices))
	for _, row := range choices {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, choice := range row {
			if choice.URL != "" {
				buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonURL(displayTitle(choice.Label), choice.URL))
				continue
			}
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(displayTitle(choice.Label), choice.Data))
		}
		rows = append(rows, buttons)
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}
