package notify

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/use-agent/paywatch/models"
)

// Texts shown to chat users.
const (
	GetDataButton   = "📊 Получить данные"
	ShowShotButton  = "📄 Показать подтверждение"
	HideShotButton  = "◀️ Назад"
	NoDataText      = "⚠️ Нет доступных данных.\nПарсер еще не запускался или все сайты недоступны."
	NoMethodsText   = "⚠️ Методы пополнения не найдены"
	LoadingText     = "⏳ Загружаю данные..."
	ShotMissingText = "❌ Скриншот не найден"
	ShotFailedText  = "❌ Ошибка при загрузке скриншота"
	NotFoundText    = "❌ Данные не найдены"
	FailedText      = "❌ Ошибка"
	GreetingText    = "👋 Привет! Я бот для мониторинга данных о пополнении сайтов.\n\n" +
		"Нажми кнопку ниже, чтобы получить актуальные данные."
)

// Callback data prefixes.
const (
	getDataCallback = "get_data"
	showShotPrefix  = "show_screenshot:"
	hideShotPrefix  = "hide_screenshot:"
)

// moscow is UTC+3 all year round.
var moscow = time.FixedZone("MSK", 3*60*60)

// FormatResult renders one site's result as a Telegram HTML message.
func FormatResult(r models.ParseResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b><a href='%s'>%s</a></b> ", html.EscapeString(r.SiteURL), html.EscapeString(models.Capitalize(r.SiteID)))
	fmt.Fprintf(&b, "(%s МСК)\n", r.ParsedAt.In(moscow).Format("15:04"))

	if len(r.PaymentMethods) == 0 {
		b.WriteString(NoMethodsText + "\n\n")
		return b.String()
	}
	for _, m := range r.PaymentMethods {
		fmt.Fprintf(&b, "%s: от %d₽\n", html.EscapeString(m.Name), m.MinAmount)
	}
	return b.String()
}

func showShotKeyboard(siteID string) InlineKeyboardMarkup {
	return InlineKeyboardMarkup{InlineKeyboard: [][]InlineKeyboardButton{{
		{Text: ShowShotButton, CallbackData: showShotPrefix + siteID},
	}}}
}

func hideShotKeyboard(siteID string) InlineKeyboardMarkup {
	return InlineKeyboardMarkup{InlineKeyboard: [][]InlineKeyboardButton{{
		{Text: HideShotButton, CallbackData: hideShotPrefix + siteID},
	}}}
}

func getDataKeyboard() ReplyKeyboardMarkup {
	return ReplyKeyboardMarkup{
		Keyboard:       [][]KeyboardButton{{{Text: GetDataButton}}},
		IsPersistent:   true,
		ResizeKeyboard: true,
	}
}
