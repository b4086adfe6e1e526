package bot

import "fmt"

// messages holds the bot's localized text tables. Lookup falls back to
// Russian, the service's home locale.
var messages = map[string]map[string]string{
	"ru": {
		"welcome":          "Привет! Я ИИ-ассистент. Просто напиши мне вопрос.\n\nБесплатных запросов: %d. Команда /upgrade откроет платные тарифы.",
		"help":             "Напиши сообщение — я отвечу.\n\n/limits — остаток запросов\n/new — новый диалог\n/upgrade — тарифы\n/lang — язык\n/promo КОД — промокод",
		"limits_trial":     "Пробных запросов осталось: %d",
		"limits_plan":      "Тариф: %s (до %s)\nИспользовано за месяц: %d из %d",
		"limits_unlimited": "Тариф: %s (до %s)\nЗапросы без ограничений",
		"quota_exceeded":   "Запросы закончились. Откройте /upgrade, чтобы продолжить.",
		"banned":           "Доступ заблокирован.",
		"provider_error":   "Не получилось сгенерировать ответ, попробуйте ещё раз.",
		"new_dialog":       "Начат новый диалог.",
		"choose_plan":      "Выберите тариф:",
		"choose_pay":       "Как оплатить «%s»?",
		"pay_stars":        "⭐ Telegram Stars",
		"pay_card":         "💳 Картой (ЮKassa)",
		"pay_link":         "Ссылка на оплату: %s",
		"pay_error":        "Не удалось создать платёж, попробуйте позже.",
		"payment_done":     "Оплата получена! Тариф «%s» активирован.",
		"choose_lang":      "Выберите язык:",
		"lang_set":         "Язык переключён на русский.",
		"promo_usage":      "Использование: /promo КОД",
		"promo_ok":         "Промокод принят: скидка %d%% на оплату картой через /upgrade.",
		"promo_invalid":    "Промокод не найден или больше не действует.",
		"give_done":        "Пользователю %d добавлено запросов: %d",
		"stats":            "Пользователей: %d\nАктивных за неделю: %d\nВыручка: %s ₽",
		"unknown":          "Не понимаю. Посмотрите /help.",
	},
	"en": {
		"welcome":          "Hi! I'm an AI assistant. Just send me a question.\n\nFree requests: %d. Use /upgrade to see paid plans.",
		"help":             "Send a message and I'll answer.\n\n/limits — remaining requests\n/new — new dialog\n/upgrade — plans\n/lang — language\n/promo CODE — promo code",
		"limits_trial":     "Trial requests left: %d",
		"limits_plan":      "Plan: %s (until %s)\nUsed this month: %d of %d",
		"limits_unlimited": "Plan: %s (until %s)\nUnlimited requests",
		"quota_exceeded":   "You're out of requests. Open /upgrade to continue.",
		"banned":           "Your access is blocked.",
		"provider_error":   "Could not generate a reply, please try again.",
		"new_dialog":       "Started a new dialog.",
		"choose_plan":      "Choose a plan:",
		"choose_pay":       "How would you like to pay for \"%s\"?",
		"pay_stars":        "⭐ Telegram Stars",
		"pay_card":         "💳 Card (YooKassa)",
		"pay_link":         "Payment link: %s",
		"pay_error":        "Could not create the payment, try again later.",
		"payment_done":     "Payment received! Plan \"%s\" is now active.",
		"choose_lang":      "Choose a language:",
		"lang_set":         "Language switched to English.",
		"promo_usage":      "Usage: /promo CODE",
		"promo_ok":         "Promo accepted: %d%% off card payments via /upgrade.",
		"promo_invalid":    "Promo code not found or no longer valid.",
		"give_done":        "Added %[2]d requests to user %[1]d",
		"stats":            "Users: %d\nActive this week: %d\nRevenue: %s ₽",
		"unknown":          "I don't understand. See /help.",
	},
}

func text(lang, key string, args ...any) string {
	table, ok := messages[lang]
	if !ok {
		table = messages["ru"]
	}
	tmpl, ok := table[key]
	if !ok {
		tmpl = messages["ru"][key]
	}
	if len(args) == 0 {
		return tmpl
	}
	return fmt.Sprintf(tmpl, args...)
}
