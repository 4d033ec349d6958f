package telegram

import (
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// UI texts in English
const (
	welcomeText = "🌌 Welcome to Universe Talk!\n\n" +
		"Every day at your chosen time I send a short personal forecast based on today's sky " +
		"and your birth chart.\n\n" +
		"Your free trial runs until %s.\n" +
		"Daily message: %s (%s)\n\n" +
		"Tell me about yourself:\n" +
		"/name Anna\n/birth 14.07.1990 18:25\n/place Berlin\n\n" +
		"Change delivery with /time 08:30 and /tz Europe/Berlin."
	welcomeBackText = "👋 Welcome back! Your daily message comes at %s (%s). See /status."
	helpText        = "Commands:\n" +
		"/name <name> — how I address you\n" +
		"/birth DD.MM.YYYY [HH:MM] — birth date and optional time\n" +
		"/place <city> — birth place\n" +
		"/time HH:MM — daily delivery time\n" +
		"/tz Region/City — your timezone\n" +
		"/status — profile and access\n" +
		"/referrals — invite friends, earn bonus days\n" +
		"/subscribe — extend access"

	referralAppliedText = "🎁 You joined through a friend's invite. They just earned bonus days!"
	referralSelfText    = "That is your own invite code."
	referralUnknownText = "This invite code is unknown, but you are registered anyway."

	savedNameText  = "Saved. I'll call you %s."
	savedBirthText = "Birth data saved: %s%s."
	savedPlaceText = "Birth place saved: %s."
	savedTimeText  = "Daily message time set to %s (%s). Next one: %s."
	savedTZText    = "Timezone set to %s. Next message: %s."

	usageNameText  = "Usage: /name Anna"
	usageBirthText = "Usage: /birth 14.07.1990 or /birth 14.07.1990 18:25"
	usagePlaceText = "Usage: /place Berlin"
	usageTimeText  = "Usage: /time 09:00 (24h)"
	usageTZText    = "Usage: /tz Europe/Berlin"
	usageExtend    = "Usage: /extend_30 <chat id>"

	notRegisteredText = "Please send /start first."
	unknownText       = "I don't know that command. Try /help."
	errorText         = "Something went wrong. Please try again later."
	adminOnlyText     = "This command is for administrators."

	extendedText     = "Subscription for %d extended by %d days, now until %s."
	extendedUserText = "✨ Your subscription is active until %s. Thank you!"
)

// tariffs lists the supported extension periods in days.
var tariffs = []int{30, 60, 90, 120, 180}

func subscribeText(chatID int64) string {
	var b strings.Builder
	b.WriteString("Available extensions:\n")
	for _, d := range tariffs {
		fmt.Fprintf(&b, "• %d days\n", d)
	}
	fmt.Fprintf(&b, "\nTo pay, message the administrator with your id %d. "+
		"Access is extended as soon as the payment is confirmed.", chatID)
	return b.String()
}

// mainMenuKeyboard is the persistent reply keyboard with the everyday commands.
func mainMenuKeyboard() tgbotapi.ReplyKeyboardMarkup {
	return tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton("/status"),
			tgbotapi.NewKeyboardButton("/referrals"),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton("/subscribe"),
			tgbotapi.NewKeyboardButton("/help"),
		),
	)
}
