package telegram

import (
	"errors"
	"fmt"
	"strings"

	kit "craftybot/internal/transport"

	tele "gopkg.in/telebot.v4"
)

// classifyEditError maps Bot API edit failures onto the transport contract:
//   - "message is not modified" is success (the live text already matches)
//   - 400 and 404 rejections mean the target is gone or unusable
//   - everything else passes through unchanged
func classifyEditError(err error) error {
	if err == nil {
		return nil
	}
	code, desc := errorDetails(err)
	if strings.Contains(desc, "message is not modified") {
		return nil
	}
	if code == 400 || code == 404 {
		return fmt.Errorf("%w: %w", kit.ErrTargetInvalid, err)
	}
	return err
}

// errorDetails extracts the API status code and a lower-cased description.
// Errors unknown to telebot arrive as plain "telegram: <desc> (<code>)" values,
// so the string form is parsed when the typed error is unavailable.
func errorDetails(err error) (int, string) {
	var te *tele.Error
	if errors.As(err, &te) {
		return te.Code, strings.ToLower(te.Description + " " + te.Message)
	}
	s := strings.ToLower(err.Error())
	switch {
	case strings.HasSuffix(s, "(400)"):
		return 400, s
	case strings.HasSuffix(s, "(404)"):
		return 404, s
	}
	for _, hint := range []string{"message to edit not found", "message can't be edited", "message_id_invalid"} {
		if strings.Contains(s, hint) {
			return 400, s
		}
	}
	return 0, s
}
