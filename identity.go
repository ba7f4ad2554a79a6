package lavago

import (
	"encoding/base64"
	"strings"
)

// parseBotID extracts the bot's user id from a Discord bot token: the
// token's first dot-separated segment is the user id, base64-encoded.
// Fails fast if the token doesn't split into exactly three segments or the
// first segment doesn't decode.
func parseBotID(token string) (string, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return "", &ConfigError{Reason: "bot token must have exactly three dot-separated segments"}
	}
	decoded, err := base64.RawStdEncoding.DecodeString(parts[0])
	if err != nil {
		decoded, err = base64.StdEncoding.DecodeString(parts[0])
		if err != nil {
			return "", &ConfigError{Reason: "bot token's first segment is not valid base64"}
		}
	}
	return string(decoded), nil
}
