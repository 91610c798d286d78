package token

import "marketplace_chat_service/pkg/config"

// Function variables so tests can swap the implementations.
var (
	GenerateJWTFunc = GenerateJWT
	ParseJWTFunc    = ParseJWT
)

// GenerateJWTWrapper issues a token for the chat service issuer.
func GenerateJWTWrapper(actorID, role string) (string, error) {
	return GenerateJWTFunc(actorID, role, config.EnvConfig.ChatService)
}

// ParseJWTWrapper parses a token through the overridable func.
func ParseJWTWrapper(t string) (*Claims, error) {
	return ParseJWTFunc(t)
}
