package domain

import (
	"github.com/lorebound/lorebound-backend/internal/domain/chat"
)

type (
	Chat     = chat.Chat
	ChatNode = chat.ChatNode
)
