package app

import (
	"gorm.io/gorm"

	chatrepo "github.com/lorebound/lorebound-backend/internal/data/repos/chat"
	"github.com/lorebound/lorebound-backend/internal/pkg/logger"
)

type Repos struct {
	Chats chatrepo.ChatRepo
	Nodes chatrepo.NodeRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		Chats: chatrepo.NewChatRepo(db, log),
		Nodes: chatrepo.NewNodeRepo(db, log),
	}
}
