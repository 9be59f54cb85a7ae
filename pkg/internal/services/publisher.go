package services

import "git.solsynth.dev/hypernet/kolab/pkg/internal/models"

// Publisher is the slice of the channel router the services fan out through.
type Publisher interface {
	Publish(channel string, event models.UnifiedCommand) int
	PublishToUsers(userIds []string, prefix string, event models.UnifiedCommand) int
	Broadcast(channels []string, skipUserId string, event models.UnifiedCommand) int
	CloseChannel(channel string)
}
