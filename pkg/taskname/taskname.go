package taskname

const (
	// Collectible tasks
	CollectibleMint = "collectible:mint"
)
