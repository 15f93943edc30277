package rediskey

import "fmt"

// Linkdrop keys (global convention across services)
const (
	LinkdropPrefix = "linkdrop"
	SequencePrefix = "seq"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildSequenceKey returns "linkdrop:seq:{name}"
func BuildSequenceKey(name string) string {
	return NamespaceKey(LinkdropPrefix, NamespaceKey(SequencePrefix, name))
}
