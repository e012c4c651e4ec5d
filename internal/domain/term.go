package domain

import "fmt"

// Namespace separates categories from tags; names are unique per namespace.
type Namespace int

const (
	NamespaceCategory Namespace = iota
	NamespaceTag
)

func (n Namespace) String() string {
	if n == NamespaceTag {
		return "tag"
	}
	return "category"
}

// PlaceholderName is the name given to a term only known by its remote id.
func (n Namespace) PlaceholderName(remoteID int64) string {
	if n == NamespaceTag {
		return fmt.Sprintf("Tag%d", remoteID)
	}
	return fmt.Sprintf("Category%d", remoteID)
}

type Term struct {
	ID       int64
	Name     string
	RemoteID int64
}
