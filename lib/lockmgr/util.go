package lockmgr

import (
	"strconv"

	"github.com/google/uuid"
)

// NewOwnerID creates a new unique owner ID
func NewOwnerID() string {
	return uuid.NewString()
}

// NodeResource returns the lock resource name of a node
func NodeResource(id int64) string {
	return "node:" + strconv.FormatInt(id, 10)
}

// RelationshipResource returns the lock resource name of a relationship
func RelationshipResource(id int64) string {
	return "rel:" + strconv.FormatInt(id, 10)
}
