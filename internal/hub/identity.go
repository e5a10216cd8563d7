package hub

import "hash/fnv"

var (
	palette    = []string{"#E57373", "#64B5F6", "#81C784", "#FFB74D", "#BA68C8", "#4DB6AC", "#F06292", "#A1887F"}
	adjectives = []string{"Swift", "Quiet", "Bright", "Clever", "Bold", "Calm", "Keen", "Lucky"}
	animals    = []string{"Otter", "Falcon", "Lynx", "Heron", "Badger", "Koala", "Puffin", "Marten"}
)

// Identity is how a collaborator appears to peers.
type Identity struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Color       string `json:"color"`
}

// IdentityFor derives a stable display name and color from the user id, so
// reconnecting users keep their look.
func IdentityFor(userID string) Identity {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	sum := h.Sum32()
	return Identity{
		UserID:      userID,
		DisplayName: adjectives[sum%uint32(len(adjectives))] + " " + animals[(sum/8)%uint32(len(animals))],
		Color:       palette[(sum/64)%uint32(len(palette))],
	}
}

// ConnectedPayload is the payload of the first event on every stream: who
// the subscriber is and who else is already there.
type ConnectedPayload struct {
	Self  Identity   `json:"self"`
	Peers []Identity `json:"peers"`
}
