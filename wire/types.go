package wire

type (
	// PeerID defines peer ID.
	PeerID [32]byte

	// TreeCode is the push code under which a watched tree is synchronized.
	TreeCode uint64
)

// Hello is the message exchanged between peers when connecting.
type Hello struct {
	PeerID   PeerID
	IsServer bool
	Trees    []TreeCode
}
