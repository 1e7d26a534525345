package coord

import "github.com/google/uuid"

// NewOwnerToken returns a fresh opaque owner token for claim and lease
// operations. A token identifies one logical claimant; the claimer and the
// completer must present the same token even when they are different calls
// across a suspension, so the token must travel with the work, not with the
// goroutine.
func NewOwnerToken() string {
	return uuid.NewString()
}
