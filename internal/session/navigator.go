package session

import (
	"net/url"
	"sync"
)

// SessionIDParam is the query parameter the hosted checkout appends to the
// return URL.
const SessionIDParam = "session_id"

// URLNavigator is a Navigator over a return URL.
type URLNavigator struct {
	mu sync.Mutex
	u  *url.URL
}

// NewURLNavigator parses the return URL.
func NewURLNavigator(rawURL string) (*URLNavigator, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	return &URLNavigator{u: u}, nil
}

// SessionID returns the checkout session id carried by the URL, if any.
func (n *URLNavigator) SessionID() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.u.Query().Get(SessionIDParam)
}

// ClearSessionID removes the session id so a reload does not confirm again.
func (n *URLNavigator) ClearSessionID() {
	n.mu.Lock()
	defer n.mu.Unlock()
	q := n.u.Query()
	q.Del(SessionIDParam)
	n.u.RawQuery = q.Encode()
}

// String returns the current URL.
func (n *URLNavigator) String() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.u.String()
}
