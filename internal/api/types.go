package api

import "time"

// MessageType distinguishes locally-sent mail from received mail.
type MessageType string

const (
	MessageTypeSent     MessageType = "sent"
	MessageTypeReceived MessageType = "received"
)

// Message is one email message as returned by the backend. Messages are
// immutable once fetched; realtime events never patch fields, they only
// signal that the view holding this message should refetch.
type Message struct {
	ID             string      `json:"id"`
	ThreadID       string      `json:"threadId,omitempty"`
	Type           MessageType `json:"type"`
	From           string      `json:"from"`
	To             string      `json:"to"`
	CC             []string    `json:"cc,omitempty"`
	Subject        string      `json:"subject"`
	Snippet        string      `json:"snippet"`
	Date           time.Time   `json:"date"`
	SentAt         time.Time   `json:"sentAt"`
	IsRead         bool        `json:"isRead"`
	HasAttachments bool        `json:"hasAttachments"`
}

// Provider is a linked mail account. Kind is the provider family
// (gmail, outlook, smtp); ID is the mailbox identity used to scope
// subscriptions, polling and cache keys.
type Provider struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	Email       string `json:"email"`
	Name        string `json:"name,omitempty"`
	IsConnected bool   `json:"isConnected"`
	IsExpired   bool   `json:"isExpired"`
}

// MessagePage is one page of a provider's message list.
type MessagePage struct {
	Messages      []Message `json:"messages"`
	NextPageToken string    `json:"nextPageToken,omitempty"`
	TotalCount    int       `json:"totalCount"`
}

// MessageQueryOptions narrows a provider message fetch.
type MessageQueryOptions struct {
	MaxResults int64
	PageToken  string
	Query      string
	UnreadOnly bool
}

// Stats is the unified counters view across all providers.
type Stats struct {
	Total  int `json:"total"`
	Unread int `json:"unread"`
	Sent   int `json:"sent"`
}

// OAuthClientConfig is returned by the backend when it hands the client the
// raw authorization parameters instead of a prebuilt URL.
type OAuthClientConfig struct {
	ClientID     string   `json:"clientId"`
	AuthEndpoint string   `json:"authEndpoint"`
	Scopes       []string `json:"scopes"`
}

// AuthURL is the backend's answer to an authorization-URL request. Either
// URL is set, or ClientConfig is set and the caller builds the URL locally.
type AuthURL struct {
	URL          string             `json:"url,omitempty"`
	State        string             `json:"state,omitempty"`
	ClientConfig *OAuthClientConfig `json:"clientConfig,omitempty"`
}

// Handshake states reported by the backend while an OAuth handshake is in
// flight.
const (
	HandshakePending   = "pending"
	HandshakeConnected = "connected"
	HandshakeAborted   = "aborted"
	HandshakeFailed    = "failed"
)

// HandshakeStatus is the backend's view of one OAuth handshake, keyed by the
// per-session state token.
type HandshakeStatus struct {
	State   string `json:"state"`
	Email   string `json:"email,omitempty"`
	Message string `json:"message,omitempty"`
}
