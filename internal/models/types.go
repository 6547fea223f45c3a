package models

import (
	"time"
)

// Channel identifies the delivery surface a conversation runs on.
type Channel string

const (
	ChannelWeb      Channel = "web"
	ChannelTelegram Channel = "telegram"
	ChannelAPI      Channel = "api"
)

// Valid reports whether the channel is one of the known surfaces.
func (c Channel) Valid() bool {
	switch c {
	case ChannelWeb, ChannelTelegram, ChannelAPI:
		return true
	}
	return false
}

// CounterpartKind distinguishes platform clients from off-platform contacts.
type CounterpartKind string

const (
	CounterpartClient  CounterpartKind = "client"
	CounterpartContact CounterpartKind = "contact"
)

// Counterpart is the party the vendor is talking with in a thread.
// A nil counterpart means the vendor's general assistant thread.
type Counterpart struct {
	Kind        CounterpartKind
	ID          string
	DisplayName string
}

// Thread is a persistent conversation scope between a vendor and an
// optional counterpart. Threads are deactivated, never deleted.
type Thread struct {
	ID              string
	OwnerID         string
	CounterpartKind CounterpartKind // empty for the general thread
	CounterpartID   string          // empty for the general thread
	Channel         Channel
	Title           string
	Active          bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Role is the author side of a persisted message.
type Role string

const (
	RoleRequester Role = "requester"
	RoleAssistant Role = "assistant"
)

// ToolInvocation records one tool call made while producing an assistant
// message, including the result fed back to the model.
type ToolInvocation struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
	Result    string `json:"result,omitempty"`
}

// Message is an immutable turn fragment, append-only within its thread.
type Message struct {
	ID        int64
	ThreadID  string
	Role      Role
	Content   string
	ToolCalls []ToolInvocation
	CreatedAt time.Time
}

// ChatMessage is the LLM-facing view of a message. Role uses the wire
// vocabulary ("user"/"assistant"), not the storage one.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Tier is a capability/cost level of the underlying LLM.
type Tier string

const (
	TierNano Tier = "nano"
	TierMini Tier = "mini"
	TierFull Tier = "full"
)

// StepDown returns the next tier below t. The bottom tier steps to itself.
func (t Tier) StepDown() Tier {
	switch t {
	case TierFull:
		return TierMini
	case TierMini:
		return TierNano
	}
	return TierNano
}

// Subject is the entity usage is counted against: an authenticated vendor
// account or an anonymous guest identifier.
type Subject struct {
	ID       string
	Guest    bool
	Timezone string // IANA zone name; empty for guests
	Language string // BCP 47 tag for user-facing texts
}

// QuotaKey returns the counter namespace key for the subject. Guests get
// a distinct prefix so they can never collide with vendor accounts.
func (s Subject) QuotaKey() string {
	if s.Guest {
		return "guest:" + s.ID
	}
	return "vendor:" + s.ID
}
