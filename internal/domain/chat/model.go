// Package chat defines conversations, messages, polls and reactions.
package chat

import (
	"slices"
	"strings"
	"time"
)

// Conversation is the explicit metadata of a group conversation. Direct
// conversations have no metadata; their id is derived from the participants.
type Conversation struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Icon      string    `json:"icon,omitempty"`
	GateToken string    `json:"gate_token,omitempty"`
	Creator   string    `json:"creator"`
	Members   []string  `json:"members"`
	CreatedAt time.Time `json:"created_at"`
}

// HasMember reports whether address belongs to the group.
func (c Conversation) HasMember(address string) bool {
	return slices.Contains(c.Members, address)
}

// Clone copies the member list.
func (c Conversation) Clone() Conversation {
	c.Members = slices.Clone(c.Members)
	return c
}

// Image references media stored outside the message log.
type Image struct {
	URL string `json:"url,omitempty"`
	Ref string `json:"ref,omitempty"`
}

// Poll is embedded in a poll message.
type Poll struct {
	Question string              `json:"question"`
	Options  []string            `json:"options"`
	Votes    map[string][]string `json:"votes"`
}

// Clone deep-copies options and voter sets.
func (p *Poll) Clone() *Poll {
	if p == nil {
		return nil
	}
	out := &Poll{Question: p.Question, Options: slices.Clone(p.Options)}
	out.Votes = cloneSets(p.Votes)
	return out
}

// Payload carries exactly one primary content: text and/or image, or a poll.
type Payload struct {
	Text    string `json:"text,omitempty"`
	Image   *Image `json:"image,omitempty"`
	Caption string `json:"caption,omitempty"`
	Poll    *Poll  `json:"poll,omitempty"`
}

// HasText reports whether the payload carries non-blank text.
func (p Payload) HasText() bool {
	return strings.TrimSpace(p.Text) != ""
}

// HasImage reports whether the payload carries an image reference.
func (p Payload) HasImage() bool {
	return p.Image != nil && (p.Image.URL != "" || p.Image.Ref != "")
}

// Message is one entry of a conversation log.
type Message struct {
	ID             string              `json:"id"`
	ConversationID string              `json:"conversation_id"`
	Sender         string              `json:"sender"`
	CreatedAt      time.Time           `json:"created_at"`
	Payload        Payload             `json:"payload"`
	Reactions      map[string][]string `json:"reactions"`
}

// Clone deep-copies reactions, poll and image.
func (m Message) Clone() Message {
	m.Reactions = cloneSets(m.Reactions)
	m.Payload.Poll = m.Payload.Poll.Clone()
	if m.Payload.Image != nil {
		img := *m.Payload.Image
		m.Payload.Image = &img
	}
	return m
}

// ReactionCount is the number of distinct reactors for emoji.
func (m Message) ReactionCount(emoji string) int {
	return len(m.Reactions[emoji])
}

// MessageUpdate is a partial update. Messages are only ever mutated to change
// reactions or poll votes.
type MessageUpdate struct {
	Reactions map[string][]string `json:"reactions,omitempty"`
	Poll      *Poll               `json:"poll,omitempty"`
}

// Apply copies the set fields onto m.
func (u MessageUpdate) Apply(m *Message) {
	if u.Reactions != nil {
		m.Reactions = cloneSets(u.Reactions)
	}
	if u.Poll != nil {
		m.Payload.Poll = u.Poll.Clone()
	}
}

func cloneSets(src map[string][]string) map[string][]string {
	if src == nil {
		return nil
	}
	out := make(map[string][]string, len(src))
	for k, v := range src {
		out[k] = slices.Clone(v)
	}
	return out
}
