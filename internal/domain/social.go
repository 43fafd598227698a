package domain

import "time"

// Roles allowed to publish content.
const (
	RoleAdmin         = "admin"
	RoleAlumniOffice  = "alumni_office"
	NewsStatusPublish = "published"
)

// Principal is the authenticated caller. It is resolved once by the auth
// middleware and passed explicitly into every service call.
type Principal struct {
	UID  string
	Role string
}

// HasRole reports whether the principal holds any of the given roles.
func (p Principal) HasRole(roles ...string) bool {
	for _, role := range roles {
		if p.Role == role {
			return true
		}
	}
	return false
}

// Message maps to the `messages` table.
type Message struct {
	ID             int64     `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	RecipientID    string    `json:"recipient_id"`
	MessageText    string    `json:"message_text"`
	CreatedAt      time.Time `json:"created_at"`
}

// SendMessageRequest is the DTO for POST /chat. RecipientID is untyped so the
// handler can reject non-string values the way clients expect.
type SendMessageRequest struct {
	RecipientID interface{} `json:"recipientId"`
	Message     interface{} `json:"message"`
}

// News maps to the `news` table.
type News struct {
	ID             int64     `json:"id"`
	Title          string    `json:"title"`
	Content        string    `json:"content"`
	AuthorID       string    `json:"author_id"`
	TargetAudience string    `json:"target_audience"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
}

// CreateNewsRequest is the DTO for POST /content/news.
type CreateNewsRequest struct {
	Title          string `json:"title"`
	Content        string `json:"content"`
	TargetAudience string `json:"target_audience"`
}

// Event maps to the `events` table.
type Event struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Location    string    `json:"location"`
	EventDate   time.Time `json:"event_date"`
	CreatedAt   time.Time `json:"created_at"`
}

// Notification is an in-app inbox item derived from a published domain event.
type Notification struct {
	ID        int64                  `json:"id"`
	UserUID   string                 `json:"user_uid"`
	Type      string                 `json:"type"`
	Title     string                 `json:"title"`
	Body      string                 `json:"body"`
	Data      map[string]interface{} `json:"data,omitempty"`
	DedupeKey string                 `json:"-"`
	ReadAt    *time.Time             `json:"read_at,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// NotificationListOptions controls inbox pagination.
type NotificationListOptions struct {
	Limit  int
	Offset int
}
