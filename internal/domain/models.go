// Package domain defines the core persistence models of the inbound pipeline.
// These types are used by GORM for database schema mapping and are shared
// across the repository and service layers. Every entity is scoped to one
// workspace (tenant).
package domain

import "time"

// Conversation statuses.
const (
	StatusOpen    = "open"
	StatusClosed  = "closed"
	StatusPending = "pending"
)

// Message sender types.
const (
	SenderContact = "contact"
	SenderAgent   = "agent"
	SenderBot     = "bot"
)

// Message statuses.
const (
	MessageReceived = "received"
	MessageSent     = "sent"
)

// Message directions.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Contact is the identity of an external party, keyed by (workspace_id, phone).
// Phone holds digits only.
type Contact struct {
	ID          string    `json:"id"           gorm:"type:char(36);primaryKey"`
	WorkspaceID string    `json:"workspace_id" gorm:"type:varchar(64);not null;uniqueIndex:ux_contact_workspace_phone,priority:1"`
	Phone       string    `json:"phone"        gorm:"type:varchar(32);not null;uniqueIndex:ux_contact_workspace_phone,priority:2"`
	Name        string    `json:"name"         gorm:"type:varchar(255);not null"`
	AvatarURL   string    `json:"avatar_url,omitempty" gorm:"type:text"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName returns the database table name for Contact.
func (Contact) TableName() string { return "contacts" }

// Conversation is the single logical thread between a contact and a workspace.
//
// Fields:
//   - ConnectionID: channel instance currently bound; re-linked on churn.
//   - QueueID: queue that distributed the conversation, if any.
//   - AssignedUserID / AssignedAt: accepted agent assignment.
//   - LastActivityAt: touched on every persisted message.
type Conversation struct {
	ID             string     `json:"id"                         gorm:"type:char(36);primaryKey"`
	WorkspaceID    string     `json:"workspace_id"               gorm:"type:varchar(64);not null;uniqueIndex:ux_conversation_workspace_contact,priority:1"`
	ContactID      string     `json:"contact_id"                 gorm:"type:char(36);not null;uniqueIndex:ux_conversation_workspace_contact,priority:2"`
	ConnectionID   *string    `json:"connection_id,omitempty"    gorm:"type:char(36);index"`
	QueueID        *string    `json:"queue_id,omitempty"         gorm:"type:char(36)"`
	AssignedUserID *string    `json:"assigned_user_id,omitempty" gorm:"type:char(36);index"`
	AssignedAt     *time.Time `json:"assigned_at,omitempty"`
	Status         string     `json:"status"                     gorm:"type:varchar(16);not null;default:'open';check:status IN ('open','closed','pending')"`
	LastActivityAt time.Time  `json:"last_activity_at"`
	CreatedAt      time.Time  `json:"created_at"                 gorm:"index"`
	UpdatedAt      time.Time  `json:"updated_at"`

	// Contact is the owning contact. A conversation cannot exist without it.
	Contact Contact `json:"-" gorm:"foreignKey:ContactID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
}

// TableName returns the database table name for Conversation.
func (Conversation) TableName() string { return "conversations" }

// Message is an immutable fact keyed by (workspace_id, external_id). ExternalID
// is nullable so locally generated messages without a provider id do not
// collide on the unique index.
type Message struct {
	ID             string    `json:"id"                    gorm:"type:char(36);primaryKey"`
	WorkspaceID    string    `json:"workspace_id"          gorm:"type:varchar(64);not null;uniqueIndex:ux_message_workspace_external,priority:1"`
	ConversationID string    `json:"conversation_id"       gorm:"type:char(36);not null;index:idx_conversation_msgs,priority:1"`
	ExternalID     *string   `json:"external_id,omitempty" gorm:"type:varchar(191);uniqueIndex:ux_message_workspace_external,priority:2"`
	Content        string    `json:"content"               gorm:"type:text;not null;default:''"`
	MessageType    string    `json:"message_type"          gorm:"type:varchar(32);not null;default:'text'"`
	SenderType     string    `json:"sender_type"           gorm:"type:varchar(16);not null;check:sender_type IN ('contact','agent','bot')"`
	Direction      string    `json:"direction"             gorm:"type:varchar(16);not null"`
	Status         string    `json:"status"                gorm:"type:varchar(16);not null"`
	FileURL        string    `json:"file_url,omitempty"    gorm:"type:text"`
	FileName       string    `json:"file_name,omitempty"   gorm:"type:varchar(255)"`
	MimeType       string    `json:"mime_type,omitempty"   gorm:"type:varchar(128)"`
	Metadata       Metadata  `json:"metadata"              gorm:"type:text"`
	CreatedAt      time.Time `json:"created_at"            gorm:"index:idx_conversation_msgs,priority:2"`
	UpdatedAt      time.Time `json:"updated_at"`

	Conversation Conversation `json:"-" gorm:"foreignKey:ConversationID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }

// Connection is a bound channel instance (one phone-number integration).
// InstanceName is the identifier the provider sends as "instance".
type Connection struct {
	ID           string    `json:"id"            gorm:"type:char(36);primaryKey"`
	WorkspaceID  string    `json:"workspace_id"  gorm:"type:varchar(64);not null;index"`
	Name         string    `json:"name"          gorm:"type:varchar(255)"`
	InstanceName string    `json:"instance_name" gorm:"type:varchar(191);not null;uniqueIndex"`
	QueueID      *string   `json:"queue_id,omitempty" gorm:"type:char(36)"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName returns the database table name for Connection.
func (Connection) TableName() string { return "connections" }

// Queue distribution policies.
const (
	PolicySequential = "sequential"
	PolicyRandom     = "random"
	PolicyOrdered    = "ordered"
	PolicyDisabled   = "disabled"
)

// Queue is an ordered pool of agents with a distribution policy.
// LastAssignedIndex is the rotation cursor used by the sequential policy.
type Queue struct {
	ID                string    `json:"id"                  gorm:"type:char(36);primaryKey"`
	WorkspaceID       string    `json:"workspace_id"        gorm:"type:varchar(64);not null;index"`
	Name              string    `json:"name"                gorm:"type:varchar(255)"`
	Policy            string    `json:"policy"              gorm:"type:varchar(32);not null;default:'sequential'"`
	LastAssignedIndex int       `json:"last_assigned_index" gorm:"not null;default:0"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// TableName returns the database table name for Queue.
func (Queue) TableName() string { return "queues" }

// QueueUser is a queue membership ordered by OrderPosition.
type QueueUser struct {
	ID            string    `json:"id"             gorm:"type:char(36);primaryKey"`
	QueueID       string    `json:"queue_id"       gorm:"type:char(36);not null;uniqueIndex:ux_queue_user,priority:1;index:idx_queue_order,priority:1"`
	UserID        string    `json:"user_id"        gorm:"type:char(36);not null;uniqueIndex:ux_queue_user,priority:2"`
	OrderPosition int       `json:"order_position" gorm:"not null;default:0;index:idx_queue_order,priority:2"`
	CreatedAt     time.Time `json:"created_at"`

	Queue Queue `json:"-" gorm:"foreignKey:QueueID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	User  User  `json:"-" gorm:"foreignKey:UserID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for QueueUser.
func (QueueUser) TableName() string { return "queue_users" }

// User is a human agent. Only active agents take part in distribution.
type User struct {
	ID          string    `json:"id"           gorm:"type:char(36);primaryKey"`
	WorkspaceID string    `json:"workspace_id" gorm:"type:varchar(64);not null;index"`
	Name        string    `json:"name"         gorm:"type:varchar(255)"`
	Active      bool      `json:"active"       gorm:"not null;default:true"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// Assignment actions.
const (
	ActionAssign = "assign"
)

// Assignment is an append-only audit row of a conversation assignment change.
// A nil ActorID means the system (queue distribution) acted.
type Assignment struct {
	ID             string    `json:"id"                     gorm:"type:char(36);primaryKey"`
	WorkspaceID    string    `json:"workspace_id"           gorm:"type:varchar(64);not null"`
	ConversationID string    `json:"conversation_id"        gorm:"type:char(36);not null;index"`
	FromUserID     *string   `json:"from_user_id,omitempty" gorm:"type:char(36)"`
	ToUserID       *string   `json:"to_user_id,omitempty"   gorm:"type:char(36)"`
	ActorID        *string   `json:"actor_id,omitempty"     gorm:"type:char(36)"`
	Action         string    `json:"action"                 gorm:"type:varchar(32);not null"`
	CreatedAt      time.Time `json:"created_at"`
}

// TableName returns the database table name for Assignment.
func (Assignment) TableName() string { return "conversation_assignments" }

// WorkspaceWebhook is the per-workspace forwarding target for normalized events.
type WorkspaceWebhook struct {
	WorkspaceID string    `json:"workspace_id" gorm:"type:varchar(64);primaryKey"`
	URL         string    `json:"url"          gorm:"type:text;not null"`
	Secret      string    `json:"-"            gorm:"type:text"`
	Active      bool      `json:"active"       gorm:"not null;default:true"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName returns the database table name for WorkspaceWebhook.
func (WorkspaceWebhook) TableName() string { return "workspace_webhooks" }
