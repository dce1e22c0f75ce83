package chat

import (
	"encoding/json"
	"testing"
	"time"
)

func TestMessageBefore(t *testing.T) {
	t0 := time.UnixMilli(1000)
	t1 := time.UnixMilli(2000)

	tests := []struct {
		name string
		a, b Message
		want bool
	}{
		{"earlier timestamp", Message{ID: "z", CreatedAt: t0}, Message{ID: "a", CreatedAt: t1}, true},
		{"later timestamp", Message{ID: "a", CreatedAt: t1}, Message{ID: "z", CreatedAt: t0}, false},
		{"tie broken by id", Message{ID: "a", CreatedAt: t0}, Message{ID: "b", CreatedAt: t0}, true},
		{"equal", Message{ID: "a", CreatedAt: t0}, Message{ID: "a", CreatedAt: t0}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Before(tt.b); got != tt.want {
				t.Errorf("Before() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestUserPatchApply(t *testing.T) {
	u := User{ID: "u1", Name: "Ada", Email: "old@example.com", AvatarURL: "a.png"}
	email := "new@example.com"

	got := UserPatch{Email: &email}.Apply(u)

	if got.Email != "new@example.com" {
		t.Errorf("Email = %q, want new@example.com", got.Email)
	}
	if got.Name != "Ada" || got.AvatarURL != "a.png" || got.ID != "u1" {
		t.Errorf("untouched fields changed: %+v", got)
	}
	if u.Email != "old@example.com" {
		t.Error("Apply mutated the original user")
	}
}

func TestConversationDecodesBackendShape(t *testing.T) {
	raw := `{
		"_id": "c1",
		"type": "group",
		"name": "Team",
		"participants": [{"_id": "u1", "name": "Ada", "avatar": "a.png", "isOnline": true}],
		"messages": [{"_id": "m1", "senderId": "u1", "text": "hi", "attachments": [], "createdAt": "2024-05-01T10:00:00.000Z"}]
	}`

	var c Conversation
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		t.Fatal(err)
	}
	if c.Kind != Group || c.DisplayName != "Team" {
		t.Errorf("got kind=%q name=%q", c.Kind, c.DisplayName)
	}
	if len(c.Messages) != 1 || c.Messages[0].SenderID != "u1" {
		t.Fatalf("messages = %+v", c.Messages)
	}
	want := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	if !c.Messages[0].CreatedAt.Equal(want) {
		t.Errorf("CreatedAt = %v, want %v", c.Messages[0].CreatedAt, want)
	}
	if !c.Participants[0].IsOnline || c.Participants[0].AvatarURL != "a.png" {
		t.Errorf("participant = %+v", c.Participants[0])
	}
}
