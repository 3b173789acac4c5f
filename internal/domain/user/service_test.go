package user

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/care/emr/internal/platform/apperr"
)

// -- Mock Repository --

type mockRepo struct {
	users  map[int64]*User
	nextID int64
}

func newMockRepo() *mockRepo {
	return &mockRepo{users: make(map[int64]*User)}
}

func (m *mockRepo) Create(_ context.Context, u *User) error {
	for _, existing := range m.users {
		if existing.Username == u.Username {
			return apperr.Conflict("a user with this username already exists")
		}
	}
	m.nextID++
	u.ID = m.nextID
	if u.ExternalID == uuid.Nil {
		u.ExternalID = uuid.New()
	}
	u.CreatedAt = time.Now()
	u.UpdatedAt = u.CreatedAt
	m.users[u.ID] = u
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id int64) (*User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, apperr.NotFound("user")
	}
	return u, nil
}

func (m *mockRepo) GetByExternalID(_ context.Context, id uuid.UUID) (*User, error) {
	for _, u := range m.users {
		if u.ExternalID == id {
			return u, nil
		}
	}
	return nil, apperr.NotFound("user")
}

func (m *mockRepo) GetByUsername(_ context.Context, username string) (*User, error) {
	for _, u := range m.users {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, apperr.NotFound("user")
}

func (m *mockRepo) Update(_ context.Context, u *User) error {
	m.users[u.ID] = u
	return nil
}

func (m *mockRepo) List(_ context.Context, _ string, limit, offset int) ([]*User, int, error) {
	var result []*User
	for _, u := range m.users {
		result = append(result, u)
	}
	total := len(result)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return result[offset:end], total, nil
}

func newTestService() *Service {
	return NewService(newMockRepo())
}

func TestService_CreateUser(t *testing.T) {
	svc := newTestService()
	u := &User{Username: "  Doctor.One "}
	if err := svc.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.Username != "doctor.one" {
		t.Errorf("expected normalized username, got %q", u.Username)
	}
	if !u.IsActive {
		t.Error("expected new user to be active")
	}
	if u.ID == 0 || u.ExternalID == uuid.Nil {
		t.Error("expected ids to be assigned")
	}
}

func TestService_CreateUser_InvalidUsername(t *testing.T) {
	svc := newTestService()
	for _, name := range []string{"", "ab", "has space", "semi;colon"} {
		err := svc.CreateUser(context.Background(), &User{Username: name})
		if !errors.Is(err, apperr.ErrValidation) {
			t.Errorf("username %q: expected validation error, got %v", name, err)
		}
	}
}

func TestService_CreateUser_Duplicate(t *testing.T) {
	svc := newTestService()
	if err := svc.CreateUser(context.Background(), &User{Username: "nurse"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := svc.CreateUser(context.Background(), &User{Username: "nurse"})
	if !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("expected conflict, got %v", err)
	}
}

func TestUser_Principal(t *testing.T) {
	u := &User{ID: 7, ExternalID: uuid.New(), Username: "admin", IsSuperuser: true}
	p := u.Principal()
	if p.ID != 7 || p.ExternalID != u.ExternalID || p.Username != "admin" || !p.IsSuperuser {
		t.Errorf("unexpected principal: %+v", p)
	}
}
