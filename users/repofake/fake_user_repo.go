package fakeuserrepo

import (
	"sync"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-auth-bridge/internal/errors"
	"github.com/jrsteele09/go-auth-bridge/users"
)

var _ users.Repo = (*FakeUserRepo)(nil)

type FakeUserRepo struct {
	users    map[string]*users.Profile
	emailIds map[string]string // email to user id
	phoneIds map[string]string // phone to user id
	lock     sync.RWMutex
}

func NewFakeUserRepo() *FakeUserRepo {
	return &FakeUserRepo{
		users:    make(map[string]*users.Profile),
		emailIds: make(map[string]string),
		phoneIds: make(map[string]string),
	}
}

func (ur *FakeUserRepo) Upsert(profile *users.Profile) error {
	ur.lock.Lock()
	defer ur.lock.Unlock()

	if profile.ID == "" {
		profile.ID = uuid.New().String()
	}
	stored := *profile
	ur.users[profile.ID] = &stored
	if profile.Email != "" {
		ur.emailIds[profile.Email] = profile.ID
	}
	if profile.Phone != "" {
		ur.phoneIds[profile.Phone] = profile.ID
	}
	return nil
}

func (ur *FakeUserRepo) GetByID(id string) (*users.Profile, error) {
	ur.lock.RLock()
	defer ur.lock.RUnlock()

	p, ok := ur.users[id]
	if !ok {
		return nil, errors.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (ur *FakeUserRepo) GetByEmail(email string) (*users.Profile, error) {
	ur.lock.RLock()
	id, ok := ur.emailIds[email]
	ur.lock.RUnlock()
	if !ok {
		return nil, errors.ErrNotFound
	}
	return ur.GetByID(id)
}

func (ur *FakeUserRepo) GetByPhone(phone string) (*users.Profile, error) {
	ur.lock.RLock()
	id, ok := ur.phoneIds[phone]
	ur.lock.RUnlock()
	if !ok {
		return nil, errors.ErrNotFound
	}
	return ur.GetByID(id)
}
