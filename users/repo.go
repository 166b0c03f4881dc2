package users

type Repo interface {
	Upsert(profile *Profile) error
	GetByID(id string) (*Profile, error)
	GetByEmail(email string) (*Profile, error)
	GetByPhone(phone string) (*Profile, error)
}
