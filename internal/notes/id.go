package notes

import "github.com/google/uuid"

// LocalIDPrefix distinguishes locally generated identifiers from remote ones.
const LocalIDPrefix = "local_"

type uuidProvider struct{}

// NewUUIDProvider constructs an IDProvider that issues prefixed UUIDv7 identifiers.
func NewUUIDProvider() IDProvider {
	return &uuidProvider{}
}

func (p *uuidProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return LocalIDPrefix + value.String(), nil
}
