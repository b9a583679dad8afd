package socialauth

import (
	"errors"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeRecordNotFound = "SOCIAL_RECORD_NOT_FOUND"
	TextCodeLinkExists     = "SOCIAL_LINK_EXISTS"
	TextCodeInvalidRecord  = "SOCIAL_INVALID_RECORD"
	TextCodeLastLink       = "SOCIAL_LAST_LINK"
)

// ErrNotFound is returned by backends when a record does not exist.
var ErrNotFound = goerrors.New("record not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeRecordNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrLinkExists is returned by LinkStore.Create when the (provider, uid)
// pair is already bound.
var ErrLinkExists = goerrors.New("identity link already exists", goerrors.CategoryConflict).
	WithTextCode(TextCodeLinkExists).
	WithCode(goerrors.CodeConflict)

// ErrInvalidRecord is returned when a record fails field validation.
var ErrInvalidRecord = goerrors.New("invalid record", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidRecord).
	WithCode(goerrors.CodeBadRequest)

// ErrLastLink is returned by LinkStore.DeleteUnlessLast when the delete
// would leave the account without links.
var ErrLastLink = goerrors.New("account would be left without links", goerrors.CategoryConflict).
	WithTextCode(TextCodeLastLink).
	WithCode(goerrors.CodeConflict)

// IsNotFound reports whether err means the record does not exist.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrNotFound) || hasTextCode(err, TextCodeRecordNotFound)
}

// IsLinkExists reports whether err is a (provider, uid) uniqueness conflict.
func IsLinkExists(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrLinkExists) || hasTextCode(err, TextCodeLinkExists)
}

func hasTextCode(err error, code string) bool {
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		return rich.TextCode == code
	}
	return false
}

// IsLastLink reports whether err is a refused DeleteUnlessLast.
func IsLastLink(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrLastLink) || hasTextCode(err, TextCodeLastLink)
}
