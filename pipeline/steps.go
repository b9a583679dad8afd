package pipeline

import (
	"context"
	"fmt"

	socialauth "github.com/goliatone/go-socialauth"
)

const (
	StepSocialUser    = "social_user"
	StepCreateUser    = "create_user"
	StepAssociateUser = "associate_user"
)

// DefaultSteps is the standard login-or-register flow: resolve the account
// owning the identity, create one when there is none, then link and store
// the provider's extra data.
func DefaultSteps(linker *socialauth.Linker) []Step {
	return []Step{
		SocialUser(linker),
		CreateUser(linker),
		AssociateUser(linker),
	}
}

// SocialUser loads the link for the handshake identity. When one exists and
// no account is preset its owner becomes the context account; an identity
// owned by someone other than the preset account is AuthAlreadyAssociated.
func SocialUser(linker *socialauth.Linker) Step {
	return StepFunc(StepSocialUser, func(ctx context.Context, hc *Context) error {
		link, err := linker.FindLink(ctx, hc.Backend, hc.UID)
		if err != nil {
			return err
		}
		if link == nil {
			return nil
		}

		if hc.Account != nil {
			if hc.Account.GetID() != link.AccountID {
				return socialauth.AuthAlreadyAssociated(hc.Backend)
			}
			hc.Link = link
			return nil
		}

		account, err := linker.GetAccount(ctx, link.AccountID)
		if err != nil {
			return err
		}
		if account == nil {
			return socialauth.AuthUnknownError(hc.Backend, fmt.Errorf("account %s of link %s not found", link.AccountID, link.ID))
		}
		hc.Account = account
		hc.Link = link
		return nil
	})
}

// CreateUser creates a local account from the provider profile when no
// account was resolved.
func CreateUser(linker *socialauth.Linker) Step {
	return StepFunc(StepCreateUser, func(ctx context.Context, hc *Context) error {
		if hc.Account != nil {
			return nil
		}
		account, err := linker.CreateAccount(ctx, hc.Profile)
		if err != nil {
			return err
		}
		hc.Account = account
		hc.NewAccount = true
		return nil
	})
}

// AssociateUser links the identity to the context account and replaces its
// extra data.
func AssociateUser(linker *socialauth.Linker) Step {
	return StepFunc(StepAssociateUser, func(ctx context.Context, hc *Context) error {
		if hc.Account == nil {
			return socialauth.AuthUnknownError(hc.Backend, fmt.Errorf("no account to associate"))
		}
		link, created, err := linker.Associate(ctx, hc.Account, hc.Backend, hc.UID, hc.ExtraData)
		if err != nil {
			return err
		}
		hc.Link = link
		hc.NewLink = created
		return nil
	})
}
