package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/jrsteele09/go-auth-bridge/users"
	"github.com/rs/zerolog/log"
)

// Destination is one of the surfaces a user is routed to after auth.
type Destination string

const (
	DestinationSignIn     Destination = "/auth"
	DestinationOnboarding Destination = "/onboarding"
	DestinationProfile    Destination = "/profile"
)

// Navigator performs the navigation decided by the Router.
type Navigator interface {
	Navigate(ctx context.Context, dest Destination)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(ctx context.Context, dest Destination)

func (f NavigatorFunc) Navigate(ctx context.Context, dest Destination) {
	f(ctx, dest)
}

// ProfileLookup finds the account record of a user. users.Repo satisfies it.
type ProfileLookup interface {
	GetByID(id string) (*users.Profile, error)
}

// Router classifies users as new or returning and navigates accordingly.
type Router struct {
	profiles  ProfileLookup
	navigator Navigator
	window    time.Duration
	nowTime   func() time.Time
}

func NewRouter(profiles ProfileLookup, navigator Navigator, newUserWindow time.Duration, options ...Option) (*Router, error) {
	if profiles == nil {
		return nil, fmt.Errorf("[NewRouter] profiles is required")
	}
	if navigator == nil {
		return nil, fmt.Errorf("[NewRouter] navigator is required")
	}
	s := newSettings(options)
	return &Router{
		profiles:  profiles,
		navigator: navigator,
		window:    newUserWindow,
		nowTime:   s.nowTime,
	}, nil
}

// Classify decides where userID goes. Accounts created less than the new-user
// window ago are new. A failed lookup counts as returning.
func (r *Router) Classify(userID string) Destination {
	if userID == "" {
		return DestinationSignIn
	}
	profile, err := r.profiles.GetByID(userID)
	if err != nil {
		log.Err(err).Str("user_id", userID).Msg("router: profile lookup failed, routing to profile")
		return DestinationProfile
	}
	if profile.IsNew(r.nowTime(), r.window) {
		return DestinationOnboarding
	}
	return DestinationProfile
}

// Navigate hands dest to the navigator.
func (r *Router) Navigate(ctx context.Context, dest Destination) {
	log.Debug().Str("destination", string(dest)).Msg("router: navigating")
	r.navigator.Navigate(ctx, dest)
}

// Route classifies userID and navigates there.
func (r *Router) Route(ctx context.Context, userID string) Destination {
	dest := r.Classify(userID)
	r.Navigate(ctx, dest)
	return dest
}
