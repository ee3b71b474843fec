// Package session tracks who is signed in on a connection and keeps their
// profile document current.
package session

import (
	"context"
	"log"
	"sync"

	"whisper-link/internal/database"
	"whisper-link/internal/models"
	"whisper-link/internal/pubsub"
	"whisper-link/internal/utils"

	"github.com/google/uuid"
)

// AuthState is one authentication transition. A zero UserID means signed out.
type AuthState struct {
	UserID uuid.UUID
}

func SignedIn(userID uuid.UUID) AuthState { return AuthState{UserID: userID} }

func SignedOut() AuthState { return AuthState{} }

func (a AuthState) SignedIn() bool { return a.UserID != uuid.Nil }

// State is the session as seen by consumers. Profile is nil while signed out
// or when the profile document does not exist.
type State struct {
	UserID  uuid.UUID    `json:"userId"`
	Profile *models.User `json:"profile"`
}

type Provider struct {
	store database.UserStore
	bus   pubsub.Bus

	mu         sync.Mutex
	current    State
	generation int
	updates    chan State

	release context.CancelFunc
	wg      sync.WaitGroup
}

func NewProvider(store database.UserStore, bus pubsub.Bus) *Provider {
	return &Provider{
		store:   store,
		bus:     bus,
		updates: make(chan State, 1),
	}
}

// Current returns the latest session state.
func (p *Provider) Current() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Updates delivers the newest state after every change; it is closed when Run returns.
func (p *Provider) Updates() <-chan State {
	return p.updates
}

// Run applies auth transitions until states is closed or ctx ends, then
// releases the profile subscription.
func (p *Provider) Run(ctx context.Context, states <-chan AuthState) {
	defer func() {
		p.stopWatching()
		p.wg.Wait()
		close(p.updates)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case auth, ok := <-states:
			if !ok {
				return
			}
			p.apply(ctx, auth)
		}
	}
}

func (p *Provider) apply(ctx context.Context, auth AuthState) {
	p.stopWatching()

	if !auth.SignedIn() {
		p.set(p.bump(), State{})
		return
	}

	gen := p.bump()

	// Subscribe before the first load so no change between the two is missed.
	watchCtx, cancel := context.WithCancel(ctx)
	sub, err := p.bus.Subscribe(watchCtx, pubsub.UserTopic(auth.UserID.String()))
	if err != nil {
		cancel()
		log.Printf("SessionProvider: failed to watch profile %s: %v", auth.UserID, err)
		p.set(gen, State{UserID: auth.UserID, Profile: p.load(ctx, auth.UserID)})
		return
	}
	p.release = cancel
	p.set(gen, State{UserID: auth.UserID, Profile: p.load(ctx, auth.UserID)})

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer sub.Close()
		for {
			select {
			case <-watchCtx.Done():
				return
			case _, ok := <-sub.Events():
				if !ok {
					return
				}
				p.set(gen, State{UserID: auth.UserID, Profile: p.load(watchCtx, auth.UserID)})
			}
		}
	}()
}

func (p *Provider) load(ctx context.Context, userID uuid.UUID) *models.User {
	user, err := p.store.GetUser(ctx, userID)
	if err != nil {
		if !utils.IsNotFound(err) && ctx.Err() == nil {
			log.Printf("SessionProvider: failed to load profile %s: %v", userID, err)
		}
		return nil
	}
	return user
}

func (p *Provider) stopWatching() {
	if p.release != nil {
		p.release()
		p.release = nil
	}
}

func (p *Provider) bump() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.generation++
	return p.generation
}

// set publishes state unless a newer auth transition has happened since gen.
func (p *Provider) set(gen int, state State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if gen != p.generation {
		return
	}
	p.current = state
	select {
	case <-p.updates:
	default:
	}
	p.updates <- state
}
